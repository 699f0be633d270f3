// Package compressor applies lz4 framing to transfer bodies.
package compressor

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"
)

var skipExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".zip": true, ".rar": true, ".7z": true, ".gz": true, ".lz4": true,
	".mp3": true, ".flac": true, ".aac": true,
	".apk": true, ".iso": true,
}

// ShouldSkipCompression reports whether the file is already compressed.
func ShouldSkipCompression(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return skipExtensions[ext]
}

// CompressReader returns a reader yielding the lz4 frame of everything read
// from src. The compressing goroutine stops when the result is closed.
func CompressReader(src io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		writer := lz4.NewWriter(pw)
		if _, err := io.Copy(writer, src); err != nil {
			pw.CloseWithError(fmt.Errorf("compression failed: %w", err))
			return
		}
		pw.CloseWithError(writer.Close())
	}()
	return pr
}

// DecompressWriter returns a writer that decodes an lz4 frame into dst.
// Close waits for the decoder and returns its error.
func DecompressWriter(dst io.Writer) io.WriteCloser {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(dst, lz4.NewReader(pr))
		if err != nil {
			err = fmt.Errorf("decompression failed: %w", err)
		}
		pr.CloseWithError(err)
		done <- err
	}()
	return &decompressWriter{pw: pw, done: done}
}

type decompressWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *decompressWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *decompressWriter) Close() error {
	w.pw.Close()
	return <-w.done
}
