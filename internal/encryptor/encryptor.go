// Package encryptor seals transfer bodies with ChaCha20-Poly1305 under a
// password-derived key.
//
// A sealed stream is a header (salt, base nonce) followed by frames of
// one flag byte, a big-endian uint32 ciphertext length and the ciphertext.
// Every frame is sealed separately; the flag marks the final frame and is
// authenticated, so truncation and reordering are detected.
package encryptor

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = chacha20poly1305.NonceSize
	keySize   = chacha20poly1305.KeySize
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1

	// ChunkSize is the plaintext size of every frame but the last.
	ChunkSize = 64 * 1024

	frameHeaderSize = 5
	flagMore        = 0
	flagFinal       = 1
)

var (
	ErrNoPassword = errors.New("encryptor: empty password")
	ErrTruncated  = errors.New("encryptor: stream ended before the final frame")
	ErrTrailing   = errors.New("encryptor: data after the final frame")
	ErrCorrupt    = errors.New("encryptor: malformed frame")
)

// deriveKey derives a key from the given password and salt using scrypt.
func deriveKey(password string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
}

// frameNonce is the base nonce with the frame counter folded into its tail.
func frameNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, nonceSize)
	copy(nonce, base)
	tail := nonce[nonceSize-8:]
	binary.BigEndian.PutUint64(tail, binary.BigEndian.Uint64(tail)^counter)
	return nonce
}

// Encrypt writes the sealed form of everything read from src to dst.
func Encrypt(dst io.Writer, src io.Reader, password string) error {
	if password == "" {
		return ErrNoPassword
	}
	header := make([]byte, saltSize+nonceSize)
	if _, err := rand.Read(header); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	salt, base := header[:saltSize], header[saltSize:]

	key, err := deriveKey(password, salt)
	if err != nil {
		return fmt.Errorf("key derivation failed: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("failed to create AEAD cipher: %w", err)
	}
	if _, err := dst.Write(header); err != nil {
		return err
	}

	buf := make([]byte, ChunkSize)
	next := make([]byte, ChunkSize)
	out := make([]byte, frameHeaderSize, frameHeaderSize+ChunkSize+aead.Overhead())
	var counter uint64

	seal := func(p []byte, flag byte) error {
		out = out[:frameHeaderSize]
		out[0] = flag
		out = aead.Seal(out, frameNonce(base, counter), p, []byte{flag})
		binary.BigEndian.PutUint32(out[1:frameHeaderSize], uint32(len(out)-frameHeaderSize))
		counter++
		_, err := dst.Write(out)
		return err
	}

	n, rerr := io.ReadFull(src, buf)
	for {
		switch {
		case rerr == io.EOF || rerr == io.ErrUnexpectedEOF:
			return seal(buf[:n], flagFinal)
		case rerr != nil:
			return fmt.Errorf("failed to read plaintext: %w", rerr)
		}
		// A full chunk is final only if nothing follows it.
		m, nerr := io.ReadFull(src, next)
		if nerr == io.EOF {
			return seal(buf[:n], flagFinal)
		}
		if err := seal(buf[:n], flagMore); err != nil {
			return err
		}
		buf, next = next, buf
		n, rerr = m, nerr
	}
}

// Decrypt writes the plaintext of the sealed stream read from src to dst.
func Decrypt(dst io.Writer, src io.Reader, password string) error {
	if password == "" {
		return ErrNoPassword
	}
	header := make([]byte, saltSize+nonceSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return fmt.Errorf("%w: missing header", ErrTruncated)
	}
	salt, base := header[:saltSize], header[saltSize:]

	key, err := deriveKey(password, salt)
	if err != nil {
		return fmt.Errorf("key derivation failed: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("failed to create AEAD cipher: %w", err)
	}

	frame := make([]byte, frameHeaderSize)
	buf := make([]byte, 0, ChunkSize+aead.Overhead())
	var counter uint64
	for {
		if _, err := io.ReadFull(src, frame); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return ErrTruncated
			}
			return err
		}
		flag, size := frame[0], int(binary.BigEndian.Uint32(frame[1:]))
		if flag > flagFinal || size < aead.Overhead() || size > cap(buf) {
			return ErrCorrupt
		}
		buf = buf[:size]
		if _, err := io.ReadFull(src, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return ErrTruncated
			}
			return err
		}
		plain, err := aead.Open(buf[:0], frameNonce(base, counter), buf, frame[:1])
		if err != nil {
			return fmt.Errorf("decryption failed: %w", err)
		}
		counter++
		if _, err := dst.Write(plain); err != nil {
			return err
		}
		if flag == flagFinal {
			var extra [1]byte
			if n, _ := src.Read(extra[:]); n > 0 {
				return ErrTrailing
			}
			return nil
		}
	}
}

// EncryptReader returns a reader yielding the sealed form of src. The
// encrypting goroutine stops when the result is closed.
func EncryptReader(src io.Reader, password string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(Encrypt(pw, src, password))
	}()
	return pr
}

// DecryptWriter returns a writer that opens a sealed stream into dst.
// Close waits for the decrypter and returns its error.
func DecryptWriter(dst io.Writer, password string) io.WriteCloser {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := Decrypt(dst, pr, password)
		pr.CloseWithError(err)
		done <- err
	}()
	return &decryptWriter{pw: pw, done: done}
}

type decryptWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *decryptWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *decryptWriter) Close() error {
	w.pw.Close()
	return <-w.done
}
