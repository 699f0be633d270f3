package stream

import (
	"io"

	"github.com/jaywantadh/xferstream/internal/loop"
)

// DefaultChunkSize is the read size FromReader uses when none is given.
const DefaultChunkSize = 32 * 1024

// FromReader returns a stream fed from rd by a background goroutine. The pump
// stops reading while the stream is at its high-water mark, ends the stream on
// io.EOF and destroys it with any other read error. Destroying the stream
// stops the pump after its current read; rd is closed if it is an io.Closer.
func FromReader(sched loop.Scheduler, rd io.Reader, chunkSize, highWaterMark int) *Readable {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	r := New(sched, highWaterMark)
	go r.pump(rd, chunkSize)
	return r
}

func (r *Readable) pump(rd io.Reader, chunkSize int) {
	if c, ok := rd.(io.Closer); ok {
		defer c.Close()
	}
	buf := make([]byte, chunkSize)
	for r.waitRoom() {
		n, err := rd.Read(buf)
		if n > 0 {
			r.Push(buf[:n])
		}
		if err == io.EOF {
			r.End()
			return
		}
		if err != nil {
			r.Destroy(err)
			return
		}
	}
}
