// Package stream implements a backpressure-aware byte stream that bridges
// ordinary goroutine producers and consumers with the cooperative loop.
//
// A Readable is written by a producer (Push, End) and read either without
// blocking (TryRead, used from loop callbacks) or with blocking io.Reader
// semantics (Read, used by consumer goroutines). All state is guarded by a
// mutex; events are never delivered inline but posted to the loop, so
// listeners always run on the loop goroutine.
package stream

import (
	"errors"
	"io"
	"sync"

	"github.com/jaywantadh/xferstream/internal/loop"
)

// DefaultHighWaterMark is the buffering threshold used when none is given.
const DefaultHighWaterMark = 16 * 1024

var ErrDestroyed = errors.New("stream destroyed")

type Event uint8

const (
	// EventReadable fires when data was pushed or the producer ended.
	EventReadable Event = iota + 1
	// EventDrain fires when a reader wants more data than is buffered.
	EventDrain
	// EventEnd fires once a reader has observed the end of data.
	EventEnd
	// EventError fires with the error a stream was destroyed or failed with.
	EventError
	// EventClose fires once the stream is destroyed, carrying the destroy error if any.
	EventClose
)

func (e Event) String() string {
	switch e {
	case EventReadable:
		return "readable"
	case EventDrain:
		return "drain"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Listener receives the error associated with an event, nil for most events.
type Listener func(err error)

type listener struct {
	id int
	fn Listener
}

type Readable struct {
	sched loop.Scheduler
	hwm   int

	mu         sync.Mutex
	cond       *sync.Cond
	chunks     [][]byte
	buffered   int
	consumed   int64
	ended      bool
	endEmitted bool
	destroyed  bool
	wantMore   bool
	err        error

	nextID    int
	listeners map[Event][]listener
}

// New returns an empty stream whose events are posted to sched. A
// highWaterMark of zero or less selects DefaultHighWaterMark.
func New(sched loop.Scheduler, highWaterMark int) *Readable {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	r := &Readable{
		sched:     sched,
		hwm:       highWaterMark,
		listeners: make(map[Event][]listener),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// NewEnded returns a stream that carries no data and is already ended.
func NewEnded(sched loop.Scheduler) *Readable {
	r := New(sched, 0)
	r.End()
	return r
}

func (r *Readable) HighWaterMark() int {
	return r.hwm
}

// Push appends a copy of p. It reports whether the producer may keep pushing,
// which is false once the buffer reached the high-water mark or the stream no
// longer accepts data.
func (r *Readable) Push(p []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed || r.ended {
		return false
	}
	if len(p) > 0 {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		r.chunks = append(r.chunks, chunk)
		r.buffered += len(chunk)
		r.wantMore = false
		r.cond.Broadcast()
		r.emitLocked(EventReadable, nil)
	}
	return r.buffered < r.hwm
}

// End marks the end of data. Buffered bytes remain readable.
func (r *Readable) End() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ended || r.destroyed {
		return
	}
	r.ended = true
	r.cond.Broadcast()
	r.emitLocked(EventReadable, nil)
}

// Destroy tears the stream down, dropping buffered data. A nil err destroys
// the stream without an error event.
func (r *Readable) Destroy(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyLocked(err)
}

func (r *Readable) destroyLocked(err error) {
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.err = err
	r.chunks = nil
	r.buffered = 0
	r.cond.Broadcast()
	if err != nil {
		r.emitLocked(EventError, err)
	}
	r.emitLocked(EventClose, err)
}

// Fail reports err to the stream's readers. A live stream is destroyed with
// err; a stream destroyed without an error gets err attached and an error
// event. Streams that already carry an error or ended cleanly are left as is.
func (r *Readable) Fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.destroyed {
		r.destroyLocked(err)
		return
	}
	if r.err != nil || r.endEmitted {
		return
	}
	r.err = err
	r.cond.Broadcast()
	r.emitLocked(EventError, err)
}

// Close destroys the stream without an error.
func (r *Readable) Close() error {
	r.Destroy(nil)
	return nil
}

// TryRead returns up to n buffered bytes without blocking. It returns nil when
// nothing is buffered; Ended then tells a drained stream from a starved one.
func (r *Readable) TryRead(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed || n <= 0 {
		return nil
	}
	if r.buffered == 0 {
		if r.ended {
			r.finishLocked()
		} else {
			r.requestLocked()
		}
		return nil
	}
	out := make([]byte, 0, min(n, r.buffered))
	for len(out) < n && len(r.chunks) > 0 {
		head := r.chunks[0]
		take := min(n-len(out), len(head))
		out = append(out, head[:take]...)
		if take == len(head) {
			r.chunks = r.chunks[1:]
		} else {
			r.chunks[0] = head[take:]
		}
	}
	r.consumedLocked(len(out))
	return out
}

// Read implements io.Reader, blocking until data, end of data or destruction.
func (r *Readable) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.buffered > 0 {
			n := 0
			for n < len(p) && len(r.chunks) > 0 {
				c := copy(p[n:], r.chunks[0])
				n += c
				if c == len(r.chunks[0]) {
					r.chunks = r.chunks[1:]
				} else {
					r.chunks[0] = r.chunks[0][c:]
				}
			}
			r.consumedLocked(n)
			return n, nil
		}
		if r.endEmitted {
			return 0, io.EOF
		}
		if r.destroyed {
			if r.err != nil {
				return 0, r.err
			}
			return 0, ErrDestroyed
		}
		if r.ended {
			r.finishLocked()
			return 0, io.EOF
		}
		if len(p) == 0 {
			return 0, nil
		}
		r.requestLocked()
		r.cond.Wait()
	}
}

func (r *Readable) consumedLocked(n int) {
	r.buffered -= n
	r.consumed += int64(n)
	r.cond.Broadcast()
	if r.buffered < r.hwm {
		r.requestLocked()
	}
}

func (r *Readable) requestLocked() {
	if r.wantMore || r.ended || r.destroyed {
		return
	}
	r.wantMore = true
	r.emitLocked(EventDrain, nil)
}

// finishLocked emits end once a reader saw the end of data and then closes
// the stream, the way a drained stream destroys itself.
func (r *Readable) finishLocked() {
	if r.endEmitted {
		return
	}
	r.endEmitted = true
	r.emitLocked(EventEnd, nil)
	r.destroyed = true
	r.cond.Broadcast()
	r.emitLocked(EventClose, nil)
}

// waitRoom blocks a producer until the buffer is below the high-water mark.
// It returns false once the stream stopped accepting data.
func (r *Readable) waitRoom() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.buffered >= r.hwm && !r.destroyed && !r.ended {
		r.cond.Wait()
	}
	return !r.destroyed && !r.ended
}

// Ended reports whether the producer signalled the end of data.
func (r *Readable) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// EndEmitted reports whether a reader observed the end of data.
func (r *Readable) EndEmitted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endEmitted
}

func (r *Readable) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// Err returns the error the stream was destroyed or failed with.
func (r *Readable) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Readable) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffered
}

// BytesRead is the number of bytes handed to readers so far.
func (r *Readable) BytesRead() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumed
}
