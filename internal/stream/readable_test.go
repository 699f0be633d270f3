package stream

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/xferstream/internal/loop"
)

type recorder struct {
	events []Event
	errs   []error
}

func (rec *recorder) watch(r *Readable, evs ...Event) {
	for _, ev := range evs {
		ev := ev
		r.On(ev, func(err error) {
			rec.events = append(rec.events, ev)
			rec.errs = append(rec.errs, err)
		})
	}
}

func TestPushAndTryRead(t *testing.T) {
	l := loop.New()
	r := New(l, 8)

	assert.True(t, r.Push([]byte("abc")))
	assert.False(t, r.Push([]byte("defgh")), "buffer reached the high-water mark")

	assert.Equal(t, []byte("abcd"), r.TryRead(4))
	assert.Equal(t, []byte("efgh"), r.TryRead(100))
	assert.Nil(t, r.TryRead(4))
	assert.False(t, r.Ended())
	assert.Equal(t, int64(8), r.BytesRead())
}

func TestTryReadSpansChunkBoundaries(t *testing.T) {
	l := loop.New()
	r := New(l, 0)
	for i := 0; i < 3; i++ {
		r.Push(bytes.Repeat([]byte{byte('a' + i)}, 1024))
	}
	r.End()

	var got []byte
	reads := 0
	for {
		p := r.TryRead(700)
		if p == nil {
			break
		}
		reads++
		got = append(got, p...)
	}
	assert.Equal(t, 5, reads)
	assert.Len(t, got, 3072)
	assert.Equal(t, byte('a'), got[0])
	assert.Equal(t, byte('c'), got[3071])
	assert.True(t, r.Ended())
}

func TestEndEmittedOnceDrained(t *testing.T) {
	l := loop.New()
	r := New(l, 0)
	rec := &recorder{}
	rec.watch(r, EventEnd, EventClose)

	r.Push([]byte("x"))
	r.End()
	l.RunUntilIdle(0)
	assert.Empty(t, rec.events, "end waits for the reader")

	assert.Equal(t, []byte("x"), r.TryRead(10))
	assert.Nil(t, r.TryRead(10))
	l.RunUntilIdle(0)

	assert.Equal(t, []Event{EventEnd, EventClose}, rec.events)
	assert.True(t, r.EndEmitted())

	r.Destroy(errors.New("late"))
	l.RunUntilIdle(0)
	assert.Len(t, rec.events, 2, "destroy after end is a no-op")
}

func TestDestroyEmitsErrorThenClose(t *testing.T) {
	l := loop.New()
	r := New(l, 0)
	rec := &recorder{}
	rec.watch(r, EventError, EventClose)

	boom := errors.New("boom")
	r.Destroy(boom)
	r.Destroy(errors.New("second"))
	l.RunUntilIdle(0)

	assert.Equal(t, []Event{EventError, EventClose}, rec.events)
	assert.Equal(t, []error{boom, boom}, rec.errs)

	_, err := r.Read(make([]byte, 1))
	assert.Equal(t, boom, err)
}

func TestFailAfterPlainDestroy(t *testing.T) {
	l := loop.New()
	r := New(l, 0)
	rec := &recorder{}
	rec.watch(r, EventError)

	r.Destroy(nil)
	_, err := r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrDestroyed)

	cause := errors.New("aborted")
	r.Fail(cause)
	r.Fail(errors.New("ignored"))
	l.RunUntilIdle(0)

	assert.Equal(t, []error{cause}, rec.errs)
	_, err = r.Read(make([]byte, 1))
	assert.Equal(t, cause, err)
}

func TestDrainSignalledOncePerStarvation(t *testing.T) {
	l := loop.New()
	r := New(l, 4)
	drains := 0
	r.On(EventDrain, func(error) { drains++ })

	assert.Nil(t, r.TryRead(1))
	assert.Nil(t, r.TryRead(1))
	l.RunUntilIdle(0)
	assert.Equal(t, 1, drains)

	r.Push([]byte("abcd"))
	r.TryRead(4)
	l.RunUntilIdle(0)
	assert.Equal(t, 2, drains)
}

func TestOffBeforeDelivery(t *testing.T) {
	l := loop.New()
	r := New(l, 0)
	called := false
	id := r.On(EventReadable, func(error) { called = true })
	assert.Equal(t, 1, r.ListenerCount(EventReadable))

	r.Push([]byte("x"))
	r.Off(EventReadable, id)
	l.RunUntilIdle(0)

	assert.False(t, called)
	assert.Equal(t, 0, r.ListenerCount(EventReadable))
}

func TestBlockingReadAcrossGoroutines(t *testing.T) {
	l := loop.New()
	r := New(l, 16)
	payload := bytes.Repeat([]byte("0123456789"), 100)

	go func() {
		for i := 0; i < len(payload); i += 10 {
			if !r.waitRoom() {
				return
			}
			r.Push(payload[i : i+10])
		}
		r.End()
	}()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestNewEnded(t *testing.T) {
	l := loop.New()
	r := NewEnded(l)
	ended := false
	r.On(EventEnd, func(error) { ended = true })

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, got)
	l.RunUntilIdle(0)
	assert.True(t, ended)
	assert.Equal(t, int64(0), r.BytesRead())
}

func TestFromReader(t *testing.T) {
	l := loop.New()
	payload := bytes.Repeat([]byte("xyz"), 5000)
	r := FromReader(l, bytes.NewReader(payload), 1000, 2048)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestFromReaderError(t *testing.T) {
	l := loop.New()
	boom := errors.New("disk on fire")
	r := FromReader(l, failingReader{err: boom}, 0, 0)

	require.Eventually(t, r.Destroyed, time.Second, time.Millisecond)
	assert.Equal(t, boom, r.Err())
}
