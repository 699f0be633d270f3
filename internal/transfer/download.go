package transfer

import (
	"net/http"

	"github.com/jaywantadh/xferstream/internal/engine"
	"github.com/jaywantadh/xferstream/internal/stream"
)

// downloadAdapter pushes response body chunks into a sink stream. It
// exists for a single run.
type downloadAdapter struct {
	h     *Handle
	hwm   int
	sink  *stream.Readable
	subs  map[stream.Event]int
	state pauseState
	done  bool
}

func newDownloadAdapter(h *Handle, hwm int) *downloadAdapter {
	return &downloadAdapter{h: h, hwm: hwm}
}

// write is the engine write callback. The first chunk creates the sink,
// announces it and pauses until the consumer asks for data.
func (d *downloadAdapter) write(p []byte) int {
	if d.sink == nil {
		d.sink = stream.New(d.h.d.sched, d.hwm)
		d.subs = map[stream.Event]int{
			stream.EventDrain: d.sink.On(stream.EventDrain, d.onDrain),
			stream.EventClose: d.sink.On(stream.EventClose, d.onClose),
		}
		d.announce(d.sink, d.h.status(), ParseHeaders(d.h.headers.Bytes()))
		d.state.pause()
		return engine.WritePause
	}
	if d.state.takeRequest() {
		return engine.WritePause
	}
	d.h.bodyLen += int64(len(p))
	if !d.sink.Push(p) {
		d.state.pause()
		if err := d.h.x.Pause(engine.DirRecv); err != nil {
			d.h.log.WithError(err).Warn("pause failed")
		}
	}
	return len(p)
}

// announce hands sink to the stream handler installed now. The call itself
// happens on the next tick, which may come after the handle was closed.
func (d *downloadAdapter) announce(sink *stream.Readable, status int, headers []http.Header) {
	fn := d.h.onStream
	if fn == nil {
		return
	}
	d.h.d.sched.Post(func() { fn(sink, status, headers) })
}

func (d *downloadAdapter) onDrain(error) {
	if d.done {
		return
	}
	if d.state.resume() {
		d.h.deferResume(engine.DirRecv)
	}
}

func (d *downloadAdapter) onClose(err error) {
	if d.done || d.h.stream == nil {
		return
	}
	explicit := err != nil
	if err == nil {
		err = ErrSinkDestroyed
	}
	d.h.raise(err, explicit, engine.DirRecv, &d.state)
}

// finish ends the sink, or hands out an already ended one when the
// response carried no body.
func (d *downloadAdapter) finish(status int, headers []http.Header) {
	d.done = true
	if d.sink != nil {
		d.sink.End()
		return
	}
	d.announce(stream.NewEnded(d.h.d.sched), status, headers)
}

func (d *downloadAdapter) fail(err error) {
	d.done = true
	if d.sink != nil {
		d.sink.Fail(err)
	}
}

func (d *downloadAdapter) detach() {
	if d.sink == nil {
		return
	}
	for ev, id := range d.subs {
		d.sink.Off(ev, id)
	}
	d.subs = nil
}
