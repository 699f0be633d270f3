package transfer

import (
	"github.com/jaywantadh/xferstream/internal/engine"
	"github.com/jaywantadh/xferstream/internal/stream"
)

// Source is what an upload source must provide. *stream.Readable
// implements it.
type Source interface {
	TryRead(n int) []byte
	Ended() bool
	Destroyed() bool
	Err() error
	On(ev stream.Event, fn stream.Listener) int
	Off(ev stream.Event, id int)
}

var _ Source = (*stream.Readable)(nil)

// uploadAdapter feeds the engine's read callback from a Source. Its
// subscriptions live as long as the source stays attached, across runs.
type uploadAdapter struct {
	h       *Handle
	src     Source
	subs    map[stream.Event]int
	endSeen bool

	// fault seen while no run was in progress
	early         error
	earlyExplicit bool
}

func attachUpload(h *Handle, src Source) *uploadAdapter {
	u := &uploadAdapter{h: h, src: src, subs: make(map[stream.Event]int)}
	u.subs[stream.EventReadable] = src.On(stream.EventReadable, u.onReadable)
	u.subs[stream.EventEnd] = src.On(stream.EventEnd, u.onEnd)
	u.subs[stream.EventError] = src.On(stream.EventError, u.onError)
	u.subs[stream.EventClose] = src.On(stream.EventClose, u.onClose)
	return u
}

func (u *uploadAdapter) detach() {
	for ev, id := range u.subs {
		u.src.Off(ev, id)
	}
	u.subs = nil
}

// begin carries faults observed before Perform into the new run.
func (u *uploadAdapter) begin(s *streamState) {
	s.upload = flowing
	if u.early != nil {
		s.fault.record(u.early, u.earlyExplicit)
		u.early = nil
	} else if u.src.Destroyed() && !u.endSeen && !u.src.Ended() {
		if err := u.src.Err(); err != nil {
			s.fault.record(err, true)
		} else {
			s.fault.record(ErrSourceDestroyed, false)
		}
	}
	if s.fault.set {
		s.upload = pauseRequested
	}
}

// read is the engine read callback.
func (u *uploadAdapter) read(p []byte) int {
	s := u.h.stream
	if s == nil {
		return engine.ReadAbort
	}
	if s.upload.takeRequest() {
		return engine.ReadPause
	}
	if chunk := u.src.TryRead(len(p)); len(chunk) > 0 {
		return copy(p, chunk)
	}
	if !u.src.Ended() {
		s.upload.pause()
		return engine.ReadPause
	}
	return 0
}

func (u *uploadAdapter) onReadable(error) {
	s := u.h.stream
	if s == nil {
		return
	}
	if s.upload.resume() {
		u.h.deferResume(engine.DirSend)
	}
}

func (u *uploadAdapter) onEnd(error) {
	u.endSeen = true
}

func (u *uploadAdapter) onError(err error) {
	u.fault(err, true)
}

func (u *uploadAdapter) onClose(err error) {
	if u.endSeen {
		return
	}
	if err != nil {
		u.fault(err, true)
		return
	}
	u.fault(ErrSourceDestroyed, false)
}

func (u *uploadAdapter) fault(err error, explicit bool) {
	s := u.h.stream
	if s == nil {
		if u.early == nil {
			u.early, u.earlyExplicit = err, explicit
		}
		return
	}
	u.h.raise(err, explicit, engine.DirSend, &s.upload)
}
