// Package transfer coordinates callback-driven engine transfers with the
// cooperative loop and bridges their bodies to stream.Readable sources and
// sinks with backpressure in both directions.
package transfer

import (
	"time"

	"github.com/jaywantadh/xferstream/internal/engine"
	"github.com/jaywantadh/xferstream/internal/loop"
	"github.com/jaywantadh/xferstream/pkg/logging"
	"github.com/sirupsen/logrus"
)

// Observer is told about every transfer the dispatcher starts and finishes.
type Observer interface {
	TransferStarted()
	TransferFinished(code engine.Code, elapsed time.Duration, uploaded, downloaded int64)
}

type Option func(*Dispatcher)

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// Dispatcher multiplexes handles over one engine. All methods must be
// called on the loop goroutine.
type Dispatcher struct {
	sched     loop.Scheduler
	eng       engine.Engine
	handles   map[engine.Transfer]*Handle
	scheduled bool
	observer  Observer
	log       *logrus.Entry
}

// NewDispatcher drives eng from sched. The engine's wakeup, which may fire
// on any goroutine, is turned into a posted drive.
func NewDispatcher(sched loop.Scheduler, eng engine.Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sched:   sched,
		eng:     eng,
		handles: make(map[engine.Transfer]*Handle),
		log:     logging.Component("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	eng.SetWakeup(func() { sched.Post(d.kick) })
	return d
}

// kick schedules a Drive unless one is already queued.
func (d *Dispatcher) kick() {
	if d.scheduled {
		return
	}
	d.scheduled = true
	d.sched.Post(d.Drive)
}

// AddHandle registers h and starts its transfer.
func (d *Dispatcher) AddHandle(h *Handle) error {
	if h.state == StateClosed {
		return ErrClosed
	}
	if _, ok := d.handles[h.x]; ok {
		return ErrAlreadyRegistered
	}
	if err := d.eng.Add(h.x); err != nil {
		return err
	}
	d.handles[h.x] = h
	h.startedAt = time.Now()
	if d.observer != nil {
		d.observer.TransferStarted()
	}
	d.log.WithField("handle", h.id).Debug("transfer added")
	d.kick()
	return nil
}

// RemoveHandle stops h's transfer without notifying it. Removing a handle
// that is not registered is a no-op.
func (d *Dispatcher) RemoveHandle(h *Handle) error {
	if _, ok := d.handles[h.x]; !ok {
		return nil
	}
	delete(d.handles, h.x)
	d.log.WithField("handle", h.id).Debug("transfer removed")
	return d.eng.Remove(h.x)
}

// Len returns the number of registered handles.
func (d *Dispatcher) Len() int {
	return len(d.handles)
}

// Drive advances the engine one step and delivers completions.
func (d *Dispatcher) Drive() {
	d.scheduled = false
	pending := d.eng.Drive()
	for _, c := range d.eng.Completions() {
		d.route(c)
	}
	if pending && len(d.handles) > 0 {
		d.kick()
	}
}

// route unregisters the finished handle before notifying it, so its
// callbacks may Perform again.
func (d *Dispatcher) route(c engine.Completion) {
	h, ok := d.handles[c.Transfer]
	if !ok {
		d.log.WithField("code", c.Code).Warn("completion for unknown transfer")
		_ = d.eng.Remove(c.Transfer)
		return
	}
	if err := d.RemoveHandle(h); err != nil {
		h.log.WithError(err).Warn("failed to remove finished transfer")
	}

	if d.observer != nil {
		up, _ := infoInt64(h.x, engine.InfoSizeUpload)
		down, _ := infoInt64(h.x, engine.InfoSizeDownload)
		d.observer.TransferFinished(c.Code, time.Since(h.startedAt), up, down)
	}

	if c.Code == engine.CodeOK {
		h.finish()
		return
	}
	err := c.Err
	if err == nil {
		err = engine.NewError(c.Code, nil)
	}
	h.fail(err, c.Code)
}

// Close removes every handle without notifying them and closes the engine.
func (d *Dispatcher) Close() error {
	for _, h := range d.handles {
		_ = d.RemoveHandle(h)
	}
	return d.eng.Close()
}

func infoInt64(x engine.Transfer, i engine.Info) (int64, bool) {
	v, err := x.Info(i)
	if err != nil {
		return 0, false
	}
	n, ok := v.(int64)
	return n, ok
}
