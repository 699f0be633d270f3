// Package loop provides the single-goroutine cooperative scheduler that every
// transfer callback, dispatcher step and stream event handler runs on.
//
// Work is queued with Post and executed in FIFO order. A task posted while the
// loop is running a batch is deferred to the next batch ("next tick"), which is
// what lets callers schedule re-entrant work safely from inside a callback.
package loop

import (
	"context"
	"sync"
)

// Scheduler is the part of the loop that producers of work depend on.
type Scheduler interface {
	Post(fn func())
}

// Loop is a FIFO task queue drained by exactly one goroutine at a time.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
	}
}

// Post queues fn for a later tick. It is safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending reports the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Tick runs the tasks that were queued before the call and returns how many
// ran. Tasks posted by those tasks wait for the next Tick.
func (l *Loop) Tick() int {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// RunUntilIdle ticks until the queue is empty or maxTicks batches ran.
// A maxTicks of zero means no limit. It returns the number of ticks executed.
func (l *Loop) RunUntilIdle(maxTicks int) int {
	ticks := 0
	for l.Pending() > 0 {
		if maxTicks > 0 && ticks >= maxTicks {
			break
		}
		l.Tick()
		ticks++
	}
	return ticks
}

// Run drains the queue until ctx is cancelled, sleeping while idle.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if l.Tick() > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Call runs fn on the loop and waits for it to return. It must not be used
// from the loop goroutine itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
