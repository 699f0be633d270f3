// Package httpengine implements engine.Engine on top of net/http.
//
// Each added transfer runs its HTTP exchange on a worker goroutine. The
// worker never calls transfer callbacks itself: request-body reads and
// response events are handed over through channels and serviced by Drive on
// the loop goroutine, so callbacks keep the single-threaded contract of the
// engine package.
package httpengine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/xferstream/internal/engine"
	"github.com/jaywantadh/xferstream/pkg/logging"
)

var (
	ErrForeignTransfer = errors.New("transfer does not belong to this engine")
	ErrAlreadyAdded    = errors.New("transfer already added")
	ErrEngineClosed    = errors.New("engine closed")
)

type Engine struct {
	client *http.Client
	log    *logrus.Entry

	transfers   []*Transfer
	completions []engine.Completion
	closed      bool

	wakeMu sync.Mutex
	wake   func()
}

// New returns an engine issuing requests through client, or through a
// default client when client is nil.
func New(client *http.Client) *Engine {
	if client == nil {
		client = &http.Client{}
	}
	return &Engine{
		client: client,
		log:    logging.Component("httpengine"),
	}
}

func (e *Engine) NewTransfer() engine.Transfer {
	return &Transfer{eng: e, opts: engine.DefaultOptions()}
}

func (e *Engine) own(t engine.Transfer) (*Transfer, error) {
	ht, ok := t.(*Transfer)
	if !ok || ht.eng != e {
		return nil, engine.NewError(engine.CodeBadFunctionArgument, ErrForeignTransfer)
	}
	return ht, nil
}

func (e *Engine) Add(t engine.Transfer) error {
	if e.closed {
		return engine.NewError(engine.CodeBadFunctionArgument, ErrEngineClosed)
	}
	ht, err := e.own(t)
	if err != nil {
		return err
	}
	if ht.added {
		return engine.NewError(engine.CodeBadFunctionArgument, ErrAlreadyAdded)
	}
	e.transfers = append(e.transfers, ht)
	ht.start(e.clientFor(ht.opts))
	e.log.WithFields(logrus.Fields{
		"method": ht.opts.RequestMethod(),
		"url":    ht.opts.URL,
	}).Debug("transfer started")
	return nil
}

func (e *Engine) clientFor(opts engine.Options) *http.Client {
	c := *e.client
	if !opts.FollowLocation {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &c
}

func (e *Engine) Remove(t engine.Transfer) error {
	ht, err := e.own(t)
	if err != nil {
		return err
	}
	if !ht.added {
		return nil
	}
	ht.stop()
	for i, x := range e.transfers {
		if x == ht {
			e.transfers = append(e.transfers[:i], e.transfers[i+1:]...)
			break
		}
	}
	return nil
}

func (e *Engine) Drive() bool {
	pending := false
	for _, t := range append([]*Transfer(nil), e.transfers...) {
		if !t.added || t.done {
			continue
		}
		if t.step() {
			pending = true
		}
	}
	return pending
}

func (e *Engine) Completions() []engine.Completion {
	out := e.completions
	e.completions = nil
	return out
}

func (e *Engine) SetWakeup(fn func()) {
	e.wakeMu.Lock()
	e.wake = fn
	e.wakeMu.Unlock()
}

func (e *Engine) wakeup() {
	e.wakeMu.Lock()
	fn := e.wake
	e.wakeMu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close stops every transfer. Pending completions are dropped.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	for _, t := range append([]*Transfer(nil), e.transfers...) {
		_ = e.Remove(t)
	}
	e.completions = nil
	e.client.CloseIdleConnections()
	return nil
}

func (e *Engine) complete(t *Transfer, code engine.Code, err error) {
	c := engine.Completion{Transfer: t, Code: code}
	if code != engine.CodeOK {
		c.Err = engine.NewError(code, err)
	}
	e.completions = append(e.completions, c)
	e.log.WithFields(logrus.Fields{
		"url":  t.opts.URL,
		"code": int(code),
	}).Debug("transfer finished")
}

// classify maps a net/http failure to a native code.
func classify(ctx context.Context, err error, fallback engine.Code) engine.Code {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return engine.CodeOperationTimedout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return engine.CodeCouldntResolveHost
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return engine.CodeCouldntConnect
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return engine.CodeOperationTimedout
	}
	return fallback
}
