// Package simengine is an in-memory engine.Engine. Requests are answered by a
// Responder instead of the network, and every callback runs synchronously
// inside Drive or Resume, which makes transfer behaviour fully deterministic.
package simengine

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jaywantadh/xferstream/internal/engine"
)

// Request is what a transfer sent, body included.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response scripts the answer to a Request. Chunks are delivered to the
// write callback in order, split further when larger than the transfer's
// buffer size. A non-zero Code fails the transfer instead.
type Response struct {
	Status int
	Header http.Header
	Chunks [][]byte
	Code   engine.Code
}

type Responder func(req *Request) *Response

var (
	ErrForeignTransfer = errors.New("transfer does not belong to this engine")
	ErrAlreadyAdded    = errors.New("transfer already added")
)

type Engine struct {
	respond     Responder
	transfers   []*Transfer
	completions []engine.Completion
	wake        func()
	closed      bool
}

func New(respond Responder) *Engine {
	return &Engine{respond: respond}
}

func (e *Engine) NewTransfer() engine.Transfer {
	return newTransfer(e)
}

func (e *Engine) own(t engine.Transfer) (*Transfer, error) {
	st, ok := t.(*Transfer)
	if !ok || st.eng != e {
		return nil, engine.NewError(engine.CodeBadFunctionArgument, ErrForeignTransfer)
	}
	return st, nil
}

func (e *Engine) Add(t engine.Transfer) error {
	st, err := e.own(t)
	if err != nil {
		return err
	}
	if st.added {
		return engine.NewError(engine.CodeBadFunctionArgument, ErrAlreadyAdded)
	}
	st.start()
	e.transfers = append(e.transfers, st)
	e.wakeup()
	return nil
}

func (e *Engine) Remove(t engine.Transfer) error {
	st, err := e.own(t)
	if err != nil {
		return err
	}
	if !st.added {
		return nil
	}
	st.added = false
	for i, x := range e.transfers {
		if x == st {
			e.transfers = append(e.transfers[:i], e.transfers[i+1:]...)
			break
		}
	}
	return nil
}

func (e *Engine) Drive() bool {
	pending := false
	for _, t := range append([]*Transfer(nil), e.transfers...) {
		if !t.added {
			continue
		}
		t.step()
		if t.ready() {
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
	e.wake = fn
}

func (e *Engine) wakeup() {
	if e.wake != nil {
		e.wake()
	}
}

// Active returns the number of added transfers.
func (e *Engine) Active() int {
	return len(e.transfers)
}

func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	for _, t := range append([]*Transfer(nil), e.transfers...) {
		_ = e.Remove(t)
	}
	return nil
}

func (e *Engine) complete(t *Transfer, code engine.Code, err error) {
	c := engine.Completion{Transfer: t, Code: code}
	if code != engine.CodeOK {
		c.Err = engine.NewError(code, err)
	}
	e.completions = append(e.completions, c)
	e.wakeup()
}

// Static answers every request with the same response.
func Static(status int, header http.Header, chunks ...[]byte) Responder {
	return func(*Request) *Response {
		return &Response{Status: status, Header: header, Chunks: chunks}
	}
}

// Echo answers with status 200 and the request body as a single chunk.
func Echo() Responder {
	return func(req *Request) *Response {
		resp := &Response{Status: http.StatusOK, Header: http.Header{}}
		resp.Header.Set("Content-Type", "application/octet-stream")
		if len(req.Body) > 0 {
			resp.Chunks = [][]byte{req.Body}
		}
		return resp
	}
}

// Fail answers every request with a transfer-level failure.
func Fail(code engine.Code) Responder {
	return func(*Request) *Response {
		return &Response{Code: code}
	}
}

// Split cuts data into chunks of at most size bytes.
func Split(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := min(size, len(data))
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func parseHeaderLines(lines []string) http.Header {
	h := http.Header{}
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h
}
