package transfer

import (
	"bytes"
	"net/http"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jaywantadh/xferstream/internal/engine"
	"github.com/jaywantadh/xferstream/internal/stream"
	"github.com/jaywantadh/xferstream/pkg/logging"
	"github.com/sirupsen/logrus"
)

type (
	// StreamFunc receives the response sink once the body starts, or an
	// already ended sink when the response has no body.
	StreamFunc func(sink *stream.Readable, status int, headers []http.Header)
	EndFunc    func(resp *Response)
	// ErrorFunc receives the terminal error and the engine code it ended with.
	ErrorFunc func(err error, code engine.Code)
)

// Handle is one request descriptor bound to a dispatcher. All methods must
// be called on the loop goroutine.
type Handle struct {
	id  string
	d   *Dispatcher
	x   engine.Transfer
	log *logrus.Entry

	state    State
	features Features
	sinkHWM  int

	body       bytes.Buffer
	bodyLen    int64
	headers    bytes.Buffer
	headersLen int64

	upload *uploadAdapter
	stream *streamState

	onStream   StreamFunc
	onEnd      EndFunc
	onError    ErrorFunc
	onProgress engine.ProgressFunc

	startedAt time.Time
}

func NewHandle(d *Dispatcher) *Handle {
	id := uuid.NewString()
	h := &Handle{
		id:  id,
		d:   d,
		x:   d.eng.NewTransfer(),
		log: logging.Component("transfer").WithField("handle", id),
	}
	h.installDefaults()
	return h
}

func (h *Handle) ID() string         { return h.id }
func (h *Handle) State() State       { return h.state }
func (h *Handle) IsRunning() bool    { return h.state == StateRunning }
func (h *Handle) IsOpen() bool       { return h.state != StateClosed }
func (h *Handle) Features() Features { return h.features }

func (h *Handle) installDefaults() {
	h.x.SetWriteFunc(h.captureData)
	h.x.SetHeaderFunc(h.captureHeader)
}

func (h *Handle) captureData(p []byte) int {
	if !h.features.NoDataStorage {
		h.body.Write(p)
	}
	h.bodyLen += int64(len(p))
	return len(p)
}

// captureHeader always keeps the raw lines; storage features only decide
// what ends up in the Response.
func (h *Handle) captureHeader(line []byte) int {
	h.headers.Write(line)
	h.headersLen += int64(len(line))
	return len(line)
}

// SetOpt sets an engine option on the underlying transfer.
func (h *Handle) SetOpt(opt engine.Option, value any) error {
	if h.state == StateClosed {
		return ErrClosed
	}
	return h.x.SetOpt(opt, value)
}

func (h *Handle) Info(info engine.Info) (any, error) {
	if h.state == StateClosed {
		return nil, ErrClosed
	}
	return h.x.Info(info)
}

func (h *Handle) EnableFeature(f Feature) error {
	if err := h.mutable(); err != nil {
		return err
	}
	return h.features.Enable(f)
}

func (h *Handle) DisableFeature(f Feature) error {
	if err := h.mutable(); err != nil {
		return err
	}
	return h.features.Disable(f)
}

func (h *Handle) mutable() error {
	switch h.state {
	case StateClosed:
		return ErrClosed
	case StateRunning:
		return ErrBusy
	}
	return nil
}

// SetSinkBufferThreshold sets the high-water mark of response sinks. Zero
// restores the default.
func (h *Handle) SetSinkBufferThreshold(n int) error {
	if h.state == StateClosed {
		return ErrClosed
	}
	if n < 0 {
		return engine.NewError(engine.CodeBadFunctionArgument, nil)
	}
	h.sinkHWM = n
	return nil
}

// OnStream, OnEnd, OnError and OnProgress install notification handlers. A
// nil handler removes the current one.
func (h *Handle) OnStream(fn StreamFunc) error {
	if h.state == StateClosed {
		return ErrClosed
	}
	h.onStream = fn
	return nil
}

func (h *Handle) OnEnd(fn EndFunc) error {
	if h.state == StateClosed {
		return ErrClosed
	}
	h.onEnd = fn
	return nil
}

func (h *Handle) OnError(fn ErrorFunc) error {
	if h.state == StateClosed {
		return ErrClosed
	}
	h.onError = fn
	return nil
}

func (h *Handle) OnProgress(fn engine.ProgressFunc) error {
	if h.state == StateClosed {
		return ErrClosed
	}
	h.onProgress = fn
	return nil
}

// AttachUploadSource makes src the request body. A nil src detaches the
// current source and restores the default read behaviour. Attaching the
// source that is already attached does nothing.
func (h *Handle) AttachUploadSource(src Source) error {
	if err := h.mutable(); err != nil {
		return err
	}
	if src == nil {
		h.detachUpload()
		return nil
	}
	if isNil(src) {
		return ErrInvalidSource
	}
	if h.upload != nil && h.upload.src == src {
		return nil
	}
	h.detachUpload()
	h.upload = attachUpload(h, src)
	h.x.SetReadFunc(h.upload.read)
	return nil
}

func isNil(src Source) bool {
	v := reflect.ValueOf(src)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func (h *Handle) detachUpload() {
	if h.upload == nil {
		return
	}
	h.upload.detach()
	h.upload = nil
	h.x.SetReadFunc(nil)
}

func (h *Handle) streaming() bool {
	return h.upload != nil || h.features.StreamResponse
}

// Perform starts the transfer. Completion is reported through OnEnd or
// OnError on a later loop tick.
func (h *Handle) Perform() error {
	switch h.state {
	case StateClosed:
		return ErrClosed
	case StateRunning:
		return ErrBusy
	}
	if err := h.features.Validate(); err != nil {
		return err
	}
	if h.features.StreamResponse && h.onStream == nil {
		return ErrNoStreamHandler
	}

	h.resetCapture()
	if h.streaming() {
		s := &streamState{}
		h.stream = s
		if h.upload != nil {
			h.upload.begin(s)
		}
		if h.features.StreamResponse {
			s.download = newDownloadAdapter(h, h.sinkHWM)
			h.x.SetWriteFunc(s.download.write)
		}
		h.x.SetProgressFunc(h.progressGate)
	} else {
		h.x.SetProgressFunc(h.onProgress)
	}
	if h.stream != nil || h.onProgress != nil {
		if err := h.x.SetOpt(engine.OptNoProgress, false); err != nil {
			h.teardown()
			return err
		}
	}

	prev := h.state
	h.state = StateRunning
	if err := h.d.AddHandle(h); err != nil {
		h.state = prev
		h.teardown()
		return err
	}
	h.log.Debug("transfer started")
	return nil
}

// progressGate raises a recorded stream fault from the engine's progress
// callback, the only point where a returned error aborts the transfer.
func (h *Handle) progressGate(p engine.Progress) error {
	if s := h.stream; s != nil {
		if err := s.fault.take(); err != nil {
			h.log.WithError(err).Debug("raising stream fault")
			return err
		}
	}
	if h.onProgress != nil {
		return h.onProgress(p)
	}
	return nil
}

// deferResume resumes dir on the next loop tick, never from inside an
// engine callback.
func (h *Handle) deferResume(dir engine.Direction) {
	s := h.stream
	h.d.sched.Post(func() {
		if h.stream != s || h.state != StateRunning {
			return
		}
		if err := h.x.Resume(dir); err != nil {
			h.log.WithError(err).WithField("dir", dir).Warn("resume failed")
		}
	})
}

// raise records a stream fault, forces the engine through the progress
// gate and makes sure the dispatcher drives it.
func (h *Handle) raise(err error, explicit bool, dir engine.Direction, ps *pauseState) {
	s := h.stream
	if !s.fault.record(err, explicit) {
		return
	}
	h.log.WithError(err).WithField("dir", dir).Debug("stream fault recorded")
	prev, rerr := ps.request()
	if rerr != nil {
		h.log.WithError(rerr).WithField("dir", dir).Warn("unexpected pause state")
	}
	if prev == paused {
		h.deferResume(dir)
	}
	h.d.kick()
}

func (h *Handle) status() int {
	v, err := h.x.Info(engine.InfoResponseCode)
	if err != nil {
		return 0
	}
	n, _ := v.(int)
	return n
}

// finish is called by the dispatcher after a successful completion.
func (h *Handle) finish() {
	status := h.status()
	resp := h.response(status)
	if s := h.stream; s != nil && s.download != nil {
		s.download.finish(status, ParseHeaders(h.headers.Bytes()))
	}
	h.state = StateCompleted
	h.teardown()
	h.log.WithField("status", status).Debug("transfer completed")
	if h.onEnd != nil {
		h.onEnd(resp)
	}
}

// fail is called by the dispatcher after a failed completion. An explicit
// stream error raised through the gate is delivered unchanged.
func (h *Handle) fail(err error, code engine.Code) {
	if s := h.stream; s != nil {
		if code == engine.CodeAbortedByCallback {
			if e, ok := s.fault.raisedExplicit(); ok {
				err = e
			}
		}
		if s.download != nil {
			s.download.fail(err)
		}
	}
	h.state = StateFailed
	h.teardown()
	h.log.WithError(err).WithField("code", code).Debug("transfer failed")
	if h.onError != nil {
		h.onError(err, code)
	}
}

func (h *Handle) response(status int) *Response {
	r := &Response{Status: status, BodyLen: h.bodyLen, HeadersLen: h.headersLen}
	if !h.features.NoDataStorage && !h.features.StreamResponse {
		r.Body = bytes.Clone(h.body.Bytes())
		if !h.features.NoDataParsing {
			r.Text = string(r.Body)
		}
	}
	if !h.features.NoHeaderStorage {
		r.RawHeaders = bytes.Clone(h.headers.Bytes())
		if !h.features.NoHeaderParsing {
			r.Headers = ParseHeaders(r.RawHeaders)
		}
	}
	return r
}

func (h *Handle) resetCapture() {
	h.body.Reset()
	h.headers.Reset()
	h.bodyLen, h.headersLen = 0, 0
}

// teardown drops per-run stream state and restores the default callbacks.
func (h *Handle) teardown() {
	if s := h.stream; s != nil {
		if s.download != nil {
			s.download.detach()
		}
		h.stream = nil
	}
	h.x.SetWriteFunc(h.captureData)
	h.x.SetProgressFunc(h.onProgress)
	h.resetCapture()
}

// Reset restores every option, feature and handler to its default and
// detaches the upload source.
func (h *Handle) Reset() error {
	if err := h.mutable(); err != nil {
		return err
	}
	h.detachUpload()
	h.x.Reset()
	h.features = Features{}
	h.sinkHWM = 0
	h.onStream, h.onEnd, h.onError, h.onProgress = nil, nil, nil, nil
	h.resetCapture()
	h.installDefaults()
	h.state = StateIdle
	return nil
}

// Close stops a running transfer without notifying handlers and releases
// the handle. A sink already handed out fails with ErrClosed.
func (h *Handle) Close() error {
	if h.state == StateClosed {
		return ErrClosed
	}
	if h.state == StateRunning {
		if err := h.d.RemoveHandle(h); err != nil {
			h.log.WithError(err).Warn("failed to remove transfer on close")
		}
		if s := h.stream; s != nil && s.download != nil {
			s.download.fail(ErrClosed)
		}
	}
	h.teardown()
	h.detachUpload()
	h.x.Close()
	h.onStream, h.onEnd, h.onError, h.onProgress = nil, nil, nil, nil
	h.state = StateClosed
	h.log.Debug("handle closed")
	return nil
}
