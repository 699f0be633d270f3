package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jaywantadh/xferstream/config"
	"github.com/jaywantadh/xferstream/internal/engine"
	"github.com/jaywantadh/xferstream/internal/engine/httpengine"
	"github.com/jaywantadh/xferstream/internal/engine/simengine"
	"github.com/jaywantadh/xferstream/internal/history"
	"github.com/jaywantadh/xferstream/internal/loop"
	"github.com/jaywantadh/xferstream/internal/metrics"
	"github.com/jaywantadh/xferstream/internal/stream"
	"github.com/jaywantadh/xferstream/internal/transfer"
	"github.com/jaywantadh/xferstream/pkg/httpserver"
	"github.com/jaywantadh/xferstream/pkg/logging"
)

// session runs a loop goroutine with one dispatcher for the lifetime of a
// command.
type session struct {
	cfg     *config.AppConfig
	loop    *loop.Loop
	d       *transfer.Dispatcher
	metrics *metrics.Metrics
	history *history.Store
	tracker *transfer.ProgressTracker
	server  *httpserver.Server

	cancel context.CancelFunc
	done   chan struct{}
}

type request struct {
	URL     string
	Method  string
	Headers []string
	// Body is streamed as the request body when set.
	Body     io.Reader
	BodySize int64
	// Sink consumes the streamed response body. A nil Sink buffers the
	// body into the Response.
	Sink     func(body io.Reader) error
	Progress io.Writer
}

type optValue struct {
	opt   engine.Option
	value any
}

type outcome struct {
	resp *transfer.Response
	err  error
}

func newSession(cfg *config.AppConfig, eng engine.Engine, hist *history.Store) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cfg:     cfg,
		loop:    loop.New(),
		metrics: metrics.New(),
		history: hist,
		tracker: transfer.NewProgressTracker(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.d = transfer.NewDispatcher(s.loop, eng, transfer.WithObserver(s.metrics))
	go func() {
		defer close(s.done)
		_ = s.loop.Run(ctx)
	}()
	return s
}

// openSession builds the configured engine, history store and metrics server.
func openSession(cfg *config.AppConfig) (*session, error) {
	var eng engine.Engine
	switch cfg.Engine {
	case config.EngineSim:
		eng = simengine.New(simengine.Echo())
	default:
		eng = httpengine.New(&http.Client{})
	}

	var hist *history.Store
	if cfg.HistoryPath != "" {
		var err error
		if hist, err = history.Open(cfg.HistoryPath); err != nil {
			return nil, err
		}
	}

	s := newSession(cfg, eng, hist)
	if cfg.MetricsAddr != "" {
		s.server = httpserver.New(cfg.MetricsAddr, s.metrics.Handler(), hist)
		if err := s.server.Start(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	return s, nil
}

func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.loop.Call(ctx, func() { _ = s.d.Close() }); err != nil {
		logging.Log.WithError(err).Warn("failed to close dispatcher")
	}
	s.cancel()
	<-s.done

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			logging.Log.WithError(err).Warn("failed to stop metrics server")
		}
	}
	if s.history != nil {
		return s.history.Close()
	}
	return nil
}

// perform runs req to completion. With a Sink it also waits for the sink
// consumer to finish.
func (s *session) perform(ctx context.Context, req request) (*transfer.Response, error) {
	finished := make(chan outcome, 1)
	consumed := make(chan error, 1)

	var h *transfer.Handle
	var src *stream.Readable
	var setupErr error
	err := s.loop.Call(ctx, func() {
		h = transfer.NewHandle(s.d)
		if req.Body != nil {
			src = stream.FromReader(s.loop, req.Body, s.cfg.UploadBufferSize, s.cfg.SinkHighWaterMark)
		}
		if setupErr = s.prepare(h, req, src, finished, consumed); setupErr != nil {
			release(h, src)
		}
	})
	if err != nil {
		return nil, err
	}
	if setupErr != nil {
		return nil, setupErr
	}

	stop := s.showProgress(h.ID(), req.Progress)
	defer stop()

	var out outcome
	select {
	case out = <-finished:
	case <-ctx.Done():
		_ = s.loop.Call(context.Background(), func() { release(h, src) })
		return nil, ctx.Err()
	}
	if out.err != nil {
		return nil, out.err
	}
	if req.Sink != nil {
		select {
		case err := <-consumed:
			if err != nil {
				return out.resp, err
			}
		case <-ctx.Done():
			return out.resp, ctx.Err()
		}
	}
	return out.resp, nil
}

// release closes h and stops the pump feeding src. Must run on the loop.
func release(h *transfer.Handle, src *stream.Readable) {
	if h.IsOpen() {
		_ = h.Close()
	}
	if src != nil {
		src.Destroy(nil)
	}
}

func (s *session) prepare(h *transfer.Handle, req request, src *stream.Readable, finished chan<- outcome, consumed chan<- error) error {
	opts := []optValue{
		{engine.OptURL, req.URL},
		{engine.OptUserAgent, s.cfg.UserAgent},
		{engine.OptBufferSize, s.cfg.DownloadBufferSize},
		{engine.OptUploadBufferSize, s.cfg.UploadBufferSize},
		{engine.OptTimeout, s.cfg.Timeout},
		{engine.OptFollowLocation, true},
	}
	if req.Method != "" {
		opts = append(opts, optValue{engine.OptCustomRequest, req.Method})
	}
	if len(req.Headers) > 0 {
		opts = append(opts, optValue{engine.OptHTTPHeader, req.Headers})
	}
	if src != nil {
		opts = append(opts,
			optValue{engine.OptUpload, true},
			optValue{engine.OptInFileSize, req.BodySize})
	}
	for _, o := range opts {
		if err := h.SetOpt(o.opt, o.value); err != nil {
			return fmt.Errorf("failed to set %s: %w", o.opt, err)
		}
	}

	if src != nil {
		if err := h.AttachUploadSource(src); err != nil {
			return err
		}
	}

	if req.Sink != nil {
		if err := h.EnableFeature(transfer.FeatureStreamResponse); err != nil {
			return err
		}
		if err := h.SetSinkBufferThreshold(s.cfg.SinkHighWaterMark); err != nil {
			return err
		}
		err := h.OnStream(func(sink *stream.Readable, status int, _ []http.Header) {
			logging.Log.WithField("status", status).Debug("response body started")
			go func() {
				err := req.Sink(sink)
				if err != nil {
					sink.Destroy(err)
				}
				consumed <- err
			}()
		})
		if err != nil {
			return err
		}
	}

	if req.Progress != nil {
		s.tracker.StartTracking(h.ID(), req.URL)
		if err := h.OnProgress(s.tracker.Func(h.ID())); err != nil {
			return err
		}
	}

	started := time.Now()
	if err := h.OnEnd(func(resp *transfer.Response) {
		s.record(h, req, started, engine.CodeOK, nil)
		finished <- outcome{resp: resp}
		release(h, src)
	}); err != nil {
		return err
	}
	if err := h.OnError(func(err error, code engine.Code) {
		s.record(h, req, started, code, err)
		finished <- outcome{err: err}
		release(h, src)
	}); err != nil {
		return err
	}
	return h.Perform()
}

func (s *session) record(h *transfer.Handle, req request, started time.Time, code engine.Code, cause error) {
	if s.history == nil {
		return
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
		if req.Body != nil {
			method = http.MethodPut
		}
	}
	rec := history.CompletionRecord{
		ID:         h.ID(),
		URL:        req.URL,
		Method:     method,
		Code:       int(code),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if v, err := h.Info(engine.InfoResponseCode); err == nil {
		rec.Status, _ = v.(int)
	}
	if v, err := h.Info(engine.InfoSizeUpload); err == nil {
		rec.Uploaded, _ = v.(int64)
	}
	if v, err := h.Info(engine.InfoSizeDownload); err == nil {
		rec.Downloaded, _ = v.(int64)
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if _, err := s.history.Put(rec); err != nil {
		logging.Log.WithError(err).Warn("failed to record transfer")
	}
}

// showProgress prints the handle's progress to w until the returned stop
// function is called.
func (s *session) showProgress(id string, w io.Writer) (stop func()) {
	if w == nil {
		return func() {}
	}
	quit := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tracker.PrintProgress(w, id)
			case <-quit:
				return
			}
		}
	}()
	return func() {
		close(quit)
		<-exited
		s.tracker.PrintProgress(w, id)
		fmt.Fprintln(w)
		s.tracker.RemoveTransfer(id)
	}
}
