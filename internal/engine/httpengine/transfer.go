package httpengine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jaywantadh/xferstream/internal/engine"
)

type eventKind uint8

const (
	evHeader eventKind = iota + 1
	evChunk
	evDone
)

type event struct {
	kind eventKind
	resp *http.Response
	data []byte
	code engine.Code
	err  error
}

type bodyResult struct {
	data []byte
	eof  bool
}

// session is the state shared with one run of the worker goroutine.
type session struct {
	ctx      context.Context
	cancel   context.CancelFunc
	events   chan event
	bodyReq  chan int
	bodyResp chan bodyResult
	wakeup   func()
}

func (s *session) post(ev event) bool {
	select {
	case s.events <- ev:
		s.wakeup()
		return true
	case <-s.ctx.Done():
		return false
	}
}

type Transfer struct {
	eng  *Engine
	opts engine.Options

	read     engine.ReadFunc
	write    engine.WriteFunc
	header   engine.HeaderFunc
	progress engine.ProgressFunc

	s           *session
	added       bool
	done        bool
	sendPaused  bool
	recvPaused  bool
	inCallback  int
	pendingRead int
	held        *event

	status        int
	effectiveURL  string
	contentLength int64
	uploaded      int64
	downloaded    int64
	started       time.Time
	elapsed       time.Duration
}

func (t *Transfer) SetOpt(opt engine.Option, value any) error {
	return t.opts.Set(opt, value)
}

func (t *Transfer) Info(info engine.Info) (any, error) {
	switch info {
	case engine.InfoResponseCode:
		return t.status, nil
	case engine.InfoEffectiveURL:
		if t.effectiveURL == "" {
			return t.opts.URL, nil
		}
		return t.effectiveURL, nil
	case engine.InfoSizeDownload:
		return t.downloaded, nil
	case engine.InfoSizeUpload:
		return t.uploaded, nil
	case engine.InfoContentLengthDownload:
		return t.contentLength, nil
	case engine.InfoTotalTime:
		if t.done || t.started.IsZero() {
			return t.elapsed, nil
		}
		return time.Since(t.started), nil
	}
	return nil, engine.UnknownInfo(info)
}

func (t *Transfer) SetReadFunc(fn engine.ReadFunc)         { t.read = fn }
func (t *Transfer) SetWriteFunc(fn engine.WriteFunc)       { t.write = fn }
func (t *Transfer) SetHeaderFunc(fn engine.HeaderFunc)     { t.header = fn }
func (t *Transfer) SetProgressFunc(fn engine.ProgressFunc) { t.progress = fn }

func (t *Transfer) Pause(dir engine.Direction) error {
	switch dir {
	case engine.DirSend:
		t.sendPaused = true
	case engine.DirRecv:
		t.recvPaused = true
	}
	return nil
}

// Resume unpauses dir; the paused work is picked up by the next Drive.
func (t *Transfer) Resume(dir engine.Direction) error {
	if t.inCallback > 0 {
		return engine.NewError(engine.CodeBadFunctionArgument, engine.ErrRecursiveResume)
	}
	switch dir {
	case engine.DirSend:
		t.sendPaused = false
	case engine.DirRecv:
		t.recvPaused = false
	}
	if t.added && !t.done {
		t.eng.wakeup()
	}
	return nil
}

func (t *Transfer) Reset() {
	t.opts = engine.DefaultOptions()
	t.read, t.write, t.header, t.progress = nil, nil, nil, nil
}

func (t *Transfer) Close() {
	_ = t.eng.Remove(t)
}

func (t *Transfer) start(client *http.Client) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if t.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), t.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	t.s = &session{
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event, 2),
		bodyReq:  make(chan int, 1),
		bodyResp: make(chan bodyResult, 1),
		wakeup:   t.eng.wakeup,
	}
	t.added, t.done = true, false
	t.sendPaused, t.recvPaused = false, false
	t.pendingRead, t.held = 0, nil
	t.status, t.effectiveURL = 0, ""
	t.contentLength, t.uploaded, t.downloaded = -1, 0, 0
	t.started, t.elapsed = time.Now(), 0

	go run(t.s, client, t.opts)
}

func (t *Transfer) stop() {
	t.added = false
	if t.s != nil {
		t.s.cancel()
	}
	if !t.done {
		t.done = true
		t.elapsed = time.Since(t.started)
	}
}

// step services one pending body read and one response event. It reports
// whether anything happened.
func (t *Transfer) step() bool {
	if t.progress != nil && !t.opts.NoProgress {
		t.inCallback++
		err := t.progress(engine.Progress{
			DownloadTotal: max(t.contentLength, 0),
			DownloadNow:   t.downloaded,
			UploadTotal:   max(t.opts.InFileSize, 0),
			UploadNow:     t.uploaded,
		})
		t.inCallback--
		if err != nil {
			t.finish(engine.CodeAbortedByCallback, err)
			return false
		}
	}
	progressed := t.stepSend()
	if t.done {
		return false
	}
	if t.stepRecv() {
		progressed = true
	}
	return progressed && !t.done
}

func (t *Transfer) stepSend() bool {
	if t.pendingRead == 0 {
		select {
		case n := <-t.s.bodyReq:
			t.pendingRead = n
		default:
			return false
		}
	}
	if t.sendPaused {
		return false
	}
	if t.read == nil {
		t.s.bodyResp <- bodyResult{eof: true}
		t.pendingRead = 0
		return true
	}

	buf := make([]byte, min(t.pendingRead, t.opts.UploadBufferSize))
	t.inCallback++
	n := t.read(buf)
	t.inCallback--

	switch {
	case n == engine.ReadPause:
		t.sendPaused = true
		return false
	case n == engine.ReadAbort:
		t.finish(engine.CodeAbortedByCallback, nil)
		return false
	case n < 0 || n > len(buf):
		t.finish(engine.CodeReadError, fmt.Errorf("read callback returned %d", n))
		return false
	case n == 0:
		t.s.bodyResp <- bodyResult{eof: true}
	default:
		t.s.bodyResp <- bodyResult{data: buf[:n]}
		t.uploaded += int64(n)
	}
	t.pendingRead = 0
	return true
}

func (t *Transfer) stepRecv() bool {
	if t.recvPaused {
		return false
	}
	var ev event
	if t.held != nil {
		ev, t.held = *t.held, nil
	} else {
		select {
		case ev = <-t.s.events:
		default:
			return false
		}
	}

	switch ev.kind {
	case evHeader:
		return t.deliverHeaders(ev.resp)
	case evChunk:
		n := len(ev.data)
		if t.write != nil {
			t.inCallback++
			n = t.write(ev.data)
			t.inCallback--
		}
		if t.done {
			return false
		}
		switch {
		case n == engine.WritePause:
			t.held = &ev
			t.recvPaused = true
			return false
		case n != len(ev.data):
			t.finish(engine.CodeWriteError, fmt.Errorf("write callback returned %d for %d bytes", n, len(ev.data)))
			return false
		}
		t.downloaded += int64(n)
	case evDone:
		t.finish(ev.code, ev.err)
	}
	return true
}

func (t *Transfer) deliverHeaders(resp *http.Response) bool {
	t.status = resp.StatusCode
	t.contentLength = resp.ContentLength
	if resp.Request != nil && resp.Request.URL != nil {
		t.effectiveURL = resp.Request.URL.String()
	}
	if t.header == nil {
		return true
	}

	lines := []string{fmt.Sprintf("HTTP/%d.%d %s\r\n", resp.ProtoMajor, resp.ProtoMinor, resp.Status)}
	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range resp.Header[k] {
			lines = append(lines, k+": "+v+"\r\n")
		}
	}
	lines = append(lines, "\r\n")

	for _, line := range lines {
		t.inCallback++
		n := t.header([]byte(line))
		t.inCallback--
		if t.done {
			return false
		}
		if n != len(line) {
			t.finish(engine.CodeWriteError, fmt.Errorf("header callback returned %d", n))
			return false
		}
	}
	return true
}

func (t *Transfer) finish(code engine.Code, err error) {
	if t.done {
		return
	}
	t.done = true
	t.elapsed = time.Since(t.started)
	t.s.cancel()
	t.eng.complete(t, code, err)
}

// run performs the HTTP exchange for one session.
func run(s *session, client *http.Client, opts engine.Options) {
	var body io.Reader = http.NoBody
	if opts.Upload {
		body = &pullBody{s: s}
	}
	req, err := http.NewRequestWithContext(s.ctx, opts.RequestMethod(), opts.URL, body)
	if err != nil {
		s.post(event{kind: evDone, code: engine.CodeURLMalformat, err: err})
		return
	}
	if opts.Upload {
		req.ContentLength = opts.InFileSize
	}
	for _, line := range opts.Header {
		name, value, ok := strings.Cut(line, ":")
		if ok {
			req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		s.post(event{kind: evDone, code: classify(s.ctx, err, engine.CodeSendError), err: err})
		return
	}
	defer resp.Body.Close()

	if !s.post(event{kind: evHeader, resp: resp}) {
		return
	}
	buf := make([]byte, opts.BufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.post(event{kind: evChunk, data: chunk}) {
				return
			}
		}
		if err == io.EOF {
			s.post(event{kind: evDone, code: engine.CodeOK})
			return
		}
		if err != nil {
			s.post(event{kind: evDone, code: classify(s.ctx, err, engine.CodeRecvError), err: err})
			return
		}
	}
}

// pullBody is the request body handed to net/http. Each Read asks the loop for
// up to len(p) bytes and waits for the read callback's answer.
type pullBody struct {
	s *session
}

func (b *pullBody) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	select {
	case b.s.bodyReq <- len(p):
	case <-b.s.ctx.Done():
		return 0, b.s.ctx.Err()
	}
	b.s.wakeup()

	select {
	case r := <-b.s.bodyResp:
		if r.eof {
			return 0, io.EOF
		}
		return copy(p, r.data), nil
	case <-b.s.ctx.Done():
		return 0, b.s.ctx.Err()
	}
}
