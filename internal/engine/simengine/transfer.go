package simengine

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"

	"github.com/jaywantadh/xferstream/internal/engine"
)

type phase uint8

const (
	phaseSend phase = iota + 1
	phaseRespond
	phaseHeaders
	phaseBody
	phaseDone
)

// Transfer is a simulated request descriptor.
type Transfer struct {
	eng  *Engine
	opts engine.Options

	read     engine.ReadFunc
	write    engine.WriteFunc
	header   engine.HeaderFunc
	progress engine.ProgressFunc

	added      bool
	phase      phase
	sendPaused bool
	recvPaused bool
	inCallback int

	body       bytes.Buffer
	resp       *Response
	chunks     [][]byte
	status     int
	total      int64
	uploaded   int64
	downloaded int64

	readResults []int
	writeCalls  int
}

func newTransfer(e *Engine) *Transfer {
	return &Transfer{eng: e, opts: engine.DefaultOptions()}
}

func (t *Transfer) SetOpt(opt engine.Option, value any) error {
	return t.opts.Set(opt, value)
}

func (t *Transfer) Info(info engine.Info) (any, error) {
	switch info {
	case engine.InfoResponseCode:
		return t.status, nil
	case engine.InfoEffectiveURL:
		return t.opts.URL, nil
	case engine.InfoSizeDownload:
		return t.downloaded, nil
	case engine.InfoSizeUpload:
		return t.uploaded, nil
	case engine.InfoContentLengthDownload:
		if t.resp == nil {
			return int64(-1), nil
		}
		return t.total, nil
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

// Resume unpauses dir and, like the native engine, immediately runs one step
// of the transfer, re-entering its callbacks.
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
	if t.added && t.phase != phaseDone {
		t.step()
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

func (t *Transfer) start() {
	t.added = true
	t.phase = phaseSend
	t.sendPaused, t.recvPaused = false, false
	t.body.Reset()
	t.resp, t.chunks = nil, nil
	t.status = 0
	t.total, t.uploaded, t.downloaded = 0, 0, 0
	t.readResults, t.writeCalls = nil, 0
}

// ReadResults returns what the read callback returned during the current or
// last run, in call order.
func (t *Transfer) ReadResults() []int {
	return append([]int(nil), t.readResults...)
}

// WriteCalls counts write callback invocations during the current or last run.
func (t *Transfer) WriteCalls() int {
	return t.writeCalls
}

// ready reports whether another step would do work without a Resume.
func (t *Transfer) ready() bool {
	switch t.phase {
	case phaseDone:
		return false
	case phaseSend:
		return !(t.opts.Upload && t.read != nil && t.sendPaused)
	case phaseBody:
		return len(t.chunks) == 0 || !t.recvPaused
	}
	return true
}

func (t *Transfer) step() {
	if t.phase == phaseDone {
		return
	}
	if t.progress != nil && !t.opts.NoProgress {
		t.inCallback++
		err := t.progress(engine.Progress{
			DownloadTotal: t.total,
			DownloadNow:   t.downloaded,
			UploadTotal:   max(t.opts.InFileSize, 0),
			UploadNow:     t.uploaded,
		})
		t.inCallback--
		if err != nil {
			t.finish(engine.CodeAbortedByCallback, err)
			return
		}
	}

	switch t.phase {
	case phaseSend:
		t.stepSend()
	case phaseRespond:
		t.stepRespond()
	case phaseHeaders:
		t.stepHeaders()
	case phaseBody:
		t.stepBody()
	}
}

func (t *Transfer) stepSend() {
	if !t.opts.Upload || t.read == nil {
		t.phase = phaseRespond
		return
	}
	if t.sendPaused {
		return
	}
	buf := make([]byte, t.opts.UploadBufferSize)
	t.inCallback++
	n := t.read(buf)
	t.inCallback--
	t.readResults = append(t.readResults, n)

	switch {
	case n == engine.ReadPause:
		t.sendPaused = true
	case n == engine.ReadAbort:
		t.finish(engine.CodeAbortedByCallback, nil)
	case n < 0 || n > len(buf):
		t.finish(engine.CodeReadError, fmt.Errorf("read callback returned %d", n))
	case n == 0:
		t.phase = phaseRespond
	default:
		t.body.Write(buf[:n])
		t.uploaded += int64(n)
	}
}

func (t *Transfer) stepRespond() {
	req := &Request{
		Method: t.opts.RequestMethod(),
		URL:    t.opts.URL,
		Header: parseHeaderLines(t.opts.Header),
		Body:   append([]byte(nil), t.body.Bytes()...),
	}
	resp := t.eng.respond(req)
	if resp == nil {
		t.finish(engine.CodeCouldntConnect, nil)
		return
	}
	if resp.Code != engine.CodeOK {
		t.finish(resp.Code, nil)
		return
	}
	t.resp = resp
	t.status = resp.Status
	for _, c := range resp.Chunks {
		t.chunks = append(t.chunks, Split(c, t.opts.BufferSize)...)
		t.total += int64(len(c))
	}
	t.phase = phaseHeaders
}

func (t *Transfer) stepHeaders() {
	lines := []string{fmt.Sprintf("HTTP/1.1 %d %s\r\n", t.status, http.StatusText(t.status))}
	keys := make([]string, 0, len(t.resp.Header))
	for k := range t.resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range t.resp.Header[k] {
			lines = append(lines, fmt.Sprintf("%s: %s\r\n", k, v))
		}
	}
	lines = append(lines, "\r\n")

	if t.header != nil {
		for _, line := range lines {
			t.inCallback++
			n := t.header([]byte(line))
			t.inCallback--
			if n != len(line) {
				t.finish(engine.CodeWriteError, fmt.Errorf("header callback returned %d", n))
				return
			}
		}
	}
	t.phase = phaseBody
}

func (t *Transfer) stepBody() {
	if len(t.chunks) == 0 {
		t.finish(engine.CodeOK, nil)
		return
	}
	if t.recvPaused {
		return
	}
	chunk := t.chunks[0]
	n := len(chunk)
	if t.write != nil {
		t.inCallback++
		n = t.write(chunk)
		t.inCallback--
		t.writeCalls++
	}
	if t.phase == phaseDone {
		return
	}
	switch {
	case n == engine.WritePause:
		t.recvPaused = true
	case n != len(chunk):
		t.finish(engine.CodeWriteError, fmt.Errorf("write callback returned %d for %d bytes", n, len(chunk)))
	default:
		t.chunks = t.chunks[1:]
		t.downloaded += int64(n)
	}
}

func (t *Transfer) finish(code engine.Code, err error) {
	if t.phase == phaseDone {
		return
	}
	t.phase = phaseDone
	t.eng.complete(t, code, err)
}
