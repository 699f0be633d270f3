package httpengine

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/xferstream/internal/engine"
)

// runUntilDone drives e the way the dispatcher does: step while work is
// pending, otherwise wait for the engine's wake-up.
func runUntilDone(t *testing.T, e *Engine) engine.Completion {
	t.Helper()
	wake := make(chan struct{}, 1)
	e.SetWakeup(func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	deadline := time.After(5 * time.Second)
	for {
		pending := e.Drive()
		if done := e.Completions(); len(done) > 0 {
			return done[0]
		}
		if pending {
			continue
		}
		select {
		case <-wake:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("transfer did not finish")
		}
	}
}

func TestDownload(t *testing.T) {
	payload := bytes.Repeat([]byte("payload-"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.Write(payload)
	}))
	defer srv.Close()

	e := New(srv.Client())
	defer e.Close()
	x := e.NewTransfer()
	require.NoError(t, x.SetOpt(engine.OptURL, srv.URL))

	var body bytes.Buffer
	x.SetWriteFunc(func(p []byte) int {
		body.Write(p)
		return len(p)
	})
	var headers bytes.Buffer
	x.SetHeaderFunc(func(line []byte) int {
		headers.Write(line)
		return len(line)
	})
	require.NoError(t, e.Add(x))

	c := runUntilDone(t, e)
	assert.Equal(t, engine.CodeOK, c.Code)
	assert.Equal(t, payload, body.Bytes())
	assert.Contains(t, headers.String(), "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, headers.String(), "X-Test: yes\r\n")

	status, err := x.Info(engine.InfoResponseCode)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestUploadThroughReadCallback(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		received <- data
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	e := New(srv.Client())
	defer e.Close()
	x := e.NewTransfer()
	require.NoError(t, x.SetOpt(engine.OptURL, srv.URL))
	require.NoError(t, x.SetOpt(engine.OptUpload, true))
	require.NoError(t, x.SetOpt(engine.OptUploadBufferSize, 512))

	src := bytes.NewReader(bytes.Repeat([]byte("u"), 3000))
	paused := false
	x.SetReadFunc(func(p []byte) int {
		if !paused {
			paused = true
			return engine.ReadPause
		}
		n, _ := src.Read(p)
		return n
	})
	require.NoError(t, e.Add(x))

	// The first read pauses; resume from outside any callback.
	deadline := time.Now().Add(time.Second)
	for !paused && time.Now().Before(deadline) {
		e.Drive()
		time.Sleep(time.Millisecond)
	}
	require.True(t, paused)
	require.NoError(t, x.Resume(engine.DirSend))

	c := runUntilDone(t, e)
	assert.Equal(t, engine.CodeOK, c.Code)
	assert.Len(t, <-received, 3000)
	up, _ := x.Info(engine.InfoSizeUpload)
	assert.Equal(t, int64(3000), up)
}

func TestWritePauseHoldsChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("held"))
	}))
	defer srv.Close()

	e := New(srv.Client())
	defer e.Close()
	x := e.NewTransfer()
	require.NoError(t, x.SetOpt(engine.OptURL, srv.URL))

	var got bytes.Buffer
	calls := 0
	x.SetWriteFunc(func(p []byte) int {
		calls++
		if calls == 1 {
			return engine.WritePause
		}
		got.Write(p)
		return len(p)
	})
	require.NoError(t, e.Add(x))

	deadline := time.Now().Add(time.Second)
	for calls == 0 && time.Now().Before(deadline) {
		e.Drive()
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, calls)
	require.NoError(t, x.Resume(engine.DirRecv))

	c := runUntilDone(t, e)
	assert.Equal(t, engine.CodeOK, c.Code)
	assert.Equal(t, "held", got.String())
}

func TestProgressAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("never read"))
	}))
	defer srv.Close()

	e := New(srv.Client())
	defer e.Close()
	x := e.NewTransfer()
	require.NoError(t, x.SetOpt(engine.OptURL, srv.URL))
	require.NoError(t, x.SetOpt(engine.OptNoProgress, false))
	cause := errors.New("stop now")
	x.SetProgressFunc(func(engine.Progress) error { return cause })
	require.NoError(t, e.Add(x))

	c := runUntilDone(t, e)
	assert.Equal(t, engine.CodeAbortedByCallback, c.Code)
	assert.ErrorIs(t, c.Err, cause)
}

func TestConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	e := New(nil)
	defer e.Close()
	x := e.NewTransfer()
	require.NoError(t, x.SetOpt(engine.OptURL, "http://"+addr))
	require.NoError(t, e.Add(x))

	c := runUntilDone(t, e)
	assert.Equal(t, engine.CodeCouldntConnect, c.Code)
}

func TestRecursiveResume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	e := New(srv.Client())
	defer e.Close()
	x := e.NewTransfer()
	require.NoError(t, x.SetOpt(engine.OptURL, srv.URL))
	var resumeErr error
	x.SetWriteFunc(func(p []byte) int {
		resumeErr = x.Resume(engine.DirRecv)
		return len(p)
	})
	require.NoError(t, e.Add(x))

	runUntilDone(t, e)
	assert.ErrorIs(t, resumeErr, engine.ErrRecursiveResume)
}
