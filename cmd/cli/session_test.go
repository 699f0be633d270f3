package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jaywantadh/xferstream/config"
	"github.com/jaywantadh/xferstream/internal/compressor"
	"github.com/jaywantadh/xferstream/internal/encryptor"
	"github.com/jaywantadh/xferstream/internal/engine"
	"github.com/jaywantadh/xferstream/internal/engine/httpengine"
	"github.com/jaywantadh/xferstream/internal/engine/simengine"
	"github.com/jaywantadh/xferstream/internal/history"
	"github.com/jaywantadh/xferstream/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Engine:             config.EngineSim,
		SinkHighWaterMark:  4096,
		UploadBufferSize:   1024,
		DownloadBufferSize: 1024,
		UserAgent:          "xferstream-test",
	}
}

func newTestSession(t *testing.T, respond simengine.Responder) (*session, *history.Store) {
	hist, err := history.OpenInMemory()
	require.NoError(t, err)
	s := newSession(testConfig(), simengine.New(respond), hist)
	t.Cleanup(func() { s.Close() })
	return s, hist
}

func TestSessionStreamsDownload(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 5000)
	s, hist := newTestSession(t, simengine.Static(200, http.Header{"Content-Type": {"text/plain"}}, body))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	resp, err := s.perform(ctx, request{
		URL: "http://sim/file",
		Sink: func(r io.Reader) error {
			_, err := io.Copy(&out, r)
			return err
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, body, out.Bytes())

	records, err := hist.List(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "GET", records[0].Method)
	assert.Equal(t, int64(len(body)), records[0].Downloaded)
	assert.True(t, records[0].Succeeded())
}

func TestSessionStreamsUpload(t *testing.T) {
	data := []byte(strings.Repeat("upload me ", 3000))
	s, hist := newTestSession(t, simengine.Echo())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := s.perform(ctx, request{
		URL:      "http://sim/echo",
		Body:     bytes.NewReader(data),
		BodySize: int64(len(data)),
	})
	require.NoError(t, err)
	assert.Equal(t, data, resp.Body)

	records, err := hist.List(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "PUT", records[0].Method)
	assert.Equal(t, int64(len(data)), records[0].Uploaded)
}

func TestSessionSinkFailureAbortsTransfer(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 100_000)
	s, hist := newTestSession(t, simengine.Static(200, nil, body))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	diskFull := errors.New("disk full")
	_, err := s.perform(ctx, request{
		URL: "http://sim/file",
		Sink: func(r io.Reader) error {
			buf := make([]byte, 100)
			if _, err := r.Read(buf); err != nil {
				return err
			}
			return diskFull
		},
	})
	assert.ErrorIs(t, err, diskFull)

	records, err := hist.List(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int(engine.CodeAbortedByCallback), records[0].Code)
	assert.Equal(t, "disk full", records[0].Error)
}

func TestSessionNoBodyResponse(t *testing.T) {
	s, _ := newTestSession(t, simengine.Static(204, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	consumed := false
	resp, err := s.perform(ctx, request{
		URL: "http://sim/empty",
		Sink: func(r io.Reader) error {
			consumed = true
			n, err := io.Copy(io.Discard, r)
			assert.Zero(t, n)
			return err
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 204, resp.Status)
	assert.True(t, consumed)
}

func TestSessionStopsWaitingForConsumerOnCancel(t *testing.T) {
	s, _ := newTestSession(t, simengine.Static(200, nil, []byte("body")))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	hold := make(chan struct{})
	defer close(hold)
	resp, err := s.perform(ctx, request{
		URL: "http://sim/file",
		Sink: func(r io.Reader) error {
			if _, err := io.ReadAll(r); err != nil {
				return err
			}
			<-hold
			return nil
		},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, resp)
	assert.Equal(t, 200, resp.Status)
}

type closeRecorder struct {
	io.Reader
	once   sync.Once
	closed chan struct{}
}

func (c *closeRecorder) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestUploadSourceReleasedWhenServerAnswersEarly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()
	s := newSession(testConfig(), httpengine.New(srv.Client()), nil)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const size = 8 << 20
	body := &closeRecorder{Reader: bytes.NewReader(make([]byte, size)), closed: make(chan struct{})}
	_, _ = s.perform(ctx, request{URL: srv.URL, Method: http.MethodPut, Body: body, BodySize: size})

	select {
	case <-body.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("upload body still open after the transfer finished")
	}
}

func TestSessionEncryptedEcho(t *testing.T) {
	plain := bytes.Repeat([]byte("sealed payload "), 20000)
	s, _ := newTestSession(t, simengine.Echo())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sealed := encryptor.EncryptReader(bytes.NewReader(plain), "s3cret")
	defer sealed.Close()

	var out bytes.Buffer
	_, err := s.perform(ctx, request{
		URL:      "http://sim/echo",
		Body:     sealed,
		BodySize: -1,
		Sink: func(r io.Reader) error {
			return copyBody(&out, r, bodyCodec{password: "s3cret"})
		},
	})
	require.NoError(t, err)
	assert.Equal(t, plain, out.Bytes())
}

func TestSaveBodyDecompressesAndStores(t *testing.T) {
	plain := bytes.Repeat([]byte("stored content "), 500)
	packed, err := io.ReadAll(compressor.CompressReader(bytes.NewReader(plain)))
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "blobs")
	st, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	var out bytes.Buffer
	id, err := saveBody(bytes.NewReader(packed), &out, bodyCodec{lz4: true}, st)
	require.NoError(t, err)
	assert.Equal(t, plain, out.Bytes())
	assert.True(t, st.Has(id))
	assert.FileExists(t, filepath.Join(dir, id))
}

func TestPutFromStoreEncrypted(t *testing.T) {
	dir := t.TempDir()
	blobs := filepath.Join(dir, "blobs")
	st, err := storage.NewLocalStorage(blobs)
	require.NoError(t, err)
	plain := bytes.Repeat([]byte("stored blob "), 10000)
	id, err := st.Put(bytes.NewReader(plain))
	require.NoError(t, err)

	t.Setenv(passwordEnv, "s3cret")
	t.Setenv("XFER_HISTORY_PATH", filepath.Join(dir, "history"))

	app := newApp()
	var out bytes.Buffer
	app.Writer, app.ErrWriter = &out, io.Discard
	require.NoError(t, app.Run([]string{
		"xferstream", "--config", dir, "--engine", "sim",
		"put", "--from-store", id, "--store", blobs, "--encrypt", "http://sim/echo",
	}))

	assert.NotEqual(t, plain, out.Bytes())
	var opened bytes.Buffer
	require.NoError(t, encryptor.Decrypt(&opened, &out, "s3cret"))
	assert.Equal(t, plain, opened.Bytes())
}

func TestPutRequiresOneSource(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XFER_HISTORY_PATH", filepath.Join(dir, "history"))

	app := newApp()
	app.Writer, app.ErrWriter = io.Discard, io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run([]string{"xferstream", "--config", dir, "--engine", "sim", "put", "http://sim/echo"})
	assert.ErrorContains(t, err, "--file or --from-store")
}

func TestPrintHistory(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	require.NoError(t, printHistory(&out, []history.CompletionRecord{{
		URL: "http://sim/x", Method: "GET", Status: 200, Downloaded: 10,
		StartedAt: at, FinishedAt: at.Add(time.Second),
	}}))
	assert.Contains(t, out.String(), "http://sim/x")
	assert.Contains(t, out.String(), "2024-05-01 12:00:00")
}
