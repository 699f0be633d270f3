package transfer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jaywantadh/xferstream/internal/engine"
	"github.com/jaywantadh/xferstream/internal/engine/httpengine"
	"github.com/jaywantadh/xferstream/internal/loop"
	"github.com/jaywantadh/xferstream/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamingOverHTTP(t *testing.T) {
	data := payload(300_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("X-Received", http.StatusText(http.StatusOK))
			_, _ = w.Write(body)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	l := loop.New()
	d := NewDispatcher(l, httpengine.New(srv.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	t.Run("download", func(t *testing.T) {
		sinks := make(chan *stream.Readable, 1)
		ends := make(chan *Response, 1)
		require.NoError(t, l.Call(ctx, func() {
			h := NewHandle(d)
			require.NoError(t, h.SetOpt(engine.OptURL, srv.URL))
			require.NoError(t, h.EnableFeature(FeatureStreamResponse))
			require.NoError(t, h.SetSinkBufferThreshold(8192))
			h.OnStream(func(s *stream.Readable, _ int, _ []http.Header) { sinks <- s })
			h.OnEnd(func(r *Response) { ends <- r })
			h.OnError(func(err error, _ engine.Code) { t.Errorf("download failed: %v", err) })
			require.NoError(t, h.Perform())
		}))

		var sink *stream.Readable
		select {
		case sink = <-sinks:
		case <-ctx.Done():
			t.Fatal("no sink announced")
		}
		got, err := io.ReadAll(sink)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got))

		select {
		case r := <-ends:
			assert.Equal(t, http.StatusOK, r.Status)
		case <-ctx.Done():
			t.Fatal("download did not complete")
		}
	})

	t.Run("upload", func(t *testing.T) {
		ends := make(chan *Response, 1)
		require.NoError(t, l.Call(ctx, func() {
			h := NewHandle(d)
			require.NoError(t, h.SetOpt(engine.OptURL, srv.URL))
			require.NoError(t, h.SetOpt(engine.OptUpload, true))
			require.NoError(t, h.SetOpt(engine.OptInFileSize, int64(len(data))))
			src := stream.FromReader(l, bytes.NewReader(data), 5000, 16*1024)
			require.NoError(t, h.AttachUploadSource(src))
			h.OnEnd(func(r *Response) { ends <- r })
			h.OnError(func(err error, _ engine.Code) { t.Errorf("upload failed: %v", err) })
			require.NoError(t, h.Perform())
		}))

		select {
		case r := <-ends:
			assert.Equal(t, http.StatusOK, r.Status)
			assert.True(t, bytes.Equal(data, r.Body))
			require.NotEmpty(t, r.Headers)
			assert.Equal(t, "OK", r.Headers[len(r.Headers)-1].Get("X-Received"))
		case <-ctx.Done():
			t.Fatal("upload did not complete")
		}
	})
}
