package transfer

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultSlotFirstWins(t *testing.T) {
	var f faultSlot
	first, second := errors.New("first"), errors.New("second")

	assert.True(t, f.record(first, true))
	assert.False(t, f.record(second, true))
	_, ok := f.raisedExplicit()
	assert.False(t, ok, "not raised yet")

	assert.Same(t, first, f.take())
	assert.Nil(t, f.take(), "handed out once")
	err, ok := f.raisedExplicit()
	require.True(t, ok)
	assert.Same(t, first, err)
}

func TestFaultSlotSynthesized(t *testing.T) {
	var f faultSlot
	f.record(ErrSinkDestroyed, false)
	assert.Equal(t, ErrSinkDestroyed, f.take())
	_, ok := f.raisedExplicit()
	assert.False(t, ok)
}

func TestPauseState(t *testing.T) {
	var p pauseState
	assert.False(t, p.resume())
	assert.False(t, p.takeRequest())

	p.pause()
	assert.True(t, p.resume())
	assert.Equal(t, flowing, p)

	p.pause()
	prev, err := p.request()
	require.NoError(t, err)
	assert.Equal(t, paused, prev)
	assert.False(t, p.resume(), "requested pause survives resume")

	prev, err = p.request()
	assert.ErrorIs(t, err, errPauseRequested)
	assert.Equal(t, pauseRequested, prev)
	assert.Equal(t, pauseRequested, p)

	assert.True(t, p.takeRequest())
	assert.Equal(t, paused, p)
}

func TestFeatures(t *testing.T) {
	var fs Features
	require.NoError(t, fs.Enable(FeatureNoDataStorage))
	assert.True(t, fs.NoDataParsing)
	assert.ErrorIs(t, fs.Disable(FeatureNoDataParsing), ErrFeatureConflict)
	require.NoError(t, fs.Disable(FeatureNoDataStorage))
	require.NoError(t, fs.Disable(FeatureNoDataParsing))

	require.NoError(t, fs.Enable(FeatureNoHeaderStorage))
	assert.True(t, fs.NoHeaderParsing)
	assert.NoError(t, fs.Validate())

	assert.ErrorIs(t, fs.Enable(Feature(99)), ErrUnknownFeature)
	assert.ErrorIs(t, Features{NoDataStorage: true}.Validate(), ErrFeatureConflict)
	assert.ErrorIs(t, Features{NoHeaderStorage: true}.Validate(), ErrFeatureConflict)
}

func TestParseHeaders(t *testing.T) {
	raw := "HTTP/1.1 301 Moved Permanently\r\n" +
		"Location: /next\r\n" +
		"\r\n" +
		"HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"X-Multi: a\r\n" +
		"X-Multi: b\r\n" +
		"\r\n"

	hs := ParseHeaders([]byte(raw))
	require.Len(t, hs, 2)
	assert.Equal(t, "/next", hs[0].Get("Location"))
	assert.Equal(t, "text/plain", hs[1].Get("Content-Type"))
	assert.Equal(t, []string{"a", "b"}, hs[1].Values("X-Multi"))
	assert.Nil(t, ParseHeaders(nil))
	assert.Equal(t, []http.Header(nil), ParseHeaders([]byte("garbage\r\n")))
}
