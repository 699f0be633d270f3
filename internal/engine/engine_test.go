package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsSet(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		o := DefaultOptions()
		require.NoError(t, o.Set(OptURL, "http://example.test/x"))
		require.NoError(t, o.Set(OptUpload, true))
		require.NoError(t, o.Set(OptInFileSize, 3072))
		require.NoError(t, o.Set(OptUploadBufferSize, 512))
		require.NoError(t, o.Set(OptTimeout, 2*time.Second))
		require.NoError(t, o.Set(OptHTTPHeader, []string{"X-A: 1"}))

		assert.Equal(t, "http://example.test/x", o.URL)
		assert.Equal(t, int64(3072), o.InFileSize)
		assert.Equal(t, 512, o.UploadBufferSize)
		assert.Equal(t, "PUT", o.RequestMethod())
	})

	t.Run("WrongType", func(t *testing.T) {
		o := DefaultOptions()
		err := o.Set(OptURL, 42)
		require.Error(t, err)
		assert.Equal(t, CodeBadFunctionArgument, CodeOf(err))
	})

	t.Run("BadValue", func(t *testing.T) {
		o := DefaultOptions()
		assert.Equal(t, CodeBadFunctionArgument, CodeOf(o.Set(OptBufferSize, 0)))
		assert.Equal(t, CodeBadFunctionArgument, CodeOf(o.Set(OptTimeout, -time.Second)))
		assert.Equal(t, DefaultBufferSize, o.BufferSize)
	})

	t.Run("Unknown", func(t *testing.T) {
		o := DefaultOptions()
		assert.Equal(t, CodeUnknownOption, CodeOf(o.Set(Option(999), true)))
	})
}

func TestRequestMethod(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, "GET", o.RequestMethod())
	o.Upload = true
	assert.Equal(t, "PUT", o.RequestMethod())
	o.Method = "POST"
	assert.Equal(t, "POST", o.RequestMethod())
}

func TestError(t *testing.T) {
	cause := errors.New("sink went away")
	err := fmt.Errorf("transfer: %w", NewError(CodeAbortedByCallback, cause))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeAbortedByCallback, CodeOf(err))
	assert.Contains(t, err.Error(), "(42)")
	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.Equal(t, CodeBadFunctionArgument, CodeOf(cause))
	assert.Equal(t, "unknown error code 999", Code(999).String())
}
