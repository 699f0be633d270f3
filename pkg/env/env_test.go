package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("XFERSTREAM_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("XFERSTREAM_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("XFERSTREAM_TEST_MISSING", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("XFERSTREAM_TEST_INT", "42")
	t.Setenv("XFERSTREAM_TEST_BAD", "forty-two")

	assert.Equal(t, 42, GetEnvInt("XFERSTREAM_TEST_INT", 7))
	assert.Equal(t, 7, GetEnvInt("XFERSTREAM_TEST_BAD", 7))
	assert.Equal(t, 7, GetEnvInt("XFERSTREAM_TEST_MISSING", 7))
}
