package cryptoadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	c := New()
	a, err := c.Hash("sha256", []byte("hello"))
	require.NoError(t, err)
	b, err := c.Hash("sha256", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashUnsupportedAlgorithm(t *testing.T) {
	c := New()
	_, err := c.Hash("md5", []byte("hello"))
	assert.Error(t, err)
}

func TestHMACUnsupportedAlgorithm(t *testing.T) {
	c := New()
	_, err := c.HMAC("md5", []byte("key"), []byte("data"))
	assert.Error(t, err)
}

func TestConstantTimeEqual(t *testing.T) {
	c := New()
	assert.True(t, c.ConstantTimeEqual([]byte("abc"), []byte("abc")))
	assert.False(t, c.ConstantTimeEqual([]byte("abc"), []byte("abd")))
	assert.False(t, c.ConstantTimeEqual([]byte("abc"), []byte("ab")))
}
