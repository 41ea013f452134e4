package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	c, err := New(3)
	require.NoError(t, err)
	defer c.Close()

	payload := bytes.Repeat([]byte{0x41}, 10*1024)
	compressed := c.Compress(payload)
	require.Less(t, len(compressed), len(payload), "repeated bytes should compress")

	out, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestEmptyPayload(t *testing.T) {
	c, err := New(1)
	require.NoError(t, err)
	defer c.Close()

	compressed := c.Compress(nil)
	out, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestLevelOutOfRange(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)
	_, err = New(23)
	require.Error(t, err)
}

func TestDecompressGarbage(t *testing.T) {
	c, err := New(5)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decompress([]byte("not zstd data"))
	require.Error(t, err)
}
