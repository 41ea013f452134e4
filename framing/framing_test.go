package framing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Kinuseka/KSockets/codec"
	"github.com/Kinuseka/KSockets/internal/wireconst"
)

func TestRoundTripNoCompression(t *testing.T) {
	for _, chunkSize := range []int{64, 128, 1024, 65536} {
		for _, size := range []int{0, 1, chunkSize, chunkSize + 1, 2 * chunkSize} {
			payload := bytes.Repeat([]byte{0x5A}, size)
			var buf bytes.Buffer
			n, err := SendAll(&buf, payload, nil, chunkSize)
			require.NoError(t, err)
			require.Equal(t, len(payload), n)

			got, err := ReceiveAll(&buf, nil, chunkSize)
			require.NoError(t, err)
			require.Equal(t, payload, got)
		}
	}
}

func TestRoundTripWithCompression(t *testing.T) {
	c, err := codec.New(3)
	require.NoError(t, err)
	defer c.Close()

	payload := bytes.Repeat([]byte{0x41}, 10*1024)
	var buf bytes.Buffer
	_, err = SendAll(&buf, payload, c, 1024)
	require.NoError(t, err)
	require.Less(t, buf.Len(), len(payload))

	got, err := ReceiveAll(&buf, c, 1024)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestHeaderWidthExact(t *testing.T) {
	var buf bytes.Buffer
	_, err := SendAll(&buf, []byte("hello"), nil, 1024)
	require.NoError(t, err)
	require.Equal(t, wireconst.HeaderWidth+len("hello"), buf.Len())
	hdr := buf.Bytes()[:wireconst.HeaderWidth]
	require.Contains(t, string(hdr), "}")
	require.Equal(t, byte(' '), hdr[len(hdr)-1])
}

func TestChunkEnforcement(t *testing.T) {
	// Fabricate a header claiming r > receiver's chunk size; the receiver
	// must bail without consuming the advertised body.
	var buf bytes.Buffer
	_, err := SendAll(&buf, bytes.Repeat([]byte{1}, 4096), nil, 4096)
	require.NoError(t, err)

	_, err = ReceiveAll(&buf, nil, 1024)
	require.Error(t, err)
}

func TestMalformedHeader(t *testing.T) {
	garbage := bytes.Repeat([]byte{' '}, wireconst.HeaderWidth)
	r := bytes.NewReader(garbage)
	_, err := ReceiveAll(r, nil, 1024)
	require.Error(t, err)
}

func TestEOFBeforeHeaderComplete(t *testing.T) {
	short := make([]byte, wireconst.HeaderWidth-1)
	r := bytes.NewReader(short)
	_, err := ReceiveAll(r, nil, 1024)
	require.Error(t, err)
}

func TestMissingKey(t *testing.T) {
	hdr := []byte(`{"a":5}`)
	padded := make([]byte, wireconst.HeaderWidth)
	copy(padded, hdr)
	for i := len(hdr); i < len(padded); i++ {
		padded[i] = ' '
	}
	r := bytes.NewReader(padded)
	_, err := ReceiveAll(r, nil, 1024)
	require.Error(t, err)
}
