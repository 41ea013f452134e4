package handshake

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	c1, c2 := net.Pipe()
	return c1, c2
}

func TestFixedChunkSize(t *testing.T) {
	serverConn, clientConn := pipe(t)
	defer serverConn.Close()
	defer clientConn.Close()

	errc := make(chan error, 1)
	var serverRes *Result
	go func() {
		var err error
		serverRes, err = Server(serverConn, ServerConfig{ChunkSize: 512})
		errc <- err
	}()

	clientRes, err := Client(clientConn, ClientConfig{})
	require.NoError(t, err)
	require.NoError(t, <-errc)
	require.Equal(t, 512, clientRes.ChunkSize)
	require.Equal(t, 512, serverRes.ChunkSize)
}

func TestClientSuggestedChunkSize(t *testing.T) {
	serverConn, clientConn := pipe(t)
	defer serverConn.Close()
	defer clientConn.Close()

	errc := make(chan error, 1)
	var serverRes *Result
	go func() {
		var err error
		serverRes, err = Server(serverConn, ServerConfig{SuggestChunkSize: true})
		errc <- err
	}()

	clientRes, err := Client(clientConn, ClientConfig{PreferredChunkSize: 4096})
	require.NoError(t, err)
	require.NoError(t, <-errc)
	require.Equal(t, 4096, clientRes.ChunkSize)
	require.Equal(t, 4096, serverRes.ChunkSize)
}

func TestCompressionNegotiation(t *testing.T) {
	serverConn, clientConn := pipe(t)
	defer serverConn.Close()
	defer clientConn.Close()

	errc := make(chan error, 1)
	var serverRes *Result
	go func() {
		var err error
		serverRes, err = Server(serverConn, ServerConfig{ChunkSize: 1024, CompressionLevel: 3})
		errc <- err
	}()

	clientRes, err := Client(clientConn, ClientConfig{})
	require.NoError(t, err)
	require.NoError(t, <-errc)
	require.NotNil(t, clientRes.Codec)
	require.NotNil(t, serverRes.Codec)
	require.Equal(t, 3, clientRes.Codec.Level())
}

func TestRejectsNonRequestHead(t *testing.T) {
	serverConn, clientConn := pipe(t)
	defer serverConn.Close()
	defer clientConn.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := Server(serverConn, ServerConfig{ChunkSize: 1024})
		errc <- err
	}()

	bad, err := encodePadded(struct {
		Req string `json:"req"`
	}{Req: "not-a-request"}, 1024)
	require.NoError(t, err)
	_, err = clientConn.Write(bad)
	require.NoError(t, err)
	require.Error(t, <-errc)
}
