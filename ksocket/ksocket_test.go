package ksocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Kinuseka/KSockets/envelope"
)

func startEchoServer(t *testing.T, cfg ServerConfig) (*Server, chan *Session) {
	t.Helper()
	srv := NewServer(cfg)
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	accepted := make(chan *Session, 8)
	go func() {
		_ = srv.AcceptLoop(func(sess *Session) {
			accepted <- sess
		})
	}()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, accepted
}

func TestDialAssignsIdentity(t *testing.T) {
	srv, accepted := startEchoServer(t, ServerConfig{ChunkSize: 1024})

	cli, err := Dial(ClientConfig{Addr: srv.Addr().String()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	sess := <-accepted
	require.Equal(t, cli.ID(), sess.ID())
	require.True(t, sess.IsActive())
}

func TestSendReceiveRoundTrip(t *testing.T) {
	srv, accepted := startEchoServer(t, ServerConfig{ChunkSize: 1024})
	_ = srv

	cli, err := Dial(ClientConfig{Addr: srv.Addr().String()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	sess := <-accepted

	go func() {
		v, err := sess.Receive()
		if err != nil {
			return
		}
		_, _ = sess.Send(v)
	}()

	_, err = cli.Send(envelope.StrValue("hello"))
	require.NoError(t, err)

	reply, err := cli.Receive()
	require.NoError(t, err)
	require.Equal(t, envelope.TypeStr, reply.Type)
	require.Equal(t, "hello", reply.Str)
}

func TestCompressedRoundTrip(t *testing.T) {
	srv, accepted := startEchoServer(t, ServerConfig{ChunkSize: 1024, CompressionLevel: 3})

	cli, err := Dial(ClientConfig{Addr: srv.Addr().String()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	sess := <-accepted

	go func() {
		v, err := sess.Receive()
		if err != nil {
			return
		}
		_, _ = sess.Send(v)
	}()

	payload := envelope.JSONValue([]byte(`{"a":1,"b":[1,2,3]}`))
	_, err = cli.Send(payload)
	require.NoError(t, err)

	reply, err := cli.Receive()
	require.NoError(t, err)
	require.Equal(t, envelope.TypeJSON, reply.Type)
	require.JSONEq(t, `{"a":1,"b":[1,2,3]}`, string(reply.JSON))
}

func TestClientCloseIsObservedByServer(t *testing.T) {
	srv, accepted := startEchoServer(t, ServerConfig{ChunkSize: 1024})
	_ = srv

	cli, err := Dial(ClientConfig{Addr: srv.Addr().String()})
	require.NoError(t, err)
	sess := <-accepted

	done := make(chan error, 1)
	go func() {
		_, err := sess.Receive()
		done <- err
	}()

	require.NoError(t, cli.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe client disconnect")
	}
}

func TestMulticastExcludesSender(t *testing.T) {
	srv, accepted := startEchoServer(t, ServerConfig{ChunkSize: 1024})

	var clients []*Client
	var sessions []*Session
	for i := 0; i < 3; i++ {
		cli, err := Dial(ClientConfig{Addr: srv.Addr().String()})
		require.NoError(t, err)
		clients = append(clients, cli)
		sessions = append(sessions, <-accepted)
	}
	t.Cleanup(func() {
		for _, c := range clients {
			_ = c.Close()
		}
	})

	srv.Multicast(envelope.StrValue("broadcast"), sessions[0])

	for i, c := range clients {
		if i == 0 {
			continue
		}
		v, err := c.Receive()
		require.NoError(t, err)
		require.Equal(t, "broadcast", v.Str)
	}
}

func TestReconnectResumesIdentity(t *testing.T) {
	srv, accepted := startEchoServer(t, ServerConfig{ChunkSize: 1024})

	cli, err := Dial(ClientConfig{Addr: srv.Addr().String()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	sess := <-accepted

	// Simulate an unexpected drop (not an orderly DISCONNECT): the
	// underlying transport is yanked out from under the session, which is
	// what a failed liveness ping would also observe.
	require.NoError(t, sess.closeConn())
	sess.markDead()
	require.False(t, sess.IsActive())

	require.NoError(t, cli.Reconnect())

	newSess, ok := srv.FindByID(cli.ID())
	require.True(t, ok)
	require.Same(t, sess, newSess)
	require.True(t, newSess.IsActive())

	go func() {
		v, err := newSess.Receive()
		if err != nil {
			return
		}
		_, _ = newSess.Send(v)
	}()

	_, err = cli.Send(envelope.StrValue("after-reconnect"))
	require.NoError(t, err)
	reply, err := cli.Receive()
	require.NoError(t, err)
	require.Equal(t, "after-reconnect", reply.Str)
}
