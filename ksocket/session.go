package ksocket

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kinuseka/KSockets/codec"
	"github.com/Kinuseka/KSockets/envelope"
	"github.com/Kinuseka/KSockets/internal/ksocketlog"
	"github.com/Kinuseka/KSockets/internal/wireconst"
	"github.com/Kinuseka/KSockets/ksockerr"
)

var sessionLog = ksocketlog.Bind("session")

// Session is the server's handle on one accepted client, grounded on
// rpc/client.go's Client type: a long-lived object wrapping a connection,
// with independent send/receive paths and a background goroutine (there,
// dispatch; here, liveness) that outlives any single call. Sessions are
// always referenced through a pointer — spec.md §5 requires that a
// reconnection swap the transport under existing holders rather than
// replace the Session itself, which only works if nobody ever copies one
// by value.
type Session struct {
	*wireConn

	id        Identity
	server    *Server
	isActive  atomic.Bool
	removed   atomic.Bool // permanently evicted from the server's registry
	createdAt time.Time

	livenessMu   sync.Mutex
	stopLiveness chan struct{}
	stopOnce     sync.Once // guards the current epoch's stopLiveness close
}

func newSession(id Identity, srv *Server, wc *wireConn) *Session {
	return &Session{
		wireConn:     wc,
		id:           id,
		server:       srv,
		createdAt:    time.Now(),
		stopLiveness: make(chan struct{}),
	}
}

// ID returns the session's assigned identity.
func (s *Session) ID() Identity { return s.id }

// RemoteAddr returns the underlying connection's remote address.
func (s *Session) RemoteAddr() net.Addr { return s.remoteAddr() }

// IsActive reports whether the session is still believed alive (has not
// missed its liveness check and has not been explicitly closed).
func (s *Session) IsActive() bool { return s.isActive.Load() }

// Send transmits v as a framed envelope to the client. Equivalent to the
// original's SocketServer.send(data, thread_lock=True).
func (s *Session) Send(v envelope.Value) (int, error) {
	if !s.isActive.Load() {
		return 0, &ksockerr.NotReadyError{Reason: "session is not active"}
	}
	n, err := s.send(v, true)
	if err != nil {
		s.markDead()
	}
	return n, err
}

// Receive blocks for exactly one message from the client, transparently
// swallowing liveness pings (current and legacy tokens) and handling an
// inbound DISCONNECT by closing the session and returning a
// *ksockerr.TransportError ("peer disconnected"). Control tokens are
// themselves envelope-wrapped strings on the wire, so Receive always unpacks
// first and only then checks the unpacked string against the control
// vocabulary, mirroring SimpleServer.receive (simplesocket.py:260-263).
func (s *Session) Receive() (envelope.Value, error) {
	for {
		v, err := s.receive(true, true)
		if err != nil {
			s.markDead()
			return envelope.Empty, err
		}

		if v.Type == envelope.TypeStr {
			switch {
			case wireconst.IsPing(v.Str):
				continue
			case wireconst.IsDisconnect(v.Str):
				s.closeLocal()
				return envelope.Empty, &ksockerr.TransportError{Err: fmt.Errorf("peer disconnected")}
			}
		}

		return v, nil
	}
}

// Close sends an orderly DISCONNECT token (best-effort) and permanently
// evicts the session from the server's registry. Idempotent: calling it
// more than once, or racing it against a peer-initiated disconnect
// observed by Receive, is safe.
func (s *Session) Close() error {
	first := !s.removed.Swap(true)
	s.stopLivenessEpoch()
	s.isActive.Store(false)
	if first {
		_, _ = s.send(envelope.StrValue(wireconst.Disconnect), true)
		s.server.removeSession(s)
	}
	return s.closeConn()
}

// closeLocal tears the session down without attempting to notify the peer,
// used when the peer is the one who said DISCONNECT: still a permanent,
// registry-evicting close, just without the redundant outbound token.
func (s *Session) closeLocal() {
	first := !s.removed.Swap(true)
	s.stopLivenessEpoch()
	s.isActive.Store(false)
	if first {
		s.server.removeSession(s)
	}
	_ = s.closeConn()
}

// markDead marks the session inactive after an unexpected transport error
// (a failed liveness ping, a broken read) without removing it from the
// server's registry: spec.md's reconnection flow depends on a dropped
// session staying resumable by identity until the peer either reconnects
// or sends an orderly DISCONNECT (closeLocal) or the server itself closes
// (Close).
func (s *Session) markDead() {
	s.stopLivenessEpoch()
	s.isActive.Store(false)
}

func (s *Session) stopLivenessEpoch() {
	s.livenessMu.Lock()
	defer s.livenessMu.Unlock()
	s.stopOnce.Do(func() { close(s.stopLiveness) })
}

// reconnect installs a freshly handshaken connection in place of the old
// one, for the REQ RECONN flow in server.go. The identity and registry
// entry are unchanged; only the transport is replaced, and a fresh
// liveness epoch begins.
func (s *Session) reconnect(conn net.Conn, chunkSize int, c *codec.Codec) {
	s.swap(conn, chunkSize, c)
	s.livenessMu.Lock()
	s.stopOnce = sync.Once{}
	s.stopLiveness = make(chan struct{})
	s.livenessMu.Unlock()
	s.isActive.Store(true)
}

// runLiveness pings the client at the configured interval and marks the
// session dead the first time a ping fails to go out, mirroring
// SocketServer's ping_thread loop. It exits without error when the current
// liveness epoch is stopped (explicit close, or superseded by reconnect).
func (s *Session) runLiveness(interval time.Duration) {
	s.livenessMu.Lock()
	stop := s.stopLiveness
	s.livenessMu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.send(envelope.StrValue(wireconst.Ping), true); err != nil {
				sessionLog.Debug().Str("id", s.id.String()).Err(err).Msg("liveness ping failed")
				s.markDead()
				return
			}
		}
	}
}
