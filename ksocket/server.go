// Package ksocket implements the session manager and session layer
// described in spec.md §4.E: accepting clients, minting identities,
// keeping a registry, pinging for liveness, and allowing a dropped client
// to resume its identity on a fresh connection.
//
// It is grounded on rpc/server.go's Server type (a registry of active
// connections plus a codec-per-connection model) and rpc/client.go's
// Client (a long-lived wrapper around one connection with background
// goroutines). The multicast fan-out is grounded on eth/filters-style
// fan-out-to-subscribers code, implemented here with JekaMas/workerpool
// instead of a raw goroutine-per-subscriber loop so the fan-out has a
// bounded worker count under a large registry.
package ksocket

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/JekaMas/workerpool"

	"github.com/Kinuseka/KSockets/envelope"
	"github.com/Kinuseka/KSockets/handshake"
	"github.com/Kinuseka/KSockets/internal/ksocketlog"
	"github.com/Kinuseka/KSockets/internal/wireconst"
	"github.com/Kinuseka/KSockets/ksockerr"
)

var serverLog = ksocketlog.Bind("server")

// DualStack selects the address family a Server listens on, grounded on
// golang.org/x/sys/unix's IPV6_V6ONLY socket-option knob that the original
// exposed as a dual_stack boolean.
type DualStack int

const (
	// DualStackAuto lets the platform default decide (Go's net package
	// already binds dual-stack by default for "tcp"/"" on most platforms).
	DualStackAuto DualStack = iota
	// DualStackIPv4Only forces an IPv4-only listener ("tcp4").
	DualStackIPv4Only
	// DualStackIPv6Only forces an IPv6-only listener ("tcp6").
	DualStackIPv6Only
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// ChunkSize is the chunk size the server advertises during handshake.
	// Zero uses wireconst.DefaultChunkSize; a value below
	// wireconst.HeaderWidth makes every handshake fail. Ignored when
	// SuggestChunkSize is true.
	ChunkSize int
	// SuggestChunkSize, if true, lets each connecting client pick its own
	// chunk size instead of the server dictating ChunkSize.
	SuggestChunkSize bool
	// CompressionLevel, if > 0, negotiates zstd at this level with every
	// client. Zero disables compression.
	CompressionLevel int
	// ProxyAware enables PROXY v1/v2 preamble parsing ahead of the
	// handshake, for deployments that sit behind a TCP load balancer.
	ProxyAware bool
	// LivenessInterval is how often each session is pinged. Zero uses
	// wireconst.DefaultLivenessIntervalSeconds.
	LivenessInterval time.Duration
	// DualStack selects the listening address family.
	DualStack DualStack
	// MulticastWorkers bounds the worker pool used by Multicast. Zero uses
	// a pool sized to 8 workers.
	MulticastWorkers int
}

// Server accepts client connections, performs the handshake, assigns each
// an Identity, and keeps a registry of active Sessions.
type Server struct {
	cfg ServerConfig

	listener net.Listener

	mu       sync.RWMutex
	sessions map[Identity]*Session

	pool *workerpool.WorkerPool

	closed chan struct{}
}

// NewServer constructs a Server bound to no listener yet; call Listen to
// bind and AcceptLoop to start accepting.
func NewServer(cfg ServerConfig) *Server {
	workers := cfg.MulticastWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Server{
		cfg:      cfg,
		sessions: make(map[Identity]*Session),
		pool:     workerpool.New(workers),
		closed:   make(chan struct{}),
	}
}

// Listen binds the server's listener on addr ("host:port").
func (s *Server) Listen(addr string) error {
	network := "tcp"
	switch s.cfg.DualStack {
	case DualStackIPv4Only:
		network = "tcp4"
	case DualStackIPv6Only:
		network = "tcp6"
	}
	l, err := listenWithConfig(network, addr, s.cfg.DualStack)
	if err != nil {
		return &ksockerr.TransportError{Err: err}
	}
	s.listener = l
	serverLog.Info().Str("addr", l.Addr().String()).Msg("listening")
	return nil
}

// Addr returns the bound listener's address. Listen must be called first.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// AcceptLoop repeatedly accepts connections until the server is closed,
// invoking onSession for each newly accepted or reconnected session. Each
// Accept attempt waits at most 0.5s (a listener deadline) before the loop
// checks for Close again, and a failed Accept is followed by a 0.5s sleep,
// rather than blocking indefinitely in Accept, mirroring the original
// accept loop's non-blocking-socket-plus-0.5s-sleep design (see
// SPEC_FULL.md §4.E): the fixed poll interval is a deliberate,
// documented choice rather than an oversight, so it is preserved here
// instead of "fixed" into a bare blocking Accept.
func (s *Server) AcceptLoop(onSession func(*Session)) error {
	type deadliner interface {
		SetDeadline(t time.Time) error
	}
	dl, hasDeadline := s.listener.(deadliner)

	for {
		select {
		case <-s.closed:
			return nil
		default:
		}

		if hasDeadline {
			_ = dl.SetDeadline(time.Now().Add(500 * time.Millisecond))
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.closed:
				return nil
			default:
			}
			serverLog.Warn().Err(err).Msg("accept failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		go s.handleAccepted(conn, onSession)
	}
}

func (s *Server) handleAccepted(conn net.Conn, onSession func(*Session)) {
	hres, err := handshake.Server(conn, handshake.ServerConfig{
		ChunkSize:        s.cfg.ChunkSize,
		SuggestChunkSize: s.cfg.SuggestChunkSize,
		CompressionLevel: s.cfg.CompressionLevel,
		ProxyAware:       s.cfg.ProxyAware,
	})
	if err != nil {
		serverLog.Debug().Err(err).Msg("handshake failed")
		_ = conn.Close()
		return
	}

	wc := newWireConn(conn, hres.ChunkSize, hres.Codec)

	sess, err := s.negotiateIdentity(wc)
	if err != nil {
		serverLog.Debug().Err(err).Msg("identity negotiation failed")
		_ = conn.Close()
		return
	}

	interval := s.cfg.LivenessInterval
	if interval <= 0 {
		interval = wireconst.DefaultLivenessIntervalSeconds * time.Second
	}
	go sess.runLiveness(interval)

	onSession(sess)
}

// negotiateIdentity runs the HelloAck / ASK ID / REQ RECONN exchange that
// follows the transport handshake, grounded on the original's accept()
// (simplesocket.py:300-308): first a HelloAck round trip confirms both ends
// are ready, then a brand-new client sends ASK ID (or a legacy synonym) and
// is minted a fresh Identity, while a reconnecting client instead sends a
// {"cmd":"REQ RECONN","id":<id>} command envelope and, if that id is still
// registered and inactive, has its Session's transport swapped in place. An
// unknown or still-active id gets RECONN DE and the connection is rejected.
func (s *Server) negotiateIdentity(wc *wireConn) (*Session, error) {
	hello, err := wc.receive(true, true)
	if err != nil {
		return nil, err
	}
	if hello.Type != envelope.TypeStr || !wireconst.IsHello(hello.Str) {
		return nil, &ksockerr.ProtocolMismatchError{Reason: fmt.Sprintf("expected HelloAck, got %q", hello.Str)}
	}
	if _, err := wc.send(envelope.StrValue(wireconst.HelloAck), true); err != nil {
		return nil, err
	}

	v, err := wc.receive(true, true)
	if err != nil {
		return nil, err
	}

	if v.Type == envelope.TypeStr && wireconst.IsAskID(v.Str) {
		id := NewIdentity()
		sess := newSession(id, s, wc)
		sess.isActive.Store(true)

		reply, err := json.Marshal(struct {
			ID string `json:"ID"`
		}{ID: id.Int().String()})
		if err != nil {
			return nil, err
		}
		if _, err := wc.send(envelope.JSONValue(reply), true); err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.sessions[id] = sess
		s.mu.Unlock()
		return sess, nil
	}

	if v.Type == envelope.TypeJSON {
		var cmd reconnectCommand
		if err := json.Unmarshal(v.JSON, &cmd); err == nil && cmd.Cmd == wireconst.ReqReconnect {
			id, perr := parseIdentityString(cmd.ID)
			if perr != nil {
				_, _ = wc.send(envelope.StrValue(wireconst.ReconnectDenied), true)
				return nil, &ksockerr.ReconnectionDeniedError{Identity: cmd.ID}
			}

			s.mu.RLock()
			sess, ok := s.sessions[id]
			s.mu.RUnlock()

			if !ok || sess.IsActive() {
				_, _ = wc.send(envelope.StrValue(wireconst.ReconnectDenied), true)
				return nil, &ksockerr.ReconnectionDeniedError{Identity: cmd.ID}
			}

			conn, chunkSize, c := wc.snapshot()
			sess.reconnect(conn, chunkSize, c)
			if _, err := sess.send(envelope.StrValue(wireconst.ReconnectOK), true); err != nil {
				return nil, err
			}
			return sess, nil
		}
	}

	return nil, &ksockerr.ProtocolMismatchError{Reason: "unexpected identity negotiation payload"}
}

func parseIdentityString(s string) (Identity, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return ZeroIdentity, fmt.Errorf("invalid identity %q", s)
	}
	return IdentityFromInt(n), nil
}

// FindByID looks up a registered session by identity.
func (s *Server) FindByID(id Identity) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns a snapshot slice of all currently registered sessions.
func (s *Server) Sessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

// Multicast fans v out to every registered session except (optionally)
// except, using a bounded worker pool so a registry of thousands of
// sessions doesn't spawn thousands of goroutines for one broadcast.
func (s *Server) Multicast(v envelope.Value, except *Session) {
	s.mu.RLock()
	targets := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess == except {
			continue
		}
		targets = append(targets, sess)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(len(targets))
	for _, sess := range targets {
		sess := sess
		s.pool.Submit(func() {
			defer wg.Done()
			if _, err := sess.Send(v); err != nil {
				serverLog.Debug().Str("id", sess.id.String()).Err(err).Msg("multicast send failed")
			}
		})
	}
	wg.Wait()
}

// Close stops accepting, closes every registered session, and shuts down
// the multicast worker pool.
func (s *Server) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, sess := range s.Sessions() {
		_ = sess.Close()
	}
	s.pool.StopWait()
	return nil
}
