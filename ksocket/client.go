package ksocket

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"

	"github.com/Kinuseka/KSockets/envelope"
	"github.com/Kinuseka/KSockets/handshake"
	"github.com/Kinuseka/KSockets/internal/ksocketlog"
	"github.com/Kinuseka/KSockets/internal/wireconst"
	"github.com/Kinuseka/KSockets/ksockerr"
)

var clientLog = ksocketlog.Bind("client")

// ClientConfig configures a Client's connection and handshake behavior.
type ClientConfig struct {
	// Addr is the "host:port" to dial.
	Addr string
	// PreferredChunkSize is offered to the server only if the server asks
	// the client to suggest one.
	PreferredChunkSize int
	// TLSConfig, if non-nil, upgrades the dial to TLS. Whether the server
	// skips PROXY preamble parsing is decided server-side by
	// handshake.ServerConfig.IsTLS, not by this setting.
	TLSConfig *tls.Config
	// Dial overrides how the raw connection is established; nil uses
	// net.Dial("tcp", Addr) or tls.Dial when TLSConfig is set.
	Dial func() (net.Conn, error)
}

// Client is the client side of a session: a long-lived connection to a
// Server that can re-establish itself after a transport drop when the
// caller invokes Reconnect, grounded on rpc/client.go's Client (the reconnect-on-demand model
// there is "new dialer on name resolution failure"; here it is "REQ
// RECONN with the previously issued identity").
type Client struct {
	*wireConn

	cfg ClientConfig
	id  Identity
}

// Dial connects to cfg.Addr, performs the transport handshake, exchanges
// HelloAck to confirm both ends are ready, asks for a fresh identity, and
// returns a ready-to-use Client. Grounded on the original's connect()
// (simplesocket.py:49-52), which sends HelloAck before ever asking for an
// identity.
func Dial(cfg ClientConfig) (*Client, error) {
	conn, err := dialConn(cfg)
	if err != nil {
		return nil, &ksockerr.TransportError{Err: err}
	}

	hres, err := handshake.Client(conn, handshake.ClientConfig{PreferredChunkSize: cfg.PreferredChunkSize})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	wc := newWireConn(conn, hres.ChunkSize, hres.Codec)
	if err := exchangeHello(wc); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := wc.send(envelope.StrValue(wireconst.AskID), true); err != nil {
		_ = conn.Close()
		return nil, err
	}
	idResp, err := wc.receive(true, true)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	id, err := parseIdentityReply(idResp)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	clientLog.Info().Str("id", id.String()).Msg("connected")
	return &Client{wireConn: wc, cfg: cfg, id: id}, nil
}

// exchangeHello sends the HelloAck readiness token and waits for the peer's
// matching reply, the two-step liveness check spec.md §4.E requires before
// any identity negotiation.
func exchangeHello(wc *wireConn) error {
	if _, err := wc.send(envelope.StrValue(wireconst.HelloAck), true); err != nil {
		return err
	}
	reply, err := wc.receive(true, true)
	if err != nil {
		return err
	}
	if reply.Type != envelope.TypeStr || !wireconst.IsHello(reply.Str) {
		return &ksockerr.ProtocolMismatchError{Reason: fmt.Sprintf("expected HelloAck, got %q", reply.Str)}
	}
	return nil
}

// parseIdentityReply decodes the server's {"ID": "<big-int>"} reply, carried
// as a JSON-typed envelope value.
func parseIdentityReply(v envelope.Value) (Identity, error) {
	if v.Type != envelope.TypeJSON {
		return ZeroIdentity, &ksockerr.ProtocolMismatchError{Reason: "malformed identity response"}
	}
	var idResp struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(v.JSON, &idResp); err != nil {
		return ZeroIdentity, &ksockerr.ProtocolMismatchError{Reason: "malformed identity response", Err: err}
	}
	id, err := parseIdentityString(idResp.ID)
	if err != nil {
		return ZeroIdentity, &ksockerr.ProtocolMismatchError{Reason: "malformed identity value", Err: err}
	}
	return id, nil
}

func dialConn(cfg ClientConfig) (net.Conn, error) {
	if cfg.Dial != nil {
		return cfg.Dial()
	}
	if cfg.TLSConfig != nil {
		return tls.Dial("tcp", cfg.Addr, cfg.TLSConfig)
	}
	return net.Dial("tcp", cfg.Addr)
}

// ID returns the identity the server assigned on first connect.
func (c *Client) ID() Identity { return c.id }

// Send transmits v as a framed envelope to the server.
func (c *Client) Send(v envelope.Value) (int, error) {
	return c.send(v, true)
}

// Receive blocks for one message, transparently swallowing liveness pings.
// Control tokens are envelope-wrapped strings, so the unpacked value is
// checked against the control vocabulary before being handed back, mirroring
// SimpleClient.receive (simplesocket.py:93-94).
func (c *Client) Receive() (envelope.Value, error) {
	for {
		v, err := c.receive(true, true)
		if err != nil {
			return envelope.Empty, err
		}
		if v.Type == envelope.TypeStr {
			switch {
			case wireconst.IsPing(v.Str):
				continue
			case wireconst.IsDisconnect(v.Str):
				return envelope.Empty, &ksockerr.TransportError{Err: fmt.Errorf("server disconnected")}
			}
		}
		return v, nil
	}
}

// reconnectCommand is the JSON payload of a REQ RECONN request, grounded on
// the original's send_command helper (packers.py:133-138), which builds
// {'cmd': cmd, 'id': client.id} and sends it as a JSON-typed envelope value.
type reconnectCommand struct {
	Cmd string `json:"cmd"`
	ID  string `json:"id"`
}

// Reconnect drops the current transport (if still open) and re-dials,
// presenting the previously issued identity via a REQ RECONN command
// envelope so the server can resume the same Session rather than minting a
// new one.
func (c *Client) Reconnect() error {
	_ = c.closeConn()

	conn, err := dialConn(c.cfg)
	if err != nil {
		return &ksockerr.TransportError{Err: err}
	}

	hres, err := handshake.Client(conn, handshake.ClientConfig{PreferredChunkSize: c.cfg.PreferredChunkSize})
	if err != nil {
		_ = conn.Close()
		return err
	}

	tmp := newWireConn(conn, hres.ChunkSize, hres.Codec)
	if err := exchangeHello(tmp); err != nil {
		_ = conn.Close()
		return err
	}

	cmd, err := json.Marshal(reconnectCommand{Cmd: wireconst.ReqReconnect, ID: c.id.Int().String()})
	if err != nil {
		_ = conn.Close()
		return err
	}
	if _, err := tmp.send(envelope.JSONValue(cmd), true); err != nil {
		_ = conn.Close()
		return err
	}
	reply, err := tmp.receive(true, true)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if reply.Type != envelope.TypeStr || reply.Str != wireconst.ReconnectOK {
		_ = conn.Close()
		return &ksockerr.ReconnectionDeniedError{Identity: c.id.String()}
	}

	c.swap(conn, hres.ChunkSize, hres.Codec)
	return nil
}

// Close tears down the client's connection after sending an orderly
// DISCONNECT token, best-effort.
func (c *Client) Close() error {
	_, _ = c.send(envelope.StrValue(wireconst.Disconnect), true)
	return c.closeConn()
}
