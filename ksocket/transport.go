package ksocket

import (
	"net"
	"sync"

	"github.com/Kinuseka/KSockets/codec"
	"github.com/Kinuseka/KSockets/envelope"
	"github.com/Kinuseka/KSockets/framing"
	"github.com/Kinuseka/KSockets/ksockerr"
)

// wireConn is the shared send/receive primitive for both the server-side
// Session and the client-side Client, grounded on KSockets.socket_api's
// SocketAPI base class: both SocketServer and SocketClient embed the same
// pack/unpack/transmit/receive machinery, differing only in how the
// connection itself comes to exist (accept vs. dial). The transmit lock and
// the receive lock are independent, matching spec.md §5's statement that a
// full-duplex stream lets one goroutine send while another receives.
type wireConn struct {
	mu        sync.RWMutex // guards conn/chunkSize/codec swap on reconnect
	conn      net.Conn
	chunkSize int
	codec     *codec.Codec

	txMu sync.Mutex
	rxMu sync.Mutex
}

func newWireConn(conn net.Conn, chunkSize int, c *codec.Codec) *wireConn {
	return &wireConn{conn: conn, chunkSize: chunkSize, codec: c}
}

// swap installs a new underlying connection (and handshake result) after a
// successful reconnection, per spec.md §4.E's reconnection flow. Existing
// Session/Client pointers keep working: the struct itself never moves.
func (w *wireConn) swap(conn net.Conn, chunkSize int, c *codec.Codec) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn = conn
	w.chunkSize = chunkSize
	w.codec = c
}

func (w *wireConn) snapshot() (net.Conn, int, *codec.Codec) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn, w.chunkSize, w.codec
}

// send packs v into an envelope and frames it onto the wire. With threadLock
// true the transmit mutex is held for the whole frame; false skips it, for
// callers that already hold it. Every call site in this package passes true.
func (w *wireConn) send(v envelope.Value, threadLock bool) (int, error) {
	conn, chunkSize, c := w.snapshot()

	payload, err := envelope.Pack(v)
	if err != nil {
		return 0, &ksockerr.EnvelopeIncompatibleError{Reason: err.Error()}
	}

	if threadLock {
		w.txMu.Lock()
		defer w.txMu.Unlock()
	}

	var comp framing.Compressor
	if c != nil {
		comp = c
	}
	return framing.SendAll(conn, payload, comp, chunkSize)
}

// receive reads exactly one framed message and unpacks it as an envelope.
func (w *wireConn) receive(threadLock bool, suppressUnpackErrors bool) (envelope.Value, error) {
	conn, chunkSize, c := w.snapshot()

	if threadLock {
		w.rxMu.Lock()
		defer w.rxMu.Unlock()
	}

	var decomp framing.Decompressor
	if c != nil {
		decomp = c
	}
	buf, err := framing.ReceiveAll(conn, decomp, chunkSize)
	if err != nil {
		return envelope.Empty, err
	}
	return envelope.Unpack(buf, suppressUnpackErrors), nil
}

func (w *wireConn) remoteAddr() net.Addr {
	conn, _, _ := w.snapshot()
	if conn == nil {
		return nil
	}
	return conn.RemoteAddr()
}

func (w *wireConn) closeConn() error {
	conn, _, c := w.snapshot()
	if c != nil {
		c.Close()
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}
