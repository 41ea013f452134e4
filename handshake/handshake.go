// Package handshake performs the two-sided initial exchange described in
// spec.md §4.C: chunk-size negotiation, optional compression negotiation,
// and optional PROXY v1/v2 preamble parsing ahead of it.
//
// It is grounded on p2p/rlpx/handshake.go's initiatorEncHandshake/
// receiverEncHandshake pair — a pure function of a io.ReadWriter that
// returns a `secrets`-shaped result consumed by the connection layer above
// it. Here the negotiated "secrets" are a chunk size and a compressor
// instead of AES/MAC keys, but the shape (client writes, client reads;
// server reads, server writes) is the same.
package handshake

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/Kinuseka/KSockets/codec"
	"github.com/Kinuseka/KSockets/internal/ksocketlog"
	"github.com/Kinuseka/KSockets/internal/wireconst"
	"github.com/Kinuseka/KSockets/ksockerr"
)

var log = ksocketlog.Bind("handshake")

// Result is what either side of the handshake walks away with.
type Result struct {
	ChunkSize     int
	Codec         *codec.Codec
	CanonicalIP   string // parsed PROXY source address, if any
	CanonicalPort int
}

// ServerConfig configures the server side of the handshake.
type ServerConfig struct {
	// ChunkSize is the chunk size advertised to the client; 0 uses
	// wireconst.DefaultChunkSize. Values below wireconst.HeaderWidth fail
	// the handshake.
	ChunkSize int
	// SuggestChunkSize, when true, sends "ch":"sc" regardless of ChunkSize
	// and adopts whatever the client proposes.
	SuggestChunkSize bool
	// CompressionLevel, when > 0, advertises zstd at this level and builds
	// a matching Codec on both ends. Zero disables compression.
	CompressionLevel int
	// ProxyAware enables peeking for a PROXY v1/v2 preamble before the
	// handshake header. Ignored (forced false) when IsTLS is true.
	ProxyAware bool
	// IsTLS indicates conn is already a *tls.Conn; PROXY parsing is always
	// skipped in that case since PROXY bytes would precede the TLS
	// handshake rather than follow it.
	IsTLS bool
}

// Server runs the server side of the handshake on an accepted connection.
func Server(conn net.Conn, cfg ServerConfig) (*Result, error) {
	res := &Result{}

	var r io.Reader = conn
	if cfg.ProxyAware && !cfg.IsTLS {
		br := bufio.NewReaderSize(conn, 16)
		ip, port, err := peekProxyHeader(br)
		if err != nil {
			return nil, &ksockerr.ProtocolMismatchError{Reason: "proxy header", Err: err}
		}
		res.CanonicalIP, res.CanonicalPort = ip, port
		r = br
	}

	reqBuf := make([]byte, wireconst.InitWidth)
	if _, err := io.ReadFull(r, reqBuf); err != nil {
		return nil, &ksockerr.ProtocolMismatchError{Reason: "reading request-head", Err: err}
	}
	var req struct {
		Req string `json:"req"`
	}
	if err := decodePadded(reqBuf, &req); err != nil {
		return nil, &ksockerr.ProtocolMismatchError{Reason: "decoding request-head", Err: err}
	}
	if req.Req != "request-head" {
		return nil, &ksockerr.ProtocolMismatchError{Reason: fmt.Sprintf("unexpected request %q", req.Req)}
	}

	resp := struct {
		Ch  interface{} `json:"ch"`
		Enc string      `json:"enc,omitempty"`
	}{}
	if cfg.SuggestChunkSize {
		resp.Ch = "sc"
	} else {
		chunkSize := cfg.ChunkSize
		if chunkSize == 0 {
			chunkSize = wireconst.DefaultChunkSize
		}
		if chunkSize < wireconst.HeaderWidth {
			return nil, &ksockerr.ProtocolMismatchError{Reason: fmt.Sprintf("chunk size %d below header width %d", chunkSize, wireconst.HeaderWidth)}
		}
		resp.Ch = chunkSize
		res.ChunkSize = chunkSize
	}
	if cfg.CompressionLevel > 0 {
		resp.Enc = fmt.Sprintf("%s %d", codec.AlgorithmZstd, cfg.CompressionLevel)
	}

	respBytes, err := encodePadded(resp, wireconst.InitWidth)
	if err != nil {
		return nil, &ksockerr.ProtocolMismatchError{Reason: "encoding handshake response", Err: err}
	}
	if _, err := conn.Write(respBytes); err != nil {
		return nil, &ksockerr.ProtocolMismatchError{Reason: "writing handshake response", Err: err}
	}

	if cfg.SuggestChunkSize {
		var suggestion struct {
			Ch int `json:"ch"`
		}
		dec := json.NewDecoder(r)
		if err := dec.Decode(&suggestion); err != nil {
			return nil, &ksockerr.ProtocolMismatchError{Reason: "reading client chunk suggestion", Err: err}
		}
		if suggestion.Ch < wireconst.HeaderWidth {
			return nil, &ksockerr.ProtocolMismatchError{Reason: fmt.Sprintf("client suggested chunk size %d below header width", suggestion.Ch)}
		}
		res.ChunkSize = suggestion.Ch
	}

	if cfg.CompressionLevel > 0 {
		c, err := codec.New(cfg.CompressionLevel)
		if err != nil {
			return nil, &ksockerr.ProtocolMismatchError{Reason: "building codec", Err: err}
		}
		res.Codec = c
	}

	log.Debug().Int("chunk_size", res.ChunkSize).Msg("server handshake complete")
	return res, nil
}

// ClientConfig configures the client side of the handshake.
type ClientConfig struct {
	// PreferredChunkSize is sent to the server only if the server asks for
	// a suggestion ("ch":"sc").
	PreferredChunkSize int
}

// Client runs the client side of the handshake on a freshly connected conn.
func Client(conn net.Conn, cfg ClientConfig) (*Result, error) {
	res := &Result{}

	reqBytes, err := encodePadded(struct {
		Req string `json:"req"`
	}{Req: "request-head"}, wireconst.InitWidth)
	if err != nil {
		return nil, &ksockerr.ProtocolMismatchError{Reason: "encoding request-head", Err: err}
	}
	if _, err := conn.Write(reqBytes); err != nil {
		return nil, &ksockerr.ProtocolMismatchError{Reason: "writing request-head", Err: err}
	}

	respBuf := make([]byte, wireconst.InitWidth)
	if _, err := io.ReadFull(conn, respBuf); err != nil {
		return nil, &ksockerr.ProtocolMismatchError{Reason: "reading handshake response", Err: err}
	}
	var resp struct {
		Ch  json.RawMessage `json:"ch"`
		Enc string          `json:"enc"`
	}
	if err := decodePadded(respBuf, &resp); err != nil {
		return nil, &ksockerr.ProtocolMismatchError{Reason: "decoding handshake response", Err: err}
	}

	var chStr string
	if err := json.Unmarshal(resp.Ch, &chStr); err == nil && chStr == "sc" {
		preferred := cfg.PreferredChunkSize
		if preferred == 0 {
			preferred = wireconst.DefaultChunkSize
		}
		suggestion, err := json.Marshal(struct {
			Ch int `json:"ch"`
		}{Ch: preferred})
		if err != nil {
			return nil, &ksockerr.ProtocolMismatchError{Reason: "encoding chunk suggestion", Err: err}
		}
		if _, err := conn.Write(suggestion); err != nil {
			return nil, &ksockerr.ProtocolMismatchError{Reason: "writing chunk suggestion", Err: err}
		}
		res.ChunkSize = preferred
	} else {
		var chInt int
		if err := json.Unmarshal(resp.Ch, &chInt); err != nil {
			return nil, &ksockerr.ProtocolMismatchError{Reason: "ch field is neither \"sc\" nor an integer", Err: err}
		}
		res.ChunkSize = chInt
	}

	if resp.Enc != "" {
		if len(resp.Enc) < 4 {
			return nil, &ksockerr.ProtocolMismatchError{Reason: fmt.Sprintf("malformed enc field %q", resp.Enc)}
		}
		alg := resp.Enc[:4]
		if !wireconst.SupportedCompression[alg] {
			return nil, &ksockerr.ProtocolMismatchError{Reason: fmt.Sprintf("unsupported compression algorithm %q", alg)}
		}
		levelStr := strings.TrimSpace(resp.Enc[4:])
		level, err := strconv.Atoi(levelStr)
		if err != nil {
			return nil, &ksockerr.ProtocolMismatchError{Reason: fmt.Sprintf("invalid compression level %q", levelStr), Err: err}
		}
		c, err := codec.New(level)
		if err != nil {
			return nil, &ksockerr.ProtocolMismatchError{Reason: "building codec", Err: err}
		}
		res.Codec = c
	}

	log.Debug().Int("chunk_size", res.ChunkSize).Msg("client handshake complete")
	return res, nil
}

func encodePadded(v interface{}, width int) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(b) > width {
		return nil, fmt.Errorf("encoded message (%d bytes) exceeds width %d", len(b), width)
	}
	out := make([]byte, width)
	copy(out, b)
	for i := len(b); i < width; i++ {
		out[i] = ' '
	}
	return out, nil
}

func decodePadded(b []byte, v interface{}) error {
	end := bytes.IndexByte(b, '}')
	if end < 0 {
		return fmt.Errorf("no closing brace found")
	}
	return json.Unmarshal(b[:end+1], v)
}

// peekProxyHeader inspects the first 16 bytes available on br (backed by
// conn) for a PROXY v1/v2 preamble. Peeked bytes stay buffered in br for
// the caller's subsequent reads unless they form a recognized preamble, in
// which case they (and the rest of the preamble) are consumed here.
// Grounded on KSockets.socket_api.SocketServer.proxy_handler's byte offsets.
func peekProxyHeader(br *bufio.Reader) (ip string, port int, err error) {
	peek, err := br.Peek(16)
	if err != nil && err != io.EOF {
		return "", 0, err
	}

	switch {
	case bytes.HasPrefix(peek, wireconst.ProxyV1Magic):
		return readProxyV1(br)
	case bytes.HasPrefix(peek, wireconst.ProxyV2Magic):
		return readProxyV2(br)
	default:
		return "", 0, nil
	}
}

func readProxyV1(br *bufio.Reader) (string, int, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", 0, err
	}
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 5 || fields[0] != "PROXY" {
		return "", 0, fmt.Errorf("malformed PROXY v1 line %q", line)
	}
	if fields[1] != "TCP4" && fields[1] != "TCP6" {
		return "", 0, fmt.Errorf("unsupported PROXY v1 protocol %q", fields[1])
	}
	srcIP := fields[2]
	srcPort, err := strconv.Atoi(fields[4])
	if err != nil {
		return "", 0, fmt.Errorf("invalid PROXY v1 source port: %w", err)
	}
	return srcIP, srcPort, nil
}

func readProxyV2(br *bufio.Reader) (string, int, error) {
	magic := make([]byte, 12)
	if _, err := io.ReadFull(br, magic); err != nil {
		return "", 0, err
	}
	verCmdFamLen := make([]byte, 4)
	if _, err := io.ReadFull(br, verCmdFamLen); err != nil {
		return "", 0, err
	}
	fam := verCmdFamLen[1]
	length := int(verCmdFamLen[2])<<8 | int(verCmdFamLen[3])
	body := make([]byte, length)
	if _, err := io.ReadFull(br, body); err != nil {
		return "", 0, err
	}
	switch fam {
	case 0x11: // IPv4
		if len(body) < 10 {
			return "", 0, fmt.Errorf("PROXY v2 IPv4 body too short")
		}
		ip := net.IP(body[0:4]).String()
		port := int(body[8])<<8 | int(body[9])
		return ip, port, nil
	case 0x21: // IPv6
		if len(body) < 34 {
			return "", 0, fmt.Errorf("PROXY v2 IPv6 body too short")
		}
		ip := net.IP(body[0:16]).String()
		port := int(body[32])<<8 | int(body[33])
		return ip, port, nil
	default:
		return "", 0, nil
	}
}
