// Package framing implements the fixed-width header + chunked body framing
// described in spec.md §4.B, generalized from p2p/rlpx/framing.go's
// sendFrame/readFrame pair: where RLPx frames are encrypted, MAC'd, and
// 16-byte aligned, this framing is a padded JSON header over a plain byte
// payload, but the discipline — one header, then exactly that many payload
// bytes, written/read in bounded chunks — is the same shape.
package framing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Kinuseka/KSockets/internal/wireconst"
	"github.com/Kinuseka/KSockets/ksockerr"
)

// Compressor compresses a payload. Implemented by *codec.Codec.
type Compressor interface {
	Compress([]byte) []byte
}

// Decompressor reverses Compressor. Implemented by *codec.Codec.
type Decompressor interface {
	Decompress([]byte) ([]byte, error)
}

type header struct {
	A int `json:"a"` // total payload length on the wire, post-compression
	R int `json:"r"` // this frame's chunk size
}

// SendAll writes one framed message: a HeaderWidth-byte padded header
// followed by payload in chunks of at most chunkSize bytes. If codec is
// non-nil, payload is compressed first. Returns the post-compression length
// written, matching spec.md §4.B step 4.
func SendAll(w io.Writer, payload []byte, comp Compressor, chunkSize int) (int, error) {
	if comp != nil {
		payload = comp.Compress(payload)
	}

	r := chunkSize
	if len(payload) < r {
		r = len(payload)
	}
	hdr := header{A: len(payload), R: r}
	hdrBytes, err := formatify(hdr, wireconst.HeaderWidth)
	if err != nil {
		return 0, &ksockerr.TransportError{Err: err}
	}
	if _, err := w.Write(hdrBytes); err != nil {
		return 0, &ksockerr.TransportError{Err: err}
	}

	for off := 0; off < len(payload); off += chunkSize {
		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if _, err := w.Write(payload[off:end]); err != nil {
			return 0, &ksockerr.TransportError{Err: err}
		}
	}
	return len(payload), nil
}

// ReceiveAll reads one framed message. A protocol violation (malformed
// header, missing key, or r > chunkSize) returns (nil, *ksockerr.FramingError)
// without consuming the advertised body; an EOF mid-header or mid-body also
// returns a FramingError. The Framer never interprets payload contents.
func ReceiveAll(r io.Reader, decomp Decompressor, chunkSize int) ([]byte, error) {
	hdrBytes := make([]byte, wireconst.HeaderWidth)
	if _, err := io.ReadFull(r, hdrBytes); err != nil {
		return nil, &ksockerr.FramingError{Reason: fmt.Sprintf("short header read: %v", err)}
	}

	hdr, err := parseHeader(hdrBytes)
	if err != nil {
		return nil, &ksockerr.FramingError{Reason: err.Error()}
	}
	if hdr.R > chunkSize {
		return nil, &ksockerr.FramingError{Reason: fmt.Sprintf("chunk size %d exceeds local chunk size %d", hdr.R, chunkSize)}
	}
	if hdr.A < 0 {
		return nil, &ksockerr.FramingError{Reason: "negative payload length"}
	}

	buf, err := receiveChunks(r, hdr.A, chunkSize)
	if err != nil {
		return nil, err
	}

	if decomp == nil {
		return buf, nil
	}
	out, err := decomp.Decompress(buf)
	if err != nil {
		return nil, &ksockerr.FramingError{Reason: fmt.Sprintf("decompress: %v", err)}
	}
	return out, nil
}

func receiveChunks(r io.Reader, total, chunkSize int) ([]byte, error) {
	buf := make([]byte, 0, total)
	remaining := total
	for remaining > 0 {
		n := chunkSize
		if n > remaining {
			n = remaining
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, &ksockerr.FramingError{Reason: fmt.Sprintf("short body read: %v", err)}
		}
		buf = append(buf, chunk...)
		remaining -= n
	}
	return buf, nil
}

// formatify serializes v as JSON and right-pads with ASCII spaces to width,
// mirroring KSockets.packers.formatify.
func formatify(v interface{}, width int) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(b) > width {
		return nil, fmt.Errorf("framing: encoded header (%d bytes) exceeds width %d", len(b), width)
	}
	out := make([]byte, width)
	copy(out, b)
	for i := len(b); i < width; i++ {
		out[i] = ' '
	}
	return out, nil
}

// parseHeader decodes a padded header, truncating at the first '}' in the
// buffer before JSON-decoding, mirroring KSockets.packers.decodify.
func parseHeader(b []byte) (header, error) {
	end := bytes.IndexByte(b, '}')
	if end < 0 {
		return header{}, fmt.Errorf("no closing brace found in header")
	}
	var raw struct {
		A *int `json:"a"`
		R *int `json:"r"`
	}
	if err := json.Unmarshal(b[:end+1], &raw); err != nil {
		return header{}, fmt.Errorf("header not valid json: %w", err)
	}
	if raw.A == nil || raw.R == nil {
		return header{}, fmt.Errorf("header missing required key")
	}
	return header{A: *raw.A, R: *raw.R}, nil
}
