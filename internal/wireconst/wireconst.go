// Package wireconst holds the bit-exact constants shared by every layer of
// the protocol: frame/handshake widths, control tokens and their legacy
// synonyms, and the PROXY protocol magics.
package wireconst

// Fixed widths, in bytes, of the two padded JSON headers on the wire.
const (
	HeaderWidth = 128  // per-message frame header
	InitWidth   = 1024 // handshake header
)

// DefaultChunkSize is used when a caller does not configure one explicitly.
const DefaultChunkSize = 1024

// DefaultLivenessIntervalSeconds is how often a session pings its peer, in seconds.
const DefaultLivenessIntervalSeconds = 30

// Control tokens. Only the current form is ever emitted outbound; both the
// current and legacy forms are accepted inbound (see IsHello, IsAskID, ...).
const (
	HelloAck        = "HelloAck"
	AskID           = "ASK ID"
	LegacyAskID     = "ms_SimpleSocketAskID_version"
	Ping            = "KSCKT PING"
	LegacyPing      = "ms_SimpleSocketPing_version"
	Disconnect      = "KSCKT DISCONNECT"
	LegacyDisconnect = "ms_SimpleSocketDisconnect_version"

	ReqReconnect = "REQ RECONN"
	ReconnectOK  = "RECONN OK"
	ReconnectDenied = "RECONN DE"
)

// IsHello reports whether s is the handshake-readiness token exchanged
// before ASK ID/REQ RECONN.
func IsHello(s string) bool { return s == HelloAck }

// IsAskID reports whether s is the current or legacy "give me an identity" token.
func IsAskID(s string) bool { return s == AskID || s == LegacyAskID }

// IsPing reports whether s is the current or legacy liveness ping token.
func IsPing(s string) bool { return s == Ping || s == LegacyPing }

// IsDisconnect reports whether s is the current or legacy orderly-close token.
func IsDisconnect(s string) bool { return s == Disconnect || s == LegacyDisconnect }

// PROXY protocol magics (see handshake package).
var (
	ProxyV1Magic = []byte("PROXY ")
	ProxyV2Magic = []byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}
)

// SupportedCompression lists the compression algorithm tokens this build
// understands. Only "zstd" today.
var SupportedCompression = map[string]bool{
	"zstd": true,
}
