// Package envelope packs and unpacks a typed application value into the
// self-describing, versioned JSON envelope described in spec.md §3 and §4.D.
//
// The dynamic `"type"` tag of the original implementation (KSockets.packers)
// is modeled here as a proper tagged union per DESIGN NOTES §9: Value holds
// exactly one of Str/Int/Bytes/JSON, discriminated by Type.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver"

	"github.com/Kinuseka/KSockets/internal/ksocketlog"
)

// ProtocolVersion is the semantic version attached to every outbound
// envelope and checked against incoming ones under caret compatibility.
const ProtocolVersion = "2.0.0"

// MinCompatibleVersion is the lowest remote version still accepted; it must
// share MAJOR with ProtocolVersion and be <= ProtocolVersion under SemVer
// ordering (the "caret" rule: same major, minor/patch >= this minimum).
const MinCompatibleVersion = "2.0.0"

var log = ksocketlog.Bind("envelope")

// Type discriminates the payload carried by a Value.
type Type string

const (
	TypeStr   Type = "str"
	TypeInt   Type = "int"
	TypeBytes Type = "bytes"
	TypeJSON  Type = "json"
)

// Value is the tagged union carried by an envelope once unpacked.
type Value struct {
	Type  Type
	Str   string
	Int   int64
	Bytes []byte
	JSON  json.RawMessage
}

// Empty is the sentinel returned whenever spec.md requires an "empty-string"
// result: malformed JSON, an incompatible version, or an unknown type tag.
var Empty = Value{Type: TypeStr, Str: ""}

// IsEmpty reports whether v is the Empty sentinel (a plain empty string).
func (v Value) IsEmpty() bool { return v.Type == TypeStr && v.Str == "" }

// StrValue builds a Value of TypeStr.
func StrValue(s string) Value { return Value{Type: TypeStr, Str: s} }

// IntValue builds a Value of TypeInt.
func IntValue(i int64) Value { return Value{Type: TypeInt, Int: i} }

// BytesValue builds a Value of TypeBytes.
func BytesValue(b []byte) Value { return Value{Type: TypeBytes, Bytes: b} }

// JSONValue builds a Value of TypeJSON from an already-encoded JSON document.
func JSONValue(raw json.RawMessage) Value { return Value{Type: TypeJSON, JSON: raw} }

// wireEnvelope is the JSON shape on the wire: exactly "msg", "type", "version".
type wireEnvelope struct {
	Msg     json.RawMessage `json:"msg"`
	Type    Type            `json:"type"`
	Version string          `json:"version"`
}

// Pack serializes v into the versioned envelope's wire bytes.
func Pack(v Value) ([]byte, error) {
	var msg json.RawMessage
	switch v.Type {
	case TypeBytes:
		enc := base64.StdEncoding.EncodeToString(v.Bytes)
		b, err := json.Marshal(enc)
		if err != nil {
			return nil, fmt.Errorf("envelope: marshal bytes payload: %w", err)
		}
		msg = b
	case TypeInt:
		b, err := json.Marshal(v.Int)
		if err != nil {
			return nil, fmt.Errorf("envelope: marshal int payload: %w", err)
		}
		msg = b
	case TypeJSON:
		// Object payloads are re-stringified so msg stays a scalar at the
		// envelope layer, exactly as spec.md §3 requires.
		b, err := json.Marshal(string(v.JSON))
		if err != nil {
			return nil, fmt.Errorf("envelope: marshal json payload: %w", err)
		}
		msg = b
	case TypeStr, "":
		b, err := json.Marshal(v.Str)
		if err != nil {
			return nil, fmt.Errorf("envelope: marshal str payload: %w", err)
		}
		msg = b
	default:
		return nil, fmt.Errorf("envelope: unknown type %q", v.Type)
	}

	typ := v.Type
	if typ == "" {
		typ = TypeStr
	}
	wire := wireEnvelope{Msg: msg, Type: typ, Version: ProtocolVersion}
	return json.Marshal(wire)
}

// Unpack decodes the wire bytes of an envelope into a Value. On any failure
// — bad JSON, an unparseable or incompatible version, or an unknown type —
// it returns Empty. Version failures are always logged at error level. When
// suppressErrors is false, bad JSON, unknown types and msg conversion
// failures are logged at error level; when it is true, bad JSON and unknown
// types are not logged and conversion failures are logged at warn level.
func Unpack(data []byte, suppressErrors bool) Value {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		if !suppressErrors {
			log.Error().Err(err).Msg("incompatible message received")
		}
		return Empty
	}

	remote, err := semver.NewVersion(wire.Version)
	if err != nil {
		log.Error().Str("version", wire.Version).Msg("unparseable remote version")
		return Empty
	}
	min, err := semver.NewConstraint("^" + MinCompatibleVersion)
	if err != nil {
		// Our own constant is malformed; this is a programmer error, not a
		// wire error, but we still degrade to the sentinel rather than panic.
		log.Error().Err(err).Msg("invalid local min-version constraint")
		return Empty
	}
	if !min.Check(remote) {
		log.Error().Str("version", wire.Version).Msg("incompatible version received")
		return Empty
	}

	switch wire.Type {
	case TypeStr:
		var s string
		if err := json.Unmarshal(wire.Msg, &s); err != nil {
			logUnpackFailure(suppressErrors, wire.Type, err)
			return Empty
		}
		return StrValue(s)
	case TypeInt:
		var n int64
		if err := json.Unmarshal(wire.Msg, &n); err != nil {
			// the original stores ints as the literal JSON number, but some
			// peers round-trip through a string; accept both.
			var s string
			if err2 := json.Unmarshal(wire.Msg, &s); err2 == nil {
				if parsed, perr := parseInt(s); perr == nil {
					return IntValue(parsed)
				}
			}
			logUnpackFailure(suppressErrors, wire.Type, err)
			return Empty
		}
		return IntValue(n)
	case TypeBytes:
		var s string
		if err := json.Unmarshal(wire.Msg, &s); err != nil {
			logUnpackFailure(suppressErrors, wire.Type, err)
			return Empty
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			logUnpackFailure(suppressErrors, wire.Type, err)
			return Empty
		}
		return BytesValue(b)
	case TypeJSON:
		var s string
		if err := json.Unmarshal(wire.Msg, &s); err != nil {
			logUnpackFailure(suppressErrors, wire.Type, err)
			return Empty
		}
		if !json.Valid([]byte(s)) {
			logUnpackFailure(suppressErrors, wire.Type, fmt.Errorf("embedded json is invalid"))
			return Empty
		}
		return JSONValue(json.RawMessage(s))
	default:
		if !suppressErrors {
			log.Error().Str("type", string(wire.Type)).Msg("received unknown data type")
		}
		return Empty
	}
}

func logUnpackFailure(suppress bool, typ Type, err error) {
	if suppress {
		log.Warn().Str("type", string(typ)).Err(err).Msg("incorrect data type, cannot unpack")
	} else {
		log.Error().Str("type", string(typ)).Err(err).Msg("incorrect data type, cannot unpack")
	}
}

func parseInt(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
