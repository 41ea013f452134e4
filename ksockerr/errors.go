// Package ksockerr defines the typed error taxonomy described in spec.md §7,
// grounded on SimpleSocket/exceptions.py's SocketException hierarchy
// (client_protocol_mismatch, decode_error) but expressed in Go's
// errors.Is/errors.As idiom instead of a free-form "property" kwarg.
package ksockerr

import "fmt"

// ProtocolMismatchError is fatal at handshake time: unsupported compression
// algorithm, an undecodable initial header, or a missing expected key.
type ProtocolMismatchError struct {
	Reason string
	Err    error
}

func (e *ProtocolMismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol mismatch: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol mismatch: %s", e.Reason)
}

func (e *ProtocolMismatchError) Unwrap() error { return e.Err }

// FramingError is a mid-session framing violation: a malformed header, an
// advertised chunk size larger than the local chunk size, or a short read.
// The framer never closes the stream itself; the session layer decides.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string { return fmt.Sprintf("framing violation: %s", e.Reason) }

// EnvelopeIncompatibleError is returned by a send whose value cannot be
// packed (an unknown type tag). Inbound envelope problems (bad JSON, an
// unparseable or incompatible version, an unknown type tag) do not produce
// this error: the receive call returns the empty-string sentinel with a nil
// error, and the session itself stays open.
type EnvelopeIncompatibleError struct {
	Reason string
}

func (e *EnvelopeIncompatibleError) Error() string {
	return fmt.Sprintf("incompatible envelope: %s", e.Reason)
}

// TransportError wraps a transport-level failure (reset, aborted, refused).
// The session that observes it must close.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ReconnectionDeniedError is surfaced to the client caller of Client.Reconnect
// when the server could not locate the prior identity.
type ReconnectionDeniedError struct {
	Identity string
}

func (e *ReconnectionDeniedError) Error() string {
	return fmt.Sprintf("reconnection denied for identity %s", e.Identity)
}

// NotReadyError mirrors Exceptions.NotReadyError: an operation was attempted
// on a connection that is not usable, such as a Send on a session that is
// no longer active.
type NotReadyError struct {
	Reason string
}

func (e *NotReadyError) Error() string { return fmt.Sprintf("not ready: %s", e.Reason) }
