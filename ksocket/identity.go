package ksocket

import (
	"math/big"

	"github.com/google/uuid"
)

// Identity is the opaque 128-bit identifier assigned to every accepted
// client at handshake completion, per spec.md §3. It is generated from a
// cryptographically random source (google/uuid's v4 generator) the same
// way the original server called uuid4().int.
type Identity [16]byte

// ZeroIdentity is the identity of a session that has not yet been assigned
// one (not yet registered, or a brand-new client that hasn't asked).
var ZeroIdentity Identity

// NewIdentity mints a fresh random identity.
func NewIdentity() Identity {
	return Identity(uuid.New())
}

// String renders the identity as a canonical UUID string.
func (id Identity) String() string {
	return uuid.UUID(id).String()
}

// Int renders the identity as the 128-bit unsigned integer the wire
// protocol's {"ID": ...} reply carries, matching Python's uuid4().int.
func (id Identity) Int() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// IdentityFromInt reconstructs an Identity from the 128-bit integer form
// carried on the wire (the inverse of Int).
func IdentityFromInt(n *big.Int) Identity {
	var id Identity
	b := n.Bytes()
	// n.Bytes() is big-endian and omits leading zero bytes; right-align it.
	copy(id[16-len(b):], b)
	return id
}

// IsZero reports whether id is the zero identity.
func (id Identity) IsZero() bool { return id == ZeroIdentity }
