package ksocket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTripThroughInt(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := NewIdentity()
		got := IdentityFromInt(id.Int())
		require.Equal(t, id, got)
	}
}

func TestIdentityStringParseRoundTrip(t *testing.T) {
	id := NewIdentity()
	parsed, err := parseIdentityString(id.Int().String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestParseIdentityStringRejectsGarbage(t *testing.T) {
	_, err := parseIdentityString("not-a-number")
	require.Error(t, err)
}

func TestZeroIdentityIsZero(t *testing.T) {
	require.True(t, ZeroIdentity.IsZero())
	require.False(t, NewIdentity().IsZero())
}
