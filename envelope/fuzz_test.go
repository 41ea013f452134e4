package envelope

import (
	"testing"

	"github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
)

// TestFuzzStrRoundTrip throws a large population of randomized strings
// (including empty, printable ASCII, and multi-byte unicode) through Pack/Unpack,
// the property-based complement to the fixed-table TestRoundTripStr.
func TestFuzzStrRoundTrip(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(0, 256)
	for i := 0; i < 200; i++ {
		var s string
		f.Fuzz(&s)

		packed, err := Pack(StrValue(s))
		require.NoError(t, err)
		got := Unpack(packed, false)
		require.Equal(t, TypeStr, got.Type)
		require.Equal(t, s, got.Str)
	}
}

// TestFuzzBytesRoundTrip exercises the base64 bytes path against random
// binary payloads of varying length, including empty slices.
func TestFuzzBytesRoundTrip(t *testing.T) {
	f := fuzz.New().NilChance(0)
	for i := 0; i < 200; i++ {
		var b []byte
		f.NumElements(0, 512).Fuzz(&b)

		packed, err := Pack(BytesValue(b))
		require.NoError(t, err)
		got := Unpack(packed, false)
		require.Equal(t, TypeBytes, got.Type)
		require.Equal(t, b, got.Bytes)
	}
}

// TestFuzzIntRoundTrip covers the full int64 range, not just the small
// fixed table in TestRoundTripInt.
func TestFuzzIntRoundTrip(t *testing.T) {
	f := fuzz.New()
	for i := 0; i < 200; i++ {
		var n int64
		f.Fuzz(&n)

		packed, err := Pack(IntValue(n))
		require.NoError(t, err)
		got := Unpack(packed, false)
		require.Equal(t, TypeInt, got.Type)
		require.Equal(t, n, got.Int)
	}
}
