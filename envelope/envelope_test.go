package envelope

import (
	"encoding/json"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

func TestRoundTripStr(t *testing.T) {
	for _, s := range []string{"", "a string", "HelloAck"} {
		packed, err := Pack(StrValue(s))
		require.NoError(t, err)
		got := Unpack(packed, false)
		require.Equal(t, TypeStr, got.Type, spew.Sdump(got))
		require.Equal(t, s, got.Str)
	}
}

func TestRoundTripInt(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 1<<63 - 1} {
		packed, err := Pack(IntValue(n))
		require.NoError(t, err)
		got := Unpack(packed, false)
		require.Equal(t, TypeInt, got.Type)
		require.Equal(t, n, got.Int)
	}
}

func TestRoundTripBytes(t *testing.T) {
	for _, b := range [][]byte{{}, {0x00, 0xff}} {
		packed, err := Pack(BytesValue(b))
		require.NoError(t, err)
		got := Unpack(packed, false)
		require.Equal(t, TypeBytes, got.Type)
		require.Equal(t, b, got.Bytes)
	}
}

func TestRoundTripJSON(t *testing.T) {
	raw := json.RawMessage(`{"k":1,"l":[1,2]}`)
	packed, err := Pack(JSONValue(raw))
	require.NoError(t, err)
	got := Unpack(packed, false)
	require.Equal(t, TypeJSON, got.Type)
	require.JSONEq(t, string(raw), string(got.JSON))
}

func TestUnpackMalformedJSON(t *testing.T) {
	got := Unpack([]byte("not json"), true)
	require.True(t, got.IsEmpty())
}

func TestUnpackIncompatibleVersion(t *testing.T) {
	wire := wireEnvelope{Msg: json.RawMessage(`"hi"`), Type: TypeStr, Version: "3.0.0"}
	b, err := json.Marshal(wire)
	require.NoError(t, err)
	got := Unpack(b, true)
	require.True(t, got.IsEmpty())
}

func TestUnpackUnknownType(t *testing.T) {
	wire := wireEnvelope{Msg: json.RawMessage(`"hi"`), Type: "weird", Version: ProtocolVersion}
	b, err := json.Marshal(wire)
	require.NoError(t, err)
	got := Unpack(b, true)
	require.True(t, got.IsEmpty())
}
