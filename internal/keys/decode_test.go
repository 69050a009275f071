package keys

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundTrip(t *testing.T) {
	cases := []Key{
		Null{},
		Bool(false),
		Bool(true),
		Int(0),
		Int(-1),
		Int(42),
		Int(-9223372036854775808),
		String(""),
		String("users"),
		String("héllo"),
		Bytes(nil),
		Bytes{0x00, 0xff, 0x10},
		UUID(uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057")),
		Tuple{},
		Tuple{String("users"), Int(42)},
		Tuple{Tuple{Null{}, Bool(true)}, Bytes{0x01}},
	}
	for _, k := range cases {
		t.Run(k.String(), func(t *testing.T) {
			decoded, err := Decode(Encode(k))
			require.NoError(t, err)
			assert.True(t, Equal(k, decoded), "decoded %s != original %s", decoded, k)
		})
	}
}

func TestDecodeText_RoundTrip(t *testing.T) {
	k := Tuple{String("users"), Int(42)}
	decoded, err := DecodeText(EncodeText(k))
	require.NoError(t, err)
	assert.True(t, Equal(k, decoded))
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{0x7f}},
		{"truncated int", []byte{0x02, 0x80}},
		{"truncated string", []byte{0x03, 0x05, 'a'}},
		{"truncated uuid", []byte{0x05, 0x01}},
		{"trailing bytes", append(Encode(Int(1)), 0x00)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestDecodeText_BadHex(t *testing.T) {
	_, err := DecodeText("zz")
	assert.Error(t, err)
}
