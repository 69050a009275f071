package keys

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCanonicalize_Primitives tests canonicalization of the primitive set.
func TestCanonicalize_Primitives(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  Key
	}{
		{"nil", nil, Null{}},
		{"bool", true, Bool(true)},
		{"int", 42, Int(42)},
		{"int64", int64(-7), Int(-7)},
		{"uint32", uint32(9), Int(9)},
		{"string", "hello", String("hello")},
		{"bytes", []byte{0x01, 0x02}, Bytes{0x01, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.input)
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "want %s, got %s", tt.want, got)
		})
	}
}

// TestCanonicalize_UUID tests that uuid.UUID values canonicalize to UUID keys.
func TestCanonicalize_UUID(t *testing.T) {
	u := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	k, err := Canonicalize(u)
	require.NoError(t, err)

	uk, ok := k.(UUID)
	require.True(t, ok)
	assert.Equal(t, u, uuid.UUID(uk))
}

// TestCanonicalize_SliceToTuple tests recursive canonicalization of
// list-like values into ordered tuples.
func TestCanonicalize_SliceToTuple(t *testing.T) {
	k, err := Canonicalize([]any{"a", 1, []any{true}})
	require.NoError(t, err)

	want := Tuple{String("a"), Int(1), Tuple{Bool(true)}}
	assert.True(t, Equal(want, k))
}

// TestCanonicalize_Array tests that fixed-size arrays canonicalize like slices.
func TestCanonicalize_Array(t *testing.T) {
	k, err := Canonicalize([2]string{"x", "y"})
	require.NoError(t, err)
	assert.True(t, Equal(Tuple{String("x"), String("y")}, k))
}

// TestCanonicalize_UnsupportedTypes tests the hard error for unsupported types.
func TestCanonicalize_UnsupportedTypes(t *testing.T) {
	inputs := []any{
		3.14,
		float32(1),
		map[string]int{"a": 1},
		struct{ X int }{1},
		make(chan int),
	}

	for _, input := range inputs {
		_, err := Canonicalize(input)
		require.Error(t, err, "%T should be unsupported", input)

		var ukErr *UnsupportedKeyTypeError
		assert.ErrorAs(t, err, &ukErr)
	}
}

// TestCanonicalize_UnsupportedElementInSlice tests that the error surfaces
// from nested elements.
func TestCanonicalize_UnsupportedElementInSlice(t *testing.T) {
	_, err := Canonicalize([]any{"ok", 1.5})

	var ukErr *UnsupportedKeyTypeError
	require.ErrorAs(t, err, &ukErr)
}

// TestCanonicalize_NFCNormalization tests that equal-looking strings with
// different Unicode compositions produce the same key.
func TestCanonicalize_NFCNormalization(t *testing.T) {
	// "é" precomposed vs combining acute accent.
	a := MustCanonicalize("café")
	b := MustCanonicalize("café")

	assert.True(t, Equal(a, b))
	assert.Equal(t, EncodeText(a), EncodeText(b))
}

// TestCanonicalize_BytesCopied tests that mutating the input after
// canonicalization does not change the key.
func TestCanonicalize_BytesCopied(t *testing.T) {
	src := []byte{1, 2, 3}
	k := MustCanonicalize(src)
	before := EncodeText(k)

	src[0] = 99
	assert.Equal(t, before, EncodeText(k))
}

// TestCompare_TotalOrder tests cross-type and within-type ordering.
func TestCompare_TotalOrder(t *testing.T) {
	ordered := []Key{
		Null{},
		Bool(false),
		Bool(true),
		Int(-5),
		Int(0),
		Int(10),
		String("a"),
		String("b"),
		Bytes{0x00},
		UUID(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		Tuple{Int(1)},
		Tuple{Int(1), Int(2)},
	}

	for i := 0; i < len(ordered); i++ {
		for j := 0; j < len(ordered); j++ {
			c := Compare(ordered[i], ordered[j])
			switch {
			case i < j:
				assert.Negative(t, c, "%s should sort before %s", ordered[i], ordered[j])
			case i > j:
				assert.Positive(t, c, "%s should sort after %s", ordered[i], ordered[j])
			default:
				assert.Zero(t, c)
			}
		}
	}
}

// TestCompare_NegativeIntOrdering tests the sign-flipped int encoding.
func TestCompare_NegativeIntOrdering(t *testing.T) {
	assert.Negative(t, Compare(Int(-100), Int(-1)))
	assert.Negative(t, Compare(Int(-1), Int(0)))
	assert.Negative(t, Compare(Int(0), Int(1)))
}

// TestEncode_SelfDelimiting tests that concatenated encodings parse
// unambiguously (tuple of two elements differs from single combined value).
func TestEncode_SelfDelimiting(t *testing.T) {
	a := Tuple{String("ab"), String("c")}
	b := Tuple{String("a"), String("bc")}

	assert.NotEqual(t, EncodeText(a), EncodeText(b))
}

// TestEncode_Stability pins the canonical encoding of a representative key
// so that accidental changes to the wire form are caught.
func TestEncode_Stability(t *testing.T) {
	k := Tuple{String("users"), Int(42)}
	// tagTuple, count=2, tagString, len=5, "users", tagInt, sign-flipped 42
	assert.Equal(t, "06020305757365727302800000000000002a", EncodeText(k))
}

// TestKeyHash_Distinct tests that distinct keys hash distinctly and
// equal keys hash identically.
func TestKeyHash_Distinct(t *testing.T) {
	assert.Equal(t, KeyHash(String("a")), KeyHash(String("a")))
	assert.NotEqual(t, KeyHash(String("a")), KeyHash(Bytes("a")))
}
