package keys

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Key is a sealed interface representing canonical key values.
// Only Null, Bool, Int, String, Bytes, UUID, and Tuple implement it.
// NO float type - floats are forbidden in keys (CP-1, breaks determinism).
type Key interface {
	key() // Sealed - only these types implement it

	// Encode appends the canonical byte encoding to dst and returns it.
	// The encoding is self-delimiting and order-preserving: comparing
	// encodings bytewise agrees with Compare.
	Encode(dst []byte) []byte

	// String returns a human-readable rendering for diagnostics.
	String() string
}

// Type tags for the canonical encoding. Tag order defines the cross-type
// ordering of keys: null < bool < int < string < bytes < uuid < tuple.
const (
	tagNull   byte = 0x00
	tagBool   byte = 0x01
	tagInt    byte = 0x02
	tagString byte = 0x03
	tagBytes  byte = 0x04
	tagUUID   byte = 0x05
	tagTuple  byte = 0x06
)

// Null represents the null key.
type Null struct{}

func (Null) key() {}

func (Null) Encode(dst []byte) []byte { return append(dst, tagNull) }

func (Null) String() string { return "null" }

// Bool represents a boolean key.
type Bool bool

func (Bool) key() {}

func (b Bool) Encode(dst []byte) []byte {
	dst = append(dst, tagBool)
	if b {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func (b Bool) String() string { return strconv.FormatBool(bool(b)) }

// Int represents an integer key. Always int64, never float64.
type Int int64

func (Int) key() {}

func (i Int) Encode(dst []byte) []byte {
	dst = append(dst, tagInt)
	// Flip the sign bit so that the big-endian byte order matches the
	// numeric order (negative values sort before positive ones).
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i)^(1<<63))
	return append(dst, buf[:]...)
}

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// String represents a string key. The value is NFC normalized by
// Canonicalize before construction.
type String string

func (String) key() {}

func (s String) Encode(dst []byte) []byte {
	dst = append(dst, tagString)
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func (s String) String() string { return strconv.Quote(string(s)) }

// Bytes represents an opaque byte-string key. Treated as immutable after
// canonicalization (Canonicalize copies the input).
type Bytes []byte

func (Bytes) key() {}

func (b Bytes) Encode(dst []byte) []byte {
	dst = append(dst, tagBytes)
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

func (b Bytes) String() string { return "0x" + hex.EncodeToString(b) }

// UUID represents a UUID key (RFC 4122, github.com/google/uuid).
type UUID uuid.UUID

func (UUID) key() {}

func (u UUID) Encode(dst []byte) []byte {
	dst = append(dst, tagUUID)
	return append(dst, u[:]...)
}

func (u UUID) String() string { return uuid.UUID(u).String() }

// Tuple represents an ordered tuple of keys. List-like values are
// canonicalized into tuples before hashing.
type Tuple []Key

func (Tuple) key() {}

func (t Tuple) Encode(dst []byte) []byte {
	dst = append(dst, tagTuple)
	dst = binary.AppendUvarint(dst, uint64(len(t)))
	for _, elem := range t {
		dst = elem.Encode(dst)
	}
	return dst
}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, elem := range t {
		parts[i] = elem.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Encode returns the canonical byte encoding of k.
func Encode(k Key) []byte {
	return k.Encode(nil)
}

// EncodeText returns the canonical encoding as lowercase hex.
// Used as the store-addressable form of a key.
func EncodeText(k Key) string {
	return hex.EncodeToString(Encode(k))
}

// Compare returns -1, 0, or 1 ordering a before, equal to, or after b.
// Keys of different types order by type tag. Within a type, bools order
// false before true and ints by value; strings, bytes, and tuples order
// by their length-prefixed encoding, NOT lexicographically by content
// (the uvarint length prefix compares first, so "z" sorts before "aa").
// The order is total, deterministic, and stable across runs, which is
// all the engine relies on.
//
// Compare is defined as bytes.Compare over Encode - the encoding is the
// order, which is what makes deterministic store enumeration cheap
// (ORDER BY on the encoded text).
func Compare(a, b Key) int {
	return bytes.Compare(Encode(a), Encode(b))
}

// Equal reports whether two keys are the same canonical value.
func Equal(a, b Key) bool {
	return Compare(a, b) == 0
}

// UnsupportedKeyTypeError is returned by Canonicalize for values that have
// no canonical key representation. This is a caller bug - keys must come
// from the supported primitive set so that paths stay stable across runs.
type UnsupportedKeyTypeError struct {
	// TypeName is the Go type of the rejected value.
	TypeName string
}

func (e *UnsupportedKeyTypeError) Error() string {
	return fmt.Sprintf("unsupported key type %s: keys must be null, bool, int, string, bytes, uuid, or a sequence of those", e.TypeName)
}
