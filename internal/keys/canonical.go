package keys

import (
	"fmt"
	"math"
	"reflect"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Canonicalize converts a value into its canonical Key representation.
//
// Accepted inputs:
//   - nil -> Null
//   - bool -> Bool
//   - all signed/unsigned integer widths -> Int (uint64 above MaxInt64 is an error)
//   - string -> String (NFC normalized)
//   - []byte -> Bytes (copied)
//   - uuid.UUID -> UUID
//   - any Key value (returned as-is; tuples are revalidated)
//   - slices and arrays of accepted values -> Tuple (recursive)
//
// Anything else returns *UnsupportedKeyTypeError. Object identity is never
// used as a key - this is a deliberate constraint so that paths are stable
// across process restarts.
func Canonicalize(v any) (Key, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Key:
		return val, nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return canonicalizeUint(uint64(val))
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		return canonicalizeUint(val)
	case string:
		// NFC normalize at the canonicalization boundary so that
		// equal-looking strings produce equal keys.
		return String(norm.NFC.String(val)), nil
	case []byte:
		b := make([]byte, len(val))
		copy(b, val)
		return Bytes(b), nil
	case uuid.UUID:
		return UUID(val), nil
	case float32, float64:
		return nil, &UnsupportedKeyTypeError{TypeName: fmt.Sprintf("%T", v)}
	}

	// Generic slices/arrays of accepted values canonicalize into tuples.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		t := make(Tuple, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := Canonicalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			t[i] = elem
		}
		return t, nil
	}

	return nil, &UnsupportedKeyTypeError{TypeName: fmt.Sprintf("%T", v)}
}

// MustCanonicalize is like Canonicalize but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCanonicalize(v any) Key {
	k, err := Canonicalize(v)
	if err != nil {
		panic(err)
	}
	return k
}

func canonicalizeUint(u uint64) (Key, error) {
	if u > math.MaxInt64 {
		return nil, &UnsupportedKeyTypeError{TypeName: "uint64 (overflows int64)"}
	}
	return Int(u), nil
}
