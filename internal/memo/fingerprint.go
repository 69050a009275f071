package memo

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"math"
	"reflect"
	"sort"

	"github.com/tidemark-io/tidemark/internal/keys"
)

// domainFingerprint separates fingerprint digests from every other hash
// domain in the system. Version suffix enables future algorithm migration.
const domainFingerprint = "tidemark/fingerprint/v1"

// Encoding tags. Every value writes its tag before its payload so that
// adjacent values can never be confused (self-delimiting stream).
const (
	tNil     byte = 0x00
	tBool    byte = 0x01
	tInt     byte = 0x02
	tUint    byte = 0x03
	tFloat   byte = 0x04
	tString  byte = 0x05
	tBytes   byte = 0x06
	tSlice   byte = 0x07
	tMap     byte = 0x08
	tStruct  byte = 0x09
	tPtr     byte = 0x0a
	tBackref byte = 0x0b
	tHook    byte = 0x0c
	tType    byte = 0x0d
)

// canonicalNaN is the single bit pattern all NaN values encode to, so that
// NaN fingerprints deterministically equal to itself.
const canonicalNaN = 0x7ff8000000000000

// Keyer is the capability hook for user types that want to control their
// memoization identity. MemoKey should return a stable, canonicalizable
// payload; the concrete type's identity is mixed in separately, so two
// types returning equal payloads never collide.
type Keyer interface {
	MemoKey() any
}

// UnsupportedValueError is returned when a value cannot be fingerprinted
// (functions, channels, pointer-identity map keys) and no Keyer hook or
// registered key function covers its type.
type UnsupportedValueError struct {
	TypeName string
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("cannot fingerprint value of type %s: implement memo.Keyer or register a key function", e.TypeName)
}

// Fingerprint computes the memoization fingerprint for one component
// invocation: function identity + mount path + arguments.
//
// The digest is deterministic across processes: map entries are combined
// order-independently, NaN is canonicalized, and cyclic structures are
// encoded with structural back-references so isomorphic graphs fingerprint
// identically.
func Fingerprint(fnID string, path keys.Path, args []any) ([]byte, error) {
	h := sha256.New()
	h.Write([]byte(domainFingerprint))
	h.Write([]byte{0x00})

	e := &encoder{w: h, visited: make(map[visitKey]int)}
	e.writeString(fnID)
	e.writeString(path.Hash())
	e.writeUvarint(uint64(len(args)))
	for _, arg := range args {
		if err := e.walk(reflect.ValueOf(arg)); err != nil {
			return nil, err
		}
	}

	return h.Sum(nil), nil
}

// visitKey identifies a node for cycle detection. The type is part of the
// key because two distinct objects can share an address (e.g. a struct and
// its first field). The length is part of the key because reslices share
// their base pointer: s and s[:1] are different values and must not
// back-reference each other. A true revisit recurs with identical
// pointer, length, and type, so cycle termination still holds.
type visitKey struct {
	ptr    uintptr
	length int
	typ    reflect.Type
}

// encoder performs the canonical depth-first walk. Visited nodes are
// assigned increasing structural positions ("arena+index style"); a revisit
// emits a back-reference to the position instead of recursing, which both
// terminates cycles and makes isomorphic graphs encode identically.
type encoder struct {
	w       hash.Hash
	visited map[visitKey]int
	nextPos int

	// forbidCycles is set when encoding map keys for sorting; map keys
	// cannot legally contain cycles, and pointer-identity keys are
	// rejected rather than silently hashed by address.
	forbidCycles bool
}

func (e *encoder) writeUvarint(u uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], u)
	e.w.Write(buf[:n])
}

func (e *encoder) writeString(s string) {
	e.w.Write([]byte{tString})
	e.writeUvarint(uint64(len(s)))
	e.w.Write([]byte(s))
}

func (e *encoder) writeBytes(b []byte) {
	e.w.Write([]byte{tBytes})
	e.writeUvarint(uint64(len(b)))
	e.w.Write(b)
}

// writeType mixes a concrete type's identity into the stream.
func (e *encoder) writeType(t reflect.Type) {
	e.w.Write([]byte{tType})
	e.writeString(t.PkgPath() + "." + t.String())
}

func (e *encoder) walk(rv reflect.Value) error {
	if !rv.IsValid() {
		e.w.Write([]byte{tNil})
		return nil
	}

	// Capability hook first: the value controls its own identity.
	if rv.CanInterface() {
		if k, ok := rv.Interface().(Keyer); ok {
			e.w.Write([]byte{tHook})
			e.writeType(rv.Type())
			return e.walk(reflect.ValueOf(k.MemoKey()))
		}
		if fn := lookupKeyFunc(rv.Type()); fn != nil {
			payload, err := fn(rv.Interface())
			if err != nil {
				return fmt.Errorf("memo key func for %s: %w", rv.Type(), err)
			}
			e.w.Write([]byte{tHook})
			e.writeType(rv.Type())
			return e.walk(reflect.ValueOf(payload))
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		e.w.Write([]byte{tBool})
		if rv.Bool() {
			e.w.Write([]byte{1})
		} else {
			e.w.Write([]byte{0})
		}
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.w.Write([]byte{tInt})
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(rv.Int()))
		e.w.Write(buf[:])
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.w.Write([]byte{tUint})
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], rv.Uint())
		e.w.Write(buf[:])
		return nil

	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		bits := math.Float64bits(f)
		if math.IsNaN(f) {
			bits = canonicalNaN
		}
		e.w.Write([]byte{tFloat})
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], bits)
		e.w.Write(buf[:])
		return nil

	case reflect.String:
		e.writeString(rv.String())
		return nil

	case reflect.Slice:
		if rv.IsNil() {
			e.w.Write([]byte{tNil})
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			e.writeBytes(rv.Bytes())
			return nil
		}
		if done, err := e.enter(visitKey{ptr: rv.Pointer(), length: rv.Len(), typ: rv.Type()}); done || err != nil {
			return err
		}
		return e.walkSeq(rv)

	case reflect.Array:
		return e.walkSeq(rv)

	case reflect.Map:
		if rv.IsNil() {
			e.w.Write([]byte{tNil})
			return nil
		}
		if done, err := e.enter(visitKey{ptr: rv.Pointer(), typ: rv.Type()}); done || err != nil {
			return err
		}
		return e.walkMap(rv)

	case reflect.Struct:
		e.w.Write([]byte{tStruct})
		e.writeType(rv.Type())
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			e.writeString(t.Field(i).Name)
			if err := e.walk(rv.Field(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Pointer:
		if rv.IsNil() {
			e.w.Write([]byte{tNil})
			return nil
		}
		if done, err := e.enter(visitKey{ptr: rv.Pointer(), typ: rv.Type()}); done || err != nil {
			return err
		}
		e.w.Write([]byte{tPtr})
		return e.walk(rv.Elem())

	case reflect.Interface:
		if rv.IsNil() {
			e.w.Write([]byte{tNil})
			return nil
		}
		return e.walk(rv.Elem())

	default:
		return &UnsupportedValueError{TypeName: rv.Type().String()}
	}
}

// enter records a node in the visited table. If the node was already
// visited it emits a back-reference and reports done=true. Positions are
// assigned in walk order, so two isomorphic graphs assign identical
// positions regardless of memory addresses.
func (e *encoder) enter(k visitKey) (done bool, err error) {
	if e.forbidCycles {
		return false, &UnsupportedValueError{TypeName: k.typ.String() + " (pointer-identity value in map key)"}
	}
	if pos, ok := e.visited[k]; ok {
		e.w.Write([]byte{tBackref})
		e.writeUvarint(uint64(pos))
		return true, nil
	}
	e.visited[k] = e.nextPos
	e.nextPos++
	return false, nil
}

func (e *encoder) walkSeq(rv reflect.Value) error {
	e.w.Write([]byte{tSlice})
	e.writeUvarint(uint64(rv.Len()))
	for i := 0; i < rv.Len(); i++ {
		if err := e.walk(rv.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

// walkMap encodes map entries order-independently: each key is digested on
// its own (cycles forbidden - Go map keys cannot contain them), entries are
// sorted by that digest, then walked in sorted order through the main
// encoder so that values may still reference shared/cyclic nodes.
func (e *encoder) walkMap(rv reflect.Value) error {
	type entry struct {
		sortKey string
		key     reflect.Value
		val     reflect.Value
	}

	entries := make([]entry, 0, rv.Len())
	seen := make(map[string]bool, rv.Len())
	tied := false
	iter := rv.MapRange()
	for iter.Next() {
		digest, err := digestMapKey(iter.Key())
		if err != nil {
			return err
		}
		if seen[digest] {
			tied = true
		}
		seen[digest] = true
		entries = append(entries, entry{sortKey: digest, key: iter.Key(), val: iter.Value()})
	}

	// Distinct keys can digest identically (several NaN keys all
	// canonicalize to one bit pattern). Break such ties on the value
	// digest so the stream stays deterministic.
	if tied {
		for i := range entries {
			digest, err := digestMapValue(entries[i].val)
			if err != nil {
				return err
			}
			entries[i].sortKey += digest
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].sortKey < entries[j].sortKey })

	e.w.Write([]byte{tMap})
	e.writeUvarint(uint64(len(entries)))
	for _, ent := range entries {
		if err := e.walk(ent.key); err != nil {
			return err
		}
		if err := e.walk(ent.val); err != nil {
			return err
		}
	}
	return nil
}

// digestMapKey computes a standalone digest of a map key for sorting.
func digestMapKey(rv reflect.Value) (string, error) {
	h := sha256.New()
	sub := &encoder{w: h, visited: make(map[visitKey]int), forbidCycles: true}
	if err := sub.walk(rv); err != nil {
		return "", err
	}
	return string(h.Sum(nil)), nil
}

// digestMapValue computes a standalone digest of a map value, used only to
// break sort ties between keys with equal digests. Unlike keys, values may
// contain cycles, so the sub-encoder gets its own visited table.
func digestMapValue(rv reflect.Value) (string, error) {
	h := sha256.New()
	sub := &encoder{w: h, visited: make(map[visitKey]int)}
	if err := sub.walk(rv); err != nil {
		return "", err
	}
	return string(h.Sum(nil)), nil
}
