package keys

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Path is an immutable ordered sequence of keys rooted at the fixed root
// path. A Path addresses one logical component across runs; its lifecycle
// spans from first mount to GC.
type Path struct {
	elems []Key
}

// Root returns the fixed root path (zero elements).
func Root() Path {
	return Path{}
}

// NewPath builds a path from the given keys under the root.
func NewPath(elems ...Key) Path {
	cp := make([]Key, len(elems))
	copy(cp, elems)
	return Path{elems: cp}
}

// Child returns a new path with k appended. The receiver is unchanged.
func (p Path) Child(k Key) Path {
	elems := make([]Key, len(p.elems)+1)
	copy(elems, p.elems)
	elems[len(p.elems)] = k
	return Path{elems: elems}
}

// Len returns the number of keys in the path.
func (p Path) Len() int { return len(p.elems) }

// IsRoot reports whether p is the root path.
func (p Path) IsRoot() bool { return len(p.elems) == 0 }

// Parent returns the path with the last key removed.
// Parent of the root is the root.
func (p Path) Parent() Path {
	if len(p.elems) == 0 {
		return Path{}
	}
	return Path{elems: p.elems[:len(p.elems)-1]}
}

// Last returns the final key of the path, or Null for the root.
func (p Path) Last() Key {
	if len(p.elems) == 0 {
		return Null{}
	}
	return p.elems[len(p.elems)-1]
}

// Equal reports whether two paths address the same logical entity.
func (p Path) Equal(other Path) bool {
	return bytes.Equal(p.Encode(), other.Encode())
}

// HasPrefix reports whether prefix is an ancestor of (or equal to) p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.elems) > len(p.elems) {
		return false
	}
	for i, k := range prefix.elems {
		if !Equal(p.elems[i], k) {
			return false
		}
	}
	return true
}

// Compare orders paths lexicographically by element; a strict prefix sorts
// before its extensions. Used for deterministic enumeration during GC.
func (p Path) Compare(other Path) int {
	n := min(len(p.elems), len(other.elems))
	for i := 0; i < n; i++ {
		if c := Compare(p.elems[i], other.elems[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p.elems) < len(other.elems):
		return -1
	case len(p.elems) > len(other.elems):
		return 1
	}
	return 0
}

// Encode returns the canonical byte encoding of the path: element count
// followed by each element's encoding.
func (p Path) Encode() []byte {
	dst := binary.AppendUvarint(nil, uint64(len(p.elems)))
	for _, k := range p.elems {
		dst = k.Encode(dst)
	}
	return dst
}

// Text returns the store-addressable form of the path: the concatenated
// hex element encodings. Element encodings are self-delimiting, so the
// concatenation is unambiguous, and the Text of a path is a literal string
// prefix of the Text of every descendant - a subtree scan in the store is
// `path_key LIKE text || '%'` and ORDER BY path_key enumerates the tree
// depth-first in key order.
func (p Path) Text() string {
	var dst []byte
	for _, k := range p.elems {
		dst = k.Encode(dst)
	}
	return hexEncode(dst)
}

// Hash returns a fixed-length domain-separated digest of the path, used
// where a compact stable identifier is needed (memo fingerprints mix it
// in as the mount location's identity).
func (p Path) Hash() string {
	return hashHex(domainPath, p.Encode())
}

// String returns a human-readable rendering, e.g. /"users"/42.
func (p Path) String() string {
	if len(p.elems) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, k := range p.elems {
		b.WriteByte('/')
		b.WriteString(k.String())
	}
	return b.String()
}
