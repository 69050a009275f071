// Package keys implements stable keys and stable paths, the addressing
// scheme for every component and effect in tidemark.
//
// A Key is a canonical, hashable, totally-ordered value. A Path is an
// ordered sequence of Keys rooted at the fixed root path. Two components
// sharing a Path are the same logical entity across runs; the engine relies
// on that identity for memoization, reconciliation, and GC.
//
// CRITICAL PATTERNS:
//
// CP-1: Canonical Identity
// Keys are derived only from values (never object identity), so paths are
// stable across process restarts. Strings are NFC normalized at the
// canonicalization boundary. Floats are forbidden - they break determinism.
//
// CP-2: Deterministic Encoding
// Key.Encode() produces a self-delimiting, order-preserving byte encoding.
// It is the ONLY serialization used for hashing and store addressing.
package keys
