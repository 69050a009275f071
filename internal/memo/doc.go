// Package memo computes memoization fingerprints for component invocations.
//
// A fingerprint is a deterministic SHA-256 digest over a canonical encoding
// of a function's identity, its mount path, and its arguments. The engine
// skips re-executing a component whose fingerprint matches the last stored
// one (and whose last run succeeded).
//
// CRITICAL PATTERNS:
//
// CP-1: Determinism
// Map entries are encoded order-independently (sorted by their own
// sub-digest), NaN encodes to a single fixed bit pattern, and cyclic
// structures are encoded via structural back-references, so two isomorphic
// object graphs always fingerprint identically - across runs and across
// processes.
//
// CP-2: Type Separation
// The concrete type's identity is always mixed into the digest before its
// payload, so two different types that happen to produce equal payloads
// never collide.
package memo
