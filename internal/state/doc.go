// Package state provides durable storage for tidemark's reconciliation
// state: component records (status, memo fingerprint, cached return) and
// tracking records (the provider-defined residue of previously-applied
// effects). Uses SQLite with WAL mode for concurrent read access.
//
// The store is a collaborator of the engine, not a general key-value
// store: it supports point lookup by path, ordered child/subtree
// enumeration, and GC deletion, nothing more.
//
// CRITICAL PATTERNS:
//
// CP-1: Idempotent Writes
// All writes use ON CONFLICT upserts. Re-running a pass after a crash must
// never fail on a constraint and must converge to the same rows.
//
// CP-2: Deterministic Enumeration
// Paths are stored under their canonical hex encoding; a subtree is a
// literal prefix range and ORDER BY path_key gives the same GC order on
// every run.
package state
