// Package engine implements the tidemark component mount scheduler.
//
// The engine is the heart of tidemark - it executes a tree of components
// addressed by stable paths, applies memoization, reconciles declared
// effects against persisted tracking state, and garbage-collects
// components that disappeared.
//
// ARCHITECTURE:
//
// Update Pass:
// An App.Update call is one pass. Component bodies run concurrently on
// goroutines, bounded by the quota; everything that touches the store or
// external systems happens in ordered phases after the tree completes:
//
//  1. Execute the root component; nested Mount/MountRun calls register
//     children and schedule them (subject to the quota).
//  2. Memoized components whose fingerprint is unchanged skip execution;
//     their subtree and tracked effects are retained as-is.
//  3. Reconcile each declared (provider, key) pair exactly once against
//     its previous tracking records. GC joins in here: every
//     previously-tracked pair not re-declared and not retained reconciles
//     to NonExistence, so a pass's deletes and upserts share sink batches.
//  4. Group actions per sink and batch-apply in deterministic key order.
//  5. Resolve two-level child reconcilers from the applied parents and
//     run the child declarations and child GC as a second wave.
//  6. Persist component records and tracking; component records not
//     revisited are deleted (or left pending_deletion for retry when
//     their teardown failed).
//
// CRITICAL PATTERNS:
//
// CP-1: At-Most-One-Writer Per Path
// No two bodies for the same StablePath ever run concurrently. Enforced
// per-path by the pass's run table, not by a global lock - independent
// paths run fully concurrently up to the quota.
//
// CP-2: Permit Release On First Child
// A parent holds its quota permit only until it mounts its first child;
// it re-acquires before running more body code after awaiting a child.
// Without this rule, quota <= nesting depth would deadlock.
//
// CP-3: Failure Means Uncertainty
// A body error invalidates the component's memo fingerprint and marks the
// tracking of everything its subtree declared as may-be-missing. The next
// pass is the retry mechanism - there is no in-pass retry.
package engine
