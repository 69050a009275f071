// Package effect defines the reconciliation protocol between the engine
// and external-system providers.
//
// A component declares a desired target state for a (provider, key) pair.
// Once per update pass, the engine invokes the provider's Reconcile with
// the desired value and the set of previously possibly-applied tracking
// records; the provider decides no-op, write, or delete, and names the
// sink that will perform the action. Sinks receive all actions accumulated
// for their provider in the pass batched together, enabling transactional
// or connection-amortized writes.
//
// CRITICAL PATTERNS:
//
// CP-1: The No-op Fast Path Must Never Falsely Skip
// Reconcile may return nil only when the previous state provably equals
// the desired state. may-be-missing previous state means "assume
// divergence, write defensively".
//
// CP-2: One Desired Value Per Key Per Pass
// Two declarations for the same (provider, key) in one pass are a
// programming error, never silently merged.
package effect
