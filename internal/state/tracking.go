package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// TrackingRow is one persisted tracking record for a (provider, key) pair.
// A row with a nil Record is an uncertainty marker: a prior run may have
// applied state that was never tracked (e.g. it crashed mid-write).
type TrackingRow struct {
	Provider     string
	KeyEnc       string // canonical hex key encoding
	Record       []byte // nil = marker row
	MayBeMissing bool
	OwnerPath    string // path_key of the declaring component
	UpdatedPass  string
}

// PrevTracking is the read-side view of a (provider, key) pair: the set of
// simultaneously-possible records plus the may-be-missing flag.
//
// Invariant: if MayBeMissing is false, Records is the complete and exact
// set of previously-applied states.
type PrevTracking struct {
	Records      [][]byte
	MayBeMissing bool
}

// recordHash content-addresses a tracking payload for the primary key.
// Marker rows (nil record) hash to the empty string so each (provider,key)
// carries at most one marker.
func recordHash(record []byte) string {
	if record == nil {
		return ""
	}
	sum := sha256.Sum256(record)
	return hex.EncodeToString(sum[:])
}

// GetTracking returns the previous state for a (provider, key) pair.
// A pair with no rows returns an empty PrevTracking.
func (s *Store) GetTracking(ctx context.Context, provider, keyEnc string) (PrevTracking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record, may_be_missing FROM tracking
		WHERE provider = ? AND key_enc = ?
		ORDER BY record_hash
	`, provider, keyEnc)
	if err != nil {
		return PrevTracking{}, fmt.Errorf("get tracking: %w", err)
	}
	defer rows.Close()

	var prev PrevTracking
	for rows.Next() {
		var record []byte
		var missing bool
		if err := rows.Scan(&record, &missing); err != nil {
			return PrevTracking{}, fmt.Errorf("get tracking: %w", err)
		}
		if record != nil {
			prev.Records = append(prev.Records, record)
		}
		if missing {
			prev.MayBeMissing = true
		}
	}
	if err := rows.Err(); err != nil {
		return PrevTracking{}, fmt.Errorf("get tracking: %w", err)
	}
	return prev, nil
}

// ReplaceTracking replaces the full record set for a (provider, key) pair
// with a single definite record (or none). Called after a sink batch
// applies successfully: the new record is the complete and exact state, so
// any marker rows are cleared too.
func (s *Store) ReplaceTracking(ctx context.Context, provider, keyEnc string, record []byte, ownerPath, pass string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace tracking: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM tracking WHERE provider = ? AND key_enc = ?
	`, provider, keyEnc); err != nil {
		return fmt.Errorf("replace tracking: clear: %w", err)
	}

	if record != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tracking
			(provider, key_enc, record_hash, record, may_be_missing, owner_path, updated_pass)
			VALUES (?, ?, ?, ?, 0, ?, ?)
		`, provider, keyEnc, recordHash(record), record, ownerPath, pass); err != nil {
			return fmt.Errorf("replace tracking: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace tracking: commit: %w", err)
	}
	return nil
}

// AddPossibleTracking inserts one more possible record for a (provider,
// key) pair without clearing existing rows. Used when a write may or may
// not have landed: the old and new states are both possible.
func (s *Store) AddPossibleTracking(ctx context.Context, row TrackingRow) error {
	missing := 0
	if row.MayBeMissing {
		missing = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking
		(provider, key_enc, record_hash, record, may_be_missing, owner_path, updated_pass)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, key_enc, record_hash) DO UPDATE SET
			may_be_missing = excluded.may_be_missing,
			owner_path = excluded.owner_path,
			updated_pass = excluded.updated_pass
	`, row.Provider, row.KeyEnc, recordHash(row.Record), row.Record, missing, row.OwnerPath, row.UpdatedPass)
	if err != nil {
		return fmt.Errorf("add possible tracking: %w", err)
	}
	return nil
}

// MarkUncertain records that a (provider, key) pair may hold untracked
// prior state: existing rows get may_be_missing set, and a marker row is
// inserted so the flag survives even when no records exist yet.
func (s *Store) MarkUncertain(ctx context.Context, provider, keyEnc, ownerPath, pass string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark uncertain: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE tracking SET may_be_missing = 1, updated_pass = ?
		WHERE provider = ? AND key_enc = ?
	`, pass, provider, keyEnc); err != nil {
		return fmt.Errorf("mark uncertain: update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tracking
		(provider, key_enc, record_hash, record, may_be_missing, owner_path, updated_pass)
		VALUES (?, ?, '', NULL, 1, ?, ?)
		ON CONFLICT(provider, key_enc, record_hash) DO UPDATE SET
			may_be_missing = 1,
			updated_pass = excluded.updated_pass
	`, provider, keyEnc, ownerPath, pass); err != nil {
		return fmt.Errorf("mark uncertain: marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark uncertain: commit: %w", err)
	}
	return nil
}

// DeleteTracking removes every record for a (provider, key) pair.
// Called after a delete action applies successfully.
func (s *Store) DeleteTracking(ctx context.Context, provider, keyEnc string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM tracking WHERE provider = ? AND key_enc = ?
	`, provider, keyEnc)
	if err != nil {
		return fmt.Errorf("delete tracking: %w", err)
	}
	return nil
}

// DeleteTrackingByProviderPrefix removes all rows whose provider name
// starts with the given prefix. Used to tear down a derived child provider
// (and all its declared children) when its parent effect is deleted.
func (s *Store) DeleteTrackingByProviderPrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM tracking WHERE provider LIKE ? || '%'
	`, prefix)
	if err != nil {
		return fmt.Errorf("delete tracking by provider prefix: %w", err)
	}
	return nil
}

// TrackedKey identifies one (provider, key) pair present in the store.
type TrackedKey struct {
	Provider  string
	KeyEnc    string
	OwnerPath string
}

// ListTrackedKeys returns every distinct (provider, key) pair, ordered by
// provider then key encoding - the deterministic GC enumeration order.
func (s *Store) ListTrackedKeys(ctx context.Context) ([]TrackedKey, error) {
	return s.listTrackedKeys(ctx, `
		SELECT provider, key_enc, MIN(owner_path) FROM tracking
		GROUP BY provider, key_enc
		ORDER BY provider, key_enc
	`)
}

// ListTrackedKeysForProvider returns the pairs for one provider, in key
// encoding order.
func (s *Store) ListTrackedKeysForProvider(ctx context.Context, provider string) ([]TrackedKey, error) {
	return s.listTrackedKeys(ctx, `
		SELECT provider, key_enc, MIN(owner_path) FROM tracking
		WHERE provider = ?
		GROUP BY provider, key_enc
		ORDER BY key_enc
	`, provider)
}

// ListTrackedKeysByOwnerPrefix returns pairs owned by a path subtree.
// Used by GC to find the effects owned by components that disappeared.
func (s *Store) ListTrackedKeysByOwnerPrefix(ctx context.Context, ownerPrefix string) ([]TrackedKey, error) {
	return s.listTrackedKeys(ctx, `
		SELECT provider, key_enc, MIN(owner_path) FROM tracking
		WHERE owner_path LIKE ? || '%'
		GROUP BY provider, key_enc
		ORDER BY provider, key_enc
	`, ownerPrefix)
}

func (s *Store) listTrackedKeys(ctx context.Context, query string, args ...any) ([]TrackedKey, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracked keys: %w", err)
	}
	defer rows.Close()

	var out []TrackedKey
	for rows.Next() {
		var tk TrackedKey
		if err := rows.Scan(&tk.Provider, &tk.KeyEnc, &tk.OwnerPath); err != nil {
			return nil, fmt.Errorf("list tracked keys: %w", err)
		}
		out = append(out, tk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tracked keys: %w", err)
	}
	return out, nil
}
