package state

import (
	"context"
	"database/sql"
	"fmt"
)

// Status is the lifecycle state of a component record.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusPendingDeletion Status = "pending_deletion"
)

// ComponentRecord is the persisted state of one mounted StablePath:
// lifecycle status, memo fingerprint, and memoized return value.
// Created when a component is first mounted; updated on every re-run;
// deleted on GC.
type ComponentRecord struct {
	PathKey      string // canonical hex encoding (keys.Path.Text)
	PathDisplay  string
	ParentKey    string
	Status       Status
	Fingerprint  []byte // nil = invalidated / never fingerprinted
	CachedReturn []byte // nil = no memoized return value
	UpdatedPass  string
}

// UpsertComponent inserts or replaces a component record.
// Idempotent - re-running a pass converges to the same row.
func (s *Store) UpsertComponent(ctx context.Context, rec ComponentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO components
		(path_key, path_display, parent_key, status, fingerprint, cached_return, updated_pass)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path_key) DO UPDATE SET
			path_display = excluded.path_display,
			parent_key = excluded.parent_key,
			status = excluded.status,
			fingerprint = excluded.fingerprint,
			cached_return = excluded.cached_return,
			updated_pass = excluded.updated_pass
	`,
		rec.PathKey,
		rec.PathDisplay,
		rec.ParentKey,
		string(rec.Status),
		rec.Fingerprint,
		rec.CachedReturn,
		rec.UpdatedPass,
	)
	if err != nil {
		return fmt.Errorf("upsert component %s: %w", rec.PathDisplay, err)
	}
	return nil
}

// GetComponent returns the record for a path, or (nil, nil) if absent.
func (s *Store) GetComponent(ctx context.Context, pathKey string) (*ComponentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path_key, path_display, parent_key, status, fingerprint, cached_return, updated_pass
		FROM components WHERE path_key = ?
	`, pathKey)

	rec, err := scanComponent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get component: %w", err)
	}
	return rec, nil
}

// ListComponents returns all component records ordered by path_key.
// The ordering is the deterministic enumeration order used by GC.
func (s *Store) ListComponents(ctx context.Context) ([]ComponentRecord, error) {
	return s.listComponents(ctx, `
		SELECT path_key, path_display, parent_key, status, fingerprint, cached_return, updated_pass
		FROM components ORDER BY path_key
	`)
}

// ListSubtree returns records for a path and all its descendants, ordered
// by path_key. The path encoding makes a subtree a literal prefix range.
func (s *Store) ListSubtree(ctx context.Context, pathKey string) ([]ComponentRecord, error) {
	return s.listComponents(ctx, `
		SELECT path_key, path_display, parent_key, status, fingerprint, cached_return, updated_pass
		FROM components
		WHERE path_key LIKE ? || '%'
		ORDER BY path_key
	`, pathKey)
}

// ListByStatus returns records with the given status, ordered by path_key.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]ComponentRecord, error) {
	return s.listComponents(ctx, `
		SELECT path_key, path_display, parent_key, status, fingerprint, cached_return, updated_pass
		FROM components WHERE status = ? ORDER BY path_key
	`, string(status))
}

// SetStatus updates only the status of a component record.
func (s *Store) SetStatus(ctx context.Context, pathKey string, status Status, pass string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE components SET status = ?, updated_pass = ? WHERE path_key = ?
	`, string(status), pass, pathKey)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// InvalidateFingerprint clears the memo fingerprint and cached return and
// marks the component failed. Called when a body errors: the scheduler
// cannot assume no partial effects occurred, so the memo shortcut must not
// survive.
func (s *Store) InvalidateFingerprint(ctx context.Context, pathKey string, pass string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE components
		SET fingerprint = NULL, cached_return = NULL, status = ?, updated_pass = ?
		WHERE path_key = ?
	`, string(StatusFailed), pass, pathKey)
	if err != nil {
		return fmt.Errorf("invalidate fingerprint: %w", err)
	}
	return nil
}

// DeleteComponent removes a component record after its GC completes.
func (s *Store) DeleteComponent(ctx context.Context, pathKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM components WHERE path_key = ?`, pathKey)
	if err != nil {
		return fmt.Errorf("delete component: %w", err)
	}
	return nil
}

func (s *Store) listComponents(ctx context.Context, query string, args ...any) ([]ComponentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer rows.Close()

	var recs []ComponentRecord
	for rows.Next() {
		rec, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("list components: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	return recs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComponent(row rowScanner) (*ComponentRecord, error) {
	var rec ComponentRecord
	var status string
	if err := row.Scan(
		&rec.PathKey,
		&rec.PathDisplay,
		&rec.ParentKey,
		&status,
		&rec.Fingerprint,
		&rec.CachedReturn,
		&rec.UpdatedPass,
	); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	return &rec, nil
}
