package shadow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// casMaxAttempts bounds the optimistic retry loop on versioned writes.
// Under realistic contention a write rarely loses more than once; exhausting
// the budget surfaces as ErrConflict rather than spinning.
const casMaxAttempts = 5

// SQLiteRepository implements Repository on a SQLite document table.
//
// Each device id maps to one row holding the reported and desired substates
// as JSON documents plus the shadow version. Read-modify-write operations
// (UpdateReported, UpdateDesired, ClearDesired) use an optimistic
// compare-and-swap keyed on the version read at fetch time: the UPDATE only
// applies when the stored version still matches, so two concurrent writers
// can never silently collapse into a single version bump. The loser re-reads
// and retries.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the shadows
// table migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get retrieves the shadow for a device id.
func (r *SQLiteRepository) Get(ctx context.Context, deviceID string) (*Shadow, error) {
	query := `
		SELECT device_id, reported, desired, version, updated_at
		FROM shadows
		WHERE device_id = ?`

	row := r.db.QueryRowContext(ctx, query, deviceID)
	sh, err := scanShadow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: querying shadow: %w", ErrStore, err)
	}
	return sh, nil
}

// List retrieves all shadows, ordered by device id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Shadow, error) {
	query := `
		SELECT device_id, reported, desired, version, updated_at
		FROM shadows
		ORDER BY device_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: querying shadows: %w", ErrStore, err)
	}
	defer rows.Close()

	var shadows []Shadow
	for rows.Next() {
		sh, err := scanShadow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning shadow: %w", ErrStore, err)
		}
		shadows = append(shadows, *sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating shadows: %w", ErrStore, err)
	}
	return shadows, nil
}

// Create inserts a new shadow.
func (r *SQLiteRepository) Create(ctx context.Context, sh *Shadow) error {
	reportedJSON, desiredJSON, err := marshalStates(sh)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO shadows (device_id, reported, desired, version, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		sh.DeviceID,
		reportedJSON,
		desiredJSON,
		sh.Version,
		sh.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("%w: inserting shadow: %w", ErrStore, err)
	}
	return nil
}

// Update replaces a stored shadow wholesale, without version checking.
// Callers that need lost-update protection use the substate operations.
func (r *SQLiteRepository) Update(ctx context.Context, sh *Shadow) error {
	reportedJSON, desiredJSON, err := marshalStates(sh)
	if err != nil {
		return err
	}

	query := `
		UPDATE shadows
		SET reported = ?, desired = ?, version = ?, updated_at = ?
		WHERE device_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		reportedJSON,
		desiredJSON,
		sh.Version,
		sh.Timestamp.UTC().Format(time.RFC3339Nano),
		sh.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("%w: updating shadow: %w", ErrStore, err)
	}
	return requireRow(result)
}

// Delete removes the shadow for a device id.
func (r *SQLiteRepository) Delete(ctx context.Context, deviceID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM shadows WHERE device_id = ?", deviceID)
	if err != nil {
		return fmt.Errorf("%w: deleting shadow: %w", ErrStore, err)
	}
	return requireRow(result)
}

// UpdateReported overlays partial on the stored reported state.
func (r *SQLiteRepository) UpdateReported(ctx context.Context, deviceID string, partial State) (*Shadow, error) {
	return r.mutate(ctx, deviceID, func(sh *Shadow) {
		sh.UpdateReported(partial)
	})
}

// UpdateDesired overlays partial on the stored desired state.
func (r *SQLiteRepository) UpdateDesired(ctx context.Context, deviceID string, partial State) (*Shadow, error) {
	return r.mutate(ctx, deviceID, func(sh *Shadow) {
		sh.UpdateDesired(partial)
	})
}

// ClearDesired resets the stored desired state to empty.
func (r *SQLiteRepository) ClearDesired(ctx context.Context, deviceID string) (*Shadow, error) {
	return r.mutate(ctx, deviceID, func(sh *Shadow) {
		sh.ClearDesired()
	})
}

// Delta returns the outstanding desired-vs-reported difference.
func (r *SQLiteRepository) Delta(ctx context.Context, deviceID string) (map[string]any, error) {
	sh, err := r.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return sh.Delta(), nil
}

// mutate runs the fetch→mutate→write cycle as a compare-and-swap loop.
// The write carries the version observed at fetch time; if another writer
// got there first the row no longer matches and the cycle restarts.
func (r *SQLiteRepository) mutate(ctx context.Context, deviceID string, fn func(*Shadow)) (*Shadow, error) {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		sh, err := r.Get(ctx, deviceID)
		if err != nil {
			return nil, err
		}

		fetchedVersion := sh.Version
		fn(sh)

		applied, err := r.writeVersioned(ctx, sh, fetchedVersion)
		if err != nil {
			return nil, err
		}
		if applied {
			return sh, nil
		}
	}
	return nil, ErrConflict
}

// writeVersioned persists sh only if the stored row is still at
// expectedVersion. Returns false when the swap lost the race.
func (r *SQLiteRepository) writeVersioned(ctx context.Context, sh *Shadow, expectedVersion int64) (bool, error) {
	reportedJSON, desiredJSON, err := marshalStates(sh)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE shadows
		SET reported = ?, desired = ?, version = ?, updated_at = ?
		WHERE device_id = ? AND version = ?`

	result, err := r.db.ExecContext(ctx, query,
		reportedJSON,
		desiredJSON,
		sh.Version,
		sh.Timestamp.UTC().Format(time.RFC3339Nano),
		sh.DeviceID,
		expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("%w: updating shadow: %w", ErrStore, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: checking rows affected: %w", ErrStore, err)
	}
	return rowsAffected == 1, nil
}

// marshalStates encodes both substates as JSON documents for storage.
func marshalStates(sh *Shadow) (string, string, error) {
	reportedJSON, err := json.Marshal(sh.Reported)
	if err != nil {
		return "", "", fmt.Errorf("%w: marshalling reported state: %w", ErrStore, err)
	}
	desiredJSON, err := json.Marshal(sh.Desired)
	if err != nil {
		return "", "", fmt.Errorf("%w: marshalling desired state: %w", ErrStore, err)
	}
	return string(reportedJSON), string(desiredJSON), nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanShadow scans a row into a Shadow.
func scanShadow(scanner rowScanner) (*Shadow, error) {
	var sh Shadow
	var reportedJSON, desiredJSON, updatedAt string

	err := scanner.Scan(
		&sh.DeviceID,
		&reportedJSON,
		&desiredJSON,
		&sh.Version,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(reportedJSON), &sh.Reported); err != nil {
		return nil, fmt.Errorf("unmarshalling reported state: %w", err)
	}
	if err := json.Unmarshal([]byte(desiredJSON), &sh.Desired); err != nil {
		return nil, fmt.Errorf("unmarshalling desired state: %w", err)
	}

	sh.Timestamp, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &sh, nil
}

// requireRow converts a zero-rows-affected result into ErrNotFound.
func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: checking rows affected: %w", ErrStore, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
