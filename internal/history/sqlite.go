package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// timestampLayout matches the created_at column default so stored values
// sort as text.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// SQLiteRepository implements Repository on the lifecycle_history table.
type SQLiteRepository struct {
	db    *sql.DB
	clock clock.PassiveClock
}

// NewSQLiteRepository creates a repository on an open, migrated database.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//   - clk: Clock for defaulted timestamps and pruning; nil uses the real clock
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB, clk clock.PassiveClock) *SQLiteRepository {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SQLiteRepository{db: db, clock: clk}
}

// Record inserts a history entry.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - e: Entry to persist; ID is ignored
//
// Returns:
//   - error: ErrDeviceRequired, or the underlying database error
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	if e.Device == "" {
		return ErrDeviceRequired
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.clock.Now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO lifecycle_history (device, property, value, host, created_at) VALUES (?, ?, ?, ?, ?)",
		e.Device,
		e.Property,
		e.Value,
		e.Host,
		formatTimestamp(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting lifecycle history: %w", err)
	}
	return nil
}

// List returns recent entries for a device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - device: Device name
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []Entry: Entries ordered by created_at DESC, then id DESC
//   - error: ErrDeviceRequired, or the underlying query error
func (r *SQLiteRepository) List(ctx context.Context, device string, limit int) ([]Entry, error) {
	if device == "" {
		return nil, ErrDeviceRequired
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device, property, value, host, created_at
		 FROM lifecycle_history
		 WHERE device = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		device,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying lifecycle history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Device, &e.Property, &e.Value, &e.Host, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning lifecycle history: %w", err)
		}
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lifecycle history: %w", err)
	}

	return entries, nil
}

// Prune deletes entries older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Retention; entries before now-olderThan are deleted
//
// Returns:
//   - int64: Number of rows deleted
//   - error: ErrInvalidRetention, or the underlying database error
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := formatTimestamp(r.clock.Now().Add(-olderThan))
	result, err := r.db.ExecContext(ctx, "DELETE FROM lifecycle_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting lifecycle history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp reads created_at as written by Record or by the column
// default.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	if t, err := time.Parse(timestampLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t.UTC(), nil
}
