// Package audit records the commands operators send to devices through the
// API, together with each device's reply.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Page bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timestampLayout has a fixed width so stored values sort as text.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// ErrDeviceRequired is returned by Create for an entry with no device.
var ErrDeviceRequired = errors.New("audit: device is required")

// Entry is one command sent to a device.
type Entry struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	Command   string    `json:"command"`
	Result    string    `json:"result"`
	RequestID string    `json:"request_id,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Device string // optional: only this device
	Result string // optional: only this reply (NoError, InvalidState, ...)
	Limit  int    // default 50, max 200
	Offset int    // pagination offset
}

// ListResult is one page of entries plus the total matching the filter.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for command audit operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores entries in the command_audit table.
type SQLiteRepository struct {
	db    *sql.DB
	clock clock.PassiveClock
}

// NewSQLiteRepository creates a command audit repository. A nil clock uses
// the real clock.
func NewSQLiteRepository(db *sql.DB, clk clock.PassiveClock) *SQLiteRepository {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SQLiteRepository{db: db, clock: clk}
}

// Create inserts a new entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.Device == "" {
		return ErrDeviceRequired
	}
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.clock.Now().UTC()
	}
	if e.Source == "" {
		e.Source = "api"
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (id, device, command, result, request_id, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Device, e.Command, e.Result,
		nullableString(e.RequestID), e.Source,
		e.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command audit entry: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings so optional TEXT columns
// store NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Device != "" {
		conditions = append(conditions, "device = ?")
		args = append(args, filter.Device)
	}
	if filter.Result != "" {
		conditions = append(conditions, "result = ?")
		args = append(args, filter.Result)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM command_audit " + where //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command audit entries: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, device, command, result, request_id, source, created_at FROM command_audit %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var requestID sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.Device, &e.Command, &e.Result,
			&requestID, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command audit entry: %w", err)
		}
		e.RequestID = requestID.String

		t, err := time.Parse(timestampLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing command audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
