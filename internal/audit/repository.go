// Package audit keeps a persistent trail of filter lifecycle events.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeFormat is fixed width so created_at sorts and compares as text.
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one audit_logs row.
type Entry struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	Handle       string         `json:"handle,omitempty"`
	SerialNumber *uint32        `json:"serial_number,omitempty"`
	ChannelID    string         `json:"channel_id,omitempty"`
	Instances    int            `json:"instances"`
	Source       string         `json:"source"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Query selects entries. Empty fields match everything.
type Query struct {
	Action string
	Handle string
	Since  time.Time
	Limit  int // default 50, max 200
	Offset int
}

// Page is one page of query results, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, q Query) (*Page, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository is the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = string(b)
	}
	var serial any
	if e.SerialNumber != nil {
		serial = int64(*e.SerialNumber)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, handle, serial_number, channel_id, instances, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, nullable(e.Handle), serial, nullable(e.ChannelID),
		e.Instances, e.Source, details, e.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching q, newest first.
func (r *SQLiteRepository) List(ctx context.Context, q Query) (*Page, error) {
	q = q.normalised()
	where, args := q.where()

	var total int
	//nolint:gosec // where holds only ? placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	//nolint:gosec // where holds only ? placeholders
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, action, handle, serial_number, channel_id, instances, source, details, created_at
		 FROM audit_logs`+where+` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &Page{Entries: entries, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// Purge deletes entries created before the cutoff and reports how many.
func (r *SQLiteRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM audit_logs WHERE created_at < ?", before.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("purging audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging audit entries: %w", err)
	}
	return n, nil
}

func (q Query) normalised() Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func (q Query) where() (string, []any) {
	var conds []string
	var args []any
	if q.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, q.Action)
	}
	if q.Handle != "" {
		conds = append(conds, "handle = ?")
		args = append(args, q.Handle)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, q.Since.UTC().Format(timeFormat))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                          Entry
		handle, channelID, details sql.NullString
		serial                     sql.NullInt64
		createdAt                  string
	)
	if err := rows.Scan(&e.ID, &e.Action, &handle, &serial, &channelID,
		&e.Instances, &e.Source, &details, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Handle = handle.String
	e.ChannelID = channelID.String
	if serial.Valid {
		v := uint32(serial.Int64) //nolint:gosec // stored from a uint32
		e.SerialNumber = &v
	}
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return Entry{}, fmt.Errorf("decoding audit details: %w", err)
		}
	}

	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}
