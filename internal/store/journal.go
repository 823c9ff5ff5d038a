package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/iotdm-agent/internal/dm"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500

	// timeLayout is fixed-width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000Z"
)

// Entry is one journaled request outcome.
type Entry struct {
	ID      int64         `json:"id"`
	ReqID   string        `json:"reqId"`
	Kind    string        `json:"kind"`
	Code    int           `json:"rc"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsedNs"`
	At      time.Time     `json:"at"`
}

// EntryFromEvent converts an engine request event.
func EntryFromEvent(ev dm.RequestEvent) Entry {
	e := Entry{
		ReqID:   ev.ReqID,
		Kind:    ev.Kind,
		Code:    int(ev.Code),
		Elapsed: ev.Elapsed,
		At:      ev.At,
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	return e
}

// Journal records and lists request outcomes.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteJournal implements Journal on the request_journal table.
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteJournal returns a journal backed by db.
func NewSQLiteJournal(db *sql.DB) *SQLiteJournal {
	return &SQLiteJournal{db: db, now: time.Now}
}

// Record inserts e. A zero At is set to the current time.
func (j *SQLiteJournal) Record(ctx context.Context, e Entry) error {
	if e.ReqID == "" {
		return errors.New("request id is required")
	}
	if e.Kind == "" {
		return errors.New("request kind is required")
	}
	if e.At.IsZero() {
		e.At = j.now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO request_journal (req_id, kind, rc, error, elapsed_ms, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ReqID, e.Kind, e.Code, e.Error, e.Elapsed.Milliseconds(), formatTime(e.At),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first (default 50, max 500).
func (j *SQLiteJournal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	limit = min(limit, maxJournalLimit)

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, req_id, kind, rc, error, elapsed_ms, at
		 FROM request_journal
		 ORDER BY at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e         Entry
			elapsedMS int64
			at        string
		)
		if err := rows.Scan(&e.ID, &e.ReqID, &e.Kind, &e.Code, &e.Error, &elapsedMS, &at); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (j *SQLiteJournal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be positive")
	}
	cutoff := formatTime(j.now().Add(-olderThan))

	result, err := j.db.ExecContext(ctx, "DELETE FROM request_journal WHERE at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}
