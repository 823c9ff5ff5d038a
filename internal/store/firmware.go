package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/iotdm-agent/internal/dm"
)

// FirmwareStore implements dm.FirmwareStore on the single-row firmware
// table.
type FirmwareStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ dm.FirmwareStore = (*FirmwareStore)(nil)

// NewFirmwareStore returns a firmware store backed by db.
func NewFirmwareStore(db *sql.DB) *FirmwareStore {
	return &FirmwareStore{db: db, now: time.Now}
}

// LoadFirmware returns the saved record. found is false if none was saved.
func (s *FirmwareStore) LoadFirmware(ctx context.Context) (rec dm.FirmwareRecord, found bool, err error) {
	var (
		state, status int
		updatedAt     string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT version, name, uri, verifier, state, update_status, updated_at
		 FROM firmware WHERE id = 1`,
	).Scan(&rec.Version, &rec.Name, &rec.URI, &rec.Verifier, &state, &status, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return dm.FirmwareRecord{}, false, nil
	}
	if err != nil {
		return dm.FirmwareRecord{}, false, fmt.Errorf("loading firmware record: %w", err)
	}

	rec.State = dm.FirmwareState(state)
	rec.UpdateStatus = dm.FirmwareUpdateStatus(status)
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return dm.FirmwareRecord{}, false, err
	}
	return rec, true, nil
}

// SaveFirmware replaces the saved record.
func (s *FirmwareStore) SaveFirmware(ctx context.Context, rec dm.FirmwareRecord) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO firmware (id, version, name, uri, verifier, state, update_status, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   version = excluded.version,
		   name = excluded.name,
		   uri = excluded.uri,
		   verifier = excluded.verifier,
		   state = excluded.state,
		   update_status = excluded.update_status,
		   updated_at = excluded.updated_at`,
		rec.Version, rec.Name, rec.URI, rec.Verifier,
		int(rec.State), int(rec.UpdateStatus), formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("saving firmware record: %w", err)
	}
	return nil
}
