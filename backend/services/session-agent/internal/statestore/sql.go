package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chargelog/backend/libs/db"
	"chargelog/backend/services/session-agent/internal/models"
)

// SQLStore keeps device states in the device_states table.
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
}

// NewSQLStore migrates the table and returns the store.
func NewSQLStore(ctx context.Context, conn *sql.DB, dialect db.Dialect) (*SQLStore, error) {
	s := &SQLStore{db: conn, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("statestore: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS device_states (
			device_uid TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			updated_at %s NOT NULL
		)`, s.dialect.TimestampType())
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Get returns the stored state, Unknown when no row exists.
func (s *SQLStore) Get(ctx context.Context, deviceUID string) (models.State, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT state FROM device_states WHERE device_uid = ?`), deviceUID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.StateUnknown, nil
		}
		return models.StateUnknown, fmt.Errorf("statestore: select %s: %w", deviceUID, err)
	}
	return models.ParseState(raw), nil
}

// Set upserts the state of a device.
func (s *SQLStore) Set(ctx context.Context, deviceUID string, state models.State) error {
	const query = `
		INSERT INTO device_states (device_uid, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (device_uid) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), deviceUID, state.String(), time.Now().UTC()); err != nil {
		return fmt.Errorf("statestore: upsert %s: %w", deviceUID, err)
	}
	return nil
}
