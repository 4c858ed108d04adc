package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"chargelog/backend/libs/db"
	"chargelog/backend/services/session-agent/internal/models"
)

const sessionColumns = `id, device_uid, charging_point_name, rfid_tag, rfid_timestamp,
	start_real_power_wh, end_real_power_wh, consumption_wh,
	start_timestamp, end_timestamp, duration_seconds`

// SQLStore keeps sessions in the charging_sessions table.
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
	mu      sync.Mutex
}

// NewSQLStore migrates the schema and returns the store.
func NewSQLStore(ctx context.Context, conn *sql.DB, dialect db.Dialect) (*SQLStore, error) {
	s := &SQLStore{db: conn, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("recordstore: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	ts := s.dialect.TimestampType()
	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS charging_sessions (
			id                  BIGINT PRIMARY KEY,
			device_uid          TEXT NOT NULL,
			charging_point_name TEXT NOT NULL DEFAULT '',
			rfid_tag            TEXT,
			rfid_timestamp      %[1]s,
			start_real_power_wh BIGINT,
			end_real_power_wh   BIGINT,
			consumption_wh      BIGINT,
			start_timestamp     %[1]s,
			end_timestamp       %[1]s,
			duration_seconds    DOUBLE PRECISION
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_charging_sessions_device_open
			ON charging_sessions (device_uid, end_timestamp)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append inserts an open session.
func (s *SQLStore) Append(ctx context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO charging_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := append([]interface{}{session.ID}, valueArgs(session)...)
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...); err != nil {
		return fmt.Errorf("recordstore: insert session %d: %w", session.ID, err)
	}
	return nil
}

// AppendNext inserts the session under id MAX(id)+1, read and written in one transaction.
func (s *SQLStore) AppendNext(ctx context.Context, session models.Session) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("recordstore: begin: %w", err)
	}
	defer tx.Rollback()

	var highest int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM charging_sessions`).Scan(&highest); err != nil {
		return 0, fmt.Errorf("recordstore: highest id: %w", err)
	}
	session.ID = highest + 1

	query := `INSERT INTO charging_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := append([]interface{}{session.ID}, valueArgs(session)...)
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("recordstore: insert session %d: %w", session.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("recordstore: commit session %d: %w", session.ID, err)
	}
	return session.ID, nil
}

// FindOpenSession returns the newest session of the device without end timestamp.
func (s *SQLStore) FindOpenSession(ctx context.Context, deviceUID string) (models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE device_uid = ? AND end_timestamp IS NULL
		ORDER BY id DESC
		LIMIT 1`
	session, err := scanSession(s.db.QueryRowContext(ctx, s.dialect.Rebind(query), deviceUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, ErrNotFound
		}
		return models.Session{}, fmt.Errorf("recordstore: find open session: %w", err)
	}
	return session, nil
}

// HighestID returns the largest id, 0 for an empty table.
func (s *SQLStore) HighestID(ctx context.Context) (int64, error) {
	var highest int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM charging_sessions`).Scan(&highest); err != nil {
		return 0, fmt.Errorf("recordstore: highest id: %w", err)
	}
	return highest, nil
}

// Rewrite updates every column of the session row by id.
func (s *SQLStore) Rewrite(ctx context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		UPDATE charging_sessions
		SET device_uid = ?,
		    charging_point_name = ?,
		    rfid_tag = ?,
		    rfid_timestamp = ?,
		    start_real_power_wh = ?,
		    end_real_power_wh = ?,
		    consumption_wh = ?,
		    start_timestamp = ?,
		    end_timestamp = ?,
		    duration_seconds = ?
		WHERE id = ?
	`
	args := append(valueArgs(session), session.ID)
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("recordstore: update session %d: %w", session.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns sessions newest first.
func (s *SQLStore) List(ctx context.Context, filter Filter) ([]models.Session, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.DeviceUID != "" {
		where = append(where, "device_uid = ?")
		args = append(args, filter.DeviceUID)
	}
	if filter.OpenOnly {
		where = append(where, "end_timestamp IS NULL")
	}
	query := `SELECT ` + sessionColumns + ` FROM charging_sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("recordstore: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// valueArgs returns every column but id in sessionColumns order.
func valueArgs(s models.Session) []interface{} {
	var (
		tag      sql.NullString
		tagTime  sql.NullTime
		duration sql.NullFloat64
	)
	if s.RFID != nil {
		tag = sql.NullString{String: s.RFID.Tag, Valid: true}
		tagTime = sql.NullTime{Time: s.RFID.Timestamp.UTC(), Valid: !s.RFID.Timestamp.IsZero()}
	}
	if s.Duration != nil {
		duration = sql.NullFloat64{Float64: s.Duration.Seconds(), Valid: true}
	}
	return []interface{}{
		s.DeviceUID,
		s.ChargingPointName,
		tag,
		tagTime,
		nullInt(s.StartRealPowerWh),
		nullInt(s.EndRealPowerWh),
		nullInt(s.ConsumptionWh),
		nullTime(s.StartTimestamp),
		nullTime(s.EndTimestamp),
		duration,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (models.Session, error) {
	var (
		s                       models.Session
		tag                     sql.NullString
		tagTime, start, end     sql.NullTime
		startWh, endWh, consume sql.NullInt64
		duration                sql.NullFloat64
	)
	if err := row.Scan(
		&s.ID,
		&s.DeviceUID,
		&s.ChargingPointName,
		&tag,
		&tagTime,
		&startWh,
		&endWh,
		&consume,
		&start,
		&end,
		&duration,
	); err != nil {
		return models.Session{}, err
	}
	if tag.Valid {
		s.RFID = &models.RFIDPairing{Tag: tag.String}
		if tagTime.Valid {
			s.RFID.Timestamp = tagTime.Time.UTC()
		}
	}
	s.StartRealPowerWh = intPtr(startWh)
	s.EndRealPowerWh = intPtr(endWh)
	s.ConsumptionWh = intPtr(consume)
	s.StartTimestamp = timePtr(start)
	s.EndTimestamp = timePtr(end)
	if duration.Valid {
		d := time.Duration(math.Round(duration.Float64 * float64(time.Second)))
		s.Duration = &d
	}
	return s, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
