package recordstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"chargelog/backend/services/session-agent/internal/models"
)

// CSVFileName is the record file inside the data directory.
const CSVFileName = "charging_data.csv"

// CSVStore keeps sessions in a single CSV file with a header row. Rows it does not touch are
// written back field for field.
type CSVStore struct {
	path string
	mu   sync.Mutex
}

type csvRow struct {
	fields  []string
	session models.Session
	parsed  bool
	open    bool
}

type csvTable struct {
	header  []string
	index   map[string]int
	rows    []csvRow
	trailNL bool
}

// NewCSVStore prepares <dataDir>/charging_data.csv. The file itself is created on first append.
func NewCSVStore(dataDir string) (*CSVStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("recordstore: create %s: %w", dataDir, err)
	}
	return &CSVStore{path: filepath.Join(dataDir, CSVFileName)}, nil
}

// Path returns the CSV file location.
func (s *CSVStore) Path() string {
	return s.path
}

// Append adds an open session at the end of the file.
func (s *CSVStore) Append(_ context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil {
		return err
	}
	return s.appendRow(table, session)
}

// AppendNext assigns the session highest id + 1 and appends it in one locked step.
func (s *CSVStore) AppendNext(_ context.Context, session models.Session) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil {
		return 0, err
	}
	session.ID = table.highestID() + 1
	if err := s.appendRow(table, session); err != nil {
		return 0, err
	}
	return session.ID, nil
}

func (s *CSVStore) appendRow(table *csvTable, session models.Session) error {
	if table == nil {
		return s.writeAll(&csvTable{
			header: models.Columns,
			index:  columnIndex(models.Columns),
			rows:   []csvRow{{fields: encodeRow(models.Columns, session)}},
		})
	}
	for _, row := range table.rows {
		if row.parsed && row.session.ID == session.ID {
			return fmt.Errorf("recordstore: duplicate session id %d", session.ID)
		}
	}

	var buf bytes.Buffer
	if !table.trailNL {
		buf.WriteByte('\n')
	}
	w := csv.NewWriter(&buf)
	if err := w.Write(encodeRow(table.header, session)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("recordstore: open %s: %w", s.path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("recordstore: append: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("recordstore: sync: %w", err)
	}
	return f.Close()
}

// FindOpenSession returns the highest-id row of the device with an empty endTimestamp.
func (s *CSVStore) FindOpenSession(_ context.Context, deviceUID string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil {
		return models.Session{}, err
	}
	var (
		found models.Session
		ok    bool
	)
	if table != nil {
		for _, row := range table.rows {
			if !row.parsed || !row.open || row.session.DeviceUID != deviceUID {
				continue
			}
			if !ok || row.session.ID > found.ID {
				found, ok = row.session, true
			}
		}
	}
	if !ok {
		return models.Session{}, ErrNotFound
	}
	return found, nil
}

// HighestID returns the largest id in the file, 0 when empty.
func (s *CSVStore) HighestID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil {
		return 0, err
	}
	return table.highestID(), nil
}

// Rewrite replaces the row with the session's id and rewrites the whole file atomically.
// Only cells whose value changed are re-encoded; the rest keep their original text.
func (s *CSVStore) Rewrite(_ context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil {
		return err
	}
	if table == nil {
		return ErrNotFound
	}
	replaced := false
	for i, row := range table.rows {
		if row.parsed && row.session.ID == session.ID {
			table.rows[i].fields = mergeRow(table.header, row, session)
			replaced = true
			break
		}
	}
	if !replaced {
		return ErrNotFound
	}
	return s.writeAll(table)
}

// List returns sessions newest first.
func (s *CSVStore) List(_ context.Context, filter Filter) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil || table == nil {
		return nil, err
	}
	var out []models.Session
	for _, row := range table.rows {
		if !row.parsed {
			continue
		}
		if filter.DeviceUID != "" && row.session.DeviceUID != filter.DeviceUID {
			continue
		}
		if filter.OpenOnly && !row.open {
			continue
		}
		out = append(out, row.session)
	}
	return newestFirst(out, filter.limit()), nil
}

func (t *csvTable) highestID() int64 {
	if t == nil {
		return 0
	}
	var highest int64
	for _, row := range t.rows {
		if row.parsed && row.session.ID > highest {
			highest = row.session.ID
		}
	}
	return highest
}

// load parses the file; nil table means the file does not exist yet.
func (s *CSVStore) load() (*csvTable, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("recordstore: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("recordstore: parse %s: %w", s.path, err)
	}

	table := &csvTable{
		header:  records[0],
		index:   columnIndex(records[0]),
		trailNL: data[len(data)-1] == '\n',
	}
	for _, fields := range records[1:] {
		table.rows = append(table.rows, decodeRow(table.index, fields))
	}
	return table, nil
}

func (s *CSVStore) writeAll(table *csvTable) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+CSVFileName+".*")
	if err != nil {
		return fmt.Errorf("recordstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(table.header); err != nil {
		tmp.Close()
		return err
	}
	for _, row := range table.rows {
		if err := w.Write(row.fields); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("recordstore: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("recordstore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("recordstore: replace %s: %w", s.path, err)
	}
	return nil
}

func columnIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	return index
}

func decodeRow(index map[string]int, fields []string) csvRow {
	row := csvRow{fields: fields}
	get := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	id, err := strconv.ParseInt(get("id"), 10, 64)
	if err != nil {
		return row
	}
	row.parsed = true
	row.open = get("endTimestamp") == ""
	row.session = models.Session{
		ID:                id,
		DeviceUID:         get("deviceUid"),
		ChargingPointName: get("chargingPointName"),
		StartRealPowerWh:  parseWh(get("startRealPowerWh")),
		EndRealPowerWh:    parseWh(get("endRealPowerWh")),
		ConsumptionWh:     parseWh(get("consumptionWh")),
		StartTimestamp:    parseTime(get("startTimestamp")),
		EndTimestamp:      parseTime(get("endTimestamp")),
	}
	// A tag with an unreadable timestamp still counts as paired.
	if tag := get("rfidTag"); tag != "" {
		row.session.RFID = &models.RFIDPairing{Tag: tag}
		if ts := parseTime(get("rfidTimestamp")); ts != nil {
			row.session.RFID.Timestamp = *ts
		}
	}
	if d, err := models.ParseDuration(get("duration")); err == nil && get("duration") != "" {
		row.session.Duration = &d
	}
	return row
}

func encodeRow(header []string, session models.Session) []string {
	p := session.Payload()
	values := map[string]string{
		"id":                strconv.FormatInt(p.ID, 10),
		"deviceUid":         p.DeviceUID,
		"chargingPointName": p.ChargingPointName,
		"rfidTag":           deref(p.RFIDTag),
		"rfidTimestamp":     deref(p.RFIDTimestamp),
		"startRealPowerWh":  formatWh(p.StartRealPowerWh),
		"endRealPowerWh":    formatWh(p.EndRealPowerWh),
		"consumptionWh":     formatWh(p.ConsumptionWh),
		"startTimestamp":    deref(p.StartTimestamp),
		"endTimestamp":      deref(p.EndTimestamp),
		"duration":          deref(p.Duration),
	}
	fields := make([]string, len(header))
	for i, name := range header {
		fields[i] = values[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))]
	}
	return fields
}

// mergeRow starts from the stored cells and overwrites those whose encoded value differs
// between the decoded row and session. Unknown columns and unparsed cells survive.
func mergeRow(header []string, row csvRow, session models.Session) []string {
	before := encodeRow(header, row.session)
	after := encodeRow(header, session)
	size := len(header)
	if len(row.fields) > size {
		size = len(row.fields)
	}
	fields := make([]string, size)
	copy(fields, row.fields)
	for i := range header {
		if after[i] != before[i] {
			fields[i] = after[i]
		}
	}
	return fields
}

func parseWh(raw string) *int64 {
	if raw == "" {
		return nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return &v
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	v := int64(math.Round(f))
	return &v
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := models.ParseTimestamp(raw)
	if err != nil {
		return nil
	}
	return &t
}

func formatWh(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
