package recordstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chargelog/backend/libs/db"
	"chargelog/backend/services/session-agent/internal/models"
)

type store interface {
	Append(ctx context.Context, session models.Session) error
	AppendNext(ctx context.Context, session models.Session) (int64, error)
	FindOpenSession(ctx context.Context, deviceUID string) (models.Session, error)
	HighestID(ctx context.Context) (int64, error)
	Rewrite(ctx context.Context, session models.Session) error
	List(ctx context.Context, filter Filter) ([]models.Session, error)
}

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func openSession(id int64, device string, startWh int64, start time.Time) models.Session {
	return models.Session{
		ID:                id,
		DeviceUID:         device,
		ChargingPointName: "Bay " + device,
		StartRealPowerWh:  models.Int64(startWh),
		StartTimestamp:    models.Time(start),
	}
}

func closeSession(s models.Session, endWh int64, end time.Time) models.Session {
	s.EndRealPowerWh = models.Int64(endWh)
	s.ConsumptionWh = models.Int64(endWh - *s.StartRealPowerWh)
	s.EndTimestamp = models.Time(end)
	d := end.Sub(*s.StartTimestamp)
	s.Duration = &d
	return s
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) store) {
	t.Run("empty store", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		highest, err := s.HighestID(ctx)
		if err != nil || highest != 0 {
			t.Fatalf("expected 0 for empty store, got %d %v", highest, err)
		}
		if _, err := s.FindOpenSession(ctx, "ctrl-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := s.Rewrite(ctx, openSession(1, "ctrl-1", 0, base)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on rewrite, got %v", err)
		}
	})

	t.Run("append find rewrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := openSession(1, "ctrl-1", 1000, base)
		first.RFID = &models.RFIDPairing{Tag: "04A1", Timestamp: base.Add(-10 * time.Second)}
		if err := s.Append(ctx, first); err != nil {
			t.Fatalf("append first: %v", err)
		}
		if err := s.Append(ctx, openSession(3, "ctrl-2", 50, base)); err != nil {
			t.Fatalf("append second: %v", err)
		}
		if err := s.Append(ctx, openSession(4, "ctrl-1", 2000, base.Add(time.Hour))); err != nil {
			t.Fatalf("append third: %v", err)
		}

		highest, err := s.HighestID(ctx)
		if err != nil || highest != 4 {
			t.Fatalf("expected highest 4, got %d %v", highest, err)
		}

		open, err := s.FindOpenSession(ctx, "ctrl-1")
		if err != nil {
			t.Fatalf("find open: %v", err)
		}
		if open.ID != 4 {
			t.Fatalf("expected newest open session 4, got %d", open.ID)
		}

		closed := closeSession(open, 2500, base.Add(2*time.Hour))
		if err := s.Rewrite(ctx, closed); err != nil {
			t.Fatalf("rewrite: %v", err)
		}

		open, err = s.FindOpenSession(ctx, "ctrl-1")
		if err != nil {
			t.Fatalf("find open after close: %v", err)
		}
		if open.ID != 1 {
			t.Fatalf("expected older open session 1, got %d", open.ID)
		}
		if open.RFID == nil || open.RFID.Tag != "04A1" || !open.RFID.Timestamp.Equal(first.RFID.Timestamp) {
			t.Fatalf("rfid pairing not persisted: %+v", open.RFID)
		}
		if *open.StartRealPowerWh != 1000 || !open.StartTimestamp.Equal(base) {
			t.Fatalf("start fields not persisted: %+v", open)
		}

		all, err := s.List(ctx, Filter{DeviceUID: "ctrl-1"})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 2 || all[0].ID != 4 || all[1].ID != 1 {
			t.Fatalf("unexpected list %+v", all)
		}
		got := all[0]
		if got.IsOpen() || *got.ConsumptionWh != 500 || *got.Duration != time.Hour {
			t.Fatalf("closed row not persisted: %+v", got)
		}

		openOnly, err := s.List(ctx, Filter{OpenOnly: true, Limit: 1})
		if err != nil {
			t.Fatalf("list open: %v", err)
		}
		if len(openOnly) != 1 || openOnly[0].ID != 3 {
			t.Fatalf("unexpected open list %+v", openOnly)
		}
	})
}

func runAppendNextSuite(t *testing.T, newStore func(t *testing.T) store) {
	t.Run("follows highest id", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Append(ctx, openSession(7, "ctrl-1", 0, base)); err != nil {
			t.Fatalf("append: %v", err)
		}
		id, err := s.AppendNext(ctx, openSession(0, "ctrl-2", 10, base))
		if err != nil {
			t.Fatalf("append next: %v", err)
		}
		if id != 8 {
			t.Fatalf("expected id 8, got %d", id)
		}
		open, err := s.FindOpenSession(ctx, "ctrl-2")
		if err != nil || open.ID != 8 {
			t.Fatalf("expected stored session 8, got %+v %v", open, err)
		}
	})

	t.Run("parallel writers get distinct ids", func(t *testing.T) {
		s := newStore(t)
		const writers = 25
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			seen = make(map[int64]bool)
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := s.AppendNext(context.Background(), openSession(0, fmt.Sprintf("ctrl-%d", i), int64(i), base))
				if err != nil {
					t.Errorf("append next %d: %v", i, err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if seen[id] {
					t.Errorf("id %d handed out twice", id)
				}
				seen[id] = true
			}(i)
		}
		wg.Wait()

		list, err := s.List(context.Background(), Filter{Limit: 100})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != writers {
			t.Fatalf("expected %d rows, got %d", writers, len(list))
		}
		if list[0].ID != writers {
			t.Fatalf("expected highest id %d, got %d", writers, list[0].ID)
		}
	})
}

func TestCSVStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store {
		s, err := NewCSVStore(t.TempDir())
		if err != nil {
			t.Fatalf("new csv store: %v", err)
		}
		return s
	})
}

func TestCSVStoreAppendNext(t *testing.T) {
	runAppendNextSuite(t, func(t *testing.T) store {
		s, err := NewCSVStore(t.TempDir())
		if err != nil {
			t.Fatalf("new csv store: %v", err)
		}
		return s
	})
}

func TestSQLStoreSQLite(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store {
		conn, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "agent.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		s, err := NewSQLStore(context.Background(), conn, db.SQLite)
		if err != nil {
			t.Fatalf("new sql store: %v", err)
		}
		return s
	})
}

func TestSQLStoreSQLiteAppendNext(t *testing.T) {
	runAppendNextSuite(t, func(t *testing.T) store {
		conn, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "agent.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		s, err := NewSQLStore(context.Background(), conn, db.SQLite)
		if err != nil {
			t.Fatalf("new sql store: %v", err)
		}
		return s
	})
}

func TestSQLStoreDuplicateID(t *testing.T) {
	conn, err := db.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	s, err := NewSQLStore(context.Background(), conn, db.SQLite)
	if err != nil {
		t.Fatalf("new sql store: %v", err)
	}
	if err := s.Append(context.Background(), openSession(1, "ctrl-1", 0, base)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(context.Background(), openSession(1, "ctrl-2", 0, base)); err == nil {
		t.Fatalf("expected primary key violation")
	}
}
