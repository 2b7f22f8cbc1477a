package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrations(t *testing.T) {
	db := testDB(t)

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again against an up-to-date schema is a no-op.
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestNewIDMonotonic(t *testing.T) {
	db := testDB(t)

	prev := db.NewID()
	for i := 0; i < 100; i++ {
		id := db.NewID()
		if id <= prev {
			t.Fatalf("ID %q not greater than previous %q", id, prev)
		}
		prev = id
	}
}

// Every goroutine must see the same in-memory database: an uncapped
// pool would hand each new connection its own empty one.
func TestOpenMemoryConcurrentUse(t *testing.T) {
	db := testDB(t)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				node := &MemoryNode{SpiralType: "episodic", Depth: 1, Angle: 0.1, Radius: 1}
				if _, err := db.AppendNode(node); err != nil {
					t.Errorf("AppendNode: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	count, err := db.CountNodes("")
	if err != nil {
		t.Fatalf("CountNodes: %v", err)
	}
	if count != 80 {
		t.Errorf("count = %d, want 80", count)
	}
}

// File-backed databases get pragmas through the DSN, so every pooled
// connection has them.
func TestOpenFilePragmas(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "gyre.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestTransactRollsBackOnError(t *testing.T) {
	db := testDB(t)

	boom := errors.New("boom")
	err := db.Transact(func(tx *sql.Tx) error {
		if _, err := db.AppendNodeTx(tx, &MemoryNode{SpiralType: "episodic", Depth: 1, Angle: 0.1, Radius: 1}); err != nil {
			return err
		}
		if err := db.PutSpiralStatsTx(tx, &SpiralStatsRow{SpiralID: "episodic", SpiralType: "episodic", NodeCount: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	count, err := db.CountNodes("")
	if err != nil {
		t.Fatalf("CountNodes: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d after rollback, want 0", count)
	}
	row, err := db.GetSpiralStats("episodic")
	if err != nil {
		t.Fatalf("GetSpiralStats: %v", err)
	}
	if row != nil {
		t.Errorf("stats row survived rollback: %+v", row)
	}
}

func TestTransactCommits(t *testing.T) {
	db := testDB(t)

	err := db.Transact(func(tx *sql.Tx) error {
		for i := 0; i < 3; i++ {
			if _, err := db.AppendNodeTx(tx, &MemoryNode{SpiralType: "semantic", Depth: float64(i), Angle: 0.1, Radius: 1}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	count, err := db.CountNodes("semantic")
	if err != nil {
		t.Fatalf("CountNodes: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
