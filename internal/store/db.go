package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ErrStoreUnavailable wraps storage-layer I/O failures. Callers must not
// assume partial success when they see it.
var ErrStoreUnavailable = errors.New("store unavailable")

// DB wraps a sql.DB connection to the gyre SQLite database.
type DB struct {
	*sql.DB
	Path string

	// ULID generation uses monotonic entropy so IDs issued by this
	// process sort by creation order even within the same millisecond.
	idMu      sync.Mutex
	idEntropy *ulid.MonotonicEntropy
}

// DefaultDBPath returns the default database path: ~/.gyre/gyre.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".gyre", "gyre.db"), nil
}

// Open opens (or creates) the SQLite database at the given path,
// configures pragmas, and runs migrations.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	// Pragmas go in the DSN so they apply to every pooled connection,
	// not just whichever one happens to serve an Exec.
	sqlDB, err := sql.Open("sqlite", fileDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db := newDB(sqlDB, path)
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func fileDSN(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=mmap_size(268435456)" // 256MB
}

// OpenMemory opens an in-memory SQLite database for testing. The pool
// is capped at one connection: each new connection to ":memory:" would
// otherwise see its own empty database.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := newDB(sqlDB, ":memory:")
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func newDB(sqlDB *sql.DB, path string) *DB {
	return &DB{
		DB:        sqlDB,
		Path:      path,
		idEntropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// NewID issues a fresh ULID string.
func (db *DB) NewID() string {
	db.idMu.Lock()
	defer db.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), db.idEntropy).String()
}

// configurePragmas applies pragmas by Exec. Only valid on a pool capped
// at one connection; file-backed databases get theirs via the DSN.
func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// querier is the query surface shared by *sql.DB and *sql.Tx, letting
// row helpers run either standalone or inside a transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Transact runs fn inside a single transaction, rolling back when fn
// returns an error.
func (db *DB) Transact(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return storeErr("begin tx", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit tx", err)
	}
	return nil
}

// storeErr tags a storage I/O failure so callers can match it against
// ErrStoreUnavailable while keeping the underlying cause in the chain.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
