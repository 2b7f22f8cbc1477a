package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memory_nodes: append-only memory node log",
		SQL: `
CREATE TABLE memory_nodes (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    id             TEXT NOT NULL UNIQUE,
    spiral_type    TEXT NOT NULL,
    depth          REAL NOT NULL,
    angle          REAL NOT NULL,
    radius         REAL NOT NULL,
    payload        TEXT,
    created_at     INTEGER NOT NULL
);

CREATE INDEX idx_nodes_spiral_type ON memory_nodes(spiral_type, seq);
`,
	},
	{
		Version:     2,
		Description: "spiral_stats: cached per-spiral aggregate statistics",
		SQL: `
CREATE TABLE spiral_stats (
    spiral_id      TEXT PRIMARY KEY,
    spiral_type    TEXT NOT NULL,
    node_count     INTEGER NOT NULL DEFAULT 0,
    average_depth  REAL NOT NULL DEFAULT 0,
    current_radius REAL NOT NULL DEFAULT 0,
    total_turns    INTEGER NOT NULL DEFAULT 0,

    -- Fold state for turn accounting: angular distance accumulated
    -- since the last full rotation.
    accumulated_angle REAL NOT NULL DEFAULT 0,

    updated_at     INTEGER NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "writer_lease: single-writer lock lease",
		SQL: `
CREATE TABLE writer_lease (
    name           TEXT PRIMARY KEY,
    holder         TEXT NOT NULL,
    acquired_at    INTEGER NOT NULL,
    expires_at     INTEGER NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
