package store

import (
	"database/sql"
	"errors"
	"time"
)

// SpiralStatsRow is the persisted form of a spiral's cached statistics.
// The spiral index package owns these rows; nothing else writes them.
type SpiralStatsRow struct {
	SpiralID         string
	SpiralType       string
	NodeCount        int64
	AverageDepth     float64
	CurrentRadius    float64
	TotalTurns       int64
	AccumulatedAngle float64
	UpdatedAt        int64
}

// GetSpiralStats returns the cached statistics row for a spiral, or nil
// if no row exists yet.
func (db *DB) GetSpiralStats(spiralID string) (*SpiralStatsRow, error) {
	return db.getSpiralStats(db.DB, spiralID)
}

// GetSpiralStatsTx is GetSpiralStats inside an existing transaction,
// seeing that transaction's own uncommitted writes.
func (db *DB) GetSpiralStatsTx(tx *sql.Tx, spiralID string) (*SpiralStatsRow, error) {
	return db.getSpiralStats(tx, spiralID)
}

func (db *DB) getSpiralStats(q querier, spiralID string) (*SpiralStatsRow, error) {
	var r SpiralStatsRow
	err := q.QueryRow(`
		SELECT spiral_id, spiral_type, node_count, average_depth, current_radius,
			total_turns, accumulated_angle, updated_at
		FROM spiral_stats WHERE spiral_id = ?
	`, spiralID).Scan(&r.SpiralID, &r.SpiralType, &r.NodeCount, &r.AverageDepth,
		&r.CurrentRadius, &r.TotalTurns, &r.AccumulatedAngle, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get spiral stats", err)
	}
	return &r, nil
}

// PutSpiralStats inserts or overwrites the cached statistics for a spiral.
func (db *DB) PutSpiralStats(r *SpiralStatsRow) error {
	return db.putSpiralStats(db.DB, r)
}

// PutSpiralStatsTx is PutSpiralStats inside an existing transaction.
func (db *DB) PutSpiralStatsTx(tx *sql.Tx, r *SpiralStatsRow) error {
	return db.putSpiralStats(tx, r)
}

func (db *DB) putSpiralStats(q querier, r *SpiralStatsRow) error {
	r.UpdatedAt = time.Now().UnixMilli()
	_, err := q.Exec(`
		INSERT INTO spiral_stats (spiral_id, spiral_type, node_count, average_depth,
			current_radius, total_turns, accumulated_angle, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(spiral_id) DO UPDATE SET
			spiral_type = excluded.spiral_type,
			node_count = excluded.node_count,
			average_depth = excluded.average_depth,
			current_radius = excluded.current_radius,
			total_turns = excluded.total_turns,
			accumulated_angle = excluded.accumulated_angle,
			updated_at = excluded.updated_at
	`, r.SpiralID, r.SpiralType, r.NodeCount, r.AverageDepth,
		r.CurrentRadius, r.TotalTurns, r.AccumulatedAngle, r.UpdatedAt)
	if err != nil {
		return storeErr("put spiral stats", err)
	}
	return nil
}

// ListSpiralStats returns all cached statistics rows ordered by spiral ID.
func (db *DB) ListSpiralStats() ([]SpiralStatsRow, error) {
	rows, err := db.Query(`
		SELECT spiral_id, spiral_type, node_count, average_depth, current_radius,
			total_turns, accumulated_angle, updated_at
		FROM spiral_stats ORDER BY spiral_id
	`)
	if err != nil {
		return nil, storeErr("list spiral stats", err)
	}
	defer rows.Close()

	var out []SpiralStatsRow
	for rows.Next() {
		var r SpiralStatsRow
		if err := rows.Scan(&r.SpiralID, &r.SpiralType, &r.NodeCount, &r.AverageDepth,
			&r.CurrentRadius, &r.TotalTurns, &r.AccumulatedAngle, &r.UpdatedAt); err != nil {
			return nil, storeErr("scan spiral stats row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list spiral stats", err)
	}
	return out, nil
}
