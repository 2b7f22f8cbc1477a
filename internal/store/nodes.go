package store

import (
	"database/sql"
	"time"
)

// MemoryNode is one immutable entry in the append-only memory log.
// Once appended it is never mutated or deleted; newer nodes supersede
// older ones logically.
type MemoryNode struct {
	Seq        int64 // monotonic insertion cursor, assigned by the store
	ID         string
	SpiralType string
	Depth      float64
	Angle      float64 // radians travelled along the spiral by this node
	Radius     float64
	Payload    string
	CreatedAt  int64 // unix millis
}

// AppendNode inserts a new memory node and returns its ID. This is the
// only mutation the store supports. The insert is a single statement, so
// concurrent readers never observe a partially written node.
func (db *DB) AppendNode(node *MemoryNode) (string, error) {
	return db.appendNode(db.DB, node)
}

// AppendNodeTx is AppendNode inside an existing transaction, so a batch
// of appends can commit or roll back as one unit.
func (db *DB) AppendNodeTx(tx *sql.Tx, node *MemoryNode) (string, error) {
	return db.appendNode(tx, node)
}

func (db *DB) appendNode(q querier, node *MemoryNode) (string, error) {
	if node.ID == "" {
		node.ID = db.NewID()
	}
	now := time.Now().UnixMilli()

	result, err := q.Exec(`
		INSERT INTO memory_nodes (id, spiral_type, depth, angle, radius, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, node.ID, node.SpiralType, node.Depth, node.Angle, node.Radius, node.Payload, now)
	if err != nil {
		return "", storeErr("append node", err)
	}

	seq, _ := result.LastInsertId()
	node.Seq = seq
	node.CreatedAt = now
	return node.ID, nil
}

// MaxSeq returns the highest node sequence number, or 0 for an empty
// store. Used as the snapshot boundary for scans.
func (db *DB) MaxSeq() (int64, error) {
	var seq sql.NullInt64
	if err := db.QueryRow("SELECT MAX(seq) FROM memory_nodes").Scan(&seq); err != nil {
		return 0, storeErr("max seq", err)
	}
	return seq.Int64, nil
}

// ScanNodes streams nodes in sequence order to fn. spiralType filters to
// one spiral when non-empty; maxSeq bounds the scan to nodes at or below
// the given cursor (0 means unbounded). Re-invoking with the same
// arguments yields the same nodes or a superset, never fewer, since
// appends only ever add rows past the cursor.
func (db *DB) ScanNodes(spiralType string, maxSeq int64, fn func(MemoryNode) error) error {
	query := `
		SELECT seq, id, spiral_type, depth, angle, radius, payload, created_at
		FROM memory_nodes`
	var args []any
	where := ""
	if spiralType != "" {
		where = " WHERE spiral_type = ?"
		args = append(args, spiralType)
	}
	if maxSeq > 0 {
		if where == "" {
			where = " WHERE seq <= ?"
		} else {
			where += " AND seq <= ?"
		}
		args = append(args, maxSeq)
	}
	query += where + " ORDER BY seq"

	rows, err := db.Query(query, args...)
	if err != nil {
		return storeErr("scan nodes", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n MemoryNode
		var payload sql.NullString
		if err := rows.Scan(&n.Seq, &n.ID, &n.SpiralType, &n.Depth, &n.Angle,
			&n.Radius, &payload, &n.CreatedAt); err != nil {
			return storeErr("scan node row", err)
		}
		n.Payload = payload.String
		if err := fn(n); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return storeErr("scan nodes", err)
	}
	return nil
}

// CountNodes returns the number of nodes for a spiral type, or all nodes
// when spiralType is empty.
func (db *DB) CountNodes(spiralType string) (int64, error) {
	var count int64
	var err error
	if spiralType == "" {
		err = db.QueryRow("SELECT COUNT(*) FROM memory_nodes").Scan(&count)
	} else {
		err = db.QueryRow("SELECT COUNT(*) FROM memory_nodes WHERE spiral_type = ?", spiralType).Scan(&count)
	}
	if err != nil {
		return 0, storeErr("count nodes", err)
	}
	return count, nil
}

// SpiralTypes returns the distinct spiral types present in the node log,
// bounded at maxSeq (0 means unbounded).
func (db *DB) SpiralTypes(maxSeq int64) ([]string, error) {
	query := "SELECT DISTINCT spiral_type FROM memory_nodes"
	var args []any
	if maxSeq > 0 {
		query += " WHERE seq <= ?"
		args = append(args, maxSeq)
	}
	query += " ORDER BY spiral_type"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, storeErr("spiral types", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, storeErr("scan spiral type", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("spiral types", err)
	}
	return types, nil
}
