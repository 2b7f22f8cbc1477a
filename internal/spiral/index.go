package spiral

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gyrelabs/gyre/internal/store"
)

// ErrNotFound is returned when no statistics exist for a spiral.
var ErrNotFound = errors.New("spiral not found")

// Index is the derived, per-type index over the memory node store. It
// exclusively owns the cached SpiralStatistics: every update flows either
// through ApplyIncrementalUpdate (on append) or Overwrite (repair only).
type Index struct {
	db       *store.DB
	policies *PolicySet
}

// NewIndex creates an index over the given store. A nil policy set gets
// the defaults.
func NewIndex(db *store.DB, policies *PolicySet) *Index {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Index{db: db, policies: policies}
}

// Policies exposes the growth policy assignment, shared with the repair
// engine so both compute radius and turns identically.
func (ix *Index) Policies() *PolicySet {
	return ix.policies
}

// GetStatistics returns the cached statistics for a spiral.
func (ix *Index) GetStatistics(spiralID string) (Statistics, error) {
	row, err := ix.db.GetSpiralStats(spiralID)
	if err != nil {
		return Statistics{}, fmt.Errorf("get statistics: %w", err)
	}
	if row == nil {
		return Statistics{}, fmt.Errorf("%w: %s", ErrNotFound, spiralID)
	}
	return fromRow(row), nil
}

// List returns cached statistics for every known spiral, ordered by ID.
func (ix *Index) List() ([]Statistics, error) {
	rows, err := ix.db.ListSpiralStats()
	if err != nil {
		return nil, fmt.Errorf("list statistics: %w", err)
	}
	out := make([]Statistics, len(rows))
	for i := range rows {
		out[i] = fromRow(&rows[i])
	}
	return out, nil
}

// ApplyIncrementalUpdate folds one newly appended node into the spiral's
// cached statistics. This is an online update: it never rescans prior
// nodes. Must be called in commit order, under the single-writer lock.
func (ix *Index) ApplyIncrementalUpdate(node store.MemoryNode) error {
	return ix.applyIncremental(node, ix.db.GetSpiralStats, ix.db.PutSpiralStats)
}

// ApplyIncrementalUpdateTx is ApplyIncrementalUpdate inside an existing
// transaction, so a job's appends and index updates commit atomically.
// Reads see the transaction's own earlier updates.
func (ix *Index) ApplyIncrementalUpdateTx(tx *sql.Tx, node store.MemoryNode) error {
	return ix.applyIncremental(node,
		func(id string) (*store.SpiralStatsRow, error) { return ix.db.GetSpiralStatsTx(tx, id) },
		func(r *store.SpiralStatsRow) error { return ix.db.PutSpiralStatsTx(tx, r) })
}

func (ix *Index) applyIncremental(node store.MemoryNode, get func(string) (*store.SpiralStatsRow, error), put func(*store.SpiralStatsRow) error) error {
	spiralID := node.SpiralType
	row, err := get(spiralID)
	if err != nil {
		return fmt.Errorf("incremental update: %w", err)
	}

	var stats Statistics
	if row != nil {
		stats = fromRow(row)
	} else {
		stats = Statistics{SpiralID: spiralID, SpiralType: Type(node.SpiralType)}
	}

	stats.advance(node.Depth, node.Angle, ix.policies.For(stats.SpiralType))

	if err := put(toRow(&stats)); err != nil {
		return fmt.Errorf("incremental update: %w", err)
	}
	return nil
}

// Overwrite replaces a spiral's cached statistics wholesale. Reserved for
// the repair engine's reconciliation path.
func (ix *Index) Overwrite(stats Statistics) error {
	if err := ix.db.PutSpiralStats(toRow(&stats)); err != nil {
		return fmt.Errorf("overwrite statistics: %w", err)
	}
	return nil
}

// Recompute derives a spiral's true statistics from scratch by folding
// every node the iterator yields, in sequence order, through the same
// advance step the incremental path uses. The average depth is the true
// mean of the scanned depths.
func (ix *Index) Recompute(spiralID string, spiralType Type, iterate func(func(store.MemoryNode) error) error) (Statistics, error) {
	stats := Statistics{SpiralID: spiralID, SpiralType: spiralType}
	policy := ix.policies.For(spiralType)

	var depthSum float64
	err := iterate(func(n store.MemoryNode) error {
		stats.advance(n.Depth, n.Angle, policy)
		depthSum += n.Depth
		return nil
	})
	if err != nil {
		return Statistics{}, fmt.Errorf("recompute %s: %w", spiralID, err)
	}

	// True mean, not the running mean, for the recomputed baseline.
	if stats.NodeCount > 0 {
		stats.AverageDepth = depthSum / float64(stats.NodeCount)
	}
	return stats, nil
}

func fromRow(r *store.SpiralStatsRow) Statistics {
	return Statistics{
		SpiralID:         r.SpiralID,
		SpiralType:       Type(r.SpiralType),
		NodeCount:        r.NodeCount,
		AverageDepth:     r.AverageDepth,
		CurrentRadius:    r.CurrentRadius,
		TotalTurns:       r.TotalTurns,
		AccumulatedAngle: r.AccumulatedAngle,
		UpdatedAt:        time.UnixMilli(r.UpdatedAt),
	}
}

func toRow(s *Statistics) *store.SpiralStatsRow {
	return &store.SpiralStatsRow{
		SpiralID:         s.SpiralID,
		SpiralType:       string(s.SpiralType),
		NodeCount:        s.NodeCount,
		AverageDepth:     s.AverageDepth,
		CurrentRadius:    s.CurrentRadius,
		TotalTurns:       s.TotalTurns,
		AccumulatedAngle: s.AccumulatedAngle,
	}
}
