// Package repair recomputes spiral statistics from a full scan of the
// memory node store and reconciles any divergence from the cached index.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gyrelabs/gyre/internal/lock"
	"github.com/gyrelabs/gyre/internal/spiral"
	"github.com/gyrelabs/gyre/internal/store"
)

// DefaultEpsilon is the tolerance below which float fields are considered
// equal between cached and recomputed statistics.
const DefaultEpsilon = 1e-9

// Engine audits cached spiral statistics against ground truth and
// overwrites them on drift. It is the only component allowed to write
// statistics outside the incremental path.
type Engine struct {
	db      *store.DB
	index   *spiral.Index
	lk      *lock.WriterLock
	epsilon float64

	// Rebuild is single-flight: concurrent callers share one run.
	group singleflight.Group
}

// New creates a repair engine. The writer lock serializes each spiral's
// audit against writers; the lease TTL must cover a full spiral scan. A
// non-positive epsilon gets the default.
func New(db *store.DB, index *spiral.Index, lk *lock.WriterLock, epsilon float64) *Engine {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Engine{db: db, index: index, lk: lk, epsilon: epsilon}
}

// Rebuild scans the node store, recomputes every spiral's statistics, and
// corrects any cached value that drifted beyond epsilon. Each spiral's
// audit runs under the writer lease with its snapshot cursor captured
// inside the critical section, so the cached row it compares against
// reflects exactly the nodes below the cursor; a concurrent writer can
// never make a consistent cache look drifted. Concurrent Rebuild calls
// share one run.
func (e *Engine) Rebuild(ctx context.Context) (*Report, error) {
	v, err, _ := e.group.Do("rebuild", func() (any, error) {
		return e.rebuild(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Report), nil
}

func (e *Engine) rebuild(ctx context.Context) (*Report, error) {
	start := time.Now()

	types, err := e.auditTargets()
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}

	report := &Report{}
	for _, st := range types {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("rebuild cancelled: %w", err)
		}

		var audit SpiralAudit
		var scanned int64
		err := e.lk.WithExclusiveAccess(ctx, func() error {
			var err error
			audit, scanned, err = e.auditSpiral(ctx, st)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("rebuild %s: %w", st, err)
		}
		report.TotalNodesScanned += scanned
		report.Spirals = append(report.Spirals, audit)
	}

	report.Duration = time.Since(start)
	if report.DriftDetected() {
		log.Printf("repair: drift detected, corrected %d spiral(s) in %s",
			correctedCount(report), report.Duration)
	}
	return report, nil
}

// auditTargets returns every spiral that must be audited: any type with
// nodes in the log, plus any type with a cached statistics row (a row
// can exist for a spiral whose nodes were never written). Types appearing
// after this peek are picked up by the next run.
func (e *Engine) auditTargets() ([]spiral.Type, error) {
	seen := map[spiral.Type]bool{}
	var targets []spiral.Type

	nodeTypes, err := e.db.SpiralTypes(0)
	if err != nil {
		return nil, err
	}
	for _, t := range nodeTypes {
		if !seen[spiral.Type(t)] {
			seen[spiral.Type(t)] = true
			targets = append(targets, spiral.Type(t))
		}
	}

	cached, err := e.index.List()
	if err != nil {
		return nil, err
	}
	for _, s := range cached {
		if !seen[s.SpiralType] {
			seen[s.SpiralType] = true
			targets = append(targets, s.SpiralType)
		}
	}
	return targets, nil
}

// auditSpiral must run under the writer lease: the cursor, the bounded
// scan, the cache read, and the overwrite have to be one atomic step
// with respect to writers.
func (e *Engine) auditSpiral(ctx context.Context, st spiral.Type) (SpiralAudit, int64, error) {
	spiralID := string(st)

	// Snapshot boundary: only nodes at or below this cursor participate.
	cursor, err := e.db.MaxSeq()
	if err != nil {
		return SpiralAudit{}, 0, err
	}

	var scanned int64
	truth, err := e.index.Recompute(spiralID, st, func(fn func(store.MemoryNode) error) error {
		return e.db.ScanNodes(spiralID, cursor, func(n store.MemoryNode) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			scanned++
			return fn(n)
		})
	})
	if err != nil {
		return SpiralAudit{}, scanned, err
	}

	var before spiral.Statistics
	cached, err := e.index.GetStatistics(spiralID)
	switch {
	case err == nil:
		before = cached
	case isNotFound(err):
		before = spiral.Statistics{SpiralID: spiralID, SpiralType: st}
	default:
		return SpiralAudit{}, scanned, err
	}

	audit := SpiralAudit{
		SpiralID:   spiralID,
		SpiralType: st,
		Before:     before,
		After:      before,
		Deltas: FieldDeltas{
			NodeCount:        truth.NodeCount - before.NodeCount,
			AverageDepth:     truth.AverageDepth - before.AverageDepth,
			CurrentRadius:    truth.CurrentRadius - before.CurrentRadius,
			TotalTurns:       truth.TotalTurns - before.TotalTurns,
			AccumulatedAngle: truth.AccumulatedAngle - before.AccumulatedAngle,
		},
	}

	if e.differs(before, truth) {
		if err := e.index.Overwrite(truth); err != nil {
			return SpiralAudit{}, scanned, err
		}
		audit.After = truth
		audit.Corrected = true
		log.Printf("repair: corrected %s (count %d->%d, avg depth %.4f->%.4f, radius %.4f->%.4f, turns %d->%d)",
			spiralID, before.NodeCount, truth.NodeCount,
			before.AverageDepth, truth.AverageDepth,
			before.CurrentRadius, truth.CurrentRadius,
			before.TotalTurns, truth.TotalTurns)
	}
	return audit, scanned, nil
}

func (e *Engine) differs(a, b spiral.Statistics) bool {
	return a.NodeCount != b.NodeCount ||
		a.TotalTurns != b.TotalTurns ||
		math.Abs(a.AverageDepth-b.AverageDepth) > e.epsilon ||
		math.Abs(a.CurrentRadius-b.CurrentRadius) > e.epsilon ||
		math.Abs(a.AccumulatedAngle-b.AccumulatedAngle) > e.epsilon
}

func isNotFound(err error) bool {
	return errors.Is(err, spiral.ErrNotFound)
}

func correctedCount(r *Report) int {
	n := 0
	for _, s := range r.Spirals {
		if s.Corrected {
			n++
		}
	}
	return n
}
