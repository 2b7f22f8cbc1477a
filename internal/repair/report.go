package repair

import (
	"time"

	"github.com/gyrelabs/gyre/internal/spiral"
)

// FieldDeltas holds after-minus-before differences for every compared
// statistics field.
type FieldDeltas struct {
	NodeCount        int64   `json:"node_count"`
	AverageDepth     float64 `json:"average_depth"`
	CurrentRadius    float64 `json:"current_radius"`
	TotalTurns       int64   `json:"total_turns"`
	AccumulatedAngle float64 `json:"accumulated_angle"`
}

// SpiralAudit is one spiral's entry in a repair report. Unchanged spirals
// are still reported (Corrected false) for auditability.
type SpiralAudit struct {
	SpiralID   string            `json:"spiral_id"`
	SpiralType spiral.Type       `json:"spiral_type"`
	Before     spiral.Statistics `json:"before"`
	After      spiral.Statistics `json:"after"`
	Deltas     FieldDeltas       `json:"deltas"`
	Corrected  bool              `json:"corrected"`
}

// Report is the audit artifact of one repair run. It is never persisted
// as system state.
type Report struct {
	TotalNodesScanned int64         `json:"total_nodes_scanned"`
	Spirals           []SpiralAudit `json:"corrected_spirals"`
	Duration          time.Duration `json:"duration"`
}

// DriftDetected reports whether any spiral needed correction.
func (r *Report) DriftDetected() bool {
	for _, s := range r.Spirals {
		if s.Corrected {
			return true
		}
	}
	return false
}

// NodesPerSecond returns the scan throughput for the run.
func (r *Report) NodesPerSecond() float64 {
	secs := r.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(r.TotalNodesScanned) / secs
}
