package spiral

import (
	"math"
	"time"
)

// Type partitions memory nodes into independent spirals. A node belongs
// to exactly one spiral for its lifetime.
type Type string

const (
	Episodic   Type = "episodic"
	Semantic   Type = "semantic"
	Emotional  Type = "emotional"
	Procedural Type = "procedural"
)

// Types lists every known spiral type.
var Types = []Type{Episodic, Semantic, Emotional, Procedural}

// ValidType reports whether t names a known spiral type.
func ValidType(t string) bool {
	for _, known := range Types {
		if Type(t) == known {
			return true
		}
	}
	return false
}

// Statistics is the derived per-spiral aggregate cached by the index.
// AccumulatedAngle is the fold state for turn accounting: angular
// distance since the last completed rotation, always in [0, 2π).
type Statistics struct {
	SpiralID         string    `json:"spiral_id"`
	SpiralType       Type      `json:"spiral_type"`
	NodeCount        int64     `json:"node_count"`
	AverageDepth     float64   `json:"average_depth"`
	CurrentRadius    float64   `json:"current_radius"`
	TotalTurns       int64     `json:"total_turns"`
	AccumulatedAngle float64   `json:"accumulated_angle"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const twoPi = 2 * math.Pi

// advance folds one node's depth and angle into the statistics using the
// spiral's growth policy. Both the incremental update path and the repair
// recomputation go through this function, so the two stay equivalent for
// any policy.
func (s *Statistics) advance(depth, angle float64, policy GrowthPolicy) {
	s.NodeCount++
	s.AverageDepth += (depth - s.AverageDepth) / float64(s.NodeCount)
	s.CurrentRadius = policy.NextRadius(s.CurrentRadius, s.NodeCount)

	total := s.AccumulatedAngle + angle
	turns := math.Floor(total / twoPi)
	s.TotalTurns += int64(turns)
	s.AccumulatedAngle = total - turns*twoPi
}
