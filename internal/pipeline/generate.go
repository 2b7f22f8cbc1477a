package pipeline

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/gyrelabs/gyre/internal/store"
)

// goldenAngle spaces successive nodes around the spiral so no two nodes
// ever stack on the same ray.
const goldenAngle = math.Pi * (3 - 2.2360679774997896) // pi*(3-sqrt(5)) ≈ 2.39996

// buildNodes materializes the nodes a generate job will append. Pure and
// deterministic for a given payload: the same seed always yields the
// same depths and angles, so a requeued job appends identical geometry.
func buildNodes(g *GeneratePayload) []store.MemoryNode {
	rng := rand.New(rand.NewSource(g.Seed))

	nodes := make([]store.MemoryNode, g.Count)
	for i := range nodes {
		k := float64(i + 1)
		nodes[i] = store.MemoryNode{
			SpiralType: g.SpiralType,
			// Depth drifts outward with position plus seeded jitter.
			Depth:   k*0.5 + rng.Float64(),
			Angle:   goldenAngle,
			Radius:  math.Sqrt(k),
			Payload: fmt.Sprintf(`{"seed":%d,"ordinal":%d}`, g.Seed, i),
		}
	}
	return nodes
}
