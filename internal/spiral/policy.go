package spiral

import "math"

// GrowthPolicy decides how a spiral's radius advances as nodes are
// appended. Policies must be deterministic functions of the prior radius
// and the node count so that an incremental fold and a from-scratch fold
// over the same nodes produce the same radius.
type GrowthPolicy interface {
	Name() string
	NextRadius(current float64, nodeCount int64) float64
}

// SqrtGrowth scales the radius with the square root of the node count.
// Dense spirals widen slowly; the radius depends only on how many nodes
// the spiral holds.
type SqrtGrowth struct {
	Scale float64
}

func (g SqrtGrowth) Name() string { return "sqrt" }

func (g SqrtGrowth) NextRadius(_ float64, nodeCount int64) float64 {
	return g.Scale * math.Sqrt(float64(nodeCount))
}

// StepGrowth widens the radius by a fixed step per appended node.
type StepGrowth struct {
	Step float64
}

func (g StepGrowth) Name() string { return "step" }

func (g StepGrowth) NextRadius(current float64, _ int64) float64 {
	return current + g.Step
}

// PolicySet maps spiral types to their growth policies, with a fallback
// for types that have no explicit entry.
type PolicySet struct {
	policies map[Type]GrowthPolicy
	fallback GrowthPolicy
}

// DefaultPolicies returns the stock policy assignment: episodic and
// semantic spirals grow with sqrt of count, emotional and procedural with
// a fixed per-node step.
func DefaultPolicies() *PolicySet {
	return &PolicySet{
		policies: map[Type]GrowthPolicy{
			Episodic:   SqrtGrowth{Scale: 1.0},
			Semantic:   SqrtGrowth{Scale: 0.75},
			Emotional:  StepGrowth{Step: 0.05},
			Procedural: StepGrowth{Step: 0.1},
		},
		fallback: SqrtGrowth{Scale: 1.0},
	}
}

// Set assigns a policy for a spiral type.
func (ps *PolicySet) Set(t Type, p GrowthPolicy) {
	if ps.policies == nil {
		ps.policies = make(map[Type]GrowthPolicy)
	}
	ps.policies[t] = p
}

// For returns the policy for a spiral type, falling back to the default
// when the type has no explicit assignment.
func (ps *PolicySet) For(t Type) GrowthPolicy {
	if p, ok := ps.policies[t]; ok {
		return p
	}
	return ps.fallback
}
