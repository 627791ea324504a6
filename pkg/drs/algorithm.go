package drs

import (
	"fmt"
	"sort"

	"github.com/cuemby/paddock/pkg/types"
)

// Algorithm decides when a cluster needs a round and how much a move helps
type Algorithm interface {
	Name() string
	NeedsRebalance(score, threshold float64) bool
	// Benefit is positive when moving from before to after improves the cluster
	Benefit(before, after float64) float64
}

// Algorithm names
const (
	BalancedName  = "balanced"
	CondensedName = "condensed"
)

// Balanced spreads load evenly across the cluster
type Balanced struct{}

func (Balanced) Name() string { return BalancedName }

func (Balanced) NeedsRebalance(score, threshold float64) bool {
	return score != NoScore && score > threshold
}

func (Balanced) Benefit(before, after float64) float64 { return before - after }

// Condensed packs load onto fewer hosts so others can be freed
type Condensed struct{}

func (Condensed) Name() string { return CondensedName }

func (Condensed) NeedsRebalance(score, threshold float64) bool {
	return score != NoScore && score < threshold
}

func (Condensed) Benefit(before, after float64) float64 { return after - before }

// NewAlgorithm returns the algorithm registered under name
func NewAlgorithm(name string) (Algorithm, error) {
	switch name {
	case BalancedName, "":
		return Balanced{}, nil
	case CondensedName:
		return Condensed{}, nil
	}
	return nil, fmt.Errorf("unknown DRS algorithm %q", name)
}

// SortByCost orders moves by ascending cost. Equal costs keep their order.
func SortByCost(moves []*types.RebalanceMove) {
	sort.SliceStable(moves, func(i, j int) bool {
		return moves[i].Cost < moves[j].Cost
	})
}

// SortByBenefit orders moves by descending benefit. Equal benefits keep
// their order.
func SortByBenefit(moves []*types.RebalanceMove) {
	sort.SliceStable(moves, func(i, j int) bool {
		return moves[i].Benefit > moves[j].Benefit
	})
}

// rank puts the most beneficial moves first, cheapest first among equals,
// then discovery order.
func rank(moves []*types.RebalanceMove) {
	sort.SliceStable(moves, func(i, j int) bool {
		return moves[i].Sequence < moves[j].Sequence
	})
	SortByCost(moves)
	SortByBenefit(moves)
}
