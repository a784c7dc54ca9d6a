// Package dispatch implements merit-order economic dispatch: generators
// are loaded in marginal-cost order to meet forecast demand plus
// losses, with solar capped by availability and an under-generation warning
// path if total capacity can't meet demand.
package dispatch

import (
	"sort"

	"github.com/scada-sim/gridcore/internal/topology"
)

// Allocation is one generator's dispatched output for a single dispatch
// call.
type Allocation struct {
	Tag      string
	MW       float64
	OnMargin bool
}

// Result is the outcome of one dispatch call, including total production
// cost and the system marginal price set by the last unit loaded.
type Result struct {
	Allocations      []Allocation
	TotalCostPerHour float64
	MarginalPriceMWh float64
	UnderGeneration  bool
	ShortfallMW      float64
}

// Dispatcher holds the static merit order: generators sorted by marginal
// cost dC/dP = 2aP + b evaluated at mid-range output, computed once at
// construction.
type Dispatcher struct {
	meritOrder []topology.GeneratorParams
}

// New builds the merit order from the given generator set.
func New(gens []topology.GeneratorParams) *Dispatcher {
	order := make([]topology.GeneratorParams, len(gens))
	copy(order, gens)
	sort.SliceStable(order, func(i, j int) bool {
		mid := func(g topology.GeneratorParams) float64 { return (g.MinMW + g.MaxMW) / 2 }
		return order[i].MarginalCost(mid(order[i])) < order[j].MarginalCost(mid(order[j]))
	})
	return &Dispatcher{meritOrder: order}
}

// Dispatch loads generators in merit order to meet demandMW, with solar
// capped by the smaller of its rated max and solarAvailableMW. If demand
// exceeds total capacity, all online generators are scaled up proportionally
// toward their max and UnderGeneration is reported.
func (d *Dispatcher) Dispatch(demandMW, solarAvailableMW float64) Result {
	remaining := demandMW
	allocs := make([]Allocation, len(d.meritOrder))
	ceilings := make([]float64, len(d.meritOrder)) // each generator's real ceiling for this call: MaxMW, or solar's availability if lower
	marginIdx := -1

	for i, g := range d.meritOrder {
		ceil := g.MaxMW
		if g.Type == topology.GenSolar && solarAvailableMW < ceil {
			ceil = solarAvailableMW
		}
		ceilings[i] = ceil

		mw := clamp(remaining, g.MinMW, ceil)
		if mw < 0 {
			mw = 0
		}
		allocs[i] = Allocation{Tag: g.Tag, MW: mw}
		remaining -= mw
		if mw > 0 {
			marginIdx = i
		}
	}

	result := Result{Allocations: allocs}
	if remaining > 1e-6 {
		result.UnderGeneration = true
		result.ShortfallMW = remaining
		d.scaleUpProportionally(allocs, ceilings, remaining)
	}
	if marginIdx >= 0 {
		allocs[marginIdx].OnMargin = true
		result.MarginalPriceMWh = d.meritOrder[marginIdx].MarginalCost(allocs[marginIdx].MW)
	}

	var totalCost float64
	for i, a := range allocs {
		totalCost += d.meritOrder[i].TotalCost(a.MW)
	}
	result.TotalCostPerHour = totalCost
	return result
}

// scaleUpProportionally distributes the unmet shortfall across every online
// generator's remaining headroom, proportional to each one's share of the
// total headroom, when demand exceeds total dispatched capacity. Each
// generator is capped at ceilings[i] rather than its nameplate MaxMW, so a
// solar unit already curtailed by low availability is never pushed past
// what the sun can actually deliver.
func (d *Dispatcher) scaleUpProportionally(allocs []Allocation, ceilings []float64, shortfall float64) {
	var headroom float64
	for i, a := range allocs {
		if a.MW > 0 {
			headroom += ceilings[i] - a.MW
		}
	}
	if headroom <= 0 {
		return
	}
	for i := range allocs {
		if allocs[i].MW <= 0 {
			continue
		}
		room := ceilings[i] - allocs[i].MW
		share := shortfall * (room / headroom)
		if share > room {
			share = room
		}
		allocs[i].MW += share
	}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
