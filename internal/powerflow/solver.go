// Package powerflow implements the DC power-flow solver: a linearized
// B*theta = P solve over the 15-bus topology, with one slack bus whose
// row/column is struck from the reduced system.
//
// The reduced system is small enough (14x14) that a dense LU
// factorization over plain slices beats pulling in a numerical library.
package powerflow

import (
	"fmt"
	"math"

	"github.com/scada-sim/gridcore/internal/topology"
)

// LineFlow is the solved flow and loss on one line for the most recent
// solve.
type LineFlow struct {
	Line   topology.Line
	MW     float64 // active flow from Line.From to Line.To
	LossMW float64
}

// Result is the outcome of one DC power-flow solve.
type Result struct {
	Angles      map[string]float64 // radians, indexed by bus tag
	VoltagePU   map[string]float64 // fixed at 1.0 pu under the DC approximation
	Flows       []LineFlow
	TotalGenMW  float64
	TotalLoadMW float64
	TotalLossMW float64
	Converged   bool
	Residual    float64 // |sum(P_gen) - sum(P_load) - sum(loss)| in MW
}

// Solver holds the static susceptance matrix built once from the topology.
type Solver struct {
	busOrder   []string
	busIndex   map[string]int
	slackBus   string
	lines      []topology.Line
	baseMVA    float64
	bFull      [][]float64 // full N x N susceptance matrix, per-unit
	bRedLU     *luDecomp   // factored reduced matrix (slack row/col struck)
	nonSlack   []string    // bus order of the reduced system
	lastAngles map[string]float64
}

// New builds the susceptance matrix and factors the slack-reduced system.
// slackBus should be the tag of the largest generator's bus.
func New(buses []topology.Bus, lines []topology.Line, slackBus string, baseMVA float64) (*Solver, error) {
	idx := make(map[string]int, len(buses))
	order := make([]string, len(buses))
	for i, b := range buses {
		idx[b.Tag] = i
		order[i] = b.Tag
	}
	if _, ok := idx[slackBus]; !ok {
		return nil, fmt.Errorf("powerflow: slack bus %q not in topology", slackBus)
	}

	n := len(order)
	bFull := make([][]float64, n)
	for i := range bFull {
		bFull[i] = make([]float64, n)
	}
	for _, ln := range lines {
		i, iok := idx[ln.From]
		j, jok := idx[ln.To]
		if !iok || !jok || ln.X == 0 {
			continue
		}
		bij := -1 / ln.X
		bFull[i][j] += bij
		bFull[j][i] += bij
		bFull[i][i] += 1 / ln.X
		bFull[j][j] += 1 / ln.X
	}

	var nonSlack []string
	for _, tag := range order {
		if tag != slackBus {
			nonSlack = append(nonSlack, tag)
		}
	}
	bRed := make([][]float64, len(nonSlack))
	for r, rt := range nonSlack {
		bRed[r] = make([]float64, len(nonSlack))
		for c, ct := range nonSlack {
			bRed[r][c] = bFull[idx[rt]][idx[ct]]
		}
	}

	s := &Solver{
		busOrder: order,
		busIndex: idx,
		slackBus: slackBus,
		lines:    lines,
		baseMVA:  baseMVA,
		bFull:    bFull,
		nonSlack: nonSlack,
	}
	lu, err := factorLU(bRed)
	if err == nil {
		s.bRedLU = lu
	}
	s.lastAngles = make(map[string]float64, n)
	for _, tag := range order {
		s.lastAngles[tag] = 0
	}
	return s, nil
}

// Solve computes bus angles, line flows and losses for the given per-bus
// generation and load injections (MW). On a singular reduced matrix it
// keeps the previous tick's angles and reports Converged=false rather
// than returning an error.
func (s *Solver) Solve(genMW, loadMW map[string]float64) Result {
	n := len(s.busOrder)
	p := make([]float64, n)
	var totalGen, totalLoad float64
	for i, tag := range s.busOrder {
		g := genMW[tag]
		l := loadMW[tag]
		totalGen += g
		totalLoad += l
		p[i] = (g - l) / s.baseMVA
	}

	res := Result{
		Angles:      make(map[string]float64, n),
		VoltagePU:   make(map[string]float64, n),
		TotalGenMW:  totalGen,
		TotalLoadMW: totalLoad,
	}
	for _, tag := range s.busOrder {
		res.VoltagePU[tag] = 1.0
	}

	if s.bRedLU == nil {
		// singular topology: keep previous angles, do not fail the tick.
		for tag, a := range s.lastAngles {
			res.Angles[tag] = a
		}
		res.Converged = false
		s.fillFlowsAndLosses(&res)
		return res
	}

	pRed := make([]float64, len(s.nonSlack))
	for i, tag := range s.nonSlack {
		pRed[i] = p[s.busIndex[tag]]
	}
	thetaRed, err := s.bRedLU.solve(pRed)
	if err != nil {
		for tag, a := range s.lastAngles {
			res.Angles[tag] = a
		}
		res.Converged = false
		s.fillFlowsAndLosses(&res)
		return res
	}

	res.Angles[s.slackBus] = 0
	for i, tag := range s.nonSlack {
		res.Angles[tag] = thetaRed[i]
	}
	res.Converged = true
	s.lastAngles = res.Angles
	s.fillFlowsAndLosses(&res)

	res.Residual = math.Abs(totalGen - totalLoad - res.TotalLossMW)
	return res
}

func (s *Solver) fillFlowsAndLosses(res *Result) {
	res.Flows = make([]LineFlow, 0, len(s.lines))
	var totalLoss float64
	for _, ln := range s.lines {
		if ln.X == 0 {
			res.Flows = append(res.Flows, LineFlow{Line: ln})
			continue
		}
		dTheta := res.Angles[ln.From] - res.Angles[ln.To]
		pPU := dTheta / ln.X
		mw := pPU * s.baseMVA
		loss := pPU * pPU * ln.R * s.baseMVA
		totalLoss += loss
		res.Flows = append(res.Flows, LineFlow{Line: ln, MW: mw, LossMW: loss})
	}
	res.TotalLossMW = totalLoss
}
