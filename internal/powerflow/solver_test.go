package powerflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scada-sim/gridcore/internal/topology"
)

func threeBusSystem() ([]topology.Bus, []topology.Line) {
	buses := []topology.Bus{
		{Tag: "A", Class: topology.BusGeneration},
		{Tag: "B", Class: topology.BusTransmission},
		{Tag: "C", Class: topology.BusDistribution},
	}
	lines := []topology.Line{
		{From: "A", To: "B", R: 0.01, X: 0.1},
		{From: "B", To: "C", R: 0.01, X: 0.1},
	}
	return buses, lines
}

func TestSolveBalancedSystemConverges(t *testing.T) {
	buses, lines := threeBusSystem()
	s, err := New(buses, lines, "A", 100)
	require.NoError(t, err)

	res := s.Solve(map[string]float64{"A": 50}, map[string]float64{"C": 49})
	require.True(t, res.Converged)
	assert.InDelta(t, 0, res.Angles["A"], 1e-9)
	assert.Less(t, res.Angles["C"], 0.0) // power flows A -> C, angle drops downstream
	assert.Greater(t, res.TotalLossMW, 0.0)
	assert.InDelta(t, 50, res.TotalGenMW, 1e-9)
	assert.InDelta(t, 49, res.TotalLoadMW, 1e-9)
}

func TestSolveResidualMatchesGenLoadLossAccounting(t *testing.T) {
	buses, lines := threeBusSystem()
	s, err := New(buses, lines, "A", 100)
	require.NoError(t, err)

	res := s.Solve(map[string]float64{"A": 50}, map[string]float64{"C": 49})
	want := res.TotalGenMW - res.TotalLoadMW - res.TotalLossMW
	if want < 0 {
		want = -want
	}
	assert.InDelta(t, want, res.Residual, 1e-9)
}

func TestNewRejectsUnknownSlackBus(t *testing.T) {
	buses, lines := threeBusSystem()
	_, err := New(buses, lines, "DOES-NOT-EXIST", 100)
	assert.Error(t, err)
}

func TestSolveIslandedBusKeepsLastAnglesAndReportsNonConvergence(t *testing.T) {
	buses := []topology.Bus{
		{Tag: "A", Class: topology.BusGeneration},
		{Tag: "B", Class: topology.BusTransmission},
	}
	// No line at all connects B to the slack bus A: the reduced susceptance
	// matrix row for B is all zero and factorization must fail.
	lines := []topology.Line{}
	s, err := New(buses, lines, "A", 100)
	require.NoError(t, err)

	res := s.Solve(map[string]float64{"A": 10}, map[string]float64{"B": 10})
	assert.False(t, res.Converged)
	assert.Equal(t, 0.0, res.Angles["B"])
}

func TestZeroReactanceLineSkippedFromSusceptanceButReportsZeroFlow(t *testing.T) {
	buses := []topology.Bus{
		{Tag: "A", Class: topology.BusGeneration},
		{Tag: "B", Class: topology.BusDistribution},
	}
	lines := []topology.Line{{From: "A", To: "B", R: 0, X: 0}}
	s, err := New(buses, lines, "A", 100)
	require.NoError(t, err)

	res := s.Solve(map[string]float64{"A": 10}, map[string]float64{"B": 10})
	require.Len(t, res.Flows, 1)
	assert.Equal(t, 0.0, res.Flows[0].MW)
	assert.Equal(t, 0.0, res.Flows[0].LossMW)
}
