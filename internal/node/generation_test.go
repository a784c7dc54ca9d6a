package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scada-sim/gridcore/internal/iec104/asdu"
	"github.com/scada-sim/gridcore/internal/quality"
	"github.com/scada-sim/gridcore/internal/register"
	"github.com/scada-sim/gridcore/internal/topology"
)

func testGenParams() topology.GeneratorParams {
	return topology.GeneratorParams{
		Tag: "GEN-001", Type: topology.GenThermal,
		RatedMW: 300, MinMW: 100, MaxMW: 300,
		InertiaH: 4.5, DroopR: 0.05, GovernorTg: 5, AGCEnabled: true,
	}
}

func TestNewGenerationNodeStartsWithBreakerOpen(t *testing.T) {
	g := NewGenerationNode(testGenParams(), asdu.CommonAddr(1), 230, 0.01)
	assert.Equal(t, BreakerOpen, g.Breaker)
}

func TestWriteSingleCoilClosesAndOpensBreaker(t *testing.T) {
	g := NewGenerationNode(testGenParams(), asdu.CommonAddr(1), 230, 0.01)
	require.NoError(t, g.WriteSingleCoil(CoilBreaker, true))
	assert.Equal(t, BreakerClosed, g.Breaker)

	di, err := g.ReadDiscreteInputs(DiBreakerStatus, 1)
	require.NoError(t, err)
	assert.True(t, di[0])

	require.NoError(t, g.WriteSingleCoil(CoilBreaker, false))
	assert.Equal(t, BreakerOpen, g.Breaker)
}

func TestGovernorSetpointClampedToRatedRange(t *testing.T) {
	g := NewGenerationNode(testGenParams(), asdu.CommonAddr(1), 230, 0.01)
	require.NoError(t, g.setGovernorSetpoint(10000))

	raw, err := g.ReadHoldingRegisters(HoldingGovernorSetpointMW, 1)
	require.NoError(t, err)
	assert.InDelta(t, 300, register.DecodePower10(raw[0]), 0.1)
}

func TestGovernorSetpointClampMarksRegisterQuality(t *testing.T) {
	g := NewGenerationNode(testGenParams(), asdu.CommonAddr(1), 230, 0.01)

	require.NoError(t, g.setGovernorSetpoint(10000)) // above MaxMW
	assert.Equal(t, quality.Overflow, g.Image.Quality.Get(HoldingGovernorSetpointMW).Code)

	require.NoError(t, g.setGovernorSetpoint(10)) // below MinMW
	assert.Equal(t, quality.Underrange, g.Image.Quality.Get(HoldingGovernorSetpointMW).Code)

	require.NoError(t, g.setGovernorSetpoint(200)) // in range
	assert.Equal(t, quality.Good, g.Image.Quality.Get(HoldingGovernorSetpointMW).Code)
}

func TestLowVoltageMarksCommonVoltageRegisterUnderrange(t *testing.T) {
	g := NewGenerationNode(testGenParams(), asdu.CommonAddr(1), 230, 0.01)
	g.UpdateElectricalState(230*0.7, 0, 100, 250, 50, 50, 0, time.Now())
	assert.Equal(t, quality.Underrange, g.Image.Quality.Get(AnalogVoltageKV).Code)

	g.UpdateElectricalState(230*1.3, 0, 100, 250, 50, 50, 0, time.Now())
	assert.Equal(t, quality.Overflow, g.Image.Quality.Get(AnalogVoltageKV).Code)

	g.UpdateElectricalState(230, 0, 100, 250, 50, 50, 0, time.Now())
	assert.Equal(t, quality.Good, g.Image.Quality.Get(AnalogVoltageKV).Code)
}

func TestAVRSetpointClampedToPlusMinusTenPercent(t *testing.T) {
	g := NewGenerationNode(testGenParams(), asdu.CommonAddr(1), 230, 0.01)
	require.NoError(t, g.setAVRSetpoint(1000))

	raw, err := g.ReadHoldingRegisters(HoldingAVRSetpointKV, 1)
	require.NoError(t, err)
	assert.InDelta(t, 230*1.1, register.DecodeKV10(raw[0]), 0.1)
}

func TestCoilHookTogglesGovernorAndAVRModes(t *testing.T) {
	g := NewGenerationNode(testGenParams(), asdu.CommonAddr(1), 230, 0.01)
	require.NoError(t, g.WriteSingleCoil(CoilGovernorAuto, false))

	di, err := g.ReadDiscreteInputs(DiGovernorMode, 1)
	require.NoError(t, err)
	assert.False(t, di[0])
}

func TestCheckSynchronizationTrueWhenCloseAndEmitsSOEOnTransition(t *testing.T) {
	g := NewGenerationNode(testGenParams(), asdu.CommonAddr(1), 230, 0.01)
	g.UpdateElectricalState(230, 0, 100, 250, 50, 50, 0, time.Now())

	before := g.SOE.Len()
	synced := g.CheckSynchronization(230, 0)
	assert.True(t, synced)
	assert.Greater(t, g.SOE.Len(), before)
}

func TestCheckSynchronizationFalseOnLargeAngleDelta(t *testing.T) {
	g := NewGenerationNode(testGenParams(), asdu.CommonAddr(1), 230, 0.01)
	g.UpdateElectricalState(230, 0, 100, 250, 50, 50, 0, time.Now())
	synced := g.CheckSynchronization(230, 3.0) // ~172 degrees apart
	assert.False(t, synced)
}

func TestProtectionResetCoilClearsLatchedTrip(t *testing.T) {
	g := NewGenerationNode(testGenParams(), asdu.CommonAddr(1), 230, 0.01)
	// Drive current far above pickup long enough to trip the relay.
	for i := 0; i < 1000; i++ {
		g.UpdateElectricalState(230, 0, 100000, 250, 50, 50, 100*time.Millisecond, time.Now())
		if g.Relay.Tripped {
			break
		}
	}
	require.True(t, g.Relay.Tripped)
	require.NoError(t, g.WriteSingleCoil(CoilProtectionReset, true))
	assert.False(t, g.Relay.Tripped)
}

func TestSnapshotIncludesGeneratorAnalogsAndBreakerPoint(t *testing.T) {
	g := NewGenerationNode(testGenParams(), asdu.CommonAddr(1), 230, 0.01)
	g.UpdateGeneratorOutput(200, 40)
	measurements := g.Snapshot()

	found, foundBreaker := false, false
	for _, m := range measurements {
		if m.Ioa == AnalogGeneratorMW {
			found = true
			assert.InDelta(t, 200, float64(m.Float), 0.1)
		}
		if m.Ioa == DiBreakerStatus {
			foundBreaker = true
		}
	}
	assert.True(t, found, "expected a snapshot measurement for AnalogGeneratorMW")
	assert.True(t, foundBreaker, "expected a snapshot measurement for DiBreakerStatus")
}
