package thermal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scada-sim/gridcore/internal/topology"
)

func testParams() topology.TransformerParams {
	return topology.TransformerParams{
		Tag:         "XFMR-001",
		RatedMVA:    100,
		TurnsRatio:  1.0,
		TauOilSec:   3000,
		ExponentN:   0.8,
		ExponentM:   0.8,
		HotSpotH:    1.3,
		DeltaThetaR: 20,
		OilRatedC:   65,
		AmbientC:    25,
		AlarmC:      95,
		TripC:       110,
	}
}

func TestNewStartsAtAmbient(t *testing.T) {
	m := New(testParams())
	assert.Equal(t, 25.0, m.ThetaOil)
	assert.Equal(t, 25.0, m.ThetaHS)
}

func TestStepHotSpotNeverBelowOilNeverBelowAmbient(t *testing.T) {
	m := New(testParams())
	for i := 0; i < 2000; i++ {
		m.Step(10, 80, 1.0)
		assert.GreaterOrEqual(t, m.ThetaOil, m.Params.AmbientC)
		assert.GreaterOrEqual(t, m.ThetaHS, m.ThetaOil)
	}
}

func TestStepRisesTowardSteadyStateUnderSustainedLoad(t *testing.T) {
	m := New(testParams())
	for i := 0; i < 3000; i++ {
		m.Step(10, 100, 1.0) // full-rated load, long enough to approach steady state
	}
	assert.Greater(t, m.ThetaOil, 25.0)
	assert.Greater(t, m.ThetaHS, m.ThetaOil-1e-9)
}

func TestAlarmAndTripLatchWithHysteresis(t *testing.T) {
	m := New(testParams())
	// Heavy overload to drive hot-spot above trip.
	for i := 0; i < 5000; i++ {
		m.Step(10, 300, 2.0)
	}
	assert.True(t, m.AlarmLatched)
	assert.True(t, m.TripLatched)

	// Cool back down; latches should clear only once below hysteresis band.
	for i := 0; i < 20000; i++ {
		m.Step(10, 0, 1.0)
		if m.ThetaHS < m.Params.AmbientC+0.5 {
			break
		}
	}
	assert.False(t, m.AlarmLatched)
	assert.False(t, m.TripLatched)
}

func TestDegradationBelowOneClampedToOne(t *testing.T) {
	m1 := New(testParams())
	m2 := New(testParams())
	m1.Step(100, 50, 0.5)
	m2.Step(100, 50, 1.0)
	assert.Equal(t, m1.ThetaOil, m2.ThetaOil)
}

func TestStepIgnoresNonPositiveDt(t *testing.T) {
	m := New(testParams())
	m.Step(0, 300, 1.0)
	assert.Equal(t, 25.0, m.ThetaOil)
}

func TestTimeToAlarmAndTripProjections(t *testing.T) {
	m := New(testParams())
	m.Step(10, 100, 1.0)
	if m.RateOfRiseCPerS() > 0 {
		assert.Greater(t, m.TimeToAlarmS(), 0.0)
		assert.Greater(t, m.TimeToTripS(), m.TimeToAlarmS())
	} else {
		assert.Equal(t, -1.0, m.TimeToAlarmS())
	}
}

func TestRatedLoadSteadyStateStaysBelowAlarm(t *testing.T) {
	m := New(testParams())
	for i := 0; i < 5000; i++ {
		m.Step(10, 100, 1.0) // K = 1.0 held to steady state
	}
	assert.InDelta(t, m.Params.OilRatedC, m.ThetaOil, 1.0)
	assert.Less(t, m.ThetaHS, m.Params.AlarmC)
	assert.False(t, m.AlarmLatched)
}

func TestTwentyPercentOverloadEventuallyCrossesAlarmWithoutTripping(t *testing.T) {
	m := New(testParams())
	for i := 0; i < 5000; i++ {
		m.Step(10, 120, 1.0) // K = 1.2 sustained
	}
	assert.True(t, m.AlarmLatched, "a sustained 20%% overload must eventually raise the thermal alarm")
	assert.False(t, m.TripLatched, "a 20%% overload alone must not reach the trip threshold")
}
