package protection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOvercurrentPicksUpButDoesNotTripBelowFloor(t *testing.T) {
	r := New(DefaultSettings(100, 115))
	// 150A is above the 120A pickup but the inverse-time curve floor is 5s;
	// a single short tick must not trip yet.
	picked := r.Update(Inputs{CurrentA: 150, VoltageKV: 115, FrequencyHz: 50, DtSeconds: 0.1})
	assert.True(t, picked)
	assert.False(t, r.Tripped)
}

func TestOvercurrentEventuallyTripsAndLatches(t *testing.T) {
	r := New(DefaultSettings(100, 115))
	for i := 0; i < 1000; i++ {
		r.Update(Inputs{CurrentA: 500, VoltageKV: 115, FrequencyHz: 50, DtSeconds: 0.1})
		if r.Tripped {
			break
		}
	}
	require.True(t, r.Tripped)
	assert.Equal(t, ReasonOvercurrent51, r.TripReason)

	// Latched trip ignores further updates until Reset.
	picked := r.Update(Inputs{CurrentA: 0, VoltageKV: 115, FrequencyHz: 50, DtSeconds: 1})
	assert.False(t, picked)
	assert.True(t, r.Tripped)

	r.Reset()
	assert.False(t, r.Tripped)
	assert.Equal(t, ReasonNone, r.TripReason)
}

func TestDifferentialTripTakesPriorityOverOvercurrent(t *testing.T) {
	r := New(DefaultSettings(100, 115))
	r.Update(Inputs{
		CurrentA: 500, VoltageKV: 115, FrequencyHz: 50, DtSeconds: 0.1,
		PrimaryA: 100, SecondaryA: 0, // gross mismatch trips 87T instantly
	})
	assert.True(t, r.Tripped)
	assert.Equal(t, ReasonDifferential87T, r.TripReason)
}

func TestOvercurrentTripTakesPriorityOverOvervoltageOnSameTick(t *testing.T) {
	r := New(DefaultSettings(100, 115))
	// One long tick pushes both the 51 timer past its 5s floor and the 59
	// timer past its 2s delay; the overcurrent element must win.
	r.Update(Inputs{CurrentA: 500, VoltageKV: 130, FrequencyHz: 50, DtSeconds: 10})
	require.True(t, r.Tripped)
	assert.Equal(t, ReasonOvercurrent51, r.TripReason)
}

func TestDifferentialIgnoredBelowMinRestraint(t *testing.T) {
	r := New(DefaultSettings(100, 115))
	picked := r.Update(Inputs{CurrentA: 10, VoltageKV: 115, FrequencyHz: 50, DtSeconds: 0.1, PrimaryA: 1, SecondaryA: 0})
	assert.False(t, r.Tripped)
	assert.False(t, picked)
}

func TestOvervoltageTripsAfterDelay(t *testing.T) {
	r := New(DefaultSettings(100, 115))
	settings := r.Settings
	for i := 0; i < int(settings.OV59DelaySeconds*10)+5; i++ {
		r.Update(Inputs{CurrentA: 0, VoltageKV: 130, FrequencyHz: 50, DtSeconds: 0.1})
		if r.Tripped {
			break
		}
	}
	assert.True(t, r.Tripped)
	assert.Equal(t, ReasonOvervoltage59, r.TripReason)
}

func TestUndervoltageTripsAfterDelay(t *testing.T) {
	r := New(DefaultSettings(100, 115))
	for i := 0; i < int(r.Settings.UV27DelaySeconds*10)+5; i++ {
		r.Update(Inputs{CurrentA: 0, VoltageKV: 90, FrequencyHz: 50, DtSeconds: 0.1})
		if r.Tripped {
			break
		}
	}
	assert.True(t, r.Tripped)
	assert.Equal(t, ReasonUndervoltage27, r.TripReason)
}

func TestUndervoltageTimerResetsWhenVoltageRecovers(t *testing.T) {
	r := New(DefaultSettings(100, 115))
	r.Update(Inputs{CurrentA: 0, VoltageKV: 90, FrequencyHz: 50, DtSeconds: 2})
	r.Update(Inputs{CurrentA: 0, VoltageKV: 115, FrequencyHz: 50, DtSeconds: 0.1})
	for i := 0; i < 25; i++ {
		r.Update(Inputs{CurrentA: 0, VoltageKV: 90, FrequencyHz: 50, DtSeconds: 0.1})
	}
	// Timer restarted after the brief recovery tick, so 2.5s of further
	// undervoltage alone isn't enough to cross the 3s delay.
	assert.False(t, r.Tripped)
}

func TestUFLSStagesActivateInOrderOnly(t *testing.T) {
	r := New(DefaultSettings(100, 115))
	for i := 0; i < 20; i++ {
		r.Update(Inputs{CurrentA: 0, VoltageKV: 115, FrequencyHz: 48.9, DtSeconds: 0.1})
	}
	state := r.UFLS()
	assert.True(t, state.Stage1)
	assert.True(t, state.Stage2)
	assert.False(t, state.Stage3) // 48.9Hz is above stage 3's 48.8Hz threshold
}

func TestUFLSRecoveryClearsAllStagesTogether(t *testing.T) {
	r := New(DefaultSettings(100, 115))
	for i := 0; i < 20; i++ {
		r.Update(Inputs{CurrentA: 0, VoltageKV: 115, FrequencyHz: 48.5, DtSeconds: 0.1})
	}
	require.True(t, r.UFLS().Stage1)
	require.True(t, r.UFLS().Stage2)
	require.True(t, r.UFLS().Stage3)

	for i := 0; i < 30; i++ {
		r.Update(Inputs{CurrentA: 0, VoltageKV: 115, FrequencyHz: 49.8, DtSeconds: 0.1})
	}
	state := r.UFLS()
	assert.False(t, state.Stage1)
	assert.False(t, state.Stage2)
	assert.False(t, state.Stage3)
}

func TestUFLSShedPercentReflectsHighestActiveStage(t *testing.T) {
	settings := DefaultSettings(100, 115)
	state := UFLSState{Stage1: true, Stage2: true, Stage3: false}
	assert.Equal(t, 15.0, state.ShedPercent(settings))
}

func TestReasonStringNames(t *testing.T) {
	assert.Equal(t, "87T_DIFFERENTIAL", ReasonDifferential87T.String())
	assert.Equal(t, "51_OVERCURRENT", ReasonOvercurrent51.String())
	assert.Equal(t, "59_OVERVOLTAGE", ReasonOvervoltage59.String())
	assert.Equal(t, "27_UNDERVOLTAGE", ReasonUndervoltage27.String())
	assert.Equal(t, "NONE", ReasonNone.String())
}
