package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scada-sim/gridcore/internal/node"
	"github.com/scada-sim/gridcore/internal/protection"
	"github.com/scada-sim/gridcore/internal/soe"
	"github.com/scada-sim/gridcore/internal/topology"
)

// TestColdStartDispatchBalancesGenerationNearNominalFrequency drives 30
// simulated seconds from a cold start against the reference topology's
// nominal loads and checks the dispatch mix and frequency settling: solar
// near its profile-available output, hydro and
// thermal within their rated ranges, and frequency close to nominal.
func TestColdStartDispatchBalancesGenerationNearNominalFrequency(t *testing.T) {
	o := newTestOrchestrator(t)

	for i := 0; i < 30; i++ {
		o.tick(time.Second)
	}

	snap := o.LatestSnapshot()
	require.NotNil(t, snap)

	solar := o.genNodes["GEN-003"]
	hydro := o.genNodes["GEN-002"]
	thermal := o.genNodes["GEN-001"]

	solarMW := snap.Nodes[solar.Tag].ActiveMW
	hydroMW := snap.Nodes[hydro.Tag].ActiveMW
	thermalMW := snap.Nodes[thermal.Tag].ActiveMW

	assert.GreaterOrEqual(t, solarMW, 0.0)
	assert.LessOrEqual(t, solarMW, solar.Params.RatedMW, "solar can never exceed its rated capacity")
	assert.GreaterOrEqual(t, hydroMW, hydro.Params.MinMW-1, "hydro must stay within its dispatchable range")
	assert.LessOrEqual(t, hydroMW, hydro.Params.MaxMW+1)
	assert.GreaterOrEqual(t, thermalMW, thermal.Params.MinMW-1, "thermal must stay within its dispatchable range")
	assert.LessOrEqual(t, thermalMW, thermal.Params.MaxMW+1)

	// Peak loads sum to 500 MW; the 06:00 weekday profile factor is ~0.8.
	assert.InDelta(t, 400.0, snap.TotalLoadMW, 60)
	assert.InDelta(t, snap.TotalLoadMW+snap.TotalLossesMW, snap.TotalGenerationMW, 15,
		"generation must balance load plus losses once dispatch has had 30 s to settle")
	assert.InDelta(t, o.cfg.NominalFrequencyHz, snap.FrequencyHz, 1.0,
		"frequency should be settling toward nominal within 30 simulated seconds")
}

// TestLoadStepDipsFrequencyThenAGCRestoresNominal adds a load step to
// DIST-001 after the system has settled and checks the frequency's
// transient dip and the eventual droop/AGC recovery, without any UFLS
// stage activating.
func TestLoadStepDipsFrequencyThenAGCRestoresNominal(t *testing.T) {
	o := newTestOrchestrator(t)
	for i := 0; i < 20; i++ {
		o.tick(time.Second)
	}
	before := o.freq.Freq

	o.topo.DistPeakMW["DIST-001"] += 20

	for i := 0; i < 2; i++ {
		o.tick(time.Second)
	}
	afterStep := o.freq.Freq
	assert.Less(t, afterStep, before+0.01, "a sudden load step must not raise frequency")
	assert.GreaterOrEqual(t, afterStep, 49.5, "governor primary response should arrest the dip above the first shedding threshold")

	for i := 0; i < 60; i++ {
		o.tick(time.Second)
	}
	settled := o.freq.Freq
	assert.InDelta(t, o.cfg.NominalFrequencyHz, settled, 0.3, "secondary control should restore frequency close to nominal within 60 s")

	for _, d := range o.distNodes {
		if d.Relay == nil {
			continue
		}
		u := d.Relay.UFLS()
		assert.False(t, u.Stage1 || u.Stage2 || u.Stage3, "a 20 MW step must not be severe enough to trigger UFLS")
	}
}

// TestOvercurrentTripOpensBreakerAndRecordsSOEAndDiscretes sustains a
// distribution feeder's current above its 51 pickup and checks every
// observable surface the trip is supposed to touch: the latched relay
// reason, the breaker position, the SOE trail, and the Modbus-addressable
// discrete inputs.
func TestOvercurrentTripOpensBreakerAndRecordsSOEAndDiscretes(t *testing.T) {
	o := newTestOrchestrator(t)
	d := o.distNodes["DIST-001"]
	require.NotNil(t, d.Relay)
	d.Relay.Settings.RatedCurrentA = 0.001

	for i := 0; i < 10; i++ {
		o.tick(time.Second)
	}

	require.True(t, d.Relay.Tripped)
	assert.Equal(t, protection.ReasonOvercurrent51, d.Relay.TripReason)
	assert.Equal(t, node.BreakerOpen, d.Breaker)

	oc51, err := d.Image.ReadDiscreteInputs(node.DiProtectionTripOC51, 1)
	require.NoError(t, err)
	assert.True(t, oc51[0], "Modbus discrete input 1011 must read true once the OC51 trip latches")

	diff, err := d.Image.ReadDiscreteInputs(node.DiProtectionTripDiff, 1)
	require.NoError(t, err)
	assert.False(t, diff[0], "only the OC51 trip bit should be set for an overcurrent trip")

	records := d.SOE.Recent(d.SOE.Len())
	var sawBreakerOpen, sawProtectionTrip bool
	for _, r := range records {
		if r.Class == soe.BreakerOpen {
			sawBreakerOpen = true
			assert.Contains(t, r.Description, "PROTECTION_TRIP")
		}
		if r.Class == soe.ProtectionTrip {
			sawProtectionTrip = true
			assert.Contains(t, r.Description, protection.ReasonOvercurrent51.String())
		}
	}
	assert.True(t, sawBreakerOpen, "SOE must contain a BREAKER_OPEN record")
	assert.True(t, sawProtectionTrip, "SOE must contain the PROTECTION_TRIP record the breaker-open reason names")
}

// TestUFLSCascadesInOrderThenRecoversTogether caps every generator far
// below the load so the swing equation drives frequency down through the
// shedding thresholds on its own, checks the stages activate in order,
// then restores generation and checks a sustained recovery above the
// reset threshold clears every stage together.
func TestUFLSCascadesInOrderThenRecoversTogether(t *testing.T) {
	o := newTestOrchestrator(t)
	d := o.distNodes["DIST-001"]
	require.NotNil(t, d.Relay)

	for i := 0; i < 10; i++ {
		o.tick(time.Second)
	}

	saved := make(map[string]topology.GeneratorParams, len(o.freq.Gens))
	for tag, g := range o.freq.Gens {
		saved[tag] = g.Params
		g.Params.MinMW = 0
		g.Params.MaxMW *= 0.3
		if g.SetpointMW > g.Params.MaxMW {
			g.SetpointMW = g.Params.MaxMW
		}
		if g.MechMW > g.Params.MaxMW {
			g.MechMW = g.Params.MaxMW
		}
	}

	for i := 0; i < 120; i++ {
		o.tick(100 * time.Millisecond)
	}
	u := d.Relay.UFLS()
	assert.True(t, u.Stage1, "stage 1 must activate once frequency falls through 49.5 Hz")
	assert.True(t, u.Stage2, "stage 2 must follow once frequency falls through 49.2 Hz")
	assert.False(t, u.Stage3, "frequency is floored at 48.8 Hz and never falls strictly below stage 3's threshold")

	for tag, g := range o.freq.Gens {
		g.Params = saved[tag]
	}
	for i := 0; i < 60; i++ {
		o.tick(time.Second)
	}
	u = d.Relay.UFLS()
	assert.False(t, u.Stage1, "sustained recovery above 49.7 Hz must clear every stage together")
	assert.False(t, u.Stage2)
	assert.False(t, u.Stage3)
}
