// Package protection implements the multi-function protection relay:
// ANSI 51 inverse-time overcurrent, 59/27 definite-time
// over/under-voltage, 81 staged UFLS, and 87T differential, with a
// latched trip that only a manual reset clears.
package protection

import "math"

// Reason identifies which protective function tripped.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDifferential87T
	ReasonOvercurrent51
	ReasonOvervoltage59
	ReasonUndervoltage27
)

func (r Reason) String() string {
	switch r {
	case ReasonDifferential87T:
		return "87T_DIFFERENTIAL"
	case ReasonOvercurrent51:
		return "51_OVERCURRENT"
	case ReasonOvervoltage59:
		return "59_OVERVOLTAGE"
	case ReasonUndervoltage27:
		return "27_UNDERVOLTAGE"
	default:
		return "NONE"
	}
}

// Settings are the configurable pickup/delay parameters.
type Settings struct {
	RatedCurrentA  float64
	RatedVoltageKV float64

	OC51PickupMultiple float64 // e.g. 1.2 = 120% rated
	OC51TMS            float64 // time-multiplier setting
	OC51FloorSeconds   float64

	OV59PickupMultiple float64 // e.g. 1.10
	OV59DelaySeconds   float64

	UV27PickupMultiple float64 // e.g. 0.85
	UV27DelaySeconds   float64

	UFLSStagesHz     []float64 // e.g. 49.5, 49.2, 48.8
	UFLSDelaySeconds float64
	UFLSShedPercent  []float64 // e.g. 10, 15, 20
	UFLSRecoveryHz   float64   // e.g. 49.7

	DiffTurnsRatio    float64
	DiffPickupA       float64
	DiffMinRestraintA float64
}

// DefaultSettings returns typical utility-practice values.
func DefaultSettings(ratedA, ratedKV float64) Settings {
	return Settings{
		RatedCurrentA:      ratedA,
		RatedVoltageKV:     ratedKV,
		OC51PickupMultiple: 1.2,
		OC51TMS:            1.0,
		OC51FloorSeconds:   5,
		OV59PickupMultiple: 1.10,
		OV59DelaySeconds:   2,
		UV27PickupMultiple: 0.85,
		UV27DelaySeconds:   3,
		UFLSStagesHz:       []float64{49.5, 49.2, 48.8},
		UFLSDelaySeconds:   0.5,
		UFLSShedPercent:    []float64{10, 15, 20},
		UFLSRecoveryHz:     49.7,
		DiffTurnsRatio:     1.0,
		DiffPickupA:        ratedA * 0.2,
		DiffMinRestraintA:  ratedA * 0.1,
	}
}

// Inputs is one tick's worth of electrical measurement fed to the relay.
type Inputs struct {
	CurrentA    float64
	VoltageKV   float64
	FrequencyHz float64
	PrimaryA    float64 // for 87T differential
	SecondaryA  float64
	DtSeconds   float64
}

// UFLSState reports which load-shedding stages are currently active.
type UFLSState struct {
	Stage1, Stage2, Stage3 bool
}

// ShedPercent returns the cumulative shed percentage for the active stages.
func (u UFLSState) ShedPercent(settings Settings) float64 {
	var total float64
	if u.Stage1 && len(settings.UFLSShedPercent) > 0 {
		total = settings.UFLSShedPercent[0]
	}
	if u.Stage2 && len(settings.UFLSShedPercent) > 1 {
		total = settings.UFLSShedPercent[1]
	}
	if u.Stage3 && len(settings.UFLSShedPercent) > 2 {
		total = settings.UFLSShedPercent[2]
	}
	return total
}

// Relay is one node's protection-function state machine.
type Relay struct {
	Settings Settings

	oc51TimerS float64
	ov59TimerS float64
	uv27TimerS float64

	ufls          UFLSState
	uflsTimerS    [3]float64
	belowRecoverS float64

	Tripped    bool
	TripReason Reason
}

// New returns an armed, untripped relay with the given settings.
func New(s Settings) *Relay { return &Relay{Settings: s} }

// Update advances all protective functions by one tick. Once Tripped is
// latched, further calls are no-ops regardless of input; only Reset
// clears the latch.
func (r *Relay) Update(in Inputs) (pickedUp bool) {
	if r.Tripped {
		return false
	}
	dt := in.DtSeconds
	if dt <= 0 {
		dt = 0
	}

	// Priority on simultaneous pickups: differential > overcurrent >
	// overvoltage > undervoltage. A trip in a higher-priority element
	// short-circuits the lower ones so its reason is never overwritten.
	if r.stepDifferential(in) {
		r.trip(ReasonDifferential87T)
		return true
	}
	ocPicked := r.stepOvercurrent(in, dt)
	if r.Tripped {
		return true
	}
	ovPicked := r.stepOvervoltage(in, dt)
	if r.Tripped {
		return true
	}
	uvPicked := r.stepUndervoltage(in, dt)
	r.stepUFLS(in, dt)

	return ocPicked || ovPicked || uvPicked
}

func (r *Relay) stepDifferential(in Inputs) bool {
	restraint := (in.PrimaryA + in.SecondaryA*r.Settings.DiffTurnsRatio) / 2
	if restraint < r.Settings.DiffMinRestraintA {
		return false
	}
	diff := math.Abs(in.PrimaryA - in.SecondaryA*r.Settings.DiffTurnsRatio)
	return diff > r.Settings.DiffPickupA
}

// stepOvercurrent implements ANSI 51 IEC standard-inverse timing:
// t = TMS * 0.14 / ((I/Ipickup)^0.02 - 1), floored at OC51FloorSeconds.
func (r *Relay) stepOvercurrent(in Inputs, dt float64) bool {
	pickup := r.Settings.OC51PickupMultiple * r.Settings.RatedCurrentA
	if pickup <= 0 || in.CurrentA <= pickup {
		r.oc51TimerS = 0
		return false
	}
	ratio := in.CurrentA / pickup
	denom := math.Pow(ratio, 0.02) - 1
	var tripTime float64
	if denom <= 0 {
		tripTime = math.Inf(1)
	} else {
		tripTime = r.Settings.OC51TMS * 0.14 / denom
	}
	if tripTime < r.Settings.OC51FloorSeconds {
		tripTime = r.Settings.OC51FloorSeconds
	}
	r.oc51TimerS += dt
	if r.oc51TimerS >= tripTime {
		r.trip(ReasonOvercurrent51)
	}
	return true
}

func (r *Relay) stepOvervoltage(in Inputs, dt float64) bool {
	pickup := r.Settings.OV59PickupMultiple * r.Settings.RatedVoltageKV
	if pickup <= 0 || in.VoltageKV <= pickup {
		r.ov59TimerS = 0
		return false
	}
	r.ov59TimerS += dt
	if r.ov59TimerS >= r.Settings.OV59DelaySeconds {
		r.trip(ReasonOvervoltage59)
	}
	return true
}

func (r *Relay) stepUndervoltage(in Inputs, dt float64) bool {
	pickup := r.Settings.UV27PickupMultiple * r.Settings.RatedVoltageKV
	if in.VoltageKV >= pickup || in.VoltageKV <= 0 {
		r.uv27TimerS = 0
		return false
	}
	r.uv27TimerS += dt
	if r.uv27TimerS >= r.Settings.UV27DelaySeconds {
		r.trip(ReasonUndervoltage27)
	}
	return true
}

// stepUFLS implements the three-staged UFLS ladder: stages activate in
// order only (higher stages require lower stages already active), and a
// sustained recovery above UFLSRecoveryHz clears all stages at once.
func (r *Relay) stepUFLS(in Inputs, dt float64) {
	stages := r.Settings.UFLSStagesHz
	active := [3]*bool{&r.ufls.Stage1, &r.ufls.Stage2, &r.ufls.Stage3}

	if in.FrequencyHz >= r.Settings.UFLSRecoveryHz {
		r.belowRecoverS += dt
		if r.belowRecoverS >= 2 && (r.ufls.Stage1 || r.ufls.Stage2 || r.ufls.Stage3) {
			r.ufls = UFLSState{}
			r.uflsTimerS = [3]float64{}
		}
		for i := range r.uflsTimerS {
			r.uflsTimerS[i] = 0
		}
		return
	}
	r.belowRecoverS = 0

	for i, threshold := range stages {
		if i >= len(active) {
			break
		}
		if *active[i] {
			continue
		}
		if i > 0 && !*active[i-1] {
			continue // higher stages require lower stages already active
		}
		if in.FrequencyHz < threshold {
			r.uflsTimerS[i] += dt
			if r.uflsTimerS[i] >= r.Settings.UFLSDelaySeconds {
				*active[i] = true
			}
		} else {
			r.uflsTimerS[i] = 0
		}
	}
}

// UFLS returns the current load-shedding stage state.
func (r *Relay) UFLS() UFLSState { return r.ufls }

func (r *Relay) trip(reason Reason) {
	r.Tripped = true
	r.TripReason = reason
}

// Reset clears the latched trip and all stage timers.
func (r *Relay) Reset() {
	r.Tripped = false
	r.TripReason = ReasonNone
	r.oc51TimerS = 0
	r.ov59TimerS = 0
	r.uv27TimerS = 0
	r.ufls = UFLSState{}
	r.uflsTimerS = [3]float64{}
	r.belowRecoverS = 0
}
