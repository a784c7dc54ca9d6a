package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/scada-sim/gridcore/internal/iec104/asdu"
	"github.com/scada-sim/gridcore/internal/protection"
	"github.com/scada-sim/gridcore/internal/quality"
	"github.com/scada-sim/gridcore/internal/register"
	"github.com/scada-sim/gridcore/internal/soe"
	"github.com/scada-sim/gridcore/internal/thermal"
	"github.com/scada-sim/gridcore/internal/topology"
)

// Substation-only addresses.
const (
	CoilBreakerLV = 2
	CoilOLTCRaise = 4
	CoilOLTCLower = 5
	CoilOLTCAuto  = 6

	DiBreakerStatusLV = 1001
	DiOLTCMode        = 1002
	DiOLTCAtMin       = 1003
	DiOLTCAtMax       = 1004
	DiThermalAlarm    = 1005
	DiThermalTrip     = 1006
	DiDiffTrip        = 1007
	DiOvercurrentTrip = 1008

	AnalogTransformerLoadPct = 3020
	AnalogOilTempC           = 3021
	AnalogHotSpotTempC       = 3022
	AnalogTapPosition        = 3023
	AnalogLineCurrentA1      = 3030
	AnalogLineCurrentA2      = 3031
	AnalogLineCurrentA3      = 3032

	HoldingOLTCTargetKV = 4020

	oltcMinTap            = -16
	oltcMaxTap            = 16
	oltcRateLimitPer10Min = 3
)

func substationBounds() register.Bounds {
	return register.Bounds{
		CoilBase: 0, CoilCount: 11,
		DiscreteBase: 1000, DiscreteCount: 14,
		InputRegBase: 3000, InputRegCount: 133,
		HoldingRegBase: 4000, HoldingRegCount: 22,
	}
}

// SubstationNode specializes BaseNode with a transformer thermal model,
// OLTC tap control, and per-phase line currents.
type SubstationNode struct {
	*BaseNode

	Thermal *thermal.Model

	mu                sync.Mutex
	oltcAuto          bool
	tap               int
	targetKV          float64
	tapChangeAt       []time.Time // sliding window for the rate limit
	lvClosed          bool
	degradationFactor float64
}

// NewSubstationNode builds a transmission substation RTU node. relaySettings
// sizes the multi-function relay (51/59/27/87T) to the transformer's rated
// current and the bus's nominal voltage.
func NewSubstationNode(params topology.TransformerParams, ca asdu.CommonAddr, nominalKV float64, relaySettings protection.Settings, deadbandPct float64) *SubstationNode {
	s := &SubstationNode{
		BaseNode:          NewBaseNode(params.Tag, ca, nominalKV, substationBounds(), protection.New(relaySettings), deadbandPct),
		Thermal:           thermal.New(params),
		oltcAuto:          true,
		targetKV:          nominalKV,
		lvClosed:          true,
		degradationFactor: 1.0,
	}

	s.addAnalog(AnalogTransformerLoadPct, AnalogTransformerLoadPct, register.DecodePF1000)
	s.addAnalog(AnalogOilTempC, AnalogOilTempC, register.DecodeTemperature10)
	s.addAnalog(AnalogHotSpotTempC, AnalogHotSpotTempC, register.DecodeTemperature10)
	s.addAnalog(AnalogTapPosition, AnalogTapPosition, decodeTapAsFloat)
	s.addAnalog(AnalogLineCurrentA1, AnalogLineCurrentA1, register.DecodeCurrentA)
	s.addAnalog(AnalogLineCurrentA2, AnalogLineCurrentA2, register.DecodeCurrentA)
	s.addAnalog(AnalogLineCurrentA3, AnalogLineCurrentA3, register.DecodeCurrentA)

	s.addBinary(DiBreakerStatusLV, DiBreakerStatusLV, false)
	s.addBinary(DiOLTCMode, DiOLTCMode, false)
	s.addBinary(DiOLTCAtMin, DiOLTCAtMin, false)
	s.addBinary(DiOLTCAtMax, DiOLTCAtMax, false)
	s.addBinary(DiThermalAlarm, DiThermalAlarm, false)
	s.addBinary(DiThermalTrip, DiThermalTrip, false)
	s.addBinary(DiDiffTrip, DiDiffTrip, false)
	s.addBinary(DiOvercurrentTrip, DiOvercurrentTrip, false)

	s.addSetpoint(HoldingOLTCTargetKV, HoldingOLTCTargetKV, register.EncodeKV10, register.DecodeKV10,
		func(b *BaseNode, physical float64) error { return s.setOLTCTarget(physical) })

	_ = s.Image.SetDiscreteInput(DiOLTCMode, s.oltcAuto)
	_ = s.Image.SetDiscreteInput(DiBreakerStatusLV, s.lvClosed)
	_, _ = s.Image.WriteHoldingRegister(HoldingOLTCTargetKV, register.EncodeKV10(nominalKV))
	s.Image.SetInputRegisterScaled(AnalogTapPosition, register.EncodeTap(0), quality.Good, time.Now())

	s.SetCoilHook(s.handleCoil)

	return s
}

func decodeTapAsFloat(raw uint16) float64 { return float64(register.DecodeTap(raw)) }

func (s *SubstationNode) handleCoil(addr int, v bool) (bool, error) {
	switch addr {
	case CoilBreakerLV:
		s.mu.Lock()
		s.lvClosed = v
		s.mu.Unlock()
		_ = s.Image.SetDiscreteInput(DiBreakerStatusLV, v)
		s.SOE.Append(time.Now(), s.Tag, soe.ModeChange, "LV breaker "+onOff(v), 0, false)
		return true, nil
	case CoilOLTCAuto:
		s.mu.Lock()
		s.oltcAuto = v
		s.mu.Unlock()
		_ = s.Image.SetDiscreteInput(DiOLTCMode, v)
		s.SOE.Append(time.Now(), s.Tag, soe.ModeChange, "OLTC auto mode "+onOff(v), 0, false)
		return true, nil
	case CoilOLTCRaise:
		if v {
			s.manualTapChange(1)
		}
		return true, nil
	case CoilOLTCLower:
		if v {
			s.manualTapChange(-1)
		}
		return true, nil
	}
	return false, nil
}

// setOLTCTarget clamps the regulation target to +/-10% of nominal (the
// span the tap range can actually regulate to), marking the register's
// quality when the request fell outside it.
func (s *SubstationNode) setOLTCTarget(kv float64) error {
	requested := kv
	lo, hi := s.NominalKV*0.9, s.NominalKV*1.1
	if kv < lo {
		kv = lo
	}
	if kv > hi {
		kv = hi
	}
	s.mu.Lock()
	s.targetKV = kv
	s.mu.Unlock()
	if _, err := s.Image.WriteHoldingRegister(HoldingOLTCTargetKV, register.EncodeKV10(kv)); err != nil {
		return err
	}
	s.markClampedWrite(HoldingOLTCTargetKV, requested, kv)
	s.SOE.Append(time.Now(), s.Tag, soe.SetpointChange, "OLTC target kV", kv, true)
	return nil
}

func (s *SubstationNode) manualTapChange(direction int) {
	s.mu.Lock()
	ok := s.tryConsumeTapBudgetLocked()
	if !ok {
		s.mu.Unlock()
		return
	}
	s.applyTapLocked(direction)
	s.mu.Unlock()
}

// AutoOLTCTick applies the automatic tap rule: with the LV breaker closed
// and |V_sec - target| exceeding a 1%-of-rated deadband, raise tap for low
// voltage, lower for high voltage, subject to the rate limit.
func (s *SubstationNode) AutoOLTCTick(secondaryKV float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.oltcAuto || !s.lvClosed {
		return
	}
	deadband := s.NominalKV * 0.01
	delta := secondaryKV - s.targetKV
	if delta > deadband {
		if s.tryConsumeTapBudgetLocked() {
			s.applyTapLocked(-1)
		}
	} else if delta < -deadband {
		if s.tryConsumeTapBudgetLocked() {
			s.applyTapLocked(1)
		}
	}
}

// tryConsumeTapBudgetLocked enforces the <=3-per-10-minutes rate limit;
// caller holds s.mu.
func (s *SubstationNode) tryConsumeTapBudgetLocked() bool {
	now := time.Now()
	cutoff := now.Add(-10 * time.Minute)
	kept := s.tapChangeAt[:0]
	for _, t := range s.tapChangeAt {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.tapChangeAt = kept
	if len(s.tapChangeAt) >= oltcRateLimitPer10Min {
		return false
	}
	s.tapChangeAt = append(s.tapChangeAt, now)
	return true
}

// applyTapLocked moves the tap one step, clamped to [oltcMinTap, oltcMaxTap],
// and emits an SOE event; caller holds s.mu.
func (s *SubstationNode) applyTapLocked(direction int) {
	next := s.tap + direction
	if next < oltcMinTap {
		next = oltcMinTap
	}
	if next > oltcMaxTap {
		next = oltcMaxTap
	}
	if next == s.tap {
		return
	}
	s.tap = next
	_ = s.Image.SetDiscreteInput(DiOLTCAtMin, s.tap == oltcMinTap)
	_ = s.Image.SetDiscreteInput(DiOLTCAtMax, s.tap == oltcMaxTap)
	s.Image.SetInputRegisterScaled(AnalogTapPosition, register.EncodeTap(s.tap), quality.Good, time.Now())
	s.SOE.Append(time.Now(), s.Tag, soe.SetpointChange, "OLTC tap change", float64(s.tap), true)
}

// SetDegradationFactor sets the aging multiplier (>=1.0) applied to the
// transformer thermal model's loading term, simulating insulation
// degradation.
func (s *SubstationNode) SetDegradationFactor(factor float64) error {
	if factor < 1.0 {
		return fmt.Errorf("node: degradation factor must be >= 1.0, got %f", factor)
	}
	s.mu.Lock()
	s.degradationFactor = factor
	s.mu.Unlock()
	return nil
}

// UpdateThermal advances the transformer thermal model by dt given the
// present transformer loading in MVA, refreshes the temperature and load
// registers, and raises/clears the thermal alarm discrete input from the
// model's hysteresis.
func (s *SubstationNode) UpdateThermal(dt time.Duration, loadMVA float64) {
	s.mu.Lock()
	degradation := s.degradationFactor
	s.mu.Unlock()
	s.Thermal.Step(dt.Seconds(), loadMVA, degradation)

	loadPct := 0.0
	if s.Thermal.Params.RatedMVA > 0 {
		loadPct = loadMVA / s.Thermal.Params.RatedMVA
	}

	now := time.Now()
	s.Image.SetInputRegisterScaled(AnalogTransformerLoadPct, register.EncodePF1000(loadPct), quality.Good, now)
	s.Image.SetInputRegisterScaled(AnalogOilTempC, register.EncodeTemperature10(s.Thermal.ThetaOil), quality.Good, now)
	s.Image.SetInputRegisterScaled(AnalogHotSpotTempC, register.EncodeTemperature10(s.Thermal.ThetaHS), quality.Good, now)

	wasAlarm, _ := s.Image.ReadDiscreteInputs(DiThermalAlarm, 1)
	if len(wasAlarm) == 1 && wasAlarm[0] != s.Thermal.AlarmLatched {
		if s.Thermal.AlarmLatched {
			s.SOE.Append(now, s.Tag, soe.AlarmRaise, "transformer thermal alarm", s.Thermal.ThetaHS, true)
		} else {
			s.SOE.Append(now, s.Tag, soe.AlarmClear, "transformer thermal alarm cleared", s.Thermal.ThetaHS, true)
		}
	}
	_ = s.Image.SetDiscreteInput(DiThermalAlarm, s.Thermal.AlarmLatched)

	wasTrip, _ := s.Image.ReadDiscreteInputs(DiThermalTrip, 1)
	tripNow := s.Thermal.TripLatched
	_ = s.Image.SetDiscreteInput(DiThermalTrip, tripNow)
	if len(wasTrip) == 1 && !wasTrip[0] && tripNow {
		s.SOE.Append(now, s.Tag, soe.ProtectionTrip, "transformer thermal trip", s.Thermal.ThetaHS, true)
		s.OpenBreaker("PROTECTION_TRIP:THERMAL")
	}

	// The substation map carries its own differential/overcurrent trip bits
	// alongside the common 1010-1013 block.
	if s.Relay != nil {
		_ = s.Image.SetDiscreteInput(DiDiffTrip, s.Relay.Tripped && s.Relay.TripReason == protection.ReasonDifferential87T)
		_ = s.Image.SetDiscreteInput(DiOvercurrentTrip, s.Relay.Tripped && s.Relay.TripReason == protection.ReasonOvercurrent51)
	}
}

// UpdateLineCurrents records the three per-phase line currents feeding the
// transformer's primary winding.
func (s *SubstationNode) UpdateLineCurrents(ia, ib, ic float64) {
	now := time.Now()
	s.Image.SetInputRegisterScaled(AnalogLineCurrentA1, register.EncodeCurrentA(coerceFinite(ia, 0)), quality.Good, now)
	s.Image.SetInputRegisterScaled(AnalogLineCurrentA2, register.EncodeCurrentA(coerceFinite(ib, 0)), quality.Good, now)
	s.Image.SetInputRegisterScaled(AnalogLineCurrentA3, register.EncodeCurrentA(coerceFinite(ic, 0)), quality.Good, now)
}
