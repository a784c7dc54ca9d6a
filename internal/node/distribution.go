package node

import (
	"sync"
	"time"

	"github.com/scada-sim/gridcore/internal/iec104/asdu"
	"github.com/scada-sim/gridcore/internal/protection"
	"github.com/scada-sim/gridcore/internal/quality"
	"github.com/scada-sim/gridcore/internal/register"
	"github.com/scada-sim/gridcore/internal/soe"
)

// Distribution-only addresses.
const (
	CoilCapAuto    = 2
	CoilCapBank1   = 3
	CoilCapBank2   = 4
	CoilUFLSEnable = 5

	DiCapAutoMode = 1001
	DiUFLSEnabled = 1002

	// UFLS stage bits live at 1020-1022, clear of the 1010-1013 protection
	// trip-bit block BaseNode adds for any node with a relay attached.
	DiUFLSStage1 = 1020
	DiUFLSStage2 = 1021
	DiUFLSStage3 = 1022

	AnalogFeederLoadPct  = 3040
	AnalogUFLSShedPct    = 3041
	AnalogCapBanksOnline = 3042
	AnalogLineCurrentA   = 3043
	AnalogPhaseVoltageA  = 3044
	AnalogPhaseVoltageB  = 3045
	AnalogPhaseVoltageC  = 3046

	capBankCount  = 2
	capTargetPF   = 0.95
	capPFDeadband = 0.02
)

func distributionBounds() register.Bounds {
	return register.Bounds{
		CoilBase: 0, CoilCount: 11,
		DiscreteBase: 1000, DiscreteCount: 23,
		InputRegBase: 3000, InputRegCount: 147,
		HoldingRegBase: 4000, HoldingRegCount: 1,
	}
}

// DistributionNode specializes BaseNode with switchable capacitor banks,
// auto power-factor control, and the UFLS (under-frequency load shedding)
// interface to the ANSI-81 relay.
type DistributionNode struct {
	*BaseNode

	PeakLoadMW float64

	mu           sync.Mutex
	capAuto      bool
	banksOnline  [capBankCount]bool
	uflsEnabled  bool
	uflsStage    int // 0 = none, 1..3 = active stage
	totalShedPct float64
}

// NewDistributionNode builds a distribution RTU node. relaySettings is
// shared with the feeder's protection relay so UFLS stage thresholds match
// what internal/protection.Relay enforces.
func NewDistributionNode(tag string, peakLoadMW float64, ca asdu.CommonAddr, nominalKV float64, relaySettings protection.Settings, deadbandPct float64) *DistributionNode {
	relay := protection.New(relaySettings)

	d := &DistributionNode{
		BaseNode:   NewBaseNode(tag, ca, nominalKV, distributionBounds(), relay, deadbandPct),
		PeakLoadMW: peakLoadMW,
		capAuto:    true,
	}

	d.addAnalog(AnalogFeederLoadPct, AnalogFeederLoadPct, register.DecodePF1000)
	d.addAnalog(AnalogUFLSShedPct, AnalogUFLSShedPct, register.DecodePF1000)
	d.addAnalog(AnalogCapBanksOnline, AnalogCapBanksOnline, func(raw uint16) float64 { return float64(raw) })
	d.addAnalog(AnalogLineCurrentA, AnalogLineCurrentA, register.DecodeCurrentA)
	d.addAnalog(AnalogPhaseVoltageA, AnalogPhaseVoltageA, register.DecodeKV10)
	d.addAnalog(AnalogPhaseVoltageB, AnalogPhaseVoltageB, register.DecodeKV10)
	d.addAnalog(AnalogPhaseVoltageC, AnalogPhaseVoltageC, register.DecodeKV10)

	d.addBinary(DiCapAutoMode, DiCapAutoMode, false)
	d.addBinary(DiUFLSEnabled, DiUFLSEnabled, false)
	d.addBinary(DiUFLSStage1, DiUFLSStage1, false)
	d.addBinary(DiUFLSStage2, DiUFLSStage2, false)
	d.addBinary(DiUFLSStage3, DiUFLSStage3, false)

	_ = d.Image.SetDiscreteInput(DiCapAutoMode, d.capAuto)

	d.SetCoilHook(d.handleCoil)

	return d
}

func (d *DistributionNode) handleCoil(addr int, v bool) (bool, error) {
	switch addr {
	case CoilCapAuto:
		d.mu.Lock()
		d.capAuto = v
		d.mu.Unlock()
		_ = d.Image.SetDiscreteInput(DiCapAutoMode, v)
		d.SOE.Append(time.Now(), d.Tag, soe.ModeChange, "capacitor auto mode "+onOff(v), 0, false)
		return true, nil
	case CoilCapBank1:
		d.setBank(0, v)
		return true, nil
	case CoilCapBank2:
		d.setBank(1, v)
		return true, nil
	case CoilUFLSEnable:
		d.mu.Lock()
		d.uflsEnabled = v
		d.mu.Unlock()
		_ = d.Image.SetDiscreteInput(DiUFLSEnabled, v)
		d.SOE.Append(time.Now(), d.Tag, soe.ModeChange, "UFLS "+onOff(v), 0, false)
		return true, nil
	}
	return false, nil
}

func (d *DistributionNode) setBank(i int, on bool) {
	d.mu.Lock()
	if d.banksOnline[i] == on {
		d.mu.Unlock()
		return
	}
	d.banksOnline[i] = on
	count := d.onlineCountLocked()
	d.mu.Unlock()

	d.Image.SetInputRegisterScaled(AnalogCapBanksOnline, uint16(count), quality.Good, time.Now())
	d.SOE.Append(time.Now(), d.Tag, soe.SetpointChange, "capacitor bank switch", float64(i+1), true)
}

func (d *DistributionNode) onlineCountLocked() int {
	n := 0
	for _, b := range d.banksOnline {
		if b {
			n++
		}
	}
	return n
}

// AutoCapacitorTick applies the power-factor control rule: if PF is
// lagging below target, close the next open bank; if leading above
// target, open the highest-numbered closed bank; at most one bank switches
// per tick.
func (d *DistributionNode) AutoCapacitorTick(currentPF float64) {
	d.mu.Lock()
	auto := d.capAuto
	d.mu.Unlock()
	if !auto {
		return
	}

	if currentPF < capTargetPF-capPFDeadband {
		d.mu.Lock()
		idx := -1
		for i, on := range d.banksOnline {
			if !on {
				idx = i
				break
			}
		}
		d.mu.Unlock()
		if idx >= 0 {
			d.setBank(idx, true)
		}
	} else if currentPF > capTargetPF+capPFDeadband {
		d.mu.Lock()
		idx := -1
		for i := capBankCount - 1; i >= 0; i-- {
			if d.banksOnline[i] {
				idx = i
				break
			}
		}
		d.mu.Unlock()
		if idx >= 0 {
			d.setBank(idx, false)
		}
	}
}

// UFLSStagesChanged applies the relay's current under-frequency stage
// (0 = none) against the configured shed percentages, driving the stage
// discrete inputs and the cumulative shed-percentage register. Frequency
// recovery (stage transitions back to 0) clears all stages and emits an
// SOE.
func (d *DistributionNode) UFLSStagesChanged(stage int, shedPercents []float64) {
	d.mu.Lock()
	prevStage := d.uflsStage
	d.uflsStage = stage
	shed := 0.0
	if stage > 0 && stage <= len(shedPercents) {
		shed = shedPercents[stage-1]
	}
	d.totalShedPct = shed
	d.mu.Unlock()

	now := time.Now()
	_ = d.Image.SetDiscreteInput(DiUFLSStage1, stage >= 1)
	_ = d.Image.SetDiscreteInput(DiUFLSStage2, stage >= 2)
	_ = d.Image.SetDiscreteInput(DiUFLSStage3, stage >= 3)
	d.Image.SetInputRegisterScaled(AnalogUFLSShedPct, register.EncodePF1000(shed/100), quality.Good, now)

	if stage > prevStage {
		d.SOE.Append(now, d.Tag, soe.AlarmRaise, "UFLS stage activated", float64(stage), true)
	} else if stage == 0 && prevStage > 0 {
		d.SOE.Append(now, d.Tag, soe.AlarmClear, "UFLS stages recovered", 0, false)
	}
}

// UpdateFeederTelemetry records feeder-level load percentage, line
// current, and per-phase voltages.
func (d *DistributionNode) UpdateFeederTelemetry(loadMW, lineCurrentA, va, vb, vc float64) {
	now := time.Now()
	loadPct := 0.0
	if d.PeakLoadMW > 0 {
		loadPct = coerceFinite(loadMW, 0) / d.PeakLoadMW
	}
	d.Image.SetInputRegisterScaled(AnalogFeederLoadPct, register.EncodePF1000(loadPct), quality.Good, now)
	d.Image.SetInputRegisterScaled(AnalogLineCurrentA, register.EncodeCurrentA(coerceFinite(lineCurrentA, 0)), quality.Good, now)
	d.Image.SetInputRegisterScaled(AnalogPhaseVoltageA, register.EncodeKV10(coerceFinite(va, d.NominalKV)), quality.Good, now)
	d.Image.SetInputRegisterScaled(AnalogPhaseVoltageB, register.EncodeKV10(coerceFinite(vb, d.NominalKV)), quality.Good, now)
	d.Image.SetInputRegisterScaled(AnalogPhaseVoltageC, register.EncodeKV10(coerceFinite(vc, d.NominalKV)), quality.Good, now)
}
