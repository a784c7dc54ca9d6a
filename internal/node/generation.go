package node

import (
	"math"
	"sync"
	"time"

	"github.com/scada-sim/gridcore/internal/iec104/asdu"
	"github.com/scada-sim/gridcore/internal/protection"
	"github.com/scada-sim/gridcore/internal/quality"
	"github.com/scada-sim/gridcore/internal/register"
	"github.com/scada-sim/gridcore/internal/soe"
	"github.com/scada-sim/gridcore/internal/topology"
)

// Generation-node-only addresses.
const (
	CoilGovernorAuto = 2
	CoilAVRAuto      = 3

	DiSyncStatus   = 1001
	DiGovernorMode = 1002
	DiAVRMode      = 1003

	AnalogGeneratorMW   = 3010
	AnalogGeneratorMVAr = 3011

	HoldingGovernorSetpointMW = 4010
	HoldingAVRSetpointKV      = 4011
)

// generationBounds returns the register image extents for a generation
// node: coils through the protection-reset address, discretes through the
// trip-bit block, input registers wide enough for the common block plus
// generator MW/MVAr and their paired quality registers, holding registers
// through the AVR setpoint.
func generationBounds() register.Bounds {
	return register.Bounds{
		CoilBase: 0, CoilCount: 11,
		DiscreteBase: 1000, DiscreteCount: 14,
		InputRegBase: 3000, InputRegCount: 112,
		HoldingRegBase: 4000, HoldingRegCount: 12,
	}
}

// GenerationNode specializes BaseNode with governor and AVR setpoints,
// synchronization checking, and generator-level MW/MVAr telemetry.
type GenerationNode struct {
	*BaseNode

	Params topology.GeneratorParams

	mu            sync.RWMutex
	governorAuto  bool
	avrAuto       bool
	synced        bool
	generatorMW   float64
	generatorMVAr float64
}

// NewGenerationNode builds a generation RTU node. deadbandPct is the
// fractional analog deadband for spontaneous IEC 104 transmission.
func NewGenerationNode(params topology.GeneratorParams, ca asdu.CommonAddr, nominalKV float64, deadbandPct float64) *GenerationNode {
	ratedA := params.RatedMW * 1000 / (nominalKV * math.Sqrt(3))
	relay := protection.New(protection.DefaultSettings(ratedA, nominalKV))

	g := &GenerationNode{
		BaseNode:     NewBaseNode(params.Tag, ca, nominalKV, generationBounds(), relay, deadbandPct),
		Params:       params,
		governorAuto: true,
		avrAuto:      true,
	}

	g.addAnalog(AnalogGeneratorMW, AnalogGeneratorMW, register.DecodePower10)
	g.addAnalog(AnalogGeneratorMVAr, AnalogGeneratorMVAr, register.DecodePower10)
	g.addBinary(DiSyncStatus, DiSyncStatus, false)
	g.addBinary(DiGovernorMode, DiGovernorMode, false)
	g.addBinary(DiAVRMode, DiAVRMode, false)

	g.addSetpoint(HoldingGovernorSetpointMW, HoldingGovernorSetpointMW, register.EncodePower10, register.DecodePower10,
		func(b *BaseNode, physical float64) error { return g.setGovernorSetpoint(physical) })
	g.addSetpoint(HoldingAVRSetpointKV, HoldingAVRSetpointKV, register.EncodeKV10, register.DecodeKV10,
		func(b *BaseNode, physical float64) error { return g.setAVRSetpoint(physical) })

	_ = g.Image.SetDiscreteInput(DiGovernorMode, g.governorAuto)
	_ = g.Image.SetDiscreteInput(DiAVRMode, g.avrAuto)

	g.SetCoilHook(g.handleCoil)

	return g
}

func (g *GenerationNode) handleCoil(addr int, v bool) (bool, error) {
	switch addr {
	case CoilGovernorAuto:
		g.mu.Lock()
		g.governorAuto = v
		g.mu.Unlock()
		_ = g.Image.SetDiscreteInput(DiGovernorMode, v)
		g.SOE.Append(time.Now(), g.Tag, soe.ModeChange, "governor auto mode "+onOff(v), 0, false)
		return true, nil
	case CoilAVRAuto:
		g.mu.Lock()
		g.avrAuto = v
		g.mu.Unlock()
		_ = g.Image.SetDiscreteInput(DiAVRMode, v)
		g.SOE.Append(time.Now(), g.Tag, soe.ModeChange, "AVR auto mode "+onOff(v), 0, false)
		return true, nil
	}
	return false, nil
}

// ApplyDispatchMW pushes a new governor setpoint from economic dispatch via
// the same holding-register write path a remote operator would use, so the
// SOE buffer captures the change.
func (g *GenerationNode) ApplyDispatchMW(mw float64) error {
	return g.setGovernorSetpoint(mw)
}

// setGovernorSetpoint range-checks against the generator's MW limits
// before applying; a request outside them is clamped and the register's
// quality marked accordingly.
func (g *GenerationNode) setGovernorSetpoint(mw float64) error {
	clamped := g.Params.Clamp(mw)
	if _, err := g.Image.WriteHoldingRegister(HoldingGovernorSetpointMW, register.EncodePower10(clamped)); err != nil {
		return err
	}
	g.markClampedWrite(HoldingGovernorSetpointMW, mw, clamped)
	g.SOE.Append(time.Now(), g.Tag, soe.SetpointChange, "governor setpoint MW", clamped, true)
	return nil
}

// setAVRSetpoint clamps to +/-10% of rated voltage, marking the
// register's quality when the request fell outside that band.
func (g *GenerationNode) setAVRSetpoint(kv float64) error {
	requested := kv
	lo, hi := g.NominalKV*0.9, g.NominalKV*1.1
	if kv < lo {
		kv = lo
	}
	if kv > hi {
		kv = hi
	}
	if _, err := g.Image.WriteHoldingRegister(HoldingAVRSetpointKV, register.EncodeKV10(kv)); err != nil {
		return err
	}
	g.markClampedWrite(HoldingAVRSetpointKV, requested, kv)
	g.SOE.Append(time.Now(), g.Tag, soe.SetpointChange, "AVR setpoint kV", kv, true)
	return nil
}

// CheckSynchronization reports true only if |deltaV| < 5% rated and
// |deltaTheta| < 10 degrees. A transition in either direction emits an
// SOE event.
func (g *GenerationNode) CheckSynchronization(gridKV, gridAngleRad float64) bool {
	g.mu.RLock()
	localKV := g.Elec.VoltageKV
	localAngle := g.Elec.AngleRad
	wasSynced := g.synced
	g.mu.RUnlock()

	dv := math.Abs(localKV-gridKV) / g.NominalKV
	dtheta := math.Abs(localAngle - gridAngleRad)
	for dtheta > math.Pi {
		dtheta -= 2 * math.Pi
	}
	synced := dv < 0.05 && math.Abs(dtheta) < (10*math.Pi/180)

	g.mu.Lock()
	g.synced = synced
	g.mu.Unlock()

	if synced != wasSynced {
		_ = g.Image.SetDiscreteInput(DiSyncStatus, synced)
		if synced {
			g.SOE.Append(time.Now(), g.Tag, soe.AlarmClear, "synchronized with grid", 0, false)
		} else {
			g.SOE.Append(time.Now(), g.Tag, soe.AlarmRaise, "lost synchronization", 0, false)
		}
	}
	return synced
}

// UpdateGeneratorOutput records the generator's own MW/MVAr output,
// distinct from the bus-level measurement UpdateElectricalState already
// tracks (a generation node's bus and machine output coincide only when
// no other injection shares the bus).
func (g *GenerationNode) UpdateGeneratorOutput(mw, mvar float64) {
	mw = coerceFinite(mw, 0)
	mvar = coerceFinite(mvar, 0)
	g.mu.Lock()
	g.generatorMW, g.generatorMVAr = mw, mvar
	g.mu.Unlock()
	g.Image.SetInputRegisterScaled(AnalogGeneratorMW, register.EncodePower10(mw), quality.Good, time.Now())
	g.Image.SetInputRegisterScaled(AnalogGeneratorMVAr, register.EncodePower10(mvar), quality.Good, time.Now())
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}
