// Package node implements the RTU node layer: a common base (register
// image, quality map, SOE buffer, protection relay) specialized into
// generation, substation, and distribution node types. Each node type
// implements modbus.Handler and cs104.Station so the protocol servers in
// internal/modbus and internal/iec104/cs104 can be handed a narrow
// reference to it without either protocol package importing this one.
package node

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/scada-sim/gridcore/internal/clog"
	"github.com/scada-sim/gridcore/internal/iec104/asdu"
	"github.com/scada-sim/gridcore/internal/iec104/cs104"
	"github.com/scada-sim/gridcore/internal/protection"
	"github.com/scada-sim/gridcore/internal/quality"
	"github.com/scada-sim/gridcore/internal/register"
	"github.com/scada-sim/gridcore/internal/soe"
)

// Universal addresses shared by every node type.
const (
	CoilBreaker         = 0
	CoilProtectionReset = 10

	DiBreakerStatus = 1000

	DiProtectionTripDiff = 1010
	DiProtectionTripOC51 = 1011
	DiProtectionTripOV59 = 1012
	DiProtectionTripUV27 = 1013

	AnalogVoltageKV    = 3000
	AnalogFrequencyHz  = 3001
	AnalogActiveMW     = 3002
	AnalogReactiveMVAr = 3003
	AnalogPowerFactor  = 3004
)

// BreakerPosition mirrors a double-point breaker status.
type BreakerPosition int

const (
	BreakerOpen BreakerPosition = iota
	BreakerClosed
	BreakerIntermediate
)

func (b BreakerPosition) doublePoint() asdu.DoublePoint {
	switch b {
	case BreakerClosed:
		return asdu.DPIDeterminedOn
	case BreakerOpen:
		return asdu.DPIDeterminedOff
	default:
		return asdu.DPIIndeterminateOrIntermediate
	}
}

// Electrical is one node's per-tick electrical state, updated exactly
// once per simulation tick.
type Electrical struct {
	VoltageKV    float64
	VoltagePU    float64
	AngleRad     float64
	CurrentA     float64
	ActiveMW     float64
	ReactiveMVAr float64
	ApparentMVA  float64
	PowerFactor  float64
	FrequencyHz  float64
	UpdatedAt    time.Time
}

// analogPoint is an input-register address exposed to the protocol layer
// as a decoded float measurement.
type analogPoint struct {
	regAddr int
	ioa     asdu.InfoObjAddr
	decode  func(uint16) float64
}

// binaryPoint is a discrete-input address exposed as a single- or
// double-point measurement.
type binaryPoint struct {
	regAddr int
	ioa     asdu.InfoObjAddr
	double  bool
}

// setpointPoint is a holding-register address reachable both from a
// Modbus write and an IEC 104 set-point command.
type setpointPoint struct {
	regAddr int
	ioa     asdu.InfoObjAddr
	encode  func(physical float64) uint16
	decode  func(raw uint16) float64
	apply   func(b *BaseNode, physical float64) error
}

// CoilHook lets a specialization claim a coil address beyond the universal
// breaker (0) and protection-reset (10) ones.
type CoilHook func(addr int, v bool) (handled bool, err error)

// BaseNode is the shared machinery every RTU node specialization embeds.
type BaseNode struct {
	Tag       string
	NominalKV float64
	ca        asdu.CommonAddr

	log clog.Clog

	mu       sync.RWMutex
	Image    *register.Image
	Elec     Electrical
	Breaker  BreakerPosition
	opsCount int

	Relay      *protection.Relay
	wasTripped bool

	SOE *soe.Buffer

	coilHook CoilHook

	analogs   []analogPoint
	binaries  []binaryPoint
	setpoints map[asdu.InfoObjAddr]setpointPoint
	writable  map[int]asdu.InfoObjAddr // holding-register addr -> IOA, reverse of setpoints

	deadbandPct float64
	lastSent    map[asdu.InfoObjAddr]float64
	lastBinary  map[asdu.InfoObjAddr]bool

	changes chan cs104.Measurement
}

// NewBaseNode allocates a base node with the given register bounds.
// deadbandPct is the fractional change (e.g. 0.01 = 1%) required on an
// analog point before a spontaneous transmission fires.
func NewBaseNode(tag string, ca asdu.CommonAddr, nominalKV float64, bounds register.Bounds, relay *protection.Relay, deadbandPct float64) *BaseNode {
	b := &BaseNode{
		Tag:         tag,
		NominalKV:   nominalKV,
		ca:          ca,
		log:         clog.NewLogger("node." + tag),
		Image:       register.NewImage(bounds),
		Breaker:     BreakerOpen,
		Relay:       relay,
		SOE:         soe.NewBuffer(),
		setpoints:   make(map[asdu.InfoObjAddr]setpointPoint),
		writable:    make(map[int]asdu.InfoObjAddr),
		deadbandPct: deadbandPct,
		lastSent:    make(map[asdu.InfoObjAddr]float64),
		lastBinary:  make(map[asdu.InfoObjAddr]bool),
		changes:     make(chan cs104.Measurement, 256),
	}
	b.registerCommonAnalogs()
	b.registerCommonBinaries()
	return b
}

// IOA numbering mirrors the register address directly: the discrete
// input, input register, and holding register address blocks never
// overlap, so reusing the register address as the IEC 104
// information object address guarantees every point gets a distinct IOA
// with no separate allocation scheme to keep in sync.
func (b *BaseNode) registerCommonAnalogs() {
	b.analogs = append(b.analogs,
		analogPoint{AnalogVoltageKV, AnalogVoltageKV, register.DecodeKV10},
		analogPoint{AnalogFrequencyHz, AnalogFrequencyHz, register.DecodeFrequency1000},
		analogPoint{AnalogActiveMW, AnalogActiveMW, register.DecodePower10},
		analogPoint{AnalogReactiveMVAr, AnalogReactiveMVAr, register.DecodePower10},
		analogPoint{AnalogPowerFactor, AnalogPowerFactor, register.DecodePF1000},
	)
}

func (b *BaseNode) registerCommonBinaries() {
	b.binaries = append(b.binaries, binaryPoint{DiBreakerStatus, DiBreakerStatus, true})
	if b.Relay != nil {
		b.binaries = append(b.binaries,
			binaryPoint{DiProtectionTripDiff, DiProtectionTripDiff, false},
			binaryPoint{DiProtectionTripOC51, DiProtectionTripOC51, false},
			binaryPoint{DiProtectionTripOV59, DiProtectionTripOV59, false},
			binaryPoint{DiProtectionTripUV27, DiProtectionTripUV27, false},
		)
	}
}

// addAnalog registers a specialization-owned analog point.
func (b *BaseNode) addAnalog(regAddr int, ioa asdu.InfoObjAddr, decode func(uint16) float64) {
	b.analogs = append(b.analogs, analogPoint{regAddr, ioa, decode})
}

// addBinary registers a specialization-owned binary point.
func (b *BaseNode) addBinary(regAddr int, ioa asdu.InfoObjAddr, double bool) {
	b.binaries = append(b.binaries, binaryPoint{regAddr, ioa, double})
}

// SetCoilHook installs the specialization's handler for coil addresses
// beyond the universal breaker (0) and protection-reset (10) ones.
func (b *BaseNode) SetCoilHook(h CoilHook) { b.coilHook = h }

// addSetpoint registers a holding register reachable by both protocols.
// decode is the inverse of encode, used to recover the physical value a
// Modbus or command-channel write delivered as a raw register value before
// running it through apply.
func (b *BaseNode) addSetpoint(regAddr int, ioa asdu.InfoObjAddr, encode func(float64) uint16, decode func(uint16) float64, apply func(*BaseNode, float64) error) {
	sp := setpointPoint{regAddr, ioa, encode, decode, apply}
	b.setpoints[ioa] = sp
	b.writable[regAddr] = ioa
}

// CommonAddr implements cs104.Station.
func (b *BaseNode) CommonAddr() asdu.CommonAddr { return b.ca }

// Changes implements cs104.Station.
func (b *BaseNode) Changes() <-chan cs104.Measurement { return b.changes }

func (b *BaseNode) pushChange(m cs104.Measurement) {
	select {
	case b.changes <- m:
	default:
		b.log.Warn("node %s: spontaneous-change queue full, dropping IOA %d", b.Tag, m.Ioa)
	}
}

// Snapshot implements cs104.Station: a full walk of every analog and
// binary point, used to answer a general interrogation.
func (b *BaseNode) Snapshot() []cs104.Measurement {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]cs104.Measurement, 0, len(b.analogs)+len(b.binaries))
	for _, a := range b.analogs {
		raw, err := b.Image.ReadInputRegisters(a.regAddr, 1)
		if err != nil {
			continue
		}
		q := b.qualityFor(a.regAddr)
		out = append(out, cs104.Measurement{Ioa: a.ioa, Kind: cs104.KindFloat, Float: float32(a.decode(raw[0])), Quality: q})
	}
	for _, bp := range b.binaries {
		v, err := b.Image.ReadDiscreteInputs(bp.regAddr, 1)
		if err != nil {
			continue
		}
		if bp.double {
			pos := BreakerOpen
			if v[0] {
				pos = BreakerClosed
			}
			out = append(out, cs104.Measurement{Ioa: bp.ioa, Kind: cs104.KindDoublePoint, DP: pos.doublePoint()})
		} else {
			sp := asdu.SPIOff
			if v[0] {
				sp = asdu.SPIOn
			}
			out = append(out, cs104.Measurement{Ioa: bp.ioa, Kind: cs104.KindSinglePoint, SP: sp})
		}
	}
	return out
}

func (b *BaseNode) qualityFor(regAddr int) asdu.QualityDescriptor {
	switch b.Image.Quality.Get(regAddr).Code {
	case quality.Overflow:
		return asdu.QDSOverflow
	case quality.Underrange:
		return asdu.QDSOverflow
	case quality.Bad, quality.Suspect:
		return asdu.QDSInvalid
	default:
		return asdu.QDSGood
	}
}

// emitSpontaneous compares the current analog/binary points against the
// last values sent and pushes a Measurement for anything that moved
// beyond the configured deadband.
func (b *BaseNode) emitSpontaneous() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, a := range b.analogs {
		raw, err := b.Image.ReadInputRegisters(a.regAddr, 1)
		if err != nil {
			continue
		}
		v := a.decode(raw[0])
		prev, ok := b.lastSent[a.ioa]
		if ok {
			delta := math.Abs(v - prev)
			threshold := math.Abs(prev) * b.deadbandPct
			if threshold == 0 {
				threshold = b.deadbandPct
			}
			if delta < threshold {
				continue
			}
		}
		b.lastSent[a.ioa] = v
		b.pushChange(cs104.Measurement{Ioa: a.ioa, Kind: cs104.KindFloat, Float: float32(v), Quality: b.qualityFor(a.regAddr)})
	}
	for _, bp := range b.binaries {
		v, err := b.Image.ReadDiscreteInputs(bp.regAddr, 1)
		if err != nil {
			continue
		}
		if prev, ok := b.lastBinary[bp.ioa]; ok && prev == v[0] {
			continue
		}
		b.lastBinary[bp.ioa] = v[0]
		if bp.double {
			pos := BreakerOpen
			if v[0] {
				pos = BreakerClosed
			}
			b.pushChange(cs104.Measurement{Ioa: bp.ioa, Kind: cs104.KindDoublePoint, DP: pos.doublePoint()})
		} else {
			sp := asdu.SPIOff
			if v[0] {
				sp = asdu.SPIOn
			}
			b.pushChange(cs104.Measurement{Ioa: bp.ioa, Kind: cs104.KindSinglePoint, SP: sp})
		}
	}
}

// UpdateElectricalState stores the new quantities, recomputes pu/S/PF,
// re-evaluates data quality, ticks the protection relay, and refreshes
// register encodings. Called exactly once per tick from the orchestrator.
func (b *BaseNode) UpdateElectricalState(voltageKV, angleRad, currentA, activeMW, reactiveMVAr, freqHz float64, dt time.Duration, at time.Time) {
	voltageKV = coerceFinite(voltageKV, b.NominalKV)
	angleRad = coerceFinite(angleRad, 0)
	currentA = coerceFinite(currentA, 0)
	activeMW = coerceFinite(activeMW, 0)
	reactiveMVAr = coerceFinite(reactiveMVAr, 0)
	freqHz = coerceFinite(freqHz, 50)

	b.mu.Lock()

	vpu := 1.0
	if b.NominalKV > 0 {
		vpu = voltageKV / b.NominalKV
	}
	apparent := math.Hypot(activeMW, reactiveMVAr)
	pf := 1.0
	if apparent > 0 {
		pf = activeMW / apparent
	}

	b.Elec = Electrical{
		VoltageKV: voltageKV, VoltagePU: vpu, AngleRad: angleRad, CurrentA: currentA,
		ActiveMW: activeMW, ReactiveMVAr: reactiveMVAr, ApparentMVA: apparent,
		PowerFactor: pf, FrequencyHz: freqHz, UpdatedAt: at,
	}

	b.refreshCommonRegistersLocked(vpu, freqHz, at)

	var relay *protection.Relay
	if b.Relay != nil {
		relay = b.Relay
	}
	b.mu.Unlock()

	if relay != nil {
		relay.Update(protection.Inputs{
			CurrentA: currentA, VoltageKV: voltageKV, FrequencyHz: freqHz,
			PrimaryA: currentA, SecondaryA: currentA, DtSeconds: dt.Seconds(),
		})
		b.mu.Lock()
		justTripped := relay.Tripped && !b.wasTripped
		b.wasTripped = relay.Tripped
		if justTripped {
			reason := relay.TripReason
			b.setProtectionTripBitsLocked(reason)
			b.mu.Unlock()
			b.OpenBreaker(fmt.Sprintf("PROTECTION_TRIP:%s", reason))
		} else {
			b.mu.Unlock()
		}
	}

	b.emitSpontaneous()
}

func coerceFinite(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func (b *BaseNode) refreshCommonRegistersLocked(vpu, freqHz float64, at time.Time) {
	e := b.Elec
	// Voltage sensor range: above 1.2 pu or below 0.8 pu the transducer is
	// outside its calibrated span.
	q := quality.Good
	switch {
	case math.Abs(vpu) > 1.2:
		q = quality.Overflow
	case math.Abs(vpu) < 0.8:
		q = quality.Underrange
	}
	b.Image.SetInputRegisterScaled(AnalogVoltageKV, register.EncodeKV10(e.VoltageKV), q, at)

	fq := quality.Good
	if freqHz < 49 || freqHz > 51 {
		fq = quality.Bad
	}
	b.Image.SetInputRegisterScaled(AnalogFrequencyHz, register.EncodeFrequency1000(freqHz), fq, at)
	b.Image.SetInputRegisterScaled(AnalogActiveMW, register.EncodePower10(e.ActiveMW), quality.Good, at)
	b.Image.SetInputRegisterScaled(AnalogReactiveMVAr, register.EncodePower10(e.ReactiveMVAr), quality.Good, at)
	b.Image.SetInputRegisterScaled(AnalogPowerFactor, register.EncodePF1000(e.PowerFactor), quality.Good, at)
}

func (b *BaseNode) setProtectionTripBitsLocked(reason protection.Reason) {
	_ = b.Image.SetDiscreteInput(DiProtectionTripDiff, reason == protection.ReasonDifferential87T)
	_ = b.Image.SetDiscreteInput(DiProtectionTripOC51, reason == protection.ReasonOvercurrent51)
	_ = b.Image.SetDiscreteInput(DiProtectionTripOV59, reason == protection.ReasonOvervoltage59)
	_ = b.Image.SetDiscreteInput(DiProtectionTripUV27, reason == protection.ReasonUndervoltage27)
	b.SOE.Append(time.Now(), b.Tag, soe.ProtectionTrip, fmt.Sprintf("protection trip: %s", reason), 0, false)
}

// OpenBreaker and CloseBreaker are idempotent: only a position change
// updates the status coil/discrete, bumps the operations counter, and
// records an SOE event.
func (b *BaseNode) OpenBreaker(reason string) {
	b.mu.Lock()
	if b.Breaker == BreakerOpen {
		b.mu.Unlock()
		return
	}
	b.Breaker = BreakerOpen
	b.opsCount++
	_ = b.Image.SetDiscreteInput(DiBreakerStatus, false)
	_, _ = b.Image.WriteCoil(CoilBreaker, false)
	b.mu.Unlock()
	b.SOE.Append(time.Now(), b.Tag, soe.BreakerOpen, reason, 0, false)
}

func (b *BaseNode) CloseBreaker(reason string) {
	b.mu.Lock()
	if b.Breaker == BreakerClosed {
		b.mu.Unlock()
		return
	}
	b.Breaker = BreakerClosed
	b.opsCount++
	_ = b.Image.SetDiscreteInput(DiBreakerStatus, true)
	_, _ = b.Image.WriteCoil(CoilBreaker, true)
	b.mu.Unlock()
	b.SOE.Append(time.Now(), b.Tag, soe.BreakerClose, reason, 0, false)
}

// ResetProtection clears a latched protection trip, the same effect as
// writing the protection-reset coil. The latch yields to nothing else.
func (b *BaseNode) ResetProtection() error {
	if b.Relay == nil {
		return fmt.Errorf("node %s: no protection relay attached", b.Tag)
	}
	b.Relay.Reset()
	b.mu.Lock()
	b.wasTripped = false
	b.setProtectionTripBitsLocked(protection.ReasonNone)
	b.mu.Unlock()
	b.SOE.Append(time.Now(), b.Tag, soe.ModeChange, "protection reset", 0, false)
	return nil
}

// ---- modbus.Handler protocol facade ----

// The wire surface carries only FC01/03/05/06/16, so the read-only tables
// are overlaid onto the readable ones the way RTU vendors usually map
// them: an FC01 read whose range lies in the discrete-input block answers
// from the discrete inputs, and an FC03 read in the input-register block
// answers from the input registers. Address blocks never overlap, so the
// routing is unambiguous.

func (b *BaseNode) ReadCoils(addr, qty uint16) ([]bool, error) {
	if start, end := b.Image.DiscreteBounds(); int(addr) >= start && int(addr) < end {
		return b.Image.ReadDiscreteInputs(int(addr), int(qty))
	}
	return b.Image.ReadCoils(int(addr), int(qty))
}

func (b *BaseNode) ReadDiscreteInputs(addr, qty uint16) ([]bool, error) {
	return b.Image.ReadDiscreteInputs(int(addr), int(qty))
}

func (b *BaseNode) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	return b.Image.ReadInputRegisters(int(addr), int(qty))
}

func (b *BaseNode) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	if start, end := b.Image.InputRegBounds(); int(addr) >= start && int(addr) < end {
		return b.Image.ReadInputRegisters(int(addr), int(qty))
	}
	return b.Image.ReadHoldingRegisters(int(addr), int(qty))
}

// WriteSingleCoil applies coil 0 (breaker) and coil 10 (protection reset)
// universally, delegating any other address to the specialization's hook.
func (b *BaseNode) WriteSingleCoil(addr uint16, v bool) error {
	a := int(addr)
	switch {
	case a == CoilBreaker:
		if v {
			b.CloseBreaker("REMOTE_COMMAND")
		} else {
			b.OpenBreaker("REMOTE_COMMAND")
		}
		return nil
	case a == CoilProtectionReset && b.Relay != nil:
		if v {
			b.Relay.Reset()
			b.mu.Lock()
			b.wasTripped = false
			b.setProtectionTripBitsLocked(protection.ReasonNone)
			b.mu.Unlock()
			b.SOE.Append(time.Now(), b.Tag, soe.ModeChange, "protection reset", 0, false)
		}
		return nil
	case b.coilHook != nil:
		handled, err := b.coilHook(a, v)
		if handled {
			return err
		}
	}
	_, err := b.Image.WriteCoil(a, v)
	return err
}

func (b *BaseNode) WriteSingleRegister(addr, v uint16) error {
	sp, ok := b.writable[int(addr)]
	if !ok {
		_, err := b.Image.WriteHoldingRegister(int(addr), v)
		return err
	}
	point := b.setpoints[sp]
	return b.applySetpointRaw(point, v)
}

func (b *BaseNode) WriteMultipleRegisters(addr uint16, values []uint16) error {
	for i, v := range values {
		if err := b.WriteSingleRegister(addr+uint16(i), v); err != nil {
			return err
		}
	}
	return nil
}

// markClampedWrite records the quality consequence of a setpoint write:
// a request clamped down from above marks the register OVERFLOW, one
// clamped up from below marks it UNDERRANGE, and an in-range request
// restores GOOD.
func (b *BaseNode) markClampedWrite(regAddr int, requested, applied float64) {
	entry := b.Image.Quality.Get(regAddr)
	now := time.Now()
	switch {
	case requested > applied:
		entry.MarkOverflow(now)
	case requested < applied:
		entry.MarkUnderrange(now)
	default:
		entry.MarkUpdated(now)
	}
}

// applySetpointRaw runs a raw register value (as delivered by a Modbus or
// command-channel write) through the setpoint's apply callback, which
// clamps to physical limits, emits an SOE, and performs the register write
// itself. The encoded holding register must never be written independently
// of that callback, or clamping and SOE emission are silently bypassed.
func (b *BaseNode) applySetpointRaw(point setpointPoint, raw uint16) error {
	if point.apply != nil {
		return point.apply(b, point.decode(raw))
	}
	_, err := b.Image.WriteHoldingRegister(point.regAddr, raw)
	return err
}

// ---- cs104.Station command dispatch ----

func (b *BaseNode) SingleCommand(cmd asdu.SingleCommandInfo) error {
	if cmd.Ioa == DiBreakerStatus {
		if cmd.Value {
			b.CloseBreaker("IEC104_COMMAND")
		} else {
			b.OpenBreaker("IEC104_COMMAND")
		}
		return nil
	}
	return fmt.Errorf("node: no single-command handler for IOA %d", cmd.Ioa)
}

func (b *BaseNode) DoubleCommand(cmd asdu.DoubleCommandInfo) error {
	if cmd.Ioa == DiBreakerStatus {
		switch cmd.Value {
		case asdu.DPIDeterminedOn:
			b.CloseBreaker("IEC104_COMMAND")
		case asdu.DPIDeterminedOff:
			b.OpenBreaker("IEC104_COMMAND")
		}
		return nil
	}
	return fmt.Errorf("node: no double-command handler for IOA %d", cmd.Ioa)
}

func (b *BaseNode) SetpointNormalized(cmd asdu.SetpointCommandInfo) error {
	return b.dispatchSetpoint(cmd)
}

func (b *BaseNode) SetpointFloat(cmd asdu.SetpointCommandInfo) error {
	return b.dispatchSetpoint(cmd)
}

func (b *BaseNode) dispatchSetpoint(cmd asdu.SetpointCommandInfo) error {
	point, ok := b.setpoints[cmd.Ioa]
	if !ok {
		return fmt.Errorf("node: no setpoint handler for IOA %d", cmd.Ioa)
	}
	if point.apply != nil {
		return point.apply(b, cmd.Value)
	}
	return b.applySetpointRaw(point, point.encode(cmd.Value))
}
