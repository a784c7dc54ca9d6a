// Package frequency implements the swing-equation frequency model with
// per-generator governor droop and a PI-controlled AGC secondary loop.
// The power imbalance driving the swing equation and the governor droop
// response are computed per-unit; frequency, ROCOF and the AGC area
// control error are kept in Hz, Hz/s and MW.
package frequency

import (
	"github.com/scada-sim/gridcore/internal/topology"
)

const (
	minEmergencyHz = 48.8
	maxEmergencyHz = 51.5
	maxRocofHzPerS = 1.0
)

// GenState is the per-generator dynamic state tracked by the frequency
// model.
type GenState struct {
	Params     topology.GeneratorParams
	SetpointMW float64
	MechMW     float64 // mechanical output, first-order lag toward target
	ElecMW     float64 // electrical output (== MechMW in this lossless-generator model)
}

// Model holds system frequency state and all generator dynamic states.
type Model struct {
	NominalHz float64
	Freq      float64
	Gens      map[string]*GenState

	areaBeta       float64 // MW/Hz, ACE = beta * deltaF
	agcKp          float64
	agcKi          float64
	agcMaxMWPerMin float64
	agcIntervalS   float64

	agcIntegral float64
	sinceAGC    float64
	rocof       float64
	imbalancePU float64
	hSys        float64
}

// Config carries the tunable constants of the frequency/AGC model.
type Config struct {
	NominalHz       float64
	AreaBetaMWPerHz float64
	AGCKp           float64
	AGCKi           float64
	AGCMaxMWPerMin  float64
	AGCIntervalS    float64
}

// DefaultConfig returns constants tuned for critical damping on a 50 MW
// step on the reference islanded test system.
func DefaultConfig(nominalHz float64) Config {
	return Config{
		NominalHz:       nominalHz,
		AreaBetaMWPerHz: 20,
		AGCKp:           0.35,
		AGCKi:           0.08,
		AGCMaxMWPerMin:  60,
		AGCIntervalS:    4,
	}
}

// New builds a frequency model starting at nominal frequency with the given
// generators.
func New(cfg Config, gens []topology.GeneratorParams) *Model {
	m := &Model{
		NominalHz:      cfg.NominalHz,
		Freq:           cfg.NominalHz,
		Gens:           make(map[string]*GenState, len(gens)),
		areaBeta:       cfg.AreaBetaMWPerHz,
		agcKp:          cfg.AGCKp,
		agcKi:          cfg.AGCKi,
		agcMaxMWPerMin: cfg.AGCMaxMWPerMin,
		agcIntervalS:   cfg.AGCIntervalS,
	}
	for _, g := range gens {
		mid := (g.MinMW + g.MaxMW) / 2
		m.Gens[g.Tag] = &GenState{Params: g, SetpointMW: mid, MechMW: mid, ElecMW: mid}
	}
	return m
}

// DeltaF returns the current frequency deviation from nominal.
func (m *Model) DeltaF() float64 { return m.Freq - m.NominalHz }

// ROCOF returns the most recent computed rate of change of frequency.
func (m *Model) ROCOF() float64 { return m.rocof }

// HSys returns the most recently computed system inertia constant.
func (m *Model) HSys() float64 { return m.hSys }

// SetSetpoint is the operator override: clamps and stores a new
// generator setpoint; AGC continues to adjust around it if the generator
// participates.
func (m *Model) SetSetpoint(genTag string, mw float64) (applied float64, ok bool) {
	g, ok := m.Gens[genTag]
	if !ok {
		return 0, false
	}
	g.SetpointMW = g.Params.Clamp(mw)
	return g.SetpointMW, true
}

// Step advances the model by dt seconds given total load + loss MW.
func (m *Model) Step(dt, loadMW, lossMW float64) {
	if dt <= 0 {
		return
	}

	var totalMechMW, weightedInertia, totalRatedMW float64
	for _, g := range m.Gens {
		totalMechMW += g.MechMW
		weightedInertia += g.Params.InertiaH * g.Params.RatedMW
		totalRatedMW += g.Params.RatedMW
	}
	if totalRatedMW > 0 {
		m.hSys = weightedInertia / totalRatedMW
	}

	imbalanceMW := totalMechMW - (loadMW + lossMW)
	aggregateBase := totalRatedMW
	if aggregateBase <= 0 {
		aggregateBase = 1
	}
	m.imbalancePU = imbalanceMW / aggregateBase

	if m.hSys > 0 {
		m.rocof = m.NominalHz * m.imbalancePU / (2 * m.hSys)
	} else {
		m.rocof = 0
	}
	if m.rocof > maxRocofHzPerS {
		m.rocof = maxRocofHzPerS
	} else if m.rocof < -maxRocofHzPerS {
		m.rocof = -maxRocofHzPerS
	}

	m.Freq += m.rocof * dt
	if m.Freq < minEmergencyHz {
		m.Freq = minEmergencyHz
	} else if m.Freq > maxEmergencyHz {
		m.Freq = maxEmergencyHz
	}

	deltaF := m.DeltaF()
	for _, g := range m.Gens {
		target := g.SetpointMW
		if g.Params.DroopR > 0 {
			govDeltaMW := -(1 / g.Params.DroopR) * (deltaF / m.NominalHz) * g.Params.RatedMW
			target = g.Params.Clamp(g.SetpointMW + govDeltaMW)
		}
		if g.Params.GovernorTg <= 0 {
			g.MechMW = target // inverter resources snap to target
		} else {
			g.MechMW += (target - g.MechMW) / g.Params.GovernorTg * dt
		}
		g.ElecMW = g.MechMW
	}

	m.sinceAGC += dt
	if m.sinceAGC >= m.agcIntervalS {
		m.runAGC(m.sinceAGC)
		m.sinceAGC = 0
	}
}

// runAGC executes one AGC PI-control pass distributing the correction
// across participating generators proportional to remaining headroom.
func (m *Model) runAGC(dtSinceLast float64) {
	ace := m.areaBeta * m.DeltaF()
	m.agcIntegral += ace * dtSinceLast
	u := -(m.agcKp*ace + m.agcKi*m.agcIntegral)

	maxStep := m.agcMaxMWPerMin / 60 * dtSinceLast
	if u > maxStep {
		u = maxStep
	} else if u < -maxStep {
		u = -maxStep
	}
	if u == 0 {
		return
	}

	var headroom float64
	type participant struct {
		g    *GenState
		room float64
	}
	var parts []participant
	for _, g := range m.Gens {
		if !g.Params.AGCEnabled {
			continue
		}
		var room float64
		if u > 0 {
			room = g.Params.MaxMW - g.SetpointMW
		} else {
			room = g.SetpointMW - g.Params.MinMW
		}
		if room < 0 {
			room = 0
		}
		headroom += room
		parts = append(parts, participant{g: g, room: room})
	}
	if headroom <= 0 {
		return
	}
	for _, p := range parts {
		if p.room <= 0 {
			continue
		}
		share := u * (p.room / headroom)
		p.g.SetpointMW = p.g.Params.Clamp(p.g.SetpointMW + share)
	}
}

// SystemInertia computes H_sys independently of Step, for callers that want
// it before the first tick (e.g. cold-start diagnostics).
func SystemInertia(gens []topology.GeneratorParams) float64 {
	var weighted, total float64
	for _, g := range gens {
		weighted += g.InertiaH * g.RatedMW
		total += g.RatedMW
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}
