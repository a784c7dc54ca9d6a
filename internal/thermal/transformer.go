// Package thermal implements the per-substation transformer thermal
// model: first-order IEC 60076-7 oil/hot-spot dynamics with alarm/trip
// hysteresis and rate-of-rise projections.
package thermal

import (
	"math"

	"github.com/scada-sim/gridcore/internal/topology"
)

const alarmHysteresisC = 5
const tripHysteresisC = 10

// Model tracks one transformer's oil and hot-spot temperatures.
type Model struct {
	Params topology.TransformerParams

	ThetaOil float64
	ThetaHS  float64

	AlarmLatched bool
	TripLatched  bool

	lastRateC float64
}

// New returns a model with both oil and hot-spot temperature initialized
// to ambient.
func New(p topology.TransformerParams) *Model {
	return &Model{Params: p, ThetaOil: p.AmbientC, ThetaHS: p.AmbientC}
}

// Step advances the thermal model by dt seconds given the present loading
// in MVA, with an optional degradation factor (>=1.0) simulating aging
// insulation.
func (m *Model) Step(dt, loadMVA, degradation float64) {
	if dt <= 0 {
		return
	}
	if degradation < 1.0 {
		degradation = 1.0
	}

	k := 0.0
	if m.Params.RatedMVA > 0 {
		k = loadMVA / m.Params.RatedMVA
	}
	k *= degradation

	thetaOilTarget := m.Params.AmbientC + oilRatedRise(m.Params)*math.Pow(k, m.Params.ExponentN)

	prevOil := m.ThetaOil
	m.ThetaOil += (thetaOilTarget - m.ThetaOil) / m.Params.TauOilSec * dt
	if m.ThetaOil < m.Params.AmbientC {
		m.ThetaOil = m.Params.AmbientC
	}
	m.lastRateC = (m.ThetaOil - prevOil) / dt

	m.ThetaHS = m.ThetaOil + m.Params.HotSpotH*m.Params.DeltaThetaR*math.Pow(k, 2*m.Params.ExponentM)
	if m.ThetaHS < m.ThetaOil {
		m.ThetaHS = m.ThetaOil // ambient <= oil <= hot-spot always holds
	}

	switch {
	case m.ThetaHS > m.Params.AlarmC:
		m.AlarmLatched = true
	case m.ThetaHS < m.Params.AlarmC-alarmHysteresisC:
		m.AlarmLatched = false
	}
	switch {
	case m.ThetaHS > m.Params.TripC:
		m.TripLatched = true
	case m.ThetaHS < m.Params.TripC-tripHysteresisC:
		m.TripLatched = false
	}
}

// oilRatedRise is the top-oil rise over ambient at rated load, from the
// configured rated top-oil temperature; the target θ_oil at K=1 is then
// exactly OilRatedC. A missing or inconsistent OilRatedC falls back to a
// 40 °C rise, a typical ONAN top-oil figure.
func oilRatedRise(p topology.TransformerParams) float64 {
	rise := p.OilRatedC - p.AmbientC
	if rise <= 0 {
		rise = 40
	}
	return rise
}

// RateOfRiseCPerS returns the most recent oil-temperature rate of rise.
func (m *Model) RateOfRiseCPerS() float64 { return m.lastRateC }

// TimeToAlarmS projects seconds until theta_hs crosses AlarmC at the current
// rate of rise; returns -1 if not currently rising toward the alarm.
func (m *Model) TimeToAlarmS() float64 { return timeTo(m.ThetaHS, m.Params.AlarmC, m.lastRateC) }

// TimeToTripS projects seconds until theta_hs crosses TripC at the current
// rate of rise; returns -1 if not currently rising toward the trip.
func (m *Model) TimeToTripS() float64 { return timeTo(m.ThetaHS, m.Params.TripC, m.lastRateC) }

func timeTo(current, threshold, rate float64) float64 {
	if rate <= 0 || current >= threshold {
		return -1
	}
	return (threshold - current) / rate
}
