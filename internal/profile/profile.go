// Package profile implements the time-of-day/seasonal load curve and the
// solar irradiance curve as pure, deterministic, restartable functions of
// simulated wall-clock time: the usual diurnal-curve-plus-noise shape,
// with no stateful iterator to rewind or resync.
package profile

import (
	"math"
	"time"
)

// LoadFactor returns the fractional multiplier (typically 0.4-1.0) applied
// to each distribution node's peak load for the hour-of-day and day-of-week
// implied by t. The curve is a smooth two-peak (morning/evening) diurnal
// shape with a weekend discount, plus small deterministic "cloud-noise"
// style ripple so successive ticks are not perfectly smooth.
func LoadFactor(t time.Time) float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	base := 0.55 +
		0.30*gaussianBump(hour, 8, 2.2) +
		0.35*gaussianBump(hour, 19, 2.6) +
		0.05*math.Sin(hour/24*2*math.Pi)
	if isWeekend(t) {
		base *= 0.85
	}
	base += 0.01 * math.Sin(float64(t.Unix()%(37*360))/37*2*math.Pi/360)
	return clamp01(base)
}

// SolarAvailability returns the fraction (0-1) of a solar resource's rated
// capacity available at t: zero outside daylight hours, a smooth bell
// centered near solar noon, with a deterministic "cloud" ripple so the
// curve is not perfectly clean.
func SolarAvailability(t time.Time) float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	if hour < 6 || hour > 19 {
		return 0
	}
	bell := gaussianBump(hour, 12.5, 2.8)
	cloud := 1 - 0.12*math.Abs(math.Sin(float64(t.Unix())/211))
	return clamp01(bell * cloud)
}

// TimeOfDay returns a coarse human label for dashboards/SOE descriptions.
func TimeOfDay(t time.Time) string {
	h := t.Hour()
	switch {
	case h < 6:
		return "night"
	case h < 12:
		return "morning"
	case h < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

// Season returns a coarse Northern-Hemisphere season label from the month.
func Season(t time.Time) string {
	switch t.Month() {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}

func isWeekend(t time.Time) bool {
	d := t.Weekday()
	return d == time.Saturday || d == time.Sunday
}

func gaussianBump(x, mu, sigma float64) float64 {
	d := (x - mu) / sigma
	return math.Exp(-0.5 * d * d)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
