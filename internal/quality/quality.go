// Package quality implements the per-address data quality model: a
// degradation rule driven by missed polls, plus the
// OVERFLOW/UNDERRANGE marks physical-limit violations leave on a register.
//
// The quality codes mirror the intent of the IEC 60870-5-104
// QualityDescriptor flags in asdu/information.go (QDSGood, QDSOverflow,
// QDSInvalid, ...), generalized into a single per-address code usable by
// both Modbus and IEC104 register surfaces rather than the wire-specific
// bitmask.
package quality

import "time"

// Code is the quality state of one addressed measurement.
type Code int

const (
	Good Code = iota
	Suspect
	Bad
	Overflow
	Underrange
)

func (c Code) String() string {
	switch c {
	case Good:
		return "GOOD"
	case Suspect:
		return "SUSPECT"
	case Bad:
		return "BAD"
	case Overflow:
		return "OVERFLOW"
	case Underrange:
		return "UNDERRANGE"
	default:
		return "UNKNOWN"
	}
}

// Entry tracks the quality state of one address: its code, a missed-poll
// counter, and the last-update timestamp.
type Entry struct {
	Code        Code
	MissedPolls int
	LastUpdate  time.Time
}

// degradation thresholds: GOOD -> SUSPECT after 3 consecutive missed
// polls, SUSPECT -> BAD after 10.
const (
	SuspectThreshold = 3
	BadThreshold     = 10
)

// MarkUpdated resets the missed-poll counter and records a fresh GOOD
// reading, unless overridden immediately afterward by MarkOverflow/
// MarkUnderrange/MarkBad for the same tick.
func (e *Entry) MarkUpdated(at time.Time) {
	e.MissedPolls = 0
	e.Code = Good
	e.LastUpdate = at
}

// MarkMissedPoll increments the missed-poll counter and degrades the code
// per the GOOD->SUSPECT->BAD ladder.
func (e *Entry) MarkMissedPoll() {
	e.MissedPolls++
	switch {
	case e.MissedPolls >= BadThreshold:
		e.Code = Bad
	case e.MissedPolls >= SuspectThreshold:
		if e.Code == Good {
			e.Code = Suspect
		}
	}
}

// MarkOverflow flags a measurement whose magnitude exceeds its sensor
// range.
func (e *Entry) MarkOverflow(at time.Time) {
	e.Code = Overflow
	e.LastUpdate = at
}

// MarkUnderrange flags a measurement below its sensor range.
func (e *Entry) MarkUnderrange(at time.Time) {
	e.Code = Underrange
	e.LastUpdate = at
}

// MarkBad flags a numerical singularity (NaN/Inf) coerced to a safe
// default.
func (e *Entry) MarkBad(at time.Time) {
	e.Code = Bad
	e.LastUpdate = at
}

// Map is a per-address quality table, keyed by logical register address.
type Map struct {
	entries map[int]*Entry
}

// NewMap returns an empty quality map.
func NewMap() *Map {
	return &Map{entries: make(map[int]*Entry)}
}

// Get returns the entry for addr, creating a GOOD one if absent.
func (m *Map) Get(addr int) *Entry {
	e, ok := m.entries[addr]
	if !ok {
		e = &Entry{Code: Good}
		m.entries[addr] = e
	}
	return e
}

// Snapshot returns a copy of the current address->code mapping.
func (m *Map) Snapshot() map[int]Code {
	out := make(map[int]Code, len(m.entries))
	for addr, e := range m.entries {
		out[addr] = e.Code
	}
	return out
}
