package cs104

import "github.com/scada-sim/gridcore/internal/iec104/asdu"

// MeasurementKind selects which ASDU type a Measurement is reported as.
type MeasurementKind int

const (
	KindFloat MeasurementKind = iota
	KindSinglePoint
	KindDoublePoint
)

// Measurement is one analog or binary point read from a node's register
// image, shaped for direct encoding into an M_ME_NC_1, M_SP_NA_1, or
// M_DP_NA_1 ASDU.
type Measurement struct {
	Ioa     asdu.InfoObjAddr
	Kind    MeasurementKind
	Float   float32
	SP      asdu.SinglePoint
	DP      asdu.DoublePoint
	Quality asdu.QualityDescriptor
}

// Station is the narrow handle an IEC 104 connection holds on its owning
// node: a read-only snapshot walk for general interrogation, a
// change-notification feed for spontaneous transmission, and command
// dispatch. internal/node's RTUNode implements this; cs104 never imports
// the node package, keeping the parent/child reference one-directional.
type Station interface {
	CommonAddr() asdu.CommonAddr
	Snapshot() []Measurement
	Changes() <-chan Measurement
	SingleCommand(asdu.SingleCommandInfo) error
	DoubleCommand(asdu.DoubleCommandInfo) error
	SetpointNormalized(asdu.SetpointCommandInfo) error
	SetpointFloat(asdu.SetpointCommandInfo) error
}
