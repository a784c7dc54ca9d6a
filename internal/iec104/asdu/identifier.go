// Package asdu implements IEC 60870-5-104 Application Service Data Units:
// type identification, cause of transmission, addressing, and the
// information-object payload codecs. It is adapted from
// github.com/rob-gra/go-iecp5's asdu package (identifier.go,
// information.go, codec.go), trimmed to the type identifications an RTU
// outstation needs and extended with the server-side ASDU builders
// (cproc_server.go, csys_server.go) that go-iecp5, a client-side
// command-builder library, does not itself provide.
package asdu

import "fmt"

// TypeID is the ASDU type identification (companion standard 101, 7.2.1).
type TypeID uint8

// The subset of standard ASDU type identifications this simulator's RTU
// nodes and protocol servers support: 1, 3, 9, 11, 13 in the monitoring
// direction, 45, 46, 48, 50 in the control direction, and 100 for general
// interrogation.
const (
	M_SP_NA_1 TypeID = 1   // single-point information
	M_DP_NA_1 TypeID = 3   // double-point information
	M_ME_NA_1 TypeID = 9   // measured value, normalized
	M_ME_NB_1 TypeID = 11  // measured value, scaled
	M_ME_NC_1 TypeID = 13  // measured value, short floating point
	C_SC_NA_1 TypeID = 45  // single command
	C_DC_NA_1 TypeID = 46  // double command
	C_SE_NA_1 TypeID = 48  // set-point command, normalized value
	C_SE_NC_1 TypeID = 50  // set-point command, short floating point
	C_IC_NA_1 TypeID = 100 // general interrogation command
)

func (t TypeID) String() string {
	switch t {
	case M_SP_NA_1:
		return "M_SP_NA_1"
	case M_DP_NA_1:
		return "M_DP_NA_1"
	case M_ME_NA_1:
		return "M_ME_NA_1"
	case M_ME_NB_1:
		return "M_ME_NB_1"
	case M_ME_NC_1:
		return "M_ME_NC_1"
	case C_SC_NA_1:
		return "C_SC_NA_1"
	case C_DC_NA_1:
		return "C_DC_NA_1"
	case C_SE_NA_1:
		return "C_SE_NA_1"
	case C_SE_NC_1:
		return "C_SE_NC_1"
	case C_IC_NA_1:
		return "C_IC_NA_1"
	default:
		return fmt.Sprintf("TypeID(%d)", uint8(t))
	}
}

// InfoObjAddr is the information object address (companion standard 101,
// 7.2.5). This implementation always uses a 3-byte address, little-endian
// on the wire.
type InfoObjAddr uint32

// InfoObjAddrIrrelevant marks an address-irrelevant information object
// (used by system ASDUs like C_IC_NA_1).
const InfoObjAddrIrrelevant InfoObjAddr = 0

// Cause is the cause-of-transmission code, bits 5..0 of the COT octet.
type Cause byte

// Causes of transmission this simulator emits or accepts.
const (
	Periodic              Cause = 1
	Background            Cause = 2
	Spontaneous           Cause = 3
	Initialized           Cause = 4
	Request               Cause = 5
	Activation            Cause = 6
	ActivationCon         Cause = 7
	Deactivation          Cause = 8
	DeactivationCon       Cause = 9
	ActivationTerm        Cause = 10
	InterrogatedByStation Cause = 20
	UnknownTypeID         Cause = 44
	UnknownCOT            Cause = 45
	UnknownCA             Cause = 46
	UnknownIOA            Cause = 47
)

var causeNames = map[Cause]string{
	Periodic: "Periodic", Background: "Background", Spontaneous: "Spontaneous",
	Initialized: "Initialized", Request: "Request", Activation: "Activation",
	ActivationCon: "ActivationCon", Deactivation: "Deactivation",
	DeactivationCon: "DeactivationCon", ActivationTerm: "ActivationTerm",
	InterrogatedByStation: "InterrogatedByStation", UnknownTypeID: "UnknownTypeID",
	UnknownCOT: "UnknownCOT", UnknownCA: "UnknownCA", UnknownIOA: "UnknownIOA",
}

// CauseOfTransmission is the full COT octet: test flag, negative-confirm
// flag, and the 6-bit cause.
type CauseOfTransmission struct {
	IsTest     bool
	IsNegative bool
	Cause      Cause
}

// ParseCauseOfTransmission decodes one COT octet.
func ParseCauseOfTransmission(b byte) CauseOfTransmission {
	return CauseOfTransmission{
		IsTest:     b&0x80 != 0,
		IsNegative: b&0x40 != 0,
		Cause:      Cause(b & 0x3f),
	}
}

// Value encodes the COT back to its wire octet.
func (c CauseOfTransmission) Value() byte {
	v := byte(c.Cause)
	if c.IsNegative {
		v |= 0x40
	}
	if c.IsTest {
		v |= 0x80
	}
	return v
}

func (c CauseOfTransmission) String() string {
	name, ok := causeNames[c.Cause]
	if !ok {
		name = fmt.Sprintf("Cause(%d)", c.Cause)
	}
	s := "COT<" + name
	if c.IsNegative {
		s += ",neg"
	}
	if c.IsTest {
		s += ",test"
	}
	return s + ">"
}

// CommonAddr is the station address (companion standard 101, 7.2.4); this
// implementation always uses a 2-byte address, little-endian on the wire.
type CommonAddr uint16

const (
	InvalidCommonAddr CommonAddr = 0
	GlobalCommonAddr  CommonAddr = 65535
)

// VariableStruct is the VSQ octet: sequence flag plus object count.
type VariableStruct struct {
	IsSequence bool
	Number     int
}

func (v VariableStruct) Value() byte {
	b := byte(v.Number & 0x7f)
	if v.IsSequence {
		b |= 0x80
	}
	return b
}

func ParseVariableStruct(b byte) VariableStruct {
	return VariableStruct{IsSequence: b&0x80 != 0, Number: int(b & 0x7f)}
}

// Identifier is the full data-unit identifier: type, VSQ, COT, origin
// address (unused/zero here), and common address.
type Identifier struct {
	Type       TypeID
	Vsq        VariableStruct
	Coa        CauseOfTransmission
	OrgAddr    byte
	CommonAddr CommonAddr
}
