package asdu

import (
	"encoding/binary"
	"errors"
	"math"
)

// Errors returned by malformed ASDU frames; the owning connection logs
// and drops the frame and keeps serving, so the error never propagates
// past it.
var (
	ErrShortFrame     = errors.New("asdu: frame too short")
	ErrInfoObjAddrFit = errors.New("asdu: information object address does not fit")
)

// InfoObjAddrSize is the fixed width (bytes) of an information object
// address on the wire; addresses are little-endian and this simulator
// always uses the 3-byte form.
const InfoObjAddrSize = 3

// CommonAddrSize is the fixed width (bytes) of a common address on the
// wire; this simulator always uses the 2-byte form.
const CommonAddrSize = 2

// ASDU is a decoded or in-progress-encoding application service data unit:
// the identifier plus a raw information-object byte buffer, appended to or
// consumed from the front.
type ASDU struct {
	Identifier
	infoObj []byte
}

// New starts a fresh outbound ASDU with the given identifier.
func New(id Identifier) *ASDU {
	return &ASDU{Identifier: id}
}

// Bytes returns the accumulated information-object payload appended so far.
func (a *ASDU) Bytes() []byte { return a.infoObj }

func (a *ASDU) appendInfoObjAddr(ioa InfoObjAddr) error {
	if ioa > 0xFFFFFF {
		return ErrInfoObjAddrFit
	}
	a.infoObj = append(a.infoObj, byte(ioa), byte(ioa>>8), byte(ioa>>16))
	return nil
}

func (a *ASDU) decodeInfoObjAddr() (InfoObjAddr, error) {
	if len(a.infoObj) < InfoObjAddrSize {
		return 0, ErrShortFrame
	}
	ioa := InfoObjAddr(a.infoObj[0]) | InfoObjAddr(a.infoObj[1])<<8 | InfoObjAddr(a.infoObj[2])<<16
	a.infoObj = a.infoObj[3:]
	return ioa, nil
}

func (a *ASDU) appendByte(b byte) { a.infoObj = append(a.infoObj, b) }

func (a *ASDU) decodeByte() (byte, error) {
	if len(a.infoObj) < 1 {
		return 0, ErrShortFrame
	}
	b := a.infoObj[0]
	a.infoObj = a.infoObj[1:]
	return b, nil
}

func (a *ASDU) appendFloat32(f float32) {
	bits := math.Float32bits(f)
	a.infoObj = append(a.infoObj, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}

func (a *ASDU) decodeFloat32() (float32, error) {
	if len(a.infoObj) < 4 {
		return 0, ErrShortFrame
	}
	f := math.Float32frombits(binary.LittleEndian.Uint32(a.infoObj))
	a.infoObj = a.infoObj[4:]
	return f, nil
}

func (a *ASDU) appendInt16(v int16) {
	a.infoObj = append(a.infoObj, byte(v), byte(v>>8))
}

func (a *ASDU) decodeInt16() (int16, error) {
	if len(a.infoObj) < 2 {
		return 0, ErrShortFrame
	}
	v := int16(binary.LittleEndian.Uint16(a.infoObj))
	a.infoObj = a.infoObj[2:]
	return v, nil
}

// Marshal encodes the full ASDU (identifier + information objects) onto
// the wire: TypeID(1) | VSQ(1) | COT(1..2) | CommonAddr(2) | objects.
func (a *ASDU) Marshal() []byte {
	out := make([]byte, 0, 6+len(a.infoObj))
	out = append(out, byte(a.Type))
	out = append(out, a.Vsq.Value())
	out = append(out, a.Coa.Value())
	out = append(out, a.OrgAddr)
	out = append(out, byte(a.CommonAddr), byte(a.CommonAddr>>8))
	out = append(out, a.infoObj...)
	return out
}

// Unmarshal decodes an ASDU header from raw bytes, leaving the information
// object payload in infoObj for type-specific decoders to consume.
func Unmarshal(raw []byte) (*ASDU, error) {
	if len(raw) < 6 {
		return nil, ErrShortFrame
	}
	a := &ASDU{
		Identifier: Identifier{
			Type:       TypeID(raw[0]),
			Vsq:        ParseVariableStruct(raw[1]),
			Coa:        ParseCauseOfTransmission(raw[2]),
			OrgAddr:    raw[3],
			CommonAddr: CommonAddr(raw[4]) | CommonAddr(raw[5])<<8,
		},
	}
	a.infoObj = append([]byte(nil), raw[6:]...)
	return a, nil
}
