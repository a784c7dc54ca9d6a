// Package modbus implements the Modbus/TCP server side of an RTU node:
// wire-accurate MBAP framing, the per-connection IDLE/PROCESSING/
// RESPONDING state machine, function codes FC01/03/05/06/16, and
// realistic per-function processing delays. It follows the handler-
// interface and function-code naming style of the edgeo-scada-modbus-tcp
// and rolfl-modbus reference clients, adapted to a server that owns one
// RTU node's register image instead of dialing out to one.
package modbus

import "encoding/binary"

// MBAPHeaderSize is the fixed 7-byte Modbus Application Protocol header.
const MBAPHeaderSize = 7

// ProtocolID is always 0 for Modbus/TCP.
const ProtocolID = 0

// DefaultPort is the IANA registered Modbus/TCP port.
const DefaultPort = 502

// MBAPHeader is the transaction/protocol/length/unit envelope prefixed to
// every PDU.
type MBAPHeader struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // byte count of UnitID + PDU that follows
	UnitID        uint8
}

// Marshal encodes the header to its 7-byte wire form.
func (h MBAPHeader) Marshal() []byte {
	b := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(b[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(b[4:6], h.Length)
	b[6] = h.UnitID
	return b
}

// UnmarshalMBAPHeader decodes a 7-byte MBAP header.
func UnmarshalMBAPHeader(b []byte) MBAPHeader {
	return MBAPHeader{
		TransactionID: binary.BigEndian.Uint16(b[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(b[2:4]),
		Length:        binary.BigEndian.Uint16(b[4:6]),
		UnitID:        b[6],
	}
}
