package modbus

import (
	"encoding/binary"
	"fmt"
)

// FunctionCode identifies the PDU's operation.
type FunctionCode uint8

const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// String renders the function code the way it appears in Modbus protocol
// documentation, for logging and metric labels.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "read_coils"
	case FuncReadHoldingRegisters:
		return "read_holding_registers"
	case FuncWriteSingleCoil:
		return "write_single_coil"
	case FuncWriteSingleRegister:
		return "write_single_register"
	case FuncWriteMultipleRegisters:
		return "write_multiple_registers"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(fc))
	}
}

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// Handler is the subset of register-image operations the server dispatches
// to; internal/register.Image implements it. All writes route through
// here so downstream side effects (breaker toggle, setpoint change) fire
// the same way a direct node method call would.
type Handler interface {
	ReadCoils(addr, qty uint16) ([]bool, error)
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error)
	WriteSingleCoil(addr uint16, value bool) error
	WriteSingleRegister(addr, value uint16) error
	WriteMultipleRegisters(addr uint16, values []uint16) error
}

// HandlePDU dispatches one decoded PDU to h and returns the response PDU
// bytes (not including the MBAP header). A returned Exception is encoded
// by the caller as the 0x80-flagged exception response.
func HandlePDU(h Handler, pdu []byte) ([]byte, error) {
	if len(pdu) < 1 {
		return nil, exc(ExcIllegalFunction)
	}
	fc := FunctionCode(pdu[0])
	body := pdu[1:]
	switch fc {
	case FuncReadCoils:
		return handleReadCoils(h, body)
	case FuncReadHoldingRegisters:
		return handleReadHoldingRegisters(h, body)
	case FuncWriteSingleCoil:
		return handleWriteSingleCoil(h, body)
	case FuncWriteSingleRegister:
		return handleWriteSingleRegister(h, body)
	case FuncWriteMultipleRegisters:
		return handleWriteMultipleRegisters(h, body)
	default:
		return nil, exc(ExcIllegalFunction)
	}
}

func handleReadCoils(h Handler, body []byte) ([]byte, error) {
	if len(body) != 4 {
		return nil, exc(ExcIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	qty := binary.BigEndian.Uint16(body[2:4])
	if qty == 0 || qty > 2000 {
		return nil, exc(ExcIllegalDataValue)
	}
	coils, err := h.ReadCoils(addr, qty)
	if err != nil {
		return nil, mapErr(err)
	}
	byteCount := (len(coils) + 7) / 8
	out := make([]byte, 2+byteCount)
	out[0] = byte(FuncReadCoils)
	out[1] = byte(byteCount)
	for i, v := range coils {
		if v {
			out[2+i/8] |= 1 << uint(i%8)
		}
	}
	return out, nil
}

func handleReadHoldingRegisters(h Handler, body []byte) ([]byte, error) {
	if len(body) != 4 {
		return nil, exc(ExcIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	qty := binary.BigEndian.Uint16(body[2:4])
	if qty == 0 || qty > 125 {
		return nil, exc(ExcIllegalDataValue)
	}
	regs, err := h.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]byte, 2+2*len(regs))
	out[0] = byte(FuncReadHoldingRegisters)
	out[1] = byte(2 * len(regs))
	for i, v := range regs {
		binary.BigEndian.PutUint16(out[2+2*i:], v)
	}
	return out, nil
}

func handleWriteSingleCoil(h Handler, body []byte) ([]byte, error) {
	if len(body) != 4 {
		return nil, exc(ExcIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	raw := binary.BigEndian.Uint16(body[2:4])
	if raw != coilOn && raw != coilOff {
		return nil, exc(ExcIllegalDataValue)
	}
	if err := h.WriteSingleCoil(addr, raw == coilOn); err != nil {
		return nil, mapErr(err)
	}
	out := make([]byte, 5)
	out[0] = byte(FuncWriteSingleCoil)
	copy(out[1:], body)
	return out, nil
}

func handleWriteSingleRegister(h Handler, body []byte) ([]byte, error) {
	if len(body) != 4 {
		return nil, exc(ExcIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	value := binary.BigEndian.Uint16(body[2:4])
	if err := h.WriteSingleRegister(addr, value); err != nil {
		return nil, mapErr(err)
	}
	out := make([]byte, 5)
	out[0] = byte(FuncWriteSingleRegister)
	copy(out[1:], body)
	return out, nil
}

func handleWriteMultipleRegisters(h Handler, body []byte) ([]byte, error) {
	if len(body) < 5 {
		return nil, exc(ExcIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	qty := binary.BigEndian.Uint16(body[2:4])
	byteCount := body[4]
	if int(byteCount) != 2*int(qty) || len(body) != 5+int(byteCount) {
		return nil, exc(ExcIllegalDataValue)
	}
	if qty == 0 || qty > 123 {
		return nil, exc(ExcIllegalDataValue)
	}
	values := make([]uint16, qty)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(body[5+2*i:])
	}
	if err := h.WriteMultipleRegisters(addr, values); err != nil {
		return nil, mapErr(err)
	}
	out := make([]byte, 5)
	out[0] = byte(FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(out[1:3], addr)
	binary.BigEndian.PutUint16(out[3:5], qty)
	return out, nil
}

// mapErr coerces a register-layer error into a Modbus Exception, defaulting
// to illegal-data-address since that's the only register-layer failure
// mode internal/register.Image produces.
func mapErr(err error) error {
	if _, ok := err.(Exception); ok {
		return err
	}
	return exc(ExcIllegalDataAddress)
}

// EncodeExceptionResponse builds the exception PDU: function | 0x80,
// followed by the exception byte.
func EncodeExceptionResponse(fc FunctionCode, code ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(code)}
}

func validateUnitID(got, want uint8) error {
	if got != want {
		return fmt.Errorf("modbus: unit id mismatch: got %d want %d", got, want)
	}
	return nil
}
