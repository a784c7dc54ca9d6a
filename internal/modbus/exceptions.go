package modbus

import "fmt"

// ExceptionCode is a Modbus exception returned in place of a normal
// response (function code with the high bit set, followed by one of
// these bytes).
type ExceptionCode uint8

const (
	ExcIllegalFunction    ExceptionCode = 0x01
	ExcIllegalDataAddress ExceptionCode = 0x02
	ExcIllegalDataValue   ExceptionCode = 0x03
	ExcServerDeviceFail   ExceptionCode = 0x04
	ExcAcknowledge        ExceptionCode = 0x05
	ExcServerBusy         ExceptionCode = 0x06
)

// Exception is an error that carries the Modbus exception code to return
// to the peer; unlike a framing error it never closes the connection.
type Exception struct {
	Code ExceptionCode
}

func (e Exception) Error() string {
	switch e.Code {
	case ExcIllegalFunction:
		return "illegal function"
	case ExcIllegalDataAddress:
		return "illegal data address"
	case ExcIllegalDataValue:
		return "illegal data value"
	case ExcServerDeviceFail:
		return "server device failure"
	case ExcAcknowledge:
		return "acknowledge"
	case ExcServerBusy:
		return "server busy"
	default:
		return fmt.Sprintf("exception 0x%02x", uint8(e.Code))
	}
}

func exc(code ExceptionCode) error { return Exception{Code: code} }
