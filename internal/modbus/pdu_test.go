package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandler is a minimal in-memory Handler for exercising HandlePDU
// without pulling in internal/register or internal/node.
type fakeHandler struct {
	coils    map[uint16]bool
	holding  map[uint16]uint16
	writeErr error
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{coils: make(map[uint16]bool), holding: make(map[uint16]uint16)}
}

func (f *fakeHandler) ReadCoils(addr, qty uint16) ([]bool, error) {
	out := make([]bool, qty)
	for i := range out {
		out[i] = f.coils[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeHandler) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	out := make([]uint16, qty)
	for i := range out {
		out[i] = f.holding[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeHandler) WriteSingleCoil(addr uint16, v bool) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.coils[addr] = v
	return nil
}

func (f *fakeHandler) WriteSingleRegister(addr, v uint16) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.holding[addr] = v
	return nil
}

func (f *fakeHandler) WriteMultipleRegisters(addr uint16, values []uint16) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	for i, v := range values {
		f.holding[addr+uint16(i)] = v
	}
	return nil
}

func TestHandlePDUReadCoilsPacksBitsLSBFirst(t *testing.T) {
	h := newFakeHandler()
	h.coils[0] = true
	h.coils[2] = true

	resp, err := HandlePDU(h, []byte{byte(FuncReadCoils), 0x00, 0x00, 0x00, 0x03})
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(FuncReadCoils), 1, 0x05}, resp) // bits 0 and 2 set = 0b101
}

func TestHandlePDUWriteSingleCoilEchoesRequest(t *testing.T) {
	h := newFakeHandler()
	resp, err := HandlePDU(h, []byte{byte(FuncWriteSingleCoil), 0x00, 0x05, 0xFF, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(FuncWriteSingleCoil), 0x00, 0x05, 0xFF, 0x00}, resp)
	assert.True(t, h.coils[5])
}

func TestHandlePDUWriteSingleCoilRejectsNonStandardValue(t *testing.T) {
	h := newFakeHandler()
	_, err := HandlePDU(h, []byte{byte(FuncWriteSingleCoil), 0x00, 0x05, 0x12, 0x34})
	var exception Exception
	require.ErrorAs(t, err, &exception)
	assert.Equal(t, ExcIllegalDataValue, exception.Code)
}

func TestHandlePDUWriteSingleRegisterRoundTrips(t *testing.T) {
	h := newFakeHandler()
	resp, err := HandlePDU(h, []byte{byte(FuncWriteSingleRegister), 0x00, 0x0A, 0x01, 0x2C})
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(FuncWriteSingleRegister), 0x00, 0x0A, 0x01, 0x2C}, resp)
	assert.Equal(t, uint16(0x012C), h.holding[10])
}

func TestHandlePDUWriteMultipleRegisters(t *testing.T) {
	h := newFakeHandler()
	body := []byte{byte(FuncWriteMultipleRegisters), 0x00, 0x00, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x02}
	resp, err := HandlePDU(h, body)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(FuncWriteMultipleRegisters), 0x00, 0x00, 0x00, 0x02}, resp)
	assert.Equal(t, uint16(1), h.holding[0])
	assert.Equal(t, uint16(2), h.holding[1])
}

func TestHandlePDURejectsUnknownFunctionCode(t *testing.T) {
	h := newFakeHandler()
	_, err := HandlePDU(h, []byte{0x99})
	var exception Exception
	require.ErrorAs(t, err, &exception)
	assert.Equal(t, ExcIllegalFunction, exception.Code)
}

func TestHandlePDURejectsEmptyPDU(t *testing.T) {
	h := newFakeHandler()
	_, err := HandlePDU(h, nil)
	var exception Exception
	require.ErrorAs(t, err, &exception)
	assert.Equal(t, ExcIllegalFunction, exception.Code)
}

func TestHandlePDURejectsZeroOrOversizedCoilQuantity(t *testing.T) {
	h := newFakeHandler()
	_, err := HandlePDU(h, []byte{byte(FuncReadCoils), 0x00, 0x00, 0x00, 0x00})
	var exception Exception
	require.ErrorAs(t, err, &exception)
	assert.Equal(t, ExcIllegalDataValue, exception.Code)
}

func TestHandlePDUMapsHandlerErrorToIllegalDataAddress(t *testing.T) {
	h := newFakeHandler()
	h.writeErr = assertError{}
	_, err := HandlePDU(h, []byte{byte(FuncWriteSingleCoil), 0x00, 0x00, 0xFF, 0x00})
	var exception Exception
	require.ErrorAs(t, err, &exception)
	assert.Equal(t, ExcIllegalDataAddress, exception.Code)
}

func TestHandlePDUPreservesHandlerReturnedException(t *testing.T) {
	h := newFakeHandler()
	h.writeErr = Exception{Code: ExcServerDeviceFail}
	_, err := HandlePDU(h, []byte{byte(FuncWriteSingleCoil), 0x00, 0x00, 0xFF, 0x00})
	var exception Exception
	require.ErrorAs(t, err, &exception)
	assert.Equal(t, ExcServerDeviceFail, exception.Code)
}

func TestEncodeExceptionResponseSetsHighBit(t *testing.T) {
	resp := EncodeExceptionResponse(FuncReadCoils, ExcIllegalDataAddress)
	assert.Equal(t, []byte{byte(FuncReadCoils) | 0x80, byte(ExcIllegalDataAddress)}, resp)
}

func TestFunctionCodeStringNamesKnownCodes(t *testing.T) {
	assert.Equal(t, "read_coils", FuncReadCoils.String())
	assert.Equal(t, "write_multiple_registers", FuncWriteMultipleRegisters.String())
	assert.Contains(t, FunctionCode(0x44).String(), "unknown")
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
