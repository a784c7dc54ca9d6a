package asdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalHeaderRoundTrip(t *testing.T) {
	a := New(Identifier{
		Type:       M_ME_NC_1,
		Vsq:        VariableStruct{IsSequence: false, Number: 1},
		Coa:        CauseOfTransmission{Cause: Spontaneous},
		OrgAddr:    7,
		CommonAddr: CommonAddr(42),
	})
	require.NoError(t, a.appendInfoObjAddr(InfoObjAddr(1001)))
	a.appendFloat32(49.98)
	a.appendByte(byte(QDSGood))

	raw := a.Marshal()

	got, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, M_ME_NC_1, got.Type)
	assert.Equal(t, VariableStruct{IsSequence: false, Number: 1}, got.Vsq)
	assert.Equal(t, Spontaneous, got.Coa.Cause)
	assert.Equal(t, byte(7), got.OrgAddr)
	assert.Equal(t, CommonAddr(42), got.CommonAddr)

	ioa, err := got.decodeInfoObjAddr()
	require.NoError(t, err)
	assert.Equal(t, InfoObjAddr(1001), ioa)

	f, err := got.decodeFloat32()
	require.NoError(t, err)
	assert.InDelta(t, 49.98, f, 1e-4)

	q, err := got.decodeByte()
	require.NoError(t, err)
	assert.Equal(t, byte(QDSGood), q)
}

func TestUnmarshalRejectsFrameShorterThanSixBytes(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestUnmarshalAcceptsExactlySixByteHeaderWithNoInfoObjects(t *testing.T) {
	a := New(Identifier{Type: C_IC_NA_1, Coa: CauseOfTransmission{Cause: Activation}, CommonAddr: 1})
	raw := a.Marshal()
	require.Len(t, raw, 6)

	got, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Empty(t, got.infoObj)
}

func TestAppendInfoObjAddrIsLittleEndianThreeBytes(t *testing.T) {
	a := New(Identifier{})
	require.NoError(t, a.appendInfoObjAddr(InfoObjAddr(0x030201)))
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, a.infoObj)
}

func TestAppendInfoObjAddrRejectsValuesThatDoNotFitInThreeBytes(t *testing.T) {
	a := New(Identifier{})
	err := a.appendInfoObjAddr(InfoObjAddr(0x01000000))
	assert.ErrorIs(t, err, ErrInfoObjAddrFit)
}

func TestDecodeInfoObjAddrConsumesFromFrontAndErrorsWhenShort(t *testing.T) {
	a := New(Identifier{})
	a.infoObj = []byte{0x01, 0x02}
	_, err := a.decodeInfoObjAddr()
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecodeFloat32ErrorsWhenShort(t *testing.T) {
	a := New(Identifier{})
	a.infoObj = []byte{0x01, 0x02, 0x03}
	_, err := a.decodeFloat32()
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestAppendAndDecodeInt16RoundTripsNegativeValues(t *testing.T) {
	a := New(Identifier{})
	a.appendInt16(-1234)
	v, err := a.decodeInt16()
	require.NoError(t, err)
	assert.Equal(t, int16(-1234), v)
}

func TestDecodeInt16ErrorsWhenShort(t *testing.T) {
	a := New(Identifier{})
	a.infoObj = []byte{0x01}
	_, err := a.decodeInt16()
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecodeByteErrorsWhenEmpty(t *testing.T) {
	a := New(Identifier{})
	_, err := a.decodeByte()
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestBytesReturnsAccumulatedInfoObjBuffer(t *testing.T) {
	a := New(Identifier{})
	a.appendByte(0xAA)
	a.appendInt16(1)
	assert.Equal(t, []byte{0xAA, 0x01, 0x00}, a.Bytes())
}
