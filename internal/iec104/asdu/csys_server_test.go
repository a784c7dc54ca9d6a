package asdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInterrogationCmdRoundTripsThroughDecode(t *testing.T) {
	a := NewInterrogationCmd(3, Activation, QOIStation)
	assert.Equal(t, C_IC_NA_1, a.Type)
	assert.Equal(t, Activation, a.Coa.Cause)

	got, err := Unmarshal(a.Marshal())
	require.NoError(t, err)
	qoi, err := got.DecodeInterrogationCmd()
	require.NoError(t, err)
	assert.Equal(t, QOIStation, qoi)
}

func TestDecodeInterrogationCmdErrorsOnShortBody(t *testing.T) {
	a := New(Identifier{})
	_, err := a.DecodeInterrogationCmd()
	assert.ErrorIs(t, err, ErrShortFrame)
}
