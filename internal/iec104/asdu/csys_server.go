package asdu

// NewInterrogationCmd builds a C_IC_NA_1 ASDU, used for both the
// client-initiated request and the server's matching confirmation and
// termination by varying the cause of transmission (ACTIVATION ->
// ACTIVATION_CONFIRMATION -> per-object INTERROGATION responses ->
// ACTIVATION_TERM).
func NewInterrogationCmd(ca CommonAddr, cot Cause, qoi QualifierOfInterrogation) *ASDU {
	a := New(Identifier{
		Type:       C_IC_NA_1,
		Vsq:        VariableStruct{IsSequence: false, Number: 1},
		Coa:        CauseOfTransmission{Cause: cot},
		CommonAddr: ca,
	})
	_ = a.appendInfoObjAddr(InfoObjAddrIrrelevant)
	a.appendByte(byte(qoi))
	return a
}

// DecodeInterrogationCmd decodes a received C_IC_NA_1 ASDU body, returning
// the requested qualifier of interrogation.
func (a *ASDU) DecodeInterrogationCmd() (QualifierOfInterrogation, error) {
	if _, err := a.decodeInfoObjAddr(); err != nil {
		return 0, err
	}
	b, err := a.decodeByte()
	if err != nil {
		return 0, err
	}
	return QualifierOfInterrogation(b), nil
}
