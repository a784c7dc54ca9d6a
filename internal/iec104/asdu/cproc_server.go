package asdu

// This file adds the server-side monitoring-direction ASDU builders:
// go-iecp5 only ever builds control-direction command ASDUs for a client,
// so the spontaneous/periodic measurement encoders and the command
// decoders an RTU outstation needs live here, in the same append/decode
// idiom as the command builders.

func qualityOnlyBits(q QualityDescriptor) byte { return byte(q) &^ 0x03 }

func encodeSIQ(v SinglePoint, q QualityDescriptor) byte {
	return v.Value() | qualityOnlyBits(q)
}

func encodeDIQ(v DoublePoint, q QualityDescriptor) byte {
	return v.Value() | qualityOnlyBits(q)
}

// NewSinglePoint builds one M_SP_NA_1 ASDU carrying a sequence of
// single-point information objects, all sharing one cause of transmission.
func NewSinglePoint(ca CommonAddr, cot Cause, points []SinglePointInfo) *ASDU {
	a := New(Identifier{
		Type:       M_SP_NA_1,
		Vsq:        VariableStruct{IsSequence: false, Number: len(points)},
		Coa:        CauseOfTransmission{Cause: cot},
		CommonAddr: ca,
	})
	for _, p := range points {
		_ = a.appendInfoObjAddr(p.Ioa)
		a.appendByte(encodeSIQ(p.Value, p.Quality))
	}
	return a
}

// NewDoublePoint builds one M_DP_NA_1 ASDU.
func NewDoublePoint(ca CommonAddr, cot Cause, points []DoublePointInfo) *ASDU {
	a := New(Identifier{
		Type:       M_DP_NA_1,
		Vsq:        VariableStruct{IsSequence: false, Number: len(points)},
		Coa:        CauseOfTransmission{Cause: cot},
		CommonAddr: ca,
	})
	for _, p := range points {
		_ = a.appendInfoObjAddr(p.Ioa)
		a.appendByte(encodeDIQ(p.Value, p.Quality))
	}
	return a
}

// NewMeasuredFloat builds one M_ME_NC_1 ASDU (short floating point
// measured values), used for continuous quantities like MW/MVAr/Hz.
func NewMeasuredFloat(ca CommonAddr, cot Cause, points []MeasuredValueFloat) *ASDU {
	a := New(Identifier{
		Type:       M_ME_NC_1,
		Vsq:        VariableStruct{IsSequence: false, Number: len(points)},
		Coa:        CauseOfTransmission{Cause: cot},
		CommonAddr: ca,
	})
	for _, p := range points {
		_ = a.appendInfoObjAddr(p.Ioa)
		a.appendFloat32(p.Value)
		a.appendByte(qualityOnlyBits(p.Quality))
	}
	return a
}

// NewMeasuredScaled builds one M_ME_NB_1 ASDU.
func NewMeasuredScaled(ca CommonAddr, cot Cause, points []MeasuredValueScaled) *ASDU {
	a := New(Identifier{
		Type:       M_ME_NB_1,
		Vsq:        VariableStruct{IsSequence: false, Number: len(points)},
		Coa:        CauseOfTransmission{Cause: cot},
		CommonAddr: ca,
	})
	for _, p := range points {
		_ = a.appendInfoObjAddr(p.Ioa)
		a.appendInt16(int16(p.Value))
		a.appendByte(qualityOnlyBits(p.Quality))
	}
	return a
}

// NewMeasuredNormalized builds one M_ME_NA_1 ASDU.
func NewMeasuredNormalized(ca CommonAddr, cot Cause, points []MeasuredValueNormalized) *ASDU {
	a := New(Identifier{
		Type:       M_ME_NA_1,
		Vsq:        VariableStruct{IsSequence: false, Number: len(points)},
		Coa:        CauseOfTransmission{Cause: cot},
		CommonAddr: ca,
	})
	for _, p := range points {
		_ = a.appendInfoObjAddr(p.Ioa)
		a.appendInt16(int16(p.Value))
		a.appendByte(qualityOnlyBits(p.Quality))
	}
	return a
}

// DecodeSingleCommand decodes a received C_SC_NA_1 ASDU body.
func (a *ASDU) DecodeSingleCommand() (SingleCommandInfo, error) {
	ioa, err := a.decodeInfoObjAddr()
	if err != nil {
		return SingleCommandInfo{}, err
	}
	scoByte, err := a.decodeByte()
	if err != nil {
		return SingleCommandInfo{}, err
	}
	return SingleCommandInfo{Ioa: ioa, Value: scoByte&0x01 != 0, Qoc: scoByte &^ 0x81}, nil
}

// DecodeDoubleCommand decodes a received C_DC_NA_1 ASDU body.
func (a *ASDU) DecodeDoubleCommand() (DoubleCommandInfo, error) {
	ioa, err := a.decodeInfoObjAddr()
	if err != nil {
		return DoubleCommandInfo{}, err
	}
	dcoByte, err := a.decodeByte()
	if err != nil {
		return DoubleCommandInfo{}, err
	}
	return DoubleCommandInfo{Ioa: ioa, Value: DoublePoint(dcoByte & 0x03), Qoc: dcoByte &^ 0x83}, nil
}

// DecodeSetpointNormalized decodes a received C_SE_NA_1 ASDU body.
func (a *ASDU) DecodeSetpointNormalized() (SetpointCommandInfo, error) {
	ioa, err := a.decodeInfoObjAddr()
	if err != nil {
		return SetpointCommandInfo{}, err
	}
	raw, err := a.decodeInt16()
	if err != nil {
		return SetpointCommandInfo{}, err
	}
	qos, err := a.decodeByte()
	if err != nil {
		return SetpointCommandInfo{}, err
	}
	return SetpointCommandInfo{Ioa: ioa, Value: float64(raw) / 32768.0, Qos: qos}, nil
}

// DecodeSetpointFloat decodes a received C_SE_NC_1 ASDU body.
func (a *ASDU) DecodeSetpointFloat() (SetpointCommandInfo, error) {
	ioa, err := a.decodeInfoObjAddr()
	if err != nil {
		return SetpointCommandInfo{}, err
	}
	f, err := a.decodeFloat32()
	if err != nil {
		return SetpointCommandInfo{}, err
	}
	qos, err := a.decodeByte()
	if err != nil {
		return SetpointCommandInfo{}, err
	}
	return SetpointCommandInfo{Ioa: ioa, Value: float64(f), Qos: qos}, nil
}
