// Package register implements the address-indexed register image shared
// by all three RTU node specializations and the universal fixed-point
// scaling applied to every analog value on the wire.
package register

import "math"

// EncodeKV10 encodes a kV value at 0.1 kV resolution (round(V*10)),
// clamping to the signed 16-bit range.
func EncodeKV10(v float64) uint16 { return encodeRound(v * 10) }

// DecodeKV10 reverses EncodeKV10.
func DecodeKV10(raw uint16) float64 { return float64(int16(raw)) / 10 }

// EncodeCurrentA encodes an amperage as round(I).
func EncodeCurrentA(i float64) uint16 { return encodeRound(i) }

// DecodeCurrentA reverses EncodeCurrentA.
func DecodeCurrentA(raw uint16) float64 { return float64(int16(raw)) }

// EncodePower10 encodes active/reactive power at 0.1 MW/MVAr resolution
// (round(P*10)).
func EncodePower10(p float64) uint16 { return encodeRound(p * 10) }

// DecodePower10 reverses EncodePower10.
func DecodePower10(raw uint16) float64 { return float64(int16(raw)) / 10 }

// EncodeFrequency1000 encodes Hz at 1 mHz resolution (round(f*1000)).
// Unlike the other analogs it is unsigned, clamping to [0, 65535].
func EncodeFrequency1000(f float64) uint16 {
	r := math.Round(f * 1000)
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	if r > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(r)
}

// DecodeFrequency1000 reverses EncodeFrequency1000.
func DecodeFrequency1000(raw uint16) float64 { return float64(raw) / 1000 }

// EncodeTemperature10 encodes degC at 0.1 degC resolution.
func EncodeTemperature10(t float64) uint16 { return encodeRound(t * 10) }

// DecodeTemperature10 reverses EncodeTemperature10.
func DecodeTemperature10(raw uint16) float64 { return float64(int16(raw)) / 10 }

// EncodePF1000 encodes a power factor at 0.001 resolution.
func EncodePF1000(pf float64) uint16 { return encodeRound(pf * 1000) }

// DecodePF1000 reverses EncodePF1000.
func DecodePF1000(raw uint16) float64 { return float64(int16(raw)) / 1000 }

// TapOffset is the bias applied to signed tap positions so they fit an
// unsigned 16-bit register.
const TapOffset = 100

// EncodeTap encodes a signed tap position with the +100 offset.
func EncodeTap(pos int) uint16 { return uint16(pos + TapOffset) }

// DecodeTap reverses EncodeTap.
func DecodeTap(raw uint16) int { return int(raw) - TapOffset }

// encodeRound rounds to the nearest integer and clamps into int16 range
// before reinterpreting as the wire uint16 (two's complement).
func encodeRound(v float64) uint16 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	r := math.Round(v)
	if r > math.MaxInt16 {
		r = math.MaxInt16
	}
	if r < math.MinInt16 {
		r = math.MinInt16
	}
	return uint16(int16(r))
}
