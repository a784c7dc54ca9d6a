package register

import (
	"errors"
	"time"

	"github.com/scada-sim/gridcore/internal/quality"
)

// ErrIllegalAddress is returned when an address falls outside the
// declared range for its register array; address end-1 of a range is
// readable, end is not.
var ErrIllegalAddress = errors.New("register: illegal data address")

// ErrIllegalValue is returned for a structurally invalid write value.
var ErrIllegalValue = errors.New("register: illegal data value")

// space is one contiguous, address-bounded array of a single register kind.
type space[T any] struct {
	base   int
	values []T
}

func newSpace[T any](base, count int) space[T] {
	return space[T]{base: base, values: make([]T, count)}
}

func (s space[T]) bounds() (start, end int) { return s.base, s.base + len(s.values) }

func (s space[T]) index(addr int) (int, error) {
	if addr < s.base || addr >= s.base+len(s.values) {
		var zero T
		_ = zero
		return 0, ErrIllegalAddress
	}
	return addr - s.base, nil
}

// Image is the address-indexed register image of one RTU node: coils
// (read/write binary), discrete inputs (read-only binary), input
// registers (read-only 16-bit) and holding registers (read/write 16-bit),
// plus the paired quality map for every analog address.
type Image struct {
	Coils            space[bool]
	DiscreteInputs   space[bool]
	InputRegisters   space[uint16]
	HoldingRegisters space[uint16]
	Quality          *quality.Map
}

// Bounds describes the declared [base, base+count) ranges for each of
// the four register arrays of a node type.
type Bounds struct {
	CoilBase, CoilCount             int
	DiscreteBase, DiscreteCount     int
	InputRegBase, InputRegCount     int
	HoldingRegBase, HoldingRegCount int
}

// NewImage allocates a register image sized per the given bounds.
func NewImage(b Bounds) *Image {
	return &Image{
		Coils:            newSpace[bool](b.CoilBase, b.CoilCount),
		DiscreteInputs:   newSpace[bool](b.DiscreteBase, b.DiscreteCount),
		InputRegisters:   newSpace[uint16](b.InputRegBase, b.InputRegCount),
		HoldingRegisters: newSpace[uint16](b.HoldingRegBase, b.HoldingRegCount),
		Quality:          quality.NewMap(),
	}
}

// ReadCoils returns n coil values starting at addr.
func (im *Image) ReadCoils(addr, n int) ([]bool, error) {
	return readSlice(im.Coils, addr, n)
}

// ReadDiscreteInputs returns n discrete-input values starting at addr.
func (im *Image) ReadDiscreteInputs(addr, n int) ([]bool, error) {
	return readSlice(im.DiscreteInputs, addr, n)
}

// ReadInputRegisters returns n input-register values starting at addr.
func (im *Image) ReadInputRegisters(addr, n int) ([]uint16, error) {
	return readSlice(im.InputRegisters, addr, n)
}

// ReadHoldingRegisters returns n holding-register values starting at addr.
func (im *Image) ReadHoldingRegisters(addr, n int) ([]uint16, error) {
	return readSlice(im.HoldingRegisters, addr, n)
}

func readSlice[T any](s space[T], addr, n int) ([]T, error) {
	if n <= 0 {
		return nil, ErrIllegalValue
	}
	if _, err := s.index(addr); err != nil {
		return nil, err
	}
	if _, err := s.index(addr + n - 1); err != nil {
		return nil, err
	}
	out := make([]T, n)
	copy(out, s.values[addr-s.base:addr-s.base+n])
	return out, nil
}

// WriteCoil sets a single coil and returns the previous value.
func (im *Image) WriteCoil(addr int, v bool) (prev bool, err error) {
	i, err := im.Coils.index(addr)
	if err != nil {
		return false, err
	}
	prev = im.Coils.values[i]
	im.Coils.values[i] = v
	return prev, nil
}

// WriteHoldingRegister sets a single holding register and returns the
// previous value.
func (im *Image) WriteHoldingRegister(addr int, v uint16) (prev uint16, err error) {
	i, err := im.HoldingRegisters.index(addr)
	if err != nil {
		return 0, err
	}
	prev = im.HoldingRegisters.values[i]
	im.HoldingRegisters.values[i] = v
	return prev, nil
}

// WriteHoldingRegisters sets a contiguous block of holding registers.
func (im *Image) WriteHoldingRegisters(addr int, values []uint16) error {
	if len(values) == 0 {
		return ErrIllegalValue
	}
	if _, err := im.HoldingRegisters.index(addr); err != nil {
		return err
	}
	if _, err := im.HoldingRegisters.index(addr + len(values) - 1); err != nil {
		return err
	}
	copy(im.HoldingRegisters.values[addr-im.HoldingRegisters.base:], values)
	return nil
}

// SetDiscreteInput writes a read-only discrete input from internal logic
// (the simulation engine, not a protocol write).
func (im *Image) SetDiscreteInput(addr int, v bool) error {
	i, err := im.DiscreteInputs.index(addr)
	if err != nil {
		return err
	}
	im.DiscreteInputs.values[i] = v
	return nil
}

// SetInputRegister writes a read-only input register from internal logic.
func (im *Image) SetInputRegister(addr int, v uint16) error {
	i, err := im.InputRegisters.index(addr)
	if err != nil {
		return err
	}
	im.InputRegisters.values[i] = v
	return nil
}

// SetInputRegisterScaled writes an input register and marks its paired
// quality-register address (addr+100) and quality-map entry together.
func (im *Image) SetInputRegisterScaled(addr int, v uint16, q quality.Code, at time.Time) {
	_ = im.SetInputRegister(addr, v)
	entry := im.Quality.Get(addr)
	switch q {
	case quality.Overflow:
		entry.MarkOverflow(at)
	case quality.Underrange:
		entry.MarkUnderrange(at)
	case quality.Bad:
		entry.MarkBad(at)
	default:
		entry.MarkUpdated(at)
	}
	// paired quality register mirrors the quality code as its numeric value
	// so a Modbus/IEC104 read of addr+100 reflects the same degradation.
	pairAddr := addr + 100
	if _, err := im.InputRegisters.index(pairAddr); err == nil {
		_ = im.SetInputRegister(pairAddr, uint16(entry.Code))
	}
}

// CoilBounds, DiscreteBounds, InputRegBounds, HoldingRegBounds expose the
// declared [start, end) address ranges for protocol-layer bounds checks
// that must report the correct exception independent of this package.
func (im *Image) CoilBounds() (int, int)       { return im.Coils.bounds() }
func (im *Image) DiscreteBounds() (int, int)   { return im.DiscreteInputs.bounds() }
func (im *Image) InputRegBounds() (int, int)   { return im.InputRegisters.bounds() }
func (im *Image) HoldingRegBounds() (int, int) { return im.HoldingRegisters.bounds() }
