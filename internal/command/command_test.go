package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTarget is a hand-rolled command.Target double; it records every call
// so tests can assert dispatch without a real node.BaseNode.
type fakeTarget struct {
	bools    []bool
	words    []uint16
	readErr  error
	writeErr error
	resetErr error

	lastWriteCoilAddr uint16
	lastWriteCoilVal  bool
	lastWriteRegAddr  uint16
	lastWriteRegVal   uint16
	openReason        string
	closeReason       string
	resetCalled       bool
}

func (f *fakeTarget) ReadCoils(addr, qty uint16) ([]bool, error)          { return f.bools, f.readErr }
func (f *fakeTarget) ReadDiscreteInputs(addr, qty uint16) ([]bool, error) { return f.bools, f.readErr }
func (f *fakeTarget) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	return f.words, f.readErr
}
func (f *fakeTarget) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	return f.words, f.readErr
}
func (f *fakeTarget) WriteSingleCoil(addr uint16, v bool) error {
	f.lastWriteCoilAddr, f.lastWriteCoilVal = addr, v
	return f.writeErr
}
func (f *fakeTarget) WriteSingleRegister(addr, v uint16) error {
	f.lastWriteRegAddr, f.lastWriteRegVal = addr, v
	return f.writeErr
}
func (f *fakeTarget) OpenBreaker(reason string)  { f.openReason = reason }
func (f *fakeTarget) CloseBreaker(reason string) { f.closeReason = reason }
func (f *fakeTarget) ResetProtection() error {
	f.resetCalled = true
	return f.resetErr
}

// fakeDegradableTarget additionally satisfies the degradable capability
// interface, unlike fakeTarget.
type fakeDegradableTarget struct {
	fakeTarget
	lastFactor float64
	degradeErr error
}

func (f *fakeDegradableTarget) SetDegradationFactor(factor float64) error {
	f.lastFactor = factor
	return f.degradeErr
}

func runQueue(t *testing.T, target Target) (*Queue, func()) {
	t.Helper()
	q := NewQueue("TEST-001", target, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()
	return q, func() {
		cancel()
		<-done
	}
}

func submitAndWait(t *testing.T, q *Queue, cmd NodeCommand) Result {
	t.Helper()
	reply := make(chan Result, 1)
	cmd.Reply = reply
	require.True(t, q.Submit(cmd), "queue should accept command with room in its backlog")
	select {
	case r := <-reply:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command result")
		return Result{}
	}
}

func TestQueueReadCoilsReturnsTargetBools(t *testing.T) {
	target := &fakeTarget{bools: []bool{true, false}}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: KindReadCoils, Addr: 1, Qty: 2})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []bool{true, false}, res.Bools)
}

func TestQueueReadDiscreteInputsPropagatesError(t *testing.T) {
	target := &fakeTarget{readErr: errors.New("bad address")}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: KindReadDiscreteInputs, Addr: 1, Qty: 1})
	assert.Equal(t, StatusOutOfRange, res.Status)
	assert.Contains(t, res.Message, "bad address")
}

func TestQueueReadInputRegistersReturnsTargetWords(t *testing.T) {
	target := &fakeTarget{words: []uint16{10, 20}}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: KindReadInputRegisters, Addr: 5, Qty: 2})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []uint16{10, 20}, res.Words)
}

func TestQueueReadHoldingRegistersReturnsTargetWords(t *testing.T) {
	target := &fakeTarget{words: []uint16{7}}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: KindReadHoldingRegisters, Addr: 3, Qty: 1})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []uint16{7}, res.Words)
}

func TestQueueWriteCoilCallsTargetWithAddrAndValue(t *testing.T) {
	target := &fakeTarget{}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: KindWriteCoil, Addr: 2, Bool: true})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, uint16(2), target.lastWriteCoilAddr)
	assert.True(t, target.lastWriteCoilVal)
}

func TestQueueWriteHoldingRegisterCallsTargetWithAddrAndValue(t *testing.T) {
	target := &fakeTarget{}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: KindWriteHoldingRegister, Addr: 9, Value: 42})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, uint16(9), target.lastWriteRegAddr)
	assert.Equal(t, uint16(42), target.lastWriteRegVal)
}

func TestQueueOpenBreakerUsesOperatorCommandReason(t *testing.T) {
	target := &fakeTarget{}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: KindOpenBreaker})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "OPERATOR_COMMAND", target.openReason)
}

func TestQueueCloseBreakerUsesOperatorCommandReason(t *testing.T) {
	target := &fakeTarget{}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: KindCloseBreaker})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "OPERATOR_COMMAND", target.closeReason)
}

func TestQueueResetProtectionCallsTargetAndPropagatesError(t *testing.T) {
	target := &fakeTarget{resetErr: errors.New("still tripped")}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: KindResetProtection})
	assert.True(t, target.resetCalled)
	assert.Equal(t, StatusOutOfRange, res.Status)
}

func TestQueueSetDegradationFactorOnNonDegradableTargetIsPermissionDenied(t *testing.T) {
	target := &fakeTarget{}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: KindSetDegradationFactor, Float: 1.1})
	assert.Equal(t, StatusPermissionDenied, res.Status)
}

func TestQueueSetDegradationFactorOnDegradableTargetSucceeds(t *testing.T) {
	target := &fakeDegradableTarget{}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: KindSetDegradationFactor, Float: 1.1})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1.1, target.lastFactor)
}

func TestQueueUnknownKindReturnsDeviceFault(t *testing.T) {
	target := &fakeTarget{}
	q, stop := runQueue(t, target)
	defer stop()

	res := submitAndWait(t, q, NodeCommand{Kind: Kind(999)})
	assert.Equal(t, StatusDeviceFault, res.Status)
}

func TestSubmitReturnsFalseWhenBacklogIsFull(t *testing.T) {
	target := &fakeTarget{}
	q := NewQueue("TEST-002", target, 1)
	// Nothing is draining q.in, so the first Submit fills the single slot
	// and the second must report busy.
	require.True(t, q.Submit(NodeCommand{Kind: KindOpenBreaker}))
	assert.False(t, q.Submit(NodeCommand{Kind: KindOpenBreaker}))
}

func TestRunReturnsWhenContextCancelled(t *testing.T) {
	target := &fakeTarget{}
	q := NewQueue("TEST-003", target, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestKindStringNamesEveryKind(t *testing.T) {
	cases := map[Kind]string{
		KindReadCoils:            "read_coils",
		KindReadDiscreteInputs:   "read_discrete_inputs",
		KindReadInputRegisters:   "read_input_registers",
		KindReadHoldingRegisters: "read_holding_registers",
		KindWriteCoil:            "write_coil",
		KindWriteHoldingRegister: "write_holding_register",
		KindOpenBreaker:          "open_breaker",
		KindCloseBreaker:         "close_breaker",
		KindResetProtection:      "reset_protection",
		KindSetDegradationFactor: "set_degradation_factor",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
	assert.Equal(t, "unknown", Kind(999).String())
}

func TestStatusStringNamesEveryStatus(t *testing.T) {
	cases := map[Status]string{
		StatusSuccess:          "success",
		StatusPermissionDenied: "permission_denied",
		StatusOutOfRange:       "out_of_range",
		StatusBusy:             "busy",
		StatusDeviceFault:      "device_fault",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
	assert.Equal(t, "unknown", Status(999).String())
}
