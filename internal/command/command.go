// Package command implements the external command-injection channel:
// callers submit (node tag, operation) pairs covering register
// reads/writes, breaker control, setpoint changes, protection reset, and
// the degradation factor, and the orchestrator routes each to the target
// node. Every command for a given node is serialized through that node's
// own queue so a command can never race a simulation-tick mutation.
package command

import (
	"context"
	"fmt"

	"github.com/scada-sim/gridcore/internal/clog"
)

// Kind discriminates the operations a command can carry.
type Kind int

const (
	KindReadCoils Kind = iota
	KindReadDiscreteInputs
	KindReadInputRegisters
	KindReadHoldingRegisters
	KindWriteCoil
	KindWriteHoldingRegister
	KindOpenBreaker
	KindCloseBreaker
	KindResetProtection
	KindSetDegradationFactor
)

func (k Kind) String() string {
	switch k {
	case KindReadCoils:
		return "read_coils"
	case KindReadDiscreteInputs:
		return "read_discrete_inputs"
	case KindReadInputRegisters:
		return "read_input_registers"
	case KindReadHoldingRegisters:
		return "read_holding_registers"
	case KindWriteCoil:
		return "write_coil"
	case KindWriteHoldingRegister:
		return "write_holding_register"
	case KindOpenBreaker:
		return "open_breaker"
	case KindCloseBreaker:
		return "close_breaker"
	case KindResetProtection:
		return "reset_protection"
	case KindSetDegradationFactor:
		return "set_degradation_factor"
	default:
		return "unknown"
	}
}

// Status is the structured outcome of an operator command.
type Status int

const (
	StatusSuccess Status = iota
	StatusPermissionDenied
	StatusOutOfRange
	StatusBusy
	StatusDeviceFault
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPermissionDenied:
		return "permission_denied"
	case StatusOutOfRange:
		return "out_of_range"
	case StatusBusy:
		return "busy"
	case StatusDeviceFault:
		return "device_fault"
	default:
		return "unknown"
	}
}

// NodeCommand is one unit of work submitted against a single node.
type NodeCommand struct {
	NodeTag string
	Kind    Kind

	Addr  uint16
	Qty   uint16
	Value uint16
	Bool  bool
	Float float64

	Reply chan Result
}

// Result carries a command's outcome back to the caller.
type Result struct {
	Status  Status
	Message string
	Bools   []bool
	Words   []uint16
}

// Target is the narrow surface a command dispatcher needs from a node; the
// three internal/node specializations all satisfy it through their
// embedded *node.BaseNode.
type Target interface {
	ReadCoils(addr, qty uint16) ([]bool, error)
	ReadDiscreteInputs(addr, qty uint16) ([]bool, error)
	ReadInputRegisters(addr, qty uint16) ([]uint16, error)
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error)
	WriteSingleCoil(addr uint16, v bool) error
	WriteSingleRegister(addr, v uint16) error
	OpenBreaker(reason string)
	CloseBreaker(reason string)
	ResetProtection() error
}

// degradable is an optional capability only substation nodes implement;
// checked with a type assertion rather than widening Target for every
// node type.
type degradable interface {
	SetDegradationFactor(factor float64) error
}

// Queue serializes every command submitted for one node through a single
// goroutine reading a buffered channel.
type Queue struct {
	target Target
	in     chan NodeCommand
	log    clog.Clog
}

// NewQueue returns a queue bound to target, not yet running.
func NewQueue(nodeTag string, target Target, backlog int) *Queue {
	return &Queue{
		target: target,
		in:     make(chan NodeCommand, backlog),
		log:    clog.NewLogger("command." + nodeTag),
	}
}

// Run drains the queue until ctx is cancelled or the channel is closed.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-q.in:
			if !ok {
				return nil
			}
			res := q.execute(cmd)
			if cmd.Reply != nil {
				select {
				case cmd.Reply <- res:
				default:
					q.log.Warn("command: reply channel full for %s, dropping result", cmd.NodeTag)
				}
			}
		}
	}
}

// Submit enqueues cmd without blocking; returns false if the queue is
// full, which callers surface as the busy outcome.
func (q *Queue) Submit(cmd NodeCommand) bool {
	select {
	case q.in <- cmd:
		return true
	default:
		return false
	}
}

func (q *Queue) execute(cmd NodeCommand) Result {
	switch cmd.Kind {
	case KindReadCoils:
		bs, err := q.target.ReadCoils(cmd.Addr, cmd.Qty)
		return boolResult(bs, err)
	case KindReadDiscreteInputs:
		bs, err := q.target.ReadDiscreteInputs(cmd.Addr, cmd.Qty)
		return boolResult(bs, err)
	case KindReadInputRegisters:
		ws, err := q.target.ReadInputRegisters(cmd.Addr, cmd.Qty)
		return wordResult(ws, err)
	case KindReadHoldingRegisters:
		ws, err := q.target.ReadHoldingRegisters(cmd.Addr, cmd.Qty)
		return wordResult(ws, err)
	case KindWriteCoil:
		err := q.target.WriteSingleCoil(cmd.Addr, cmd.Bool)
		return errResult(err)
	case KindWriteHoldingRegister:
		err := q.target.WriteSingleRegister(cmd.Addr, cmd.Value)
		return errResult(err)
	case KindOpenBreaker:
		q.target.OpenBreaker("OPERATOR_COMMAND")
		return Result{Status: StatusSuccess}
	case KindCloseBreaker:
		q.target.CloseBreaker("OPERATOR_COMMAND")
		return Result{Status: StatusSuccess}
	case KindResetProtection:
		return errResult(q.target.ResetProtection())
	case KindSetDegradationFactor:
		d, ok := q.target.(degradable)
		if !ok {
			return Result{Status: StatusPermissionDenied, Message: "node does not support degradation factor"}
		}
		return errResult(d.SetDegradationFactor(cmd.Float))
	default:
		return Result{Status: StatusDeviceFault, Message: fmt.Sprintf("unknown command kind %v", cmd.Kind)}
	}
}

func boolResult(bs []bool, err error) Result {
	if err != nil {
		return Result{Status: StatusOutOfRange, Message: err.Error()}
	}
	return Result{Status: StatusSuccess, Bools: bs}
}

func wordResult(ws []uint16, err error) Result {
	if err != nil {
		return Result{Status: StatusOutOfRange, Message: err.Error()}
	}
	return Result{Status: StatusSuccess, Words: ws}
}

func errResult(err error) Result {
	if err != nil {
		return Result{Status: StatusOutOfRange, Message: err.Error()}
	}
	return Result{Status: StatusSuccess}
}
