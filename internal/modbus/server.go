package modbus

import (
	"context"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scada-sim/gridcore/internal/clog"
)

// ConnState is the per-connection processing state: IDLE admits a
// request, PROCESSING covers the function-specific delay, RESPONDING
// covers the write-back, then back to IDLE.
type ConnState int

const (
	StateIdle ConnState = iota
	StateProcessing
	StateResponding
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	default:
		return "unknown"
	}
}

// processingDelay returns a uniformly random function-specific delay,
// matching the response latencies real RTU hardware shows on the wire.
func processingDelay(fc FunctionCode) time.Duration {
	var lo, hi time.Duration
	switch fc {
	case FuncReadCoils:
		lo, hi = 8*time.Millisecond, 15*time.Millisecond
	case FuncReadHoldingRegisters:
		lo, hi = 12*time.Millisecond, 25*time.Millisecond
	case FuncWriteSingleCoil:
		lo, hi = 15*time.Millisecond, 30*time.Millisecond
	case FuncWriteSingleRegister:
		lo, hi = 15*time.Millisecond, 30*time.Millisecond
	case FuncWriteMultipleRegisters:
		lo, hi = 20*time.Millisecond, 40*time.Millisecond
	default:
		lo, hi = 10*time.Millisecond, 20*time.Millisecond
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo+1)))
}

// Server is one node's Modbus/TCP listener.
type Server struct {
	addr   string
	unitID uint8
	h      Handler
	log    clog.Clog

	// OnRequest, if set, is called once per request actually dispatched to
	// the handler (not for busy-rejected requests), after the processing
	// delay and before the response is written. Used by the orchestrator to
	// drive per-node request metrics without this package depending on
	// prometheus itself.
	OnRequest func(FunctionCode)
}

// NewServer returns a server bound to addr, accepting only requests
// addressed to unitID.
func NewServer(addr string, unitID uint8, h Handler) *Server {
	return &Server{addr: addr, unitID: unitID, h: h, log: clog.NewLogger("modbus")}
}

// Run accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					return err
				}
			}
			s.log.Debug("modbus: accepted peer %s", conn.RemoteAddr())
			g.Go(func() error {
				s.serveConn(ctx, conn)
				return nil
			})
		}
	})
	return g.Wait()
}

// connection tracks one peer's single-in-flight-request state: at most
// one request is in processing at a time, and anything arriving during
// that window gets the busy exception (0x06).
type connection struct {
	mu      sync.Mutex
	state   ConnState
	writeMu sync.Mutex
}

func (c *connection) tryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return false
	}
	c.state = StateProcessing
	return true
}

func (c *connection) setResponding() {
	c.mu.Lock()
	c.state = StateResponding
	c.mu.Unlock()
}

func (c *connection) release() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	c := &connection{}

	for {
		head := make([]byte, MBAPHeaderSize)
		if _, err := io.ReadFull(conn, head); err != nil {
			return
		}
		hdr := UnmarshalMBAPHeader(head)
		if hdr.ProtocolID != ProtocolID {
			s.log.Warn("modbus: bad protocol id %d from %s, disconnecting", hdr.ProtocolID, conn.RemoteAddr())
			return
		}
		if hdr.Length < 2 {
			s.log.Warn("modbus: bad frame length %d from %s, disconnecting", hdr.Length, conn.RemoteAddr())
			return
		}
		pdu := make([]byte, hdr.Length-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}
		if err := validateUnitID(hdr.UnitID, s.unitID); err != nil {
			s.log.Warn("modbus: %v, disconnecting %s", err, conn.RemoteAddr())
			return
		}

		if !c.tryAcquire() {
			resp := EncodeExceptionResponse(FunctionCode(pdu[0]), ExcServerBusy)
			if err := s.writeResponse(c, conn, hdr.TransactionID, hdr.UnitID, resp); err != nil {
				return
			}
			continue
		}

		go s.process(ctx, conn, c, hdr, pdu)
	}
}

func (s *Server) process(ctx context.Context, conn net.Conn, c *connection, hdr MBAPHeader, pdu []byte) {
	defer c.release()

	fc := FunctionCode(0)
	if len(pdu) > 0 {
		fc = FunctionCode(pdu[0])
	}

	select {
	case <-time.After(processingDelay(fc)):
	case <-ctx.Done():
		return
	}
	c.setResponding()
	if s.OnRequest != nil {
		s.OnRequest(fc)
	}

	resp, err := HandlePDU(s.h, pdu)
	if err != nil {
		if e, ok := err.(Exception); ok {
			resp = EncodeExceptionResponse(fc, e.Code)
		} else {
			resp = EncodeExceptionResponse(fc, ExcServerDeviceFail)
		}
	}
	if err := s.writeResponse(c, conn, hdr.TransactionID, hdr.UnitID, resp); err != nil {
		s.log.Warn("modbus: write to %s failed: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) writeResponse(c *connection, conn net.Conn, txnID uint16, unitID uint8, pdu []byte) error {
	hdr := MBAPHeader{
		TransactionID: txnID,
		ProtocolID:    ProtocolID,
		Length:        uint16(len(pdu) + 1),
		UnitID:        unitID,
	}
	out := append(hdr.Marshal(), pdu...)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := conn.Write(out)
	return err
}
