package cs104

import (
	"context"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/scada-sim/gridcore/internal/clog"
)

// Server is one node's IEC 60870-5-104 listener: one station, one TCP
// port, one goroutine per accepted peer.
type Server struct {
	addr    string
	cfg     Config
	station Station
	log     clog.Clog

	// OnActivation, if set, is installed on every accepted connection (see
	// Connection.OnActivation).
	OnActivation func(phase string)
}

// NewServer returns a server that will listen on addr once Run is called.
func NewServer(addr string, cfg Config, station Station) (*Server, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	return &Server{
		addr:    addr,
		cfg:     cfg,
		station: station,
		log:     clog.NewLogger("iec104"),
	}, nil
}

// Run accepts connections until ctx is cancelled, serving each on its own
// goroutine within a supervised group so a panic or fatal accept error
// tears down every live connection.
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
			s.log.Debug("iec104: accepted peer %s", conn.RemoteAddr())
			c := NewConnection(conn, s.cfg, s.station, s.log)
			c.OnActivation = s.OnActivation
			g.Go(func() error {
				if err := c.Serve(ctx); err != nil {
					s.log.Warn("iec104: connection %s closed: %v", conn.RemoteAddr(), err)
				}
				return nil
			})
		}
	})
	return g.Wait()
}
