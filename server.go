package player

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// Server is a Player process: a Device Table, a set of TCP frontends, and
// the drivers registered into it. It has no persisted state — restarting a
// Server starts from an empty table (spec.md §6 "Persisted state: None").
type Server struct {
	cfg    *Config
	table  *DeviceTable
	logger Logger
	metrics Metrics

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[*Connection]struct{}
	stopped   bool
}

// NewServer constructs a Server from Options. It does not bind any socket
// until Start is called.
func NewServer(opts ...Option) *Server {
	cfg := applyConfig(opts)
	return &Server{
		cfg:     cfg,
		table:   NewDeviceTable(),
		logger:  cfg.logger,
		metrics: cfg.metrics,
		conns:   make(map[*Connection]struct{}),
	}
}

// Table returns the Server's Device Table, for driver registration and the
// Remote Driver Bridge's factory hook.
func (s *Server) Table() *DeviceTable { return s.table }

// RegisterRobotName makes name resolvable to port through the nameservice
// control request, per spec.md §6's supplemented nameservice lookup.
func (s *Server) RegisterRobotName(port uint16, name string) {
	s.table.SetRobotName(port, name)
}

// RegisterDriver registers driver at addr with the given access mode,
// advertised name and threading model, wrapping it for metrics
// observation. maxInbound bounds the driver's inbound queue.
func (s *Server) RegisterDriver(addr Address, driver Driver, access AccessMode, name string, model ThreadModel, maxInbound int) (*Entry, error) {
	wrapped := WrapDriver(driver, s.metrics)
	return s.table.Register(addr, wrapped, access, name, model, maxInbound, s.logger)
}

// Start binds every configured listen address and begins accepting
// connections. It returns once all listeners are bound; acceptance runs on
// background goroutines until Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrServerClosed
	}
	for _, addr := range s.cfg.listenAddrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("player: listen %s: %w", addr, err)
		}
		tcpAddr, ok := ln.Addr().(*net.TCPAddr)
		if ok {
			s.table.MarkLocalRobot(uint16(tcpAddr.Port))
		}
		s.listeners = append(s.listeners, ln)
		s.logger.Info("listening", "addr", ln.Addr())
		go s.acceptLoop(ln)
	}
	s.mu.Unlock()
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-s.cfg.ctx.Done():
				return
			default:
			}
			if s.isStopped() {
				return
			}
			s.logger.Warn("accept error", "err", err)
			continue
		}
		s.metrics.IncrementConnectionsAccepted()
		conn := newConnection(s, c)
		s.trackConn(conn)
		go func() {
			defer s.untrackConn(conn)
			conn.serve(s.cfg.ctx)
		}()
	}
}

func (s *Server) trackConn(c *Connection) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackConn(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop closes every listener and connection, and cancels the Server's
// context so in-flight goroutines observe it. Stop is idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.cfg.cancel()
	listeners := s.listeners
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	return nil
}

// Context returns the Server's lifecycle context, cancelled by Stop.
func (s *Server) Context() context.Context { return s.cfg.ctx }

// ListenAddrs returns the addresses Start actually bound, useful when a
// listen address like ":0" lets the OS pick a port.
func (s *Server) ListenAddrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, len(s.listeners))
	for i, ln := range s.listeners {
		addrs[i] = ln.Addr()
	}
	return addrs
}
