package smpp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pires/go-proxyproto"
	"golang.org/x/sync/errgroup"
)

// Server represents an SMPP server: it accepts connections and hands their
// commands to a SessionManager.
type Server struct {
	config  ServerConfig
	manager *SessionManager
	logger  Logger
	metrics MetricsCollector
	connIDs atomic.Uint32

	// Server state
	mu       sync.Mutex
	running  bool
	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
	conns    map[uint32]*Conn
	connWG   sync.WaitGroup
}

// NewServer creates a server reporting to handler
func NewServer(config ServerConfig, handler ServerHandler, logger Logger, metrics MetricsCollector) *Server {
	logger = orNopLogger(logger)
	metrics = orNopMetrics(metrics)
	if config.UnbindLinger <= 0 {
		config.UnbindLinger = 500 * time.Millisecond
	}
	return &Server{
		config:  config,
		manager: NewSessionManager(handler, config, logger, metrics),
		logger:  logger.WithFields(map[string]interface{}{"component": "server"}),
		metrics: metrics,
		conns:   make(map[uint32]*Conn),
	}
}

// Start listens on the configured address and serves until Stop is called or
// ctx ends.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.config.ProxyProtocol {
		listener = &proxyproto.Listener{Listener: listener}
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	s.listener = listener
	s.cancel = cancel
	s.group = group
	s.running = true

	group.Go(func() error {
		<-groupCtx.Done()
		return listener.Close()
	})
	group.Go(func() error {
		return s.acceptConnections(groupCtx, listener)
	})
	group.Go(func() error {
		return s.manager.Run(groupCtx)
	})

	s.logger.Info("SMPP server started", "address", listener.Addr().String(), "proxy_protocol", s.config.ProxyProtocol)
	return nil
}

// Stop closes the listener and every connection, then waits for the server's
// goroutines until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.cancel()
	group := s.group
	s.mu.Unlock()

	s.manager.KickAll()
	for _, conn := range s.connections() {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		s.connWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Server shutdown timed out")
		return ctx.Err()
	}

	s.logger.Info("SMPP server stopped")
	return nil
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SendMessage delivers text to the session owning the destination address
func (s *Server) SendMessage(ctx context.Context, from, to, text string) DeliveryResult {
	return s.manager.SendMessage(ctx, from, to, text)
}

// SetDeliveryEncoding sets the data_coding of outbound messages
func (s *Server) SetDeliveryEncoding(dataCoding byte) {
	s.manager.SetDeliveryEncoding(dataCoding)
}

// Sessions returns the bound sessions
func (s *Server) Sessions() []SessionInfo {
	return s.manager.Sessions()
}

func (s *Server) acceptConnections(ctx context.Context, listener net.Listener) error {
	for {
		netConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("Failed to accept connection", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		s.serve(netConn)
	}
}

func (s *Server) serve(netConn net.Conn) {
	id := s.connIDs.Add(1)
	conn := NewConn(id, netConn, ConnOptions{
		ResponseTimeout:  s.config.ResponseTimeout,
		WriteTimeout:     s.config.WriteTimeout,
		WindowSize:       s.config.WindowSize,
		Logger:           s.logger,
		Metrics:          s.metrics,
		OnCommand:        s.handleCommand,
		OnConnectionLost: s.handleConnectionLost,
	})

	s.mu.Lock()
	s.conns[id] = conn
	count := len(s.conns)
	running := s.running
	s.mu.Unlock()
	s.metrics.SetGauge(MetricConnections, float64(count), nil)
	s.logger.Debug("New connection accepted", "conn_id", id, "remote_addr", conn.RemoteAddr())

	s.connWG.Add(1)
	conn.Start()
	if !running {
		conn.Close()
	}
	go func() {
		defer s.connWG.Done()
		<-conn.Done()

		s.mu.Lock()
		delete(s.conns, id)
		count := len(s.conns)
		s.mu.Unlock()
		s.metrics.SetGauge(MetricConnections, float64(count), nil)
		s.logger.Debug("Connection closed", "conn_id", id)
	}()
}

func (s *Server) handleCommand(conn *Conn, cmd Command) {
	if s.manager.HandleCommand(conn, cmd) {
		return
	}
	// Give the unbind_resp time to reach the peer.
	time.AfterFunc(s.config.UnbindLinger, func() { conn.Close() })
}

func (s *Server) handleConnectionLost(conn *Conn, err error) {
	s.manager.HandleConnectionLost(conn)
}

func (s *Server) connections() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}
