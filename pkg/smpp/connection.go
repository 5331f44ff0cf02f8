package smpp

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/smpp34/internal/flowcontrol"
)

// Engine defaults
const (
	DefaultResponseTimeout   = 40 * time.Second
	DefaultKeepAliveInterval = 50 * time.Second

	// MaxSequenceNumber is the largest sequence number SMPP allows
	MaxSequenceNumber uint32 = 0x7FFFFFFF

	sequenceSeedRange = 16384
)

// CommandHandler handles one inbound request. Handlers for the same connection
// run one at a time on that connection's dispatch goroutine.
type CommandHandler func(conn *Conn, cmd Command)

// ConnOptions configures a connection
type ConnOptions struct {
	ResponseTimeout time.Duration
	WriteTimeout    time.Duration
	ConnectTimeout  time.Duration
	MaxPDUSize      uint32
	WindowSize      int // outstanding request cap, 0 is unbounded
	Logger          Logger
	Metrics         MetricsCollector

	// OnCommand receives every decoded inbound request. Without a handler
	// requests are answered with generic_nack.
	OnCommand CommandHandler

	// OnConnectionLost fires once when the connection fails without Close
	// having been called.
	OnConnectionLost func(conn *Conn, err error)
}

type pendingRequest struct {
	cmd    Command
	result chan error
}

// Conn owns one SMPP byte stream: it frames PDUs, correlates responses with
// outstanding requests and dispatches inbound requests.
type Conn struct {
	id      uint32
	netConn net.Conn
	opts    ConnOptions
	logger  Logger
	metrics MetricsCollector
	encoder *PDUEncoder
	window  *flowcontrol.Window

	mu      sync.Mutex
	pending map[uint32]*pendingRequest
	closing bool
	broken  bool

	seqMu sync.Mutex
	seq   uint32

	writeMu sync.Mutex

	startOnce sync.Once
	inbound   *commandQueue
	done      chan struct{}
}

var clientConnIDs atomic.Uint32

// NewConn wraps an established stream. Call Start to begin reading.
func NewConn(id uint32, netConn net.Conn, opts ConnOptions) *Conn {
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.MaxPDUSize == 0 {
		opts.MaxPDUSize = MaxInboundPDU
	}

	return &Conn{
		id:      id,
		netConn: netConn,
		opts:    opts,
		logger:  orNopLogger(opts.Logger).WithFields(map[string]interface{}{"conn_id": id}),
		metrics: orNopMetrics(opts.Metrics),
		encoder: NewPDUEncoder(),
		window:  flowcontrol.NewWindow(opts.WindowSize),
		pending: make(map[uint32]*pendingRequest),
		seq:     rand.Uint32N(sequenceSeedRange) + 1,
		inbound: newCommandQueue(),
		done:    make(chan struct{}),
	}
}

// Dial resolves host and connects to the first address that accepts, then
// starts the connection.
func Dial(ctx context.Context, host string, port int, opts ConnOptions) (*Conn, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve %s: %v", ErrNetwork, host, err)
	}

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	lastErr := fmt.Errorf("no addresses for %s", host)
	for _, addr := range addrs {
		netConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
		if err != nil {
			lastErr = err
			continue
		}
		conn := NewConn(clientConnIDs.Add(1)+1000, netConn, opts)
		conn.Start()
		return conn, nil
	}
	return nil, fmt.Errorf("%w: failed to connect to %s:%d: %v", ErrNetwork, host, port, lastErr)
}

// ID returns the connection id
func (c *Conn) ID() uint32 {
	return c.id
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	if addr := c.netConn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Start launches the read loop and the dispatch loop
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		dispatched := make(chan struct{})
		go c.dispatchLoop(dispatched)
		go c.readLoop(dispatched)
	})
}

// Done is closed once the connection has stopped and every handler has returned
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether the connection is closing or has failed
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing || c.broken
}

// NextSequenceNumber returns a fresh sequence number. The counter starts at a
// random value and is reseeded before it reaches MaxSequenceNumber.
func (c *Conn) NextSequenceNumber() uint32 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	if c.seq >= MaxSequenceNumber-1 {
		c.seq = rand.Uint32N(sequenceSeedRange)
	}
	c.seq++
	return c.seq
}

// SendRequest writes the request side of cmd and waits for its response,
// which is unpacked into cmd. It returns ErrTimeout when no response arrives
// within the response timeout and ErrNetwork when the connection fails.
func (c *Conn) SendRequest(ctx context.Context, cmd Command) error {
	data, err := c.encoder.EncodeRequest(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", CommandName(cmd.CommandID()), err)
	}

	if err := c.window.Acquire(ctx); err != nil {
		return err
	}
	defer c.window.Release()

	seq := cmd.SequenceNum()
	p := &pendingRequest{cmd: cmd, result: make(chan error, 1)}

	c.mu.Lock()
	if c.closing || c.broken {
		c.mu.Unlock()
		return ErrNetwork
	}
	if _, exists := c.pending[seq]; exists {
		c.mu.Unlock()
		return fmt.Errorf("sequence number %d already in flight", seq)
	}
	c.pending[seq] = p
	c.mu.Unlock()

	start := time.Now()
	result := c.await(ctx, seq, p, data)

	outcome := "ok"
	switch {
	case errors.Is(result, ErrTimeout):
		outcome = "timeout"
	case result != nil:
		outcome = "error"
	}
	c.metrics.RecordDuration(MetricRequestDuration, time.Since(start), map[string]string{
		"command": CommandName(cmd.CommandID()),
		"result":  outcome,
	})

	if result != nil {
		c.logger.Debug("Request failed",
			"command", CommandName(cmd.CommandID()),
			"sequence", seq,
			"error", result)
	}
	return result
}

func (c *Conn) await(ctx context.Context, seq uint32, p *pendingRequest, data []byte) error {
	if err := c.write(data); err != nil {
		if c.claim(seq, p) {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		return <-p.result
	}
	c.metrics.IncCounter(MetricPDUsSent, map[string]string{"command": CommandName(p.cmd.CommandID())})

	timer := time.NewTimer(c.opts.ResponseTimeout)
	defer timer.Stop()

	var expired error
	select {
	case err := <-p.result:
		return err
	case <-timer.C:
		expired = ErrTimeout
	case <-ctx.Done():
		expired = ctx.Err()
	}

	if c.claim(seq, p) {
		return expired
	}
	// The read loop took the entry first and is unpacking into cmd.
	return <-p.result
}

// claim removes p from the pending table if it is still there
func (c *Conn) claim(seq uint32, p *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[seq] != p {
		return false
	}
	delete(c.pending, seq)
	return true
}

// SendResponse writes the response side of cmd
func (c *Conn) SendResponse(cmd Command) error {
	data, err := c.encoder.EncodeResponse(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", CommandName(cmd.ResponseID()), err)
	}
	if err := c.write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	c.metrics.IncCounter(MetricPDUsSent, map[string]string{"command": CommandName(cmd.ResponseID())})
	return nil
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.WriteTimeout > 0 {
		if err := c.netConn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if _, err := c.netConn.Write(data); err != nil {
		// Let the read loop observe the failure and run the shutdown path.
		_ = c.netConn.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// Close shuts the stream down. Pending requests fail with ErrNetwork and the
// connection-lost callback is not invoked. Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	err := c.netConn.Close()
	c.failPending(ErrNetwork)
	c.logger.Debug("Connection closed")
	return err
}

func (c *Conn) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		p.result <- err
	}
}

func (c *Conn) readLoop(dispatched <-chan struct{}) {
	var readErr error
	for {
		pdu, err := ReadPDU(c.netConn, c.opts.MaxPDUSize)
		if err != nil {
			readErr = err
			break
		}
		c.handlePDU(pdu)
	}

	c.mu.Lock()
	c.broken = true
	expected := c.closing
	c.mu.Unlock()

	_ = c.netConn.Close()
	c.failPending(ErrNetwork)
	c.inbound.close()
	<-dispatched

	if !expected {
		c.logger.Warn("Connection lost", "error", readErr)
		if c.opts.OnConnectionLost != nil {
			c.opts.OnConnectionLost(c, readErr)
		}
	}
	close(c.done)
}

func (c *Conn) dispatchLoop(dispatched chan<- struct{}) {
	defer close(dispatched)
	for {
		cmd, ok := c.inbound.pop()
		if !ok {
			return
		}
		if c.opts.OnCommand == nil {
			c.sendNack(cmd.SequenceNum(), StatusInvCmdID)
			continue
		}
		c.opts.OnCommand(c, cmd)
	}
}

func (c *Conn) handlePDU(pdu []byte) {
	h, err := ParseHeader(pdu)
	if err != nil {
		return
	}
	c.metrics.IncCounter(MetricPDUsReceived, map[string]string{"command": CommandName(h.CommandID)})

	if IsResponse(h.CommandID) {
		c.handleResponse(h, pdu)
		return
	}
	c.handleRequest(h, pdu)
}

func (c *Conn) handleResponse(h PDUHeader, pdu []byte) {
	c.mu.Lock()
	p, ok := c.pending[h.SequenceNum]
	if ok {
		delete(c.pending, h.SequenceNum)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("Discarding response without pending request",
			"command", CommandName(h.CommandID),
			"sequence", h.SequenceNum)
		return
	}

	if h.CommandID == CommandGenericNack {
		status := h.CommandStatus
		if status == StatusOK {
			status = StatusInvCmdID
		}
		p.cmd.SetStatus(status)
		p.result <- nil
		return
	}

	if h.CommandID == CommandSubmitSMResp {
		pdu = FixLegacySubmitSMResp(pdu)
	}
	if err := UnpackResponse(p.cmd, pdu); err != nil {
		c.logger.Warn("Failed to decode response", "sequence", h.SequenceNum, "error", err)
		p.result <- fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		return
	}
	p.result <- nil
}

// inboundCommands lists the requests a peer may send us
var inboundCommands = map[uint32]bool{
	CommandBindReceiver:    true,
	CommandBindTransmitter: true,
	CommandBindTransceiver: true,
	CommandUnbind:          true,
	CommandEnquireLink:     true,
	CommandSubmitSM:        true,
	CommandDeliverSM:       true,
}

func (c *Conn) handleRequest(h PDUHeader, pdu []byte) {
	if !inboundCommands[h.CommandID] {
		c.logger.Debug("Unsupported request", "command", CommandName(h.CommandID), "sequence", h.SequenceNum)
		c.sendNack(h.SequenceNum, StatusInvCmdID)
		return
	}

	cmd, err := DecodeRequest(pdu)
	if err != nil {
		c.logger.Warn("Failed to decode request",
			"command", CommandName(h.CommandID),
			"sequence", h.SequenceNum,
			"error", err)
		c.sendNack(h.SequenceNum, StatusInvCmdLen)
		return
	}

	c.inbound.push(cmd)
}

func (c *Conn) sendNack(seq, status uint32) {
	c.metrics.IncCounter(MetricGenericNacks, map[string]string{"status": StatusText(status)})
	if err := c.SendResponse(NewGenericNack(seq, status)); err != nil {
		c.logger.Debug("Failed to send generic_nack", "sequence", seq, "error", err)
	}
}

// commandQueue is the unbounded FIFO between the read loop and the dispatch
// loop. push never blocks, so responses keep flowing while a handler waits.
type commandQueue struct {
	mu     sync.Mutex
	items  []Command
	closed bool
	ready  chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{ready: make(chan struct{}, 1)}
}

func (q *commandQueue) push(cmd Command) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	q.signal()
}

func (q *commandQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *commandQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop waits for the next command. It returns false once the queue is closed
// and drained. pop has a single caller.
func (q *commandQueue) pop() (Command, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			cmd := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return cmd, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		<-q.ready
	}
}
