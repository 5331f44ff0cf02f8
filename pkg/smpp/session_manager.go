package smpp

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oarkflow/smpp34/internal/ratelimit"
	"github.com/oarkflow/smpp34/pkg/encoding"
)

const keepAliveParallelism = 16

type session struct {
	conn      SessionConn
	systemID  string
	mode      BindMode
	addresses AddressSet
	lastSeen  time.Time
}

// SessionInfo is a snapshot of one bound session
type SessionInfo struct {
	ConnID     uint32
	SystemID   string
	Mode       BindMode
	LastSeen   time.Time
	RemoteAddr string
}

// SessionManager enforces the bind lifecycle of server connections, routes
// messages between bound sessions and the application, and probes idle
// sessions with enquire_link.
type SessionManager struct {
	handler     ServerHandler
	config      ServerConfig
	logger      Logger
	metrics     MetricsCollector
	limiter     *ratelimit.SessionLimiter
	reassembler *Reassembler
	now         func() time.Time

	mu               sync.Mutex
	sessions         map[uint32]*session
	deliveryEncoding byte
	wake             chan struct{}
}

// NewSessionManager creates a manager reporting to handler
func NewSessionManager(handler ServerHandler, config ServerConfig, logger Logger, metrics MetricsCollector) *SessionManager {
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if config.SystemID == "" {
		config.SystemID = "SMSC"
	}

	sm := &SessionManager{
		handler:          handler,
		config:           config,
		logger:           orNopLogger(logger).WithFields(map[string]interface{}{"component": "session_manager"}),
		metrics:          orNopMetrics(metrics),
		now:              time.Now,
		sessions:         make(map[uint32]*session),
		deliveryEncoding: config.DeliveryEncoding,
		wake:             make(chan struct{}, 1),
	}
	if config.SubmitRateLimit > 0 {
		sm.limiter = ratelimit.NewSessionLimiter(config.SubmitRateLimit, config.SubmitBurst)
	}
	if config.ReassembleParts {
		sm.reassembler = NewReassembler(config.ReassemblyTTL)
	}
	return sm
}

// SetDeliveryEncoding sets the data_coding used for outbound deliver_sm
func (sm *SessionManager) SetDeliveryEncoding(dataCoding byte) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.deliveryEncoding = dataCoding
}

// Sessions returns a snapshot of the bound sessions ordered by connection id
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sm.sessions))
	for id, s := range sm.sessions {
		infos = append(infos, SessionInfo{
			ConnID:     id,
			SystemID:   s.systemID,
			Mode:       s.mode,
			LastSeen:   s.lastSeen,
			RemoteAddr: s.conn.RemoteAddr(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnID < infos[j].ConnID })
	return infos
}

// HandleCommand processes one inbound request and answers it. It returns
// false when the connection should be closed.
func (sm *SessionManager) HandleCommand(conn SessionConn, cmd Command) bool {
	sm.mu.Lock()
	s, bound := sm.sessions[conn.ID()]
	sm.mu.Unlock()

	bind, isBind := cmd.(*Bind)
	switch {
	case !bound && isBind:
		return sm.handleBind(conn, bind)
	case !bound:
		sm.respond(conn, cmd, StatusInvBnd)
		return true
	case isBind:
		sm.respond(conn, cmd, StatusAlreadyBnd)
		return true
	}

	switch c := cmd.(type) {
	case *Unbind:
		sm.remove(conn, DisconnectUnbind)
		sm.respond(conn, c, StatusOK)
		return false
	case *SubmitSM:
		sm.handleSubmit(conn, s, c)
	case *EnquireLink:
		sm.mu.Lock()
		s.lastSeen = sm.now()
		sm.mu.Unlock()
		sm.respond(conn, c, StatusOK)
	default:
		sm.respond(conn, cmd, StatusInvCmdID)
	}
	return true
}

func (sm *SessionManager) handleBind(conn SessionConn, bind *Bind) bool {
	mode := bind.Mode()
	logger := sm.logger.WithFields(map[string]interface{}{
		"conn_id":   conn.ID(),
		"system_id": bind.SystemID,
		"mode":      mode.String(),
	})

	bind.Response.SystemID = sm.config.SystemID

	addresses, err := ParseAddressSet(bind.AddressRange)
	if err != nil {
		logger.Info("Rejecting bind with invalid address range", "address_range", bind.AddressRange, "error", err)
		sm.finishBind(conn, bind, StatusInvCmdID)
		return true
	}
	if mode.CanReceive() && len(addresses) == 0 {
		logger.Info("Rejecting bind without address range")
		sm.finishBind(conn, bind, StatusInvCmdID)
		return true
	}

	// The application may take its time; nothing is locked here.
	result := sm.handler.ValidateUser(conn.ID(), mode, bind.SystemID, bind.Password, bind.AddressRange)
	status := loginStatus(result)
	if status != StatusOK {
		logger.Info("Bind rejected", "result", result.String())
		sm.finishBind(conn, bind, status)
		return true
	}

	sm.mu.Lock()
	if conn.Closed() {
		sm.mu.Unlock()
		logger.Info("Connection closed while bind was being validated")
		sm.handler.OnUserDisconnected(conn.ID(), bind.SystemID, DisconnectNetError)
		return false
	}
	if _, exists := sm.sessions[conn.ID()]; exists {
		sm.mu.Unlock()
		sm.finishBind(conn, bind, StatusAlreadyBnd)
		return true
	}
	sm.sessions[conn.ID()] = &session{
		conn:      conn,
		systemID:  bind.SystemID,
		mode:      mode,
		addresses: addresses,
		lastSeen:  sm.now(),
	}
	count := len(sm.sessions)
	sm.mu.Unlock()

	sm.metrics.SetGauge(MetricBoundSessions, float64(count), nil)
	select {
	case sm.wake <- struct{}{}:
	default:
	}

	logger.Info("Bind accepted", "remote_addr", conn.RemoteAddr())
	bind.Response.TLVs.SetUint8(TagSCInterfaceVersion, SMPPVersion)
	sm.finishBind(conn, bind, StatusOK)
	return true
}

func (sm *SessionManager) finishBind(conn SessionConn, bind *Bind, status uint32) {
	sm.metrics.IncCounter(MetricBinds, map[string]string{"status": StatusText(status)})
	sm.respond(conn, bind, status)
}

func loginStatus(result LoginResult) uint32 {
	switch result {
	case LoginOK:
		return StatusOK
	case LoginInvalidPassword:
		return StatusInvPaswd
	case LoginInvalidUser:
		return StatusInvSysID
	case LoginInvalidCommand:
		return StatusInvCmdID
	}
	return StatusBindFail
}

func deliveryStatus(result DeliveryResult) uint32 {
	switch result {
	case DeliveryOK:
		return StatusOK
	case DeliveryRejected:
		return StatusThrottled
	case DeliveryInvalidSource:
		return StatusInvSrcAdr
	case DeliveryInvalidDestination:
		return StatusInvDstAdr
	}
	return StatusSysErr
}

func (sm *SessionManager) handleSubmit(conn SessionConn, s *session, submit *SubmitSM) {
	if !s.mode.CanTransmit() {
		sm.respond(conn, submit, StatusInvCmdID)
		return
	}

	from, to := submit.Source.Addr, submit.Destination.Addr
	// Transmitters that bound without a range may send from any address.
	if len(s.addresses) > 0 {
		if !s.addresses.Match(from) {
			sm.respond(conn, submit, StatusInvSrcAdr)
			return
		}
		if s.addresses.Match(to) {
			sm.respond(conn, submit, StatusInvDstAdr)
			return
		}
	}

	if sm.limiter != nil && !sm.limiter.Allow(conn.ID()) {
		sm.messageResult("inbound", "throttled")
		sm.respond(conn, submit, StatusThrottled)
		return
	}

	body := submit.Text()
	if sm.reassembler != nil {
		if seg, ok := submit.Segment(); ok && seg.Total > 1 {
			joined, complete := sm.reassembler.Add(conn.ID(), from, to, seg, body)
			if !complete {
				submit.Response.MessageID = uuid.NewString()
				sm.respond(conn, submit, StatusOK)
				return
			}
			body = joined
		}
	}

	text, err := encoding.ToUTF8(body, submit.DataCoding)
	if err != nil {
		sm.logger.Warn("Failed to convert message text, delivering raw bytes",
			"conn_id", conn.ID(),
			"data_coding", submit.DataCoding,
			"error", err)
		text = string(body)
	}

	result := sm.handler.DeliverMessage(conn.ID(), from, to, text)
	sm.messageResult("inbound", result.String())

	status := deliveryStatus(result)
	if status == StatusOK {
		submit.Response.MessageID = uuid.NewString()
	}
	sm.respond(conn, submit, status)
}

func (sm *SessionManager) respond(conn SessionConn, cmd Command, status uint32) {
	cmd.SetStatus(status)
	if err := conn.SendResponse(cmd); err != nil {
		sm.logger.Warn("Failed to send response",
			"conn_id", conn.ID(),
			"command", CommandName(cmd.ResponseID()),
			"error", err)
	}
}

func (sm *SessionManager) messageResult(direction, result string) {
	sm.metrics.IncCounter(MetricMessages, map[string]string{"direction": direction, "result": result})
}

// HandleConnectionLost forgets the session of a failed connection and tells
// the application. Nothing is sent to the peer.
func (sm *SessionManager) HandleConnectionLost(conn SessionConn) {
	sm.remove(conn, DisconnectNetError)
}

// remove drops conn's session if it is still the registered one and reports why
func (sm *SessionManager) remove(conn SessionConn, reason DisconnectReason) bool {
	sm.mu.Lock()
	s, ok := sm.sessions[conn.ID()]
	if ok && s.conn == conn {
		delete(sm.sessions, conn.ID())
	} else {
		ok = false
	}
	count := len(sm.sessions)
	sm.mu.Unlock()

	if sm.limiter != nil {
		sm.limiter.Remove(conn.ID())
	}
	if sm.reassembler != nil {
		sm.reassembler.Drop(conn.ID())
	}
	if !ok {
		return false
	}

	sm.metrics.SetGauge(MetricBoundSessions, float64(count), nil)
	sm.logger.Info("Session removed",
		"conn_id", conn.ID(),
		"system_id", s.systemID,
		"reason", reason.String())
	sm.handler.OnUserDisconnected(conn.ID(), s.systemID, reason)
	return true
}

// SendMessage delivers text to the receiver or transceiver session owning to
func (sm *SessionManager) SendMessage(ctx context.Context, from, to, text string) DeliveryResult {
	result := sm.sendMessage(ctx, from, to, text)
	sm.messageResult("outbound", result.String())
	return result
}

func (sm *SessionManager) sendMessage(ctx context.Context, from, to, text string) DeliveryResult {
	sm.mu.Lock()
	var target *session
	for id, s := range sm.sessions {
		if !s.mode.CanReceive() || !s.addresses.Match(to) {
			continue
		}
		if target == nil || id < target.conn.ID() {
			target = s
		}
	}
	dataCoding := sm.deliveryEncoding
	sm.mu.Unlock()

	if target == nil {
		return DeliveryInvalidDestination
	}

	body, err := encoding.FromUTF8(text, dataCoding)
	if err != nil {
		sm.logger.Error("Failed to encode outbound message", "data_coding", dataCoding, "error", err)
		return DeliveryUnknownError
	}
	if len(body) > MaxPayloadLength {
		sm.logger.Warn("Outbound message too long",
			"conn_id", target.conn.ID(),
			"length", len(body),
			"limit", MaxPayloadLength)
		return DeliveryRejected
	}

	deliver := NewDeliverSM(target.conn.NextSequenceNumber())
	deliver.Source = Address{Addr: from}
	deliver.Destination = Address{Addr: to}
	deliver.DataCoding = dataCoding
	deliver.SetText(body, false)

	if err := target.conn.SendRequest(ctx, deliver); err != nil {
		sm.logger.Warn("Delivery failed",
			"conn_id", target.conn.ID(),
			"system_id", target.systemID,
			"error", err)
		return DeliveryUnknownError
	}
	if deliver.Status() != StatusOK {
		return DeliveryRejected
	}
	return DeliveryOK
}

// Run is the keep-alive watchdog. It sleeps while no session is bound and
// otherwise probes idle sessions every keep-alive interval until ctx ends.
func (sm *SessionManager) Run(ctx context.Context) error {
	for {
		sm.mu.Lock()
		empty := len(sm.sessions) == 0
		sm.mu.Unlock()

		if empty {
			select {
			case <-ctx.Done():
				return nil
			case <-sm.wake:
			}
		}

		timer := time.NewTimer(sm.config.KeepAliveInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		sm.probeIdle(ctx)
	}
}

func (sm *SessionManager) probeIdle(ctx context.Context) {
	now := sm.now()

	sm.mu.Lock()
	idle := make([]*session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		if now.Sub(s.lastSeen) >= sm.config.KeepAliveInterval {
			idle = append(idle, s)
		}
	}
	sm.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(keepAliveParallelism)
	for _, s := range idle {
		g.Go(func() error {
			sm.probe(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
}

func (sm *SessionManager) probe(ctx context.Context, s *session) {
	enquire := NewEnquireLink(s.conn.NextSequenceNumber())
	err := s.conn.SendRequest(ctx, enquire)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}

	if err == nil && enquire.Status() == StatusOK {
		sm.mu.Lock()
		s.lastSeen = sm.now()
		sm.mu.Unlock()
		return
	}

	sm.metrics.IncCounter(MetricKeepAliveFailures, nil)
	sm.logger.Info("Keep-alive failed, closing connection",
		"conn_id", s.conn.ID(),
		"system_id", s.systemID,
		"status", StatusText(enquire.Status()),
		"error", err)
	_ = s.conn.Close()
	sm.remove(s.conn, DisconnectKicked)
}

// KickAll closes every bound session, reporting DisconnectKicked
func (sm *SessionManager) KickAll() {
	sm.mu.Lock()
	conns := make([]SessionConn, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		conns = append(conns, s.conn)
	}
	sm.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
		sm.remove(conn, DisconnectKicked)
	}
}
