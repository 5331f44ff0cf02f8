package smpp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/oarkflow/smpp34/internal/errorrecovery"
	"github.com/oarkflow/smpp34/pkg/encoding"
)

// MaxSegments is the largest number of parts a concatenated message may have
const MaxSegments = 255

// Client represents an SMPP client (ESME) using one connection
type Client struct {
	config  ClientConfig
	handler ClientHandler
	logger  Logger
	metrics MetricsCollector
	retry   errorrecovery.RetryConfig
	parts   *Reassembler

	// Client state
	mu    sync.Mutex
	conn  *Conn
	mode  BindMode
	bound bool
}

// MultiResult is the outcome for one recipient of SendMessageMulti
type MultiResult struct {
	Address string
	Result  DeliveryResult
}

// NewClient creates a client. handler may be nil when inbound messages are not needed.
func NewClient(config ClientConfig, handler ClientHandler, logger Logger, metrics MetricsCollector) *Client {
	retry := errorrecovery.DefaultRetryConfig()
	retry.Retryable = isTransportError
	c := &Client{
		config:  config,
		handler: handler,
		logger:  orNopLogger(logger).WithFields(map[string]interface{}{"component": "client"}),
		metrics: orNopMetrics(metrics),
		retry:   retry,
	}
	if config.ReassembleParts {
		c.parts = NewReassembler(config.ReassemblyTTL)
	}
	return c
}

func isTransportError(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork)
}

func (c *Client) connOptions() ConnOptions {
	return ConnOptions{
		ResponseTimeout:  c.config.ResponseTimeout,
		WriteTimeout:     c.config.WriteTimeout,
		ConnectTimeout:   c.config.ConnectTimeout,
		WindowSize:       c.config.WindowSize,
		Logger:           c.logger,
		Metrics:          c.metrics,
		OnCommand:        c.handleCommand,
		OnConnectionLost: c.handleConnectionLost,
	}
}

// Connect opens the connection to the configured SMSC
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil && !c.conn.Closed() {
		c.mu.Unlock()
		return fmt.Errorf("client is already connected")
	}
	c.mu.Unlock()

	c.logger.Info("Connecting to SMPP server", "host", c.config.Host, "port", c.config.Port)
	conn, err := Dial(ctx, c.config.Host, c.config.Port, c.connOptions())
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("Connected to SMPP server", "conn_id", conn.ID(), "remote_addr", conn.RemoteAddr())
	return nil
}

// attach uses an established stream instead of dialing
func (c *Client) attach(netConn net.Conn) *Conn {
	conn := NewConn(clientConnIDs.Add(1)+1000, netConn, c.connOptions())
	conn.Start()
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn
}

func (c *Client) connection() (*Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.Closed() {
		return nil, ErrConnClosed
	}
	return c.conn, nil
}

func (c *Client) boundConnection() (*Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bound || c.conn == nil {
		return nil, ErrNotBound
	}
	return c.conn, nil
}

// Bind logs in with the configured credentials, connecting first if needed.
// A rejected bind closes the connection.
func (c *Client) Bind(ctx context.Context) (LoginResult, error) {
	mode, err := ParseBindMode(c.config.BindType)
	if err != nil {
		return LoginFail, err
	}

	conn, err := c.connection()
	if err != nil {
		if err := c.Connect(ctx); err != nil {
			return LoginFail, err
		}
		if conn, err = c.connection(); err != nil {
			return LoginFail, err
		}
	}

	bind := NewBind(mode, conn.NextSequenceNumber())
	bind.SystemID = c.config.SystemID
	bind.Password = c.config.Password
	bind.SystemType = c.config.SystemType
	bind.AddrTON = c.config.AddrTON
	bind.AddrNPI = c.config.AddrNPI
	bind.AddressRange = c.config.AddressRange

	if err := conn.SendRequest(ctx, bind); err != nil {
		conn.Close()
		return LoginFail, fmt.Errorf("bind failed: %w", err)
	}

	result := loginResult(bind.Status())
	if result != LoginOK {
		c.logger.Warn("Bind rejected", "system_id", c.config.SystemID, "status", StatusText(bind.Status()))
		conn.Close()
		return result, nil
	}

	c.mu.Lock()
	c.bound = true
	c.mode = mode
	c.mu.Unlock()

	c.logger.Info("Bound to SMPP server",
		"system_id", c.config.SystemID,
		"mode", mode.String(),
		"smsc_system_id", bind.Response.SystemID)
	return LoginOK, nil
}

func loginResult(status uint32) LoginResult {
	switch status {
	case StatusOK:
		return LoginOK
	case StatusInvSysID:
		return LoginInvalidUser
	case StatusInvPaswd:
		return LoginInvalidPassword
	case StatusInvCmdID:
		return LoginInvalidCommand
	}
	return LoginFail
}

func submitResult(status uint32) DeliveryResult {
	switch status {
	case StatusOK:
		return DeliveryOK
	case StatusInvSrcAdr:
		return DeliveryInvalidSource
	case StatusInvDstAdr:
		return DeliveryInvalidDestination
	case StatusInvCmdID, StatusThrottled:
		return DeliveryRejected
	}
	return DeliveryUnknownError
}

// Mode returns the mode of the current session
func (c *Client) Mode() BindMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// IsBound reports whether the client holds a bound session
func (c *Client) IsBound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound
}

// Unbind ends the session and closes the connection
func (c *Client) Unbind(ctx context.Context) error {
	conn, err := c.boundConnection()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.bound = false
	c.mu.Unlock()

	unbind := NewUnbind(conn.NextSequenceNumber())
	err = conn.SendRequest(ctx, unbind)
	conn.Close()
	if err != nil {
		return fmt.Errorf("unbind failed: %w", err)
	}
	if unbind.Status() != StatusOK {
		return fmt.Errorf("unbind rejected: %s", StatusText(unbind.Status()))
	}
	c.logger.Info("Unbound from SMPP server")
	return nil
}

// Close drops the connection without unbinding
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.bound = false
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	if c.parts != nil {
		c.parts.Drop(conn.ID())
	}
	return conn.Close()
}

// SendKeepAlive performs one enquire_link round trip
func (c *Client) SendKeepAlive(ctx context.Context) bool {
	conn, err := c.connection()
	if err != nil {
		return false
	}
	enquire := NewEnquireLink(conn.NextSequenceNumber())
	if err := conn.SendRequest(ctx, enquire); err != nil {
		c.logger.Debug("Keep-alive failed", "error", err)
		return false
	}
	return enquire.Status() == StatusOK
}

// encodeBody converts text for submission and reports whether septets
// should be packed
func (c *Client) encodeBody(text string) ([]byte, bool, error) {
	settings := c.config.Messages
	dataCoding := settings.DataCoding()
	body, err := encoding.FromUTF8(text, dataCoding)
	if err != nil {
		return nil, false, err
	}
	pack := settings.EnableGSM7BitPacking && encoding.SelectCharset(dataCoding) == encoding.CharsetGSM7
	return body, pack, nil
}

func (c *Client) newSubmit(conn *Conn, from, to string, body []byte, pack bool) *SubmitSM {
	settings := c.config.Messages
	submit := NewSubmitSM(conn.NextSequenceNumber())
	submit.Source = Address{TON: c.config.SourceTON, NPI: c.config.SourceNPI, Addr: from}
	submit.Destination = Address{TON: c.config.DestTON, NPI: c.config.DestNPI, Addr: to}
	submit.DataCoding = settings.DataCoding()
	if pack {
		body = encoding.Pack7Bit(body)
	}
	submit.SetText(body, len(body) > settings.ShortLimit())
	return submit
}

// fitsSinglePDU reports whether an encoded body can go in one submit_sm
func (s MessageSettings) fitsSinglePDU(length int) bool {
	return length <= MaxPayloadLength && (s.EnablePayload || length <= s.ShortLimit())
}

// SendMessage submits text from one address to another. Texts that do not
// fit one PDU are split into chunks, tagged with SAR parameters when
// concatenation is enabled, and sent in order; the first rejected chunk ends
// the send.
func (c *Client) SendMessage(ctx context.Context, from, to, text string) (DeliveryResult, error) {
	result, err := c.sendMessage(ctx, from, to, text)
	c.metrics.IncCounter(MetricMessages, map[string]string{"direction": "outbound", "result": result.String()})
	return result, err
}

func (c *Client) sendMessage(ctx context.Context, from, to, text string) (DeliveryResult, error) {
	conn, err := c.boundConnection()
	if err != nil {
		return DeliveryUnknownError, err
	}

	body, pack, err := c.encodeBody(text)
	if err != nil {
		return DeliveryUnknownError, err
	}

	settings := c.config.Messages
	if settings.fitsSinglePDU(len(body)) {
		return c.sendSingle(ctx, conn, c.newSubmit(conn, from, to, body, pack))
	}

	chunks := splitBody(body, settings.ChunkSize(), encoding.SelectCharset(settings.DataCoding()) == encoding.CharsetGSM7)
	if settings.EnableMessageConcatenation && len(chunks) > MaxSegments {
		return DeliveryRejected, fmt.Errorf("message needs %d segments, limit is %d", len(chunks), MaxSegments)
	}

	ref := uint16(conn.NextSequenceNumber())
	for i, chunk := range chunks {
		submit := c.newSubmit(conn, from, to, chunk, pack)
		if settings.EnableMessageConcatenation {
			submit.SetSegment(Segment{Reference: ref, Total: uint8(len(chunks)), Seq: uint8(i + 1)})
		}
		if err := conn.SendRequest(ctx, submit); err != nil {
			return DeliveryUnknownError, fmt.Errorf("segment %d of %d: %w", i+1, len(chunks), err)
		}
		if result := submitResult(submit.Status()); result != DeliveryOK {
			c.logger.Warn("Segment rejected",
				"segment", i+1,
				"total", len(chunks),
				"status", StatusText(submit.Status()))
			return result, nil
		}
	}
	return DeliveryOK, nil
}

func (c *Client) sendSingle(ctx context.Context, conn *Conn, submit *SubmitSM) (DeliveryResult, error) {
	outcome := errorrecovery.Retry(ctx, c.retry, func() error {
		submit.SetSequenceNum(conn.NextSequenceNumber())
		submit.SetStatus(StatusOK)
		return conn.SendRequest(ctx, submit)
	})
	if outcome.Error != nil {
		return DeliveryUnknownError, fmt.Errorf("submit_sm failed after %d attempts: %w", outcome.Attempts, outcome.Error)
	}
	return submitResult(submit.Status()), nil
}

// splitBody cuts body into chunks of at most size bytes. GSM7 chunks never
// end on an escape byte.
func splitBody(body []byte, size int, gsm7 bool) [][]byte {
	var chunks [][]byte
	for len(body) > 0 {
		n := min(size, len(body))
		if gsm7 && n < len(body) && n > 1 && body[n-1] == 0x1B {
			n--
		}
		chunks = append(chunks, body[:n])
		body = body[n:]
	}
	return chunks
}

// SendMessageMulti sends one text to several recipients, with a single
// submit_multi when enabled and one submit_sm per recipient otherwise.
func (c *Client) SendMessageMulti(ctx context.Context, from string, to []string, text string) ([]MultiResult, error) {
	if len(to) == 0 || len(to) > MaxDestinations {
		return nil, fmt.Errorf("%w: %d recipients", ErrInvalidField, len(to))
	}

	settings := c.config.Messages
	if !settings.EnableSubmitMulti {
		results := make([]MultiResult, 0, len(to))
		for _, addr := range to {
			result, err := c.SendMessage(ctx, from, addr, text)
			if err != nil {
				return results, err
			}
			results = append(results, MultiResult{Address: addr, Result: result})
		}
		return results, nil
	}

	conn, err := c.boundConnection()
	if err != nil {
		return nil, err
	}
	body, pack, err := c.encodeBody(text)
	if err != nil {
		return nil, err
	}
	if !settings.fitsSinglePDU(len(body)) {
		return nil, fmt.Errorf("%w: message of %d bytes does not fit one submit_multi", ErrFieldTooLong, len(body))
	}
	if pack {
		body = encoding.Pack7Bit(body)
	}

	multi := NewSubmitMulti(conn.NextSequenceNumber())
	multi.Source = Address{TON: c.config.SourceTON, NPI: c.config.SourceNPI, Addr: from}
	for _, addr := range to {
		multi.AddDestination(Address{TON: c.config.DestTON, NPI: c.config.DestNPI, Addr: addr})
	}
	multi.DataCoding = settings.DataCoding()
	multi.SetText(body, len(body) > settings.ShortLimit())

	if err := conn.SendRequest(ctx, multi); err != nil {
		return nil, fmt.Errorf("submit_multi failed: %w", err)
	}

	failed := make(map[string]uint32, len(multi.Response.Unsuccessful))
	for _, u := range multi.Response.Unsuccessful {
		failed[u.Address.Addr] = u.ErrorStatus
	}

	results := make([]MultiResult, 0, len(to))
	for _, addr := range to {
		status := multi.Status()
		if s, ok := failed[addr]; ok {
			status = s
		}
		results = append(results, MultiResult{Address: addr, Result: submitResult(status)})
	}
	return results, nil
}

func (c *Client) handleCommand(conn *Conn, cmd Command) {
	switch req := cmd.(type) {
	case *DeliverSM:
		c.handleDeliverSM(conn, req)
	case *EnquireLink:
		req.SetStatus(StatusOK)
		c.reply(conn, req)
	default:
		c.reply(conn, NewGenericNack(cmd.SequenceNum(), StatusInvCmdID))
	}
}

func (c *Client) handleDeliverSM(conn *Conn, deliver *DeliverSM) {
	body := deliver.Text()
	if c.parts != nil {
		if seg, ok := deliver.Segment(); ok && seg.Total > 1 {
			joined, complete := c.parts.Add(conn.ID(), deliver.Source.Addr, deliver.Destination.Addr, seg, body)
			if !complete {
				deliver.SetStatus(StatusOK)
				c.reply(conn, deliver)
				return
			}
			body = joined
		}
	}
	if deliver.DataCoding == encoding.DataCodingUCS2 && c.config.Messages.BigEndianUnicode {
		body = encoding.SwapUCS2(body)
	}

	text, err := encoding.ToUTF8(body, deliver.DataCoding)
	if err != nil {
		c.logger.Warn("Failed to convert inbound message", "data_coding", deliver.DataCoding, "error", err)
		deliver.SetStatus(StatusSysErr)
		c.reply(conn, deliver)
		return
	}

	c.metrics.IncCounter(MetricMessages, map[string]string{"direction": "inbound", "result": "ok"})
	if c.handler != nil {
		c.handler.OnIncomingMessage(deliver.Source.Addr, deliver.Destination.Addr, text)
	}
	deliver.SetStatus(StatusOK)
	c.reply(conn, deliver)
}

func (c *Client) reply(conn *Conn, cmd Command) {
	if err := conn.SendResponse(cmd); err != nil {
		c.logger.Debug("Failed to send response", "command", CommandName(cmd.ResponseID()), "error", err)
	}
}

func (c *Client) handleConnectionLost(conn *Conn, err error) {
	if c.parts != nil {
		c.parts.Drop(conn.ID())
	}

	c.mu.Lock()
	wasBound := c.bound && c.conn == conn
	if wasBound {
		c.bound = false
	}
	c.mu.Unlock()

	if wasBound && c.handler != nil {
		c.handler.OnConnectionLost(err)
	}
}
