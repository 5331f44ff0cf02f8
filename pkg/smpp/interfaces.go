package smpp

import (
	"context"
	"time"

	"github.com/oarkflow/smpp34/pkg/encoding"
)

// Config is the root configuration object
type Config struct {
	Server  ServerConfig  `json:"server"`
	Client  ClientConfig  `json:"client"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
}

// LoggingConfig selects level, format and sink of the structured logger
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Port      int    `json:"port"`
	Path      string `json:"path"`
	Namespace string `json:"namespace"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host              string
	Port              int
	SystemID          string
	ResponseTimeout   time.Duration
	WriteTimeout      time.Duration
	KeepAliveInterval time.Duration
	UnbindLinger      time.Duration
	DeliveryEncoding  byte
	ProxyProtocol     bool
	SubmitRateLimit   float64
	SubmitBurst       int
	ReassembleParts   bool
	ReassemblyTTL     time.Duration
	WindowSize        int
}

// ClientConfig represents client configuration
type ClientConfig struct {
	Host            string
	Port            int
	SystemID        string
	Password        string
	SystemType      string
	BindType        string
	AddressRange    string
	AddrTON         byte
	AddrNPI         byte
	SourceTON       byte
	SourceNPI       byte
	DestTON         byte
	DestNPI         byte
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	WriteTimeout    time.Duration
	WindowSize      int
	ReassembleParts bool
	ReassemblyTTL   time.Duration
	Messages        MessageSettings
}

// MessageSettings controls how the client encodes and splits outgoing messages
type MessageSettings struct {
	DeliverDataCoding          byte
	ServerDefaultEncoding      byte
	EnableGSM7BitPacking       bool
	MaxMessageLength           int
	EnableMessageConcatenation bool
	EnablePayload              bool
	EnableSubmitMulti          bool
	BigEndianUnicode           bool
}

// DefaultMessageSettings enables payload, submit_multi and concatenation
func DefaultMessageSettings() MessageSettings {
	return MessageSettings{
		EnablePayload:              true,
		EnableSubmitMulti:          true,
		EnableMessageConcatenation: true,
	}
}

// DataCoding returns the data_coding used for outgoing messages
func (s MessageSettings) DataCoding() byte {
	if s.DeliverDataCoding != 0 {
		return s.DeliverDataCoding
	}
	return s.ServerDefaultEncoding
}

// ShortLimit returns the largest body sent inline in short_message
func (s MessageSettings) ShortLimit() int {
	if s.MaxMessageLength > 0 && s.MaxMessageLength < MaxShortMessageLength {
		return s.MaxMessageLength
	}
	return MaxShortMessageLength
}

// ChunkSize returns the segment size used when a message must be split
func (s MessageSettings) ChunkSize() int {
	if s.EnablePayload {
		return MaxPayloadLength
	}
	return s.ShortLimit()
}

// DefaultServerConfig returns the server defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "0.0.0.0",
		Port:              2775,
		SystemID:          "SMSC",
		ResponseTimeout:   DefaultResponseTimeout,
		WriteTimeout:      10 * time.Second,
		KeepAliveInterval: DefaultKeepAliveInterval,
		UnbindLinger:      500 * time.Millisecond,
		DeliveryEncoding:  encoding.DataCodingUTF8,
		ReassemblyTTL:     5 * time.Minute,
	}
}

// DefaultClientConfig returns the client defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:            "localhost",
		Port:            2775,
		BindType:        "transceiver",
		ConnectTimeout:  10 * time.Second,
		ResponseTimeout: DefaultResponseTimeout,
		WriteTimeout:    10 * time.Second,
		ReassemblyTTL:   DefaultReassemblyTTL,
		Messages:        DefaultMessageSettings(),
	}
}

// LoginResult is the outcome of a bind
type LoginResult int

// Login results
const (
	LoginOK LoginResult = iota
	LoginInvalidPassword
	LoginInvalidUser
	LoginInvalidAddress
	LoginInvalidCommand
	LoginFail
)

func (r LoginResult) String() string {
	switch r {
	case LoginOK:
		return "ok"
	case LoginInvalidPassword:
		return "invalid_password"
	case LoginInvalidUser:
		return "invalid_user"
	case LoginInvalidAddress:
		return "invalid_address"
	case LoginInvalidCommand:
		return "invalid_command"
	}
	return "fail"
}

// DeliveryResult is the outcome of handing a message to its next hop
type DeliveryResult int

// Delivery results
const (
	DeliveryOK DeliveryResult = iota
	DeliveryRejected
	DeliveryInvalidSource
	DeliveryInvalidDestination
	DeliveryUnknownError
)

func (r DeliveryResult) String() string {
	switch r {
	case DeliveryOK:
		return "ok"
	case DeliveryRejected:
		return "rejected"
	case DeliveryInvalidSource:
		return "invalid_source"
	case DeliveryInvalidDestination:
		return "invalid_destination"
	}
	return "unknown_error"
}

// DisconnectReason tells the application why a session ended
type DisconnectReason int

// Disconnect reasons
const (
	DisconnectUnbind DisconnectReason = iota
	DisconnectKicked
	DisconnectNetError
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectUnbind:
		return "unbind"
	case DisconnectKicked:
		return "kicked"
	}
	return "network_error"
}

// ServerHandler is implemented by the application hosting an SMSC.
// Methods may block; the session manager never holds its lock while calling them.
type ServerHandler interface {
	ValidateUser(connID uint32, mode BindMode, systemID, password, addressRange string) LoginResult
	DeliverMessage(connID uint32, from, to, text string) DeliveryResult
	OnUserDisconnected(connID uint32, systemID string, reason DisconnectReason)
}

// ClientHandler is implemented by the application using a Client
type ClientHandler interface {
	OnIncomingMessage(from, to, text string)
	OnConnectionLost(cause error)
}

// Logger interface defines logging operations
type Logger interface {
	// Debug logs a debug message
	Debug(msg string, fields ...interface{})

	// Info logs an info message
	Info(msg string, fields ...interface{})

	// Warn logs a warning message
	Warn(msg string, fields ...interface{})

	// Error logs an error message
	Error(msg string, fields ...interface{})

	// Fatal logs a fatal message and exits
	Fatal(msg string, fields ...interface{})

	// WithFields returns a logger with additional fields
	WithFields(fields map[string]interface{}) Logger
}

// MetricsCollector interface defines metrics collection operations
type MetricsCollector interface {
	// IncCounter increments a counter metric
	IncCounter(name string, labels map[string]string)

	// SetGauge sets a gauge metric
	SetGauge(name string, value float64, labels map[string]string)

	// ObserveHistogram observes a value for a histogram metric
	ObserveHistogram(name string, value float64, labels map[string]string)

	// RecordDuration records a duration metric
	RecordDuration(name string, duration time.Duration, labels map[string]string)
}

// Metric names reported by the engine
const (
	MetricPDUsSent          = "pdus_sent"
	MetricPDUsReceived      = "pdus_received"
	MetricGenericNacks      = "generic_nacks"
	MetricRequestDuration   = "request_duration"
	MetricConnections       = "connections"
	MetricBoundSessions     = "bound_sessions"
	MetricBinds             = "binds"
	MetricKeepAliveFailures = "keepalive_failures"
	MetricMessages          = "messages"
)

// SessionConn is the part of a connection the session manager depends on
type SessionConn interface {
	ID() uint32
	RemoteAddr() string
	NextSequenceNumber() uint32
	SendRequest(ctx context.Context, cmd Command) error
	SendResponse(cmd Command) error
	Closed() bool
	Close() error
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{}) {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}
func (l nopLogger) WithFields(map[string]interface{}) Logger { return l }

type nopMetrics struct{}

func (nopMetrics) IncCounter(string, map[string]string) {}
func (nopMetrics) SetGauge(string, float64, map[string]string) {}
func (nopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (nopMetrics) RecordDuration(string, time.Duration, map[string]string) {}

func orNopLogger(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

func orNopMetrics(m MetricsCollector) MetricsCollector {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
