package smpp

import (
	"errors"
	"fmt"
)

// Codec errors
var (
	ErrInvalidCommandID = errors.New("invalid command id")
	ErrMalformedPDU     = errors.New("malformed pdu")
	ErrBufferTooSmall   = errors.New("buffer too small")
	ErrPDUTooLarge      = errors.New("pdu exceeds maximum size")
	ErrFieldTooLong     = errors.New("field too long")
	ErrInvalidField     = errors.New("invalid field value")
)

// Request outcomes
var (
	ErrTimeout         = errors.New("response timeout")
	ErrNetwork         = errors.New("network error")
	ErrInvalidResponse = errors.New("invalid response")
	ErrConnClosed      = errors.New("connection closed")
	ErrNotBound        = errors.New("not bound")
)

// ProtocolError describes a PDU that could not be decoded.
type ProtocolError struct {
	Kind      error
	CommandID uint32
	Detail    string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %s", e.Kind, CommandName(e.CommandID))
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, CommandName(e.CommandID), e.Detail)
}

func (e *ProtocolError) Unwrap() error {
	return e.Kind
}

func malformed(commandID uint32, format string, args ...interface{}) error {
	return &ProtocolError{Kind: ErrMalformedPDU, CommandID: commandID, Detail: fmt.Sprintf(format, args...)}
}
