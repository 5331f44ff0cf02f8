package smpp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Buffer sizes used when encoding. Encoding starts with InitialPDUBuffer and
// doubles on ErrBufferTooSmall until MaxPDUBuffer.
const (
	InitialPDUBuffer = 256
	MaxPDUBuffer     = 4096
)

// MaxInboundPDU bounds the command_length accepted from a peer
const MaxInboundPDU = 64 * 1024

// PackRequest serializes the request side of cmd into buf and returns the
// number of bytes written. ErrBufferTooSmall means buf must grow.
func PackRequest(cmd Command, buf []byte) (int, error) {
	return pack(cmd, cmd.CommandID(), buf, cmd.marshalRequest)
}

// PackResponse serializes the response side of cmd into buf.
func PackResponse(cmd Command, buf []byte) (int, error) {
	return pack(cmd, cmd.ResponseID(), buf, cmd.marshalResponse)
}

func pack(cmd Command, commandID uint32, buf []byte, body func(*pduWriter)) (int, error) {
	if len(buf) < HeaderLength {
		return 0, ErrBufferTooSmall
	}
	w := &pduWriter{buf: buf, n: HeaderLength}
	body(w)
	if w.err != nil {
		return 0, w.err
	}
	PDUHeader{
		CommandLength: uint32(w.n),
		CommandID:     commandID,
		CommandStatus: cmd.Status(),
		SequenceNum:   cmd.SequenceNum(),
	}.put(buf)
	return w.n, nil
}

// PDUEncoder encodes commands into freshly allocated buffers, growing them as needed.
type PDUEncoder struct {
	initial int
	max     int
}

// NewPDUEncoder creates an encoder with the default buffer bounds
func NewPDUEncoder() *PDUEncoder {
	return &PDUEncoder{initial: InitialPDUBuffer, max: MaxPDUBuffer}
}

// EncodeRequest returns the wire bytes of the request side of cmd
func (e *PDUEncoder) EncodeRequest(cmd Command) ([]byte, error) {
	return e.encode(func(buf []byte) (int, error) { return PackRequest(cmd, buf) })
}

// EncodeResponse returns the wire bytes of the response side of cmd
func (e *PDUEncoder) EncodeResponse(cmd Command) ([]byte, error) {
	return e.encode(func(buf []byte) (int, error) { return PackResponse(cmd, buf) })
}

func (e *PDUEncoder) encode(packFn func([]byte) (int, error)) ([]byte, error) {
	for size := e.initial; size <= e.max; size *= 2 {
		buf := make([]byte, size)
		n, err := packFn(buf)
		if errors.Is(err, ErrBufferTooSmall) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
	return nil, fmt.Errorf("%w: limit %d bytes", ErrPDUTooLarge, e.max)
}

// EncodeRequest encodes the request side of cmd with a default encoder
func EncodeRequest(cmd Command) ([]byte, error) {
	return NewPDUEncoder().EncodeRequest(cmd)
}

// EncodeResponse encodes the response side of cmd with a default encoder
func EncodeResponse(cmd Command) ([]byte, error) {
	return NewPDUEncoder().EncodeResponse(cmd)
}

// UnpackRequest decodes a request PDU into cmd. The PDU's command id must match.
func UnpackRequest(cmd Command, pdu []byte) error {
	return unpack(cmd, cmd.CommandID(), pdu, cmd.unmarshalRequest)
}

// UnpackResponse decodes a response PDU into cmd and records its status.
// Error responses may omit the body entirely.
func UnpackResponse(cmd Command, pdu []byte) error {
	return unpack(cmd, cmd.ResponseID(), pdu, cmd.unmarshalResponse)
}

func unpack(cmd Command, expected uint32, pdu []byte, body func(*pduReader)) error {
	h, err := ParseHeader(pdu)
	if err != nil {
		return err
	}
	if h.CommandID != expected {
		return &ProtocolError{
			Kind:      ErrInvalidCommandID,
			CommandID: h.CommandID,
			Detail:    fmt.Sprintf("expected %s", CommandName(expected)),
		}
	}
	if int(h.CommandLength) != len(pdu) {
		return malformed(h.CommandID, "command_length %d, have %d bytes", h.CommandLength, len(pdu))
	}

	cmd.SetSequenceNum(h.SequenceNum)
	cmd.SetStatus(h.CommandStatus)

	if IsResponse(expected) && h.CommandStatus != StatusOK && len(pdu) == HeaderLength {
		return nil
	}

	r := &pduReader{commandID: h.CommandID, data: pdu[HeaderLength:]}
	body(r)
	return r.err
}

// DecodeRequest decodes an inbound request PDU into a new command.
func DecodeRequest(pdu []byte) (Command, error) {
	h, err := ParseHeader(pdu)
	if err != nil {
		return nil, err
	}
	cmd, err := NewCommand(h.CommandID)
	if err != nil {
		return nil, err
	}
	if err := UnpackRequest(cmd, pdu); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ReadPDU reads one complete PDU from r. A command_length outside
// [HeaderLength, maxLen] cannot be resynchronised and is returned as an error.
func ReadPDU(r io.Reader, maxLen uint32) ([]byte, error) {
	header := make([]byte, HeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[0:4])
	if length < HeaderLength || length > maxLen {
		return nil, malformed(binary.BigEndian.Uint32(header[4:8]), "command_length %d out of range", length)
	}

	pdu := make([]byte, length)
	copy(pdu, header)
	if _, err := io.ReadFull(r, pdu[HeaderLength:]); err != nil {
		return nil, fmt.Errorf("failed to read pdu body: %w", err)
	}
	return pdu, nil
}

// FixLegacySubmitSMResp repairs submit_sm_resp PDUs from peers that pad the
// body after the message id: the PDU is cut after the first NUL following the
// header and command_length is rewritten. Conformant PDUs are returned as is.
func FixLegacySubmitSMResp(pdu []byte) []byte {
	if len(pdu) <= HeaderLength {
		return pdu
	}
	nul := bytes.IndexByte(pdu[HeaderLength:], 0)
	if nul < 0 {
		return pdu
	}
	end := HeaderLength + nul + 1
	if end == len(pdu) {
		return pdu
	}
	fixed := pdu[:end:end]
	binary.BigEndian.PutUint32(fixed[0:4], uint32(end))
	return fixed
}
