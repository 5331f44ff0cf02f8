package smpp

import "fmt"

// Command is one SMPP request/response pair sharing a sequence number.
//
// The set of implementations is closed: Bind, Unbind, EnquireLink, SubmitSM,
// SubmitMulti, DeliverSM and GenericNack.
type Command interface {
	CommandID() uint32
	ResponseID() uint32
	SequenceNum() uint32
	SetSequenceNum(seq uint32)
	Status() uint32
	SetStatus(status uint32)

	marshalRequest(w *pduWriter)
	marshalResponse(w *pduWriter)
	unmarshalRequest(r *pduReader)
	unmarshalResponse(r *pduReader)
}

type commandBase struct {
	id     uint32
	seq    uint32
	status uint32
}

func (c *commandBase) CommandID() uint32 { return c.id }

func (c *commandBase) ResponseID() uint32 { return c.id | ResponseBit }

func (c *commandBase) SequenceNum() uint32 { return c.seq }

func (c *commandBase) SetSequenceNum(seq uint32) { c.seq = seq }

func (c *commandBase) Status() uint32 { return c.status }

func (c *commandBase) SetStatus(status uint32) { c.status = status }

// NewCommand creates an empty command for a request command id
func NewCommand(commandID uint32) (Command, error) {
	switch commandID {
	case CommandBindReceiver:
		return NewBind(BindReceiver, 0), nil
	case CommandBindTransmitter:
		return NewBind(BindTransmitter, 0), nil
	case CommandBindTransceiver:
		return NewBind(BindTransceiver, 0), nil
	case CommandUnbind:
		return NewUnbind(0), nil
	case CommandEnquireLink:
		return NewEnquireLink(0), nil
	case CommandSubmitSM:
		return NewSubmitSM(0), nil
	case CommandDeliverSM:
		return NewDeliverSM(0), nil
	case CommandSubmitMulti:
		return NewSubmitMulti(0), nil
	case CommandGenericNack:
		return NewGenericNack(0, StatusOK), nil
	}
	return nil, &ProtocolError{Kind: ErrInvalidCommandID, CommandID: commandID, Detail: "unsupported command"}
}

// BindMode is the role requested by a bind
type BindMode int

// Bind modes
const (
	BindReceiver BindMode = iota + 1
	BindTransmitter
	BindTransceiver
)

// String returns the lowercase mode name
func (m BindMode) String() string {
	switch m {
	case BindReceiver:
		return "receiver"
	case BindTransmitter:
		return "transmitter"
	case BindTransceiver:
		return "transceiver"
	}
	return fmt.Sprintf("BindMode(%d)", int(m))
}

// CommandID returns the bind request id for the mode
func (m BindMode) CommandID() uint32 {
	switch m {
	case BindReceiver:
		return CommandBindReceiver
	case BindTransmitter:
		return CommandBindTransmitter
	default:
		return CommandBindTransceiver
	}
}

// CanReceive reports whether the SMSC may deliver to this session
func (m BindMode) CanReceive() bool {
	return m == BindReceiver || m == BindTransceiver
}

// CanTransmit reports whether the session may submit messages
func (m BindMode) CanTransmit() bool {
	return m == BindTransmitter || m == BindTransceiver
}

// ParseBindMode parses receiver, transmitter or transceiver
func ParseBindMode(s string) (BindMode, error) {
	switch s {
	case "receiver", "rx":
		return BindReceiver, nil
	case "transmitter", "tx":
		return BindTransmitter, nil
	case "transceiver", "trx":
		return BindTransceiver, nil
	}
	return 0, fmt.Errorf("unknown bind mode %q", s)
}

func bindModeOf(commandID uint32) BindMode {
	switch commandID {
	case CommandBindReceiver:
		return BindReceiver
	case CommandBindTransmitter:
		return BindTransmitter
	case CommandBindTransceiver:
		return BindTransceiver
	}
	return 0
}

// Bind is bind_receiver, bind_transmitter or bind_transceiver
type Bind struct {
	commandBase
	SystemID         string
	Password         string
	SystemType       string
	InterfaceVersion byte
	AddrTON          byte
	AddrNPI          byte
	AddressRange     string

	Response BindResp
}

// BindResp holds the bind response fields
type BindResp struct {
	SystemID string
	TLVs     TLVList
}

// NewBind creates a bind request for the given mode
func NewBind(mode BindMode, seq uint32) *Bind {
	return &Bind{
		commandBase:      commandBase{id: mode.CommandID(), seq: seq},
		InterfaceVersion: SMPPVersion,
	}
}

// Mode returns the requested bind mode
func (b *Bind) Mode() BindMode {
	return bindModeOf(b.id)
}

func (b *Bind) marshalRequest(w *pduWriter) {
	w.cstring("system_id", b.SystemID, MaxSystemIDLength)
	w.cstring("password", b.Password, MaxPasswordLength)
	w.cstring("system_type", b.SystemType, MaxSystemTypeLength)
	w.u8(b.InterfaceVersion)
	w.u8(b.AddrTON)
	w.u8(b.AddrNPI)
	w.cstring("address_range", b.AddressRange, MaxAddressRangeLength)
}

func (b *Bind) unmarshalRequest(r *pduReader) {
	b.SystemID = r.cstring("system_id", MaxSystemIDLength)
	b.Password = r.cstring("password", MaxPasswordLength)
	b.SystemType = r.cstring("system_type", MaxSystemTypeLength)
	b.InterfaceVersion = r.u8("interface_version")
	b.AddrTON = r.u8("addr_ton")
	b.AddrNPI = r.u8("addr_npi")
	b.AddressRange = r.cstring("address_range", MaxAddressRangeLength)
}

func (b *Bind) marshalResponse(w *pduWriter) {
	w.cstring("system_id", b.Response.SystemID, MaxSystemIDLength)
	w.tlvs(b.Response.TLVs)
}

func (b *Bind) unmarshalResponse(r *pduReader) {
	b.Response.SystemID = r.cstring("system_id", MaxSystemIDLength)
	b.Response.TLVs = r.tlvs()
}

// Unbind requests the end of a session
type Unbind struct {
	commandBase
}

// NewUnbind creates an unbind request
func NewUnbind(seq uint32) *Unbind {
	return &Unbind{commandBase{id: CommandUnbind, seq: seq}}
}

func (u *Unbind) marshalRequest(*pduWriter)    {}
func (u *Unbind) marshalResponse(*pduWriter)   {}
func (u *Unbind) unmarshalRequest(*pduReader)  {}
func (u *Unbind) unmarshalResponse(*pduReader) {}

// EnquireLink is the keep-alive probe
type EnquireLink struct {
	commandBase
}

// NewEnquireLink creates an enquire_link request
func NewEnquireLink(seq uint32) *EnquireLink {
	return &EnquireLink{commandBase{id: CommandEnquireLink, seq: seq}}
}

func (e *EnquireLink) marshalRequest(*pduWriter)    {}
func (e *EnquireLink) marshalResponse(*pduWriter)   {}
func (e *EnquireLink) unmarshalRequest(*pduReader)  {}
func (e *EnquireLink) unmarshalResponse(*pduReader) {}

// GenericNack answers a PDU that could not be processed. It only exists as a
// response: both its ids carry the response bit.
type GenericNack struct {
	commandBase
}

// NewGenericNack creates a generic_nack for the peer's sequence number
func NewGenericNack(seq, status uint32) *GenericNack {
	return &GenericNack{commandBase{id: CommandGenericNack, seq: seq, status: status}}
}

func (g *GenericNack) marshalRequest(*pduWriter)    {}
func (g *GenericNack) marshalResponse(*pduWriter)   {}
func (g *GenericNack) unmarshalRequest(*pduReader)  {}
func (g *GenericNack) unmarshalResponse(*pduReader) {}
