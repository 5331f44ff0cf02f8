package smpp

import (
	"bytes"
	"fmt"
)

// MessageBody holds the fields shared by submit_sm, deliver_sm and submit_multi
// after the addressing block.
type MessageBody struct {
	EsmClass             byte
	ProtocolID           byte
	PriorityFlag         byte
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   byte
	ReplaceIfPresent     byte
	DataCoding           byte
	SMDefaultMsgID       byte
	ShortMessage         []byte
	TLVs                 TLVList
}

// Text returns the message content from short_message, or from the
// message_payload parameter when short_message is empty.
func (m *MessageBody) Text() []byte {
	if len(m.ShortMessage) > 0 {
		return m.ShortMessage
	}
	if t, ok := m.TLVs.Get(TagMessagePayload); ok {
		return t.Value
	}
	return nil
}

// SetText stores content inline when it fits in short_message and payload is
// not forced, otherwise in message_payload. Payload content is capped at
// MaxPayloadLength bytes.
func (m *MessageBody) SetText(text []byte, forcePayload bool) {
	if !forcePayload && len(text) <= MaxShortMessageLength {
		m.ShortMessage = append([]byte(nil), text...)
		m.TLVs.Remove(TagMessagePayload)
		return
	}
	if len(text) > MaxPayloadLength {
		text = text[:MaxPayloadLength]
	}
	m.ShortMessage = nil
	m.TLVs.Set(TagMessagePayload, append([]byte(nil), text...))
}

// Segment describes one part of a concatenated message
type Segment struct {
	Reference uint16
	Total     uint8
	Seq       uint8
}

// SetSegment tags the message with SAR parameters
func (m *MessageBody) SetSegment(s Segment) {
	m.TLVs.SetUint16(TagSarMsgRefNum, s.Reference)
	m.TLVs.SetUint8(TagSarTotalSegments, s.Total)
	m.TLVs.SetUint8(TagSarSegmentSeqnum, s.Seq)
	more := uint8(0)
	if s.Total > s.Seq {
		more = 1
	}
	m.TLVs.SetUint8(TagMoreMessagesToSend, more)
}

// Segment returns the SAR parameters, if all three are present and sane
func (m *MessageBody) Segment() (Segment, bool) {
	ref, ok1 := m.TLVs.Uint16(TagSarMsgRefNum)
	total, ok2 := m.TLVs.Uint8(TagSarTotalSegments)
	seq, ok3 := m.TLVs.Uint8(TagSarSegmentSeqnum)
	if !ok1 || !ok2 || !ok3 || total == 0 || seq == 0 || seq > total {
		return Segment{}, false
	}
	return Segment{Reference: ref, Total: total, Seq: seq}, true
}

func (m *MessageBody) marshal(w *pduWriter) {
	if len(m.ShortMessage) > MaxShortMessageLength {
		w.fail(fmt.Errorf("%w: short_message is %d bytes, use message_payload", ErrFieldTooLong, len(m.ShortMessage)))
		return
	}
	w.u8(m.EsmClass)
	w.u8(m.ProtocolID)
	w.u8(m.PriorityFlag)
	w.cstring("schedule_delivery_time", m.ScheduleDeliveryTime, MaxTimeLength)
	w.cstring("validity_period", m.ValidityPeriod, MaxTimeLength)
	w.u8(m.RegisteredDelivery)
	w.u8(m.ReplaceIfPresent)
	w.u8(m.DataCoding)
	w.u8(m.SMDefaultMsgID)
	w.u8(byte(len(m.ShortMessage)))
	w.octets(m.ShortMessage)
	w.tlvs(m.TLVs)
}

func (m *MessageBody) unmarshal(r *pduReader) {
	m.EsmClass = r.u8("esm_class")
	m.ProtocolID = r.u8("protocol_id")
	m.PriorityFlag = r.u8("priority_flag")
	m.ScheduleDeliveryTime = r.cstring("schedule_delivery_time", MaxTimeLength)
	m.ValidityPeriod = r.cstring("validity_period", MaxTimeLength)
	m.RegisteredDelivery = r.u8("registered_delivery")
	m.ReplaceIfPresent = r.u8("replace_if_present_flag")
	m.DataCoding = r.u8("data_coding")
	m.SMDefaultMsgID = r.u8("sm_default_msg_id")
	length := int(r.u8("sm_length"))
	m.ShortMessage = r.octets(length, "short_message")
	m.TLVs = r.tlvs()
}

// SubmitSM is a message from an ESME to the SMSC
type SubmitSM struct {
	commandBase
	ServiceType string
	Source      Address
	Destination Address
	MessageBody

	Response SubmitSMResp
}

// SubmitSMResp holds the submit_sm response fields
type SubmitSMResp struct {
	MessageID string
}

// NewSubmitSM creates a submit_sm request
func NewSubmitSM(seq uint32) *SubmitSM {
	return &SubmitSM{commandBase: commandBase{id: CommandSubmitSM, seq: seq}}
}

func (s *SubmitSM) marshalRequest(w *pduWriter) {
	w.cstring("service_type", s.ServiceType, MaxServiceTypeLength)
	w.address("source_addr", s.Source, MaxAddressLength)
	w.address("destination_addr", s.Destination, MaxAddressLength)
	s.MessageBody.marshal(w)
}

func (s *SubmitSM) unmarshalRequest(r *pduReader) {
	s.ServiceType = r.cstring("service_type", MaxServiceTypeLength)
	s.Source = r.address("source_addr", MaxAddressLength)
	s.Destination = r.address("destination_addr", MaxAddressLength)
	s.MessageBody.unmarshal(r)
}

func (s *SubmitSM) marshalResponse(w *pduWriter) {
	w.cstring("message_id", s.Response.MessageID, MaxMessageIDLength)
}

// Some peers leave the terminator off the message id; the rest of the body
// is taken as the id in that case.
func (s *SubmitSM) unmarshalResponse(r *pduReader) {
	s.Response.MessageID = lenientMessageID(r)
}

// DeliverSM is a message from the SMSC to an ESME
type DeliverSM struct {
	commandBase
	ServiceType string
	Source      Address
	Destination Address
	MessageBody

	Response DeliverSMResp
}

// DeliverSMResp holds the deliver_sm response fields
type DeliverSMResp struct {
	MessageID string
}

// NewDeliverSM creates a deliver_sm request
func NewDeliverSM(seq uint32) *DeliverSM {
	return &DeliverSM{commandBase: commandBase{id: CommandDeliverSM, seq: seq}}
}

func (d *DeliverSM) marshalRequest(w *pduWriter) {
	w.cstring("service_type", d.ServiceType, MaxServiceTypeLength)
	w.address("source_addr", d.Source, MaxAddressLength)
	w.address("destination_addr", d.Destination, MaxAddressLength)
	d.MessageBody.marshal(w)
}

func (d *DeliverSM) unmarshalRequest(r *pduReader) {
	d.ServiceType = r.cstring("service_type", MaxServiceTypeLength)
	d.Source = r.address("source_addr", MaxAddressLength)
	d.Destination = r.address("destination_addr", MaxAddressLength)
	d.MessageBody.unmarshal(r)
}

func (d *DeliverSM) marshalResponse(w *pduWriter) {
	w.cstring("message_id", d.Response.MessageID, MaxMessageIDLength)
}

func (d *DeliverSM) unmarshalResponse(r *pduReader) {
	d.Response.MessageID = lenientMessageID(r)
}

func lenientMessageID(r *pduReader) string {
	if r.remaining() == 0 {
		return ""
	}
	rest := r.data[r.off:]
	if bytes.IndexByte(rest, 0) >= 0 {
		return r.cstring("message_id", MaxMessageIDLength)
	}
	r.off = len(r.data)
	return string(rest)
}

// Destination flags for submit_multi
const (
	DestFlagSMEAddress       = 0x01
	DestFlagDistributionList = 0x02
)

// DestinationAddress is one submit_multi recipient: an SME address or a
// distribution list name.
type DestinationAddress struct {
	Flag             byte
	Address          Address
	DistributionList string
}

// UnsuccessfulSME is one recipient the SMSC could not accept
type UnsuccessfulSME struct {
	Address     Address
	ErrorStatus uint32
}

// SubmitMulti is a message from an ESME to several recipients
type SubmitMulti struct {
	commandBase
	ServiceType  string
	Source       Address
	Destinations []DestinationAddress
	MessageBody

	Response SubmitMultiResp
}

// SubmitMultiResp holds the submit_multi response fields
type SubmitMultiResp struct {
	MessageID    string
	Unsuccessful []UnsuccessfulSME
}

// NewSubmitMulti creates a submit_multi request
func NewSubmitMulti(seq uint32) *SubmitMulti {
	return &SubmitMulti{commandBase: commandBase{id: CommandSubmitMulti, seq: seq}}
}

// AddDestination appends an SME address recipient
func (s *SubmitMulti) AddDestination(a Address) {
	s.Destinations = append(s.Destinations, DestinationAddress{Flag: DestFlagSMEAddress, Address: a})
}

// AddDistributionList appends a distribution list recipient
func (s *SubmitMulti) AddDistributionList(name string) {
	s.Destinations = append(s.Destinations, DestinationAddress{Flag: DestFlagDistributionList, DistributionList: name})
}

func (s *SubmitMulti) marshalRequest(w *pduWriter) {
	if len(s.Destinations) == 0 || len(s.Destinations) > MaxDestinations {
		w.fail(fmt.Errorf("%w: %d destinations", ErrInvalidField, len(s.Destinations)))
		return
	}
	w.cstring("service_type", s.ServiceType, MaxServiceTypeLength)
	w.address("source_addr", s.Source, MaxAddressLength)
	w.u8(byte(len(s.Destinations)))
	for _, d := range s.Destinations {
		w.u8(d.Flag)
		switch d.Flag {
		case DestFlagSMEAddress:
			w.address("destination_addr", d.Address, MaxAddressLength)
		case DestFlagDistributionList:
			w.cstring("dl_name", d.DistributionList, MaxAddressLength)
		default:
			w.fail(fmt.Errorf("%w: dest_flag %d", ErrInvalidField, d.Flag))
		}
	}
	s.MessageBody.marshal(w)
}

func (s *SubmitMulti) unmarshalRequest(r *pduReader) {
	s.ServiceType = r.cstring("service_type", MaxServiceTypeLength)
	s.Source = r.address("source_addr", MaxAddressLength)
	count := int(r.u8("number_of_dests"))
	s.Destinations = nil
	for i := 0; i < count && r.err == nil; i++ {
		d := DestinationAddress{Flag: r.u8("dest_flag")}
		switch d.Flag {
		case DestFlagSMEAddress:
			d.Address = r.address("destination_addr", MaxAddressLength)
		case DestFlagDistributionList:
			d.DistributionList = r.cstring("dl_name", MaxAddressLength)
		default:
			r.fail("unknown dest_flag %d", d.Flag)
		}
		s.Destinations = append(s.Destinations, d)
	}
	s.MessageBody.unmarshal(r)
}

func (s *SubmitMulti) marshalResponse(w *pduWriter) {
	w.cstring("message_id", s.Response.MessageID, MaxMessageIDLength)
	if len(s.Response.Unsuccessful) > MaxDestinations {
		w.fail(ErrInvalidField)
		return
	}
	w.u8(byte(len(s.Response.Unsuccessful)))
	for _, u := range s.Response.Unsuccessful {
		w.address("dest_addr", u.Address, MaxAddressLength)
		w.u32(u.ErrorStatus)
	}
}

func (s *SubmitMulti) unmarshalResponse(r *pduReader) {
	s.Response.MessageID = r.cstring("message_id", MaxMessageIDLength)
	count := int(r.u8("no_unsuccess"))
	s.Response.Unsuccessful = nil
	for i := 0; i < count && r.err == nil; i++ {
		u := UnsuccessfulSME{Address: r.address("dest_addr", MaxAddressLength)}
		u.ErrorStatus = r.u32("error_status_code")
		s.Response.Unsuccessful = append(s.Response.Unsuccessful, u)
	}
}
