package smpp

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBody() MessageBody {
	return MessageBody{
		EsmClass:           EsmClassStoreForward,
		ProtocolID:         0x7F,
		PriorityFlag:       1,
		ValidityPeriod:     "000001000000000R",
		RegisteredDelivery: 1,
		DataCoding:         0x08,
		ShortMessage:       []byte{0x00, 'h', 0x00, 'i'},
		TLVs:               TLVList{{Tag: TagUserMessageReference, Value: []byte{0x00, 0x2A}}},
	}
}

func TestRequestRoundTrip(t *testing.T) {
	bind := NewBind(BindTransceiver, 11)
	bind.SystemID = "esme01"
	bind.Password = "secret"
	bind.SystemType = "VMA"
	bind.AddrTON = TONInternational
	bind.AddrNPI = NPIISDN
	bind.AddressRange = "100-200|555"

	submit := NewSubmitSM(12)
	submit.ServiceType = "CMT"
	submit.Source = Address{TON: TONAlphanumeric, Addr: "Acme"}
	submit.Destination = Address{TON: TONInternational, NPI: NPIISDN, Addr: "15551234567"}
	submit.MessageBody = sampleBody()

	deliver := NewDeliverSM(13)
	deliver.Source = Address{Addr: "2000"}
	deliver.Destination = Address{Addr: "150"}
	deliver.MessageBody = sampleBody()
	deliver.SetText(bytes.Repeat([]byte{'x'}, 600), false)

	multi := NewSubmitMulti(14)
	multi.Source = Address{Addr: "100"}
	multi.AddDestination(Address{TON: 1, NPI: 1, Addr: "111"})
	multi.AddDistributionList("friends")
	multi.AddDestination(Address{Addr: "333"})
	multi.MessageBody = sampleBody()

	tests := []struct {
		name  string
		cmd   Command
		fresh func() Command
	}{
		{"bind_transceiver", bind, func() Command { return NewBind(BindTransceiver, 0) }},
		{"unbind", NewUnbind(7), func() Command { return NewUnbind(0) }},
		{"enquire_link", NewEnquireLink(8), func() Command { return NewEnquireLink(0) }},
		{"submit_sm", submit, func() Command { return NewSubmitSM(0) }},
		{"deliver_sm", deliver, func() Command { return NewDeliverSM(0) }},
		{"submit_multi", multi, func() Command { return NewSubmitMulti(0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdu, err := EncodeRequest(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, uint32(len(pdu)), binary.BigEndian.Uint32(pdu[0:4]))

			got := tt.fresh()
			require.NoError(t, UnpackRequest(got, pdu))
			assert.Equal(t, tt.cmd, got)

			decoded, err := DecodeRequest(pdu)
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, decoded)
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	t.Run("bind_resp", func(t *testing.T) {
		bind := NewBind(BindReceiver, 3)
		bind.Response.SystemID = "SMSC"
		bind.Response.TLVs.SetUint8(TagSCInterfaceVersion, SMPPVersion)

		pdu, err := EncodeResponse(bind)
		require.NoError(t, err)

		got := NewBind(BindReceiver, 0)
		require.NoError(t, UnpackResponse(got, pdu))
		assert.Equal(t, bind.Response, got.Response)
		assert.Equal(t, uint32(3), got.SequenceNum())
	})

	t.Run("submit_sm_resp", func(t *testing.T) {
		submit := NewSubmitSM(4)
		submit.Response.MessageID = "a1b2c3"

		pdu, err := EncodeResponse(submit)
		require.NoError(t, err)
		assert.Equal(t, CommandSubmitSMResp, binary.BigEndian.Uint32(pdu[4:8]))

		got := NewSubmitSM(0)
		require.NoError(t, UnpackResponse(got, pdu))
		assert.Equal(t, "a1b2c3", got.Response.MessageID)
	})

	t.Run("submit_multi_resp keeps order", func(t *testing.T) {
		multi := NewSubmitMulti(5)
		multi.Response.MessageID = "m1"
		multi.Response.Unsuccessful = []UnsuccessfulSME{
			{Address: Address{Addr: "111"}, ErrorStatus: StatusInvDstAdr},
			{Address: Address{TON: 1, Addr: "222"}, ErrorStatus: StatusThrottled},
		}

		pdu, err := EncodeResponse(multi)
		require.NoError(t, err)

		got := NewSubmitMulti(0)
		require.NoError(t, UnpackResponse(got, pdu))
		assert.Equal(t, multi.Response, got.Response)
	})

	t.Run("error status without body", func(t *testing.T) {
		pdu := make([]byte, HeaderLength)
		PDUHeader{CommandLength: HeaderLength, CommandID: CommandSubmitSMResp, CommandStatus: StatusThrottled, SequenceNum: 9}.put(pdu)

		got := NewSubmitSM(0)
		require.NoError(t, UnpackResponse(got, pdu))
		assert.Equal(t, StatusThrottled, got.Status())
		assert.Empty(t, got.Response.MessageID)
	})

	t.Run("generic_nack", func(t *testing.T) {
		pdu, err := EncodeResponse(NewGenericNack(77, StatusInvCmdID))
		require.NoError(t, err)

		h, err := ParseHeader(pdu)
		require.NoError(t, err)
		assert.Equal(t, PDUHeader{CommandLength: HeaderLength, CommandID: CommandGenericNack, CommandStatus: StatusInvCmdID, SequenceNum: 77}, h)
	})
}

func TestUnpackErrors(t *testing.T) {
	t.Run("command id mismatch", func(t *testing.T) {
		pdu, err := EncodeRequest(NewEnquireLink(1))
		require.NoError(t, err)

		err = UnpackRequest(NewUnbind(0), pdu)
		assert.ErrorIs(t, err, ErrInvalidCommandID)

		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CommandEnquireLink, perr.CommandID)
	})

	t.Run("short header", func(t *testing.T) {
		assert.ErrorIs(t, UnpackRequest(NewUnbind(0), []byte{0, 0, 0}), ErrMalformedPDU)
	})

	t.Run("truncated body", func(t *testing.T) {
		submit := NewSubmitSM(1)
		submit.Source.Addr = "100"
		submit.Destination.Addr = "200"
		submit.SetText([]byte("hello"), false)
		pdu, err := EncodeRequest(submit)
		require.NoError(t, err)

		cut := append([]byte(nil), pdu[:len(pdu)-3]...)
		binary.BigEndian.PutUint32(cut[0:4], uint32(len(cut)))
		assert.ErrorIs(t, UnpackRequest(NewSubmitSM(0), cut), ErrMalformedPDU)
	})

	t.Run("length mismatch", func(t *testing.T) {
		pdu, err := EncodeRequest(NewEnquireLink(1))
		require.NoError(t, err)
		binary.BigEndian.PutUint32(pdu[0:4], 20)
		assert.ErrorIs(t, UnpackRequest(NewEnquireLink(0), pdu), ErrMalformedPDU)
	})

	t.Run("tlv length past end", func(t *testing.T) {
		submit := NewSubmitSM(1)
		pdu, err := EncodeRequest(submit)
		require.NoError(t, err)

		pdu = append(pdu, 0x04, 0x24, 0x00, 0x10, 'a')
		binary.BigEndian.PutUint32(pdu[0:4], uint32(len(pdu)))
		assert.ErrorIs(t, UnpackRequest(NewSubmitSM(0), pdu), ErrMalformedPDU)
	})

	t.Run("unterminated cstring", func(t *testing.T) {
		pdu := make([]byte, HeaderLength, 64)
		pdu = append(pdu, []byte("abcdefghijklmnopqrstuvwxyz")...)
		PDUHeader{CommandLength: uint32(len(pdu)), CommandID: CommandBindTransmitter, SequenceNum: 1}.put(pdu)
		assert.ErrorIs(t, UnpackRequest(NewBind(BindTransmitter, 0), pdu), ErrMalformedPDU)
	})

	t.Run("unsupported command", func(t *testing.T) {
		pdu := make([]byte, HeaderLength)
		PDUHeader{CommandLength: HeaderLength, CommandID: CommandQuerySM, SequenceNum: 1}.put(pdu)
		_, err := DecodeRequest(pdu)
		assert.ErrorIs(t, err, ErrInvalidCommandID)
	})
}

func TestUnknownTLVsAreKept(t *testing.T) {
	submit := NewSubmitSM(1)
	submit.TLVs = TLVList{
		{Tag: 0x1400, Value: []byte("vendor")},
		{Tag: TagSourcePort, Value: []byte{0x0B, 0x84}},
	}
	pdu, err := EncodeRequest(submit)
	require.NoError(t, err)

	got := NewSubmitSM(0)
	require.NoError(t, UnpackRequest(got, pdu))
	port, ok := got.TLVs.Uint16(TagSourcePort)
	require.True(t, ok)
	assert.Equal(t, uint16(2948), port)
	assert.True(t, got.TLVs.Has(0x1400))
}

func TestEncodeGrowsBuffer(t *testing.T) {
	t.Run("payload needs a larger buffer", func(t *testing.T) {
		submit := NewSubmitSM(1)
		submit.SetText(bytes.Repeat([]byte{'z'}, 1000), false)

		buf := make([]byte, InitialPDUBuffer)
		_, err := PackRequest(submit, buf)
		assert.ErrorIs(t, err, ErrBufferTooSmall)

		pdu, err := EncodeRequest(submit)
		require.NoError(t, err)
		assert.Greater(t, len(pdu), 1000)
	})

	t.Run("gives up past the limit", func(t *testing.T) {
		submit := NewSubmitSM(1)
		submit.TLVs.Set(0x1500, bytes.Repeat([]byte{'z'}, MaxPDUBuffer))

		_, err := EncodeRequest(submit)
		assert.ErrorIs(t, err, ErrPDUTooLarge)
	})

	t.Run("field limits", func(t *testing.T) {
		bind := NewBind(BindTransmitter, 1)
		bind.SystemID = strings.Repeat("s", MaxSystemIDLength)
		_, err := EncodeRequest(bind)
		assert.ErrorIs(t, err, ErrFieldTooLong)
	})
}

func TestMessageText(t *testing.T) {
	t.Run("short message", func(t *testing.T) {
		var m MessageBody
		m.SetText([]byte("hi"), false)
		assert.Equal(t, []byte("hi"), m.ShortMessage)
		assert.False(t, m.TLVs.Has(TagMessagePayload))
		assert.Equal(t, []byte("hi"), m.Text())
	})

	t.Run("long body uses payload", func(t *testing.T) {
		var m MessageBody
		body := bytes.Repeat([]byte{'a'}, MaxShortMessageLength+1)
		m.SetText(body, false)
		assert.Empty(t, m.ShortMessage)
		assert.Equal(t, body, m.Text())
	})

	t.Run("forced payload", func(t *testing.T) {
		var m MessageBody
		m.SetText([]byte("hi"), true)
		assert.Empty(t, m.ShortMessage)
		assert.Equal(t, []byte("hi"), m.Text())
	})

	t.Run("payload is capped", func(t *testing.T) {
		var m MessageBody
		m.SetText(bytes.Repeat([]byte{'a'}, 2000), false)
		assert.Len(t, m.Text(), MaxPayloadLength)
	})
}

func TestSegmentTLVs(t *testing.T) {
	var m MessageBody
	m.SetSegment(Segment{Reference: 0xBEEF, Total: 3, Seq: 2})

	seg, ok := m.Segment()
	require.True(t, ok)
	assert.Equal(t, Segment{Reference: 0xBEEF, Total: 3, Seq: 2}, seg)

	more, _ := m.TLVs.Uint8(TagMoreMessagesToSend)
	assert.Equal(t, uint8(1), more)

	m.SetSegment(Segment{Reference: 0xBEEF, Total: 3, Seq: 3})
	more, _ = m.TLVs.Uint8(TagMoreMessagesToSend)
	assert.Equal(t, uint8(0), more)

	m.TLVs.SetUint8(TagSarSegmentSeqnum, 4)
	_, ok = m.Segment()
	assert.False(t, ok)
}

func TestFixLegacySubmitSMResp(t *testing.T) {
	build := func(body []byte) []byte {
		pdu := make([]byte, HeaderLength, HeaderLength+len(body))
		pdu = append(pdu, body...)
		PDUHeader{CommandLength: uint32(len(pdu)), CommandID: CommandSubmitSMResp, SequenceNum: 5}.put(pdu)
		return pdu
	}

	t.Run("padded body is cut", func(t *testing.T) {
		pdu := build([]byte("id42\x00\x00\x00garbage"))
		fixed := FixLegacySubmitSMResp(pdu)
		assert.Len(t, fixed, HeaderLength+5)
		assert.Equal(t, uint32(HeaderLength+5), binary.BigEndian.Uint32(fixed[0:4]))

		got := NewSubmitSM(0)
		require.NoError(t, UnpackResponse(got, fixed))
		assert.Equal(t, "id42", got.Response.MessageID)
	})

	t.Run("conformant pdu untouched", func(t *testing.T) {
		pdu := build([]byte("id42\x00"))
		assert.Equal(t, pdu, FixLegacySubmitSMResp(pdu))
	})

	t.Run("missing terminator", func(t *testing.T) {
		pdu := build([]byte("id42"))
		fixed := FixLegacySubmitSMResp(pdu)
		assert.Equal(t, pdu, fixed)

		got := NewSubmitSM(0)
		require.NoError(t, UnpackResponse(got, fixed))
		assert.Equal(t, "id42", got.Response.MessageID)
	})
}

func TestReadPDU(t *testing.T) {
	t.Run("reads one pdu at a time", func(t *testing.T) {
		a, err := EncodeRequest(NewEnquireLink(1))
		require.NoError(t, err)
		b, err := EncodeRequest(NewUnbind(2))
		require.NoError(t, err)

		r := bytes.NewReader(append(append([]byte(nil), a...), b...))
		first, err := ReadPDU(r, MaxInboundPDU)
		require.NoError(t, err)
		assert.Equal(t, a, first)

		second, err := ReadPDU(r, MaxInboundPDU)
		require.NoError(t, err)
		assert.Equal(t, b, second)
	})

	t.Run("rejects absurd length", func(t *testing.T) {
		header := make([]byte, HeaderLength)
		PDUHeader{CommandLength: 8, CommandID: CommandEnquireLink}.put(header)
		_, err := ReadPDU(bytes.NewReader(header), MaxInboundPDU)
		assert.ErrorIs(t, err, ErrMalformedPDU)

		PDUHeader{CommandLength: MaxInboundPDU + 1, CommandID: CommandEnquireLink}.put(header)
		_, err = ReadPDU(bytes.NewReader(header), MaxInboundPDU)
		assert.ErrorIs(t, err, ErrMalformedPDU)
	})
}
