package smpp

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/smpp34/pkg/encoding"
)

// scriptedSMSC answers client requests through respond. Requests are recorded
// in order; responses written by the client are collected separately.
type scriptedSMSC struct {
	peer      net.Conn
	requests  chan Command
	responses chan PDUHeader
}

func startSMSC(t *testing.T, peer net.Conn, respond func(cmd Command) bool) *scriptedSMSC {
	t.Helper()
	s := &scriptedSMSC{
		peer:      peer,
		requests:  make(chan Command, 64),
		responses: make(chan PDUHeader, 16),
	}
	go func() {
		for {
			pdu, err := ReadPDU(peer, MaxInboundPDU)
			if err != nil {
				return
			}
			h, _ := ParseHeader(pdu)
			if IsResponse(h.CommandID) {
				s.responses <- h
				continue
			}
			cmd, err := DecodeRequest(pdu)
			if err != nil {
				return
			}
			s.requests <- cmd
			if !respond(cmd) {
				continue
			}
			data, err := EncodeResponse(cmd)
			if err != nil {
				return
			}
			if _, err := peer.Write(data); err != nil {
				return
			}
		}
	}()
	return s
}

func (s *scriptedSMSC) send(t *testing.T, cmd Command) {
	t.Helper()
	data, err := EncodeRequest(cmd)
	require.NoError(t, err)
	_, err = s.peer.Write(data)
	require.NoError(t, err)
}

func (s *scriptedSMSC) drain() []Command {
	var cmds []Command
	for {
		select {
		case cmd := <-s.requests:
			cmds = append(cmds, cmd)
		default:
			return cmds
		}
	}
}

type recordingClientHandler struct {
	mu       sync.Mutex
	messages []deliveredMessage
	lost     atomic.Int32
}

func (h *recordingClientHandler) OnIncomingMessage(from, to, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, deliveredMessage{from: from, to: to, text: text})
}

func (h *recordingClientHandler) OnConnectionLost(error) {
	h.lost.Add(1)
}

func acceptAll(Command) bool { return true }

func newTestClient(t *testing.T, mutate func(*ClientConfig), handler ClientHandler, respond func(Command) bool) (*Client, *scriptedSMSC) {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.SystemID = "esme"
	cfg.Password = "secret"
	cfg.AddressRange = "100-200"
	cfg.ResponseTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	client := NewClient(cfg, handler, nil, nil)
	client.retry.InitialDelay = time.Millisecond

	local, peer := net.Pipe()
	smsc := startSMSC(t, peer, respond)
	client.attach(local)
	t.Cleanup(func() {
		client.Close()
		peer.Close()
	})
	return client, smsc
}

func bindClient(t *testing.T, client *Client) {
	t.Helper()
	result, err := client.Bind(context.Background())
	require.NoError(t, err)
	require.Equal(t, LoginOK, result)
}

func TestClientBind(t *testing.T) {
	client, smsc := newTestClient(t, nil, nil, func(cmd Command) bool {
		cmd.(*Bind).Response.SystemID = "SMSC"
		return true
	})

	bindClient(t, client)
	assert.True(t, client.IsBound())
	assert.Equal(t, BindTransceiver, client.Mode())

	bind := (<-smsc.requests).(*Bind)
	assert.Equal(t, CommandBindTransceiver, bind.CommandID())
	assert.Equal(t, "esme", bind.SystemID)
	assert.Equal(t, "secret", bind.Password)
	assert.Equal(t, "100-200", bind.AddressRange)
}

func TestClientBindRejected(t *testing.T) {
	tests := []struct {
		status uint32
		result LoginResult
	}{
		{StatusInvPaswd, LoginInvalidPassword},
		{StatusInvSysID, LoginInvalidUser},
		{StatusInvCmdID, LoginInvalidCommand},
		{StatusBindFail, LoginFail},
	}
	for _, tt := range tests {
		t.Run(tt.result.String(), func(t *testing.T) {
			client, _ := newTestClient(t, nil, nil, func(cmd Command) bool {
				cmd.SetStatus(tt.status)
				return true
			})

			result, err := client.Bind(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.result, result)
			assert.False(t, client.IsBound())
			assert.True(t, client.conn.Closed())
		})
	}
}

func TestClientBindUnknownMode(t *testing.T) {
	client, _ := newTestClient(t, func(cfg *ClientConfig) { cfg.BindType = "sideways" }, nil, acceptAll)
	result, err := client.Bind(context.Background())
	assert.Error(t, err)
	assert.Equal(t, LoginFail, result)
}

func TestClientSendRequiresBind(t *testing.T) {
	client, _ := newTestClient(t, nil, nil, acceptAll)
	result, err := client.SendMessage(context.Background(), "150", "300", "hi")
	assert.ErrorIs(t, err, ErrNotBound)
	assert.Equal(t, DeliveryUnknownError, result)
}

func TestClientSendSingleMessage(t *testing.T) {
	client, smsc := newTestClient(t, nil, nil, func(cmd Command) bool {
		if submit, ok := cmd.(*SubmitSM); ok {
			submit.Response.MessageID = "id-1"
		}
		return true
	})
	bindClient(t, client)
	<-smsc.requests

	result, err := client.SendMessage(context.Background(), "150", "300", "hello [world]")
	require.NoError(t, err)
	assert.Equal(t, DeliveryOK, result)

	submit := (<-smsc.requests).(*SubmitSM)
	assert.Equal(t, "150", submit.Source.Addr)
	assert.Equal(t, "300", submit.Destination.Addr)
	assert.Equal(t, encoding.DataCodingDefault, submit.DataCoding)
	assert.Equal(t, encoding.EncodeGSM7("hello [world]"), submit.ShortMessage)
	assert.False(t, submit.TLVs.Has(TagSarMsgRefNum))
}

func TestClientSendUsesPayloadForLongBody(t *testing.T) {
	client, smsc := newTestClient(t, nil, nil, acceptAll)
	bindClient(t, client)
	<-smsc.requests

	text := strings.Repeat("b", 600)
	result, err := client.SendMessage(context.Background(), "150", "300", text)
	require.NoError(t, err)
	assert.Equal(t, DeliveryOK, result)

	submit := (<-smsc.requests).(*SubmitSM)
	assert.Empty(t, submit.ShortMessage)
	assert.Equal(t, []byte(text), submit.Text())
}

func TestClientSendRetriesOnTimeout(t *testing.T) {
	var calls atomic.Int32
	client, smsc := newTestClient(t, func(cfg *ClientConfig) {
		cfg.ResponseTimeout = 50 * time.Millisecond
	}, nil, func(cmd Command) bool {
		if _, ok := cmd.(*SubmitSM); ok {
			return calls.Add(1) > 1
		}
		return true
	})
	bindClient(t, client)
	<-smsc.requests

	result, err := client.SendMessage(context.Background(), "150", "300", "hi")
	require.NoError(t, err)
	assert.Equal(t, DeliveryOK, result)

	first := (<-smsc.requests).(*SubmitSM)
	second := (<-smsc.requests).(*SubmitSM)
	assert.NotEqual(t, first.SequenceNum(), second.SequenceNum())
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientSendSegmented(t *testing.T) {
	client, smsc := newTestClient(t, func(cfg *ClientConfig) {
		cfg.Messages.EnablePayload = false
	}, nil, acceptAll)
	bindClient(t, client)
	<-smsc.requests

	text := strings.Repeat("a", 3000)
	result, err := client.SendMessage(context.Background(), "150", "300", text)
	require.NoError(t, err)
	assert.Equal(t, DeliveryOK, result)

	parts := smsc.drain()
	require.Len(t, parts, 12)

	var ref uint16
	var joined []byte
	for i, cmd := range parts {
		submit := cmd.(*SubmitSM)
		seg, ok := submit.Segment()
		require.True(t, ok)
		if i == 0 {
			ref = seg.Reference
		}
		assert.Equal(t, ref, seg.Reference)
		assert.Equal(t, uint8(12), seg.Total)
		assert.Equal(t, uint8(i+1), seg.Seq)

		more, _ := submit.TLVs.Uint8(TagMoreMessagesToSend)
		if i < 11 {
			assert.Len(t, submit.ShortMessage, 254)
			assert.Equal(t, uint8(1), more)
		} else {
			assert.Len(t, submit.ShortMessage, 3000-11*254)
			assert.Equal(t, uint8(0), more)
		}
		joined = append(joined, submit.ShortMessage...)
	}
	assert.Equal(t, text, string(joined))
}

func TestClientSendSegmentedWithoutConcatenation(t *testing.T) {
	client, smsc := newTestClient(t, func(cfg *ClientConfig) {
		cfg.Messages.EnablePayload = false
		cfg.Messages.EnableMessageConcatenation = false
	}, nil, acceptAll)
	bindClient(t, client)
	<-smsc.requests

	result, err := client.SendMessage(context.Background(), "150", "300", strings.Repeat("a", 300))
	require.NoError(t, err)
	assert.Equal(t, DeliveryOK, result)

	parts := smsc.drain()
	require.Len(t, parts, 2)
	for _, cmd := range parts {
		assert.False(t, cmd.(*SubmitSM).TLVs.Has(TagSarMsgRefNum))
	}
}

func TestClientSegmentRejectionAborts(t *testing.T) {
	var submits atomic.Int32
	client, smsc := newTestClient(t, func(cfg *ClientConfig) {
		cfg.Messages.EnablePayload = false
	}, nil, func(cmd Command) bool {
		if _, ok := cmd.(*SubmitSM); ok && submits.Add(1) == 2 {
			cmd.SetStatus(StatusThrottled)
		}
		return true
	})
	bindClient(t, client)
	<-smsc.requests

	result, err := client.SendMessage(context.Background(), "150", "300", strings.Repeat("a", 1000))
	require.NoError(t, err)
	assert.Equal(t, DeliveryRejected, result)
	assert.Len(t, smsc.drain(), 2)
}

func TestClientSendPacksGSM7(t *testing.T) {
	client, smsc := newTestClient(t, func(cfg *ClientConfig) {
		cfg.Messages.EnableGSM7BitPacking = true
	}, nil, acceptAll)
	bindClient(t, client)
	<-smsc.requests

	_, err := client.SendMessage(context.Background(), "150", "300", "hello")
	require.NoError(t, err)

	submit := (<-smsc.requests).(*SubmitSM)
	assert.Equal(t, []byte{0xE8, 0x32, 0x9B, 0xFD, 0x06}, submit.ShortMessage)
}

func TestClientSendMessageMulti(t *testing.T) {
	client, smsc := newTestClient(t, nil, nil, func(cmd Command) bool {
		if multi, ok := cmd.(*SubmitMulti); ok {
			multi.Response.MessageID = "multi-1"
			multi.Response.Unsuccessful = []UnsuccessfulSME{
				{Address: Address{Addr: "302"}, ErrorStatus: StatusInvDstAdr},
			}
		}
		return true
	})
	bindClient(t, client)
	<-smsc.requests

	results, err := client.SendMessageMulti(context.Background(), "150", []string{"301", "302", "303"}, "hi")
	require.NoError(t, err)
	assert.Equal(t, []MultiResult{
		{Address: "301", Result: DeliveryOK},
		{Address: "302", Result: DeliveryInvalidDestination},
		{Address: "303", Result: DeliveryOK},
	}, results)

	multi := (<-smsc.requests).(*SubmitMulti)
	require.Len(t, multi.Destinations, 3)
	assert.Equal(t, "301", multi.Destinations[0].Address.Addr)
	assert.Equal(t, "303", multi.Destinations[2].Address.Addr)
}

func TestClientSendMessageMultiFallsBack(t *testing.T) {
	client, smsc := newTestClient(t, func(cfg *ClientConfig) {
		cfg.Messages.EnableSubmitMulti = false
	}, nil, acceptAll)
	bindClient(t, client)
	<-smsc.requests

	results, err := client.SendMessageMulti(context.Background(), "150", []string{"301", "302"}, "hi")
	require.NoError(t, err)
	assert.Len(t, results, 2)

	parts := smsc.drain()
	require.Len(t, parts, 2)
	assert.Equal(t, "301", parts[0].(*SubmitSM).Destination.Addr)
	assert.Equal(t, "302", parts[1].(*SubmitSM).Destination.Addr)
}

func TestClientInboundDeliverSM(t *testing.T) {
	handler := &recordingClientHandler{}
	client, smsc := newTestClient(t, func(cfg *ClientConfig) {
		cfg.Messages.BigEndianUnicode = true
	}, handler, acceptAll)
	bindClient(t, client)
	<-smsc.requests

	deliver := NewDeliverSM(500)
	deliver.Source = Address{Addr: "300"}
	deliver.Destination = Address{Addr: "150"}
	deliver.DataCoding = encoding.DataCodingUCS2
	deliver.SetText([]byte{'h', 0, 'i', 0}, false)
	smsc.send(t, deliver)

	h := <-smsc.responses
	assert.Equal(t, CommandDeliverSMResp, h.CommandID)
	assert.Equal(t, StatusOK, h.CommandStatus)
	assert.Equal(t, uint32(500), h.SequenceNum)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.messages, 1)
	assert.Equal(t, deliveredMessage{from: "300", to: "150", text: "hi"}, handler.messages[0])
}

func TestClientInboundDeliverSMReassembly(t *testing.T) {
	parts := []string{"Hello, ", "segmented ", "world"}
	order := []int{2, 0, 1}

	sendParts := func(t *testing.T, smsc *scriptedSMSC) {
		for i, idx := range order {
			deliver := NewDeliverSM(uint32(700 + i))
			deliver.Source = Address{Addr: "300"}
			deliver.Destination = Address{Addr: "150"}
			deliver.DataCoding = encoding.DataCodingUTF8
			deliver.SetText([]byte(parts[idx]), false)
			deliver.SetSegment(Segment{Reference: 42, Total: 3, Seq: uint8(idx + 1)})
			smsc.send(t, deliver)

			h := <-smsc.responses
			assert.Equal(t, CommandDeliverSMResp, h.CommandID)
			assert.Equal(t, StatusOK, h.CommandStatus)
			assert.Equal(t, uint32(700+i), h.SequenceNum)
		}
	}

	t.Run("enabled", func(t *testing.T) {
		handler := &recordingClientHandler{}
		client, smsc := newTestClient(t, func(cfg *ClientConfig) {
			cfg.ReassembleParts = true
		}, handler, acceptAll)
		bindClient(t, client)
		<-smsc.requests

		sendParts(t, smsc)

		handler.mu.Lock()
		defer handler.mu.Unlock()
		require.Len(t, handler.messages, 1)
		assert.Equal(t, deliveredMessage{from: "300", to: "150", text: "Hello, segmented world"}, handler.messages[0])
		assert.Zero(t, client.parts.Pending())
	})

	t.Run("disabled", func(t *testing.T) {
		handler := &recordingClientHandler{}
		client, smsc := newTestClient(t, nil, handler, acceptAll)
		bindClient(t, client)
		<-smsc.requests

		sendParts(t, smsc)

		handler.mu.Lock()
		defer handler.mu.Unlock()
		require.Len(t, handler.messages, 3)
		assert.Equal(t, "world", handler.messages[0].text)
	})
}

func TestClientInboundRequests(t *testing.T) {
	client, smsc := newTestClient(t, nil, nil, acceptAll)
	bindClient(t, client)
	<-smsc.requests

	smsc.send(t, NewEnquireLink(600))
	h := <-smsc.responses
	assert.Equal(t, CommandEnquireLinkResp, h.CommandID)
	assert.Equal(t, uint32(600), h.SequenceNum)

	smsc.send(t, NewSubmitSM(601))
	h = <-smsc.responses
	assert.Equal(t, CommandGenericNack, h.CommandID)
	assert.Equal(t, StatusInvCmdID, h.CommandStatus)
	assert.Equal(t, uint32(601), h.SequenceNum)
}

func TestClientKeepAliveAndUnbind(t *testing.T) {
	client, smsc := newTestClient(t, nil, nil, acceptAll)
	bindClient(t, client)
	<-smsc.requests

	assert.True(t, client.SendKeepAlive(context.Background()))
	assert.Equal(t, CommandEnquireLink, (<-smsc.requests).CommandID())

	require.NoError(t, client.Unbind(context.Background()))
	assert.Equal(t, CommandUnbind, (<-smsc.requests).CommandID())
	assert.False(t, client.IsBound())
	assert.False(t, client.SendKeepAlive(context.Background()))
}

func TestClientConnectionLost(t *testing.T) {
	handler := &recordingClientHandler{}
	client, smsc := newTestClient(t, nil, handler, acceptAll)
	bindClient(t, client)
	<-smsc.requests

	smsc.peer.Close()
	<-client.conn.Done()

	assert.Equal(t, int32(1), handler.lost.Load())
	assert.False(t, client.IsBound())
}

func TestClientConnectionLostBeforeBind(t *testing.T) {
	handler := &recordingClientHandler{}
	client, smsc := newTestClient(t, nil, handler, acceptAll)

	smsc.peer.Close()
	<-client.conn.Done()
	assert.Equal(t, int32(0), handler.lost.Load())
}

func TestSubmitResult(t *testing.T) {
	assert.Equal(t, DeliveryOK, submitResult(StatusOK))
	assert.Equal(t, DeliveryInvalidSource, submitResult(StatusInvSrcAdr))
	assert.Equal(t, DeliveryInvalidDestination, submitResult(StatusInvDstAdr))
	assert.Equal(t, DeliveryRejected, submitResult(StatusInvCmdID))
	assert.Equal(t, DeliveryRejected, submitResult(StatusThrottled))
	assert.Equal(t, DeliveryUnknownError, submitResult(StatusSysErr))
}

func TestSplitBody(t *testing.T) {
	chunks := splitBody([]byte("abcdefg"), 3, false)
	assert.Equal(t, [][]byte{[]byte("abc"), []byte("def"), []byte("g")}, chunks)

	chunks = splitBody([]byte{'a', 'b', 0x1B, 0x28, 'c'}, 3, true)
	assert.Equal(t, [][]byte{{'a', 'b'}, {0x1B, 0x28, 'c'}}, chunks)
}
