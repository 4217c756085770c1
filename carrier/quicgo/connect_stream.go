package quicgo

import (
	"fmt"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"webtransport/capsule"
	"webtransport/carrier"
	"webtransport/varint"
)

// ConnectStream adapts the bidirectional QUIC stream carrying an
// extended-CONNECT request/response to carrier.ConnectStream.
//
// A full HTTP/3 implementation multiplexes DATA frames and HTTP
// datagrams (RFC 9297) with their own framing and quarter-stream-id
// prefix on top of this stream; that layer is named as an external
// collaborator and not implemented here. This adapter instead treats the
// stream body as the capsule byte stream directly, and prefixes every
// datagram sent on the owning QUIC connection with its context ID as a
// single varint, which is the part of RFC 9297 this module actually
// needs to exercise the datagram demultiplexing logic end to end.
type ConnectStream struct {
	id   carrier.StreamID
	conn *Conn
	qs   *quic.Stream

	capsules *capsule.Reader

	mu                     sync.Mutex
	visitor                carrier.DatagramRegistrationVisitor
	useContexts            bool
	registeredContexts     map[carrier.ContextID]carrier.DatagramRegistrationVisitor
	nextContextID          carrier.ContextID
	maxDatagramTimeInQueue time.Duration
}

// NewConnectStream wraps qs, the stream on which the extended CONNECT
// exchange already completed.
func NewConnectStream(conn *Conn, qs *quic.Stream) *ConnectStream {
	return &ConnectStream{
		id:                 carrier.StreamID(qs.StreamID()),
		conn:               conn,
		qs:                 qs,
		capsules:           capsule.NewReader(qs),
		registeredContexts: make(map[carrier.ContextID]carrier.DatagramRegistrationVisitor),
	}
}

func (cs *ConnectStream) ID() carrier.StreamID { return cs.id }

func (cs *ConnectStream) WriteCapsule(c capsule.Capsule, fin bool) error {
	if _, err := cs.qs.Write(c.Encode()); err != nil {
		return fmt.Errorf("quicgo: write capsule: %w", err)
	}
	if fin {
		return cs.qs.Close()
	}
	return nil
}

func (cs *ConnectStream) WriteOrBufferBody(data []byte, fin bool) error {
	if len(data) > 0 {
		if _, err := cs.qs.Write(data); err != nil {
			return fmt.Errorf("quicgo: write body: %w", err)
		}
	}
	if fin {
		return cs.qs.Close()
	}
	return nil
}

func (cs *ConnectStream) ResetStream(errorCode uint64) {
	cs.qs.CancelRead(quic.StreamErrorCode(errorCode))
	cs.qs.CancelWrite(quic.StreamErrorCode(errorCode))
}

// ReadCapsule blocks for the next capsule on the CONNECT stream. It is
// not part of carrier.ConnectStream; a dispatcher loop calls it directly
// to feed Session.OnCloseReceived and friends.
func (cs *ConnectStream) ReadCapsule() (capsule.Capsule, error) {
	return cs.capsules.ReadCapsule()
}

func (cs *ConnectStream) RegisterDatagramRegistrationVisitor(v carrier.DatagramRegistrationVisitor, attemptToUseDatagramContexts bool) {
	cs.mu.Lock()
	cs.visitor = v
	cs.useContexts = attemptToUseDatagramContexts
	cs.mu.Unlock()
}

func (cs *ConnectStream) UnregisterDatagramRegistrationVisitor() {
	cs.mu.Lock()
	cs.visitor = nil
	cs.mu.Unlock()
}

func (cs *ConnectStream) RegisterDatagramContextID(contextID *carrier.ContextID, format carrier.DatagramFormat, formatAdditionalData []byte, v carrier.DatagramRegistrationVisitor) error {
	if contextID == nil {
		return fmt.Errorf("quicgo: nil context id")
	}
	cs.mu.Lock()
	cs.registeredContexts[*contextID] = v
	cs.mu.Unlock()
	return nil
}

func (cs *ConnectStream) UnregisterDatagramContextID(contextID *carrier.ContextID) {
	if contextID == nil {
		return
	}
	cs.mu.Lock()
	delete(cs.registeredContexts, *contextID)
	cs.mu.Unlock()
}

func (cs *ConnectStream) NextDatagramContextID() carrier.ContextID {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	id := cs.nextContextID
	cs.nextContextID++
	return id
}

// SendHTTP3Datagram sends payload on the owning QUIC connection, with
// contextID (or the implicit "no context" marker) as a leading varint.
func (cs *ConnectStream) SendHTTP3Datagram(contextID *carrier.ContextID, payload []byte) (carrier.SendStatus, error) {
	framed := encodeDatagramContext(contextID)
	framed = append(framed, payload...)
	if len(payload) > cs.MaxDatagramSize(contextID) {
		return carrier.SendStatusDroppedTooBig, nil
	}
	if err := cs.conn.SendDatagram(framed); err != nil {
		return carrier.SendStatusDroppedNoCapacity, err
	}
	return carrier.SendStatusSent, nil
}

func (cs *ConnectStream) MaxDatagramSize(contextID *carrier.ContextID) int {
	max := cs.conn.MaxDatagramSize() - len(encodeDatagramContext(contextID))
	if max < 0 {
		return 0
	}
	return max
}

// SetMaxDatagramTimeInQueue records d. This adapter keeps no datagram
// queue (SendHTTP3Datagram hands each datagram to the connection at
// once), so the recorded value is not applied to anything.
func (cs *ConnectStream) SetMaxDatagramTimeInQueue(d time.Duration) {
	cs.mu.Lock()
	cs.maxDatagramTimeInQueue = d
	cs.mu.Unlock()
}

// DispatchDatagram decodes the leading context-id varint off a raw
// connection-level datagram and forwards it to this stream's registered
// visitors. Called for every datagram pulled off Conn.ReceiveDatagram.
func (cs *ConnectStream) DispatchDatagram(raw []byte) {
	contextID, payload, ok := decodeDatagramContext(raw)
	if !ok {
		return
	}

	cs.mu.Lock()
	v, hasContext := (carrier.DatagramRegistrationVisitor)(nil), false
	if contextID != nil {
		v, hasContext = cs.registeredContexts[*contextID]
	}
	fallback := cs.visitor
	cs.mu.Unlock()

	if hasContext {
		v.OnHTTP3Datagram(cs.id, contextID, payload)
		return
	}
	if fallback != nil {
		fallback.OnHTTP3Datagram(cs.id, contextID, payload)
	}
}

// encodeDatagramContext returns the datagram prefix: the context id plus
// one as a varint, or a single zero byte standing for "no context" when
// contextID is nil.
func encodeDatagramContext(contextID *carrier.ContextID) []byte {
	if contextID == nil {
		return varint.Encode(nil, 0)
	}
	return varint.Encode(nil, uint64(*contextID)+1)
}

func decodeDatagramContext(raw []byte) (*carrier.ContextID, []byte, bool) {
	v, n, ok := varint.Decode(raw)
	if !ok {
		return nil, nil, false
	}
	if v == 0 {
		return nil, raw[n:], true
	}
	id := carrier.ContextID(v - 1)
	return &id, raw[n:], true
}
