package webtransport

import (
	"fmt"
	"sync"
	"time"

	"webtransport/capsule"
	"webtransport/carrier"
)

// SessionID identifies a WebTransport session. It is drawn from the
// transport stream identifier of the CONNECT stream that established it.
type SessionID = carrier.StreamID

// Session binds an HTTP extended-CONNECT stream to a population of
// associated QUIC streams and datagrams. It mediates bidirectional
// close, routes incoming streams and datagrams to a Visitor, brokers
// outgoing stream creation, and enforces the wire framing used on
// unidirectional WebTransport streams.
//
// A single logical carrier loop is expected to drive a Session, but
// mu makes every exported method safe to call from any goroutine; the
// session state is a plain mutable struct guarded by a single mutex
// rather than assuming single-threaded access.
type Session struct {
	mu sync.Mutex

	conn          carrier.Conn
	connectStream carrier.ConnectStream
	id            SessionID
	perspective   carrier.Perspective

	streams map[carrier.StreamID]struct{}

	pendingIncomingBidi []carrier.StreamID
	pendingIncomingUni  []carrier.StreamID

	visitor Visitor

	ready bool

	closeSent     bool
	closeReceived bool
	closeNotified bool
	errorCode     uint32
	errorMessage  string

	contextKnown      bool
	contextRegistered bool
	contextID         *carrier.ContextID
}

// NewSession constructs a session bound to connectStream. It registers
// itself with the CONNECT stream as a datagram registration visitor and,
// for the client, immediately marks the datagram context as known and
// registered (client-initiated contexts don't need a registration
// round-trip), allocating a fresh context ID when useDatagramContexts is
// set.
func NewSession(conn carrier.Conn, connectStream carrier.ConnectStream, id SessionID, perspective carrier.Perspective, useDatagramContexts bool) (*Session, error) {
	if !id.IsBidirectional() {
		return nil, fmt.Errorf("webtransport: session id %d is not a bidirectional stream id", id)
	}
	if connectStream.ID() != id {
		return nil, fmt.Errorf("webtransport: session id %d does not match CONNECT stream id %d", id, connectStream.ID())
	}

	s := &Session{
		conn:          conn,
		connectStream: connectStream,
		id:            id,
		perspective:   perspective,
		streams:       make(map[carrier.StreamID]struct{}),
		visitor:       noopVisitor{},
	}

	connectStream.RegisterDatagramRegistrationVisitor(s, useDatagramContexts)

	if perspective == carrier.PerspectiveClient {
		s.contextKnown = true
		s.contextRegistered = true
		if useDatagramContexts {
			cid := connectStream.NextDatagramContextID()
			s.contextID = &cid
		}
	}

	return s, nil
}

// ID returns the session's identifier.
func (s *Session) ID() SessionID { return s.id }

// SetVisitor installs v as the session's upcall target, replacing
// whatever was previously installed (initially the no-op visitor). This
// is a single-field indirection, safe to call at any time; it is the
// application's responsibility to install a real visitor before it cares
// about missing an upcall delivered in the interim.
func (s *Session) SetVisitor(v Visitor) {
	if v == nil {
		v = noopVisitor{}
	}
	s.mu.Lock()
	s.visitor = v
	s.mu.Unlock()
}

// IsReady reports whether HeadersReceived has accepted the CONNECT
// response (client) or the session has otherwise become usable (server).
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// AssociateStream is called by the carrier once a stream of either
// direction has been determined to belong to this session.
// Locally-initiated streams are recorded for close-time bookkeeping but
// never enqueued, since the application already holds their handle from
// OpenOutgoingBidirectionalStream/OpenOutgoingUnidirectionalStream.
func (s *Session) AssociateStream(id carrier.StreamID) {
	s.mu.Lock()
	s.streams[id] = struct{}{}
	if id.IsOutgoing(s.perspective) {
		s.mu.Unlock()
		return
	}

	var notifyBidi, notifyUni bool
	if id.IsBidirectional() {
		s.pendingIncomingBidi = append(s.pendingIncomingBidi, id)
		notifyBidi = true
	} else {
		s.pendingIncomingUni = append(s.pendingIncomingUni, id)
		notifyUni = true
	}
	v := s.visitor
	s.mu.Unlock()

	if notifyBidi {
		v.OnIncomingBidirectionalStreamAvailable()
	}
	if notifyUni {
		v.OnIncomingUnidirectionalStreamAvailable()
	}
}

// OnStreamClosed removes id from the set of streams associated with this
// session. Called by a stream's own close handler (directly for
// locally-initiated streams, or via UnidirectionalStream.onClose for
// incoming unidirectional streams once bound).
func (s *Session) OnStreamClosed(id carrier.StreamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, id)
}

// AcceptIncomingBidirectionalStream pops the front of the pending
// bidirectional queue and resolves it to a live handle, skipping entries
// that were reset between being enqueued and being accepted. It returns
// ok=false once the queue is empty; this is a synchronous, non-blocking
// poll.
func (s *Session) AcceptIncomingBidirectionalStream() (carrier.Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pendingIncomingBidi) > 0 {
		id := s.pendingIncomingBidi[0]
		s.pendingIncomingBidi = s.pendingIncomingBidi[1:]
		stream, ok := s.conn.ResolveStream(id)
		if !ok {
			continue
		}
		return stream, true
	}
	return nil, false
}

// AcceptIncomingUnidirectionalStream is AcceptIncomingBidirectionalStream
// for the unidirectional queue.
func (s *Session) AcceptIncomingUnidirectionalStream() (carrier.ReceiveStream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pendingIncomingUni) > 0 {
		id := s.pendingIncomingUni[0]
		s.pendingIncomingUni = s.pendingIncomingUni[1:]
		stream, ok := s.conn.ResolveUniStream(id)
		if !ok {
			continue
		}
		return stream, true
	}
	return nil, false
}

// CanOpenNextOutgoingBidirectionalStream and
// CanOpenNextOutgoingUnidirectionalStream delegate admission control to
// the carrier.
func (s *Session) CanOpenNextOutgoingBidirectionalStream() bool {
	return s.conn.CanOpenStream()
}

func (s *Session) CanOpenNextOutgoingUnidirectionalStream() bool {
	return s.conn.CanOpenUniStream()
}

// OpenOutgoingBidirectionalStream asks the carrier to open a new
// bidirectional stream and associates it with this session on success.
// It returns ok=false when the carrier refuses (flow control or a
// per-session limit); the application is expected to retry after
// OnCanCreateNewOutgoingBidirectionalStream fires.
func (s *Session) OpenOutgoingBidirectionalStream() (carrier.Stream, bool) {
	stream, err := s.conn.OpenStream()
	if err != nil {
		return nil, false
	}
	s.AssociateStream(stream.ID())
	return stream, true
}

// OpenOutgoingUnidirectionalStream is OpenOutgoingBidirectionalStream for
// a unidirectional stream, additionally wrapping it with the
// WebTransport preamble writer. The wrapper resolves itself back to s
// directly rather than through a shared registry, since an
// outgoing stream's session is exactly the one that created it.
func (s *Session) OpenOutgoingUnidirectionalStream() (*UnidirectionalStream, bool) {
	stream, err := s.conn.OpenUniStream()
	if err != nil {
		return nil, false
	}
	s.AssociateStream(stream.ID())
	lookup := func(id carrier.StreamID) (*Session, bool) {
		if id == s.id {
			return s, true
		}
		return nil, false
	}
	return newOutgoingUnidirectionalStream(s.conn, lookup, stream, s.id), true
}

// SendOrQueueDatagram emits an HTTP/3 datagram on the CONNECT stream
// bearing the session's current context ID (possibly none).
func (s *Session) SendOrQueueDatagram(payload []byte) (carrier.SendStatus, error) {
	s.mu.Lock()
	contextID := s.contextID
	s.mu.Unlock()
	return s.connectStream.SendHTTP3Datagram(contextID, payload)
}

// MaxDatagramSize returns the largest datagram payload SendOrQueueDatagram
// can currently deliver without it being rejected as too big.
func (s *Session) MaxDatagramSize() int {
	s.mu.Lock()
	contextID := s.contextID
	s.mu.Unlock()
	return s.connectStream.MaxDatagramSize(contextID)
}

// SetDatagramMaxTimeInQueue passes d, a bound on how long a queued
// outgoing datagram may wait, directly to the CONNECT stream; whether and
// how the bound is applied is up to the carrier.
func (s *Session) SetDatagramMaxTimeInQueue(d time.Duration) {
	s.connectStream.SetMaxDatagramTimeInQueue(d)
}

// Close writes a CLOSE_WEBTRANSPORT_SESSION capsule with FIN, recording
// (errorCode, errorMessage) as this side's close reason. Close is
// strictly single-shot; calling it twice is a programmer error, reported
// as a FatalError rather than silently accepted.
//
// If the peer already closed first, Close still records closeSent=true
// for bookkeeping but sends nothing: the bare FIN already written in
// response to the peer's close is this side's acknowledgement, and
// sending a capsule on top of it would put two close signals on the wire.
func (s *Session) Close(errorCode uint32, errorMessage string) error {
	s.mu.Lock()
	if s.closeSent {
		s.mu.Unlock()
		return fatalf("close-single-shot", "Close called more than once on session %d", s.id)
	}
	s.closeSent = true

	if s.closeReceived {
		// Race: peer's close arrived first. We already echoed an empty
		// FIN in OnCloseReceived/OnConnectStreamFinReceived and recorded
		// their error as this side's notified error; do not also write
		// our own capsule.
		s.mu.Unlock()
		return nil
	}

	s.errorCode = errorCode
	s.errorMessage = errorMessage
	s.mu.Unlock()

	return s.connectStream.WriteCapsule(capsule.CloseWebTransportSession(errorCode, errorMessage), true)
}

// OnCloseReceived is called once the peer's CLOSE_WEBTRANSPORT_SESSION
// capsule has been decoded. If we have not already sent our own close,
// it records the peer's error state and echoes a bare FIN; if we sent
// first, the peer's error is ignored (resolution rule: whoever sent
// first wins).
func (s *Session) OnCloseReceived(errorCode uint32, errorMessage string) {
	s.mu.Lock()
	if s.closeReceived {
		s.mu.Unlock()
		logger.Printf("%swebtransport: session %d notified of close received twice", endpointTag(s.perspective), s.id)
		return
	}
	s.closeReceived = true

	if s.closeSent {
		s.mu.Unlock()
		return
	}

	s.errorCode = errorCode
	s.errorMessage = errorMessage
	s.mu.Unlock()

	if err := s.connectStream.WriteOrBufferBody(nil, true); err != nil {
		logger.Printf("%swebtransport: session %d failed to echo close FIN: %v", endpointTag(s.perspective), s.id, err)
	}
	s.maybeNotifyClose()
}

// OnConnectStreamFinReceived is called when the peer FINs the CONNECT
// stream without having sent a close capsule first: a close with
// errorCode=0 and an empty message.
func (s *Session) OnConnectStreamFinReceived() {
	s.mu.Lock()
	if s.closeReceived {
		s.mu.Unlock()
		return
	}
	s.closeReceived = true

	if s.closeSent {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.connectStream.WriteOrBufferBody(nil, true); err != nil {
		logger.Printf("%swebtransport: session %d failed to echo close FIN: %v", endpointTag(s.perspective), s.id, err)
	}
	s.maybeNotifyClose()
}

// closeWithFINOnlyForTests closes this side of the session with a bare
// FIN and no CLOSE_WEBTRANSPORT_SESSION capsule, the way a peer that
// never sends a capsule would. It is a test helper, not part of the
// public API surface an embedder should call.
func (s *Session) closeWithFINOnlyForTests() error {
	s.mu.Lock()
	if s.closeSent {
		s.mu.Unlock()
		return fatalf("close-single-shot", "closeWithFINOnlyForTests called after Close on session %d", s.id)
	}
	s.closeSent = true
	received := s.closeReceived
	s.mu.Unlock()

	if received {
		return nil
	}
	return s.connectStream.WriteOrBufferBody(nil, true)
}

// OnConnectStreamClosing is the terminal path invoked once the CONNECT
// stream is fully closed in both directions. It snapshots and clears the
// associated-stream set, resets every one of them with the
// session-gone code, unregisters the datagram context and registration
// visitor, and finally notifies the visitor of close.
func (s *Session) OnConnectStreamClosing() {
	s.mu.Lock()
	ids := make([]carrier.StreamID, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	s.streams = make(map[carrier.StreamID]struct{})

	contextID := s.contextID
	wasRegistered := s.contextRegistered
	s.contextRegistered = false
	s.mu.Unlock()

	for _, id := range ids {
		s.conn.ResetStream(id, ErrorStreamWebTransportSessionGone)
	}

	if wasRegistered {
		s.connectStream.UnregisterDatagramContextID(contextID)
	}
	s.connectStream.UnregisterDatagramRegistrationVisitor()

	s.maybeNotifyClose()
}

// maybeNotifyClose is the only path that ever invokes
// Visitor.OnSessionClosed; closeNotified gates it so it fires exactly
// once no matter how many of the close paths above run.
func (s *Session) maybeNotifyClose() {
	s.mu.Lock()
	if s.closeNotified {
		s.mu.Unlock()
		return
	}
	s.closeNotified = true
	errorCode, errorMessage := s.errorCode, s.errorMessage
	v := s.visitor
	s.mu.Unlock()

	v.OnSessionClosed(errorCode, errorMessage)
}

// HeadersReceived processes the CONNECT response (client) or request
// (server) headers. On the client, only a 2xx status accepts the
// session; any other status (or a missing/unparseable status) is logged
// and dropped, leaving the session un-ready; the application observes
// this via timeout or a subsequent close. On the server, status parsing
// is skipped entirely since the server is the one producing the status.
func (s *Session) HeadersReceived(headers map[string]string) {
	if s.perspective == carrier.PerspectiveClient {
		status, ok := headers[":status"]
		if !ok {
			logger.Printf("%swebtransport: session %d response missing :status, rejecting", endpointTag(s.perspective), s.id)
			return
		}
		code, err := parseStatusCode(status)
		if err != nil || code < 200 || code > 299 {
			logger.Printf("%swebtransport: session %d got status %q, rejecting", endpointTag(s.perspective), s.id, status)
			return
		}
	}

	s.mu.Lock()
	s.ready = true
	v := s.visitor
	s.mu.Unlock()

	v.OnSessionReady(headers)
}

func parseStatusCode(status string) (int, error) {
	var code int
	if _, err := fmt.Sscanf(status, "%d", &code); err != nil {
		return 0, err
	}
	return code, nil
}

// OnHTTP3Datagram implements carrier.DatagramRegistrationVisitor. The
// carrier has already matched streamID to this session's CONNECT stream;
// this verifies the context ID matches and forwards the payload.
func (s *Session) OnHTTP3Datagram(streamID carrier.StreamID, contextID *carrier.ContextID, payload []byte) {
	s.mu.Lock()
	matches := sameContextID(contextID, s.contextID)
	v := s.visitor
	s.mu.Unlock()

	if !matches {
		return
	}
	v.OnDatagramReceived(payload)
}

// OnContextReceived implements carrier.DatagramRegistrationVisitor,
// completing server-side context registration. A registration for a
// format other than FormatWebTransport is silently ignored rather than
// treated as an error, on the theory that an unrecognized format belongs
// to some other extension sharing the same CONNECT stream. Non-empty
// formatAdditionalData on a WebTransport-format registration has no
// defined meaning and is treated as a protocol violation.
func (s *Session) OnContextReceived(streamID carrier.StreamID, contextID *carrier.ContextID, format carrier.DatagramFormat, formatAdditionalData []byte) {
	if streamID != s.connectStream.ID() {
		logger.Printf("webtransport: context registration on stream %d, expected %d", streamID, s.connectStream.ID())
		return
	}
	if format != carrier.FormatWebTransport {
		return
	}
	if len(formatAdditionalData) != 0 {
		logger.Printf("%swebtransport: non-empty format additional data on session %d, resetting", endpointTag(s.perspective), s.id)
		s.connectStream.ResetStream(ErrorBadApplicationPayload)
		return
	}

	s.mu.Lock()
	if !s.contextKnown {
		s.contextKnown = true
		s.contextID = contextID
	}
	if !sameContextID(contextID, s.contextID) {
		s.mu.Unlock()
		return
	}
	if s.perspective != carrier.PerspectiveServer {
		s.mu.Unlock()
		return
	}
	if s.contextRegistered {
		s.mu.Unlock()
		logger.Printf("%swebtransport: duplicate context registration on session %d, resetting", endpointTag(s.perspective), s.id)
		s.connectStream.ResetStream(ErrorStreamCancelled)
		return
	}
	s.contextRegistered = true
	resolved := s.contextID
	s.mu.Unlock()

	if err := s.connectStream.RegisterDatagramContextID(resolved, format, formatAdditionalData, s); err != nil {
		logger.Printf("%swebtransport: failed to register context on session %d: %v", endpointTag(s.perspective), s.id, err)
	}
}

// OnContextClosed implements carrier.DatagramRegistrationVisitor. A
// WebTransport session has exactly one datagram context for its whole
// lifetime and no graceful recovery from a context close, so any context
// close on its CONNECT stream is treated as a fatal protocol violation
// and the CONNECT stream is reset.
func (s *Session) OnContextClosed(streamID carrier.StreamID, contextID *carrier.ContextID, closeCode uint64, closeDetails string) {
	if streamID != s.connectStream.ID() {
		return
	}
	logger.Printf("%swebtransport: datagram context closed on session %d, resetting", endpointTag(s.perspective), s.id)
	s.connectStream.ResetStream(ErrorBadApplicationPayload)
}

func sameContextID(a, b *carrier.ContextID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
