package webtransport

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"webtransport/carrier"
	"webtransport/varint"
)

// ErrPreambleUnresolved is returned from Read when an incoming
// unidirectional stream's (stream-type, session-id) preamble has not
// been fully read yet.
var ErrPreambleUnresolved = errors.New("webtransport: unidirectional stream preamble not yet resolved")

// sessionLookup resolves a SessionID to a live Session, mirroring
// (*Registry).Lookup's signature so either can be used interchangeably.
type sessionLookup func(carrier.StreamID) (*Session, bool)

// preambleState tracks where a unidirectional stream sits with respect
// to the two-varint (stream-type, session-id) preamble every WebTransport
// unidirectional stream carries before any application byte.
type preambleState int

const (
	// preambleIncomingUnresolved: peer-initiated, preamble not yet read.
	preambleIncomingUnresolved preambleState = iota
	// preambleIncomingBound: peer-initiated, session-id read and
	// associated with a session (or logged as unknown).
	preambleIncomingBound
	// preambleOutgoingPending: locally-initiated, preamble not yet written.
	preambleOutgoingPending
	// preambleOutgoingSent: locally-initiated, preamble written.
	preambleOutgoingSent
)

// UnidirectionalStream wraps a single QUIC unidirectional stream with the
// WebTransport framing that names which session it belongs to. An
// incoming stream starts out unable to answer that question until its
// first few bytes arrive; rather than a nullable session_id field, that
// state is one of the four preambleState values above.
type UnidirectionalStream struct {
	mu sync.Mutex

	id     carrier.StreamID
	conn   carrier.Conn
	lookup sessionLookup

	recv carrier.ReceiveStream
	send carrier.SendStream
	buf  *bufio.Reader

	state     preambleState
	sessionID carrier.StreamID

	visitor StreamVisitor
}

// NewIncomingUnidirectionalStream wraps a peer-initiated stream whose
// preamble has not been read yet. lookup is used once the session id has
// been decoded, and again from onClose to notify the resolved session.
func NewIncomingUnidirectionalStream(conn carrier.Conn, lookup sessionLookup, recv carrier.ReceiveStream) *UnidirectionalStream {
	return &UnidirectionalStream{
		id:      recv.ID(),
		conn:    conn,
		lookup:  lookup,
		recv:    recv,
		buf:     bufio.NewReaderSize(recv, 16),
		state:   preambleIncomingUnresolved,
		visitor: noopStreamVisitor{},
	}
}

// newOutgoingUnidirectionalStream wraps a locally-created stream already
// bound to sessionID. WritePreamble must be called before any
// application bytes are written.
func newOutgoingUnidirectionalStream(conn carrier.Conn, lookup sessionLookup, send carrier.SendStream, sessionID carrier.StreamID) *UnidirectionalStream {
	return &UnidirectionalStream{
		id:        send.ID(),
		conn:      conn,
		lookup:    lookup,
		send:      send,
		state:     preambleOutgoingPending,
		sessionID: sessionID,
		visitor:   noopStreamVisitor{},
	}
}

// ID returns the stream's transport identifier.
func (u *UnidirectionalStream) ID() carrier.StreamID { return u.id }

// SetVisitor installs v to receive reset/stop-sending upcalls.
func (u *UnidirectionalStream) SetVisitor(v StreamVisitor) {
	if v == nil {
		v = noopStreamVisitor{}
	}
	u.mu.Lock()
	u.visitor = v
	u.mu.Unlock()
}

// WritePreamble emits the (stream-type, session-id) varint pair that
// must precede any application byte on an outgoing WebTransport
// unidirectional stream. Calling it more than once, or on a stream that
// didn't start out pending a preamble write, is a programmer error.
func (u *UnidirectionalStream) WritePreamble() error {
	u.mu.Lock()
	if u.state != preambleOutgoingPending {
		u.mu.Unlock()
		u.conn.ResetStream(u.id, ErrorInternalError)
		return fatalf("preamble-write-once", "WritePreamble called out of order on stream %d", u.id)
	}
	u.state = preambleOutgoingSent
	sessionID := u.sessionID
	u.mu.Unlock()

	buf := varint.Encode(nil, StreamTypeWebTransportUnidirectional)
	buf = varint.Encode(buf, uint64(sessionID))
	_, err := u.send.Write(buf)
	return err
}

// Write writes application bytes to an outgoing stream, writing the
// preamble first if it hasn't been sent yet.
func (u *UnidirectionalStream) Write(p []byte) (int, error) {
	u.mu.Lock()
	needsPreamble := u.state == preambleOutgoingPending
	u.mu.Unlock()
	if needsPreamble {
		if err := u.WritePreamble(); err != nil {
			return 0, err
		}
	}
	return u.send.Write(p)
}

// Close closes the write half after ensuring the preamble has gone out,
// so an outgoing stream that never carried any application data still
// tells its peer which session it belonged to.
func (u *UnidirectionalStream) Close() error {
	u.mu.Lock()
	needsPreamble := u.state == preambleOutgoingPending
	u.mu.Unlock()
	if needsPreamble {
		if err := u.WritePreamble(); err != nil {
			return err
		}
	}
	return u.send.Close()
}

// Read reads application bytes from an incoming stream, resolving the
// preamble first if that hasn't happened yet. Resolution waits on the
// underlying stream for the preamble's own bytes; Read returns
// ErrPreambleUnresolved if the stream ends or fails before they have
// all arrived.
func (u *UnidirectionalStream) Read(p []byte) (int, error) {
	u.mu.Lock()
	resolved := u.state == preambleIncomingBound
	u.mu.Unlock()
	if !resolved {
		if !u.readSessionID() {
			return 0, ErrPreambleUnresolved
		}
	}
	return u.buf.Read(p)
}

// OnDataAvailable is driven by the carrier whenever new bytes arrive on
// an incoming stream. Before the preamble has been resolved it attempts
// resolution (as Read also does); afterwards it is a no-op, and the
// application reads accepted streams directly via Read.
func (u *UnidirectionalStream) OnDataAvailable() {
	u.mu.Lock()
	unresolved := u.state == preambleIncomingUnresolved
	u.mu.Unlock()
	if unresolved {
		u.readSessionID()
	}
}

// readSessionID attempts to decode the (stream-type, session-id)
// preamble from the front of the stream without consuming more than
// those two varints. It reports whether the session id is now known.
//
// Each peek asks only for the bytes the two varints need, waiting on the
// underlying stream until they are buffered. If the stream ends or fails
// before a full preamble arrives, whatever was buffered is discarded so
// the stream can finish closing with no session ever associated, and
// readSessionID returns false.
func (u *UnidirectionalStream) readSessionID() bool {
	peeked, peekErr := u.buf.Peek(1)
	if len(peeked) < 1 {
		return u.abandonOnEOF(peekErr)
	}
	need := varint.PeekLen(peeked[0]) + 1
	if peeked, peekErr = u.buf.Peek(need); len(peeked) < need {
		return u.abandonOnEOF(peekErr)
	}
	need = need - 1 + varint.PeekLen(peeked[need-1])
	if peeked, peekErr = u.buf.Peek(need); len(peeked) < need {
		return u.abandonOnEOF(peekErr)
	}

	typ, n1, ok1 := varint.Decode(peeked)
	if !ok1 {
		return u.abandonOnEOF(peekErr)
	}
	sid, n2, ok2 := varint.Decode(peeked[n1:])
	if !ok2 {
		return u.abandonOnEOF(peekErr)
	}
	_ = typ

	consumed := n1 + n2
	if _, err := u.buf.Discard(consumed); err != nil {
		return false
	}

	sessionID := carrier.StreamID(sid)
	u.mu.Lock()
	u.state = preambleIncomingBound
	u.sessionID = sessionID
	u.mu.Unlock()

	if sess, ok := u.lookup(sessionID); ok {
		sess.AssociateStream(u.id)
	} else {
		logger.Printf("webtransport: incoming unidirectional stream %d named unknown session %d", u.id, sessionID)
	}
	return true
}

func (u *UnidirectionalStream) abandonOnEOF(peekErr error) bool {
	if peekErr == nil {
		return false
	}
	if n := u.buf.Buffered(); n > 0 {
		u.buf.Discard(n)
	}
	if !errors.Is(peekErr, io.EOF) {
		logger.Printf("webtransport: incoming unidirectional stream %d preamble read failed: %v", u.id, peekErr)
	}
	return false
}

// onClose is called once the stream has closed in both directions. If
// the session id is known, it notifies that session so it can drop the
// stream from its bookkeeping; an unresolved incoming stream (S4: it
// closed before its preamble ever completed) is simply dropped.
func (u *UnidirectionalStream) onClose() {
	u.mu.Lock()
	resolved := u.state == preambleIncomingBound || u.state == preambleOutgoingSent || u.state == preambleOutgoingPending
	sessionID := u.sessionID
	u.mu.Unlock()

	if !resolved {
		return
	}
	if sess, ok := u.lookup(sessionID); ok {
		sess.OnStreamClosed(u.id)
	}
}

// onStreamReset and onStopSending forward a peer-issued RESET_STREAM or
// STOP_SENDING to the installed StreamVisitor, decoding the carrier-level
// error code back to its WebTransport application code.
func (u *UnidirectionalStream) onStreamReset(carrierErrorCode uint64) {
	u.mu.Lock()
	v := u.visitor
	u.mu.Unlock()
	v.OnResetStreamReceived(DecodeHTTP3ErrorOrDefault(carrierErrorCode))
}

func (u *UnidirectionalStream) onStopSending(carrierErrorCode uint64) {
	u.mu.Lock()
	v := u.visitor
	u.mu.Unlock()
	v.OnStopSendingReceived(DecodeHTTP3ErrorOrDefault(carrierErrorCode))
}
