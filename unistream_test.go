package webtransport

import (
	"testing"

	"webtransport/carrier"
	"webtransport/varint"
)

// S4: an incoming unidirectional stream delivers only the first byte of
// a 4-byte varint, then FINs. The preamble never resolves; the stream's
// buffered bytes are fully consumed so it can still close cleanly.
func TestIncomingStreamAbandonedOnTruncatedPreamble(t *testing.T) {
	lookupCalls := 0
	lookup := func(id carrier.StreamID) (*Session, bool) {
		lookupCalls++
		return nil, false
	}

	recv := &fakeReceiveStream{id: 9, data: []byte{0x80}} // first byte of a 4-byte varint
	u := NewIncomingUnidirectionalStream(nil, lookup, recv)

	u.OnDataAvailable()

	if lookupCalls != 0 {
		t.Fatal("a truncated preamble must never attempt to resolve a session")
	}
	if u.state != preambleIncomingUnresolved {
		t.Fatal("state must remain unresolved")
	}
	if recv.pos != len(recv.data) {
		t.Fatalf("expected all %d buffered bytes consumed, consumed %d", len(recv.data), recv.pos)
	}
}

// P2: write_preamble followed by read_session_id on the sibling recovers
// the same session id and consumes exactly the preamble bytes, leaving
// any trailing application bytes untouched.
func TestPreambleRoundTrip(t *testing.T) {
	const sessionID = carrier.StreamID(123456)

	var preamble []byte
	preamble = varint.Encode(preamble, StreamTypeWebTransportUnidirectional)
	preamble = varint.Encode(preamble, uint64(sessionID))
	trailing := []byte("application payload")

	recv := &fakeReceiveStream{id: 9, data: append(append([]byte{}, preamble...), trailing...)}

	resolvedSession, err := NewSession(newFakeConn(carrier.PerspectiveClient), newFakeConnectStream(sessionID), sessionID, carrier.PerspectiveClient, false)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	lookup := func(id carrier.StreamID) (*Session, bool) {
		if id != sessionID {
			return nil, false
		}
		return resolvedSession, true
	}

	u := NewIncomingUnidirectionalStream(nil, lookup, recv)
	ok := u.readSessionID()
	if !ok {
		t.Fatal("expected the preamble to resolve")
	}
	if u.sessionID != sessionID {
		t.Fatalf("resolved session id = %d, want %d", u.sessionID, sessionID)
	}

	rest := make([]byte, len(trailing))
	n, err := u.buf.Read(rest)
	if err != nil && n != len(trailing) {
		t.Fatalf("reading trailing bytes: %v", err)
	}
	if string(rest[:n]) != string(trailing[:n]) {
		t.Fatalf("trailing bytes corrupted: got %q", rest[:n])
	}
}

func TestWritePreambleTwiceIsFatal(t *testing.T) {
	conn := newFakeConn(carrier.PerspectiveClient)
	send := &fakeStream{id: 42}
	u := newOutgoingUnidirectionalStream(conn, func(carrier.StreamID) (*Session, bool) { return nil, false }, send, carrier.StreamID(1))

	if err := u.WritePreamble(); err != nil {
		t.Fatalf("first WritePreamble: %v", err)
	}
	err := u.WritePreamble()
	if _, ok := err.(*FatalError); !ok {
		t.Fatalf("expected *FatalError from a second WritePreamble, got %v", err)
	}
	if len(conn.resets) != 1 {
		t.Fatal("expected the stream to be reset after the invariant violation")
	}
}

func TestOnCloseNotifiesResolvedSession(t *testing.T) {
	sess, _, _, _ := newTestSession(t, carrier.PerspectiveServer, false)

	sess.AssociateStream(carrier.StreamID(4))
	lookup := func(id carrier.StreamID) (*Session, bool) {
		if id == sess.ID() {
			return sess, true
		}
		return nil, false
	}

	recv := &fakeReceiveStream{id: 4}
	u := NewIncomingUnidirectionalStream(nil, lookup, recv)
	u.state = preambleIncomingBound
	u.sessionID = sess.ID()

	u.onClose()

	if _, stillThere := sess.streams[carrier.StreamID(4)]; stillThere {
		t.Fatal("expected the stream to be dropped from the session's bookkeeping")
	}
}
