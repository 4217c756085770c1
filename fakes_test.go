package webtransport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"webtransport/capsule"
	"webtransport/carrier"
)

// fakeConn is a minimal carrier.Conn double: it never actually opens a
// transport stream, it just hands back bookkeeping-only fakeStream
// values (IDs from a counter for Open*, the caller's ID for Resolve*),
// and records ResetStream calls for assertions.
type fakeConn struct {
	perspective carrier.Perspective

	mu         sync.Mutex
	resets     []resetCall
	nextOpenID carrier.StreamID
	openErr    error
}

type resetCall struct {
	id        carrier.StreamID
	errorCode uint64
}

func newFakeConn(p carrier.Perspective) *fakeConn {
	return &fakeConn{perspective: p}
}

func (c *fakeConn) Perspective() carrier.Perspective { return c.perspective }
func (c *fakeConn) CanOpenStream() bool               { return c.openErr == nil }
func (c *fakeConn) CanOpenUniStream() bool             { return c.openErr == nil }

func (c *fakeConn) OpenStream() (carrier.Stream, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.mu.Lock()
	id := c.nextOpenID
	c.nextOpenID += 4
	c.mu.Unlock()
	return &fakeStream{id: id}, nil
}

func (c *fakeConn) OpenUniStream() (carrier.SendStream, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.mu.Lock()
	id := c.nextOpenID
	c.nextOpenID += 4
	c.mu.Unlock()
	return &fakeStream{id: id}, nil
}

func (c *fakeConn) ResolveStream(id carrier.StreamID) (carrier.Stream, bool) {
	return &fakeStream{id: id}, true
}

func (c *fakeConn) ResolveUniStream(id carrier.StreamID) (carrier.ReceiveStream, bool) {
	return &fakeStream{id: id}, true
}

func (c *fakeConn) ResetStream(id carrier.StreamID, errorCode uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets = append(c.resets, resetCall{id, errorCode})
}

func (c *fakeConn) SendDatagram([]byte) error { return nil }

func (c *fakeConn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) MaxDatagramSize() int { return 1200 }

var _ carrier.Conn = (*fakeConn)(nil)

// fakeStream satisfies carrier.Stream, carrier.SendStream, and
// carrier.ReceiveStream at once; tests only ever care about its ID.
type fakeStream struct {
	id carrier.StreamID
}

func (s *fakeStream) ID() carrier.StreamID       { return s.id }
func (s *fakeStream) Read(p []byte) (int, error)  { return 0, fmt.Errorf("fakeStream: not readable") }
func (s *fakeStream) Write(p []byte) (int, error) { return len(p), nil }
func (s *fakeStream) Close() error                { return nil }

// fakeReceiveStream lets a test script exactly what bytes an incoming
// unidirectional stream delivers, and whether/when it reaches EOF.
type fakeReceiveStream struct {
	id   carrier.StreamID
	data []byte
	pos  int
}

func (s *fakeReceiveStream) ID() carrier.StreamID { return s.id }

func (s *fakeReceiveStream) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	if s.pos >= len(s.data) {
		return n, io.EOF
	}
	return n, nil
}

func (s *fakeReceiveStream) Close() error { return nil }

// fakeConnectStream is a carrier.ConnectStream double that records every
// capsule/body/reset it's asked to write and lets a test drive its
// datagram registration callbacks directly.
type fakeConnectStream struct {
	id carrier.StreamID

	mu                 sync.Mutex
	capsulesWritten    []capsule.Capsule
	bodyWrites         [][]byte
	finWritten         bool
	resetCode          *uint64
	visitor            carrier.DatagramRegistrationVisitor
	useContexts        bool
	registeredContexts map[carrier.ContextID]bool
	nextContextID      carrier.ContextID
	maxDatagramTimeInQueue int
}

func newFakeConnectStream(id carrier.StreamID) *fakeConnectStream {
	return &fakeConnectStream{id: id, registeredContexts: make(map[carrier.ContextID]bool)}
}

func (s *fakeConnectStream) ID() carrier.StreamID { return s.id }

func (s *fakeConnectStream) WriteCapsule(c capsule.Capsule, fin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capsulesWritten = append(s.capsulesWritten, c)
	if fin {
		s.finWritten = true
	}
	return nil
}

func (s *fakeConnectStream) WriteOrBufferBody(data []byte, fin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(data) > 0 {
		s.bodyWrites = append(s.bodyWrites, append([]byte{}, data...))
	}
	if fin {
		s.finWritten = true
	}
	return nil
}

func (s *fakeConnectStream) ResetStream(errorCode uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetCode = &errorCode
}

func (s *fakeConnectStream) RegisterDatagramRegistrationVisitor(v carrier.DatagramRegistrationVisitor, attemptToUseDatagramContexts bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitor = v
	s.useContexts = attemptToUseDatagramContexts
}

func (s *fakeConnectStream) UnregisterDatagramRegistrationVisitor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitor = nil
}

func (s *fakeConnectStream) RegisterDatagramContextID(contextID *carrier.ContextID, format carrier.DatagramFormat, formatAdditionalData []byte, v carrier.DatagramRegistrationVisitor) error {
	if contextID == nil {
		return fmt.Errorf("fakeConnectStream: nil context id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registeredContexts[*contextID] = true
	return nil
}

func (s *fakeConnectStream) UnregisterDatagramContextID(contextID *carrier.ContextID) {
	if contextID == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registeredContexts, *contextID)
}

func (s *fakeConnectStream) NextDatagramContextID() carrier.ContextID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextContextID
	s.nextContextID++
	return id
}

func (s *fakeConnectStream) SendHTTP3Datagram(contextID *carrier.ContextID, payload []byte) (carrier.SendStatus, error) {
	return carrier.SendStatusSent, nil
}

func (s *fakeConnectStream) MaxDatagramSize(contextID *carrier.ContextID) int { return 1200 }

func (s *fakeConnectStream) SetMaxDatagramTimeInQueue(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxDatagramTimeInQueue = int(d)
}

var _ carrier.ConnectStream = (*fakeConnectStream)(nil)

// recordingVisitor captures every upcall a Session delivers.
type recordingVisitor struct {
	mu sync.Mutex

	closed          bool
	closedCount     int
	errorCode       uint32
	errorMessage    string
	bidiAvailable   int
	uniAvailable    int
	datagrams       [][]byte
}

func newRecordingVisitor() *recordingVisitor { return &recordingVisitor{} }

func (v *recordingVisitor) OnSessionReady(map[string]string) {}

func (v *recordingVisitor) OnSessionClosed(errorCode uint32, errorMessage string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.closedCount++
	v.errorCode = errorCode
	v.errorMessage = errorMessage
}

func (v *recordingVisitor) OnIncomingBidirectionalStreamAvailable() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bidiAvailable++
}

func (v *recordingVisitor) OnIncomingUnidirectionalStreamAvailable() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.uniAvailable++
}

func (v *recordingVisitor) OnDatagramReceived(payload []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.datagrams = append(v.datagrams, append([]byte{}, payload...))
}

func (v *recordingVisitor) OnCanCreateNewOutgoingBidirectionalStream()  {}
func (v *recordingVisitor) OnCanCreateNewOutgoingUnidirectionalStream() {}

var _ Visitor = (*recordingVisitor)(nil)
