// Package quicgo is the concrete carrier.Conn/carrier.ConnectStream
// adapter backed by github.com/quic-go/quic-go, grounded on the same
// repository's direct use of quic.Conn/quic.Stream for its own native
// QUIC carrier.
package quicgo

import (
	"context"
	"fmt"
	"sync"

	quic "github.com/quic-go/quic-go"

	"webtransport/carrier"
)

// Conn adapts a *quic.Conn to carrier.Conn. One Conn backs every
// WebTransport session multiplexed over that QUIC connection.
type Conn struct {
	qconn       *quic.Conn
	perspective carrier.Perspective

	mu       sync.Mutex
	bidiByID map[carrier.StreamID]*quic.Stream
	uniByID  map[carrier.StreamID]*quic.ReceiveStream
}

// NewConn wraps an established QUIC connection. perspective records
// which side of the handshake qconn is.
func NewConn(qconn *quic.Conn, perspective carrier.Perspective) *Conn {
	return &Conn{
		qconn:       qconn,
		perspective: perspective,
		bidiByID:    make(map[carrier.StreamID]*quic.Stream),
		uniByID:     make(map[carrier.StreamID]*quic.ReceiveStream),
	}
}

func (c *Conn) Perspective() carrier.Perspective { return c.perspective }

// CanOpenStream and CanOpenUniStream are optimistic. quic-go does not
// expose a side-effect-free admission check ahead of actually trying to
// open a stream, so these always report true; OpenStream/OpenUniStream's
// own non-blocking attempt is the real admission control, and its error
// return is what a refusal looks like.
func (c *Conn) CanOpenStream() bool    { return true }
func (c *Conn) CanOpenUniStream() bool { return true }

func (c *Conn) OpenStream() (carrier.Stream, error) {
	s, err := c.qconn.OpenStream()
	if err != nil {
		return nil, fmt.Errorf("quicgo: open stream: %w", err)
	}
	id := carrier.StreamID(s.StreamID())
	c.mu.Lock()
	c.bidiByID[id] = s
	c.mu.Unlock()
	return &stream{Stream: s, id: id}, nil
}

func (c *Conn) OpenUniStream() (carrier.SendStream, error) {
	s, err := c.qconn.OpenUniStream()
	if err != nil {
		return nil, fmt.Errorf("quicgo: open uni stream: %w", err)
	}
	return &sendStream{SendStream: s, id: carrier.StreamID(s.StreamID())}, nil
}

func (c *Conn) ResolveStream(id carrier.StreamID) (carrier.Stream, bool) {
	c.mu.Lock()
	s, ok := c.bidiByID[id]
	delete(c.bidiByID, id)
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return &stream{Stream: s, id: id}, true
}

func (c *Conn) ResolveUniStream(id carrier.StreamID) (carrier.ReceiveStream, bool) {
	c.mu.Lock()
	s, ok := c.uniByID[id]
	delete(c.uniByID, id)
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return &receiveStream{ReceiveStream: s, id: id}, true
}

// ResetStream cancels whichever of bidiByID/uniByID still holds id: both
// directions of a bidirectional stream (RESET_STREAM and STOP_SENDING),
// or only the read side of a receive stream (STOP_SENDING). A
// session tearing down its streams does not know ahead of time which
// map a given ID belongs to, so both are checked.
func (c *Conn) ResetStream(id carrier.StreamID, errorCode uint64) {
	c.mu.Lock()
	bidi, bidiOK := c.bidiByID[id]
	uni, uniOK := c.uniByID[id]
	c.mu.Unlock()

	if bidiOK {
		bidi.CancelRead(quic.StreamErrorCode(errorCode))
		bidi.CancelWrite(quic.StreamErrorCode(errorCode))
	}
	if uniOK {
		uni.CancelRead(quic.StreamErrorCode(errorCode))
	}
}

func (c *Conn) SendDatagram(payload []byte) error {
	return c.qconn.SendDatagram(payload)
}

func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.qconn.ReceiveDatagram(ctx)
}

func (c *Conn) MaxDatagramSize() int {
	return int(c.qconn.MaxDatagramSize())
}

// AcceptLoop drives the connection-level accept calls that surface
// peer-initiated streams, handing each to onBidi/onUni so the caller can
// decide which session, if any, the stream belongs to. It returns once
// ctx is done or the connection is gone.
func (c *Conn) AcceptLoop(ctx context.Context, onBidi func(carrier.Stream), onUni func(carrier.ReceiveStream)) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			s, err := c.qconn.AcceptStream(ctx)
			if err != nil {
				errCh <- err
				return
			}
			id := carrier.StreamID(s.StreamID())
			c.mu.Lock()
			c.bidiByID[id] = s
			c.mu.Unlock()
			onBidi(&stream{Stream: s, id: id})
		}
	}()
	go func() {
		defer wg.Done()
		for {
			s, err := c.qconn.AcceptUniStream(ctx)
			if err != nil {
				errCh <- err
				return
			}
			id := carrier.StreamID(s.StreamID())
			c.mu.Lock()
			c.uniByID[id] = s
			c.mu.Unlock()
			onUni(&receiveStream{ReceiveStream: s, id: id})
		}
	}()

	err := <-errCh
	wg.Wait()
	return err
}

type stream struct {
	*quic.Stream
	id carrier.StreamID
}

func (s *stream) ID() carrier.StreamID { return s.id }

type sendStream struct {
	*quic.SendStream
	id carrier.StreamID
}

func (s *sendStream) ID() carrier.StreamID { return s.id }

type receiveStream struct {
	*quic.ReceiveStream
	id carrier.StreamID
}

func (s *receiveStream) ID() carrier.StreamID { return s.id }

// Close satisfies carrier.ReceiveStream's ReadCloser requirement. A
// receive-only stream has no write half to FIN; canceling the read side
// is this direction's equivalent of giving it up.
func (s *receiveStream) Close() error {
	s.CancelRead(0)
	return nil
}
