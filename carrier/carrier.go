// Package carrier names the collaborator interfaces the session and
// stream machinery in package webtransport depends on, but does not
// implement itself: the QUIC connection, its streams, and the HTTP/3
// extended-CONNECT stream that hosts a WebTransport session's close
// capsules and datagrams.
//
// The interfaces are deliberately small: a transport-agnostic seam that
// a concrete adapter (see package carrier/quicgo) implements against a
// real library.
package carrier

import (
	"context"
	"time"

	"webtransport/capsule"
)

// Perspective records which end of a connection an implementation is
// acting as; several wire rules (stream ID parity, whether the initial
// datagram context is pre-registered) depend on it.
type Perspective int

const (
	PerspectiveClient Perspective = iota
	PerspectiveServer
)

func (p Perspective) String() string {
	if p == PerspectiveServer {
		return "server"
	}
	return "client"
}

// StreamID is a transport stream identifier. The CONNECT stream's ID
// doubles as the WebTransport SessionID that names the session it hosts.
type StreamID uint64

// IsOutgoing reports whether a stream with this ID was initiated locally,
// i.e. by the given perspective, rather than by its peer. Stream IDs are
// allocated by the QUIC transport such that the low bit names the
// initiator: 0 for client-initiated, 1 for server-initiated.
func (id StreamID) IsOutgoing(p Perspective) bool {
	clientInitiated := id&0x1 == 0
	if p == PerspectiveClient {
		return clientInitiated
	}
	return !clientInitiated
}

// IsBidirectional reports whether the stream ID names a bidirectional
// stream. The second-lowest bit names directionality: 0 for
// bidirectional, 1 for unidirectional.
func (id StreamID) IsBidirectional() bool {
	return id&0x2 == 0
}

// ContextID identifies a datagram demultiplexing context negotiated on a
// CONNECT stream. A nil *ContextID means "no context" (contexts are an
// optional negotiated feature).
type ContextID uint64

// DatagramFormat identifies the application payload format of an HTTP/3
// datagram context registration.
type DatagramFormat uint64

// FormatWebTransport is the only format this module's session logic
// accepts; any other registered format is ignored rather than treated as
// an error, since it may belong to a different extension sharing the
// same CONNECT stream.
const FormatWebTransport DatagramFormat = 0xff7c00

// SendStatus is the outcome of attempting to send or queue a datagram.
type SendStatus int

const (
	SendStatusSent SendStatus = iota
	SendStatusBuffered
	SendStatusDroppedTooBig
	SendStatusDroppedNoCapacity
	SendStatusBlocked
)

func (s SendStatus) String() string {
	switch s {
	case SendStatusSent:
		return "sent"
	case SendStatusBuffered:
		return "buffered"
	case SendStatusDroppedTooBig:
		return "dropped_too_big"
	case SendStatusDroppedNoCapacity:
		return "dropped_no_capacity"
	case SendStatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Stream is a bidirectional QUIC stream handle.
type Stream interface {
	ID() StreamID
	ReadWriteCloser
}

// SendStream is the write half of a unidirectional QUIC stream.
type SendStream interface {
	ID() StreamID
	WriteCloser
}

// ReceiveStream is the read half of a unidirectional QUIC stream.
type ReceiveStream interface {
	ID() StreamID
	ReadCloser
}

// ReadWriteCloser, WriteCloser, and ReadCloser mirror io's interfaces but
// are restated here so this package does not force every implementation
// to also satisfy io.Reader/io.Writer identically (quic-go's stream types
// already do; this keeps the seam explicit and self-documenting).
type ReadWriteCloser interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

type WriteCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

type ReadCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

// Conn is a single QUIC connection carrying zero or more WebTransport
// sessions. Congestion control, packetization, retransmission, and
// connection-level flow control are the concrete implementation's
// business; this module only ever opens, resolves, and resets streams by
// ID and moves datagram bytes.
type Conn interface {
	Perspective() Perspective

	// CanOpenStream and CanOpenUniStream report whether admission control
	// (transport flow control, per-session stream-count limits) would
	// currently allow a new locally-initiated stream of the given kind.
	CanOpenStream() bool
	CanOpenUniStream() bool

	// OpenStream and OpenUniStream open a locally-initiated stream
	// without blocking. They return an error if admission control
	// refuses, never by waiting for capacity to free up; the caller
	// already holds the returned handle on success, so these never need
	// ResolveStream/ResolveUniStream to find it again.
	OpenStream() (Stream, error)
	OpenUniStream() (SendStream, error)

	// ResolveStream and ResolveUniStream re-resolve a peer-initiated
	// stream ID to a live handle at accept time. ok is false if the
	// stream was reset between being enqueued and being accepted.
	ResolveStream(id StreamID) (Stream, bool)
	ResolveUniStream(id StreamID) (ReceiveStream, bool)

	// ResetStream issues a carrier-level RESET_STREAM carrying the given
	// application error code.
	ResetStream(id StreamID, errorCode uint64)

	SendDatagram(payload []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	MaxDatagramSize() int
}

// DatagramRegistrationVisitor is the upcall surface a ConnectStream drives
// when HTTP/3 datagrams or context registration/close events arrive for
// it. A WebTransport session implements this to receive those events.
type DatagramRegistrationVisitor interface {
	OnHTTP3Datagram(streamID StreamID, contextID *ContextID, payload []byte)
	OnContextReceived(streamID StreamID, contextID *ContextID, format DatagramFormat, formatAdditionalData []byte)
	OnContextClosed(streamID StreamID, contextID *ContextID, closeCode uint64, closeDetails string)
}

// ConnectStream is the bidirectional HTTP/3 stream carrying the extended
// CONNECT request/response pair that established a session, and which
// afterwards carries that session's close capsule and datagrams.
type ConnectStream interface {
	ID() StreamID

	// WriteCapsule writes a capsule to the stream body, optionally with
	// FIN.
	WriteCapsule(c capsule.Capsule, fin bool) error

	// WriteOrBufferBody writes raw (non-capsule) body bytes, optionally
	// with FIN. Used to send the bare FIN that acknowledges a
	// peer-initiated close.
	WriteOrBufferBody(data []byte, fin bool) error

	// ResetStream resets the CONNECT stream itself, used for protocol
	// violations.
	ResetStream(errorCode uint64)

	RegisterDatagramRegistrationVisitor(v DatagramRegistrationVisitor, attemptToUseDatagramContexts bool)
	UnregisterDatagramRegistrationVisitor()

	RegisterDatagramContextID(contextID *ContextID, format DatagramFormat, formatAdditionalData []byte, v DatagramRegistrationVisitor) error
	UnregisterDatagramContextID(contextID *ContextID)
	NextDatagramContextID() ContextID

	SendHTTP3Datagram(contextID *ContextID, payload []byte) (SendStatus, error)
	MaxDatagramSize(contextID *ContextID) int
	SetMaxDatagramTimeInQueue(d time.Duration)
}
