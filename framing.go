// Package webtransport implements the session and stream machinery that
// layers the WebTransport abstraction on top of an HTTP/3-over-QUIC
// carrier: the close protocol, stream-to-session association, datagram
// context negotiation, and the HTTP/3-to-WebTransport error code codec.
//
// The QUIC transport, the HTTP/3 parser, the TLS handshake, and the
// embedding application are external collaborators named (not
// implemented) by package carrier. Capsule encoding and the varint codec
// live in this module's own capsule and varint packages.
package webtransport

// StreamTypeWebTransportUnidirectional is the stream-type code that
// begins every WebTransport unidirectional stream's preamble, as defined
// by the WebTransport-over-HTTP/3 mapping.
const StreamTypeWebTransportUnidirectional = 0x54

// Reset codes used by this core. Values are the WebTransport/HTTP
// application error codes this module applies directly to the transport;
// a real deployment maps them through the same HTTP/3-to-application
// error space every other application error code travels through.
const (
	// ErrorStreamWebTransportSessionGone is applied to every stream still
	// associated with a session when that session tears down.
	ErrorStreamWebTransportSessionGone uint64 = 0x2830_3a04

	// ErrorBadApplicationPayload is used for context registration with
	// non-empty additional data, and for any context close.
	ErrorBadApplicationPayload uint64 = 0x2830_3a05

	// ErrorStreamCancelled is used for a duplicate server-side context
	// registration.
	ErrorStreamCancelled uint64 = 0x2830_3a06

	// ErrorInternalError is used when a programmer-contract violation
	// (such as writing a preamble out of turn) forces a fatal reset.
	ErrorInternalError uint64 = 0x2830_3a07
)
