package webtransport

// Visitor is the upcall surface a Session drives to notify the embedding
// application. Implementations should not block; every call happens on
// whatever goroutine delivered the underlying carrier event.
type Visitor interface {
	// OnSessionReady fires once, after a successful CONNECT response.
	// headers is the response (server-perspective: request) header set.
	OnSessionReady(headers map[string]string)

	// OnSessionClosed fires exactly once, at terminal close, carrying the
	// error state of whichever side sent first.
	OnSessionClosed(errorCode uint32, errorMessage string)

	// OnIncomingBidirectionalStreamAvailable and
	// OnIncomingUnidirectionalStreamAvailable are edge-triggered: the
	// visitor must drain the corresponding Accept method until it
	// returns ok=false.
	OnIncomingBidirectionalStreamAvailable()
	OnIncomingUnidirectionalStreamAvailable()

	// OnDatagramReceived delivers an unordered datagram payload; delivery
	// may be dropped under carrier pressure.
	OnDatagramReceived(payload []byte)

	// OnCanCreateNewOutgoingBidirectionalStream and
	// OnCanCreateNewOutgoingUnidirectionalStream re-arm after an Open
	// call returned ok=false due to admission refusal.
	OnCanCreateNewOutgoingBidirectionalStream()
	OnCanCreateNewOutgoingUnidirectionalStream()
}

// noopVisitor is installed by NewSession so that upcalls delivered before
// the application installs its own visitor (e.g. a datagram arriving
// between stream association and application install) never fault.
type noopVisitor struct{}

func (noopVisitor) OnSessionReady(map[string]string)             {}
func (noopVisitor) OnSessionClosed(uint32, string)                {}
func (noopVisitor) OnIncomingBidirectionalStreamAvailable()       {}
func (noopVisitor) OnIncomingUnidirectionalStreamAvailable()      {}
func (noopVisitor) OnDatagramReceived([]byte)                     {}
func (noopVisitor) OnCanCreateNewOutgoingBidirectionalStream()    {}
func (noopVisitor) OnCanCreateNewOutgoingUnidirectionalStream()   {}

var _ Visitor = noopVisitor{}

// StreamVisitor is the per-stream upcall surface a unidirectional
// stream forwards peer reset and stop-sending events to, once the
// application has installed it via UnidirectionalStream.SetVisitor.
type StreamVisitor interface {
	// OnResetStreamReceived and OnStopSendingReceived report the
	// WebTransport-mapped error code carried by the peer's RESET_STREAM
	// or STOP_SENDING signal.
	OnResetStreamReceived(webtransportErrorCode uint8)
	OnStopSendingReceived(webtransportErrorCode uint8)
}

// noopStreamVisitor discards every upcall; installed until the
// application sets its own.
type noopStreamVisitor struct{}

func (noopStreamVisitor) OnResetStreamReceived(uint8) {}
func (noopStreamVisitor) OnStopSendingReceived(uint8) {}

var _ StreamVisitor = noopStreamVisitor{}
