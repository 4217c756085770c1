package wtmetrics

import "webtransport"

// WrapVisitor returns a webtransport.Visitor that records session
// lifecycle and datagram metrics on c, then forwards every upcall to
// next unchanged.
func (c *Collector) WrapVisitor(next webtransport.Visitor) webtransport.Visitor {
	return &meteredVisitor{c: c, next: next}
}

type meteredVisitor struct {
	c    *Collector
	next webtransport.Visitor
}

func (v *meteredVisitor) OnSessionReady(headers map[string]string) {
	v.c.SessionsOpened.Inc()
	v.c.SessionsActive.Inc()
	v.next.OnSessionReady(headers)
}

func (v *meteredVisitor) OnSessionClosed(errorCode uint32, errorMessage string) {
	v.c.SessionsActive.Dec()
	v.c.SessionsClosed.Inc()
	v.next.OnSessionClosed(errorCode, errorMessage)
}

func (v *meteredVisitor) OnIncomingBidirectionalStreamAvailable() {
	v.c.StreamsOpened.WithLabelValues("bidi").Inc()
	v.next.OnIncomingBidirectionalStreamAvailable()
}

func (v *meteredVisitor) OnIncomingUnidirectionalStreamAvailable() {
	v.c.StreamsOpened.WithLabelValues("uni").Inc()
	v.next.OnIncomingUnidirectionalStreamAvailable()
}

func (v *meteredVisitor) OnDatagramReceived(payload []byte) {
	v.c.DatagramsReceived.Inc()
	v.next.OnDatagramReceived(payload)
}

func (v *meteredVisitor) OnCanCreateNewOutgoingBidirectionalStream() {
	v.next.OnCanCreateNewOutgoingBidirectionalStream()
}

func (v *meteredVisitor) OnCanCreateNewOutgoingUnidirectionalStream() {
	v.next.OnCanCreateNewOutgoingUnidirectionalStream()
}

var _ webtransport.Visitor = (*meteredVisitor)(nil)

// WrapStreamVisitor is StreamVisitor's equivalent of WrapVisitor, used
// on a per-UnidirectionalStream basis once its preamble is resolved.
func (c *Collector) WrapStreamVisitor(next webtransport.StreamVisitor) webtransport.StreamVisitor {
	return &meteredStreamVisitor{c: c, next: next}
}

type meteredStreamVisitor struct {
	c    *Collector
	next webtransport.StreamVisitor
}

func (v *meteredStreamVisitor) OnResetStreamReceived(code uint8) {
	v.c.StreamsResetByPeer.Inc()
	v.next.OnResetStreamReceived(code)
}

func (v *meteredStreamVisitor) OnStopSendingReceived(code uint8) {
	v.next.OnStopSendingReceived(code)
}

var _ webtransport.StreamVisitor = (*meteredStreamVisitor)(nil)
