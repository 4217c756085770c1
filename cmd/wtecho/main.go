// Command wtecho is a minimal WebTransport echo endpoint: the server
// accepts a session and echoes every datagram back to its sender. It
// exercises the session lifecycle (construction, datagrams, close)
// against a real QUIC connection. The quicgo adapter never delivers a
// datagram context registration, so a server session never adopts a
// context ID and only datagrams sent without one are echoed. It does
// not implement actual HTTP/3 extended-CONNECT request parsing (named,
// like the rest of HTTP/3, as an external collaborator), so the
// "headers" exchanged here are a placeholder map rather than wire bytes.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	quic "github.com/quic-go/quic-go"

	"webtransport"
	"webtransport/capsule"
	"webtransport/carrier"
	"webtransport/carrier/quicgo"
	"webtransport/wtconfig"
	"webtransport/wtmetrics"
)

func main() {
	configPath := flag.String("config", "wtecho.yaml", "path to config file")
	flag.Parse()

	reloader, err := wtconfig.NewReloadable(*configPath)
	if err != nil {
		log.Fatalf("wtecho: config load failed: %v", err)
	}
	defer reloader.Close()
	cfg := reloader.Get()

	if cfg.Logging.Level == "debug" {
		webtransport.SetLogger(log.New(os.Stderr, "wtecho: ", log.LstdFlags|log.Lmicroseconds))
	}

	collector := wtmetrics.NewCollector()
	if cfg.Metrics.Enabled {
		go func() {
			if err := collector.ListenAndServe(cfg.Metrics.Listen); err != nil {
				log.Printf("wtecho: metrics server stopped: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	var runErr error
	switch cfg.Role {
	case "server":
		runErr = runServer(ctx, cfg, collector)
	case "client":
		runErr = runClient(ctx, cfg, collector)
	default:
		log.Fatalf("wtecho: role must be \"client\" or \"server\", got %q", cfg.Role)
	}
	if runErr != nil && ctx.Err() == nil {
		log.Fatalf("wtecho: %v", runErr)
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	cancel()
}

func runServer(ctx context.Context, cfg *wtconfig.Config, collector *wtmetrics.Collector) error {
	tlsConf, err := serverTLSConfig(cfg)
	if err != nil {
		return err
	}

	ln, err := quic.ListenAddr(cfg.Listen, tlsConf, &quic.Config{EnableDatagrams: true})
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Printf("wtecho: server listening on %s", cfg.Listen)

	registry := webtransport.NewRegistry()

	for {
		qconn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("wtecho: accept failed: %v", err)
			continue
		}
		go serveConnection(ctx, qconn, cfg, collector, registry)
	}
}

func serveConnection(ctx context.Context, qconn *quic.Conn, cfg *wtconfig.Config, collector *wtmetrics.Collector, registry *webtransport.Registry) {
	conn := quicgo.NewConn(qconn, carrier.PerspectiveServer)

	connectQS, err := qconn.AcceptStream(ctx)
	if err != nil {
		log.Printf("wtecho: accept CONNECT stream failed: %v", err)
		return
	}
	connectStream := quicgo.NewConnectStream(conn, connectQS)

	sess, err := webtransport.NewSession(conn, connectStream, connectStream.ID(), carrier.PerspectiveServer, cfg.Session.UseDatagramContexts)
	if err != nil {
		log.Printf("wtecho: session setup failed: %v", err)
		return
	}
	registry.Register(sess)
	defer registry.Unregister(sess.ID())

	sess.SetVisitor(collector.WrapVisitor(echoVisitor{sess: sess, collector: collector}))
	sess.HeadersReceived(map[string]string{":status": "200"})

	go func() {
		if err := conn.AcceptLoop(ctx,
			func(s carrier.Stream) { sess.AssociateStream(s.ID()) },
			func(s carrier.ReceiveStream) {
				uni := webtransport.NewIncomingUnidirectionalStream(conn, registry.Lookup, s)
				uni.OnDataAvailable()
			},
		); err != nil {
			log.Printf("wtecho: accept loop for session %d ended: %v", sess.ID(), err)
		}
	}()
	go runCapsuleLoop(connectStream, sess)

	for {
		payload, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		connectStream.DispatchDatagram(payload)
	}
}

// runCapsuleLoop reads CLOSE_WEBTRANSPORT_SESSION capsules (and the bare
// FIN that substitutes for one) off the CONNECT stream and feeds them to
// sess, driving the same close protocol the property tests exercise
// against fakes.
func runCapsuleLoop(cs *quicgo.ConnectStream, sess *webtransport.Session) {
	for {
		c, err := cs.ReadCapsule()
		if err != nil {
			if err == io.EOF {
				sess.OnConnectStreamFinReceived()
			}
			return
		}
		errorCode, errorMessage, err := capsule.ParseCloseWebTransportSession(c)
		if err != nil {
			log.Printf("wtecho: ignoring unrecognized capsule type %#x on session %d", c.Type, sess.ID())
			continue
		}
		sess.OnCloseReceived(errorCode, errorMessage)
	}
}

// recordDatagramSend translates a SendOrQueueDatagram outcome into the
// collector's sent/dropped counters.
func recordDatagramSend(collector *wtmetrics.Collector, status carrier.SendStatus, err error) {
	switch {
	case err != nil || status == carrier.SendStatusDroppedNoCapacity:
		collector.DatagramsDropped.WithLabelValues("no_capacity").Inc()
	case status == carrier.SendStatusDroppedTooBig:
		collector.DatagramsDropped.WithLabelValues("too_big").Inc()
	default:
		collector.DatagramsSent.Inc()
	}
}

// echoVisitor implements webtransport.Visitor by sending back whatever
// datagram the session receives.
type echoVisitor struct {
	sess      *webtransport.Session
	collector *wtmetrics.Collector
}

func (v echoVisitor) OnSessionReady(map[string]string) {}
func (v echoVisitor) OnSessionClosed(errorCode uint32, errorMessage string) {
	log.Printf("wtecho: session %d closed (%d, %q)", v.sess.ID(), errorCode, errorMessage)
}
func (v echoVisitor) OnIncomingBidirectionalStreamAvailable() {}
func (v echoVisitor) OnIncomingUnidirectionalStreamAvailable() {}
func (v echoVisitor) OnDatagramReceived(payload []byte) {
	echoed := make([]byte, len(payload))
	copy(echoed, payload)
	status, err := v.sess.SendOrQueueDatagram(echoed)
	recordDatagramSend(v.collector, status, err)
}
func (v echoVisitor) OnCanCreateNewOutgoingBidirectionalStream()  {}
func (v echoVisitor) OnCanCreateNewOutgoingUnidirectionalStream() {}

var _ webtransport.Visitor = echoVisitor{}

func serverTLSConfig(cfg *wtconfig.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"wtecho"},
	}, nil
}

func runClient(ctx context.Context, cfg *wtconfig.Config, collector *wtmetrics.Collector) error {
	tlsConf := &tls.Config{
		NextProtos:         []string{"wtecho"},
		InsecureSkipVerify: cfg.TLS.Insecure,
		ServerName:         cfg.TLS.ServerName,
	}

	qconn, err := quic.DialAddr(ctx, cfg.Listen, tlsConf, &quic.Config{EnableDatagrams: true})
	if err != nil {
		return err
	}
	defer qconn.CloseWithError(0, "done")

	conn := quicgo.NewConn(qconn, carrier.PerspectiveClient)

	connectQS, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	connectStream := quicgo.NewConnectStream(conn, connectQS)

	sess, err := webtransport.NewSession(conn, connectStream, connectStream.ID(), carrier.PerspectiveClient, cfg.Session.UseDatagramContexts)
	if err != nil {
		return err
	}

	ready := make(chan struct{})
	visitor := &clientVisitor{ready: ready}
	sess.SetVisitor(collector.WrapVisitor(visitor))
	sess.HeadersReceived(map[string]string{":status": "200"})
	go runCapsuleLoop(connectStream, sess)

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	status, err := sess.SendOrQueueDatagram([]byte("hello from wtecho client"))
	recordDatagramSend(collector, status, err)
	if err != nil {
		return err
	}

	go func() {
		for {
			payload, err := conn.ReceiveDatagram(ctx)
			if err != nil {
				return
			}
			connectStream.DispatchDatagram(payload)
		}
	}()

	<-ctx.Done()
	return sess.Close(0, "client shutting down")
}

type clientVisitor struct {
	ready chan struct{}
}

func (v *clientVisitor) OnSessionReady(map[string]string) { close(v.ready) }
func (v *clientVisitor) OnSessionClosed(errorCode uint32, errorMessage string) {
	log.Printf("wtecho: session closed (%d, %q)", errorCode, errorMessage)
}
func (v *clientVisitor) OnIncomingBidirectionalStreamAvailable()  {}
func (v *clientVisitor) OnIncomingUnidirectionalStreamAvailable() {}
func (v *clientVisitor) OnDatagramReceived(payload []byte) {
	log.Printf("wtecho: received echo: %s", payload)
}
func (v *clientVisitor) OnCanCreateNewOutgoingBidirectionalStream()  {}
func (v *clientVisitor) OnCanCreateNewOutgoingUnidirectionalStream() {}

var _ webtransport.Visitor = (*clientVisitor)(nil)
