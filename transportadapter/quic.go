package transportadapter

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

// session is one accepted WebTransport session, indexed by the
// transport_index the dispatcher uses as its peer identity (§4.5
// TransportConnection.transport_index).
type session struct {
	index uint8
	sess  *webtransport.Session
}

// QuicTransport implements internal/transport.Transport over
// WebTransport/QUIC datagrams, using webtransport-go session handling
// (ReceiveDatagram / SendDatagram, sessionCloser-style lifecycle) but
// stripped of voice fan-out entirely: this adapter only ever moves
// opaque datagram bytes in and out, never interprets them.
type QuicTransport struct {
	server *webtransport.Server

	mu          sync.Mutex
	sessions    map[uint8]*session
	nextIndex   uint8
	freeIndices []uint8

	inbound chan inboundDatagram
}

type inboundDatagram struct {
	index uint8
	data  []byte
}

// NewQuicTransport configures a WebTransport/QUIC listener on addr,
// serving WebTransport sessions at path; ListenAndServe starts it.
// Accepted sessions are registered under
// a freshly allocated transport index and their datagrams are read into
// an internal queue that Receive drains.
func NewQuicTransport(addr string, tlsConfig *tls.Config, path string, capacity int, inboundQueueSize int) *QuicTransport {
	t := &QuicTransport{
		sessions: make(map[uint8]*session, capacity),
		inbound:  make(chan inboundDatagram, inboundQueueSize),
	}
	for i := 0; i < capacity; i++ {
		t.freeIndices = append(t.freeIndices, uint8(i))
	}

	wtServer := &webtransport.Server{
		H3: http3.Server{
			Addr:      addr,
			TLSConfig: tlsConfig,
			QUICConfig: &quic.Config{
				EnableDatagrams: true,
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		sess, err := wtServer.Upgrade(w, r)
		if err != nil {
			slog.Warn("webtransport upgrade failed", "err", err)
			return
		}
		t.accept(r.Context(), sess)
	})
	wtServer.H3.Handler = mux

	t.server = wtServer
	return t
}

// ListenAndServe blocks serving QUIC/WebTransport until the listener is
// closed. Run it in its own goroutine from main.go.
func (t *QuicTransport) ListenAndServe() error {
	return t.server.ListenAndServe()
}

// Close shuts down the listener and every accepted session.
func (t *QuicTransport) Close() error {
	t.mu.Lock()
	for _, s := range t.sessions {
		_ = s.sess.CloseWithError(0, "server shutting down")
	}
	t.mu.Unlock()
	return t.server.Close()
}

func (t *QuicTransport) accept(ctx context.Context, sess *webtransport.Session) {
	t.mu.Lock()
	if len(t.freeIndices) == 0 {
		t.mu.Unlock()
		slog.Warn("rejecting webtransport session: transport index pool exhausted")
		_ = sess.CloseWithError(0, "server full")
		return
	}
	idx := t.freeIndices[0]
	t.freeIndices = t.freeIndices[1:]
	s := &session{index: idx, sess: sess}
	t.sessions[idx] = s
	t.mu.Unlock()

	slog.Info("webtransport session accepted", "transport_index", idx)
	go t.readLoop(ctx, s)
}

func (t *QuicTransport) readLoop(ctx context.Context, s *session) {
	defer t.release(s.index)
	for {
		data, err := s.sess.ReceiveDatagram(ctx)
		if err != nil {
			slog.Info("webtransport session closed", "transport_index", s.index, "err", err)
			return
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		select {
		case t.inbound <- inboundDatagram{index: s.index, data: cp}:
		default:
			slog.Warn("inbound datagram queue full, dropping", "transport_index", s.index)
		}
	}
}

func (t *QuicTransport) release(index uint8) {
	t.mu.Lock()
	delete(t.sessions, index)
	t.freeIndices = append(t.freeIndices, index)
	t.mu.Unlock()
}

// Send implements internal/transport.Transport.
func (t *QuicTransport) Send(transportIndex uint8, data []byte) error {
	t.mu.Lock()
	s, ok := t.sessions[transportIndex]
	t.mu.Unlock()
	if !ok {
		return errUnknownTransportIndex(transportIndex)
	}
	return s.sess.SendDatagram(data)
}

// Receive implements internal/transport.Transport: non-blocking drain
// of the inbound queue fed by each session's read loop.
func (t *QuicTransport) Receive() (transportIndex uint8, data []byte, ok bool) {
	select {
	case d := <-t.inbound:
		return d.index, d.data, true
	default:
		return 0, nil, false
	}
}

type errUnknownTransportIndex uint8

func (e errUnknownTransportIndex) Error() string {
	return "transportadapter: no session for transport index"
}
