package transport

// Transport is the external, unreliable datagram collaborator (§1, §5):
// "the underlying datagram transport (send(data) / receive() → (connId,
// data))". This package and everything above it only ever sees this
// interface — the concrete networking (QUIC, WebTransport, UDP, ...)
// lives in the transportadapter package and is wired in at main.go.
type Transport interface {
	// Send writes one unreliable datagram to the peer identified by
	// transportIndex. Errors are transport-level (e.g. peer gone) and
	// are not fatal to the server: the caller logs and moves on.
	Send(transportIndex uint8, data []byte) error

	// Receive drains one buffered inbound datagram, non-blocking (§5:
	// "the transport exposes a non-blocking receive() → Option<...>").
	// ok is false once nothing is currently buffered.
	Receive() (transportIndex uint8, data []byte, ok bool)
}
