package transport

import (
	"golang.org/x/crypto/blake2b"

	"nimble/server/internal/protocol"
)

// connectionHash computes the keyed connection-layer hash bound to
// secret over the header-minus-hash bytes plus body, per §4.5's
// "incoming-connection-layer hash... bound to per-conn secret" and the
// outgoing "prepare/commit" framing (hash computed once length is
// known). BLAKE2b is used keyed, which is a MAC by construction,
// promoted from an indirect dependency of the TLS/QUIC stack.
func connectionHash(secret uint64, connID uint8, seq uint8, clientTime uint16, cmd protocol.Command, body []byte) [protocol.ConnectionHashSize]byte {
	var key [8]byte
	for i := range key {
		key[i] = byte(secret >> (8 * i))
	}
	h, err := blake2b.New(protocol.ConnectionHashSize, key[:])
	if err != nil {
		// blake2b.New only fails for an invalid key/size combination;
		// ConnectionHashSize is a compile-time constant within range.
		panic("transport: invalid blake2b configuration: " + err.Error())
	}
	h.Write([]byte{connID, seq})
	h.Write([]byte{byte(clientTime >> 8), byte(clientTime)})
	h.Write([]byte{byte(cmd)})
	h.Write(body)

	var out [protocol.ConnectionHashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyIncoming checks a decoded header's hash against the
// connection's secret, returning false if it does not match (§4.5 step
// 3: "reject on mismatch — silently dropped, may be stale").
func VerifyIncoming(c *Connection, h protocol.Header, body []byte) bool {
	want := connectionHash(c.Secret, h.ConnID, h.Seq, h.ClientTime, h.Cmd, body)
	return want == h.Hash
}

// EncodeOutgoing builds a fully framed outgoing datagram: header with a
// freshly computed hash, followed by body, ready to hand to the
// transport collaborator's send(bytes) (§4.5).
func EncodeOutgoing(c *Connection, clientTime uint16, cmd protocol.Command, body []byte) []byte {
	seq := c.NextOutgoingSeq()
	hash := connectionHash(c.Secret, c.ID, seq, clientTime, cmd, body)
	h := protocol.Header{ConnID: c.ID, Hash: hash, Seq: seq, ClientTime: clientTime, Cmd: cmd}
	return protocol.EncodeHeader(h, body)
}
