package protocol

import (
	"encoding/binary"
	"fmt"
)

// OutgoingMarker is the fixed marker byte that follows the outgoing
// ordered sequence number, letting a receiver sanity-check header
// alignment before trusting the rest of the datagram (§4.5).
const OutgoingMarker = 0xDD

// ConnectionHashSize is the width of the connection-layer keyed hash
// carried in every non-OOB datagram. 8 bytes keeps per-datagram
// overhead small against the 1200-byte MAX_DATAGRAM_SIZE budget while
// still making forgery impractical for an unauthenticated UDP peer.
const ConnectionHashSize = 8

// HeaderSize is the fixed-size prefix before cmd-specific body bytes:
// conn_id(1) | hash(8) | seq(1) | marker(1) | client_time(2) | cmd(1).
const HeaderSize = 1 + ConnectionHashSize + 1 + 1 + 2 + 1

// Header is the decoded fixed prefix of every non-OOB datagram (§4.5).
// The hash field is opaque here; internal/transport verifies it against
// the connection's secret before trusting ConnID/Seq/Cmd.
type Header struct {
	ConnID     uint8
	Hash       [ConnectionHashSize]byte
	Seq        uint8
	ClientTime uint16
	Cmd        Command
}

// DecodeHeader parses the fixed header prefix from buf, returning the
// header and the remaining body bytes. It validates only the marker
// byte; hash and sequence validation are the transport layer's job.
func DecodeHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, fmt.Errorf("protocol: datagram shorter than header (%d < %d)", len(buf), HeaderSize)
	}
	var h Header
	h.ConnID = buf[0]
	copy(h.Hash[:], buf[1:1+ConnectionHashSize])
	pos := 1 + ConnectionHashSize
	h.Seq = buf[pos]
	pos++
	marker := buf[pos]
	pos++
	if marker != OutgoingMarker {
		return Header{}, nil, fmt.Errorf("protocol: bad marker byte 0x%02x", marker)
	}
	h.ClientTime = binary.BigEndian.Uint16(buf[pos : pos+2])
	pos += 2
	h.Cmd = Command(buf[pos])
	pos++
	return h, buf[pos:], nil
}

// EncodeHeader writes a fixed header prefix followed by body. The hash
// field is copied from h as given: internal/transport's EncodeOutgoing
// computes it from the header fields and body before calling, so the
// datagram is written once. WithHash can overwrite the hash of an
// already-encoded datagram.
func EncodeHeader(h Header, body []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, h.ConnID)
	out = append(out, h.Hash[:]...)
	out = append(out, h.Seq, OutgoingMarker)
	var timeBuf [2]byte
	binary.BigEndian.PutUint16(timeBuf[:], h.ClientTime)
	out = append(out, timeBuf[:]...)
	out = append(out, byte(h.Cmd))
	out = append(out, body...)
	return out
}

// WithHash returns a copy of datagram with its hash field overwritten,
// the "commit" half of the prepare/commit pattern.
func WithHash(datagram []byte, hash [ConnectionHashSize]byte) []byte {
	out := make([]byte, len(datagram))
	copy(out, datagram)
	copy(out[1:1+ConnectionHashSize], hash[:])
	return out
}
