// Package protocol implements the wire-level encode/decode of nimble's
// binary datagram bodies: combined authoritative steps, command
// framing, and the error codes exchanged with a peer. It knows nothing
// about parties, participants, or quality — it is handed plain ids and
// byte slices by internal/nimble and returns plain byte slices.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Marker tags how a single participant's contribution to a combined
// authoritative step was produced, per the combined-step format
// described in SPEC_FULL.md §3/§4.2.
type Marker uint8

const (
	// MarkerNormal is a participant's ordinary contributed payload.
	MarkerNormal Marker = iota
	// MarkerJoined tags a participant's first-ever contribution.
	MarkerJoined
	// MarkerForced tags a payload synthesized because the participant
	// did not provide one in time.
	MarkerForced
	// MarkerWaitingForReJoin tags a forced contribution for a
	// participant whose party is currently WaitingForReJoin.
	MarkerWaitingForReJoin
)

// Contribution is one participant's entry in a combined authoritative
// step: {marker|id, payload length, payload bytes}.
type Contribution struct {
	ParticipantID uint8
	Marker        Marker
	Payload       []byte
}

// EncodeCombinedStep writes participant_count followed by each
// contribution in order, matching SPEC_FULL.md §4.2 step 1-2.
func EncodeCombinedStep(contributions []Contribution) []byte {
	out := make([]byte, 0, 4+len(contributions)*8)
	out = append(out, byte(len(contributions)))
	for _, c := range contributions {
		out = append(out, byte(c.Marker), c.ParticipantID)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(c.Payload)))
		out = append(out, lenBuf[:]...)
		out = append(out, c.Payload...)
	}
	return out
}

// DecodeCombinedStep reverses EncodeCombinedStep. It returns an error
// if the buffer is truncated or a declared payload length overruns it.
func DecodeCombinedStep(buf []byte) ([]Contribution, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("protocol: combined step buffer is empty")
	}
	count := int(buf[0])
	out := make([]Contribution, 0, count)
	pos := 1
	for i := 0; i < count; i++ {
		if pos+4 > len(buf) {
			return nil, fmt.Errorf("protocol: combined step truncated at contribution %d header", i)
		}
		marker := Marker(buf[pos])
		id := buf[pos+1]
		payloadLen := int(binary.BigEndian.Uint16(buf[pos+2 : pos+4]))
		pos += 4
		if pos+payloadLen > len(buf) {
			return nil, fmt.Errorf("protocol: combined step truncated at contribution %d payload", i)
		}
		payload := make([]byte, payloadLen)
		copy(payload, buf[pos:pos+payloadLen])
		pos += payloadLen
		out = append(out, Contribution{ParticipantID: id, Marker: marker, Payload: payload})
	}
	return out, nil
}
