package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	errShortRangeHeader   = errors.New("protocol: step range buffer truncated at range header")
	errShortPayloadHeader = errors.New("protocol: step range buffer truncated at payload header")
	errShortPayload       = errors.New("protocol: step range buffer truncated at payload body")
)

// EncodeStepRanges serializes ranges as a sequence of
// {first_step_id: u32, count: u8, payload_len: u16, payload}* entries,
// trimming trailing ranges (and, if necessary, trailing payloads within
// the last range) so the result plus headerOverhead never exceeds
// MAX_DATAGRAM_SIZE. Returns the encoded bytes and how many ranges were
// dropped to fit (§4.7, §6).
func EncodeStepRanges(ranges []StepRange, headerOverhead int, maxDatagramSize int) ([]byte, int) {
	budget := maxDatagramSize - headerOverhead
	out := make([]byte, 0, budget)
	dropped := 0

	for i, r := range ranges {
		rangeBytes, fits := encodeOneRange(r, budget-len(out))
		if !fits {
			dropped += len(ranges) - i
			break
		}
		out = append(out, rangeBytes...)
	}
	return out, dropped
}

// encodeOneRange encodes a single range, truncating trailing payloads
// if the full range would not fit in budget bytes. Returns false only
// if not even the range header fits.
func encodeOneRange(r StepRange, budget int) ([]byte, bool) {
	const rangeHeaderSize = 4 + 1 // first_step_id(u32) + count(u8)
	if budget < rangeHeaderSize {
		return nil, false
	}

	included := 0
	size := rangeHeaderSize
	for _, payload := range r.Payloads {
		entrySize := 2 + len(payload)
		if size+entrySize > budget {
			break
		}
		size += entrySize
		included++
	}

	out := make([]byte, 0, size)
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], r.FirstStepID)
	out = append(out, idBuf[:]...)
	out = append(out, byte(included))
	for i := 0; i < included; i++ {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(r.Payloads[i])))
		out = append(out, lenBuf[:]...)
		out = append(out, r.Payloads[i]...)
	}
	return out, true
}

// DecodeStepRanges reverses EncodeStepRanges, reading ranges until buf
// is exhausted.
func DecodeStepRanges(buf []byte) ([]StepRange, error) {
	var ranges []StepRange
	pos := 0
	for pos < len(buf) {
		if pos+5 > len(buf) {
			return nil, errShortRangeHeader
		}
		firstStepID := binary.BigEndian.Uint32(buf[pos : pos+4])
		count := int(buf[pos+4])
		pos += 5

		payloads := make([][]byte, 0, count)
		for i := 0; i < count; i++ {
			if pos+2 > len(buf) {
				return nil, errShortPayloadHeader
			}
			payloadLen := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
			pos += 2
			if pos+payloadLen > len(buf) {
				return nil, errShortPayload
			}
			payload := make([]byte, payloadLen)
			copy(payload, buf[pos:pos+payloadLen])
			pos += payloadLen
			payloads = append(payloads, payload)
		}
		ranges = append(ranges, StepRange{FirstStepID: firstStepID, Payloads: payloads})
	}
	return ranges, nil
}
