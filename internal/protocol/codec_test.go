package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeStepRangesRoundTrip(t *testing.T) {
	ranges := []StepRange{
		{FirstStepID: 10, Payloads: [][]byte{[]byte("a"), []byte("bb")}},
		{FirstStepID: 20, Payloads: [][]byte{[]byte("ccc")}},
	}
	encoded, dropped := EncodeStepRanges(ranges, 0, 1200)
	if dropped != 0 {
		t.Fatalf("dropped = %d, want 0 with ample budget", dropped)
	}

	decoded, err := DecodeStepRanges(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("len(decoded) = %d, want 2", len(decoded))
	}
	if decoded[0].FirstStepID != 10 || len(decoded[0].Payloads) != 2 {
		t.Fatalf("range 0 = %+v", decoded[0])
	}
	if !bytes.Equal(decoded[0].Payloads[1], []byte("bb")) {
		t.Fatalf("range 0 payload 1 = %q, want %q", decoded[0].Payloads[1], "bb")
	}
	if decoded[1].FirstStepID != 20 || !bytes.Equal(decoded[1].Payloads[0], []byte("ccc")) {
		t.Fatalf("range 1 = %+v", decoded[1])
	}
}

func TestEncodeStepRangesTrimsToFitBudget(t *testing.T) {
	ranges := []StepRange{
		{FirstStepID: 1, Payloads: [][]byte{bytes.Repeat([]byte("x"), 50)}},
		{FirstStepID: 2, Payloads: [][]byte{bytes.Repeat([]byte("y"), 50)}},
		{FirstStepID: 3, Payloads: [][]byte{bytes.Repeat([]byte("z"), 50)}},
	}
	// Budget only large enough for the first range's header + payload.
	encoded, dropped := EncodeStepRanges(ranges, 0, 5+2+50)
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	decoded, err := DecodeStepRanges(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 || decoded[0].FirstStepID != 1 {
		t.Fatalf("decoded = %+v, want only range 1", decoded)
	}
}

func TestEncodeStepRangesTrimsPayloadsWithinLastFittingRange(t *testing.T) {
	ranges := []StepRange{
		{FirstStepID: 1, Payloads: [][]byte{bytes.Repeat([]byte("a"), 10), bytes.Repeat([]byte("b"), 10)}},
	}
	// Budget fits the range header and only the first payload.
	encoded, _ := EncodeStepRanges(ranges, 0, 5+2+10)
	decoded, err := DecodeStepRanges(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 || len(decoded[0].Payloads) != 1 {
		t.Fatalf("decoded = %+v, want one range with one payload", decoded)
	}
}

func TestDecodeStepRangesTruncatedHeaderFails(t *testing.T) {
	if _, err := DecodeStepRanges([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for truncated range header")
	}
}
