package blobout

import (
	"testing"

	"nimble/server/internal/nimble"
)

func fixedSnapshot(data string, stepID nimble.StepID) SerializeFn {
	calls := 0
	return func() GameState {
		calls++
		return GameState{Bytes: []byte(data), StepID: stepID}
	}
}

func TestChunkBytesSplitsEvenly(t *testing.T) {
	chunks := chunkBytes([]byte("abcdefghij"), 4)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if string(chunks[0]) != "abcd" || string(chunks[1]) != "efgh" || string(chunks[2]) != "ij" {
		t.Fatalf("unexpected chunk contents: %q %q %q", chunks[0], chunks[1], chunks[2])
	}
}

func TestHandleDownloadGameStateRequestStartsFreshTransfer(t *testing.T) {
	m := NewManager(fixedSnapshot("0123456789", 95), 4)
	desc := m.HandleDownloadGameStateRequest(1, 7)

	if desc.StepID != 95 || desc.TotalBytes != 10 || desc.TotalChunks != 3 {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	if !m.Active(1) {
		t.Fatalf("expected connection 1 to have an active transfer")
	}
}

func TestHandleDownloadGameStateRequestIsIdempotentOnSameClientRequestID(t *testing.T) {
	calls := 0
	fn := func() GameState {
		calls++
		return GameState{Bytes: []byte("xyz"), StepID: 1}
	}
	m := NewManager(fn, 4)

	d1 := m.HandleDownloadGameStateRequest(1, 7)
	d2 := m.HandleDownloadGameStateRequest(1, 7)

	if calls != 1 {
		t.Fatalf("serialize callback invoked %d times, want 1 for a repeated client_request_id", calls)
	}
	if d1.ChannelID != d2.ChannelID || d1.CorrelationID != d2.CorrelationID {
		t.Fatalf("expected identical descriptor on repeat request: %+v vs %+v", d1, d2)
	}
}

func TestHandleDownloadGameStateRequestDifferentIDStartsNewTransfer(t *testing.T) {
	calls := 0
	fn := func() GameState {
		calls++
		return GameState{Bytes: []byte("xyz"), StepID: nimble.StepID(calls)}
	}
	m := NewManager(fn, 4)

	d1 := m.HandleDownloadGameStateRequest(1, 7)
	d2 := m.HandleDownloadGameStateRequest(1, 8)

	if calls != 2 {
		t.Fatalf("serialize callback invoked %d times, want 2", calls)
	}
	if d1.ChannelID == d2.ChannelID {
		t.Fatalf("expected a fresh channel id for a new client_request_id")
	}
}

func TestHandleDownloadGameStateStatusStreamsAndCompletes(t *testing.T) {
	m := NewManager(fixedSnapshot("0123456789", 95), 2)
	m.HandleDownloadGameStateRequest(1, 1)

	chunks, _, done := m.HandleDownloadGameStateStatus(1, 0)
	if done {
		t.Fatalf("should not be done after the first burst")
	}
	if len(chunks) != nimble.MaxChunksPerSend {
		t.Fatalf("len(chunks) = %d, want %d (burst cap)", len(chunks), nimble.MaxChunksPerSend)
	}

	chunks, _, done = m.HandleDownloadGameStateStatus(1, nimble.MaxChunksPerSend)
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1 remaining chunk", len(chunks))
	}
	if done {
		t.Fatalf("not done yet: the final chunk has been sent but not yet acked")
	}

	_, stepID, done := m.HandleDownloadGameStateStatus(1, 5)
	if !done {
		t.Fatalf("expected transfer to complete once all 5 chunks are acked")
	}
	if stepID != 95 {
		t.Fatalf("resume step id = %d, want 95", stepID)
	}
}

func TestHandleDownloadGameStateStatusUnknownConnectionIsNoop(t *testing.T) {
	m := NewManager(fixedSnapshot("x", 0), 4)
	chunks, _, done := m.HandleDownloadGameStateStatus(42, 0)
	if chunks != nil || done {
		t.Fatalf("expected a no-op for an unknown connection")
	}
}

func TestAckNeverMovesWindowBackwards(t *testing.T) {
	tr := newTransfer(1, 1, GameState{Bytes: []byte("0123456789"), StepID: 1}, 2)
	tr.ack(3)
	tr.ack(1)
	if tr.acked != 3 {
		t.Fatalf("acked = %d, want 3 (acks must not regress)", tr.acked)
	}
}

func TestReleaseDropsTransfer(t *testing.T) {
	m := NewManager(fixedSnapshot("x", 0), 4)
	m.HandleDownloadGameStateRequest(1, 1)
	m.Release(1)
	if m.Active(1) {
		t.Fatalf("expected transfer to be released")
	}
}
