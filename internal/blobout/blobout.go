package blobout

import (
	"log/slog"

	"github.com/google/uuid"

	"nimble/server/internal/nimble"
)

// Chunk is one piece of a blob transfer ready to go out as a
// GameStatePart datagram.
type Chunk struct {
	Index int
	Data  []byte
}

// SerializeFn is the out-of-scope application callback that produces
// the current authoritative game state for a snapshot download
// (§1 "the application callback that serializes the current
// authoritative game state"). The dispatcher never calls into game
// logic itself; it is only ever handed this function.
type SerializeFn func() GameState

// transfer is one in-flight chunked send to a single transport
// connection, mirroring NimbleServerTransportConnection's blob_out plus
// its staging GameState (§3 DATA MODEL).
type transfer struct {
	channelID       uint32
	correlationID   uuid.UUID
	clientRequestID uint32
	hasRequestID    bool

	staging GameState
	chunks  [][]byte

	nextToSend int
	acked      int
}

func newTransfer(channelID uint32, clientRequestID uint32, snapshot GameState, chunkSize int) *transfer {
	t := &transfer{
		channelID:       channelID,
		correlationID:   uuid.New(),
		clientRequestID: clientRequestID,
		hasRequestID:    true,
		staging:         snapshot,
	}
	t.chunks = chunkBytes(snapshot.Bytes, chunkSize)
	return t
}

func chunkBytes(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = nimble.BlobStreamChunkSize
	}
	if len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+chunkSize-1)/chunkSize)
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, end-offset)
		copy(chunk, data[offset:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}

func (t *transfer) totalChunks() int { return len(t.chunks) }

func (t *transfer) done() bool { return t.acked >= len(t.chunks) }

// ack records that the client has received chunks up to (but not
// including) chunksReceived, updating the send window (§4.8:
// "feed the ack into the blob-logic, updates send window"). Acks never
// move the window backwards.
func (t *transfer) ack(chunksReceived int) {
	if chunksReceived > t.acked {
		t.acked = chunksReceived
	}
	if t.nextToSend < t.acked {
		t.nextToSend = t.acked
	}
}

// nextChunks returns up to max chunks starting at the current send
// cursor and advances it, implementing the "prepare up to 4 next
// chunks" burst from §4.8.
func (t *transfer) nextChunks(max int) []Chunk {
	if t.nextToSend >= len(t.chunks) {
		return nil
	}
	end := t.nextToSend + max
	if end > len(t.chunks) {
		end = len(t.chunks)
	}
	out := make([]Chunk, 0, end-t.nextToSend)
	for i := t.nextToSend; i < end; i++ {
		out = append(out, Chunk{Index: i, Data: t.chunks[i]})
	}
	t.nextToSend = end
	return out
}

// Manager tracks one blob-out transfer per transport connection and
// allocates channel ids, the same identity bookkeeping as a blob
// store's newUUID-per-blob but holding the transfer in memory instead
// of on disk — a snapshot download is a live network stream, not
// durable storage (§7 Non-goals: no persistence).
type Manager struct {
	serialize       SerializeFn
	chunkSize       int
	nextChannelID   uint32
	transfersByConn map[uint8]*transfer
}

// NewManager returns a Manager that serializes snapshots via fn and
// chunks them at chunkSize bytes (BlobStreamChunkSize by default).
func NewManager(fn SerializeFn, chunkSize int) *Manager {
	if chunkSize <= 0 {
		chunkSize = nimble.BlobStreamChunkSize
	}
	return &Manager{
		serialize:       fn,
		chunkSize:       chunkSize,
		transfersByConn: make(map[uint8]*transfer),
	}
}

// Descriptor is what the dispatcher needs to build the
// DownloadGameStateResponse + start-transfer datagram.
type Descriptor struct {
	ChannelID     uint32
	CorrelationID uuid.UUID
	TotalChunks   int
	StepID        nimble.StepID
	TotalBytes    int
}

func (t *transfer) descriptor() Descriptor {
	return Descriptor{
		ChannelID:     t.channelID,
		CorrelationID: t.correlationID,
		TotalChunks:   len(t.chunks),
		StepID:        t.staging.StepID,
		TotalBytes:    len(t.staging.Bytes),
	}
}

// HandleDownloadGameStateRequest implements §4.8's request handling: a
// repeated clientRequestID resends the same descriptor without
// re-serializing; any other value starts a fresh transfer, invoking the
// application callback exactly once. Returns the descriptor for the
// reply datagram.
func (m *Manager) HandleDownloadGameStateRequest(connID uint8, clientRequestID uint32) Descriptor {
	if existing, ok := m.transfersByConn[connID]; ok && existing.hasRequestID && existing.clientRequestID == clientRequestID {
		slog.Debug("resending existing snapshot descriptor", "connection_id", connID, "client_request_id", clientRequestID)
		return existing.descriptor()
	}

	snapshot := m.serialize()
	m.nextChannelID++
	t := newTransfer(m.nextChannelID, clientRequestID, snapshot.Clone(), m.chunkSize)
	m.transfersByConn[connID] = t

	slog.Info("snapshot download started",
		"connection_id", connID, "channel_id", t.channelID, "correlation_id", t.correlationID,
		"step_id", snapshot.StepID, "total_chunks", len(t.chunks))
	return t.descriptor()
}

// HandleDownloadGameStateStatus implements §4.8's ack handling: feeds
// chunksReceived into the transfer's send window and returns up to
// MaxChunksPerSend fresh chunks to transmit. The second return value is
// the snapshot's step id and true once every chunk has been acked, so
// the caller can emit the follow-on authoritative-range datagram that
// lets the client resume lockstep.
func (m *Manager) HandleDownloadGameStateStatus(connID uint8, chunksReceived int) (chunks []Chunk, resumeStepID nimble.StepID, readyToResumeLockstep bool) {
	t, ok := m.transfersByConn[connID]
	if !ok {
		return nil, 0, false
	}
	t.ack(chunksReceived)
	chunks = t.nextChunks(nimble.MaxChunksPerSend)
	if t.done() {
		slog.Info("snapshot download complete", "connection_id", connID, "channel_id", t.channelID)
		return chunks, t.staging.StepID, true
	}
	return chunks, 0, false
}

// Release drops a connection's in-flight transfer, e.g. on disconnect.
func (m *Manager) Release(connID uint8) {
	delete(m.transfersByConn, connID)
}

// Active reports whether connID currently has an in-flight or completed
// transfer tracked.
func (m *Manager) Active(connID uint8) bool {
	_, ok := m.transfersByConn[connID]
	return ok
}
