package protocol

// Command identifies the body that follows a datagram header (§6).
type Command uint8

const (
	CmdConnectRequest Command = iota + 1
	CmdJoinGameRequest
	CmdGameStep
	CmdDownloadGameStateRequest
	CmdDownloadGameStateStatus
	CmdPingRequest
)

// ReplyCommand identifies an outgoing datagram's body shape. Kept
// distinct from Command so in/out directions can never be confused at
// a call site (§6's command table is explicit about direction).
type ReplyCommand uint8

const (
	ReplyConnectResponse ReplyCommand = iota + 1
	ReplyJoinGameResponse
	ReplyOutOfSlots
	ReplyGameStepResponse
	ReplyDownloadGameStateResponse
	ReplyBlobStreamStart
	ReplyGameStatePart
	ReplyPongResponse
)

// JoinKind discriminates the three ways a JoinGameRequest can attach to
// a party (§4.6).
type JoinKind uint8

const (
	JoinNoSecret JoinKind = iota
	JoinWithSecret
	JoinHostMigrationParticipantID
)

// ConnectRequest is the out-of-band (conn_id=0) handshake body.
type ConnectRequest struct {
	TransportIndex uint8
	RequestNonce   uint64
}

// ConnectResponse answers a ConnectRequest with the allocated
// connection id and its fresh per-connection secret.
type ConnectResponse struct {
	ConnectionID uint8
	Secret       uint64
	UseDebugStreams bool
}

// JoinGameRequest carries one of the three JoinKind variants; only the
// field matching Kind is meaningful.
type JoinGameRequest struct {
	Kind                     JoinKind
	ConnectionSecret         uint64
	HostMigrationParticipant uint8
	LocalPlayerCount         uint8
}

// JoinGameResponse reports the participant ids and local indices
// assigned to a successful join, plus the party's connection index and
// secret (so the client can reconnect later via JoinWithSecret).
type JoinGameResponse struct {
	ParticipantIDs  []uint8
	LocalIndices    []uint8
	ConnectionIndex uint8
	Secret          uint64
}

// PendingStepsHeader is the client's receive-window state, the first
// part of a GameStep body (§4.7 step 1): the step it's waiting for, plus
// a bitmask over the following WindowSize steps where bit i set means
// "I already have clientWaitingForStepId+i" (0 means still missing —
// a resend candidate).
type PendingStepsHeader struct {
	ClientWaitingForStepID uint32
	ReceiveMask            uint64
}

// StepsHeader describes the predicted-step payloads that follow in a
// GameStep body (§4.7 step 2).
type StepsHeader struct {
	FirstStepID    uint32
	StepsThatFollow uint8
}

// StepRange is one contiguous run of authoritative (or pending) steps
// serialized back to a client (§4.7).
type StepRange struct {
	FirstStepID StepID
	Payloads    [][]byte
}

// StepID mirrors nimble.StepID without importing the domain package —
// internal/protocol must stay free of business logic, so it carries its
// own copy of the identity type.
type StepID = uint32

// GameStepResponseHeader precedes the serialized step ranges in a
// GameStepResponse body (§4.7).
type GameStepResponseHeader struct {
	LastReceivedStepFromClient uint32
	BufferDelta                int16
	AuthoritativeBufferDelta   int16
}

// DownloadGameStateRequest asks the server to begin (or resume) a
// snapshot transfer (§4.8).
type DownloadGameStateRequest struct {
	ClientRequestID uint32
}

// DownloadGameStateResponse describes the snapshot about to be
// streamed: its total size and the step id it was captured at.
type DownloadGameStateResponse struct {
	ClientRequestID uint32
	OctetCount      uint32
	StepID          StepID
	ChannelID       uint32
}

// DownloadGameStateStatus is the client's ack of received chunks,
// feeding the blob-out send window (§4.8).
type DownloadGameStateStatus struct {
	ChannelID        uint32
	ReceivedChunkCount uint32
}

// PingRequest/PongResponse are a bare round-trip timestamp exchange.
type PingRequest struct {
	ClientTime uint16
}

type PongResponse struct {
	ClientTime uint16
	ServerTime uint16
}
