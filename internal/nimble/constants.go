// Package nimble implements the deterministic lockstep stepping engine:
// pending/authoritative step buffers, the authoritative composer,
// per-party connection quality, and the party lifecycle state machine.
//
// Everything in this package is single-threaded and lock-free by design —
// it is mutated only from the server's tick loop or from a feed call made
// from that same logical context (see the concurrency model in
// SPEC_FULL.md §5). No type here holds a mutex.
package nimble

// WindowSize is the fixed capacity of every StepId-keyed ring buffer
// (NBS_WINDOW_SIZE in the source material).
const WindowSize = 64

// CircularBufferSize is the capacity of the byte/id free-list rings used
// for the participant and transport-connection free lists.
const CircularBufferSize = 64

// MaxLocalPlayers is the maximum number of participant slots a single
// party (one client's seat) may hold for local multiplayer.
const MaxLocalPlayers = 8

// ForcedStepThresholdAfterFirstAccept is the should-disconnect threshold
// for forcedStepInRow once a party has accepted at least one step.
const ForcedStepThresholdAfterFirstAccept = 8

// ForcedStepThresholdBeforeFirstAccept is the (much more generous)
// should-disconnect threshold used while a party has never yet provided
// a step, so that slow joiners are not evicted prematurely.
const ForcedStepThresholdBeforeFirstAccept = 180

// ImpedingDisconnectThreshold is the hysteresis counter value that, once
// crossed, moves a party from Normal to WaitingForReJoin.
const ImpedingDisconnectThreshold = 180

// ImpedingDisconnectLogInterval is how often (in ticks of sustained bad
// quality) the hysteresis layer logs a reminder notice.
const ImpedingDisconnectLogInterval = 60

// DefaultMaxWaitingForReJoinTicks is the default number of ticks a party
// may sit in WaitingForReJoin before it is dissolved.
const DefaultMaxWaitingForReJoinTicks = 62 * 20

// MaxDroppedStepsBeforeFatal is the largest gap between a client's
// first reported StepId and the party's expected-write id that the
// server will paper over with forced steps; beyond this the client must
// resync via a snapshot download.
const MaxDroppedStepsBeforeFatal = 60

// ContinuationRangeSteps is the default number of freshly-authoritative
// steps sent per GameStepResponse continuation range (§4.7, §9 Open
// Questions: parameterized rather than hardcoded 20 vs 5).
const ContinuationRangeSteps = 20

// MaxPendingRanges is the maximum number of "pending" step ranges
// derived from the client's receive mask that a single GameStepResponse
// carries.
const MaxPendingRanges = 3

// MaxStepsPerPendingRange bounds the size of each pending range.
const MaxStepsPerPendingRange = 8

// MaxDatagramSize is the transport boundary's hard datagram size limit
// (§6). Any outgoing datagram larger than this is dropped with an error.
const MaxDatagramSize = 1200

// BlobStreamChunkSize is the default chunk size used by the blob-out
// reliable stream; it is transport-defined but bounded by MaxDatagramSize
// minus header overhead.
const BlobStreamChunkSize = 1024

// MaxChunksPerSend bounds how many blob chunks are flushed in one burst
// (§4.8: "up to 4 chunks immediately" / "up to 4 next chunks").
const MaxChunksPerSend = 4

// MaxDatagramsPerTick bounds how many inbound datagrams the dispatcher
// drains from the transport in a single Update call (§4.9 step 3).
const MaxDatagramsPerTick = 64

// MaxConnections is the hard ceiling on transport connections per server
// (§6 setup parameters: max_connection_count <= 64).
const MaxConnections = 64

// MaxParticipants is the hard ceiling on participants per server (§6:
// max_participant_count <= 64).
const MaxParticipants = 64
