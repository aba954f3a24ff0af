package nimble

import "errors"

// Sentinel errors for the stepping engine. Several correspond to the wire
// error codes enumerated in SPEC_FULL.md §6; internal/protocol defines
// those codes but nothing in the module translates these errors into
// them.
var (
	// ErrWriteNotAtExpectedID is returned by StepBuffer.Write when the
	// caller attempts to write at a StepId other than expectedWriteID.
	ErrWriteNotAtExpectedID = errors.New("nimble: write is not at the expected step id")

	// ErrBufferFull is returned by StepBuffer.Write when the window is
	// already at capacity.
	ErrBufferFull = errors.New("nimble: step buffer is full")

	// ErrBufferEmpty is returned by StepBuffer.Read when there is
	// nothing buffered.
	ErrBufferEmpty = errors.New("nimble: step buffer is empty")

	// ErrStepNotFound is returned by StepBuffer.ReadExact when the
	// requested StepId is not currently held in the window.
	ErrStepNotFound = errors.New("nimble: step id not present in buffer")

	// ErrPayloadTooLarge is returned when a caller-supplied payload
	// exceeds the configured per-participant step size limit.
	ErrPayloadTooLarge = errors.New("nimble: step payload exceeds maximum size")

	// ErrSessionFull is returned when the participants registry has no
	// free slots left (wire: ErrSessionFull = -54).
	ErrSessionFull = errors.New("nimble: session is full")

	// ErrOutOfParticipantMemory mirrors ErrSessionFull at the registry
	// boundary (wire: ErrOutOfParticipantMemory = -43).
	ErrOutOfParticipantMemory = errors.New("nimble: out of participant memory")

	// ErrTooManyDroppedSteps is returned when a client's first reported
	// StepId is further ahead of the party's expected write id than
	// MaxDroppedStepsBeforeFatal allows.
	ErrTooManyDroppedSteps = errors.New("nimble: too many dropped steps, client must resync via snapshot")

	// ErrDatagramFromDisconnectedConnection mirrors the wire code of the
	// same name (-42): the party behind this datagram is dissolved.
	ErrDatagramFromDisconnectedConnection = errors.New("nimble: datagram from disconnected connection")

	// ErrParticipantNotFound is returned when an operation references a
	// stable participant id that is not currently allocated.
	ErrParticipantNotFound = errors.New("nimble: participant not found")

	// ErrPartyNotFound is returned when an operation references a party
	// index/id that does not currently exist.
	ErrPartyNotFound = errors.New("nimble: party not found")

	// ErrFreeListEmpty signals a free-list underflow — an internal
	// invariant violation (§7 "Internal" error class), logged as a
	// soft-error by callers rather than propagated to the wire.
	ErrFreeListEmpty = errors.New("nimble: free list is empty")

	// ErrFreeListFull signals an attempt to return more ids to a
	// free-list than it has capacity for — also an internal invariant
	// violation.
	ErrFreeListFull = errors.New("nimble: free list is full")

	// ErrTickTimeExceeded is returned by TickQualityMonitor.Tick when a
	// single tick has overrun the target duration for too long in a
	// row: the host is too slow.
	ErrTickTimeExceeded = errors.New("nimble: tick time exceeded target for too many consecutive ticks")

	// ErrAverageTickTimeExceeded is returned when the rolling average
	// tick duration has overrun the target for too long in a row.
	ErrAverageTickTimeExceeded = errors.New("nimble: average tick time exceeded target for too many consecutive ticks")
)
