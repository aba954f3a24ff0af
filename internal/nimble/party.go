package nimble

import "log/slog"

// PartyState is the explicit tagged state of a LocalParty's lifecycle
// (§4.4), an enum-of-phase in place of subclassing, following the same
// convention as a Room.status field.
type PartyState int

const (
	// PartyNormal is running: it composes and ticks quality every tick.
	PartyNormal PartyState = iota
	// PartyWaitingForReJoin has failed quality and is waiting for a
	// matching rejoin (by secret or participant id) before its timer
	// expires.
	PartyWaitingForReJoin
	// PartyDissolved is terminal; it is swept from the parties
	// collection on the next tick and its participants are freed.
	PartyDissolved
)

func (s PartyState) String() string {
	switch s {
	case PartyNormal:
		return "normal"
	case PartyWaitingForReJoin:
		return "waiting_for_rejoin"
	case PartyDissolved:
		return "dissolved"
	default:
		return "unknown"
	}
}

// LocalParty is a client's seat in the game: one or more local
// participants (for local multiplayer), its own pending-step buffer,
// quality tracking, and the reconnect timer used while waiting for
// rejoin (§3, §4.4).
type LocalParty struct {
	ID   uint8
	State PartyState

	ParticipantIDs []uint8 // stable participant ids, ≤ MaxLocalPlayers
	TransportID    uint8   // id of the owning TransportConnection; 0 = none
	HasTransport   bool

	PendingSteps *StepBuffer

	Quality        *Quality
	DelayedQuality *DelayedQuality

	Secret uint64

	waitingForRejoinTicks int
	maxWaitingForRejoin   int

	warningCounts int
}

// NewLocalParty creates a fresh party in PartyNormal holding
// participantIDs, with its pending-step buffer starting at
// windowStartID (normally the current authoritative tip).
func NewLocalParty(id uint8, participantIDs []uint8, secret uint64, windowStartID StepID) *LocalParty {
	return &LocalParty{
		ID:                  id,
		State:               PartyNormal,
		ParticipantIDs:      participantIDs,
		PendingSteps:        NewStepBuffer(windowStartID),
		Quality:             NewQuality(id),
		DelayedQuality:      NewDelayedQuality(id),
		Secret:              secret,
		maxWaitingForRejoin: DefaultMaxWaitingForReJoinTicks,
	}
}

// SetMaxWaitingForRejoin overrides the default reconnect-timer deadline
// (configurable per §4.4).
func (p *LocalParty) SetMaxWaitingForRejoin(ticks int) {
	p.maxWaitingForRejoin = ticks
}

// HasParticipant reports whether id belongs to this party.
func (p *LocalParty) HasParticipant(id uint8) bool {
	for _, pid := range p.ParticipantIDs {
		if pid == id {
			return true
		}
	}
	return false
}

// AttachTransport records which transport connection currently owns
// this party. The party stores only the id (not a pointer) to break the
// party↔transport reference cycle (§7 "Cyclic dependency").
func (p *LocalParty) AttachTransport(transportID uint8) {
	p.TransportID = transportID
	p.HasTransport = true
}

// DetachTransport clears the owning transport, e.g. when the underlying
// connection drops but the party itself survives into WaitingForReJoin.
func (p *LocalParty) DetachTransport() {
	p.TransportID = 0
	p.HasTransport = false
}

// Dissolve(false) path: quality decided this party should stop running
// normally. Moves the party to WaitingForReJoin and starts its reconnect
// timer. Does not touch participants or the transport; the caller is
// responsible for detaching the transport if the drop is transport-driven.
func (p *LocalParty) beginWaitingForReJoin() {
	p.State = PartyWaitingForReJoin
	p.waitingForRejoinTicks = 0
	slog.Info("party entering waiting-for-rejoin", "party_id", p.ID, "max_ticks", p.maxWaitingForRejoin)
}

// Rejoin reattaches a party that was WaitingForReJoin (or still Normal,
// for a redundant rejoin) to a new transport, resetting its pending
// buffer to currentAuthStepID and restoring Normal state (§4.2 step 3).
func (p *LocalParty) Rejoin(transportID uint8, currentAuthStepID StepID) {
	p.AttachTransport(transportID)
	p.PendingSteps.ReInit(currentAuthStepID)
	p.Quality.Reset()
	p.DelayedQuality.Reset()
	p.waitingForRejoinTicks = 0
	p.State = PartyNormal
	slog.Info("party rejoined", "party_id", p.ID, "transport_id", transportID, "resume_step_id", currentAuthStepID)
}

// Tick advances the party's state machine by one tick and returns false
// once the party should be destroyed by the caller (dissolved, removed
// from the parties collection, participants returned to the free list).
// Normal runs delayed-quality evaluation; WaitingForReJoin advances the
// reconnect timer (§4.4).
func (p *LocalParty) Tick() bool {
	switch p.State {
	case PartyNormal:
		if !p.DelayedQuality.Tick(p.Quality) {
			p.beginWaitingForReJoin()
		}
		return true

	case PartyWaitingForReJoin:
		p.waitingForRejoinTicks++
		if p.waitingForRejoinTicks >= p.maxWaitingForRejoin {
			slog.Warn("party reconnect window expired, dissolving",
				"party_id", p.ID, "ticks", p.waitingForRejoinTicks)
			p.State = PartyDissolved
			return false
		}
		return true

	case PartyDissolved:
		return false

	default:
		return false
	}
}

// IsBehind reports whether the party's buffer has fewer steps queued
// than the rest of the game's authoritative tip expects, i.e. it has no
// step ready to contribute this tick.
func (p *LocalParty) IsBehind(nextStepID StepID) bool {
	return p.PendingSteps.Count() == 0 || p.PendingSteps.ExpectedReadID() != nextStepID
}

// warn increments the party's soft-warning counter (rate-limited
// logging budget for repeated bad input, §4.7 step 4/§7).
func (p *LocalParty) warn() {
	p.warningCounts++
}
