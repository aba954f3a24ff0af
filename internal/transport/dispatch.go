package transport

import (
	"log/slog"

	"nimble/server/internal/nimble"
	"nimble/server/internal/protocol"
)

// RandUint64 is the secure-RNG collaborator named external in §1 ("the
// secure RNG"). The dispatcher never seeds or calls crypto/rand
// directly; it is handed a function so tests can supply a
// deterministic source.
type RandUint64 func() uint64

// Dispatcher owns the transport-level connection pool and routes
// decoded command datagrams into the domain core (§4.5-§4.8). It holds
// no goroutines or locks: every method runs to completion inline,
// matching the single-threaded model of §5.
type Dispatcher struct {
	Pool  *Pool
	Game  *nimble.Game
	Rand  RandUint64

	Parties     map[uint8]*nimble.LocalParty
	nextPartyID int

	MaxLocalPlayers             int
	MaxDroppedStepsBeforeFatal  int
	ContinuationRangeSteps      int
	MaxPendingRanges            int
	MaxStepsPerPendingRange     int
	MaxDatagramSize             int
}

// NewDispatcher wires a Dispatcher around an already-constructed
// connection pool, game, and RNG collaborator, applying SPEC_FULL.md's
// default limits.
func NewDispatcher(pool *Pool, game *nimble.Game, rnd RandUint64) *Dispatcher {
	return &Dispatcher{
		Pool:                       pool,
		Game:                       game,
		Rand:                       rnd,
		Parties:                    make(map[uint8]*nimble.LocalParty),
		MaxLocalPlayers:            nimble.MaxLocalPlayers,
		MaxDroppedStepsBeforeFatal: nimble.MaxDroppedStepsBeforeFatal,
		ContinuationRangeSteps:     nimble.ContinuationRangeSteps,
		MaxPendingRanges:           nimble.MaxPendingRanges,
		MaxStepsPerPendingRange:    nimble.MaxStepsPerPendingRange,
		MaxDatagramSize:            nimble.MaxDatagramSize,
	}
}

func (d *Dispatcher) allocatePartyID() uint8 {
	d.nextPartyID++
	return uint8(d.nextPartyID)
}

// HandleConnectRequest implements §4.5's ConnectRequest handling:
// idempotent on (transportIndex, nonce), otherwise allocates a fresh
// connection with a random secret.
func (d *Dispatcher) HandleConnectRequest(transportIndex uint8, nonce uint64) (*Connection, protocol.ConnectResponse, error) {
	if existing := d.Pool.FindByNonce(transportIndex, nonce); existing != nil {
		return existing, protocol.ConnectResponse{ConnectionID: existing.ID, Secret: existing.Secret}, nil
	}

	secret := d.Rand()
	c := d.Pool.Allocate(transportIndex, nonce, secret)
	if c == nil {
		return nil, protocol.ConnectResponse{}, nimble.ErrSessionFull
	}
	slog.Info("connection established", "connection_id", c.ID, "transport_index", transportIndex)
	return c, protocol.ConnectResponse{ConnectionID: c.ID, Secret: c.Secret}, nil
}

// findPartyBySecret returns the party whose secret matches and whose
// local player count matches req.LocalPlayerCount, or nil.
func (d *Dispatcher) findPartyBySecret(secret uint64, localPlayerCount int) *nimble.LocalParty {
	for _, p := range d.Parties {
		if p.Secret == secret && len(p.ParticipantIDs) == localPlayerCount {
			return p
		}
	}
	return nil
}

// findPartyByHostMigrationParticipant returns the WaitingForReJoin party
// holding exactly participantID, prepared earlier by HostMigration.
func (d *Dispatcher) findPartyByHostMigrationParticipant(participantID uint8, localPlayerCount int) *nimble.LocalParty {
	for _, p := range d.Parties {
		if p.State != nimble.PartyWaitingForReJoin {
			continue
		}
		if len(p.ParticipantIDs) != localPlayerCount {
			continue
		}
		if p.HasParticipant(participantID) {
			return p
		}
	}
	return nil
}

// HandleJoinGameRequest implements §4.6: routes to rejoin-by-secret,
// rejoin-by-host-migration-id, or a fresh party/participant allocation.
func (d *Dispatcher) HandleJoinGameRequest(c *Connection, req protocol.JoinGameRequest) (protocol.JoinGameResponse, error) {
	localPlayerCount := int(req.LocalPlayerCount)
	if localPlayerCount <= 0 {
		localPlayerCount = 1
	}

	var party *nimble.LocalParty
	switch req.Kind {
	case protocol.JoinWithSecret:
		party = d.findPartyBySecret(req.ConnectionSecret, localPlayerCount)
	case protocol.JoinHostMigrationParticipantID:
		party = d.findPartyByHostMigrationParticipant(req.HostMigrationParticipant, localPlayerCount)
	}

	if party != nil {
		party.Rejoin(c.ID, d.Game.ExpectedWriteID())
		c.AttachParty(party.ID)
		if req.Kind == protocol.JoinHostMigrationParticipantID {
			d.Game.Frozen = false
		}
		return protocol.JoinGameResponse{
			ParticipantIDs:  append([]uint8(nil), party.ParticipantIDs...),
			LocalIndices:    localIndices(d.Game.Participants, party.ParticipantIDs),
			ConnectionIndex: c.ID,
			Secret:          party.Secret,
		}, nil
	}

	return d.allocateFreshParty(c, localPlayerCount)
}

func localIndices(reg *nimble.Registry, ids []uint8) []uint8 {
	out := make([]uint8, len(ids))
	for i, id := range ids {
		if p := reg.Get(id); p != nil {
			out[i] = p.LocalIndex
		}
	}
	return out
}

func (d *Dispatcher) allocateFreshParty(c *Connection, localPlayerCount int) (protocol.JoinGameResponse, error) {
	partyID := d.allocatePartyID()
	secret := d.Rand()
	windowStart := d.Game.ExpectedWriteID()

	ids := make([]uint8, 0, localPlayerCount)
	for i := 0; i < localPlayerCount; i++ {
		p, err := d.Game.Participants.Allocate(partyID, uint8(i))
		if err != nil {
			for _, allocated := range ids {
				_ = d.Game.Participants.Release(allocated)
			}
			return protocol.JoinGameResponse{}, err
		}
		ids = append(ids, p.ID)
	}

	party := nimble.NewLocalParty(partyID, ids, secret, windowStart)
	party.AttachTransport(c.ID)
	d.Parties[partyID] = party
	c.AttachParty(partyID)

	slog.Info("party joined", "party_id", partyID, "participant_ids", ids, "connection_id", c.ID)
	return protocol.JoinGameResponse{
		ParticipantIDs:  ids,
		LocalIndices:    localIndices(d.Game.Participants, ids),
		ConnectionIndex: c.ID,
		Secret:          secret,
	}, nil
}

// HandleHostMigration implements §4.6's HostMigration(participant_ids):
// resets all parties and prepares a WaitingForReJoin party per id,
// rebuilding the registry's free-list to exclude the prepared ids. The
// composer is frozen for the duration of the reset (§3 frozen_flag) so
// it never tries to advance against the wiped party set; the first
// successful host-migration rejoin thaws it again (HandleJoinGameRequest).
func (d *Dispatcher) HandleHostMigration(participantIDs []uint8) {
	d.Parties = make(map[uint8]*nimble.LocalParty)
	d.nextPartyID = 0
	d.Game.Frozen = true

	for _, id := range participantIDs {
		partyID := d.allocatePartyID()
		party := nimble.NewLocalParty(partyID, []uint8{id}, d.Rand(), d.Game.ExpectedWriteID())
		party.State = nimble.PartyWaitingForReJoin
		d.Parties[partyID] = party
		if !d.Game.Participants.AllocateID(id, partyID, 0) {
			slog.Warn("host migration participant id could not be reserved", "participant_id", id)
		}
	}

	d.Game.Participants.RebuildFreeListExcluding(participantIDs)
	slog.Info("host migration prepared", "participant_ids", participantIDs)
}

// gameStepResult is what HandleGameStep reports back to the caller so
// it can build the GameStepResponse body.
type gameStepResult struct {
	Dropped int
	Written int
	Fatal   bool
}

// wireStepToPendingEntry turns one raw wire payload for party into the
// combined-step-encoded blob its pending buffer stores. A party with a
// single local participant submits its opaque per-step bytes directly,
// so HandleGameStep wraps them as that participant's sole contribution;
// a party with more than one local participant is already expected to
// multiplex its players into such a blob client-side (mirroring how the
// composer later multiplexes parties into the authoritative step), so
// it passes through unwrapped.
func wireStepToPendingEntry(party *nimble.LocalParty, payload []byte) []byte {
	if len(party.ParticipantIDs) != 1 {
		return payload
	}
	return protocol.EncodeCombinedStep([]protocol.Contribution{
		{ParticipantID: party.ParticipantIDs[0], Marker: protocol.MarkerNormal, Payload: payload},
	})
}

// HandleGameStep implements §4.7 steps 1-5: computes and fills any gap
// with forced steps, writes the follow-on predicted steps, and updates
// quality. Steps older than the party's expected_write_id are silently
// ignored; neither this method nor its caller logs them.
func (d *Dispatcher) HandleGameStep(party *nimble.LocalParty, firstStepID nimble.StepID, payloads [][]byte) gameStepResult {
	dropped := party.PendingSteps.Dropped(firstStepID)
	if dropped > d.MaxDroppedStepsBeforeFatal {
		return gameStepResult{Dropped: dropped, Fatal: true}
	}

	if dropped > 0 {
		nimble.InsertForcedSteps(party, dropped)
	}

	written := 0
	nextID := firstStepID
	if nextID < party.PendingSteps.ExpectedWriteID() {
		skip := int(party.PendingSteps.ExpectedWriteID() - nextID)
		if skip > len(payloads) {
			skip = len(payloads)
		}
		payloads = payloads[skip:]
		nextID = party.PendingSteps.ExpectedWriteID()
	}

	for _, payload := range payloads {
		entry := wireStepToPendingEntry(party, payload)
		if err := party.PendingSteps.Write(nextID, entry); err != nil {
			break
		}
		nextID++
		written++
	}

	if written > 0 {
		party.Quality.AddedStepsToBuffer(written)
	}
	return gameStepResult{Dropped: dropped, Written: written}
}

// pendingRanges implements the "pending ranges" half of §4.7's reply:
// up to MaxPendingRanges runs of up to MaxStepsPerPendingRange steps
// each, resending whatever the client's receive-mask says it is still
// missing from the WindowSize steps starting at clientWaitingForStepID.
// Bit i of receiveMask set means the client already has
// clientWaitingForStepID+i; a clear bit is a resend candidate, read back
// out of the authoritative buffer if still available there.
func (d *Dispatcher) pendingRanges(clientWaitingForStepID nimble.StepID, receiveMask uint64) []protocol.StepRange {
	var ranges []protocol.StepRange
	i := 0
	for i < nimble.WindowSize && len(ranges) < d.MaxPendingRanges {
		if receiveMask&(uint64(1)<<uint(i)) != 0 {
			i++
			continue
		}

		start := clientWaitingForStepID + nimble.StepID(i)
		var payloads [][]byte
		for i < nimble.WindowSize && len(payloads) < d.MaxStepsPerPendingRange && receiveMask&(uint64(1)<<uint(i)) == 0 {
			payload, err := d.Game.AuthoritativeSteps.ReadExact(clientWaitingForStepID + nimble.StepID(i))
			if err != nil {
				break
			}
			payloads = append(payloads, payload)
			i++
		}

		if len(payloads) > 0 {
			ranges = append(ranges, protocol.StepRange{FirstStepID: uint32(start), Payloads: payloads})
		} else {
			i++
		}
	}
	return ranges
}

// BuildGameStepResponseRanges implements the reply half of §4.7: up to
// MaxPendingRanges resend ranges derived from the client's receive mask,
// plus one continuation range of up to ContinuationRangeSteps freshly
// authoritative steps starting at clientWaitingForStepID. No ranges are
// produced if the client is asking for a step the server has already
// discarded.
func (d *Dispatcher) BuildGameStepResponseRanges(clientWaitingForStepID nimble.StepID, receiveMask uint64) []protocol.StepRange {
	if clientWaitingForStepID < d.Game.AuthoritativeSteps.ExpectedReadID() {
		return nil
	}

	ranges := d.pendingRanges(clientWaitingForStepID, receiveMask)

	payloads := make([][]byte, 0, d.ContinuationRangeSteps)
	id := clientWaitingForStepID
	for i := 0; i < d.ContinuationRangeSteps; i++ {
		payload, err := d.Game.AuthoritativeSteps.ReadExact(id)
		if err != nil {
			break
		}
		payloads = append(payloads, payload)
		id++
	}
	if len(payloads) > 0 {
		ranges = append(ranges, protocol.StepRange{FirstStepID: uint32(clientWaitingForStepID), Payloads: payloads})
	}

	if len(ranges) == 0 {
		return nil
	}
	return ranges
}

// HandlePingRequest answers a PingRequest with the server's current
// time stamped into the reply (the monotonic clock is itself an
// external collaborator — the dispatcher is simply handed nowMillis).
func (d *Dispatcher) HandlePingRequest(req protocol.PingRequest, nowMillis int64) protocol.PongResponse {
	return protocol.PongResponse{ClientTime: req.ClientTime, ServerTime: uint16(nowMillis)}
}

// Tick runs §4.9 step 2: ticks every party, destroying (and freeing)
// any that request it.
func (d *Dispatcher) Tick() {
	for id, party := range d.Parties {
		if !party.Tick() {
			for _, pid := range party.ParticipantIDs {
				_ = d.Game.Participants.Release(pid)
			}
			if party.HasTransport {
				if c := d.Pool.Get(party.TransportID); c != nil {
					c.DetachParty()
				}
			}
			delete(d.Parties, id)
			slog.Info("party destroyed", "party_id", id)
		}
	}
	nimble.ComposeAuthoritativeSteps(d.Game, d.Parties)
	d.Pool.Sweep()
}
