package nimble

import (
	"log/slog"

	"nimble/server/internal/protocol"
)

// shouldComposeNewAuthoritativeStep implements §4.2's should_compose
// predicate: across all used parties, the maximum distance
// (expected_write_id − look_for + 1) must exceed 3 with zero
// non-contributors, or exceed 5 regardless. An empty party set never
// composes.
func shouldComposeNewAuthoritativeStep(parties map[uint8]*LocalParty, lookFor StepID) bool {
	if len(parties) == 0 {
		return false
	}
	maxDistance := 0
	nonContributors := 0
	for _, party := range parties {
		d := int(party.PendingSteps.ExpectedWriteID()) - int(lookFor) + 1
		if d > maxDistance {
			maxDistance = d
		}
		if party.PendingSteps.ExpectedWriteID() <= lookFor {
			nonContributors++
		}
	}
	if maxDistance > 5 {
		return true
	}
	if maxDistance > 3 && nonContributors == 0 {
		return true
	}
	return false
}

// canAdvanceDueToDistanceFromLastState reports whether the authoritative
// buffer still has headroom: its count must stay below W/2 (§3, §4.2).
func canAdvanceDueToDistanceFromLastState(g *Game) bool {
	return g.AuthoritativeSteps.Count() < WindowSize/2
}

// composeOneAuthoritativeStep builds and appends exactly one combined
// step at g.ExpectedWriteID(). Each party's own pending buffer already
// stores a combined-step-encoded sub-step multiplexing its local
// participants (§3: one client submits steps for all of its local
// players together); composing simply reads that sub-step per party,
// re-tags each real contribution's marker (Normal → Joined on a
// participant's first-ever acceptance, forced markers passed through
// unchanged), and folds every party's contributions into one output
// step. A party with nothing buffered at look_for contributes nothing
// and bumps its forced-step counter — the "implicit forced at
// deserialization time" convention from §4.2. Returns false if there
// was nothing to compose (no parties at all).
func composeOneAuthoritativeStep(g *Game, parties map[uint8]*LocalParty) bool {
	lookFor := g.ExpectedWriteID()
	if len(parties) == 0 {
		return false
	}

	contributions := make([]protocol.Contribution, 0, len(parties)*2)
	for _, party := range parties {
		raw, err := party.PendingSteps.ReadExact(lookFor)
		if err != nil {
			party.Quality.AddedForcedSteps(1)
			continue
		}

		sub, err := protocol.DecodeCombinedStep(raw)
		if err != nil {
			slog.Warn("failed to decode party's own pending step, treating as forced",
				"party_id", party.ID, "step_id", lookFor, "err", err)
			party.Quality.AddedForcedSteps(1)
			continue
		}

		party.Quality.ProvidedUsableStep()
		for _, c := range sub {
			marker := c.Marker
			if marker == protocol.MarkerNormal {
				if participant := g.Participants.Get(c.ParticipantID); participant != nil && !participant.HasProvidedStepsBefore {
					participant.HasProvidedStepsBefore = true
					marker = protocol.MarkerJoined
				}
			}
			contributions = append(contributions, protocol.Contribution{
				ParticipantID: c.ParticipantID,
				Marker:        marker,
				Payload:       c.Payload,
			})
		}

		// read_exact peeks without consuming (§4.1); reclaim the slot
		// now that its contribution has been folded into this step.
		party.PendingSteps.DiscardUpTo(lookFor + 1)
	}

	encoded := protocol.EncodeCombinedStep(contributions)
	if err := g.AuthoritativeSteps.Write(lookFor, encoded); err != nil {
		slog.Error("failed to append composed authoritative step", "step_id", lookFor, "err", err)
		return false
	}
	return true
}

// ComposeAuthoritativeSteps runs the composer for as many steps as it
// is allowed to advance this tick: while should-compose holds and the
// authoritative buffer has headroom, it composes one step, stopping as
// soon as either predicate goes false (§4.2). Returns the number of
// steps composed this tick.
func ComposeAuthoritativeSteps(g *Game, parties map[uint8]*LocalParty) int {
	if g.Frozen {
		return 0
	}
	composed := 0
	for {
		lookFor := g.ExpectedWriteID()

		if !shouldComposeNewAuthoritativeStep(parties, lookFor) {
			break
		}
		if !canAdvanceDueToDistanceFromLastState(g) {
			break
		}

		if !composeOneAuthoritativeStep(g, parties) {
			break
		}
		composed++
	}
	return composed
}
