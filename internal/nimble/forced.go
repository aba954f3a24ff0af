package nimble

import "nimble/server/internal/protocol"

// forcedMarkerFor returns the marker a forced contribution should carry
// for a participant belonging to party: StepNotProvidedInTime normally,
// or WaitingForReJoin while the party is in that state (§4.2 "Forced
// step composition").
func forcedMarkerFor(party *LocalParty) protocol.Marker {
	if party.State == PartyWaitingForReJoin {
		return protocol.MarkerWaitingForReJoin
	}
	return protocol.MarkerForced
}

// buildForcedStepPayload synthesizes the bytes a party's own pending
// buffer receives for a step it failed to provide in time: every local
// participant is tagged with the forced marker and an empty payload.
// Grounded on forced_step.c / default_step.c in original_source.
func buildForcedStepPayload(party *LocalParty) []byte {
	marker := forcedMarkerFor(party)
	contributions := make([]protocol.Contribution, len(party.ParticipantIDs))
	for i, id := range party.ParticipantIDs {
		contributions[i] = protocol.Contribution{ParticipantID: id, Marker: marker}
	}
	return protocol.EncodeCombinedStep(contributions)
}

// insertForcedSteps writes `dropped` forced-step payloads into the
// party's own pending buffer starting at its current expected write id,
// so the composer never sees a sparse window (§4.2, §4.7 step 3).
func insertForcedSteps(party *LocalParty, dropped int) {
	for i := 0; i < dropped; i++ {
		stepID := party.PendingSteps.ExpectedWriteID()
		_ = party.PendingSteps.Write(stepID, buildForcedStepPayload(party))
	}
}

// InsertForcedSteps is the exported entry point internal/transport uses
// to fill a gap reported by StepBuffer.Dropped (§4.7 step 3), so the
// forced-marker convention stays centralized in this package instead of
// being duplicated at the dispatch boundary.
func InsertForcedSteps(party *LocalParty, dropped int) {
	insertForcedSteps(party, dropped)
}
