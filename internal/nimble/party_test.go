package nimble

import "testing"

func TestLocalPartyTickNormalStaysNormal(t *testing.T) {
	p := NewLocalParty(1, []uint8{0}, 0xabc, 0)
	p.Quality.ProvidedUsableStep()
	if !p.Tick() {
		t.Fatalf("healthy party should keep running")
	}
	if p.State != PartyNormal {
		t.Fatalf("state = %v, want Normal", p.State)
	}
}

func TestLocalPartyDissolvesAfterSustainedBadQuality(t *testing.T) {
	p := NewLocalParty(1, []uint8{0}, 0xabc, 0)
	p.Quality.AddedForcedSteps(ForcedStepThresholdBeforeFirstAccept)

	for i := 0; i < ImpedingDisconnectThreshold+1; i++ {
		p.Tick()
	}
	if p.State != PartyWaitingForReJoin {
		t.Fatalf("state = %v, want WaitingForReJoin", p.State)
	}
}

func TestLocalPartyWaitingForReJoinExpires(t *testing.T) {
	p := NewLocalParty(1, []uint8{0}, 0xabc, 0)
	p.SetMaxWaitingForRejoin(3)
	p.State = PartyWaitingForReJoin

	if !p.Tick() {
		t.Fatalf("tick 1: should still be waiting")
	}
	if !p.Tick() {
		t.Fatalf("tick 2: should still be waiting")
	}
	if p.Tick() {
		t.Fatalf("tick 3: should have expired and returned false")
	}
	if p.State != PartyDissolved {
		t.Fatalf("state = %v, want Dissolved", p.State)
	}
}

func TestLocalPartyDissolvedTickReturnsFalse(t *testing.T) {
	p := NewLocalParty(1, []uint8{0}, 0, 0)
	p.State = PartyDissolved
	if p.Tick() {
		t.Fatalf("dissolved party must never report itself as still running")
	}
}

func TestLocalPartyRejoinRestoresNormal(t *testing.T) {
	p := NewLocalParty(1, []uint8{0}, 0xabc, 0)
	p.Quality.AddedForcedSteps(ForcedStepThresholdBeforeFirstAccept)
	for i := 0; i < ImpedingDisconnectThreshold+1; i++ {
		p.Tick()
	}
	if p.State != PartyWaitingForReJoin {
		t.Fatalf("precondition: expected WaitingForReJoin")
	}

	_ = p.PendingSteps.Write(p.PendingSteps.ExpectedWriteID(), []byte("stale"))

	p.Rejoin(7, 500)
	if p.State != PartyNormal {
		t.Fatalf("state = %v, want Normal after rejoin", p.State)
	}
	if !p.HasTransport || p.TransportID != 7 {
		t.Fatalf("transport not attached after rejoin")
	}
	if p.PendingSteps.ExpectedReadID() != 500 || p.PendingSteps.ExpectedWriteID() != 500 {
		t.Fatalf("pending buffer not reset to resume point: read=%d write=%d",
			p.PendingSteps.ExpectedReadID(), p.PendingSteps.ExpectedWriteID())
	}
	if p.DelayedQuality.Counter() != 0 {
		t.Fatalf("delayed quality counter not reset on rejoin")
	}
}

func TestLocalPartyHasParticipant(t *testing.T) {
	p := NewLocalParty(1, []uint8{3, 9}, 0, 0)
	if !p.HasParticipant(3) || !p.HasParticipant(9) {
		t.Fatalf("expected both participants to be recognized")
	}
	if p.HasParticipant(4) {
		t.Fatalf("participant 4 should not belong to this party")
	}
}

func TestLocalPartyIsBehind(t *testing.T) {
	p := NewLocalParty(1, []uint8{0}, 0, 10)
	if !p.IsBehind(10) {
		t.Fatalf("empty buffer should be behind")
	}
	_ = p.PendingSteps.Write(10, []byte("x"))
	if p.IsBehind(10) {
		t.Fatalf("buffer holding the requested step should not be behind")
	}
	if !p.IsBehind(11) {
		t.Fatalf("buffer should be behind a step it has not reached yet")
	}
}
