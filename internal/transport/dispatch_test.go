package transport

import (
	"testing"

	"nimble/server/internal/nimble"
	"nimble/server/internal/protocol"
)

func fixedRand(v uint64) RandUint64 {
	calls := 0
	return func() uint64 {
		calls++
		return v + uint64(calls)
	}
}

func TestHandleConnectRequestIsIdempotent(t *testing.T) {
	d := NewDispatcher(NewPool(8), nimble.NewGame(8), fixedRand(0x1000))

	c1, resp1, err := d.HandleConnectRequest(3, 0xAABB)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if resp1.Secret == 0 {
		t.Fatalf("expected a non-zero secret")
	}

	c2, resp2, err := d.HandleConnectRequest(3, 0xAABB)
	if err != nil {
		t.Fatalf("repeat connect: %v", err)
	}
	if c1.ID != c2.ID || resp1.Secret != resp2.Secret {
		t.Fatalf("repeated ConnectRequest with same (transportIndex, nonce) must be idempotent: %+v vs %+v", resp1, resp2)
	}
}

func TestHandleConnectRequestDifferentNonceAllocatesNewConnection(t *testing.T) {
	d := NewDispatcher(NewPool(8), nimble.NewGame(8), fixedRand(1))
	c1, _, _ := d.HandleConnectRequest(3, 1)
	c2, _, _ := d.HandleConnectRequest(3, 2)
	if c1.ID == c2.ID {
		t.Fatalf("different nonces should allocate different connections")
	}
}

func TestSinglePlayerJoinAndStepFlow(t *testing.T) {
	d := NewDispatcher(NewPool(8), nimble.NewGame(8), fixedRand(0xAAAA))
	c, _, err := d.HandleConnectRequest(3, 0xAABB)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	joinResp, err := d.HandleJoinGameRequest(c, protocol.JoinGameRequest{Kind: protocol.JoinNoSecret, LocalPlayerCount: 1})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(joinResp.ParticipantIDs) != 1 || joinResp.ParticipantIDs[0] != 0 {
		t.Fatalf("expected participant id 0 (first free), got %v", joinResp.ParticipantIDs)
	}

	party := d.Parties[1]
	if party == nil {
		t.Fatalf("expected party 1 to exist")
	}

	result := d.HandleGameStep(party, 1, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	if result.Fatal || result.Written != 3 {
		t.Fatalf("unexpected game step result: %+v", result)
	}

	for i := 0; i < 4; i++ {
		d.Tick()
	}

	if d.Game.AuthoritativeSteps.ExpectedWriteID() < 4 {
		t.Fatalf("authoritative write id = %d, want >= 4", d.Game.AuthoritativeSteps.ExpectedWriteID())
	}

	raw, err := d.Game.AuthoritativeSteps.ReadExact(1)
	if err != nil {
		t.Fatalf("readExact(1): %v", err)
	}
	contributions, err := protocol.DecodeCombinedStep(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(contributions) != 1 || contributions[0].Marker != protocol.MarkerJoined || string(contributions[0].Payload) != "a" {
		t.Fatalf("step 1 contributions = %+v, want one Joined \"a\"", contributions)
	}
}

func TestHandleJoinGameRequestSessionFull(t *testing.T) {
	d := NewDispatcher(NewPool(8), nimble.NewGame(1), fixedRand(1))
	c, _, _ := d.HandleConnectRequest(1, 1)
	if _, err := d.HandleJoinGameRequest(c, protocol.JoinGameRequest{Kind: protocol.JoinNoSecret, LocalPlayerCount: 1}); err != nil {
		t.Fatalf("first join: %v", err)
	}

	c2, _, _ := d.HandleConnectRequest(2, 2)
	if _, err := d.HandleJoinGameRequest(c2, protocol.JoinGameRequest{Kind: protocol.JoinNoSecret, LocalPlayerCount: 1}); err != nimble.ErrSessionFull {
		t.Fatalf("err = %v, want ErrSessionFull", err)
	}
}

func TestHostMigrationAndRejoin(t *testing.T) {
	d := NewDispatcher(NewPool(8), nimble.NewGame(8), fixedRand(1))
	d.HandleHostMigration([]uint8{0x42, 0x10})

	if len(d.Parties) != 2 {
		t.Fatalf("expected 2 prepared parties, got %d", len(d.Parties))
	}
	if d.Game.Participants.Get(0x42) == nil {
		t.Fatalf("expected participant 0x42 to be reserved, not free")
	}

	c, _, _ := d.HandleConnectRequest(9, 9)
	resp, err := d.HandleJoinGameRequest(c, protocol.JoinGameRequest{
		Kind:                     protocol.JoinHostMigrationParticipantID,
		HostMigrationParticipant: 0x42,
		LocalPlayerCount:         1,
	})
	if err != nil {
		t.Fatalf("join via host migration id: %v", err)
	}
	if len(resp.ParticipantIDs) != 1 || resp.ParticipantIDs[0] != 0x42 {
		t.Fatalf("expected to attach to prepared participant 0x42, got %v", resp.ParticipantIDs)
	}
}

func TestHandleGameStepTooManyDroppedIsFatal(t *testing.T) {
	d := NewDispatcher(NewPool(8), nimble.NewGame(8), fixedRand(1))
	c, _, _ := d.HandleConnectRequest(1, 1)
	_, _ = d.HandleJoinGameRequest(c, protocol.JoinGameRequest{Kind: protocol.JoinNoSecret, LocalPlayerCount: 1})
	party := d.Parties[1]

	result := d.HandleGameStep(party, nimble.StepID(d.MaxDroppedStepsBeforeFatal+1), [][]byte{[]byte("x")})
	if !result.Fatal {
		t.Fatalf("expected a fatal result when dropped exceeds MaxDroppedStepsBeforeFatal")
	}
}

func TestBuildGameStepResponseRangesEmptyWhenNothingComposed(t *testing.T) {
	d := NewDispatcher(NewPool(8), nimble.NewGame(8), fixedRand(1))
	if ranges := d.BuildGameStepResponseRanges(0, 0); ranges != nil {
		t.Fatalf("expected no ranges before anything has been composed, got %+v", ranges)
	}
}

// TestBuildGameStepResponseRangesHonorsReceiveMask seeds 10 authoritative
// steps and asks for steps starting at 0 with a receive-mask that
// already has steps 0-2 and 5-9 (bits 0,1,2,5,6,7,8,9 set), leaving 3
// and 4 missing. Only one pending range of those two missing steps
// should come back, ahead of the continuation range.
func TestBuildGameStepResponseRangesHonorsReceiveMask(t *testing.T) {
	d := NewDispatcher(NewPool(8), nimble.NewGame(8), fixedRand(1))
	for i := 0; i < 10; i++ {
		if err := d.Game.AuthoritativeSteps.Write(nimble.StepID(i), []byte{byte(i)}); err != nil {
			t.Fatalf("seed step %d: %v", i, err)
		}
	}

	var mask uint64
	for _, bit := range []int{0, 1, 2, 5, 6, 7, 8, 9} {
		mask |= 1 << uint(bit)
	}

	ranges := d.BuildGameStepResponseRanges(0, mask)
	if len(ranges) < 1 {
		t.Fatalf("expected at least a pending range for the gap, got %+v", ranges)
	}
	pending := ranges[0]
	if pending.FirstStepID != 3 {
		t.Fatalf("pending range should start at the first missing step (3), got %d", pending.FirstStepID)
	}
	if len(pending.Payloads) != 2 {
		t.Fatalf("pending range should cover exactly the 2 missing steps (3,4), got %d payloads", len(pending.Payloads))
	}

	last := ranges[len(ranges)-1]
	if last.FirstStepID != 0 {
		t.Fatalf("continuation range should still start at clientWaitingForStepID (0), got %d", last.FirstStepID)
	}
}

// TestBuildGameStepResponseRangesCapsPendingRangeCount verifies the
// MaxPendingRanges/MaxStepsPerPendingRange limits: a mask missing every
// one of 30 steps must still come back as at most MaxPendingRanges
// ranges of at most MaxStepsPerPendingRange steps each.
func TestBuildGameStepResponseRangesCapsPendingRangeCount(t *testing.T) {
	d := NewDispatcher(NewPool(8), nimble.NewGame(8), fixedRand(1))
	for i := 0; i < 30; i++ {
		if err := d.Game.AuthoritativeSteps.Write(nimble.StepID(i), []byte{byte(i)}); err != nil {
			t.Fatalf("seed step %d: %v", i, err)
		}
	}

	ranges := d.BuildGameStepResponseRanges(0, 0)
	pendingCount := len(ranges) - 1 // last entry is the continuation range
	if pendingCount > d.MaxPendingRanges {
		t.Fatalf("got %d pending ranges, want at most MaxPendingRanges (%d)", pendingCount, d.MaxPendingRanges)
	}
	for _, r := range ranges[:pendingCount] {
		if len(r.Payloads) > d.MaxStepsPerPendingRange {
			t.Fatalf("pending range starting at %d has %d steps, want at most MaxStepsPerPendingRange (%d)",
				r.FirstStepID, len(r.Payloads), d.MaxStepsPerPendingRange)
		}
	}
}
