package nimble

import "testing"

func TestRegistryAllocateRelease(t *testing.T) {
	r := NewRegistry(4)
	if got := r.FreeCount(); got != 4 {
		t.Fatalf("freeCount = %d, want 4", got)
	}

	p, err := r.Allocate(1, 0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if !p.InUse || p.PartyID != 1 {
		t.Fatalf("unexpected participant state: %+v", p)
	}
	if got := r.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}

	if err := r.Release(p.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := r.Count(); got != 0 {
		t.Fatalf("count = %d, want 0 after release", got)
	}
	if got := r.FreeCount(); got != 4 {
		t.Fatalf("freeCount = %d, want 4 after release", got)
	}
}

func TestRegistryAllocateExhaustion(t *testing.T) {
	r := NewRegistry(2)
	if _, err := r.Allocate(1, 0); err != nil {
		t.Fatalf("allocate 1: %v", err)
	}
	if _, err := r.Allocate(1, 1); err != nil {
		t.Fatalf("allocate 2: %v", err)
	}
	if _, err := r.Allocate(1, 2); err != ErrSessionFull {
		t.Fatalf("err = %v, want ErrSessionFull", err)
	}
}

func TestRegistryReleaseUnknownFails(t *testing.T) {
	r := NewRegistry(2)
	if err := r.Release(0); err != ErrParticipantNotFound {
		t.Fatalf("err = %v, want ErrParticipantNotFound", err)
	}
}

func TestRegistryIDStableAcrossRejoin(t *testing.T) {
	r := NewRegistry(4)
	p, _ := r.Allocate(1, 0)
	id := p.ID
	p.HasProvidedStepsBefore = true

	_ = r.Release(id)
	if ok := r.AllocateID(id, 2, 0); !ok {
		t.Fatalf("expected AllocateID to reserve freed id %d", id)
	}

	rejoined := r.Get(id)
	if rejoined == nil {
		t.Fatalf("expected participant %d to be present after rejoin", id)
	}
	if rejoined.PartyID != 2 {
		t.Fatalf("partyID = %d, want 2", rejoined.PartyID)
	}
	if rejoined.HasProvidedStepsBefore {
		t.Fatalf("HasProvidedStepsBefore should have been cleared by Release")
	}
}

func TestRegistryAllocateIDRejectsInUse(t *testing.T) {
	r := NewRegistry(4)
	p, _ := r.Allocate(1, 0)
	if ok := r.AllocateID(p.ID, 2, 0); ok {
		t.Fatalf("expected AllocateID to reject an id that is already in use")
	}
}

func TestRegistryRebuildFreeListExcluding(t *testing.T) {
	r := NewRegistry(4)
	p0, _ := r.Allocate(1, 0)
	_ = p0
	r.RebuildFreeListExcluding([]uint8{2})

	if r.FreeCount() != 2 {
		t.Fatalf("freeCount = %d, want 2 (ids 1 and 3, excluding in-use 0 and reserved 2)", r.FreeCount())
	}
	if ok := r.AllocateID(2, 5, 0); ok {
		t.Fatalf("expected reserved id 2 to remain unavailable via AllocateID until explicitly allocated")
	}
}

func TestRegistryUsedOrderedByID(t *testing.T) {
	r := NewRegistry(4)
	_, _ = r.Allocate(1, 0)
	_, _ = r.Allocate(1, 1)
	used := r.Used()
	if len(used) != 2 {
		t.Fatalf("len(used) = %d, want 2", len(used))
	}
	if used[0].ID >= used[1].ID {
		t.Fatalf("expected ascending id order, got %d then %d", used[0].ID, used[1].ID)
	}
}
