package nimble

import "log/slog"

// Participant is a single player slot in the game. Its id is stable
// across disconnects/rejoins within a session; only a dissolve returns
// the id to the registry's free list (§3). A participant does not own
// its own pending-step window — its owning LocalParty's buffer carries
// every local participant's steps multiplexed together, matching how a
// single client submits steps for all of its local players in one
// message (§4.2, §4.7).
type Participant struct {
	ID                     uint8
	LocalIndex             uint8
	InUse                  bool
	HasProvidedStepsBefore bool
	PartyID                uint8 // 0 means "not assigned"; party ids are 1-based
}

// reset clears a participant's per-session state when it is returned to
// the free list, but keeps its id (ids are a fixed array index, never
// reassigned).
func (p *Participant) reset() {
	p.LocalIndex = 0
	p.InUse = false
	p.HasProvidedStepsBefore = false
	p.PartyID = 0
}

// Registry is a fixed-capacity pool of participants with a free-list
// (ring buffer of capacity CircularBufferSize) for stable ids across
// rejoin/host-migration, the same bounded-eviction ring shape as a
// msgOwnerKeys cache.
type Registry struct {
	participants [MaxParticipants]Participant
	capacity     int
	freeList     []uint8 // ring of free ids, front = next to allocate
}

// NewRegistry returns a registry of the given capacity (<= MaxParticipants)
// with every id free.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 || capacity > MaxParticipants {
		capacity = MaxParticipants
	}
	r := &Registry{capacity: capacity}
	for i := 0; i < capacity; i++ {
		r.participants[i].ID = uint8(i)
		r.freeList = append(r.freeList, uint8(i))
	}
	return r
}

// Capacity returns the registry's configured participant capacity.
func (r *Registry) Capacity() int { return r.capacity }

// Count returns how many participants are currently in use.
func (r *Registry) Count() int {
	n := 0
	for i := 0; i < r.capacity; i++ {
		if r.participants[i].InUse {
			n++
		}
	}
	return n
}

// FreeCount returns how many ids remain in the free list.
func (r *Registry) FreeCount() int { return len(r.freeList) }

// Allocate pops the next free id and marks it in use, assigning it to
// partyID. Returns ErrSessionFull if the free list is exhausted.
func (r *Registry) Allocate(partyID uint8, localIndex uint8) (*Participant, error) {
	if len(r.freeList) == 0 {
		return nil, ErrSessionFull
	}
	id := r.freeList[0]
	r.freeList = r.freeList[1:]

	p := &r.participants[id]
	if p.InUse {
		// Internal invariant violation: an id handed out by the free
		// list was already marked in-use elsewhere.
		slog.Error("participant free list handed out an in-use id", "participant_id", id)
		return nil, ErrFreeListEmpty
	}
	p.InUse = true
	p.LocalIndex = localIndex
	p.PartyID = partyID

	slog.Debug("participant allocated", "participant_id", id, "party_id", partyID, "local_index", localIndex)
	return p, nil
}

// AllocateID reserves a specific id out of the free list (used by host
// migration, which prepares parties around pre-chosen participant ids).
// Returns false if id is out of range or not currently free.
func (r *Registry) AllocateID(id uint8, partyID uint8, localIndex uint8) bool {
	if int(id) >= r.capacity {
		return false
	}
	idx := -1
	for i, free := range r.freeList {
		if free == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	r.freeList = append(r.freeList[:idx], r.freeList[idx+1:]...)

	p := &r.participants[id]
	p.InUse = true
	p.LocalIndex = localIndex
	p.PartyID = partyID
	return true
}

// Release returns id to the free list and clears its session state.
// Returns ErrFreeListFull on an internal invariant violation (more
// releases than the registry has capacity for).
func (r *Registry) Release(id uint8) error {
	if int(id) >= r.capacity {
		return ErrParticipantNotFound
	}
	p := &r.participants[id]
	if !p.InUse {
		return ErrParticipantNotFound
	}
	if len(r.freeList) >= r.capacity {
		slog.Error("participant free list overflow on release", "participant_id", id)
		return ErrFreeListFull
	}
	p.reset()
	r.freeList = append(r.freeList, id)
	slog.Debug("participant released", "participant_id", id)
	return nil
}

// Get returns the participant for id, or nil if it is not in use.
func (r *Registry) Get(id uint8) *Participant {
	if int(id) >= r.capacity {
		return nil
	}
	p := &r.participants[id]
	if !p.InUse {
		return nil
	}
	return p
}

// RebuildFreeListExcluding replaces the free list with every id in
// [0, capacity) not present in reserved, in ascending order. Used by
// host migration (§4.6): the new host prepares parties for a known set
// of participant ids, and every other id must be free for fresh joins.
func (r *Registry) RebuildFreeListExcluding(reserved []uint8) {
	excluded := make(map[uint8]bool, len(reserved))
	for _, id := range reserved {
		excluded[id] = true
	}
	r.freeList = r.freeList[:0]
	for i := 0; i < r.capacity; i++ {
		id := uint8(i)
		if excluded[id] {
			continue
		}
		if !r.participants[id].InUse {
			r.freeList = append(r.freeList, id)
		}
	}
}

// Used returns every currently in-use participant, ordered by id. The
// authoritative composer does not call it; it walks the parties and
// their participant ids instead.
func (r *Registry) Used() []*Participant {
	out := make([]*Participant, 0, r.capacity)
	for i := 0; i < r.capacity; i++ {
		if r.participants[i].InUse {
			out = append(out, &r.participants[i])
		}
	}
	return out
}
