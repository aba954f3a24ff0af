// Package transport implements the per-peer transport-connection phase
// machine, ordered-datagram filtering, and command dispatch described
// in SPEC_FULL.md §4.5-§4.8. It sits between the raw, unreliable
// datagram collaborator (an external Transport implementation, e.g.
// transportadapter) and the domain core in internal/nimble.
package transport

import "log/slog"

// Phase is the explicit tagged state of a TransportConnection (§3,
// §4.5), an enum-of-phase in place of subclassing.
type Phase int

const (
	// PhaseIdle is an unallocated connection slot.
	PhaseIdle Phase = iota
	// PhaseWaitingForValidConnect has been allocated (e.g. by a
	// ConnectRequest) but has not yet completed setup.
	PhaseWaitingForValidConnect
	// PhaseConnected has a valid secret and can exchange game traffic.
	PhaseConnected
	// PhaseInitialStateDetermined has received (or does not need) its
	// first snapshot and can run full lockstep.
	PhaseInitialStateDetermined
	// PhaseDisconnected is terminal; the slot is swept back to the free
	// list on the next opportunity.
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaitingForValidConnect:
		return "waiting_for_valid_connect"
	case PhaseConnected:
		return "connected"
	case PhaseInitialStateDetermined:
		return "initial_state_determined"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// orderedFilter tracks the highest sequence number seen (incoming) or
// issued (outgoing) to enforce §5's ordering guarantee: within a single
// transport connection, datagrams are delivered/sent in non-decreasing
// sequence order; stale incoming sequences are discarded.
type orderedFilter struct {
	lastSeq  uint8
	hasSeen  bool
}

// acceptIncoming reports whether seq is new enough to process, and
// records it as the new high-water mark if so. Sequence numbers wrap at
// 256; a new seq is accepted if it is strictly ahead of lastSeq modulo
// wraparound, the same half-window heuristic a NACK cache uses for its
// sequence comparisons.
func (f *orderedFilter) acceptIncoming(seq uint8) bool {
	if !f.hasSeen {
		f.hasSeen = true
		f.lastSeq = seq
		return true
	}
	delta := int8(seq - f.lastSeq)
	if delta <= 0 {
		return false
	}
	f.lastSeq = seq
	return true
}

// nextOutgoing returns the next monotonic outgoing sequence number.
func (f *orderedFilter) nextOutgoing() uint8 {
	f.lastSeq++
	return f.lastSeq
}

// Connection is one peer's transport-level session state: nonce/secret
// handshake identity, the ordered in/out filters, its assigned party,
// and an attached blob-out channel for snapshot downloads (§3, §4.5).
// It stores only the assigned party's id (not a pointer), breaking the
// party↔connection reference cycle described in §7.
type Connection struct {
	ID             uint8
	TransportIndex uint8
	Phase          Phase

	RequestNonce uint64
	Secret       uint64

	in  orderedFilter
	out orderedFilter

	AssignedPartyID uint8
	HasParty        bool

	BlobOutChannelID uint32
	HasBlobOut       bool

	LastDownloadRequestID uint32
	HasDownloadRequest    bool
}

// reset clears a connection's session state when it is returned to the
// free list, keeping only its id and transport index slot identity.
func (c *Connection) reset() {
	c.Phase = PhaseIdle
	c.RequestNonce = 0
	c.Secret = 0
	c.in = orderedFilter{}
	c.out = orderedFilter{}
	c.AssignedPartyID = 0
	c.HasParty = false
	c.HasBlobOut = false
	c.BlobOutChannelID = 0
	c.HasDownloadRequest = false
	c.LastDownloadRequestID = 0
}

// AcceptIncoming runs seq through the connection's ordered-in filter,
// discarding out-of-order datagrams (§4.5 step 4, §5).
func (c *Connection) AcceptIncoming(seq uint8) bool {
	return c.in.acceptIncoming(seq)
}

// NextOutgoingSeq returns the next monotonic outgoing sequence number
// for this connection (§4.5's outgoing datagram framing).
func (c *Connection) NextOutgoingSeq() uint8 {
	return c.out.nextOutgoing()
}

// AttachParty records the party this connection is driving.
func (c *Connection) AttachParty(partyID uint8) {
	c.AssignedPartyID = partyID
	c.HasParty = true
}

// DetachParty clears the party assignment, e.g. on disconnect.
func (c *Connection) DetachParty() {
	c.AssignedPartyID = 0
	c.HasParty = false
}

// Disconnect transitions the connection to its terminal phase.
func (c *Connection) Disconnect(reason string) {
	if c.Phase == PhaseDisconnected {
		return
	}
	slog.Info("connection disconnected", "connection_id", c.ID, "transport_index", c.TransportIndex, "reason", reason)
	c.Phase = PhaseDisconnected
}

// Pool is a fixed-capacity set of Connections with a free-list, mirror
// of internal/nimble.Registry's shape but for transport-level slots
// (§4.5's "ring-based free-list").
type Pool struct {
	connections []Connection
	capacity    int
	freeList    []uint8
}

// NewPool returns a Pool with capacity slots, all free and Idle, except
// slot 0: §4.5 step 1 reserves connection id 0 as the out-of-band
// sentinel ("if 0, treat as out-of-band — only ConnectRequest is
// valid"), so it is never placed on the free list and Allocate can
// never hand it out.
func NewPool(capacity int) *Pool {
	p := &Pool{capacity: capacity, connections: make([]Connection, capacity)}
	for i := 0; i < capacity; i++ {
		p.connections[i].ID = uint8(i)
	}
	for i := 1; i < capacity; i++ {
		p.freeList = append(p.freeList, uint8(i))
	}
	return p
}

// FindByNonce returns the connection matching (transportIndex, nonce)
// among currently allocated connections, for ConnectRequest idempotency
// (§4.5).
func (p *Pool) FindByNonce(transportIndex uint8, nonce uint64) *Connection {
	for i := range p.connections {
		c := &p.connections[i]
		if c.Phase == PhaseIdle {
			continue
		}
		if c.TransportIndex == transportIndex && c.RequestNonce == nonce {
			return c
		}
	}
	return nil
}

// Allocate pops a connection off the free list, assigns a fresh secret,
// and transitions it to Connected. Returns nil if the pool is exhausted.
func (p *Pool) Allocate(transportIndex uint8, nonce uint64, secret uint64) *Connection {
	if len(p.freeList) == 0 {
		return nil
	}
	id := p.freeList[0]
	p.freeList = p.freeList[1:]

	c := &p.connections[id]
	c.reset()
	c.TransportIndex = transportIndex
	c.RequestNonce = nonce
	c.Secret = secret
	c.Phase = PhaseConnected
	return c
}

// Get returns the connection for id, or nil if it is Idle or out of range.
func (p *Pool) Get(id uint8) *Connection {
	if int(id) >= p.capacity {
		return nil
	}
	c := &p.connections[id]
	if c.Phase == PhaseIdle {
		return nil
	}
	return c
}

// Release returns id to the free list.
func (p *Pool) Release(id uint8) {
	if int(id) >= p.capacity {
		return
	}
	c := &p.connections[id]
	if c.Phase == PhaseIdle {
		return
	}
	c.reset()
	p.freeList = append(p.freeList, id)
}

// Sweep releases every connection currently in PhaseDisconnected back
// to the free list, called once per tick.
func (p *Pool) Sweep() {
	for i := range p.connections {
		if p.connections[i].Phase == PhaseDisconnected {
			p.Release(p.connections[i].ID)
		}
	}
}
