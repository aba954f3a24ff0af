package nimble

// StepID is a monotonically increasing 32-bit simulation tick index —
// the identity of a single simulation step.
type StepID uint32

// stepSlot is one ring-buffer entry, the step-keyed analogue of a
// seq-indexed cachedDatagram ring cache slot.
type stepSlot struct {
	id      StepID
	payload []byte
	set     bool
}

// StepBuffer is a fixed-window sliding FIFO of (StepID, payload) entries,
// backed by a ring of capacity WindowSize (§4.1). Writes must land
// exactly at expectedWriteID and reads consume exactly at
// expectedReadID; gaps are never left sparse — callers fill them with
// forced steps before writing past them.
type StepBuffer struct {
	slots          [WindowSize]stepSlot
	expectedReadID StepID
	expectedWriteID StepID
	count          int
}

// NewStepBuffer returns a StepBuffer with both pointers initialized to
// startID and an empty window.
func NewStepBuffer(startID StepID) *StepBuffer {
	b := &StepBuffer{}
	b.ReInit(startID)
	return b
}

// ExpectedReadID returns the smallest StepID still buffered.
func (b *StepBuffer) ExpectedReadID() StepID { return b.expectedReadID }

// ExpectedWriteID returns the next StepID that will be accepted by Write.
func (b *StepBuffer) ExpectedWriteID() StepID { return b.expectedWriteID }

// Count returns expectedWriteID - expectedReadID, i.e. the number of
// steps currently buffered.
func (b *StepBuffer) Count() int { return b.count }

// ReInit empties the buffer and resets both pointers to stepID.
func (b *StepBuffer) ReInit(stepID StepID) {
	for i := range b.slots {
		b.slots[i] = stepSlot{}
	}
	b.expectedReadID = stepID
	b.expectedWriteID = stepID
	b.count = 0
}

// Write appends payload at exactly expectedWriteID. It fails with
// ErrWriteNotAtExpectedID if stepID does not match, and ErrBufferFull if
// the window is already saturated. The payload is copied.
func (b *StepBuffer) Write(stepID StepID, payload []byte) error {
	if stepID != b.expectedWriteID {
		return ErrWriteNotAtExpectedID
	}
	if b.count >= WindowSize {
		return ErrBufferFull
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)

	idx := int(uint32(stepID)) % WindowSize
	b.slots[idx] = stepSlot{id: stepID, payload: cp, set: true}
	b.expectedWriteID++
	b.count++
	return nil
}

// Read returns the payload at expectedReadID and advances it. It fails
// with ErrBufferEmpty when the window holds nothing.
func (b *StepBuffer) Read() (StepID, []byte, error) {
	if b.count == 0 {
		return 0, nil, ErrBufferEmpty
	}
	id := b.expectedReadID
	idx := int(uint32(id)) % WindowSize
	slot := b.slots[idx]
	b.slots[idx] = stepSlot{}
	b.expectedReadID++
	b.count--
	return id, slot.payload, nil
}

// ReadExact returns the payload stored at exactly stepID without
// advancing expectedReadID. It fails with ErrStepNotFound if stepID is
// outside [expectedReadID, expectedWriteID) or its slot was never
// written (can happen after a ReInit shifted the window).
func (b *StepBuffer) ReadExact(stepID StepID) ([]byte, error) {
	if stepID < b.expectedReadID || stepID >= b.expectedWriteID {
		return nil, ErrStepNotFound
	}
	idx := int(uint32(stepID)) % WindowSize
	slot := b.slots[idx]
	if !slot.set || slot.id != stepID {
		return nil, ErrStepNotFound
	}
	return slot.payload, nil
}

// Dropped returns the distance between firstIncomingStepID and
// expectedWriteID if positive (i.e. the number of steps silently missed
// before this batch), or zero otherwise.
func (b *StepBuffer) Dropped(firstIncomingStepID StepID) int {
	if firstIncomingStepID <= b.expectedWriteID {
		return 0
	}
	return int(firstIncomingStepID - b.expectedWriteID)
}

// DiscardUpTo advances expectedReadID past every entry older than
// stepID, returning how many entries were discarded. It never advances
// past expectedWriteID.
func (b *StepBuffer) DiscardUpTo(stepID StepID) int {
	discarded := 0
	for b.expectedReadID < stepID && b.expectedReadID < b.expectedWriteID {
		idx := int(uint32(b.expectedReadID)) % WindowSize
		b.slots[idx] = stepSlot{}
		b.expectedReadID++
		b.count--
		discarded++
	}
	return discarded
}
