package nimble

// Game is the authoritative simulation state the composer advances:
// the combined-step buffer, the participant registry, and a frozen
// flag the server sets to halt composition (e.g. while a host-migration
// reset is in progress) without tearing anything down (§3).
type Game struct {
	AuthoritativeSteps *StepBuffer
	Participants       *Registry
	Frozen             bool
}

// NewGame returns a Game with an empty authoritative buffer starting at
// step 0 and a registry of the given participant capacity.
func NewGame(participantCapacity int) *Game {
	return &Game{
		AuthoritativeSteps: NewStepBuffer(0),
		Participants:       NewRegistry(participantCapacity),
	}
}

// ExpectedWriteID is the next StepID the composer will attempt to fill
// (the "look_for" value of SPEC_FULL.md §4.2).
func (g *Game) ExpectedWriteID() StepID { return g.AuthoritativeSteps.ExpectedWriteID() }
