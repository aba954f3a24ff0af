package nimble

import "log/slog"

// Quality tracks how reliably a party is providing steps: how many were
// accepted vs. forced in a row, the same circuit-breaker shape as a
// send-health monitor but keyed to step provision instead of datagram
// send failures (§4.3).
type Quality struct {
	partyID                  uint8
	forcedStepInRow          int
	providedStepsInRow       int
	addedStepsToBuffer       int
	hasAddedFirstAcceptedSteps bool
}

// NewQuality returns a freshly reset Quality tracker for the given party.
func NewQuality(partyID uint8) *Quality {
	q := &Quality{partyID: partyID}
	q.Reset()
	return q
}

// Reset clears all counters, keeping the party id. Used on party reuse
// (a fresh party taking a dissolved party's slot) and on rejoin.
func (q *Quality) Reset() {
	q.forcedStepInRow = 0
	q.providedStepsInRow = 0
	q.addedStepsToBuffer = 0
	q.hasAddedFirstAcceptedSteps = false
}

// ProvidedUsableStep records that a step was accepted as part of an
// authoritative compose.
func (q *Quality) ProvidedUsableStep() {
	q.forcedStepInRow = 0
	q.providedStepsInRow++
	q.hasAddedFirstAcceptedSteps = true
	q.addedStepsToBuffer = 0
}

// AddedForcedSteps records that count forced steps were substituted for
// this party while composing.
func (q *Quality) AddedForcedSteps(count int) {
	q.providedStepsInRow = 0
	q.forcedStepInRow += count
}

// AddedStepsToBuffer records that count predicted steps were accepted
// into the party's incoming buffer (§4.7 step 5).
func (q *Quality) AddedStepsToBuffer(count int) {
	q.addedStepsToBuffer += count
}

// ForcedStepInRow returns the current consecutive-forced-step counter.
func (q *Quality) ForcedStepInRow() int { return q.forcedStepInRow }

// isFailingToProvideStepsInTime is the raw should-disconnect predicate:
// threshold 8 once the party has ever accepted a step, 180 before that
// (tolerates slow joiners), per §4.3.
func (q *Quality) isFailingToProvideStepsInTime() bool {
	threshold := ForcedStepThresholdAfterFirstAccept
	if !q.hasAddedFirstAcceptedSteps {
		threshold = ForcedStepThresholdBeforeFirstAccept
	}
	return q.forcedStepInRow >= threshold
}

// DelayedQuality wraps a Quality with hysteresis so a single bad tick
// doesn't dissolve a party: the impeding-disconnect counter must cross
// ImpedingDisconnectThreshold before a dissolve is recommended, and it
// decays back to zero as soon as the raw predicate clears (§4.3).
type DelayedQuality struct {
	partyID                  uint8
	impedingDisconnectCounter int
}

// NewDelayedQuality returns a zeroed hysteresis layer for the given party.
func NewDelayedQuality(partyID uint8) *DelayedQuality {
	return &DelayedQuality{partyID: partyID}
}

// Reset zeroes the hysteresis counter, used when a party stabilizes via
// rejoin rather than by the counter decaying naturally.
func (d *DelayedQuality) Reset() {
	d.impedingDisconnectCounter = 0
}

// Tick evaluates quality for one tick and returns true if the party
// should keep running, or false if sustained bad quality recommends
// dissolving it (moving it to WaitingForReJoin).
func (d *DelayedQuality) Tick(quality *Quality) bool {
	if quality.isFailingToProvideStepsInTime() {
		if d.impedingDisconnectCounter == 0 {
			slog.Info("quality recommended dissolve for the first time",
				"party_id", d.partyID, "forced_step_in_row", quality.forcedStepInRow)
		}
		d.impedingDisconnectCounter++

		if d.impedingDisconnectCounter > ImpedingDisconnectThreshold {
			slog.Warn("recommending dissolve",
				"party_id", d.partyID, "counter", d.impedingDisconnectCounter)
			return false
		}

		if d.impedingDisconnectCounter%ImpedingDisconnectLogInterval == 0 {
			slog.Warn("bad quality, considering dissolving",
				"party_id", d.partyID, "counter", d.impedingDisconnectCounter)
		}
		return true
	}

	if d.impedingDisconnectCounter > 0 {
		d.impedingDisconnectCounter--
		if d.impedingDisconnectCounter == 0 {
			slog.Info("party quality has stabilized", "party_id", d.partyID)
		}
	}
	return true
}

// Counter exposes the current hysteresis counter, mainly for tests and
// the admin diagnostics endpoint.
func (d *DelayedQuality) Counter() int { return d.impedingDisconnectCounter }
