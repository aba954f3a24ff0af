package nimble

import "log/slog"

// TickQualityState is the host-side tick-time health, separate from a
// party's connection quality: it measures whether this server instance
// itself is keeping up with its configured tick rate (§4.9 step 1).
type TickQualityState int

const (
	// TickQualityHealthy is the normal running state.
	TickQualityHealthy TickQualityState = iota
	// TickQualityFailedTickTime means a single tick exceeded the target
	// duration for more than 60 consecutive ticks.
	TickQualityFailedTickTime
	// TickQualityFailedAverageTickTime means the rolling average tick
	// duration exceeded the target for more than 50 consecutive ticks.
	TickQualityFailedAverageTickTime
)

func (s TickQualityState) String() string {
	switch s {
	case TickQualityHealthy:
		return "healthy"
	case TickQualityFailedTickTime:
		return "failed_tick_time"
	case TickQualityFailedAverageTickTime:
		return "failed_average_tick_time"
	default:
		return "unknown"
	}
}

const (
	tickQualityRollingWindow        = 30
	maxConsecutiveSlowTicks         = 60
	maxConsecutiveSlowAverageTicks  = 50
)

// TickQualityMonitor tracks how well the host's tick loop is keeping up
// with its target duration, following the same circuit-breaker shape
// as a send-health monitor but measuring wall-clock tick deltas
// instead of datagram send failures.
type TickQualityMonitor struct {
	targetTickMillis int64
	state            TickQualityState

	lastTimeMillis int64
	haveLastTime   bool

	consecutiveSlowTicks   int
	consecutiveSlowAverage int

	samples    [tickQualityRollingWindow]int64
	sampleHead int
	sampleLen  int
}

// NewTickQualityMonitor returns a monitor targeting targetTickMillis per
// tick (e.g. 1000/60 for a 60Hz server).
func NewTickQualityMonitor(targetTickMillis int64) *TickQualityMonitor {
	return &TickQualityMonitor{targetTickMillis: targetTickMillis}
}

// State returns the monitor's current health classification.
func (m *TickQualityMonitor) State() TickQualityState { return m.state }

func (m *TickQualityMonitor) rollingAverage() int64 {
	if m.sampleLen == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < m.sampleLen; i++ {
		sum += m.samples[i]
	}
	return sum / int64(m.sampleLen)
}

func (m *TickQualityMonitor) pushSample(delta int64) {
	m.samples[m.sampleHead] = delta
	m.sampleHead = (m.sampleHead + 1) % tickQualityRollingWindow
	if m.sampleLen < tickQualityRollingWindow {
		m.sampleLen++
	}
}

// Tick records one tick's wall-clock timestamp (milliseconds since an
// arbitrary epoch, supplied by the caller's clock collaborator — never
// time.Now() directly, per the transport/clock boundary) and returns an
// error once the host has been too slow for long enough that the caller
// should treat this server instance as degraded (§4.9 step 1).
func (m *TickQualityMonitor) Tick(nowMillis int64) error {
	if !m.haveLastTime {
		m.haveLastTime = true
		m.lastTimeMillis = nowMillis
		return nil
	}

	delta := nowMillis - m.lastTimeMillis
	m.lastTimeMillis = nowMillis
	m.pushSample(delta)

	if delta > m.targetTickMillis {
		m.consecutiveSlowTicks++
	} else {
		m.consecutiveSlowTicks = 0
	}

	if m.rollingAverage() > m.targetTickMillis {
		m.consecutiveSlowAverage++
	} else {
		m.consecutiveSlowAverage = 0
	}

	if m.consecutiveSlowTicks > maxConsecutiveSlowTicks {
		if m.state != TickQualityFailedTickTime {
			slog.Error("tick time exceeded target for too many consecutive ticks",
				"target_ms", m.targetTickMillis, "delta_ms", delta, "consecutive", m.consecutiveSlowTicks)
		}
		m.state = TickQualityFailedTickTime
		return ErrTickTimeExceeded
	}

	if m.consecutiveSlowAverage > maxConsecutiveSlowAverageTicks {
		if m.state != TickQualityFailedAverageTickTime {
			slog.Error("average tick time exceeded target for too many consecutive ticks",
				"target_ms", m.targetTickMillis, "average_ms", m.rollingAverage(), "consecutive", m.consecutiveSlowAverage)
		}
		m.state = TickQualityFailedAverageTickTime
		return ErrAverageTickTimeExceeded
	}

	m.state = TickQualityHealthy
	return nil
}
