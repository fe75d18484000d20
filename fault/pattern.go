package fault

import "time"

// Step is one indicator state held for a duration.
type Step struct {
	Duration time.Duration
	On       bool
}

// Timing sets the blink pattern durations.
type Timing struct {
	Pulse time.Duration // on and off time of one short pulse
	Gap   time.Duration // pause after the pulses
}

// DefaultTiming is used when a Policy has no timing configured.
var DefaultTiming = Timing{Pulse: 150 * time.Millisecond, Gap: time.Second}

// Pattern returns one period of the blink pattern for kind: kind short
// pulses followed by a long gap. None produces the slow heartbeat shown after
// a clean halt.
func Pattern(kind Kind, t Timing) []Step {
	if t.Pulse <= 0 || t.Gap <= 0 {
		t = DefaultTiming
	}
	if kind == None {
		return []Step{{On: true, Duration: t.Pulse}, {On: false, Duration: 2 * t.Gap}}
	}

	steps := make([]Step, 0, 2*int(kind)+1)
	for i := 0; i < int(kind); i++ {
		steps = append(steps, Step{On: true, Duration: t.Pulse}, Step{On: false, Duration: t.Pulse})
	}
	return append(steps, Step{On: false, Duration: t.Gap})
}

// doubleFaultPattern is a solid indicator: the policy itself failed.
var doubleFaultPattern = []Step{{On: true, Duration: time.Hour}}
