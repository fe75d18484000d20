package board

import "sync/atomic"

// LED is the status indicator. It implements fault.Indicator.
type LED struct {
	// Watch, when set before use, is called on every state change.
	Watch   func(on bool)
	changes atomic.Uint64
	on      atomic.Bool
}

// Set drives the LED.
func (l *LED) Set(on bool) {
	if l.on.Swap(on) != on {
		l.changes.Add(1)
		if l.Watch != nil {
			l.Watch(on)
		}
	}
}

// On reports the current state.
func (l *LED) On() bool { return l.on.Load() }

// Changes returns the number of state changes so far.
func (l *LED) Changes() uint64 { return l.changes.Load() }
