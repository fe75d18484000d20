package bridge

import "fmt"

// State is a position in the bridge lifecycle.
type State uint8

const (
	Uninitialized State = iota
	ArenaReady
	RegistryReady
	ModuleLoaded
	Instantiated
	Running
	Halted
	Trapped
)

var stateNames = [...]string{
	Uninitialized: "uninitialized",
	ArenaReady:    "arena_ready",
	RegistryReady: "registry_ready",
	ModuleLoaded:  "module_loaded",
	Instantiated:  "instantiated",
	Running:       "running",
	Halted:        "halted",
	Trapped:       "trapped",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Halted || s == Trapped
}

// Transition describes one state change. Err is set when the change was
// caused by a failure.
type Transition struct {
	Err  error
	From State
	To   State
}

// Observer is notified after every transition. It runs on the bridge's
// goroutine and must not call back into the bridge.
type Observer func(Transition)
