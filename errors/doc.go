// Package errors provides structured error types for the firmware.
//
// Errors are categorized by Phase (the boot stage that failed) and Kind (the
// failure taxonomy). Guest traps additionally carry a TrapCode and, when the
// faulting address is known, the address as Value.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRun, errors.KindTrap).
//		Trap(errors.TrapOutOfBounds).
//		Address(0x10000).
//		Detail("i32.store").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfArena(errors.PhaseArena, 4096, 16, 1024)
//	err := errors.DuplicateImport("env", "increment")
//
// Every error is terminal at the firmware level: the boot sequencer converts it
// into a fault record and hands it to the halt policy. All errors implement the
// standard error interface and support errors.Is/As.
package errors
