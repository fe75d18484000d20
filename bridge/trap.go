package bridge

import (
	stderrors "errors"
	"runtime"
	"strings"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/wasm-firmware/errors"
	"github.com/wippyai/wasm-firmware/image"
)

// trapMessages maps interpreter trap messages to trap codes.
var trapMessages = map[string]errors.TrapCode{
	"out of bounds memory access":   errors.TrapOutOfBounds,
	"integer divide by zero":        errors.TrapDivideByZero,
	"unreachable":                   errors.TrapUnreachable,
	"integer overflow":              errors.TrapIntegerOverflow,
	"invalid conversion to integer": errors.TrapInvalidConversion,
	"stack overflow":                errors.TrapStackOverflow,
	"invalid table access":          errors.TrapTableAccess,
	"indirect call type mismatch":   errors.TrapIndirectCall,
}

// classify turns an error returned by a guest call into a fault.
func (b *Bridge) classify(err error) *errors.Error {
	// Host functions and the arena allocator panic with structured errors.
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e
	}

	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return errors.New(errors.PhaseRun, errors.KindTrap).
			Trap(errors.TrapExit).
			Value(exit.ExitCode()).
			Cause(err).
			Detail("guest exited with code %d", exit.ExitCode()).
			Build()
	}

	var rerr runtime.Error
	if stderrors.As(err, &rerr) || strings.Contains(err.Error(), "(recovered by wazero)") {
		return errors.New(errors.PhaseHost, errors.KindHostPanic).
			Cause(err).
			Detail("host function panicked").
			Build()
	}

	code := errors.TrapUnknown
	for u := err; u != nil; u = stderrors.Unwrap(u) {
		if c, ok := trapMessages[u.Error()]; ok {
			code = c
			break
		}
	}

	if addr, ok := b.faultAddress(); ok {
		return errors.New(errors.PhaseRun, errors.KindTrap).
			Trap(errors.TrapOutOfBounds).
			Address(addr).
			Cause(err).
			Build()
	}
	return errors.Trap(code, err)
}

// faultAddress reads the address recorded by an instrumented bounds guard.
func (b *Bridge) faultAddress() (uint64, bool) {
	if b.module == nil {
		return 0, false
	}
	g := b.module.ExportedGlobal(image.FaultAddressExport)
	if g == nil {
		return 0, false
	}
	if v := g.Get(); v != image.NoFault {
		return v, true
	}
	return 0, false
}
