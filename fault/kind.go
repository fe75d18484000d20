package fault

import (
	stderrors "errors"
	"fmt"

	"github.com/wippyai/wasm-firmware/errors"
)

// Kind classifies a terminal fault. Its numeric value is the number of short
// pulses in the blink pattern, so values stay small and stable.
type Kind uint8

const (
	None Kind = iota
	OutOfArena
	DuplicateImport
	Unresolved
	SignatureMismatch
	MalformedModule
	InstantiationFailed
	Trap
	HardwareException
	HostPanic
	Internal
)

var kindNames = [...]string{
	None:                "none",
	OutOfArena:          "out_of_arena",
	DuplicateImport:     "duplicate_import",
	Unresolved:          "unresolved_import",
	SignatureMismatch:   "signature_mismatch",
	MalformedModule:     "malformed_module",
	InstantiationFailed: "instantiation_failed",
	Trap:                "trap",
	HardwareException:   "hardware_exception",
	HostPanic:           "host_panic",
	Internal:            "internal",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

var fromErrorKind = map[errors.Kind]Kind{
	errors.KindOutOfArena:        OutOfArena,
	errors.KindDuplicateImport:   DuplicateImport,
	errors.KindUnresolved:        Unresolved,
	errors.KindSignatureMismatch: SignatureMismatch,
	errors.KindMalformedModule:   MalformedModule,
	errors.KindInstantiation:     InstantiationFailed,
	errors.KindTrap:              Trap,
	errors.KindHardwareException: HardwareException,
	errors.KindHostPanic:         HostPanic,
}

// Record describes a terminal fault.
type Record struct {
	Err        error
	Phase      errors.Phase
	Trap       errors.TrapCode
	Detail     string
	Address    uint64
	Kind       Kind
	HasAddress bool
}

func (r Record) String() string {
	s := r.Kind.String()
	if r.Trap != "" {
		s += "/" + string(r.Trap)
	}
	if r.Phase != "" {
		s += " in " + string(r.Phase)
	}
	if r.HasAddress {
		s += fmt.Sprintf(" at 0x%x", r.Address)
	}
	if r.Detail != "" {
		s += ": " + r.Detail
	}
	return s
}

// FromError derives a Record from err. Errors outside the firmware taxonomy,
// and the support kinds that only a firmware bug can produce, are Internal.
func FromError(err error) Record {
	r := Record{Err: err, Kind: Internal}
	if err == nil {
		r.Detail = "nil error"
		return r
	}

	var e *errors.Error
	if !stderrors.As(err, &e) {
		r.Detail = err.Error()
		return r
	}

	// An outer instantiation error keeps its kind; the cause may say why.
	if k, ok := fromErrorKind[e.Kind]; ok {
		r.Kind = k
	}
	r.Phase = e.Phase
	r.Trap = e.Trap
	r.Detail = e.Detail
	r.Address, r.HasAddress = e.Address()
	if !r.HasAddress {
		var inner *errors.Error
		if stderrors.As(e.Cause, &inner) {
			r.Address, r.HasAddress = inner.Address()
		}
	}
	return r
}

// FromPanic derives a Record from a recovered panic value.
func FromPanic(v any) Record {
	if err, ok := v.(error); ok {
		r := FromError(err)
		if r.Kind == Internal {
			r.Kind = HostPanic
		}
		return r
	}
	return Record{
		Kind:   HostPanic,
		Detail: fmt.Sprint(v),
		Err:    fmt.Errorf("panic: %v", v),
	}
}
