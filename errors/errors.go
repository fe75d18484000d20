package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates which boot stage produced the error
type Phase string

const (
	PhaseBoot        Phase = "boot"        // reset entry and platform bring-up
	PhaseConfig      Phase = "config"      // build configuration
	PhaseArena       Phase = "arena"       // static memory arena
	PhaseRegistry    Phase = "registry"    // host function table
	PhaseImage       Phase = "image"       // module image parsing and rewriting
	PhaseLoad        Phase = "load"        // module parse and validation
	PhaseInstantiate Phase = "instantiate" // import resolution and instantiation
	PhaseRun         Phase = "run"         // guest execution
	PhaseHost        Phase = "host"        // inside a host function
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfArena        Kind = "out_of_arena"
	KindDuplicateImport   Kind = "duplicate_import"
	KindUnresolved        Kind = "unresolved_import"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindMalformedModule   Kind = "malformed_module"
	KindInstantiation     Kind = "instantiation_failed"
	KindTrap              Kind = "trap"
	KindHardwareException Kind = "hardware_exception"
	KindHostPanic         Kind = "host_panic"
	KindInvalidInput      Kind = "invalid_input"
	KindInvalidState      Kind = "invalid_state"
	KindReentrant         Kind = "reentrant"
	KindFrozen            Kind = "frozen"
	KindRegistryFull      Kind = "registry_full"
	KindNotFound          Kind = "not_found"
)

// TrapCode names the guest-visible runtime fault behind a KindTrap error
type TrapCode string

const (
	TrapOutOfBounds       TrapCode = "out_of_bounds"
	TrapDivideByZero      TrapCode = "divide_by_zero"
	TrapUnreachable       TrapCode = "unreachable"
	TrapIntegerOverflow   TrapCode = "integer_overflow"
	TrapInvalidConversion TrapCode = "invalid_conversion"
	TrapStackOverflow     TrapCode = "stack_overflow"
	TrapTableAccess       TrapCode = "table_access"
	TrapIndirectCall      TrapCode = "indirect_call"
	TrapAbort             TrapCode = "abort"
	TrapExit              TrapCode = "exit"
	TrapUnknown           TrapCode = "unknown"
)

// Error is the structured error type used throughout the firmware
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Trap   TrapCode
	Import string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Trap != "" {
		b.WriteByte('/')
		b.WriteString(string(e.Trap))
	}

	if e.Import != "" {
		b.WriteString(" at ")
		b.WriteString(e.Import)
	}

	if addr, ok := e.Address(); ok {
		fmt.Fprintf(&b, " (address 0x%x)", addr)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && t.Phase != e.Phase {
			return false
		}
		return e.Kind == t.Kind
	}
	return false
}

// Address returns the faulting address carried by the error, if any.
func (e *Error) Address() (uint64, bool) {
	switch v := e.Value.(type) {
	case address:
		return uint64(v), true
	default:
		return 0, false
	}
}

// address marks Value as a guest address rather than an arbitrary offending value.
type address uint64

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Trap sets the trap code
func (b *Builder) Trap(code TrapCode) *Builder {
	b.err.Trap = code
	return b
}

// Import sets the namespace/name of the import involved
func (b *Builder) Import(namespace, name string) *Builder {
	b.err.Import = ImportKey(namespace, name)
	return b
}

// Address records the faulting guest address
func (b *Builder) Address(addr uint64) *Builder {
	b.err.Value = address(addr)
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// ImportKey formats a (namespace, name) pair the way guest toolchains print it.
func ImportKey(namespace, name string) string {
	return namespace + "." + name
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// Convenience constructors for common error patterns

// OutOfArena creates an arena exhaustion error
func OutOfArena(phase Phase, size uint64, align uint32, remaining uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfArena,
		Detail: fmt.Sprintf("request of %d bytes (align %d) exceeds %d remaining", size, align, remaining),
		Value:  size,
	}
}

// DuplicateImport creates a duplicate host function error
func DuplicateImport(namespace, name string) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindDuplicateImport,
		Import: ImportKey(namespace, name),
		Detail: "host function already registered",
	}
}

// Unresolved creates an unresolved import error for a single import
func Unresolved(namespace, name string) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindUnresolved,
		Import: ImportKey(namespace, name),
		Detail: "no host function registered",
	}
}

// SignatureMismatch creates an import signature mismatch error
func SignatureMismatch(namespace, name, want, got string) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindSignatureMismatch,
		Import: ImportKey(namespace, name),
		Detail: fmt.Sprintf("module imports %s, host provides %s", want, got),
	}
}

// MalformedModule creates a module parse/validation error
func MalformedModule(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMalformedModule,
		Detail: "parse module image",
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: detail,
		Cause:  cause,
	}
}

// Trap creates a guest trap error
func Trap(code TrapCode, cause error) *Error {
	return &Error{
		Phase: PhaseRun,
		Kind:  KindTrap,
		Trap:  code,
		Cause: cause,
	}
}

// OutOfBounds creates a trap for a guest memory access outside linear memory
func OutOfBounds(phase Phase, addr uint64, length uint32, memSize uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTrap,
		Trap:   TrapOutOfBounds,
		Detail: fmt.Sprintf("access of %d bytes outside linear memory of %d bytes", length, memSize),
		Value:  address(addr),
	}
}

// HardwareException creates a platform-reported fault
func HardwareException(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseBoot,
		Kind:   KindHardwareException,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidState creates a state machine ordering error
func InvalidState(phase Phase, from, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("%s not permitted in state %s", op, from),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Namespace string // e.g., "env"
	Function  string // e.g., "uart_write"
}

// MissingImportsError lists every import the module declares that the host
// function table cannot satisfy. It is carried as the Cause of a
// KindUnresolved error.
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "namespace.function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		ns, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Namespace: ns,
			Function:  fn,
		})
	}
	return result
}

func parseImportKey(key string) (namespace, function string) {
	ns, fn, found := strings.Cut(key, ".")
	if found {
		return ns, fn
	}
	return key, ""
}

// demangleRust attempts to extract readable function name from mangled Rust symbol
func demangleRust(name string) string {
	// Rust mangled names start with _ZN
	if !strings.HasPrefix(name, "_ZN") {
		return name
	}

	// Format: _ZN<len><name><len><name>...E
	s := name[3:]
	var parts []string

	for len(s) > 0 && s[0] != 'E' {
		lenEnd := 0
		for lenEnd < len(s) && s[lenEnd] >= '0' && s[lenEnd] <= '9' {
			lenEnd++
		}
		if lenEnd == 0 {
			break
		}

		length := 0
		for i := 0; i < lenEnd; i++ {
			length = length*10 + int(s[i]-'0')
		}
		s = s[lenEnd:]

		if length > len(s) {
			break
		}

		part := s[:length]
		s = s[length:]

		// 17 char hash suffixes starting with 'h'
		if len(part) == 17 && part[0] == 'h' && isHex(part[1:]) {
			continue
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return name
	}

	return strings.Join(parts, "::")
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[instantiate] unresolved_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "unresolved %d import(s):\n", len(e.Imports))

	byNS := make(map[string][]string)
	var nsOrder []string
	for _, imp := range e.Imports {
		if _, exists := byNS[imp.Namespace]; !exists {
			nsOrder = append(nsOrder, imp.Namespace)
		}
		byNS[imp.Namespace] = append(byNS[imp.Namespace], demangleRust(imp.Function))
	}

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, fn := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}
