package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full trap",
			err: New(PhaseRun, KindTrap).
				Trap(TrapOutOfBounds).
				Address(0x10004).
				Detail("i32.store").
				Build(),
			contains: []string{"[run]", "trap/out_of_bounds", "0x10004", "i32.store"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseArena,
				Kind:  KindOutOfArena,
			},
			contains: []string{"[arena]", "out_of_arena"},
		},
		{
			name:     "import",
			err:      DuplicateImport("env", "increment"),
			contains: []string{"[registry]", "duplicate_import", "env.increment"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindMalformedModule,
				Detail: "parse module image",
				Cause:  errors.New("invalid magic number"),
			},
			contains: []string{"[load]", "malformed_module", "caused by", "invalid magic number"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Instantiation("instantiate module", cause)

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
}

func TestError_Is(t *testing.T) {
	err := OutOfArena(PhaseArena, 4096, 16, 100)

	if !err.Is(&Error{Phase: PhaseArena, Kind: KindOutOfArena}) {
		t.Error("Is should match same phase and kind")
	}
	if !err.Is(&Error{Kind: KindOutOfArena}) {
		t.Error("Is should match kind when target has no phase")
	}
	if err.Is(&Error{Phase: PhaseRun, Kind: KindOutOfArena}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseArena, Kind: KindTrap}) {
		t.Error("Is should not match different kind")
	}

	wrapped := Wrap(PhaseRun, KindTrap, err, "memory.grow")
	if !IsKind(wrapped, KindOutOfArena) {
		t.Error("IsKind should find kind through the cause chain")
	}
	kind, ok := KindOf(wrapped)
	if !ok || kind != KindTrap {
		t.Errorf("KindOf = %v, %v; want outermost kind trap", kind, ok)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseHost, KindTrap).
		Trap(TrapAbort).
		Import("env", "abort").
		Value(7).
		Cause(cause).
		Detail("guest abort at line %d", 12).
		Build()

	if err.Phase != PhaseHost {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseHost)
	}
	if err.Trap != TrapAbort {
		t.Errorf("Trap = %v, want %v", err.Trap, TrapAbort)
	}
	if err.Import != "env.abort" {
		t.Errorf("Import = %q, want env.abort", err.Import)
	}
	if err.Value != 7 {
		t.Errorf("Value = %v, want 7", err.Value)
	}
	if _, ok := err.Address(); ok {
		t.Error("plain Value must not be reported as an address")
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "guest abort at line 12" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("OutOfArena", func(t *testing.T) {
		err := OutOfArena(PhaseArena, 1024, 8, 12)
		if err.Kind != KindOutOfArena {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfArena)
		}
		if !strings.Contains(err.Detail, "1024") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseHost, 70000, 4, 65536)
		addr, ok := err.Address()
		if !ok || addr != 70000 {
			t.Errorf("Address = %d, %v; want 70000", addr, ok)
		}
		if err.Trap != TrapOutOfBounds {
			t.Errorf("Trap = %v", err.Trap)
		}
	})

	t.Run("SignatureMismatch", func(t *testing.T) {
		err := SignatureMismatch("env", "increment", "(i32) -> i32", "(i64) -> i64")
		if err.Kind != KindSignatureMismatch {
			t.Errorf("Kind = %v", err.Kind)
		}
		if !strings.Contains(err.Error(), "(i64) -> i64") {
			t.Errorf("message %q should name host signature", err.Error())
		}
	})

	t.Run("Unresolved", func(t *testing.T) {
		err := Unresolved("env", "missing")
		if err.Phase != PhaseInstantiate || err.Kind != KindUnresolved {
			t.Errorf("got %v/%v", err.Phase, err.Kind)
		}
	})

	t.Run("InvalidState", func(t *testing.T) {
		err := InvalidState(PhaseLoad, "Uninitialized", "load")
		if !strings.Contains(err.Detail, "Uninitialized") {
			t.Errorf("Detail = %q", err.Detail)
		}
	})
}

func TestMissingImportsError(t *testing.T) {
	t.Run("single import", func(t *testing.T) {
		err := NewMissingImportsError([]string{"env.uart_write"})
		if len(err.Imports) != 1 {
			t.Fatalf("expected 1 import, got %d", len(err.Imports))
		}
		if err.Imports[0].Namespace != "env" || err.Imports[0].Function != "uart_write" {
			t.Errorf("import = %+v", err.Imports[0])
		}
	})

	t.Run("multiple namespaces grouped", func(t *testing.T) {
		err := NewMissingImportsError([]string{
			"env.uart_write",
			"wasi_snapshot_preview1.fd_write",
			"env.led_set",
		})
		msg := err.Error()
		for _, s := range []string{"3 import", "env:", "wasi_snapshot_preview1:", "led_set"} {
			if !strings.Contains(msg, s) {
				t.Errorf("message %q missing %q", msg, s)
			}
		}
	})

	t.Run("empty imports", func(t *testing.T) {
		err := NewMissingImportsError(nil)
		if !strings.Contains(err.Error(), "no imports specified") {
			t.Errorf("empty error should have specific message, got: %s", err.Error())
		}
	})

	t.Run("errors.Is through unresolved", func(t *testing.T) {
		missing := NewMissingImportsError([]string{"env.fn"})
		err := Wrap(PhaseInstantiate, KindUnresolved, missing, "resolve imports")
		if !errors.Is(err, &MissingImportsError{}) {
			t.Error("errors.Is should match MissingImportsError")
		}
	})
}

func TestDemangleRust(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"uart_write", "uart_write"},
		{"_ZN4core3ptr8write_fn17ha1b2c3d4e5f67890E", "core::ptr::write_fn"},
		{"_ZN8firmware4uart5write17h0123456789abcdefE", "firmware::uart::write"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := demangleRust(tt.input); got != tt.expected {
				t.Errorf("demangleRust(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
