package host

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-firmware/errors"
	"github.com/wippyai/wasm-firmware/image"
)

var i32 = []api.ValueType{api.ValueTypeI32}

func nop(context.Context, api.Module, []uint64) {}

func increment(_ context.Context, _ api.Module, stack []uint64) {
	stack[0] = uint64(uint32(stack[0]) + 1)
}

type envHost struct{}

func (envHost) Namespace() string { return "env" }

func (envHost) Functions() []Function {
	return []Function{
		{Name: "increment", Signature: Sig(i32, api.ValueTypeI32), Func: increment},
		{Name: "tick", Signature: Sig(nil), Func: nop},
	}
}

func TestRegister_Resolve(t *testing.T) {
	for _, frozen := range []bool{false, true} {
		t.Run(fmt.Sprintf("frozen=%v", frozen), func(t *testing.T) {
			r := NewRegistry(8)
			if err := r.RegisterHost(envHost{}); err != nil {
				t.Fatal(err)
			}
			if err := r.Register("board", "led", Sig(i32), nop); err != nil {
				t.Fatal(err)
			}
			if frozen {
				r.Freeze()
			}

			e, err := r.Resolve("env", "increment")
			if err != nil {
				t.Fatal(err)
			}
			if e.Key() != "env.increment" || !e.Signature.Equal(Sig(i32, api.ValueTypeI32)) {
				t.Errorf("entry = %s %s", e.Key(), e.Signature)
			}

			if _, err := r.Resolve("board", "led"); err != nil {
				t.Error(err)
			}
			_, err = r.Resolve("env", "missing")
			if !errors.IsKind(err, errors.KindUnresolved) {
				t.Errorf("err = %v, want unresolved", err)
			}
		})
	}
}

func TestRegister_DuplicateKeepsFirst(t *testing.T) {
	r := NewRegistry(4)
	if err := r.Register("env", "increment", Sig(i32, api.ValueTypeI32), increment); err != nil {
		t.Fatal(err)
	}
	err := r.Register("env", "increment", Sig(nil), nop)
	if !errors.IsKind(err, errors.KindDuplicateImport) {
		t.Fatalf("err = %v, want duplicate_import", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}

	r.Freeze()
	e, err := r.Resolve("env", "increment")
	if err != nil {
		t.Fatal(err)
	}
	if len(e.Signature.Params) != 1 {
		t.Error("first registration must stay resolvable")
	}
}

func TestRegister_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		fn        string
		sig       Signature
		handler   api.GoModuleFunc
	}{
		{"empty namespace", "", "f", Sig(nil), nop},
		{"empty name", "env", "", Sig(nil), nop},
		{"nil handler", "env", "f", Sig(nil), nil},
		{"externref param", "env", "f", Sig([]api.ValueType{api.ValueTypeExternref}), nop},
		{"v128 result", "env", "f", Sig(nil, 0x7b), nop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(4)
			err := r.Register(tt.namespace, tt.fn, tt.sig, tt.handler)
			if !errors.IsKind(err, errors.KindInvalidInput) {
				t.Errorf("err = %v, want invalid_input", err)
			}
			if r.Len() != 0 {
				t.Error("rejected entry must not be stored")
			}
		})
	}
}

func TestRegister_Full(t *testing.T) {
	r := NewRegistry(1)
	if err := r.Register("env", "a", Sig(nil), nop); err != nil {
		t.Fatal(err)
	}
	err := r.Register("env", "b", Sig(nil), nop)
	if !errors.IsKind(err, errors.KindRegistryFull) {
		t.Errorf("err = %v, want registry_full", err)
	}
}

func TestRegister_AfterFreeze(t *testing.T) {
	r := NewRegistry(4)
	r.Freeze()
	r.Freeze()
	if !r.Frozen() {
		t.Fatal("Frozen = false")
	}
	err := r.Register("env", "a", Sig(nil), nop)
	if !errors.IsKind(err, errors.KindFrozen) {
		t.Errorf("err = %v, want frozen", err)
	}
}

func TestFreeze_Sorted(t *testing.T) {
	r := NewRegistry(8)
	for _, k := range [][2]string{{"env", "z"}, {"board", "b"}, {"env", "a"}, {"board", "a"}} {
		if err := r.Register(k[0], k[1], Sig(nil), nop); err != nil {
			t.Fatal(err)
		}
	}
	r.Freeze()

	var keys []string
	for _, e := range r.Entries() {
		keys = append(keys, e.Key())
	}
	want := []string{"board.a", "board.b", "env.a", "env.z"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
	for _, k := range want {
		ns, name, _ := strings.Cut(k, ".")
		if _, err := r.Resolve(ns, name); err != nil {
			t.Errorf("Resolve(%s): %v", k, err)
		}
	}
}

func checkModule() *image.Info {
	b := image.NewBuilder()
	b.ImportFunc("env", "increment", image.Sig([]image.ValType{image.I32}, image.I32))
	b.ImportFunc("env", "log", image.Sig([]image.ValType{image.I32, image.I32}))
	b.ImportFunc("wasi_snapshot_preview1", "proc_exit", image.Sig([]image.ValType{image.I32}))
	b.ImportFunc("env", "missing", image.Sig(nil))
	info, err := image.Inspect(b.Bytes())
	if err != nil {
		panic(err)
	}
	return info
}

func TestCheck(t *testing.T) {
	info := checkModule()

	t.Run("all unresolved listed", func(t *testing.T) {
		r := NewRegistry(4)
		_ = r.Register("env", "increment", Sig(i32, api.ValueTypeI32), increment)
		r.Freeze()

		err := r.Check(info)
		if !errors.IsKind(err, errors.KindUnresolved) {
			t.Fatalf("err = %v, want unresolved", err)
		}
		var missing *errors.MissingImportsError
		if !stderrors.As(err, &missing) {
			t.Fatalf("err = %v, want MissingImportsError cause", err)
		}
		if len(missing.Imports) != 3 {
			t.Errorf("missing = %+v, want 3 imports", missing.Imports)
		}
		var e *errors.Error
		stderrors.As(err, &e)
		if e.Import != "env.log" {
			t.Errorf("first unresolved = %q, want env.log", e.Import)
		}
	})

	t.Run("signature mismatch", func(t *testing.T) {
		r := NewRegistry(4)
		_ = r.Register("env", "increment", Sig([]api.ValueType{api.ValueTypeI64}, api.ValueTypeI32), increment)
		_ = r.Register("env", "log", Sig([]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}), nop)
		_ = r.Register("env", "missing", Sig(nil), nop)
		r.Freeze()

		err := r.Check(info, "wasi_snapshot_preview1")
		if !errors.IsKind(err, errors.KindSignatureMismatch) {
			t.Fatalf("err = %v, want signature_mismatch", err)
		}
		var e *errors.Error
		stderrors.As(err, &e)
		if e.Import != "env.increment" {
			t.Errorf("import = %q", e.Import)
		}
	})

	t.Run("resolved", func(t *testing.T) {
		r := NewRegistry(4)
		_ = r.Register("env", "increment", Sig(i32, api.ValueTypeI32), increment)
		_ = r.Register("env", "log", Sig([]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}), nop)
		_ = r.Register("env", "missing", Sig(nil), nop)
		r.Freeze()

		if err := r.Check(info, "wasi_snapshot_preview1"); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("memory import unresolved", func(t *testing.T) {
		b := image.NewBuilder()
		b.ImportMemory("env", "memory", image.Limits{Min: 1})
		mi, _ := image.Inspect(b.Bytes())

		r := NewRegistry(1)
		r.Freeze()
		if err := r.Check(mi); !errors.IsKind(err, errors.KindUnresolved) {
			t.Errorf("err = %v, want unresolved", err)
		}
	})
}

func TestBind(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer rt.Close(ctx)

	r := NewRegistry(4)
	if err := r.Bind(ctx, rt); !errors.IsKind(err, errors.KindInvalidState) {
		t.Fatalf("Bind before Freeze: %v", err)
	}
	if err := r.RegisterHost(envHost{}); err != nil {
		t.Fatal(err)
	}
	r.Freeze()
	if err := r.Bind(ctx, rt); err != nil {
		t.Fatal(err)
	}

	b := image.NewBuilder()
	inc := b.ImportFunc("env", "increment", image.Sig([]image.ValType{image.I32}, image.I32))
	run := b.Func(image.Sig(nil, image.I32), nil, image.Body(image.I32Const(41), image.Call(inc)))
	b.ExportFunc("run", run)

	mod, err := rt.Instantiate(ctx, b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	res, err := mod.ExportedFunction("run").Call(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if uint32(res[0]) != 42 {
		t.Errorf("run() = %d, want 42", res[0])
	}
}
