package bridge

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-firmware/image"
)

func TestInfoFromCompiled(t *testing.T) {
	mb := image.NewBuilder()
	inc := mb.ImportFunc("env", "increment", image.Sig(i32, image.I32))
	mb.Memory(2, 4)
	helper := mb.Func(image.Sig(i32, image.I32), nil, image.Body(image.LocalGet(0)))
	entry := mb.Func(image.Sig(nil, image.I32), nil, image.Body(image.I32Const(41), image.Call(inc), image.Call(helper)))
	mb.ExportFunc("run", entry)
	mb.ExportFunc("increment", inc)
	mb.ExportMemory("memory")
	img := mb.Bytes()

	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer rt.Close(ctx)
	compiled, err := rt.CompileModule(ctx, img)
	if err != nil {
		t.Fatal(err)
	}

	want, err := image.Inspect(img)
	if err != nil {
		t.Fatal(err)
	}
	got := infoFromCompiled(compiled)

	imports := got.FuncImports()
	if len(imports) != 1 || imports[0].Module != "env" || imports[0].Name != "increment" {
		t.Fatalf("imports = %+v", imports)
	}
	gotSig, _ := got.FuncType(0)
	wantSig, _ := want.FuncType(0)
	if !gotSig.Equal(wantSig) {
		t.Errorf("import signature = %+v, want %+v", gotSig, wantSig)
	}

	if got.MinMemoryBytes() != want.MinMemoryBytes() {
		t.Errorf("min memory = %d, want %d", got.MinMemoryBytes(), want.MinMemoryBytes())
	}
	if got.Memory == nil || !got.Memory.HasMax || got.Memory.Max != 4 {
		t.Errorf("memory = %+v", got.Memory)
	}

	for _, name := range []string{"run", "increment"} {
		g, ok := got.Export(name)
		w, _ := want.Export(name)
		if !ok || g.Index != w.Index {
			t.Errorf("export %s = %+v, want %+v", name, g, w)
		}
	}
	exp, _ := got.Export("run")
	if ft, ok := got.FuncType(exp.Index); !ok || len(ft.Params) != 0 || len(ft.Results) != 1 {
		t.Errorf("run signature = %+v, %v", ft, ok)
	}
	if _, ok := got.FuncType(helper); ok {
		t.Error("unexported function signature must be unknown")
	}
}
