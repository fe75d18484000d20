package bridge

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const wasiNamespace = wasi_snapshot_preview1.ModuleName

// instantiateWASI provides wasi_snapshot_preview1 unless the host registry
// already bound a module under that name.
func instantiateWASI(ctx context.Context, rt wazero.Runtime) error {
	if rt.Module(wasiNamespace) != nil {
		Logger().Debug("wasi namespace provided by host registry")
		return nil
	}
	builder := rt.NewHostModuleBuilder(wasiNamespace)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	_, err := builder.Instantiate(ctx)
	return err
}
