// Package image handles WebAssembly module images at the binary level.
//
// The firmware never copies or mutates the bundled image. This package reads it
// to answer the questions the interpreter does not: which imports the module
// declares with which signatures, and how much linear memory it needs before
// anything is instantiated. It also produces a rewritten copy with bounds
// guards in front of every linear memory access so that an out-of-bounds trap
// reports the faulting address, and it assembles small modules for tests and
// tooling.
//
//	info, err := image.Inspect(wasm)
//	for _, imp := range info.FuncImports() {
//		fmt.Println(imp.Module, imp.Name, info.Types[imp.TypeIndex])
//	}
//
// Only the core binary format is understood. Images using SIMD, threads,
// exception handling or GC types are still inspected where possible, but
// Instrument reports ErrUnsupported for them and callers keep the original.
package image
