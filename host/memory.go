package host

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-firmware/errors"
)

// The accessors below panic instead of returning errors: they run inside host
// functions, where the interpreter recovers the panic and fails the guest call
// with it. The panic value is a KindTrap/out_of_bounds *errors.Error carrying
// the offending guest address.

// Read copies length bytes at guest offset ptr.
func Read(mod api.Module, ptr, length uint32) []byte {
	mem := memoryFor(mod, ptr, length)
	view, ok := mem.Read(ptr, length)
	if !ok {
		panic(errors.OutOfBounds(errors.PhaseHost, uint64(ptr), length, mem.Size()))
	}
	out := make([]byte, length)
	copy(out, view)
	return out
}

// ReadString reads a UTF-8 string of length bytes at guest offset ptr.
func ReadString(mod api.Module, ptr, length uint32) string {
	return string(Read(mod, ptr, length))
}

// Write copies data to guest offset ptr.
func Write(mod api.Module, ptr uint32, data []byte) {
	mem := memoryFor(mod, ptr, uint32(len(data)))
	if !mem.Write(ptr, data) {
		panic(errors.OutOfBounds(errors.PhaseHost, uint64(ptr), uint32(len(data)), mem.Size()))
	}
}

// ReadUint32 reads a little-endian u32 at guest offset ptr.
func ReadUint32(mod api.Module, ptr uint32) uint32 {
	mem := memoryFor(mod, ptr, 4)
	v, ok := mem.ReadUint32Le(ptr)
	if !ok {
		panic(errors.OutOfBounds(errors.PhaseHost, uint64(ptr), 4, mem.Size()))
	}
	return v
}

// WriteUint32 writes a little-endian u32 at guest offset ptr.
func WriteUint32(mod api.Module, ptr, v uint32) {
	mem := memoryFor(mod, ptr, 4)
	if !mem.WriteUint32Le(ptr, v) {
		panic(errors.OutOfBounds(errors.PhaseHost, uint64(ptr), 4, mem.Size()))
	}
}

// memoryFor returns the caller's memory after checking that [ptr, ptr+length)
// lies inside it.
func memoryFor(mod api.Module, ptr, length uint32) api.Memory {
	mem := mod.Memory()
	if mem == nil {
		panic(errors.OutOfBounds(errors.PhaseHost, uint64(ptr), length, 0))
	}
	if uint64(ptr)+uint64(length) > uint64(mem.Size()) {
		panic(errors.OutOfBounds(errors.PhaseHost, uint64(ptr), length, mem.Size()))
	}
	return mem
}
