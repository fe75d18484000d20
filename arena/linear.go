package arena

import (
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/wasm-firmware/errors"
)

// LinearMemoryAlign is the alignment of a guest linear memory claim.
const LinearMemoryAlign = 16

// MemoryAllocator returns an allocator that backs guest linear memory with
// arena bytes. Pass it to the interpreter with experimental.WithMemoryAllocator.
func (a *Arena) MemoryAllocator() experimental.MemoryAllocator {
	return experimental.MemoryAllocatorFunc(func(_, max uint64) experimental.LinearMemory {
		m := &LinearMemory{arena: a, max: max}
		a.linear = m
		return m
	})
}

// LinearMemory returns the guest memory created through MemoryAllocator, or nil.
func (a *Arena) LinearMemory() *LinearMemory { return a.linear }

// LinearMemory is a guest linear memory living at the arena's tail.
// The first Reallocate claims the initial size; later calls extend the claim
// in place so the backing bytes never move.
type LinearMemory struct {
	arena   *Arena
	handle  Handle
	max     uint64
	claimed bool
}

// Reallocate implements experimental.LinearMemory.
//
// Growth that does not fit in the arena panics with a KindOutOfArena error.
// The interpreter recovers the panic and fails the running call with it, so
// exhaustion is fatal instead of a guest-visible memory.grow failure.
func (m *LinearMemory) Reallocate(size uint64) []byte {
	if m.max > 0 && size > m.max {
		return nil
	}

	if !m.claimed {
		h, err := m.arena.Allocate(size, LinearMemoryAlign)
		if err != nil {
			panic(err)
		}
		m.handle = h
		m.claimed = true
		return m.view(size)
	}

	if size > m.handle.Size() {
		h, err := m.arena.Extend(m.handle, size)
		if err != nil {
			panic(errors.Wrap(errors.PhaseRun, errors.KindOutOfArena, err, "grow linear memory"))
		}
		m.handle = h
	}
	return m.view(size)
}

// Free implements experimental.LinearMemory. Arena claims are never released.
func (m *LinearMemory) Free() {}

// Handle returns the arena region currently backing the memory.
func (m *LinearMemory) Handle() Handle { return m.handle }

func (m *LinearMemory) view(size uint64) []byte {
	if size == 0 {
		return []byte{}
	}
	return m.arena.region[m.handle.off : m.handle.off+size : m.handle.End()]
}
