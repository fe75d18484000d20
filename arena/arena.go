// Package arena implements the static memory arena: a fixed region handed out
// monotonically to the interpreter and the guest's linear memory.
//
// There is no free. Handles stay valid until reset, which on the target only
// happens by hardware reset.
package arena

import (
	"github.com/wippyai/wasm-firmware/errors"
)

// Handle identifies a region inside the arena. The zero-size handle is valid
// but must never be dereferenced.
type Handle struct {
	off  uint64
	size uint64
}

// Offset returns the region's start offset within the arena.
func (h Handle) Offset() uint64 { return h.off }

// Size returns the region's length in bytes.
func (h Handle) Size() uint64 { return h.size }

// End returns the offset one past the region.
func (h Handle) End() uint64 { return h.off + h.size }

// Stats is a snapshot of arena consumption.
type Stats struct {
	Capacity    uint64
	Used        uint64
	Allocations int
	Largest     uint64
}

// Arena is a bump allocator over a fixed byte region.
// It is owned by a single boot pipeline and is not safe for concurrent use.
type Arena struct {
	region  []byte
	used    uint64
	tail    Handle
	count   int
	largest uint64
	linear  *LinearMemory
}

// New creates an arena backed by a fresh region of the given capacity.
func New(capacity uint64) (*Arena, error) {
	if capacity == 0 {
		return nil, errors.InvalidInput(errors.PhaseArena, "arena capacity must be positive")
	}
	return &Arena{region: make([]byte, capacity)}, nil
}

// FromRegion creates an arena over a statically declared region.
// The region is used in place, not copied.
func FromRegion(region []byte) (*Arena, error) {
	if len(region) == 0 {
		return nil, errors.InvalidInput(errors.PhaseArena, "arena region is empty")
	}
	return &Arena{region: region}, nil
}

// Capacity returns the arena size in bytes.
func (a *Arena) Capacity() uint64 { return uint64(len(a.region)) }

// Used returns the number of bytes consumed, including alignment padding.
func (a *Arena) Used() uint64 { return a.used }

// Remaining returns the number of unclaimed bytes.
func (a *Arena) Remaining() uint64 { return a.Capacity() - a.used }

// Fits reports whether an allocation of size bytes at align would succeed.
func (a *Arena) Fits(size uint64, align uint32) bool {
	start, ok := alignUp(a.used, align)
	return ok && start <= a.Capacity() && size <= a.Capacity()-start
}

// Allocate claims size bytes aligned to align (a power of two; 0 means 1).
// A request that does not fit fails with KindOutOfArena and leaves the arena
// unchanged.
func (a *Arena) Allocate(size uint64, align uint32) (Handle, error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return Handle{}, errors.InvalidInput(errors.PhaseArena, "alignment must be a power of two")
	}
	if !a.Fits(size, align) {
		return Handle{}, errors.OutOfArena(errors.PhaseArena, size, align, a.Remaining())
	}

	start, _ := alignUp(a.used, align)
	h := Handle{off: start, size: size}
	a.used = start + size
	a.tail = h
	a.count++
	if size > a.largest {
		a.largest = size
	}
	return h, nil
}

// Extend grows the most recent allocation in place to size bytes.
// Only the tail can grow; shrinking is a no-op that keeps the claim.
func (a *Arena) Extend(h Handle, size uint64) (Handle, error) {
	if h != a.tail || a.count == 0 {
		return h, errors.InvalidInput(errors.PhaseArena, "only the most recent allocation can be extended")
	}
	if size <= h.size {
		return h, nil
	}
	if size-h.size > a.Remaining() {
		return h, errors.OutOfArena(errors.PhaseArena, size-h.size, 1, a.Remaining())
	}

	a.used = h.off + size
	a.tail = Handle{off: h.off, size: size}
	if size > a.largest {
		a.largest = size
	}
	return a.tail, nil
}

// Bytes returns the region behind h. Zero-size handles yield nil.
func (a *Arena) Bytes(h Handle) []byte {
	if h.size == 0 {
		return nil
	}
	return a.region[h.off:h.End():h.End()]
}

// Stats returns a snapshot of arena consumption.
func (a *Arena) Stats() Stats {
	return Stats{
		Capacity:    a.Capacity(),
		Used:        a.used,
		Allocations: a.count,
		Largest:     a.largest,
	}
}

// alignUp rounds off up to align, reporting overflow.
func alignUp(off uint64, align uint32) (uint64, bool) {
	if align <= 1 {
		return off, true
	}
	mask := uint64(align) - 1
	if off > ^uint64(0)-mask {
		return 0, false
	}
	return (off + mask) &^ mask, true
}
