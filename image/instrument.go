package image

import (
	"fmt"
)

// FaultAddressExport names the i64 global an instrumented module stores the
// faulting effective address into before it traps.
const FaultAddressExport = "__fault_addr"

// NoFault is the value of the fault address global while no guard has fired.
const NoFault = ^uint64(0)

// scratch locals appended to every function body, in order.
var scratchLocals = []ValType{I32, I32, I64, F32, F64, I32}

// Instrument returns a copy of img in which every load and store on memory 0
// and every bulk memory write on memory 0 is preceded by a bounds check. A
// failing check records the effective address, or the start of the offending
// range for bulk instructions, in the FaultAddressExport global and executes
// unreachable.
//
// Modules without a 32-bit memory are returned unchanged. Modules using
// instructions the walker does not understand yield ErrUnsupported.
func Instrument(img []byte) ([]byte, error) {
	info, err := Inspect(img)
	if err != nil {
		return nil, err
	}
	if info.Memory == nil || info.Memory.Is64 {
		return img, nil
	}
	if _, exists := info.Export(FaultAddressExport); exists {
		return nil, fmt.Errorf("%w: export %q already present", ErrUnsupported, FaultAddressExport)
	}

	sections, err := Split(img)
	if err != nil {
		return nil, err
	}

	global := uint32(info.ImportedGlobals() + info.Globals)
	var sawGlobal, sawExport bool
	for i := range sections {
		s := &sections[i]
		switch s.ID {
		case SectionCode:
			if s.Data, err = instrumentCode(s.Data, info, global); err != nil {
				return nil, err
			}
		case SectionGlobal:
			s.Data, err = appendEntry(s.Data, faultGlobal())
			sawGlobal = true
		case SectionExport:
			s.Data, err = appendEntry(s.Data, faultExport(global))
			sawExport = true
		}
		if err != nil {
			return nil, err
		}
	}
	if !sawGlobal {
		sections = insertSection(sections, Section{ID: SectionGlobal, Data: appendVec(nil, 1, faultGlobal())})
	}
	if !sawExport {
		sections = insertSection(sections, Section{ID: SectionExport, Data: appendVec(nil, 1, faultExport(global))})
	}
	return Join(sections), nil
}

// faultGlobal encodes (global (mut i64) (i64.const -1)).
func faultGlobal() []byte {
	return []byte{byte(I64), 0x01, OpI64Const, 0x7F, OpEnd}
}

func faultExport(global uint32) []byte {
	b := appendName(nil, FaultAddressExport)
	b = append(b, KindGlobal)
	return appendU32(b, global)
}

// appendEntry adds one encoded entry to a vector section.
func appendEntry(data, entry []byte) ([]byte, error) {
	r := newReader(data)
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := appendU32(make([]byte, 0, len(data)+len(entry)+1), n+1)
	out = append(out, data[r.pos:]...)
	return append(out, entry...), nil
}

func instrumentCode(data []byte, info *Info, global uint32) ([]byte, error) {
	r := newReader(data)
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(n) != len(info.Functions) {
		return nil, fmt.Errorf("code section has %d bodies for %d functions", n, len(info.Functions))
	}

	out := appendU32(make([]byte, 0, len(data)*2), n)
	for i := uint32(0); i < n; i++ {
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		body, err := r.bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("function %d body: %w", i, err)
		}
		typeIdx := info.Functions[i]
		if int(typeIdx) >= len(info.Types) {
			return nil, fmt.Errorf("function %d: type index %d out of range", i, typeIdx)
		}
		rewritten, err := instrumentBody(body, uint32(len(info.Types[typeIdx].Params)), global)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		out = appendU32(out, uint32(len(rewritten)))
		out = append(out, rewritten...)
	}
	return out, nil
}

func instrumentBody(body []byte, params, global uint32) ([]byte, error) {
	r := newReader(body)
	groups, err := r.u32()
	if err != nil {
		return nil, err
	}

	locals := make([]byte, 0, 16)
	base := params
	for g := uint32(0); g < groups; g++ {
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		t, err := readValType(r)
		if err != nil {
			return nil, err
		}
		base += count
		locals = appendU32(locals, count)
		locals = append(locals, byte(t))
	}

	out := make([]byte, 0, len(body)*3)
	out = appendU32(out, groups+uint32(len(scratchLocals)))
	out = append(out, locals...)
	for _, t := range scratchLocals {
		out = append(out, 0x01, byte(t))
	}

	g := guard{
		addr:   base,
		global: global,
		values: map[ValType]uint32{I32: base + 1, I64: base + 2, F32: base + 3, F64: base + 4},
		count:  base + 5,
	}
	for r.remaining() > 0 {
		in, err := nextInstr(r)
		if err != nil {
			return nil, err
		}
		if in.hasMemArg && in.memIdx == 0 {
			out = g.emit(out, in)
		} else if ok, src := in.bulkAccess(); ok {
			out = g.emitBulk(out, src)
		}
		out = append(out, body[in.start:in.end]...)
	}
	return out, nil
}

// guard emits bounds checks using the scratch locals of one function.
type guard struct {
	values map[ValType]uint32
	addr   uint32
	count  uint32
	global uint32
}

// emit writes the check for a memory access. The operand stack is the same
// before and after the emitted code.
func (g guard) emit(out []byte, in instr) []byte {
	width, store, value := accessWidth(in.op)
	if store {
		out = append(out, OpLocalSet)
		out = appendU32(out, g.values[value])
	}

	// if (u64(addr) + offset + width > memory.size << 16)
	out = append(out, OpLocalTee)
	out = appendU32(out, g.addr)
	out = append(out, OpI64ExtendI32U, OpI64Const)
	out = appendS64(out, int64(in.offset+width))
	out = append(out, OpI64Add,
		OpMemorySize, 0x00, OpI64ExtendI32U,
		OpI64Const, 16, OpI64Shl,
		OpI64GtU,
		OpIf, 0x40)

	// fault = u64(addr) + offset; unreachable
	out = append(out, OpLocalGet)
	out = appendU32(out, g.addr)
	out = append(out, OpI64ExtendI32U, OpI64Const)
	out = appendS64(out, int64(in.offset))
	out = append(out, OpI64Add, OpGlobalSet)
	out = appendU32(out, g.global)
	out = append(out, OpUnreachable, OpEnd)

	out = append(out, OpLocalGet)
	out = appendU32(out, g.addr)
	if store {
		out = append(out, OpLocalGet)
		out = appendU32(out, g.values[value])
	}
	return out
}

// emitBulk writes the checks for memory.init, memory.copy and memory.fill,
// whose operands are (dst, src or value, n). The destination is checked
// first, then the source of a copy.
func (g guard) emitBulk(out []byte, src bool) []byte {
	second := g.values[I32]
	out = append(out, OpLocalSet)
	out = appendU32(out, g.count)
	out = append(out, OpLocalSet)
	out = appendU32(out, second)
	out = append(out, OpLocalSet)
	out = appendU32(out, g.addr)

	out = g.emitRange(out, g.addr)
	if src {
		out = g.emitRange(out, second)
	}

	for _, l := range []uint32{g.addr, second, g.count} {
		out = append(out, OpLocalGet)
		out = appendU32(out, l)
	}
	return out
}

// emitRange traps, recording the start address, when start+n runs past the
// end of memory.
func (g guard) emitRange(out []byte, start uint32) []byte {
	// if (u64(start) + u64(n) > memory.size << 16)
	out = append(out, OpLocalGet)
	out = appendU32(out, start)
	out = append(out, OpI64ExtendI32U, OpLocalGet)
	out = appendU32(out, g.count)
	out = append(out, OpI64ExtendI32U, OpI64Add,
		OpMemorySize, 0x00, OpI64ExtendI32U,
		OpI64Const, 16, OpI64Shl,
		OpI64GtU,
		OpIf, 0x40)

	// fault = u64(start); unreachable
	out = append(out, OpLocalGet)
	out = appendU32(out, start)
	out = append(out, OpI64ExtendI32U, OpGlobalSet)
	out = appendU32(out, g.global)
	return append(out, OpUnreachable, OpEnd)
}
