package image

import (
	"fmt"
)

// Opcodes referenced by the walker, the instrumenter and the builder.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpIf          byte = 0x04
	OpElse        byte = 0x05
	OpEnd         byte = 0x0B
	OpBr          byte = 0x0C
	OpBrIf        byte = 0x0D
	OpBrTable     byte = 0x0E
	OpReturn      byte = 0x0F
	OpCall        byte = 0x10
	OpDrop        byte = 0x1A
	OpSelect      byte = 0x1B

	OpLocalGet  byte = 0x20
	OpLocalSet  byte = 0x21
	OpLocalTee  byte = 0x22
	OpGlobalGet byte = 0x23
	OpGlobalSet byte = 0x24

	OpI32Load    byte = 0x28
	OpI64Load    byte = 0x29
	OpF32Load    byte = 0x2A
	OpF64Load    byte = 0x2B
	OpI32Load8U  byte = 0x2D
	OpI32Store   byte = 0x36
	OpI64Store   byte = 0x37
	OpF32Store   byte = 0x38
	OpF64Store   byte = 0x39
	OpI32Store8  byte = 0x3A
	OpI32Store16 byte = 0x3B
	OpI64Store8  byte = 0x3C
	OpI64Store16 byte = 0x3D
	OpI64Store32 byte = 0x3E
	OpMemorySize byte = 0x3F
	OpMemoryGrow byte = 0x40

	OpI32Const byte = 0x41
	OpI64Const byte = 0x42
	OpF32Const byte = 0x43
	OpF64Const byte = 0x44

	OpI32Eqz  byte = 0x45
	OpI32Eq   byte = 0x46
	OpI32LtU  byte = 0x49
	OpI64GtU  byte = 0x56
	OpI32Add  byte = 0x6A
	OpI32Sub  byte = 0x6B
	OpI32Mul  byte = 0x6C
	OpI32DivU byte = 0x6E
	OpI64Add  byte = 0x7C
	OpI64Shl  byte = 0x86

	OpI64ExtendI32U byte = 0xAD

	opPrefixMisc   byte = 0xFC
	opPrefixSIMD   byte = 0xFD
	opPrefixThread byte = 0xFE
)

// Prefixed sub-opcodes.
const (
	miscMemoryInit uint32 = 8
	miscMemoryCopy uint32 = 10
	miscMemoryFill uint32 = 11

	simdV128Const uint32 = 12
)

// instr is one decoded instruction. Only the memarg of loads and stores and
// the memory indices of bulk memory instructions are retained; other
// immediates are skipped.
type instr struct {
	op    byte
	sub   uint32 // 0xFC or 0xFD sub-opcode
	start int
	end   int

	align     uint32
	memIdx    uint32
	offset    uint64
	hasMemArg bool

	srcMemIdx uint32 // memory.copy
}

// nextInstr decodes the instruction at r's position.
func nextInstr(r *reader) (instr, error) {
	in := instr{start: r.pos}
	op, err := r.readByte()
	if err != nil {
		return in, err
	}
	in.op = op

	switch {
	case op == OpBlock || op == OpLoop || op == OpIf:
		err = skipBlockType(r)

	case op == OpBr || op == OpBrIf:
		_, err = r.u32()

	case op == OpBrTable:
		var n uint32
		if n, err = r.u32(); err == nil {
			err = skipU32s(r, int(n)+1)
		}

	case op == OpCall, op == 0x12, op == 0x14, op == 0x15:
		_, err = r.u32()

	case op == 0x11, op == 0x13:
		err = skipU32s(r, 2)

	case op == 0x1C:
		var n uint32
		if n, err = r.u32(); err == nil {
			_, err = r.bytes(int(n))
		}

	case op >= OpLocalGet && op <= 0x26:
		_, err = r.u32()

	case op >= OpI32Load && op <= OpI64Store32:
		err = readMemArg(r, &in)

	case op == OpMemorySize || op == OpMemoryGrow:
		_, err = r.u32()

	case op == OpI32Const, op == OpI64Const:
		_, err = r.s64()

	case op == OpF32Const:
		_, err = r.bytes(4)

	case op == OpF64Const:
		_, err = r.bytes(8)

	case op >= OpI32Eqz && op <= 0xC4:

	case op == 0xD0:
		_, err = r.s64()

	case op == 0xD2, op == 0xD4, op == 0xD6:
		_, err = r.u32()

	case op == OpUnreachable, op == OpNop, op == OpElse, op == OpEnd,
		op == OpReturn, op == OpDrop, op == OpSelect, op == 0xD1, op == 0xD3:

	case op == opPrefixMisc:
		err = readMisc(r, &in)

	case op == opPrefixSIMD:
		err = readSIMD(r, &in)

	case op == opPrefixThread:
		return in, fmt.Errorf("%w: opcode prefix 0x%02x", ErrUnsupported, op)

	default:
		return in, fmt.Errorf("%w: opcode 0x%02x", ErrUnsupported, op)
	}
	if err != nil {
		return in, fmt.Errorf("opcode 0x%02x at %d: %w", op, in.start, err)
	}
	in.end = r.pos
	return in, nil
}

func skipBlockType(r *reader) error {
	b, err := r.peek()
	if err != nil {
		return err
	}
	if b == 0x40 || isValType(b) {
		r.pos++
		return nil
	}
	_, err = r.s64()
	return err
}

func skipU32s(r *reader, n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.u32(); err != nil {
			return err
		}
	}
	return nil
}

func readMemArg(r *reader, in *instr) error {
	var err error
	if in.align, err = r.u32(); err != nil {
		return err
	}
	if in.align&0x40 != 0 {
		if in.memIdx, err = r.u32(); err != nil {
			return err
		}
	}
	if in.offset, err = r.u64(); err != nil {
		return err
	}
	in.hasMemArg = true
	return nil
}

func readMisc(r *reader, in *instr) error {
	sub, err := r.u32()
	if err != nil {
		return err
	}
	in.sub = sub
	switch {
	case sub <= 7:
		return nil
	case sub == miscMemoryInit:
		if _, err = r.u32(); err != nil {
			return err
		}
		in.memIdx, err = r.u32()
		return err
	case sub == miscMemoryCopy:
		if in.memIdx, err = r.u32(); err != nil {
			return err
		}
		in.srcMemIdx, err = r.u32()
		return err
	case sub == miscMemoryFill:
		in.memIdx, err = r.u32()
		return err
	case sub == 12, sub == 14:
		return skipU32s(r, 2)
	case sub == 9, sub == 13, sub >= 15 && sub <= 17:
		return skipU32s(r, 1)
	default:
		return fmt.Errorf("%w: misc opcode %d", ErrUnsupported, sub)
	}
}

// readSIMD accepts v128.const, the only vector instruction allowed in constant
// expressions. Any other vector instruction is ErrUnsupported.
func readSIMD(r *reader, in *instr) error {
	sub, err := r.u32()
	if err != nil {
		return err
	}
	in.sub = sub
	if sub != simdV128Const {
		return fmt.Errorf("%w: vector opcode %d", ErrUnsupported, sub)
	}
	_, err = r.bytes(16)
	return err
}

// bulkAccess reports whether in is a bulk memory instruction on memory 0 and
// whether its second operand is also an address in that memory.
func (in instr) bulkAccess() (ok, src bool) {
	if in.op != opPrefixMisc || in.memIdx != 0 {
		return false, false
	}
	switch in.sub {
	case miscMemoryInit, miscMemoryFill:
		return true, false
	case miscMemoryCopy:
		return in.srcMemIdx == 0, true
	}
	return false, false
}

// accessWidth returns the byte width of a load or store and, for stores, the
// type of the value operand.
func accessWidth(op byte) (width uint64, store bool, value ValType) {
	switch op {
	case 0x28, 0x2A, 0x34, 0x35:
		return 4, false, 0
	case 0x29, 0x2B:
		return 8, false, 0
	case 0x2C, 0x2D, 0x30, 0x31:
		return 1, false, 0
	case 0x2E, 0x2F, 0x32, 0x33:
		return 2, false, 0
	case OpI32Store:
		return 4, true, I32
	case OpI64Store:
		return 8, true, I64
	case OpF32Store:
		return 4, true, F32
	case OpF64Store:
		return 8, true, F64
	case OpI32Store8:
		return 1, true, I32
	case OpI32Store16:
		return 2, true, I32
	case OpI64Store8:
		return 1, true, I64
	case OpI64Store16:
		return 2, true, I64
	case OpI64Store32:
		return 4, true, I64
	}
	return 0, false, 0
}
