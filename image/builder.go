package image

import (
	"encoding/binary"
	"math"
)

// Builder assembles small core modules. Imports must be declared before any
// function is defined so that function indices stay stable.
type Builder struct {
	types   []FuncType
	imports []byte
	nImport int
	nFuncs  int
	funcs   []uint32
	bodies  [][]byte
	memory  *Limits
	globals []byte
	nGlobal int
	exports []byte
	nExport int
	data    []byte
	nData   int
	start   *uint32
}

// NewBuilder returns an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Type interns a function type and returns its index.
func (b *Builder) Type(ft FuncType) uint32 {
	for i, t := range b.types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	b.types = append(b.types, ft)
	return uint32(len(b.types) - 1)
}

// ImportFunc declares a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, ft FuncType) uint32 {
	if len(b.funcs) > 0 {
		panic("image: ImportFunc after Func")
	}
	b.imports = appendName(b.imports, module)
	b.imports = appendName(b.imports, name)
	b.imports = append(b.imports, KindFunc)
	b.imports = appendU32(b.imports, b.Type(ft))
	b.nImport++
	b.nFuncs++
	return uint32(b.nFuncs - 1)
}

// ImportMemory declares memory 0 as an import.
func (b *Builder) ImportMemory(module, name string, l Limits) {
	b.imports = appendName(b.imports, module)
	b.imports = appendName(b.imports, name)
	b.imports = append(b.imports, KindMemory)
	b.imports = appendLimits(b.imports, l)
	b.nImport++
}

// Memory defines memory 0 with the given page limits. A negative max means
// unbounded.
func (b *Builder) Memory(min uint64, max int64) {
	l := Limits{Min: min}
	if max >= 0 {
		l.Max = uint64(max)
		l.HasMax = true
	}
	b.memory = &l
}

// Func defines a function and returns its index. body is the instruction
// sequence including the final end opcode.
func (b *Builder) Func(ft FuncType, locals []ValType, body []byte) uint32 {
	code := appendU32(nil, uint32(len(locals)))
	for _, t := range locals {
		code = append(code, 0x01, byte(t))
	}
	code = append(code, body...)

	b.funcs = append(b.funcs, b.Type(ft))
	b.bodies = append(b.bodies, code)
	b.nFuncs++
	return uint32(b.nFuncs - 1)
}

// Global defines a global initialised by the constant expression init and
// returns its index. Imported globals are not supported.
func (b *Builder) Global(t ValType, mutable bool, init []byte) uint32 {
	var mut byte
	if mutable {
		mut = 0x01
	}
	b.globals = append(b.globals, byte(t), mut)
	b.globals = append(b.globals, init...)
	b.globals = append(b.globals, OpEnd)
	b.nGlobal++
	return uint32(b.nGlobal - 1)
}

// ExportFunc exports function idx under name.
func (b *Builder) ExportFunc(name string, idx uint32) {
	b.export(name, KindFunc, idx)
}

// ExportMemory exports memory 0 under name.
func (b *Builder) ExportMemory(name string) {
	b.export(name, KindMemory, 0)
}

func (b *Builder) export(name string, kind byte, idx uint32) {
	b.exports = appendName(b.exports, name)
	b.exports = append(b.exports, kind)
	b.exports = appendU32(b.exports, idx)
	b.nExport++
}

// Data adds an active data segment for memory 0.
func (b *Builder) Data(offset uint32, payload []byte) {
	b.data = append(b.data, 0x00, OpI32Const)
	b.data = appendS64(b.data, int64(int32(offset)))
	b.data = append(b.data, OpEnd)
	b.data = appendU32(b.data, uint32(len(payload)))
	b.data = append(b.data, payload...)
	b.nData++
}

// Start marks function idx as the start function.
func (b *Builder) Start(idx uint32) {
	b.start = &idx
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	var sections []Section

	if len(b.types) > 0 {
		var body []byte
		for _, t := range b.types {
			body = append(body, 0x60)
			body = appendValTypes(body, t.Params)
			body = appendValTypes(body, t.Results)
		}
		sections = append(sections, Section{ID: SectionType, Data: appendVec(nil, len(b.types), body)})
	}
	if b.nImport > 0 {
		sections = append(sections, Section{ID: SectionImport, Data: appendVec(nil, b.nImport, b.imports)})
	}
	if len(b.funcs) > 0 {
		var body []byte
		for _, idx := range b.funcs {
			body = appendU32(body, idx)
		}
		sections = append(sections, Section{ID: SectionFunction, Data: appendVec(nil, len(b.funcs), body)})
	}
	if b.memory != nil {
		sections = append(sections, Section{ID: SectionMemory, Data: appendVec(nil, 1, appendLimits(nil, *b.memory))})
	}
	if b.nGlobal > 0 {
		sections = append(sections, Section{ID: SectionGlobal, Data: appendVec(nil, b.nGlobal, b.globals)})
	}
	if b.nExport > 0 {
		sections = append(sections, Section{ID: SectionExport, Data: appendVec(nil, b.nExport, b.exports)})
	}
	if b.start != nil {
		sections = append(sections, Section{ID: SectionStart, Data: appendU32(nil, *b.start)})
	}
	if len(b.bodies) > 0 {
		var body []byte
		for _, code := range b.bodies {
			body = appendU32(body, uint32(len(code)))
			body = append(body, code...)
		}
		sections = append(sections, Section{ID: SectionCode, Data: appendVec(nil, len(b.bodies), body)})
	}
	if b.nData > 0 {
		sections = append(sections, Section{ID: SectionData, Data: appendVec(nil, b.nData, b.data)})
	}
	return Join(sections)
}

// Sig is shorthand for a FuncType literal.
func Sig(params []ValType, results ...ValType) FuncType {
	return FuncType{Params: params, Results: results}
}

// Code concatenates instruction fragments.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Body concatenates instruction fragments and terminates the function.
func Body(parts ...[]byte) []byte {
	return append(Code(parts...), OpEnd)
}

// Op returns a sequence of opcodes without immediates.
func Op(ops ...byte) []byte { return ops }

func I32Const(v int32) []byte { return appendS64([]byte{OpI32Const}, int64(v)) }

func I64Const(v int64) []byte { return appendS64([]byte{OpI64Const}, v) }

func F64Const(v float64) []byte {
	return binary.LittleEndian.AppendUint64([]byte{OpF64Const}, math.Float64bits(v))
}

func LocalGet(idx uint32) []byte  { return appendU32([]byte{OpLocalGet}, idx) }
func LocalSet(idx uint32) []byte  { return appendU32([]byte{OpLocalSet}, idx) }
func LocalTee(idx uint32) []byte  { return appendU32([]byte{OpLocalTee}, idx) }
func GlobalGet(idx uint32) []byte { return appendU32([]byte{OpGlobalGet}, idx) }
func Call(idx uint32) []byte      { return appendU32([]byte{OpCall}, idx) }
func Br(depth uint32) []byte      { return appendU32([]byte{OpBr}, depth) }
func BrIf(depth uint32) []byte    { return appendU32([]byte{OpBrIf}, depth) }

// V128Const pushes a vector constant.
func V128Const(v [16]byte) []byte {
	return append(appendU32([]byte{opPrefixSIMD}, simdV128Const), v[:]...)
}

// MemoryFill fills n bytes of memory 0 at dst with a byte value, taking
// (dst, value, n) from the stack.
func MemoryFill() []byte { return append(appendU32([]byte{opPrefixMisc}, miscMemoryFill), 0x00) }

// MemoryCopy copies n bytes within memory 0, taking (dst, src, n) from the
// stack.
func MemoryCopy() []byte { return append(appendU32([]byte{opPrefixMisc}, miscMemoryCopy), 0x00, 0x00) }

// MemoryGrow grows memory 0 by the page count on the stack.
func MemoryGrow() []byte { return []byte{OpMemoryGrow, 0x00} }

// MemoryAccess encodes a load or store on memory 0 with natural alignment
// hint 0 and the given static offset.
func MemoryAccess(op byte, offset uint32) []byte {
	return appendU32([]byte{op, 0x00}, offset)
}

// Block wraps parts in a block with no result.
func Block(parts ...[]byte) []byte {
	return append(append([]byte{OpBlock, 0x40}, Code(parts...)...), OpEnd)
}

// Loop wraps parts in a loop with no result.
func Loop(parts ...[]byte) []byte {
	return append(append([]byte{OpLoop, 0x40}, Code(parts...)...), OpEnd)
}
