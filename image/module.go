package image

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Magic and Version open every core module binary.
var (
	Magic   = []byte{0x00, 0x61, 0x73, 0x6D}
	Version = []byte{0x01, 0x00, 0x00, 0x00}
)

// Section IDs.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// External kinds used by imports and exports.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
	KindTag    byte = 0x04
)

// PageSize is the size of one linear memory page.
const PageSize = 65536

// ValType is a value type byte.
type ValType byte

const (
	I32       ValType = 0x7F
	I64       ValType = 0x7E
	F32       ValType = 0x7D
	F64       ValType = 0x7C
	V128      ValType = 0x7B
	FuncRef   ValType = 0x70
	ExternRef ValType = 0x6F
)

func (v ValType) String() string {
	switch v {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case V128:
		return "v128"
	case FuncRef:
		return "funcref"
	case ExternRef:
		return "externref"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(v))
	}
}

func isValType(b byte) bool {
	switch ValType(b) {
	case I32, I64, F32, F64, V128, FuncRef, ExternRef:
		return true
	}
	return false
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures have the same arity and value kinds.
func (f FuncType) Equal(o FuncType) bool {
	return bytes.Equal(valBytes(f.Params), valBytes(o.Params)) &&
		bytes.Equal(valBytes(f.Results), valBytes(o.Results))
}

func (f FuncType) String() string {
	return "(" + joinTypes(f.Params) + ") -> (" + joinTypes(f.Results) + ")"
}

func joinTypes(ts []ValType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

func valBytes(ts []ValType) []byte {
	b := make([]byte, len(ts))
	for i, t := range ts {
		b[i] = byte(t)
	}
	return b
}

// Limits bound a memory or table, in pages or elements.
type Limits struct {
	Min    uint64
	Max    uint64
	HasMax bool
	Shared bool
	Is64   bool
}

// Section is a raw section: its ID and payload without the size prefix.
type Section struct {
	Data []byte
	ID   byte
}

// ErrUnsupported is returned for binary features this package does not walk.
var ErrUnsupported = errors.New("unsupported module feature")

// Split validates the preamble and returns the sections in file order.
// Payloads alias img.
func Split(img []byte) ([]Section, error) {
	if len(img) < 8 || !bytes.Equal(img[:4], Magic) {
		return nil, fmt.Errorf("invalid magic number")
	}
	if !bytes.Equal(img[4:8], Version) {
		return nil, fmt.Errorf("unsupported binary version %x", img[4:8])
	}

	r := newReader(img[8:])
	var sections []Section
	for r.remaining() > 0 {
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("section %d size: %w", id, err)
		}
		data, err := r.bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("section %d truncated: %w", id, err)
		}
		sections = append(sections, Section{ID: id, Data: data})
	}
	return sections, nil
}

// Join encodes sections back into a module binary.
func Join(sections []Section) []byte {
	size := 8
	for _, s := range sections {
		size += 6 + len(s.Data)
	}
	out := make([]byte, 0, size)
	out = append(out, Magic...)
	out = append(out, Version...)
	for _, s := range sections {
		out = append(out, s.ID)
		out = appendU32(out, uint32(len(s.Data)))
		out = append(out, s.Data...)
	}
	return out
}

// sectionRank orders known sections as the binary format requires.
func sectionRank(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 0
	}
}

// insertSection places s before the first known section that must follow it.
func insertSection(sections []Section, s Section) []Section {
	rank := sectionRank(s.ID)
	at := len(sections)
	for i, existing := range sections {
		if r := sectionRank(existing.ID); r > rank {
			at = i
			break
		}
	}
	sections = append(sections, Section{})
	copy(sections[at+1:], sections[at:])
	sections[at] = s
	return sections
}

func readLimits(r *reader) (Limits, error) {
	flags, err := r.readByte()
	if err != nil {
		return Limits{}, err
	}
	if flags > 0x07 {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}
	l := Limits{
		HasMax: flags&0x01 != 0,
		Shared: flags&0x02 != 0,
		Is64:   flags&0x04 != 0,
	}
	if l.Min, err = r.u64(); err != nil {
		return Limits{}, err
	}
	if l.HasMax {
		if l.Max, err = r.u64(); err != nil {
			return Limits{}, err
		}
	}
	return l, nil
}

func appendLimits(dst []byte, l Limits) []byte {
	var flags byte
	if l.HasMax {
		flags |= 0x01
	}
	if l.Shared {
		flags |= 0x02
	}
	if l.Is64 {
		flags |= 0x04
	}
	dst = append(dst, flags)
	dst = appendU64(dst, l.Min)
	if l.HasMax {
		dst = appendU64(dst, l.Max)
	}
	return dst
}

// readValType reads a single-byte value type. Typed references are not walked.
func readValType(r *reader) (ValType, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, err
	}
	if !isValType(b) {
		return 0, fmt.Errorf("%w: value type 0x%02x", ErrUnsupported, b)
	}
	return ValType(b), nil
}

func readValTypes(r *reader) ([]ValType, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(n) > r.remaining() {
		return nil, fmt.Errorf("value type count %d exceeds section", n)
	}
	ts := make([]ValType, n)
	for i := range ts {
		if ts[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

func appendValTypes(dst []byte, ts []ValType) []byte {
	dst = appendU32(dst, uint32(len(ts)))
	for _, t := range ts {
		dst = append(dst, byte(t))
	}
	return dst
}
