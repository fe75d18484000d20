package image

import (
	"fmt"
)

// Import is one entry of the import section.
type Import struct {
	Module    string
	Name      string
	Kind      byte
	TypeIndex uint32 // KindFunc
	Limits    Limits // KindMemory, KindTable
	Global    ValType
	Mutable   bool
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Info summarizes what the bridge needs to know before instantiation.
type Info struct {
	Types      []FuncType
	Imports    []Import
	Functions  []uint32 // type index per defined function
	Memory     *Limits  // defined or imported memory 0
	Exports    []Export
	Globals    int // defined globals
	Start      *uint32
	MemoryFrom string // "" when defined, import module.name otherwise
}

// FuncImports returns the function imports in declaration order.
func (i *Info) FuncImports() []Import {
	var out []Import
	for _, imp := range i.Imports {
		if imp.Kind == KindFunc {
			out = append(out, imp)
		}
	}
	return out
}

// ImportedFuncs returns the number of imported functions.
func (i *Info) ImportedFuncs() int {
	return i.countImports(KindFunc)
}

// ImportedGlobals returns the number of imported globals.
func (i *Info) ImportedGlobals() int {
	return i.countImports(KindGlobal)
}

func (i *Info) countImports(kind byte) int {
	n := 0
	for _, imp := range i.Imports {
		if imp.Kind == kind {
			n++
		}
	}
	return n
}

// Export looks up an export by name.
func (i *Info) Export(name string) (Export, bool) {
	for _, e := range i.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// FuncType returns the signature of function index idx in the function index
// space (imports first).
func (i *Info) FuncType(idx uint32) (FuncType, bool) {
	var typeIdx uint32
	imported := i.FuncImports()
	switch {
	case int(idx) < len(imported):
		typeIdx = imported[idx].TypeIndex
	case int(idx)-len(imported) < len(i.Functions):
		typeIdx = i.Functions[int(idx)-len(imported)]
	default:
		return FuncType{}, false
	}
	if int(typeIdx) >= len(i.Types) {
		return FuncType{}, false
	}
	return i.Types[typeIdx], true
}

// MinMemoryBytes returns the initial linear memory size the module requires.
func (i *Info) MinMemoryBytes() uint64 {
	if i.Memory == nil {
		return 0
	}
	return i.Memory.Min * PageSize
}

// Inspect decodes the sections that describe a module's interface.
// Function bodies and data are not decoded.
func Inspect(img []byte) (*Info, error) {
	sections, err := Split(img)
	if err != nil {
		return nil, err
	}

	info := &Info{}
	for _, s := range sections {
		r := newReader(s.Data)
		switch s.ID {
		case SectionType:
			err = readTypes(r, info)
		case SectionImport:
			err = readImports(r, info)
		case SectionFunction:
			err = readFunctions(r, info)
		case SectionMemory:
			err = readMemories(r, info)
		case SectionGlobal:
			err = readGlobals(r, info)
		case SectionExport:
			err = readExports(r, info)
		case SectionStart:
			var idx uint32
			if idx, err = r.u32(); err == nil {
				info.Start = &idx
			}
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", s.ID, err)
		}
	}
	return info, nil
}

func readTypes(r *reader, info *Info) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		form, err := r.readByte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return fmt.Errorf("%w: type form 0x%02x", ErrUnsupported, form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		info.Types = append(info.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func readImports(r *reader, info *Info) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		var imp Import
		if imp.Module, err = r.name(); err != nil {
			return err
		}
		if imp.Name, err = r.name(); err != nil {
			return err
		}
		if imp.Kind, err = r.readByte(); err != nil {
			return err
		}

		switch imp.Kind {
		case KindFunc:
			imp.TypeIndex, err = r.u32()
		case KindTable:
			if _, err = readValType(r); err == nil {
				imp.Limits, err = readLimits(r)
			}
		case KindMemory:
			imp.Limits, err = readLimits(r)
			if err == nil && info.Memory == nil {
				l := imp.Limits
				info.Memory = &l
				info.MemoryFrom = imp.Module + "." + imp.Name
			}
		case KindGlobal:
			imp.Global, err = readValType(r)
			if err == nil {
				var mut byte
				mut, err = r.readByte()
				imp.Mutable = mut == 1
			}
		case KindTag:
			if _, err = r.readByte(); err == nil {
				imp.TypeIndex, err = r.u32()
			}
		default:
			return fmt.Errorf("import %s.%s: invalid kind 0x%02x", imp.Module, imp.Name, imp.Kind)
		}
		if err != nil {
			return fmt.Errorf("import %s.%s: %w", imp.Module, imp.Name, err)
		}
		info.Imports = append(info.Imports, imp)
	}
	return nil
}

func readFunctions(r *reader, info *Info) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		idx, err := r.u32()
		if err != nil {
			return err
		}
		info.Functions = append(info.Functions, idx)
	}
	return nil
}

func readMemories(r *reader, info *Info) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		l, err := readLimits(r)
		if err != nil {
			return err
		}
		if info.Memory == nil {
			info.Memory = &l
		}
	}
	return nil
}

func readGlobals(r *reader, info *Info) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if _, err := readValType(r); err != nil {
			return err
		}
		if _, err := r.readByte(); err != nil {
			return err
		}
		if err := skipExpr(r); err != nil {
			return err
		}
		info.Globals++
	}
	return nil
}

func readExports(r *reader, info *Info) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		var e Export
		if e.Name, err = r.name(); err != nil {
			return err
		}
		if e.Kind, err = r.readByte(); err != nil {
			return err
		}
		if e.Index, err = r.u32(); err != nil {
			return err
		}
		info.Exports = append(info.Exports, e)
	}
	return nil
}

// skipExpr walks a constant expression through its end opcode.
func skipExpr(r *reader) error {
	for {
		in, err := nextInstr(r)
		if err != nil {
			return err
		}
		if in.op == OpEnd {
			return nil
		}
	}
}
