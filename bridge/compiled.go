package bridge

import (
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-firmware/image"
)

// noType marks a defined function whose signature the interpreter did not
// expose. FuncType reports it as unknown.
const noType = ^uint32(0)

// infoFromCompiled rebuilds the parts of image.Info the bridge relies on from
// interpreter metadata: function imports, memory 0 and function exports.
// Only exported defined functions get a signature.
func infoFromCompiled(c wazero.CompiledModule) *image.Info {
	info := &image.Info{}
	typeOf := func(def api.FunctionDefinition) uint32 {
		ft := image.FuncType{Params: valTypes(def.ParamTypes()), Results: valTypes(def.ResultTypes())}
		for i, t := range info.Types {
			if t.Equal(ft) {
				return uint32(i)
			}
		}
		info.Types = append(info.Types, ft)
		return uint32(len(info.Types) - 1)
	}

	imported := c.ImportedFunctions()
	for _, def := range imported {
		mod, name, _ := def.Import()
		info.Imports = append(info.Imports, image.Import{
			Module:    mod,
			Name:      name,
			Kind:      image.KindFunc,
			TypeIndex: typeOf(def),
		})
	}

	for _, def := range c.ImportedMemories() {
		mod, name, _ := def.Import()
		l := limits(def)
		info.Imports = append(info.Imports, image.Import{Module: mod, Name: name, Kind: image.KindMemory, Limits: l})
		info.Memory = &l
		info.MemoryFrom = mod + "." + name
	}
	if info.Memory == nil {
		mems := c.ExportedMemories()
		for _, name := range sortedKeys(mems) {
			l := limits(mems[name])
			info.Memory = &l
			break
		}
	}

	funcs := c.ExportedFunctions()
	for _, name := range sortedKeys(funcs) {
		def := funcs[name]
		info.Exports = append(info.Exports, image.Export{Name: name, Kind: image.KindFunc, Index: def.Index()})
		if _, _, isImport := def.Import(); isImport {
			continue
		}
		slot := int(def.Index()) - len(imported)
		for len(info.Functions) <= slot {
			info.Functions = append(info.Functions, noType)
		}
		info.Functions[slot] = typeOf(def)
	}
	return info
}

func valTypes(ts []api.ValueType) []image.ValType {
	out := make([]image.ValType, len(ts))
	for i, t := range ts {
		out[i] = image.ValType(t)
	}
	return out
}

func limits(def api.MemoryDefinition) image.Limits {
	l := image.Limits{Min: uint64(def.Min())}
	if n, ok := def.Max(); ok {
		l.Max = uint64(n)
		l.HasMax = true
	}
	return l
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
