package host

import (
	"context"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-firmware/errors"
	"github.com/wippyai/wasm-firmware/image"
)

// Signature is the parameter and result kinds of a host function.
// Only numeric kinds (i32, i64, f32, f64) cross the host boundary.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Sig is shorthand for a Signature literal.
func Sig(params []api.ValueType, results ...api.ValueType) Signature {
	return Signature{Params: params, Results: results}
}

// Equal reports whether both signatures have the same arity and kinds.
func (s Signature) Equal(o Signature) bool {
	return equalKinds(s.Params, o.Params) && equalKinds(s.Results, o.Results)
}

func (s Signature) String() string {
	return "(" + kindNames(s.Params) + ") -> (" + kindNames(s.Results) + ")"
}

func (s Signature) validate() error {
	for _, k := range append(append([]api.ValueType{}, s.Params...), s.Results...) {
		switch k {
		case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
		default:
			return errors.InvalidInput(errors.PhaseRegistry, "value kind "+api.ValueTypeName(k)+" cannot cross the host boundary")
		}
	}
	return nil
}

// fromFuncType converts an image function type to a Signature. Value type
// bytes share the binary encoding.
func fromFuncType(ft image.FuncType) Signature {
	s := Signature{
		Params:  make([]api.ValueType, len(ft.Params)),
		Results: make([]api.ValueType, len(ft.Results)),
	}
	for i, t := range ft.Params {
		s.Params[i] = api.ValueType(t)
	}
	for i, t := range ft.Results {
		s.Results[i] = api.ValueType(t)
	}
	return s
}

func equalKinds(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func kindNames(ks []api.ValueType) string {
	names := make([]string, len(ks))
	for i, k := range ks {
		names[i] = api.ValueTypeName(k)
	}
	return strings.Join(names, ", ")
}

// Entry is one host function callable by the guest.
type Entry struct {
	Func      api.GoModuleFunc
	Namespace string
	Name      string
	Signature Signature
}

// Key returns the "namespace.name" form of the entry's import key.
func (e Entry) Key() string {
	return errors.ImportKey(e.Namespace, e.Name)
}

// Function is a host function provided by a Host, keyed by name within the
// host's namespace.
type Function struct {
	Func      api.GoModuleFunc
	Name      string
	Signature Signature
}

// Host is a group of host functions sharing one import namespace.
type Host interface {
	Namespace() string
	Functions() []Function
}

// Registry is a fixed-capacity table of host functions. It is populated during
// boot, frozen, then only read.
type Registry struct {
	entries []Entry
	frozen  bool
}

// NewRegistry creates a registry that holds at most capacity entries.
func NewRegistry(capacity int) *Registry {
	return &Registry{entries: make([]Entry, 0, capacity)}
}

// Len returns the number of registered entries.
func (r *Registry) Len() int { return len(r.entries) }

// Cap returns the table capacity.
func (r *Registry) Cap() int { return cap(r.entries) }

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool { return r.frozen }

// Register adds a host function. The first registration of a key wins; a
// second one fails with KindDuplicateImport and leaves the table unchanged.
func (r *Registry) Register(namespace, name string, sig Signature, fn api.GoModuleFunc) error {
	if r.frozen {
		return errors.New(errors.PhaseRegistry, errors.KindFrozen).
			Import(namespace, name).
			Detail("registry is frozen").
			Build()
	}
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseRegistry, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseRegistry, "function name cannot be empty")
	}
	if fn == nil {
		return errors.InvalidInput(errors.PhaseRegistry, "handler cannot be nil")
	}
	if err := sig.validate(); err != nil {
		return err
	}
	if _, ok := r.find(namespace, name); ok {
		return errors.DuplicateImport(namespace, name)
	}
	if len(r.entries) == cap(r.entries) {
		return errors.New(errors.PhaseRegistry, errors.KindRegistryFull).
			Import(namespace, name).
			Detail("capacity %d reached", cap(r.entries)).
			Build()
	}

	r.entries = append(r.entries, Entry{
		Namespace: namespace,
		Name:      name,
		Signature: sig,
		Func:      fn,
	})
	Logger().Debug("host function registered",
		zap.String("import", errors.ImportKey(namespace, name)),
		zap.Stringer("signature", sig))
	return nil
}

// RegisterHost registers every function h provides under h's namespace.
// It stops at the first failure; earlier functions stay registered.
func (r *Registry) RegisterHost(h Host) error {
	ns := h.Namespace()
	for _, f := range h.Functions() {
		if err := r.Register(ns, f.Name, f.Signature, f.Func); err != nil {
			return err
		}
	}
	return nil
}

// Freeze sorts the table by key and makes it read-only. Calling it again has
// no effect.
func (r *Registry) Freeze() {
	if r.frozen {
		return
	}
	sort.Slice(r.entries, func(i, j int) bool {
		a, b := r.entries[i], r.entries[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.Name < b.Name
	})
	r.frozen = true
}

// Resolve looks up a host function by its import key.
func (r *Registry) Resolve(namespace, name string) (Entry, error) {
	if i, ok := r.find(namespace, name); ok {
		return r.entries[i], nil
	}
	return Entry{}, errors.Unresolved(namespace, name)
}

// Entries returns the table. Callers must not modify it.
func (r *Registry) Entries() []Entry {
	return r.entries
}

func (r *Registry) find(namespace, name string) (int, bool) {
	if !r.frozen {
		for i, e := range r.entries {
			if e.Namespace == namespace && e.Name == name {
				return i, true
			}
		}
		return 0, false
	}

	i := sort.Search(len(r.entries), func(i int) bool {
		e := r.entries[i]
		if e.Namespace != namespace {
			return e.Namespace >= namespace
		}
		return e.Name >= name
	})
	if i < len(r.entries) && r.entries[i].Namespace == namespace && r.entries[i].Name == name {
		return i, true
	}
	return 0, false
}

// Check resolves every import a module declares against the table. Imports
// from the provided namespaces are satisfied elsewhere and skipped.
//
// All unresolved imports are reported together as one KindUnresolved error
// whose cause is an *errors.MissingImportsError. Otherwise the first import
// whose signature differs fails with KindSignatureMismatch.
func (r *Registry) Check(info *image.Info, provided ...string) error {
	var missing []string
	var first *errors.Error
	var mismatch error

	for _, imp := range info.Imports {
		if contains(provided, imp.Module) {
			continue
		}
		if imp.Kind != image.KindFunc {
			missing = append(missing, errors.ImportKey(imp.Module, imp.Name))
			if first == nil {
				first = errors.Unresolved(imp.Module, imp.Name)
			}
			continue
		}

		e, err := r.Resolve(imp.Module, imp.Name)
		if err != nil {
			missing = append(missing, errors.ImportKey(imp.Module, imp.Name))
			if first == nil {
				first = errors.Unresolved(imp.Module, imp.Name)
			}
			continue
		}

		if int(imp.TypeIndex) >= len(info.Types) {
			return errors.MalformedModule(errors.InvalidInput(errors.PhaseImage, "import type index out of range"))
		}
		want := fromFuncType(info.Types[imp.TypeIndex])
		if mismatch == nil && !want.Equal(e.Signature) {
			mismatch = errors.SignatureMismatch(imp.Module, imp.Name, want.String(), e.Signature.String())
		}
	}

	if len(missing) > 0 {
		first.Cause = errors.NewMissingImportsError(missing)
		if len(missing) > 1 {
			first.Detail = "no host function registered for this and other imports"
		}
		return first
	}
	return mismatch
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Bind instantiates one host module per namespace in rt. The registry must be
// frozen.
func (r *Registry) Bind(ctx context.Context, rt wazero.Runtime) error {
	if !r.frozen {
		return errors.InvalidState(errors.PhaseRegistry, "unfrozen", "bind")
	}

	for start := 0; start < len(r.entries); {
		ns := r.entries[start].Namespace
		end := start
		for end < len(r.entries) && r.entries[end].Namespace == ns {
			end++
		}

		builder := rt.NewHostModuleBuilder(ns)
		for _, e := range r.entries[start:end] {
			builder.NewFunctionBuilder().
				WithGoModuleFunction(e.Func, e.Signature.Params, e.Signature.Results).
				WithName(e.Name).
				Export(e.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return errors.Instantiation("bind host namespace "+ns, err)
		}
		Logger().Debug("host namespace bound", zap.String("namespace", ns), zap.Int("functions", end-start))
		start = end
	}
	return nil
}
