package bridge

import (
	"context"
	stderrors "errors"
	"io"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-firmware/arena"
	"github.com/wippyai/wasm-firmware/errors"
	"github.com/wippyai/wasm-firmware/host"
	"github.com/wippyai/wasm-firmware/image"
)

// Config holds bridge configuration
type Config struct {
	// Region is the statically declared arena storage. When nil an arena of
	// Capacity bytes is created instead.
	Region []byte

	// Capacity is the arena size used when Region is nil.
	Capacity uint64

	// RuntimeReserve is claimed from the arena for interpreter bookkeeping
	// before any guest memory is placed.
	RuntimeReserve uint64

	// EntryExport names the exported function Run calls. It must take no
	// parameters.
	EntryExport string

	// ModuleName is the instance name given to the guest.
	ModuleName string

	// TrapAddresses rewrites the image with bounds guards so out-of-bounds
	// traps report the faulting address.
	TrapAddresses bool

	// WASI provides wasi_snapshot_preview1 to the guest.
	WASI bool

	// Stdout receives WASI fd 1 and 2 output. Nil discards it.
	Stdout io.Writer

	// RegistryCapacity bounds the host function table.
	RegistryCapacity int

	// Observer, when set, is called after every transition.
	Observer Observer
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Capacity:         256 * 1024,
		EntryExport:      "run",
		ModuleName:       "guest",
		TrapAddresses:    true,
		RegistryCapacity: 32,
	}
}

// Bridge drives a single guest module through the interpreter lifecycle.
// Every operation checks the current state and refuses to run while another
// operation is in progress, so an interrupt handler cannot enter it
// mid-transition.
type Bridge struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	module   api.Module
	entry    api.Function
	arena    *arena.Arena
	registry *host.Registry
	info     *image.Info
	fault    *errors.Error
	code     []byte
	results  []uint64
	cfg      Config
	busy     atomic.Bool
	state    State
}

// New creates a bridge in the Uninitialized state.
func New(cfg Config) *Bridge {
	if cfg.EntryExport == "" {
		cfg.EntryExport = "run"
	}
	if cfg.ModuleName == "" {
		cfg.ModuleName = "guest"
	}
	if cfg.RegistryCapacity <= 0 {
		cfg.RegistryCapacity = DefaultConfig().RegistryCapacity
	}
	return &Bridge{cfg: cfg}
}

// State returns the current lifecycle state.
func (b *Bridge) State() State { return b.state }

// enter claims the bridge for one operation that requires state want.
func (b *Bridge) enter(phase errors.Phase, op string, want State) error {
	if !b.busy.CompareAndSwap(false, true) {
		return errors.New(phase, errors.KindReentrant).
			Detail("%s while another bridge operation is in progress", op).
			Build()
	}
	if b.state != want {
		b.busy.Store(false)
		return errors.InvalidState(phase, b.state.String(), op)
	}
	return nil
}

func (b *Bridge) leave() { b.busy.Store(false) }

func (b *Bridge) transition(to State, err error) {
	from := b.state
	b.state = to

	fields := []zap.Field{zap.Stringer("from", from), zap.Stringer("to", to)}
	if err != nil {
		Logger().Error("bridge transition", append(fields, zap.Error(err))...)
	} else {
		Logger().Debug("bridge transition", fields...)
	}
	if b.cfg.Observer != nil {
		b.cfg.Observer(Transition{From: from, To: to, Err: err})
	}
}

// trap records err as the terminal fault and moves to Trapped.
func (b *Bridge) trap(err *errors.Error) error {
	b.fault = err
	b.transition(Trapped, err)
	return err
}

// InitArena sets up the memory arena, reserves interpreter bookkeeping space
// and creates the interpreter runtime.
func (b *Bridge) InitArena(ctx context.Context) error {
	if err := b.enter(errors.PhaseArena, "init arena", Uninitialized); err != nil {
		return err
	}
	defer b.leave()

	var a *arena.Arena
	var err error
	if b.cfg.Region != nil {
		a, err = arena.FromRegion(b.cfg.Region)
	} else {
		a, err = arena.New(b.cfg.Capacity)
	}
	if err != nil {
		return b.trap(asError(err, errors.PhaseArena, errors.KindInvalidInput))
	}
	if b.cfg.RuntimeReserve > 0 {
		if _, err := a.Allocate(b.cfg.RuntimeReserve, 8); err != nil {
			return b.trap(asError(err, errors.PhaseArena, errors.KindOutOfArena))
		}
	}

	b.arena = a
	b.registry = host.NewRegistry(b.cfg.RegistryCapacity)
	b.runtime = wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter().
		WithCloseOnContextDone(true))

	Logger().Info("arena ready",
		zap.Uint64("capacity", a.Capacity()),
		zap.Uint64("reserved", a.Used()))
	b.transition(ArenaReady, nil)
	return nil
}

// Register adds one host function. Allowed only in ArenaReady; a failure
// leaves the bridge state unchanged.
func (b *Bridge) Register(namespace, name string, sig host.Signature, fn api.GoModuleFunc) error {
	if err := b.enter(errors.PhaseRegistry, "register", ArenaReady); err != nil {
		return err
	}
	defer b.leave()
	return b.registry.Register(namespace, name, sig, fn)
}

// RegisterHost adds every function of h. Allowed only in ArenaReady.
func (b *Bridge) RegisterHost(h host.Host) error {
	if err := b.enter(errors.PhaseRegistry, "register", ArenaReady); err != nil {
		return err
	}
	defer b.leave()
	return b.registry.RegisterHost(h)
}

// FreezeRegistry makes the host function table read-only.
func (b *Bridge) FreezeRegistry() error {
	if err := b.enter(errors.PhaseRegistry, "freeze registry", ArenaReady); err != nil {
		return err
	}
	defer b.leave()

	b.registry.Freeze()
	Logger().Info("registry frozen", zap.Int("functions", b.registry.Len()))
	b.transition(RegistryReady, nil)
	return nil
}

// Load validates a module image with the interpreter. Only images the
// interpreter rejects are MalformedModule. The image is not copied; with trap
// addresses enabled the interpreter receives an instrumented copy when one can
// be built.
func (b *Bridge) Load(ctx context.Context, img []byte) error {
	if err := b.enter(errors.PhaseLoad, "load", RegistryReady); err != nil {
		return err
	}
	defer b.leave()

	compiled, err := b.runtime.CompileModule(ctx, img)
	if err != nil {
		return b.trap(errors.MalformedModule(err))
	}

	info, err := image.Inspect(img)
	if err != nil {
		Logger().Warn("image inspection incomplete, using interpreter metadata", zap.Error(err))
		info = infoFromCompiled(compiled)
	}

	code := img
	if b.cfg.TrapAddresses {
		code, compiled = b.instrument(ctx, img, compiled)
	}

	b.info = info
	b.code = code
	b.compiled = compiled
	Logger().Info("module loaded",
		zap.Int("size", len(img)),
		zap.Int("imports", len(info.Imports)),
		zap.Bool("instrumented", len(code) != len(img)))
	b.transition(ModuleLoaded, nil)
	return nil
}

// instrument returns the trap-address build of img and its compiled module,
// or img and orig unchanged when the image cannot be instrumented.
func (b *Bridge) instrument(ctx context.Context, img []byte, orig wazero.CompiledModule) ([]byte, wazero.CompiledModule) {
	code, err := image.Instrument(img)
	if err != nil {
		Logger().Warn("trap addresses unavailable for this image", zap.Error(err))
		return img, orig
	}
	if len(code) == len(img) {
		return img, orig
	}
	compiled, err := b.runtime.CompileModule(ctx, code)
	if err != nil {
		Logger().Warn("instrumented image rejected, running without trap addresses", zap.Error(err))
		return img, orig
	}
	_ = orig.Close(ctx)
	return code, compiled
}

// Instantiate resolves imports, places linear memory in the arena and creates
// the module instance.
//
// Unresolved imports and signature mismatches return an error and leave the
// bridge in ModuleLoaded. Any other failure is InstantiationFailed and moves
// the bridge to Trapped.
func (b *Bridge) Instantiate(ctx context.Context) error {
	if err := b.enter(errors.PhaseInstantiate, "instantiate", ModuleLoaded); err != nil {
		return err
	}
	defer b.leave()

	var provided []string
	if b.cfg.WASI {
		provided = append(provided, wasiNamespace)
	}
	if err := b.registry.Check(b.info, provided...); err != nil {
		Logger().Warn("import resolution failed", zap.Error(err))
		return err
	}

	if need := b.info.MinMemoryBytes(); !b.arena.Fits(need, arena.LinearMemoryAlign) {
		return b.trap(errors.Instantiation("linear memory does not fit in arena",
			errors.OutOfArena(errors.PhaseInstantiate, need, arena.LinearMemoryAlign, b.arena.Remaining())))
	}

	exp, ok := b.info.Export(b.cfg.EntryExport)
	if !ok || exp.Kind != image.KindFunc {
		return b.trap(errors.Instantiation("entry export missing",
			errors.NotFound(errors.PhaseInstantiate, "function export", b.cfg.EntryExport)))
	}
	if ft, ok := b.info.FuncType(exp.Index); !ok || len(ft.Params) != 0 {
		return b.trap(errors.Instantiation("entry export must take no parameters",
			errors.InvalidInput(errors.PhaseInstantiate, b.cfg.EntryExport+" has type "+ft.String())))
	}

	if err := b.registry.Bind(ctx, b.runtime); err != nil {
		return b.trap(asError(err, errors.PhaseInstantiate, errors.KindInstantiation))
	}
	if b.cfg.WASI {
		if err := instantiateWASI(ctx, b.runtime); err != nil {
			return b.trap(errors.Instantiation("instantiate "+wasiNamespace, err))
		}
	}

	modCfg := wazero.NewModuleConfig().
		WithName(b.cfg.ModuleName).
		WithStartFunctions()
	if b.cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(b.cfg.Stdout).WithStderr(b.cfg.Stdout)
	}

	mod, err := b.instantiate(ctx, modCfg)
	if err != nil {
		return b.trap(errors.Instantiation("instantiate module", err))
	}

	b.module = mod
	b.entry = mod.ExportedFunction(b.cfg.EntryExport)
	Logger().Info("module instantiated",
		zap.String("name", b.cfg.ModuleName),
		zap.Uint64("arena_used", b.arena.Used()))
	b.transition(Instantiated, nil)
	return nil
}

// instantiate creates the instance with guest memory allocated from the arena.
// Arena exhaustion during a start function surfaces as a returned error.
func (b *Bridge) instantiate(ctx context.Context, modCfg wazero.ModuleConfig) (mod api.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()
	ctx = experimental.WithMemoryAllocator(ctx, b.arena.MemoryAllocator())
	return b.runtime.InstantiateModule(ctx, b.compiled, modCfg)
}

// Run calls the entry export. A normal return or WASI proc_exit(0) halts the
// bridge; anything else traps it.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.enter(errors.PhaseRun, "run", Instantiated); err != nil {
		return err
	}
	defer b.leave()

	b.transition(Running, nil)
	results, err := b.entry.Call(ctx)
	if err != nil {
		var exit *sys.ExitError
		if stderrors.As(err, &exit) && exit.ExitCode() == 0 {
			b.transition(Halted, nil)
			return nil
		}
		return b.trap(b.classify(err))
	}

	b.results = results
	Logger().Info("guest returned", zap.Uint64s("results", results))
	b.transition(Halted, nil)
	return nil
}

// Registry returns the host function table, or nil before InitArena.
func (b *Bridge) Registry() *host.Registry { return b.registry }

// Info returns the inspected module, or nil before Load.
func (b *Bridge) Info() *image.Info { return b.info }

// Results returns the entry export's results after a normal halt.
func (b *Bridge) Results() []uint64 { return b.results }

// Fault returns the error that moved the bridge to Trapped, or nil.
func (b *Bridge) Fault() error {
	if b.fault == nil {
		return nil
	}
	return b.fault
}

// Memory returns the guest's linear memory, or nil before instantiation.
func (b *Bridge) Memory() api.Memory {
	if b.module == nil {
		return nil
	}
	return b.module.Memory()
}

// ArenaStats reports arena usage. It is zero before InitArena.
func (b *Bridge) ArenaStats() arena.Stats {
	if b.arena == nil {
		return arena.Stats{}
	}
	return b.arena.Stats()
}

// Close releases the interpreter runtime. Only the emulator powers off; the
// firmware never calls it.
func (b *Bridge) Close(ctx context.Context) error {
	if b.runtime == nil {
		return nil
	}
	err := b.runtime.Close(ctx)
	b.runtime = nil
	b.module = nil
	return err
}

// asError returns err as an *errors.Error, wrapping it with phase and kind
// when it is not one already.
func asError(err error, phase errors.Phase, kind errors.Kind) *errors.Error {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Kind == kind {
		return e
	}
	return errors.Wrap(phase, kind, err, "")
}
