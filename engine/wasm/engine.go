// Package wasm runs module code compiled to WebAssembly on wazero.
//
// A module links only against the "env" host module. Every exported entry
// function takes no parameters and returns nothing; arguments, the signer
// and resources are reached through host calls. Every function body and
// every loop must start with a charge to env.gas (see Instrument), which
// Verify enforces, so execution is bounded by the meter. Every other host
// call is charged a flat cost on top of that.
package wasm

import (
	"context"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/govm-net/mvm/engine"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/types"
)

// DefaultMemoryLimitPages caps guest memory at 16MB
const DefaultMemoryLimitPages = 256

// Config 配置 wazero 引擎
type Config struct {
	MemoryLimitPages uint32
	HostCallCost     uint64
	Logger           *zap.Logger
}

// Engine implements engine.Engine with the wazero interpreter
type Engine struct {
	cfg    wazero.RuntimeConfig
	cache  wazero.CompilationCache
	cost   uint64
	logger *zap.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New creates a wazero engine. The interpreter is used so that every
// platform executes the same instructions.
func New(c Config) *Engine {
	if c.MemoryLimitPages == 0 {
		c.MemoryLimitPages = DefaultMemoryLimitPages
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	cache := wazero.NewCompilationCache()
	return &Engine{
		cfg: wazero.NewRuntimeConfigInterpreter().
			WithMemoryLimitPages(c.MemoryLimitPages).
			WithCompilationCache(cache).
			WithCloseOnContextDone(true),
		cache:  cache,
		cost:   c.HostCallCost,
		logger: c.Logger.Named("wasm"),
	}
}

// Verify compiles the code, checks its imports and exports against the
// host module and the ABI and checks that the code is metered.
func (e *Engine) Verify(ctx context.Context, pkg *types.ModulePackage) error {
	r := wazero.NewRuntimeWithConfig(ctx, e.cfg)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, pkg.Code)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", engine.ErrVerification, pkg.ID(), err)
	}
	defer compiled.Close(ctx)

	if len(compiled.ImportedMemories()) > 0 {
		return fmt.Errorf("%w: %s imports memory", engine.ErrVerification, pkg.ID())
	}

	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		sig, ok := hostFunctions[name]
		if module != HostModule || !ok {
			return fmt.Errorf("%w: %s imports unknown function %s.%s", engine.ErrVerification, pkg.ID(), module, name)
		}
		if !slices.Equal(def.ParamTypes(), sig.params) || !slices.Equal(def.ResultTypes(), sig.results) {
			return fmt.Errorf("%w: %s imports %s.%s with wrong signature", engine.ErrVerification, pkg.ID(), module, name)
		}
	}

	exports := compiled.ExportedFunctions()
	for _, fn := range pkg.ABI.EntryFunctions() {
		def, ok := exports[fn.Name]
		if !ok {
			return fmt.Errorf("%w: %s does not export entry function %s", engine.ErrVerification, pkg.ID(), fn.Name)
		}
		if len(def.ParamTypes()) != 0 || len(def.ResultTypes()) != 0 {
			return fmt.Errorf("%w: %s exports %s with parameters or results", engine.ErrVerification, pkg.ID(), fn.Name)
		}
	}

	if err := checkMetered(pkg.Code); err != nil {
		return fmt.Errorf("%w: %s: %w", engine.ErrVerification, pkg.ID(), err)
	}
	return nil
}

// Run instantiates the module in a fresh runtime and calls the entry function
func (e *Engine) Run(ctx context.Context, call *engine.Call, store engine.Store, meter *gas.Meter) ([]byte, error) {
	r := wazero.NewRuntimeWithConfig(ctx, e.cfg)
	defer r.Close(ctx)

	s := &callState{call: call, store: store, meter: meter, cost: e.cost}
	if err := instantiateHost(ctx, r, s); err != nil {
		return nil, fmt.Errorf("%w: host module: %v", engine.ErrRuntime, err)
	}

	compiled, err := r.CompileModule(ctx, call.Module.Package.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s: %v", engine.ErrRuntime, call.Module.ID(), err)
	}

	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName(call.Module.ID().String()).
		WithStartFunctions())
	if err != nil {
		if s.fault != nil {
			return nil, s.fault
		}
		return nil, fmt.Errorf("%w: instantiate %s: %v", engine.ErrRuntime, call.Module.ID(), err)
	}

	fn := mod.ExportedFunction(call.Function.Name)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s has no export %s", engine.ErrRuntime, call.Module.ID(), call.Function.Name)
	}

	if _, err := fn.Call(ctx); err != nil {
		if s.fault != nil {
			return nil, s.fault
		}
		e.logger.Debug("wasm trap", zap.Stringer("module", call.Module.ID()), zap.String("function", call.Function.Name), zap.Error(err))
		return nil, fmt.Errorf("%w: %s::%s: %v", engine.ErrRuntime, call.Module.ID(), call.Function.Name, err)
	}
	return s.result, nil
}

// Close releases compiled code kept in the cache
func (e *Engine) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}
