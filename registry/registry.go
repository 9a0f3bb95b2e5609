// Package registry answers questions about published modules: their ABI,
// whether their dependencies resolve and who depends on them.
package registry

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/state"
	"github.com/govm-net/mvm/types"
)

// DefaultCacheSize is the number of ABIs kept when no size is given
const DefaultCacheSize = 4096

// ErrUnresolvedDependency is returned when a dependency is not published
var ErrUnresolvedDependency = errors.New("unresolved dependency")

type cacheKey struct {
	version uint64
	id      core.ModuleID
}

// Registry 模块注册表
type Registry struct {
	logger *zap.Logger
	cache  *lru.Cache[cacheKey, *abi.ABI]
}

// New creates a registry with an ABI cache of the given size
func New(cacheSize int, logger *zap.Logger) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := lru.New[cacheKey, *abi.ABI](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create abi cache: %w", err)
	}
	return &Registry{logger: logger.Named("registry"), cache: c}, nil
}

// LookupABI returns the ABI of the module (addr, name) as seen by h.
// Lookups on committed handles are cached per version; an EffectSet
// may hold unstaged module writes so it is never cached.
func (r *Registry) LookupABI(h state.Reader, addr core.Address, name string) (*abi.ABI, bool, error) {
	id := core.NewModuleID(addr, name)

	handle, committed := h.(*state.ReadHandle)
	if committed {
		if a, ok := r.cache.Get(cacheKey{handle.Version(), id}); ok {
			return a, true, nil
		}
	}

	rec, ok, err := h.ReadModule(id)
	if err != nil || !ok {
		return nil, false, err
	}
	a := rec.ABI()
	if committed {
		r.cache.Add(cacheKey{handle.Version(), id}, a)
	}
	return a, true, nil
}

// Lookup returns the stored record of id
func (r *Registry) Lookup(h state.Reader, id core.ModuleID) (*types.ModuleRecord, bool, error) {
	return h.ReadModule(id)
}

// Resolve checks that every dependency is either stored or part of pending
func (r *Registry) Resolve(h state.Reader, deps []core.ModuleID, pending map[core.ModuleID]bool) error {
	for _, dep := range deps {
		if pending[dep] {
			continue
		}
		if _, ok, err := r.LookupABI(h, dep.Address, dep.Name); err != nil {
			return err
		} else if !ok {
			r.logger.Debug("dependency not found", zap.Stringer("module", dep))
			return fmt.Errorf("%w: %s", ErrUnresolvedDependency, dep)
		}
	}
	return nil
}

// Dependents lists the modules linking against id
func (r *Registry) Dependents(h state.Reader, id core.ModuleID) ([]core.ModuleID, error) {
	return h.Dependents(id)
}

// CheckUpdate diffs updated against the ABI stored under the same identity.
// The returned flag is false when nothing is stored yet.
func (r *Registry) CheckUpdate(h state.Reader, updated *abi.ABI) (*abi.CompatibilityReport, bool, error) {
	old, ok, err := r.LookupABI(h, updated.Address, updated.Name)
	if err != nil || !ok {
		return nil, false, err
	}
	report := abi.CheckCompatible(old, updated)
	if !report.Compatible() {
		r.logger.Info("incompatible module update",
			zap.Stringer("module", updated.ID()),
			zap.Int("incompatibilities", len(report.Incompatibilities)))
	}
	return report, true, nil
}

// Purge drops every cached ABI
func (r *Registry) Purge() {
	r.cache.Purge()
}
