package vm

import (
	"context"

	"go.uber.org/zap"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/metrics"
	"github.com/govm-net/mvm/security"
	"github.com/govm-net/mvm/state"
	"github.com/govm-net/mvm/types"
)

// UpdateStdlibBundle replaces the standard library. Only root may call it.
// Either every module of the bundle is written or none is.
func (c *Coordinator) UpdateStdlibBundle(ctx context.Context, origin security.Origin, bundle []byte) (*Receipt, error) {
	if err := security.EnsureRoot(origin); err != nil {
		return c.fail(metrics.OpUpdateStdlib, nil, nil, &Error{Kind: KindValidation, Status: core.StatusBadOrigin, Err: err})
	}

	b, err := types.DecodeBundle(bundle)
	if err != nil {
		return c.fail(metrics.OpUpdateStdlib, nil, nil, validationError(core.StatusMalformedBytecode, ErrMalformedBytecode, "%v", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	es := c.ledger.Begin(nil)
	defer es.Discard()

	meter := gas.NewMeter(gas.Unlimited)
	if verr := c.stageStdlib(ctx, es, b, meter); verr != nil {
		return c.fail(metrics.OpUpdateStdlib, nil, meter, verr)
	}
	if verr := c.commit(es); verr != nil {
		return c.fail(metrics.OpUpdateStdlib, nil, meter, verr)
	}

	ids := make([]core.ModuleID, len(b.Modules))
	for i := range b.Modules {
		ids[i] = b.Modules[i].ID()
	}
	c.logger.Info("stdlib updated", zap.Int("modules", len(ids)), zap.Uint64("version", c.ledger.Version()))
	c.emit(TopicStdlibUpdated, StdlibUpdated{Modules: ids, Version: c.ledger.Version()})
	return c.succeed(metrics.OpUpdateStdlib, meter), nil
}

// stageStdlib validates a stdlib bundle against the state seen by es and
// stages it. Gas is metered for reporting only.
func (c *Coordinator) stageStdlib(ctx context.Context, es *state.EffectSet, b *types.Bundle, meter *gas.Meter) *Error {
	pending := make(map[core.ModuleID]bool, len(b.Modules))
	addrs := make(map[core.Address]bool)
	for i := range b.Modules {
		pkg := &b.Modules[i]
		id := pkg.ID()
		if !c.reserved[id.Address] {
			return validationError(core.StatusAddressMismatch, ErrAddressMismatch, "stdlib module %s outside reserved namespace", id)
		}
		if verr := c.verifyPackage(ctx, pkg); verr != nil {
			return verr
		}
		pending[id] = true
		addrs[id.Address] = true
	}
	for i := range b.Modules {
		if verr := c.resolve(es, &b.Modules[i], pending); verr != nil {
			return verr
		}
	}

	for i := range b.Modules {
		pkg := &b.Modules[i]
		deps := uint64(len(pkg.Dependencies))
		cost := gas.Add(c.cfg.Schedule.PublishBase, gas.Mul(deps, c.cfg.Schedule.PerDependency))
		if err := meter.ChargeBytes(cost, c.cfg.Schedule.PublishPerByte, len(pkg.Code)); err != nil {
			return executionError(err)
		}
	}

	report, verr := c.checkStdlib(es, b, addrs, pending)
	if verr != nil {
		return verr
	}
	if !report.Compatible() {
		return incompatibleError(report)
	}
	return c.stage(es, b.Modules)
}

// checkStdlib diffs every stored module of the touched namespaces against
// its replacement. A stored module missing from the bundle is left in
// place, but the bundle is rejected if anything still links against it.
func (c *Coordinator) checkStdlib(es *state.EffectSet, b *types.Bundle, addrs map[core.Address]bool, pending map[core.ModuleID]bool) (*abi.CompatibilityReport, *Error) {
	updated := make(map[core.ModuleID]*types.ModulePackage, len(b.Modules))
	for i := range b.Modules {
		updated[b.Modules[i].ID()] = &b.Modules[i]
	}

	report := &abi.CompatibilityReport{}
	for _, addr := range c.cfg.StdlibAddresses {
		if !addrs[addr] {
			continue
		}
		stored, err := es.ModulesAt(addr)
		if err != nil {
			return nil, storageError(err)
		}

		for _, rec := range stored {
			id := rec.ID()
			if pkg, ok := updated[id]; ok {
				report.Merge(abi.CheckCompatible(rec.ABI(), &pkg.ABI))
				continue
			}

			dependents, err := c.registry.Dependents(es, id)
			if err != nil {
				return nil, storageError(err)
			}
			for _, dep := range dependents {
				// a dependent replaced by this bundle only counts if its new version still links id
				if pending[dep] && !dependsOn(updated[dep], id) {
					continue
				}
				report.Add(abi.Incompatibility{
					Kind:     abi.ModuleDropped,
					Module:   id,
					Position: -1,
					Old:      id.String(),
					New:      "required by " + dep.String(),
				})
			}
		}
	}
	return report, nil
}

func dependsOn(pkg *types.ModulePackage, id core.ModuleID) bool {
	for _, dep := range pkg.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}
