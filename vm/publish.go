package vm

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/metrics"
	"github.com/govm-net/mvm/registry"
	"github.com/govm-net/mvm/security"
	"github.com/govm-net/mvm/state"
	"github.com/govm-net/mvm/types"
)

// PublishModule publishes one module under the sender's address
func (c *Coordinator) PublishModule(ctx context.Context, origin security.Origin, bytecode []byte, maxGas uint64) (*Receipt, error) {
	sender, err := security.EnsureSigned(origin)
	if err != nil {
		return c.fail(metrics.OpPublish, nil, nil, &Error{Kind: KindValidation, Status: core.StatusBadOrigin, Err: err})
	}

	pkgs, verr := c.decodeModule(bytecode)
	if verr != nil {
		return c.fail(metrics.OpPublish, nil, nil, verr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitPublish(ctx, metrics.OpPublish, sender, pkgs, len(bytecode), maxGas)
}

// PublishModuleBundle publishes several modules under the sender's address
// as one unit
func (c *Coordinator) PublishModuleBundle(ctx context.Context, origin security.Origin, bundle []byte, maxGas uint64) (*Receipt, error) {
	sender, err := security.EnsureSigned(origin)
	if err != nil {
		return c.fail(metrics.OpPublishBundle, nil, nil, &Error{Kind: KindValidation, Status: core.StatusBadOrigin, Err: err})
	}

	pkgs, verr := c.decodeBundle(bundle)
	if verr != nil {
		return c.fail(metrics.OpPublishBundle, nil, nil, verr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitPublish(ctx, metrics.OpPublishBundle, sender, pkgs, len(bundle), maxGas)
}

func (c *Coordinator) commitPublish(ctx context.Context, op string, sender core.AccountID, pkgs []types.ModulePackage, size int, maxGas uint64) (*Receipt, error) {
	es := c.ledger.Begin(nil)
	defer es.Discard()

	meter := c.newMeter(maxGas)
	if verr := c.publishModules(ctx, es, core.AddressOf(sender), pkgs, size, meter); verr != nil {
		if verr.Kind == KindValidation {
			meter = nil
		}
		return c.fail(op, &sender, meter, verr)
	}
	if verr := c.commit(es); verr != nil {
		return c.fail(op, nil, meter, verr)
	}

	for i := range pkgs {
		rec := types.NewModuleRecord(&pkgs[i])
		c.logger.Info("module published", zap.Stringer("module", rec.ID()), zap.Uint64("gas", meter.Used()))
		c.emit(TopicModulePublished, ModulePublished{Module: rec.ID(), Hash: rec.Hash, Version: c.ledger.Version()})
	}
	return c.succeed(op, meter), nil
}

func (c *Coordinator) decodeModule(bytecode []byte) ([]types.ModulePackage, *Error) {
	if err := c.cfg.Limits.CheckModule(len(bytecode), 0); err != nil {
		return nil, validationError(core.StatusLimitExceeded, ErrLimitExceeded, "%v", err)
	}
	pkg, err := types.DecodeModule(bytecode)
	if err != nil {
		return nil, validationError(core.StatusMalformedBytecode, ErrMalformedBytecode, "%v", err)
	}
	return []types.ModulePackage{*pkg}, nil
}

func (c *Coordinator) decodeBundle(bundle []byte) ([]types.ModulePackage, *Error) {
	b, err := types.DecodeBundle(bundle)
	if err != nil {
		return nil, validationError(core.StatusMalformedBytecode, ErrMalformedBytecode, "%v", err)
	}
	if err := c.cfg.Limits.CheckBundle(len(b.Modules)); err != nil {
		return nil, validationError(core.StatusLimitExceeded, ErrLimitExceeded, "%v", err)
	}
	return b.Modules, nil
}

// publishModules is the publish path shared with the estimators. It
// validates, meters, checks every update for compatibility and stages the
// modules into es. Nothing is committed here.
func (c *Coordinator) publishModules(ctx context.Context, es *state.EffectSet, sender core.Address, pkgs []types.ModulePackage, size int, meter *gas.Meter) *Error {
	// pre-execution validation, no gas
	pending := make(map[core.ModuleID]bool, len(pkgs))
	for i := range pkgs {
		pkg := &pkgs[i]
		id := pkg.ID()
		if id.Address != sender {
			return validationError(core.StatusAddressMismatch, ErrAddressMismatch, "module %s, sender %s", id, sender)
		}
		if c.reserved[id.Address] {
			return validationError(core.StatusReservedNamespace, ErrReservedNamespace, "%s", id)
		}
		if verr := c.verifyPackage(ctx, pkg); verr != nil {
			return verr
		}
		pending[id] = true
	}
	for i := range pkgs {
		if verr := c.resolve(es, &pkgs[i], pending); verr != nil {
			return verr
		}
	}

	// metered
	if err := meter.ChargeBytes(0, c.cfg.Schedule.PublishPerByte, size); err != nil {
		return executionError(err)
	}
	for i := range pkgs {
		deps := uint64(len(pkgs[i].Dependencies))
		if err := meter.Charge(gas.Add(c.cfg.Schedule.PublishBase, gas.Mul(deps, c.cfg.Schedule.PerDependency))); err != nil {
			return executionError(err)
		}
	}

	report := &abi.CompatibilityReport{}
	for i := range pkgs {
		r, _, err := c.registry.CheckUpdate(es, &pkgs[i].ABI)
		if err != nil {
			return storageError(err)
		}
		report.Merge(r)
	}
	if !report.Compatible() {
		return incompatibleError(report)
	}

	return c.stage(es, pkgs)
}

func (c *Coordinator) verifyPackage(ctx context.Context, pkg *types.ModulePackage) *Error {
	if err := c.cfg.Limits.CheckModule(len(pkg.Code), len(pkg.Dependencies)); err != nil {
		return validationError(core.StatusLimitExceeded, ErrLimitExceeded, "%v", err)
	}
	if err := c.engine.Verify(ctx, pkg); err != nil {
		return validationError(core.StatusMalformedBytecode, ErrMalformedBytecode, "%v", err)
	}
	return nil
}

func (c *Coordinator) resolve(h state.Reader, pkg *types.ModulePackage, pending map[core.ModuleID]bool) *Error {
	if err := c.registry.Resolve(h, pkg.Dependencies, pending); err != nil {
		if errors.Is(err, registry.ErrUnresolvedDependency) {
			return validationError(core.StatusUnresolvedDependency, ErrUnresolvedDependency, "module %s: %v", pkg.ID(), err)
		}
		return storageError(err)
	}
	return nil
}

func (c *Coordinator) stage(es *state.EffectSet, pkgs []types.ModulePackage) *Error {
	for i := range pkgs {
		if err := es.WriteModule(types.NewModuleRecord(&pkgs[i])); err != nil {
			return storageError(err)
		}
	}
	return nil
}
