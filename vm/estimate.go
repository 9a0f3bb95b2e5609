package vm

import (
	"context"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/metrics"
	"github.com/govm-net/mvm/state"
	"github.com/govm-net/mvm/types"
)

// snapshot opens an EffectSet on the state of block at (nil = latest). The
// set is never committed.
func (c *Coordinator) snapshot(at *ids.ID) (*state.EffectSet, *Error) {
	ref := ids.Empty
	if at != nil {
		ref = *at
	}
	h, err := c.ledger.Snapshot(ref)
	if err != nil {
		return nil, storageError(err)
	}
	return c.ledger.Begin(h), nil
}

// estimation converts the outcome of a dry run. Validation failures are
// returned as errors; everything the meter saw becomes an Estimation.
func (c *Coordinator) estimation(meter *gas.Meter, verr *Error) (*Estimation, error) {
	if verr != nil && (verr.Kind == KindValidation || verr.Kind == KindStorage) {
		c.metrics.Observe(metrics.OpEstimate, verr.Status, 0)
		return nil, verr
	}
	est := &Estimation{
		GasUsed:    meter.Used(),
		StatusCode: core.StatusExecuted,
		Weight:     c.cfg.Schedule.Weight(meter.Used()),
	}
	if verr != nil {
		est.StatusCode = verr.Status
	}
	c.metrics.Observe(metrics.OpEstimate, est.StatusCode, est.GasUsed)
	return est, nil
}

// EstimatePublishModule dry-runs PublishModule for account
func (c *Coordinator) EstimatePublishModule(ctx context.Context, account core.AccountID, bytecode []byte, at *ids.ID) (*Estimation, error) {
	pkgs, verr := c.decodeModule(bytecode)
	if verr != nil {
		return c.estimation(nil, verr)
	}
	return c.estimatePublish(ctx, account, pkgs, len(bytecode), at)
}

// EstimatePublishBundle dry-runs PublishModuleBundle for account
func (c *Coordinator) EstimatePublishBundle(ctx context.Context, account core.AccountID, bundle []byte, at *ids.ID) (*Estimation, error) {
	pkgs, verr := c.decodeBundle(bundle)
	if verr != nil {
		return c.estimation(nil, verr)
	}
	return c.estimatePublish(ctx, account, pkgs, len(bundle), at)
}

func (c *Coordinator) estimatePublish(ctx context.Context, account core.AccountID, pkgs []types.ModulePackage, size int, at *ids.ID) (*Estimation, error) {
	es, verr := c.snapshot(at)
	if verr != nil {
		return c.estimation(nil, verr)
	}
	defer es.Discard()

	meter := gas.NewMeter(c.cfg.MaxGasPerCall)
	return c.estimation(meter, c.publishModules(ctx, es, core.AddressOf(account), pkgs, size, meter))
}

// EstimateExecuteScript dry-runs Execute on behalf of the transaction
// signer. Value transfers cost no gas, so none is simulated.
func (c *Coordinator) EstimateExecuteScript(ctx context.Context, txBytecode []byte, at *ids.ID) (*Estimation, error) {
	tx, verr := c.decodeTransaction(txBytecode)
	if verr != nil {
		return c.estimation(nil, verr)
	}

	es, verr := c.snapshot(at)
	if verr != nil {
		return c.estimation(nil, verr)
	}
	defer es.Discard()

	s, verr := c.prepareScript(es, tx, len(txBytecode), 0)
	if verr != nil {
		return c.estimation(nil, verr)
	}

	meter := gas.NewMeter(c.cfg.MaxGasPerCall)
	return c.estimation(meter, c.runScript(ctx, es, s, meter))
}
