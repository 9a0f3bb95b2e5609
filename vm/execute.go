package vm

import (
	"context"

	"go.uber.org/zap"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/metrics"
	"github.com/govm-net/mvm/security"
	"github.com/govm-net/mvm/state"
	"github.com/govm-net/mvm/types"
)

// script is a decoded and validated transaction ready to run
type script struct {
	tx     *types.Transaction
	size   int
	caller core.AccountID
	module *types.ModuleRecord
	fn     *abi.Function
}

// Execute runs the entry function named by the transaction and moves value
// from the caller to the module owner. A failed run commits nothing but
// the fee.
func (c *Coordinator) Execute(ctx context.Context, origin security.Origin, txBytecode []byte, maxGas, value uint64) (*Receipt, error) {
	caller, err := security.EnsureSigned(origin)
	if err != nil {
		return c.fail(metrics.OpExecute, nil, nil, &Error{Kind: KindValidation, Status: core.StatusBadOrigin, Err: err})
	}

	tx, verr := c.decodeTransaction(txBytecode)
	if verr != nil {
		return c.fail(metrics.OpExecute, nil, nil, verr)
	}
	if tx.Signer != core.AddressOf(caller) {
		return c.fail(metrics.OpExecute, nil, nil,
			validationError(core.StatusAddressMismatch, ErrAddressMismatch, "signer %s, origin %s", tx.Signer, caller))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	es := c.ledger.Begin(nil)
	defer es.Discard()

	s, verr := c.prepareScript(es, tx, len(txBytecode), value)
	if verr != nil {
		return c.fail(metrics.OpExecute, nil, nil, verr)
	}

	meter := c.newMeter(maxGas)
	if verr := c.runScript(ctx, es, s, meter); verr != nil {
		r, err := c.fail(metrics.OpExecute, &caller, meter, verr)
		c.emit(TopicScriptFailed, ScriptExecuted{Signer: tx.Signer, Module: tx.Module, Function: tx.Function, Receipt: *r})
		return r, err
	}

	if err := es.Transfer(caller, core.AccountOf(tx.Module.Address), value); err != nil {
		return c.fail(metrics.OpExecute, nil, meter, storageError(err))
	}
	if verr := c.commit(es); verr != nil {
		return c.fail(metrics.OpExecute, nil, meter, verr)
	}

	r := c.succeed(metrics.OpExecute, meter)
	c.logger.Debug("script executed",
		zap.Stringer("module", tx.Module),
		zap.String("function", tx.Function),
		zap.Uint64("gas", r.GasUsed),
		zap.Uint64("value", value))
	c.emit(TopicScriptExecuted, ScriptExecuted{Signer: tx.Signer, Module: tx.Module, Function: tx.Function, Receipt: *r})
	return r, nil
}

func (c *Coordinator) decodeTransaction(txBytecode []byte) (*types.Transaction, *Error) {
	if err := c.cfg.Limits.CheckTransaction(len(txBytecode), 0); err != nil {
		return nil, validationError(core.StatusLimitExceeded, ErrLimitExceeded, "%v", err)
	}
	tx, err := types.DecodeTransaction(txBytecode)
	if err != nil {
		return nil, validationError(core.StatusMalformedBytecode, ErrMalformedBytecode, "%v", err)
	}
	if err := c.cfg.Limits.CheckTransaction(len(txBytecode), len(tx.Args)); err != nil {
		return nil, validationError(core.StatusLimitExceeded, ErrLimitExceeded, "%v", err)
	}
	return tx, nil
}

// prepareScript performs every check that happens before metering starts
func (c *Coordinator) prepareScript(h state.Reader, tx *types.Transaction, size int, value uint64) (*script, *Error) {
	rec, ok, err := c.registry.Lookup(h, tx.Module)
	if err != nil {
		return nil, storageError(err)
	}
	if !ok {
		return nil, validationError(core.StatusFunctionNotFound, ErrFunctionNotFound, "module %s not published", tx.Module)
	}

	fn, ok := rec.ABI().Function(tx.Function)
	if !ok || !fn.IsEntry {
		return nil, validationError(core.StatusFunctionNotFound, ErrFunctionNotFound, "%s::%s", tx.Module, tx.Function)
	}
	if want := len(fn.ArgParams()); len(tx.Args) != want {
		return nil, validationError(core.StatusArgumentMismatch, ErrArgumentMismatch, "%s::%s takes %d arguments, got %d",
			tx.Module, tx.Function, want, len(tx.Args))
	}
	if want := len(fn.TypeParameters); len(tx.TypeArgs) != want {
		return nil, validationError(core.StatusArgumentMismatch, ErrArgumentMismatch, "%s::%s takes %d type arguments, got %d",
			tx.Module, tx.Function, want, len(tx.TypeArgs))
	}

	caller := core.AccountOf(tx.Signer)
	balance, err := h.Balance(caller)
	if err != nil {
		return nil, storageError(err)
	}
	if balance < value {
		return nil, validationError(core.StatusInsufficientBalance, ErrInsufficientBalance, "%s has %d, value %d", caller, balance, value)
	}

	return &script{tx: tx, size: size, caller: caller, module: rec, fn: fn}, nil
}

// runScript is the metered part of an execution, shared with the estimator
func (c *Coordinator) runScript(ctx context.Context, es *state.EffectSet, s *script, meter *gas.Meter) *Error {
	sched := c.cfg.Schedule
	if err := meter.ChargeBytes(sched.ExecuteBase, sched.ExecutePerByte, s.size); err != nil {
		return executionError(err)
	}
	if err := meter.ChargeBytes(sched.LoadBase, sched.LoadPerByte, len(s.module.Package.Code)); err != nil {
		return executionError(err)
	}

	call := &engine.Call{
		Module:   s.module,
		Function: s.fn,
		Signer:   s.tx.Signer,
		TypeArgs: s.tx.TypeArgs,
		Args:     s.tx.Args,
	}
	if _, err := c.engine.Run(ctx, call, &session{es: es, meter: meter, schedule: sched}, meter); err != nil {
		return executionError(err)
	}
	return nil
}
