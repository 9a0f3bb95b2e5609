// Package vm coordinates the ledger, the module registry and an execution
// engine. It owns the three state changing operations (publish, execute,
// stdlib upgrade), the estimators that dry-run them and the fee rule.
package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/metrics"
	"github.com/govm-net/mvm/registry"
	"github.com/govm-net/mvm/state"
	"github.com/govm-net/mvm/types"
)

// Receipt is the outcome of a state changing operation
type Receipt struct {
	Status    core.StatusCode `json:"status"`
	GasUsed   uint64          `json:"gas_used"`
	Weight    uint64          `json:"weight"`
	Fee       uint64          `json:"fee"`
	AbortCode uint64          `json:"abort_code,omitempty"`
	Version   uint64          `json:"version"`
}

// Estimation is the outcome of a dry run
type Estimation struct {
	GasUsed    uint64          `json:"gas_used"`
	StatusCode core.StatusCode `json:"vm_status_code"`
	Weight     uint64          `json:"total_weight_including_gas_used"`
}

// Coordinator is the execution coordinator. State changing operations are
// serialized; estimates and queries run on pinned snapshots in parallel.
type Coordinator struct {
	cfg      Config
	ledger   *state.Ledger
	registry *registry.Registry
	engine   engine.Engine
	reserved map[core.Address]bool

	logger  *zap.Logger
	metrics *metrics.Metrics
	bus     evbus.Bus

	mu sync.Mutex
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithEventBus sets the bus lifecycle events are published on
func WithEventBus(bus evbus.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// New creates a coordinator
func New(cfg Config, ledger *state.Ledger, eng engine.Engine, opts ...Option) (*Coordinator, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Coordinator{
		cfg:      cfg,
		ledger:   ledger,
		engine:   eng,
		reserved: make(map[core.Address]bool, len(cfg.StdlibAddresses)),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("vm")

	reg, err := registry.New(cfg.ABICacheSize, c.logger)
	if err != nil {
		return nil, err
	}
	c.registry = reg

	for _, addr := range cfg.StdlibAddresses {
		c.reserved[addr] = true
	}
	c.metrics.SetVersion(ledger.Version())
	return c, nil
}

// Ledger returns the underlying ledger
func (c *Coordinator) Ledger() *state.Ledger {
	return c.ledger
}

// Registry returns the module registry
func (c *Coordinator) Registry() *registry.Registry {
	return c.registry
}

// Config returns the configuration in use
func (c *Coordinator) Config() Config {
	return c.cfg
}

// IsReserved reports whether addr is a stdlib namespace
func (c *Coordinator) IsReserved(addr core.Address) bool {
	return c.reserved[addr]
}

// Genesis is the initial ledger content
type Genesis struct {
	Balances map[core.AccountID]uint64
	Stdlib   *types.Bundle
}

// InitGenesis seeds an empty ledger with balances and the stdlib bundle
func (c *Coordinator) InitGenesis(ctx context.Context, g Genesis) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ledger.Version() != 0 {
		return fmt.Errorf("ledger already initialized at version %d", c.ledger.Version())
	}

	es := c.ledger.Begin(nil)
	defer es.Discard()

	for acct, amount := range g.Balances {
		if err := es.SetBalance(acct, amount); err != nil {
			return err
		}
	}
	if g.Stdlib != nil {
		if verr := c.stageStdlib(ctx, es, g.Stdlib, gas.NewMeter(gas.Unlimited)); verr != nil {
			return verr
		}
	}
	if err := c.ledger.Commit(es); err != nil {
		return err
	}
	c.metrics.SetVersion(c.ledger.Version())
	c.logger.Info("genesis committed", zap.Int("accounts", len(g.Balances)), zap.Uint64("version", c.ledger.Version()))
	return nil
}

// newMeter returns a meter limited to maxGas, capped at MaxGasPerCall
func (c *Coordinator) newMeter(maxGas uint64) *gas.Meter {
	return gas.NewMeter(min(maxGas, c.cfg.MaxGasPerCall))
}

// chargeFee debits gasUsed*GasPrice from payer in its own commit. The
// debit saturates at the payer's balance.
func (c *Coordinator) chargeFee(payer core.AccountID, gasUsed uint64) (uint64, error) {
	fee := gas.Mul(gasUsed, c.cfg.GasPrice)
	if fee == 0 {
		return 0, nil
	}

	es := c.ledger.Begin(nil)
	defer es.Discard()

	taken, err := es.DebitUpTo(payer, fee)
	if err != nil {
		return 0, err
	}
	if taken == 0 {
		return 0, nil
	}
	if err := c.ledger.Commit(es); err != nil {
		return 0, err
	}
	c.metrics.ObserveFee(taken)
	return taken, nil
}

// executionError turns an engine or meter failure into a coordinator error
func executionError(err error) *Error {
	if errors.Is(err, state.ErrStorage) {
		return storageError(err)
	}
	status := engine.Classify(err)
	code, _ := engine.AbortCode(err)
	return &Error{
		Kind:      KindExecution,
		Status:    status,
		AbortCode: code,
		Err:       fmt.Errorf("%w: %w", sentinelFor(status), err),
	}
}

// fail builds the receipt of an operation that did not commit. Execution
// faults are charged; everything else is free.
func (c *Coordinator) fail(op string, payer *core.AccountID, meter *gas.Meter, verr *Error) (*Receipt, error) {
	r := &Receipt{Status: verr.Status, AbortCode: verr.AbortCode, Version: c.ledger.Version()}
	if meter != nil {
		r.GasUsed = meter.Used()
		r.Weight = c.cfg.Schedule.Weight(r.GasUsed)
	}

	if verr.Kind == KindExecution && payer != nil {
		fee, err := c.chargeFee(*payer, r.GasUsed)
		if err != nil {
			c.logger.Error("failed to charge fee", zap.Stringer("payer", payer), zap.Error(err))
			return r, storageError(err)
		}
		r.Fee = fee
		r.Version = c.ledger.Version()
	}

	c.metrics.Observe(op, r.Status, r.GasUsed)
	c.logger.Debug("operation failed",
		zap.String("op", op),
		zap.Stringer("status", r.Status),
		zap.Uint64("gas", r.GasUsed),
		zap.Uint64("fee", r.Fee),
		zap.Error(verr))
	return r, verr
}

// succeed builds the receipt of a committed operation
func (c *Coordinator) succeed(op string, meter *gas.Meter) *Receipt {
	r := &Receipt{
		Status:  core.StatusExecuted,
		GasUsed: meter.Used(),
		Weight:  c.cfg.Schedule.Weight(meter.Used()),
		Version: c.ledger.Version(),
	}
	c.metrics.Observe(op, r.Status, r.GasUsed)
	c.metrics.SetVersion(r.Version)
	return r
}

// commit commits es and maps a failure onto a storage error
func (c *Coordinator) commit(es *state.EffectSet) *Error {
	if err := c.ledger.Commit(es); err != nil {
		return storageError(err)
	}
	return nil
}
