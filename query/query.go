// Package query serves read-only lookups of modules, ABIs, resources and
// balances, either at the latest state or at a finalized block.
package query

import (
	"github.com/ava-labs/avalanchego/ids"
	"go.uber.org/zap"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/registry"
	"github.com/govm-net/mvm/state"
)

// Service is the query service. It never charges gas and never writes.
type Service struct {
	ledger   *state.Ledger
	registry *registry.Registry
	logger   *zap.Logger
}

// New creates a query service over ledger. ABI lookups share reg's cache.
func New(ledger *state.Ledger, reg *registry.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: ledger, registry: reg, logger: logger.Named("query")}
}

// handle pins the state of block at, or the latest state when at is nil
func (s *Service) handle(at *ids.ID) (*state.ReadHandle, error) {
	if at == nil {
		return s.ledger.Latest(), nil
	}
	return s.ledger.Snapshot(*at)
}

// GetModule returns the published package bytes of addr::name
func (s *Service) GetModule(addr core.Address, name string, at *ids.ID) ([]byte, bool, error) {
	h, err := s.handle(at)
	if err != nil {
		return nil, false, err
	}
	rec, ok, err := s.registry.Lookup(h, core.NewModuleID(addr, name))
	if err != nil || !ok {
		return nil, false, err
	}
	code, err := rec.Bytecode()
	if err != nil {
		return nil, false, err
	}
	return code, true, nil
}

// GetModuleABI returns the interface of addr::name
func (s *Service) GetModuleABI(addr core.Address, name string, at *ids.ID) (*abi.ABI, bool, error) {
	h, err := s.handle(at)
	if err != nil {
		return nil, false, err
	}
	return s.registry.LookupABI(h, addr, name)
}

// GetResource returns the resource tag stored under account
func (s *Service) GetResource(account core.AccountID, tag core.TypeTag, at *ids.ID) ([]byte, bool, error) {
	h, err := s.handle(at)
	if err != nil {
		return nil, false, err
	}
	v, ok, err := h.ReadResource(core.AddressOf(account), tag)
	if err != nil {
		s.logger.Warn("resource read failed", zap.Stringer("account", account), zap.Stringer("tag", tag), zap.Error(err))
	}
	return v, ok, err
}

// Balance returns the native balance of account
func (s *Service) Balance(account core.AccountID, at *ids.ID) (uint64, error) {
	h, err := s.handle(at)
	if err != nil {
		return 0, err
	}
	return h.Balance(account)
}
