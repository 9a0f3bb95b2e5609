// Package api exposes the estimators and the query service over JSON-RPC.
// Byte strings travel hex encoded, block references as ids.ID strings.
package api

import (
	"fmt"
	"net/http"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/json"
	"go.uber.org/zap"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/query"
	"github.com/govm-net/mvm/vm"
)

// ServiceName is the JSON-RPC service methods are registered under
const ServiceName = "mvm"

// Encoding is the byte encoding used on the wire
const Encoding = formatting.Hex

// Service is the JSON-RPC service
type Service struct {
	vm     *vm.Coordinator
	query  *query.Service
	logger *zap.Logger
}

// NewService creates the service
func NewService(c *vm.Coordinator, q *query.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{vm: c, query: q, logger: logger.Named("api")}
}

// EstimatePublishModuleArgs are the arguments to EstimateGasPublishModule
type EstimatePublishModuleArgs struct {
	Account  core.AccountID `json:"account"`
	Bytecode string         `json:"bytecode"`
	At       *ids.ID        `json:"at,omitempty"`
}

// EstimatePublishBundleArgs are the arguments to EstimateGasPublishBundle
type EstimatePublishBundleArgs struct {
	Account core.AccountID `json:"account"`
	Bundle  string         `json:"bundle"`
	At      *ids.ID        `json:"at,omitempty"`
}

// EstimateExecuteScriptArgs are the arguments to EstimateGasExecuteScript
type EstimateExecuteScriptArgs struct {
	Transaction string  `json:"transaction"`
	At          *ids.ID `json:"at,omitempty"`
}

// EstimateGasPublishModule estimates publishing a module from Account
func (s *Service) EstimateGasPublishModule(r *http.Request, args *EstimatePublishModuleArgs, reply *vm.Estimation) error {
	code, err := decodeBytes("bytecode", args.Bytecode)
	if err != nil {
		return err
	}
	est, err := s.vm.EstimatePublishModule(r.Context(), args.Account, code, args.At)
	if err != nil {
		return err
	}
	*reply = *est
	return nil
}

// EstimateGasPublishBundle estimates publishing a module bundle from Account
func (s *Service) EstimateGasPublishBundle(r *http.Request, args *EstimatePublishBundleArgs, reply *vm.Estimation) error {
	bundle, err := decodeBytes("bundle", args.Bundle)
	if err != nil {
		return err
	}
	est, err := s.vm.EstimatePublishBundle(r.Context(), args.Account, bundle, args.At)
	if err != nil {
		return err
	}
	*reply = *est
	return nil
}

// EstimateGasExecuteScript estimates executing a transaction
func (s *Service) EstimateGasExecuteScript(r *http.Request, args *EstimateExecuteScriptArgs, reply *vm.Estimation) error {
	tx, err := decodeBytes("transaction", args.Transaction)
	if err != nil {
		return err
	}
	est, err := s.vm.EstimateExecuteScript(r.Context(), tx, args.At)
	if err != nil {
		return err
	}
	*reply = *est
	return nil
}

// GetResourceArgs are the arguments to GetResource
type GetResourceArgs struct {
	Account core.AccountID `json:"account"`
	Tag     core.TypeTag   `json:"tag"`
	At      *ids.ID        `json:"at,omitempty"`
}

// GetResourceReply carries the resource bytes, if any
type GetResourceReply struct {
	Found bool   `json:"found"`
	Data  string `json:"data,omitempty"`
}

// GetResource returns the resource Tag held by Account
func (s *Service) GetResource(_ *http.Request, args *GetResourceArgs, reply *GetResourceReply) error {
	v, ok, err := s.query.GetResource(args.Account, args.Tag, args.At)
	if err != nil || !ok {
		return err
	}
	reply.Found = true
	reply.Data, err = formatting.Encode(Encoding, v)
	return err
}

// GetModuleArgs names a module
type GetModuleArgs struct {
	Address core.Address `json:"address"`
	Name    string       `json:"name"`
	At      *ids.ID      `json:"at,omitempty"`
}

// GetModuleReply carries the published package bytes
type GetModuleReply struct {
	Found    bool   `json:"found"`
	Bytecode string `json:"bytecode,omitempty"`
}

// GetModule returns the package bytes of a module
func (s *Service) GetModule(_ *http.Request, args *GetModuleArgs, reply *GetModuleReply) error {
	code, ok, err := s.query.GetModule(args.Address, args.Name, args.At)
	if err != nil || !ok {
		return err
	}
	reply.Found = true
	reply.Bytecode, err = formatting.Encode(Encoding, code)
	return err
}

// GetModuleABIReply carries a module interface
type GetModuleABIReply struct {
	Found bool     `json:"found"`
	ABI   *abi.ABI `json:"abi,omitempty"`
}

// GetModuleABI returns the interface of a module
func (s *Service) GetModuleABI(_ *http.Request, args *GetModuleArgs, reply *GetModuleABIReply) error {
	a, ok, err := s.query.GetModuleABI(args.Address, args.Name, args.At)
	if err != nil {
		return err
	}
	reply.Found = ok
	reply.ABI = a
	return nil
}

// GetBalanceArgs are the arguments to GetBalance
type GetBalanceArgs struct {
	Account core.AccountID `json:"account"`
	At      *ids.ID        `json:"at,omitempty"`
}

// GetBalanceReply is the reply of GetBalance
type GetBalanceReply struct {
	Balance json.Uint64 `json:"balance"`
}

// GetBalance returns the native balance of an account
func (s *Service) GetBalance(_ *http.Request, args *GetBalanceArgs, reply *GetBalanceReply) error {
	b, err := s.query.Balance(args.Account, args.At)
	if err != nil {
		return err
	}
	reply.Balance = json.Uint64(b)
	return nil
}

func decodeBytes(field, s string) ([]byte, error) {
	b, err := formatting.Decode(Encoding, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return b, nil
}
