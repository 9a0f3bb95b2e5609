package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/govm-net/mvm/config"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine/wasm"
	"github.com/govm-net/mvm/logging"
	"github.com/govm-net/mvm/state"
	"github.com/govm-net/mvm/storage"
	"github.com/govm-net/mvm/types"
	"github.com/govm-net/mvm/vm"

	_ "github.com/govm-net/mvm/storage/badger"
	_ "github.com/govm-net/mvm/storage/sqlite"
)

// node is a coordinator over the configured ledger
type node struct {
	cfg    *config.Config
	logger *zap.Logger
	ledger *state.Ledger
	engine *wasm.Engine
	vm     *vm.Coordinator
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.BuildViper(cmd.Flags(), nil)
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

// openNode opens the ledger, applies the genesis file to an empty ledger
// and builds the coordinator
func openNode(cmd *cobra.Command, opts ...vm.Option) (*node, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	params := cfg.StoreParams()
	params["logger"] = logger
	backend, err := storage.Open(storage.BackendType(cfg.Store.Kind), params)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Kind, err)
	}
	ledger, err := state.New(backend, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	eng := wasm.New(wasm.Config{
		MemoryLimitPages: cfg.Engine.MemoryPages,
		HostCallCost:     cfg.Gas.HostCall,
		Logger:           logger,
	})

	vcfg, err := cfg.Coordinator()
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}
	c, err := vm.New(vcfg, ledger, eng, append([]vm.Option{vm.WithLogger(logger)}, opts...)...)
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}

	n := &node{cfg: cfg, logger: logger, ledger: ledger, engine: eng, vm: c}
	if cfg.Genesis != "" && ledger.Version() == 0 {
		g, err := readGenesis(cfg.Genesis)
		if err != nil {
			n.Close()
			return nil, err
		}
		if err := c.InitGenesis(cmd.Context(), *g); err != nil {
			n.Close()
			return nil, fmt.Errorf("failed to apply genesis: %w", err)
		}
	}
	return n, nil
}

// finalizeSince records the current state as a block when the ledger
// moved past version, and returns the version following the block. The
// block id hashes the finalized version with payload.
func (n *node) finalizeSince(version uint64, payload ...[]byte) (*ids.ID, uint64, error) {
	current := n.ledger.Version()
	if current == version {
		return nil, version, nil
	}
	ref := blockID(current, payload...)
	if err := n.ledger.FinalizeBlock(ref, current); err != nil {
		return nil, version, err
	}
	n.logger.Info("block finalized", zap.Stringer("block", ref), zap.Uint64("version", current))
	return &ref, current + 1, nil
}

func blockID(version uint64, payload ...[]byte) ids.ID {
	data := binary.BigEndian.AppendUint64(nil, version)
	for _, p := range payload {
		data = append(data, p...)
	}
	return ids.ID(core.Hash(data))
}

func (n *node) Close() {
	if err := n.engine.Close(context.Background()); err != nil {
		n.logger.Warn("failed to close engine", zap.Error(err))
	}
	if err := n.ledger.Close(); err != nil {
		n.logger.Warn("failed to close ledger", zap.Error(err))
	}
	_ = n.logger.Sync()
}

// genesisFile is the on-disk genesis. Stdlib is a bundle file path,
// relative to the genesis file.
type genesisFile struct {
	Balances map[core.AccountID]uint64 `json:"balances"`
	Stdlib   string                    `json:"stdlib"`
}

func readGenesis(path string) (*vm.Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis: %w", err)
	}
	var f genesisFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse genesis %s: %w", path, err)
	}

	g := &vm.Genesis{Balances: f.Balances}
	if f.Stdlib != "" {
		bundlePath := f.Stdlib
		if !filepath.IsAbs(bundlePath) {
			bundlePath = filepath.Join(filepath.Dir(path), bundlePath)
		}
		data, err := os.ReadFile(bundlePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdlib bundle: %w", err)
		}
		if g.Stdlib, err = types.DecodeBundle(data); err != nil {
			return nil, fmt.Errorf("invalid stdlib bundle %s: %w", bundlePath, err)
		}
	}
	return g, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
