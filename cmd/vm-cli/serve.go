package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/govm-net/mvm/api"
	"github.com/govm-net/mvm/metrics"
	"github.com/govm-net/mvm/query"
	"github.com/govm-net/mvm/vm"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON-RPC node",
	Long: `Run the JSON-RPC node over the configured ledger. Every
--rpc.block-interval the state is finalized as a block when it changed, and
the block id can be passed as --at to estimates and queries.
Example: vm-cli serve --store.path /data/mvm --genesis genesis.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := metrics.New(reg)
		if err != nil {
			return err
		}
		bus := evbus.New()

		n, err := openNode(cmd, vm.WithMetrics(m), vm.WithEventBus(bus))
		if err != nil {
			return err
		}
		defer n.Close()
		if err := logEvents(bus, n.logger.Named("events")); err != nil {
			return err
		}
		m.SetVersion(n.ledger.Version())

		svc := api.NewService(n.vm, query.New(n.ledger, n.vm.Registry(), n.logger), n.logger)
		handler, err := api.NewHandler(svc, reg)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              n.cfg.RPC.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			n.logger.Info("rpc listening", zap.String("addr", srv.Addr), zap.Uint64("version", n.ledger.Version()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			return finalizeBlocks(gctx, n, m, n.cfg.RPC.BlockInterval)
		})
		g.Go(func() error {
			<-gctx.Done()
			n.logger.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		return g.Wait()
	},
}

// finalizeBlocks finalizes a block on every tick the ledger changed. Each
// block id hashes the finalized version with the previous block id.
func finalizeBlocks(ctx context.Context, n *node, m *metrics.Metrics, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var parent ids.ID
	version := n.ledger.Version()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		ref, next, err := n.finalizeSince(version, parent[:])
		if err != nil {
			return err
		}
		if ref != nil {
			parent, version = *ref, next
			m.SetVersion(n.ledger.Version())
		}
	}
}

func logEvents(bus evbus.Bus, logger *zap.Logger) error {
	handlers := map[string]any{
		vm.TopicModulePublished: func(e vm.ModulePublished) {
			logger.Info("module published", zap.Stringer("module", e.Module), zap.Uint64("version", e.Version))
		},
		vm.TopicStdlibUpdated: func(e vm.StdlibUpdated) {
			logger.Info("stdlib updated", zap.Int("modules", len(e.Modules)), zap.Uint64("version", e.Version))
		},
		vm.TopicScriptExecuted: func(e vm.ScriptExecuted) {
			logger.Debug("script executed", zap.Stringer("module", e.Module), zap.String("function", e.Function), zap.Uint64("gas", e.Receipt.GasUsed))
		},
		vm.TopicScriptFailed: func(e vm.ScriptExecuted) {
			logger.Info("script failed", zap.Stringer("module", e.Module), zap.String("function", e.Function), zap.Stringer("status", e.Receipt.Status))
		},
	}
	for topic, fn := range handlers {
		if err := bus.SubscribeAsync(topic, fn, false); err != nil {
			return err
		}
	}
	return nil
}
