// Main indexer service: dials every configured chain, backfills history,
// then runs realtime sync and the omnichain dispatch loop until signaled
// to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evmweave/indexer/internal/appconfig"
	"github.com/evmweave/indexer/internal/fanout"
	"github.com/evmweave/indexer/internal/historical"
	"github.com/evmweave/indexer/internal/indexstore"
	"github.com/evmweave/indexer/internal/intervalset"
	"github.com/evmweave/indexer/internal/metrics"
	"github.com/evmweave/indexer/internal/obslog"
	"github.com/evmweave/indexer/internal/omnichain"
	"github.com/evmweave/indexer/internal/realtime"
	"github.com/evmweave/indexer/internal/rpcclient"
	"github.com/evmweave/indexer/internal/syncstore"
	"github.com/evmweave/indexer/pkg/evmclient"
	"github.com/evmweave/indexer/pkg/models"
)

const serviceName = "evmweave-indexer"

func main() {
	logger := obslog.Init(serviceName, "info")
	logger.Info().Msg("starting evmweave indexer")

	cfg, err := appconfig.Load(configPath())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	obslog.SetLevel(logger, cfg.Engine.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.New(prometheus.DefaultRegisterer)

	syncStore, err := syncstore.Open(ctx, cfg.Database.PostgresDSN, cfg.Database.BoltPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open sync store")
	}
	defer syncStore.Close()

	indexStore, err := indexstore.Open(ctx, cfg.Database.PostgresDSN, indexBoltPath(cfg.Database.BoltPath))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open indexing store")
	}
	defer indexStore.Close()

	var fan *fanout.Publisher
	if cfg.Fanout.URL != "" {
		fan, err = fanout.NewPublisher(cfg.Fanout.URL, 24*time.Hour, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create fanout publisher")
		}
		defer fan.Close()
		logger.Info().Str("url", cfg.Fanout.URL).Msg("fanout publisher initialized")
	}

	var (
		sources    []omnichain.ChainSource
		allFilters []models.Filter
		tips       = make(map[models.ChainID]uint64)
	)

	for _, cc := range cfg.Chains {
		chainLogger := obslog.ChainLogger(logger, cc.Chain.Name)

		clients := make([]*evmclient.Client, 0, len(cc.Chain.Endpoints))
		for _, endpoint := range cc.Chain.Endpoints {
			cl, err := evmclient.Dial(ctx, endpoint)
			if err != nil {
				logger.Fatal().Err(err).Str("chain", cc.Chain.Name).Str("endpoint", endpoint).Msg("failed to dial RPC endpoint")
			}
			clients = append(clients, cl)
		}
		rpc := rpcclient.New(cc.Chain.Name, cc.Chain.ID, clients)

		tip, err := rpc.BlockNumber(ctx)
		if err != nil {
			logger.Fatal().Err(err).Str("chain", cc.Chain.Name).Msg("failed to fetch chain head")
		}
		tips[cc.Chain.ID] = tip

		histEngine := historical.New(cc.Chain, rpc, syncStore, chainLogger, reg)
		want := intervalset.New(minFromBlock(cc.Filters), tip)
		logger.Info().Str("chain", cc.Chain.Name).Uint64("from", want.Lo).Uint64("to", want.Hi).Msg("running historical backfill")
		if err := histEngine.Run(ctx, want, cc.Filters); err != nil {
			logger.Fatal().Err(err).Str("chain", cc.Chain.Name).Msg("historical backfill failed")
		}

		rtEngine := realtime.New(cc.Chain, rpc, cc.Filters, chainLogger, reg)
		go func(chain models.Chain, eng *realtime.Engine) {
			if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("chain", chain.Name).Msg("realtime engine stopped")
			}
		}(cc.Chain, rtEngine)

		sources = append(sources, omnichain.ChainSource{Chain: cc.Chain, RPC: rpc, Realtime: rtEngine})
		allFilters = append(allFilters, cc.Filters...)
	}

	driver, err := omnichain.New(sources, allFilters, syncStore, indexStore, recordRawEvent, *logger, reg, fan, checkpointPath())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build omnichain driver")
	}
	defer driver.Close()

	logger.Info().Msg("running omnichain historical dispatch")
	if err := driver.RunHistorical(ctx, tips, nil); err != nil {
		logger.Fatal().Err(err).Msg("omnichain historical dispatch failed")
	}

	metricsServer := &http.Server{Addr: cfg.Engine.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info().Str("address", cfg.Engine.MetricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	healthServer := &http.Server{Addr: cfg.Engine.HealthAddr, Handler: http.HandlerFunc(healthCheckHandler(fan))}
	go func() {
		logger.Info().Str("address", cfg.Engine.HealthAddr).Msg("starting health check server")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- driver.RunRealtime(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errChan:
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("omnichain realtime dispatch stopped")
		}
	}

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("health server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

// healthCheckHandler reports unhealthy only when a configured fanout
// publisher has dropped its NATS connection; the omnichain driver itself
// has no cheap health probe beyond "is it still running".
func healthCheckHandler(fan *fanout.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if fan != nil && !fan.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "unhealthy: fanout publisher disconnected")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "healthy")
	}
}

func minFromBlock(filters []models.Filter) uint64 {
	var min uint64
	first := true
	for _, f := range filters {
		if first || f.FromBlock < min {
			min = f.FromBlock
			first = false
		}
	}
	return min
}

func configPath() string {
	if p := os.Getenv("EVMWEAVE_CONFIG"); p != "" {
		return p
	}
	return "config.toml"
}

func checkpointPath() string {
	if p := os.Getenv("EVMWEAVE_CHECKPOINT_PATH"); p != "" {
		return p
	}
	return "data/omnichain_checkpoints.db"
}

// indexBoltPath derives the indexing store's embedded database path from
// the sync store's, since the two need distinct bbolt files (one process
// can't open the same file twice) but share one config knob. Unused when
// Postgres is configured.
func indexBoltPath(syncBoltPath string) string {
	if syncBoltPath == "" {
		return ""
	}
	return syncBoltPath + ".index"
}
