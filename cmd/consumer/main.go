// Consumer service: reads the omnichain driver's fan-out envelopes from
// NATS JetStream and maintains a read-replica projection table in
// Postgres, independent of the indexer's own indexing store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/evmweave/indexer/internal/checkpoint"
	"github.com/evmweave/indexer/internal/fanout"
	"github.com/evmweave/indexer/internal/obslog"
)

var (
	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evmweave",
		Subsystem: "consumer",
		Name:      "events_consumed_total",
		Help:      "Envelopes consumed from NATS, by event kind.",
	}, []string{"event_kind"})

	eventsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evmweave",
		Subsystem: "consumer",
		Name:      "events_stored_total",
		Help:      "Envelopes written to the projection table, by event kind.",
	}, []string{"event_kind"})

	consumeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evmweave",
		Subsystem: "consumer",
		Name:      "consume_errors_total",
		Help:      "Envelope processing failures, by error class.",
	}, []string{"error_type"})
)

const serviceName = "evmweave-consumer"

func main() {
	logger := obslog.Init(serviceName, envOr("EVMWEAVE_LOG_LEVEL", "info"))
	logger.Info().Msg("starting evmweave consumer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, envOr("EVMWEAVE_POSTGRES_DSN", ""))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping database")
	}
	logger.Info().Msg("connected to projection database")

	if err := ensureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure projection schema")
	}

	natsURL := envOr("EVMWEAVE_NATS_URL", nats.DefaultURL)
	nc, err := nats.Connect(natsURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer nc.Close()
	logger.Info().Str("url", natsURL).Msg("connected to nats")

	js, err := jetstream.New(nc)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create jetstream context")
	}

	consumerName := envOr("EVMWEAVE_CONSUMER_NAME", "evmweave-projection")
	consumer, err := js.CreateOrUpdateConsumer(ctx, "EVMWEAVE", jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
		FilterSubject: "EVMWEAVE.>",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create consumer")
	}
	logger.Info().Str("consumer", consumerName).Msg("created consumer")

	metricsAddr := envOr("EVMWEAVE_METRICS_ADDR", ":9091")
	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info().Str("address", metricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	consCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := processMessage(ctx, pool, msg, *logger); err != nil {
			consumeErrors.WithLabelValues("process_message").Inc()
			logger.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start consuming")
	}
	defer consCtx.Stop()

	logger.Info().Msg("consumer started, waiting for messages")
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	logger.Info().Msg("shutdown complete")
}

// processMessage decodes one fanout.Envelope and upserts it into the
// projection table, keyed by its checkpoint string. That is the same
// dedup key the publisher used for JetStream's own duplicate window, so
// a redelivered message is a harmless no-op write.
func processMessage(ctx context.Context, pool *pgxpool.Pool, msg jetstream.Msg, logger zerolog.Logger) error {
	var env fanout.Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}

	cp, err := checkpoint.Decode(env.Checkpoint)
	if err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}

	eventsConsumed.WithLabelValues(env.EventKind.String()).Inc()
	logger.Debug().
		Str("kind", env.EventKind.String()).
		Uint64("chain_id", uint64(env.ChainID)).
		Uint64("block", cp.BlockNumber).
		Msg("processing envelope")

	const upsert = `
		INSERT INTO dispatched_events (checkpoint, chain_id, filter_id, event_kind, block_number, block_timestamp)
		VALUES ($1, $2, $3, $4, $5, to_timestamp($6))
		ON CONFLICT (checkpoint) DO NOTHING
	`
	if _, err := pool.Exec(ctx, upsert,
		env.Checkpoint,
		uint64(env.ChainID),
		string(env.FilterID),
		env.EventKind.String(),
		cp.BlockNumber,
		cp.BlockTimestamp,
	); err != nil {
		return fmt.Errorf("store dispatched event: %w", err)
	}

	eventsStored.WithLabelValues(env.EventKind.String()).Inc()
	return nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS dispatched_events (
			checkpoint      TEXT PRIMARY KEY,
			chain_id        BIGINT NOT NULL,
			filter_id       TEXT NOT NULL,
			event_kind      TEXT NOT NULL,
			block_number    BIGINT NOT NULL,
			block_timestamp TIMESTAMPTZ NOT NULL
		)
	`
	_, err := pool.Exec(ctx, ddl)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
