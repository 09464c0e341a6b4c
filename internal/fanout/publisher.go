// Package fanout publishes a compact envelope of every dispatched event
// to NATS JetStream, letting an external consumer maintain a read-replica
// projection without re-running handlers.
//
// Connects with unlimited reconnect, creates or updates its stream on
// startup, and publishes with a dedup message id: the checkpoint string
// is already a unique, replay-stable position in the global order, so it
// doubles as the dedup key.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/evmweave/indexer/internal/checkpoint"
	"github.com/evmweave/indexer/pkg/models"
)

const (
	streamName           = "EVMWEAVE"
	streamSubjectPattern = "EVMWEAVE.>"
	streamCreateTimeout  = 10 * time.Second
	duplicateWindow      = 20 * time.Minute
)

// Envelope is the compact record published for every committed dispatch:
// enough for a consumer to reconstruct ordering and identity without
// re-running a handler.
type Envelope struct {
	ChainID    models.ChainID   `json:"chainId"`
	FilterID   models.FilterID  `json:"filterId"`
	EventKind  models.EventKind `json:"eventKind"`
	Checkpoint string           `json:"checkpoint"`
}

// Publisher publishes Envelopes to NATS JetStream with checkpoint-string
// deduplication.
type Publisher struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	logger *zerolog.Logger
}

// NewPublisher connects to natsURL and ensures the fan-out stream exists,
// retaining published envelopes for persistDuration.
func NewPublisher(natsURL string, persistDuration time.Duration, logger *zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("evmweave-indexer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fanout: connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("fanout: create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamCreateTimeout)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{streamSubjectPattern},
		MaxAge:     persistDuration,
		Storage:    jetstream.FileStorage,
		Duplicates: duplicateWindow,
		Retention:  jetstream.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("fanout: create stream: %w", err)
	}

	logger.Info().
		Str("stream", streamName).
		Str("subjects", streamSubjectPattern).
		Dur("max_age", persistDuration).
		Dur("duplicate_window", duplicateWindow).
		Msg("fanout publisher initialized")

	return &Publisher{js: js, nc: nc, logger: logger}, nil
}

// Publish emits one envelope for a committed dispatch. The subject is
// "EVMWEAVE.{chainID}.{eventKind}"; the dedup message id is the event's
// checkpoint string, so a redelivered dispatch (e.g. after a retried
// historical batch) never produces a duplicate downstream message.
func (p *Publisher) Publish(ctx context.Context, chainID models.ChainID, filterID models.FilterID, kind models.EventKind, cp models.Checkpoint) error {
	subject := fmt.Sprintf("%s.%d.%s", streamName, chainID, kind)
	key := checkpoint.Encode(cp)

	env := Envelope{ChainID: chainID, FilterID: filterID, EventKind: kind, Checkpoint: key}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("fanout: marshal envelope: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(key))
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("subject", subject).
			Str("checkpoint", key).
			Msg("failed to publish envelope")
		return fmt.Errorf("fanout: publish: %w", err)
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("checkpoint", key).
		Msg("envelope published")
	return nil
}

// PublishBatch publishes every event in batch in order, stopping at the
// first failure.
func (p *Publisher) PublishBatch(ctx context.Context, batch []models.Event) error {
	for _, ev := range batch {
		if err := p.Publish(ctx, ev.ChainID, ev.FilterID, ev.Type, ev.Checkpoint); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info().Msg("fanout publisher closed")
	}
}

// Healthy reports whether the underlying NATS connection is currently
// connected.
func (p *Publisher) Healthy() bool {
	return p.nc != nil && p.nc.IsConnected()
}
