package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/quantfold/stockpulse/internal/models"
)

const defaultSnapshotSubject = "stockpulse.snapshots"

// SnapshotHandler processes one ingested news snapshot.
type SnapshotHandler func(ctx context.Context, snapshot *models.NewsSnapshot) error

// SnapshotConsumer subscribes to the snapshot subject and hands decoded
// snapshots to a handler. Handler errors are logged, not redelivered.
type SnapshotConsumer struct {
	nc      *nats.Conn
	subject string
	sub     *nats.Subscription
}

// ConsumerConfig configures the snapshot consumer
type ConsumerConfig struct {
	NATSURL string
	Subject string
}

// NewSnapshotConsumer connects to NATS with automatic reconnects.
func NewSnapshotConsumer(config ConsumerConfig) (*SnapshotConsumer, error) {
	if config.NATSURL == "" {
		config.NATSURL = nats.DefaultURL
	}
	if config.Subject == "" {
		config.Subject = defaultSnapshotSubject
	}

	nc, err := nats.Connect(
		config.NATSURL,
		nats.Name("stockpulse-snapshots"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &SnapshotConsumer{nc: nc, subject: config.Subject}, nil
}

// Start subscribes and processes snapshots until Close is called. The given
// context bounds each handler invocation.
func (c *SnapshotConsumer) Start(ctx context.Context, handler SnapshotHandler) error {
	sub, err := c.nc.Subscribe(c.subject, func(msg *nats.Msg) {
		var snapshot models.NewsSnapshot
		if err := json.Unmarshal(msg.Data, &snapshot); err != nil {
			log.Warn().
				Err(err).
				Str("subject", msg.Subject).
				Msg("Discarding malformed snapshot message")
			return
		}

		if err := handler(ctx, &snapshot); err != nil {
			log.Warn().
				Err(err).
				Str("ticker", snapshot.Ticker).
				Msg("Snapshot handler failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.subject, err)
	}

	c.sub = sub
	log.Info().Str("subject", c.subject).Msg("Snapshot consumer started")
	return nil
}

// Close drains the subscription and closes the connection.
func (c *SnapshotConsumer) Close() {
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Warn().Err(err).Msg("Failed to drain snapshot subscription")
		}
	}
	if c.nc != nil {
		c.nc.Close()
	}
}
