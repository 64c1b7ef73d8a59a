// Package bus publishes sentinel events on NATS for downstream consumers
// (alerting, dashboards). Publishing is fire and forget: a bus outage never
// fails an analysis run.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/quantfold/stockpulse/internal/models"
)

const defaultPrefix = "stockpulse.events."

// Publisher publishes analysis events on NATS subjects keyed by severity,
// e.g. stockpulse.events.critical.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// PublisherConfig configures the event publisher
type PublisherConfig struct {
	NATSURL string
	Prefix  string
}

// NewPublisher connects to NATS with automatic reconnects.
func NewPublisher(config PublisherConfig) (*Publisher, error) {
	if config.NATSURL == "" {
		config.NATSURL = nats.DefaultURL
	}
	if config.Prefix == "" {
		config.Prefix = defaultPrefix
	}

	nc, err := nats.Connect(
		config.NATSURL,
		nats.Name("stockpulse-core"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().
		Str("nats_url", config.NATSURL).
		Str("prefix", config.Prefix).
		Msg("Event publisher initialized")

	return &Publisher{nc: nc, prefix: config.Prefix}, nil
}

// PublishEvent publishes one event on its severity subject.
func (p *Publisher) PublishEvent(ctx context.Context, event *models.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !p.nc.IsConnected() {
		return fmt.Errorf("event bus not connected")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.prefix + strings.ToLower(string(event.Severity))
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_type", event.EventType).
		Str("ticker", event.Ticker).
		Msg("Event published")

	return nil
}

// PublishEvents publishes a batch, logging and skipping individual failures.
func (p *Publisher) PublishEvents(ctx context.Context, events []*models.Event) {
	for _, event := range events {
		if err := p.PublishEvent(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Str("event_type", event.EventType).
				Msg("Failed to publish event, continuing")
		}
	}
}

// Close flushes and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Flush(); err != nil {
			log.Warn().Err(err).Msg("Failed to flush NATS connection")
		}
		p.nc.Close()
	}
}
