// Package nats publishes snapshots on a NATS subject for lightweight subscribers.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/couchcryptid/covid-trend-etl/internal/domain"
)

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher sends each snapshot as a JSON message on one subject.
// It implements pipeline.Publisher.
type Publisher struct {
	conn    conn
	subject string
	logger  *slog.Logger
}

// Connect dials the NATS server at url.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("covid-trend-etl"),
		nats.PingInterval(20*time.Second),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("nats async error", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newPublisher(nc, subject, logger), nil
}

func newPublisher(c conn, subject string, logger *slog.Logger) *Publisher {
	return &Publisher{conn: c, subject: subject, logger: logger}
}

// Name identifies the publisher as a publish sink.
func (p *Publisher) Name() string { return "nats" }

// Publish encodes snap and publishes it on the configured subject.
func (p *Publisher) Publish(_ context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	p.logger.Debug("snapshot published", "subject", p.subject, "id", snap.ID)
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
