package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/covid-trend-etl/internal/domain"
	"github.com/couchcryptid/covid-trend-etl/internal/observability"
)

// Fanout delivers a snapshot to every sink. A failing sink is logged and
// counted; the others still receive the snapshot.
type Fanout struct {
	sinks   []Publisher
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewFanout creates a Fanout over sinks, called in the given order.
func NewFanout(logger *slog.Logger, metrics *observability.Metrics, sinks ...Publisher) *Fanout {
	return &Fanout{sinks: sinks, logger: logger, metrics: metrics}
}

func (f *Fanout) Name() string { return "fanout" }

// Publish returns the joined errors of the sinks that failed, or nil.
func (f *Fanout) Publish(ctx context.Context, snap domain.Snapshot) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, snap); err != nil {
			f.logger.Warn("publish snapshot failed", "sink", sink.Name(), "id", snap.ID, "error", err)
			f.metrics.PublishErrors.WithLabelValues(sink.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
