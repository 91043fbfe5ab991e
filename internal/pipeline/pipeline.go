package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/couchcryptid/covid-trend-etl/internal/domain"
	"github.com/couchcryptid/covid-trend-etl/internal/observability"
)

var tracer = otel.Tracer("github.com/couchcryptid/covid-trend-etl/internal/pipeline")

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Source reads the current export.
type Source interface {
	Fetch(ctx context.Context) (domain.Export, error)
}

// Transformer turns an export into a publishable snapshot.
type Transformer interface {
	Transform(ctx context.Context, exp domain.Export) (domain.Snapshot, error)
}

// Publisher delivers snapshots to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, snap domain.Snapshot) error
}

var errSourceUnavailable = errors.New("source unavailable")

// Pipeline runs the fetch-reconcile-publish cycle on a fixed interval and
// keeps the latest snapshot for readers.
type Pipeline struct {
	source      Source
	transformer Transformer
	publisher   Publisher
	clock       clockwork.Clock
	interval    time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics

	ready  atomic.Bool
	latest atomic.Pointer[domain.Snapshot]

	// lastFingerprint is only touched by the Run goroutine and Seed before Run.
	lastFingerprint string
}

// New creates a Pipeline with the given stages and observability.
func New(src Source, t Transformer, pub Publisher, clock clockwork.Clock, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		source:      src,
		transformer: t,
		publisher:   pub,
		clock:       clock,
		interval:    interval,
		logger:      logger,
		metrics:     metrics,
	}
}

// Seed installs a previously persisted snapshot as the latest, restamped with
// the current time so displays do not show the date it was persisted. An export
// with the same fingerprint will then be treated as unchanged. Call before Run.
// It returns the snapshot as installed.
func (p *Pipeline) Seed(snap domain.Snapshot) domain.Snapshot {
	persisted := snap.AsOf
	snap = snap.Restamp(p.clock.Now())
	p.latest.Store(&snap)
	p.lastFingerprint = snap.Fingerprint
	p.ready.Store(true)
	p.logger.Info("seeded latest snapshot", "id", snap.ID, "persisted_at", persisted, "as_of", snap.AsOf)
	return snap
}

// Latest returns the most recent snapshot, if any.
func (p *Pipeline) Latest() (domain.Snapshot, bool) {
	snap := p.latest.Load()
	if snap == nil {
		return domain.Snapshot{}, false
	}
	return *snap, true
}

// CheckReadiness returns nil once a snapshot is available.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no snapshot has been produced yet")
	}
	return nil
}

// Run executes one cycle immediately and then one per interval until the
// context is cancelled. A source failure is retried with exponential backoff
// instead of waiting for the next tick.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "interval", p.interval)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	backoff := initialBackoff
	for {
		err := p.RunCycle(ctx)
		if ctx.Err() != nil {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}

		if errors.Is(err, errSourceUnavailable) {
			if !p.sleepWithContext(ctx, backoff) {
				p.logger.Info("pipeline stopping", "reason", ctx.Err())
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = initialBackoff

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunCycle performs one fetch-reconcile-publish pass. An unchanged export is
// skipped without republishing.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "ingest.cycle")
	defer span.End()

	start := p.clock.Now()

	exp, err := p.source.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Error("fetch export failed", "error", err)
		p.metrics.Cycles.WithLabelValues("source_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "source unavailable")
		return errors.Join(errSourceUnavailable, err)
	}

	if exp.Fingerprint != "" && exp.Fingerprint == p.lastFingerprint {
		p.logger.Debug("export unchanged, skipping", "fingerprint", exp.Fingerprint)
		p.metrics.Cycles.WithLabelValues("skipped").Inc()
		span.SetAttributes(attribute.Bool("ingest.skipped", true))
		return nil
	}

	snap, err := p.transformer.Transform(ctx, exp)
	if err != nil {
		// Remember the export so the same failure is reported once, not every tick.
		p.lastFingerprint = exp.Fingerprint
		p.logger.Error("transform export failed", "error", err, "fingerprint", exp.Fingerprint)
		p.metrics.Cycles.WithLabelValues("transform_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		return err
	}

	span.SetAttributes(
		attribute.String("ingest.snapshot_id", snap.ID),
		attribute.Int("ingest.rows_total", snap.Report.RowsTotal),
		attribute.Int("ingest.rows_dropped", snap.Report.RowsDropped),
		attribute.Int("ingest.days", len(snap.Result.Dates)),
		attribute.Int("ingest.null_hospitalizations", snap.Report.NullHospitalizations),
		attribute.Int("ingest.null_deaths", snap.Report.NullDeaths),
	)

	p.latest.Store(&snap)
	p.lastFingerprint = exp.Fingerprint
	p.ready.Store(true)

	if err := p.publisher.Publish(ctx, snap); err != nil {
		p.logger.Warn("snapshot not delivered to every sink", "id", snap.ID, "error", err)
	}

	p.metrics.Cycles.WithLabelValues("success").Inc()
	p.metrics.CycleDuration.Observe(p.clock.Since(start).Seconds())
	p.metrics.LastSuccess.Set(float64(p.clock.Now().Unix()))
	p.logger.Info("snapshot published",
		"id", snap.ID,
		"headline", snap.Headline,
		"days", len(snap.Result.Dates),
	)
	return nil
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func (p *Pipeline) sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
