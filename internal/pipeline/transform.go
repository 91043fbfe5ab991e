package pipeline

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/covid-trend-etl/internal/domain"
	"github.com/couchcryptid/covid-trend-etl/internal/observability"
)

// SnapshotTransformer implements Transformer by reconciling the export with
// fixed options and wrapping the result in a Snapshot.
type SnapshotTransformer struct {
	opts    domain.Options
	region  string
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewTransformer creates a SnapshotTransformer. The clock stamps each snapshot.
func NewTransformer(opts domain.Options, region string, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *SnapshotTransformer {
	return &SnapshotTransformer{
		opts:    opts,
		region:  region,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

func (t *SnapshotTransformer) Transform(_ context.Context, exp domain.Export) (domain.Snapshot, error) {
	result, report := domain.Reconcile(exp.Table, t.opts)

	t.metrics.Rows.WithLabelValues("parsed").Add(float64(report.RowsParsed))
	t.metrics.Rows.WithLabelValues("dropped").Add(float64(report.RowsDropped))
	t.metrics.Rows.WithLabelValues("unmatched").Add(float64(report.RowsUnmatched))
	t.metrics.NullDays.WithLabelValues("hospitalizations").Set(float64(report.NullHospitalizations))
	t.metrics.NullDays.WithLabelValues("deaths").Set(float64(report.NullDeaths))

	if len(report.MissingColumns) > 0 {
		t.logger.Warn("export header lacks required columns, publishing no data",
			"missing", report.MissingColumns, "rows", report.RowsTotal, "fingerprint", exp.Fingerprint)
	} else if report.RowsDropped > 0 {
		t.logger.Info("export rows dropped", "dropped", report.RowsDropped, "total", report.RowsTotal)
	}
	if len(report.Reordered) > 0 {
		t.logger.Info("categories were out of date order and have been sorted", "categories", report.Reordered)
	}
	t.logger.Debug("export reconciled",
		"days", len(result.Dates),
		"total", result.Total,
		"hospitalization_offset", report.HospitalizationOffset,
		"death_offset", report.DeathOffset,
		"null_hospitalizations", report.NullHospitalizations,
		"null_deaths", report.NullDeaths,
	)

	return domain.NewSnapshot(t.clock.Now(), t.region, exp.Fingerprint, result, report), nil
}
