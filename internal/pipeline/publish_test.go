package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/covid-trend-etl/internal/domain"
	"github.com/couchcryptid/covid-trend-etl/internal/observability"
	"github.com/couchcryptid/covid-trend-etl/internal/pipeline"
)

func TestFanout_DeliversToEverySink(t *testing.T) {
	a := newChanPublisher("a")
	b := newChanPublisher("b")
	f := pipeline.NewFanout(slog.Default(), observability.NewMetricsForTesting(), a, b)

	snap := domain.Snapshot{ID: "s-1"}
	require.NoError(t, f.Publish(context.Background(), snap))

	assert.Equal(t, "s-1", (<-a.out).ID)
	assert.Equal(t, "s-1", (<-b.out).ID)
}

func TestFanout_FailingSinkDoesNotBlockOthers(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	failing := newChanPublisher("kafka")
	failing.err = errors.New("leader not available")
	ok := newChanPublisher("websocket")
	f := pipeline.NewFanout(slog.Default(), metrics, failing, ok)

	err := f.Publish(context.Background(), domain.Snapshot{ID: "s-2"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka: leader not available")
	assert.Equal(t, "s-2", (<-ok.out).ID)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PublishErrors.WithLabelValues("kafka")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PublishErrors.WithLabelValues("websocket")), 0)
}

func TestFanout_NoSinks(t *testing.T) {
	f := pipeline.NewFanout(slog.Default(), observability.NewMetricsForTesting())
	require.NoError(t, f.Publish(context.Background(), domain.Snapshot{}))
	assert.Equal(t, "fanout", f.Name())
}
