package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/covid-trend-etl/internal/domain"
	"github.com/couchcryptid/covid-trend-etl/internal/observability"
	"github.com/couchcryptid/covid-trend-etl/internal/pipeline"
)

const interval = 2 * time.Minute

// --- mocks ---

type mockSource struct {
	mu       sync.Mutex
	export   domain.Export
	failures int
	calls    int
}

func (m *mockSource) Fetch(ctx context.Context) (domain.Export, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return domain.Export{}, errors.New("export not readable")
	}
	return m.export, ctx.Err()
}

func (m *mockSource) setFingerprint(fp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.export.Fingerprint = fp
}

type chanPublisher struct {
	name string
	out  chan domain.Snapshot
	err  error
}

func newChanPublisher(name string) *chanPublisher {
	return &chanPublisher{name: name, out: make(chan domain.Snapshot, 16)}
}

func (c *chanPublisher) Name() string { return c.name }

func (c *chanPublisher) Publish(_ context.Context, snap domain.Snapshot) error {
	if c.err != nil {
		return c.err
	}
	c.out <- snap
	return nil
}

func waitForSnapshot(t *testing.T, pub *chanPublisher) domain.Snapshot {
	t.Helper()
	select {
	case snap := <-pub.out:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return domain.Snapshot{}
	}
}

func assertNoSnapshot(t *testing.T, pub *chanPublisher) {
	t.Helper()
	select {
	case snap := <-pub.out:
		t.Fatalf("unexpected snapshot %s", snap.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func exportTable() domain.Table {
	return domain.Table{
		Columns: []string{"description", "metric", "attribute", "value"},
		Rows: [][]string{
			{"state data summary", "cumulative cases", "04/10/2020", "1430"},
			{"daily new cases by onset date", "three-day moving average", "2020-04-01", "10"},
			{"daily new cases by onset date", "three-day moving average", "2020-04-02", "20"},
			{"daily new cases by onset date", "three-day moving average", "2020-04-03", "30"},
			{"cumulative hospitalized by onset date", "cases", "2020-03-31", "100"},
			{"cumulative hospitalized by onset date", "cases", "2020-04-01", "100"},
			{"cumulative hospitalized by onset date", "cases", "2020-04-02", "103"},
			{"cumulative hospitalized by onset date", "cases", "2020-04-03", "110"},
			{"deaths by date of death", "deaths", "2020-04-01", "1"},
			{"deaths by date of death", "deaths", "2020-04-02", "0"},
			{"deaths by date of death", "deaths", "2020-04-03", "2"},
			{"state data summary", "tested", "04/10/2020", "1,200"},
		},
	}
}

type harness struct {
	clock   *clockwork.FakeClock
	source  *mockSource
	sink    *chanPublisher
	metrics *observability.Metrics
	p       *pipeline.Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2020, time.April, 10, 12, 0, 0, 0, time.UTC))
	metrics := observability.NewMetricsForTesting()
	opts := domain.DefaultOptions()
	opts.Window = 1

	src := &mockSource{export: domain.Export{Table: exportTable(), Fingerprint: "fp-1"}}
	sink := newChanPublisher("memory")
	tfm := pipeline.NewTransformer(opts, "Colorado", clock, slog.Default(), metrics)
	fanout := pipeline.NewFanout(slog.Default(), metrics, sink)

	return &harness{
		clock:   clock,
		source:  src,
		sink:    sink,
		metrics: metrics,
		p:       pipeline.New(src, tfm, fanout, clock, interval, slog.Default(), metrics),
	}
}

func (h *harness) start(t *testing.T) (context.Context, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("pipeline did not stop")
		}
	})
	return ctx, done
}

// --- tests ---

func TestPipeline_Run_FirstCycleImmediately(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	snap := waitForSnapshot(t, h.sink)

	assert.Equal(t, "Colorado", snap.Region)
	assert.Equal(t, "fp-1", snap.Fingerprint)
	assert.Equal(t, h.clock.Now(), snap.AsOf)
	assert.Equal(t, "As of April 10th : 1430", snap.Headline)
	assert.Equal(t, domain.CanonicalAxis{"04-01", "04-02", "04-03"}, snap.Result.Dates)

	latest, ok := h.p.Latest()
	require.True(t, ok)
	assert.Equal(t, snap.ID, latest.ID)
	require.NoError(t, h.p.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.PipelineRunning), 0)
}

func TestPipeline_Run_CycleEveryTick(t *testing.T) {
	h := newHarness(t)
	ctx, _ := h.start(t)

	first := waitForSnapshot(t, h.sink)

	h.source.setFingerprint("fp-2")
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(interval)

	second := waitForSnapshot(t, h.sink)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "fp-2", second.Fingerprint)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Cycles.WithLabelValues("success")) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPipeline_Run_UnchangedExportSkipsPublish(t *testing.T) {
	h := newHarness(t)
	ctx, _ := h.start(t)

	first := waitForSnapshot(t, h.sink)

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(interval)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Cycles.WithLabelValues("skipped")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assertNoSnapshot(t, h.sink)

	latest, ok := h.p.Latest()
	require.True(t, ok)
	assert.Equal(t, first.ID, latest.ID)
}

func TestPipeline_Run_BacksOffOnSourceError(t *testing.T) {
	h := newHarness(t)
	h.source.failures = 2
	ctx, _ := h.start(t)

	// ticker plus the backoff timer
	require.NoError(t, h.clock.BlockUntilContext(ctx, 2))
	require.Error(t, h.p.CheckReadiness(ctx))
	h.clock.Advance(200 * time.Millisecond)

	require.NoError(t, h.clock.BlockUntilContext(ctx, 2))
	h.clock.Advance(400 * time.Millisecond)

	waitForSnapshot(t, h.sink)
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.Cycles.WithLabelValues("source_error")), 0)
	require.NoError(t, h.p.CheckReadiness(ctx))
}

func TestPipeline_Run_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.p.Run(ctx) }()

	waitForSnapshot(t, h.sink)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.PipelineRunning), 0)
}

func TestPipeline_RunCycle_MissingColumnPublishesNoData(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.p.RunCycle(context.Background()))
	waitForSnapshot(t, h.sink)

	bad := exportTable()
	bad.Columns = []string{"description", "metric", "date", "value"}
	h.source.mu.Lock()
	h.source.export = domain.Export{Table: bad, Fingerprint: "fp-bad"}
	h.source.mu.Unlock()

	require.NoError(t, h.p.RunCycle(context.Background()))

	snap := waitForSnapshot(t, h.sink)
	assert.Equal(t, domain.EmptyResult(), snap.Result)
	assert.Equal(t, []string{domain.ColumnAttribute}, snap.Report.MissingColumns)
	assert.Equal(t, len(bad.Rows), snap.Report.RowsDropped)

	latest, ok := h.p.Latest()
	require.True(t, ok)
	assert.Equal(t, snap.ID, latest.ID)

	// the same bad export is not reprocessed on the next tick
	require.NoError(t, h.p.RunCycle(context.Background()))
	assertNoSnapshot(t, h.sink)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Cycles.WithLabelValues("skipped")), 0)
}

type failingTransformer struct {
	mu    sync.Mutex
	calls int
}

func (f *failingTransformer) Transform(context.Context, domain.Export) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return domain.Snapshot{}, errors.New("unreadable export")
}

func TestPipeline_RunCycle_TransformErrorReportedOncePerExport(t *testing.T) {
	h := newHarness(t)
	tfm := &failingTransformer{}
	p := pipeline.New(h.source, tfm, h.sink, h.clock, interval, slog.Default(), h.metrics)

	require.Error(t, p.RunCycle(context.Background()))
	require.NoError(t, p.RunCycle(context.Background()))

	assert.Equal(t, 1, tfm.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Cycles.WithLabelValues("transform_error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Cycles.WithLabelValues("skipped")), 0)
	_, ok := p.Latest()
	assert.False(t, ok)
	assertNoSnapshot(t, h.sink)

	// a new export is tried again
	h.source.setFingerprint("fp-2")
	require.Error(t, p.RunCycle(context.Background()))
	assert.Equal(t, 2, tfm.calls)
}

func TestPipeline_RunCycle_PublishFailureKeepsLatest(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("broker down")

	require.NoError(t, h.p.RunCycle(context.Background()))

	_, ok := h.p.Latest()
	assert.True(t, ok)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.PublishErrors.WithLabelValues("memory")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Cycles.WithLabelValues("success")), 0)
}

func TestPipeline_Seed(t *testing.T) {
	h := newHarness(t)
	seed := domain.NewSnapshot(h.clock.Now().Add(-48*time.Hour), "Colorado", "fp-1", domain.EmptyResult(), domain.Report{})
	require.Equal(t, "As of April 8th : 0", seed.Headline)

	installed := h.p.Seed(seed)
	require.NoError(t, h.p.CheckReadiness(context.Background()))
	assert.Equal(t, seed.ID, installed.ID)
	assert.Equal(t, h.clock.Now(), installed.AsOf)
	assert.Equal(t, "As of April 10th : 0", installed.Headline)

	// same fingerprint as the seed: nothing to republish
	require.NoError(t, h.p.RunCycle(context.Background()))
	assertNoSnapshot(t, h.sink)
	latest, _ := h.p.Latest()
	assert.Equal(t, installed, latest)
}

func TestPipeline_CheckReadiness_NotReady(t *testing.T) {
	h := newHarness(t)

	err := h.p.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshot")
}
