package websocket

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/covid-trend-etl/internal/domain"
	"github.com/couchcryptid/covid-trend-etl/internal/observability"
)

func newHubServer(t *testing.T) (*Hub, *observability.Metrics, string) {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	hub := NewHub(slog.Default(), metrics)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, metrics, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) domain.Snapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageTypeSnapshot, msg.Type)
	return msg.Data
}

func snapshotWithTotal(total int64) domain.Snapshot {
	result := domain.EmptyResult()
	result.Total = total
	asOf := time.Date(2020, time.April, 10, 0, 0, 0, 0, time.UTC)
	return domain.NewSnapshot(asOf, "Colorado", "fp", result, domain.Report{})
}

func TestHub_SendsLatestOnConnect(t *testing.T) {
	hub, _, url := newHubServer(t)
	require.NoError(t, hub.Publish(context.Background(), snapshotWithTotal(1430)))

	conn := dial(t, url)

	got := readSnapshot(t, conn)
	assert.Equal(t, int64(1430), got.Result.Total)
	assert.Equal(t, "As of April 10th : 1430", got.Headline)
}

func TestHub_BroadcastsToEveryClient(t *testing.T) {
	hub, metrics, url := newHubServer(t)
	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.WebSocketClients), 0)

	first := snapshotWithTotal(1)
	second := snapshotWithTotal(2)
	require.NoError(t, hub.Publish(context.Background(), first))
	require.NoError(t, hub.Publish(context.Background(), second))

	for _, conn := range []*websocket.Conn{a, b} {
		assert.Equal(t, first.ID, readSnapshot(t, conn).ID)
		assert.Equal(t, second.ID, readSnapshot(t, conn).ID)
	}
}

func TestHub_RemovesDisconnectedClient(t *testing.T) {
	hub, metrics, url := newHubServer(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.WebSocketClients), 0)
	require.NoError(t, hub.Publish(context.Background(), snapshotWithTotal(3)))
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub, _, url := newHubServer(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Zero(t, hub.ClientCount())
}
