package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-generator/internal/dispatch"
)

func TestCollectorObservations(t *testing.T) {
	c := NewCollector(1000, 500*time.Millisecond)
	assert.Equal(t, 1000.0, testutil.ToFloat64(c.FleetSize))
	assert.Equal(t, 0.5, testutil.ToFloat64(c.PollInterval))

	c.ObserveChunk(100, 3*time.Millisecond, nil)
	c.ObserveChunk(0, time.Millisecond, errors.New("nope"))
	c.ObserveDispatch(dispatch.Result{Sent: 900, Batches: 9, EventsPerSecond: 1234})
	c.ObserveTick(200*time.Millisecond, false)
	c.ObserveTick(700*time.Millisecond, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ChunkFailures))
	assert.Equal(t, 900.0, testutil.ToFloat64(c.EventsSent))
	assert.Equal(t, 9.0, testutil.ToFloat64(c.SinkBatches))
	assert.Equal(t, 1234.0, testutil.ToFloat64(c.LastRate))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Overruns))
}

func TestConnGauge(t *testing.T) {
	c := NewCollector(1, time.Second)
	conn := c.Conn("nats")
	conn.SetConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SinkConnected.WithLabelValues("nats")))
	conn.SetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.SinkConnected.WithLabelValues("nats")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(42, time.Second)
	c.ObserveDispatch(dispatch.Result{Sent: 7})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "generator_fleet_vehicles 42")
	assert.Contains(t, string(body), "generator_events_sent_total 7")
}
