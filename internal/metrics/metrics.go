package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"vehicle-generator/internal/dispatch"
)

type Collector struct {
	reg *prometheus.Registry

	FleetSize    prometheus.Gauge
	PollInterval prometheus.Gauge // seconds

	EventsSent    prometheus.Counter
	ChunkFailures prometheus.Counter
	SinkBatches   prometheus.Counter
	SinkConnected *prometheus.GaugeVec // sink label

	Ticks    prometheus.Counter
	Overruns prometheus.Counter

	TickDuration  prometheus.Histogram
	ChunkDuration prometheus.Histogram
	LastRate      prometheus.Gauge
}

func NewCollector(fleetSize int, pollInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FleetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "generator_fleet_vehicles",
			Help: "Number of simulated vehicles.",
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "generator_poll_interval_seconds",
			Help: "Configured tick interval in seconds.",
		}),
		EventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "generator_events_sent_total",
			Help: "Total events accepted by the sink.",
		}),
		ChunkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "generator_chunk_failures_total",
			Help: "Total chunks that failed submission.",
		}),
		SinkBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "generator_sink_batches_total",
			Help: "Total batches sent to the sink.",
		}),
		SinkConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "generator_sink_connected",
			Help: "1 if the sink connection is established, 0 otherwise.",
		}, []string{"sink"}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "generator_ticks_total",
			Help: "Total feed ticks completed.",
		}),
		Overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "generator_tick_overruns_total",
			Help: "Ticks whose processing exceeded the poll interval.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "generator_tick_duration_seconds",
			Help:    "Processing time of one tick: dispatch plus advance.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		ChunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "generator_chunk_submit_duration_seconds",
			Help:    "Duration to submit one chunk to the sink.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		LastRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "generator_dispatch_events_per_second",
			Help: "Throughput of the most recent dispatch.",
		}),
	}

	reg.MustRegister(
		c.FleetSize, c.PollInterval,
		c.EventsSent, c.ChunkFailures, c.SinkBatches, c.SinkConnected,
		c.Ticks, c.Overruns,
		c.TickDuration, c.ChunkDuration, c.LastRate,
	)

	c.FleetSize.Set(float64(fleetSize))
	c.PollInterval.Set(pollInterval.Seconds())

	return c
}

// ObserveChunk implements dispatch.Metrics.
func (c *Collector) ObserveChunk(events int, d time.Duration, err error) {
	c.ChunkDuration.Observe(d.Seconds())
	if err != nil {
		c.ChunkFailures.Inc()
	}
}

// ObserveDispatch implements dispatch.Metrics.
func (c *Collector) ObserveDispatch(r dispatch.Result) {
	c.EventsSent.Add(float64(r.Sent))
	c.SinkBatches.Add(float64(r.Batches))
	c.LastRate.Set(r.EventsPerSecond)
}

// ObserveTick implements feed.Metrics.
func (c *Collector) ObserveTick(d time.Duration, overrun bool) {
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
	if overrun {
		c.Overruns.Inc()
	}
}

// Conn returns a sink.ConnMetrics bound to the named sink.
func (c *Collector) Conn(sink string) *Conn {
	return &Conn{g: c.SinkConnected.WithLabelValues(sink)}
}

type Conn struct{ g prometheus.Gauge }

func (s *Conn) SetConnected(connected bool) {
	if connected {
		s.g.Set(1)
	} else {
		s.g.Set(0)
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server error")
		}
	}()
	log.Infof("metrics listening on %s", addr)
	return srv
}
