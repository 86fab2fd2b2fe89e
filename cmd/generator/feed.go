package main

import (
	"context"
	"flag"
	"io"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"vehicle-generator/internal/config"
	"vehicle-generator/internal/dispatch"
	"vehicle-generator/internal/event"
	"vehicle-generator/internal/feed"
	"vehicle-generator/internal/metrics"
	"vehicle-generator/internal/routes"
	"vehicle-generator/internal/sim"
	"vehicle-generator/internal/sink"
)

const sinkConnectTimeout = 30 * time.Second

func runFeed(args []string, verbose bool, stderr io.Writer) int {
	// Load configuration from .env and environment; flags override it.
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("config error")
		return 1
	}

	fs := flag.NewFlagSet("feed", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Agency, "agency", cfg.Agency, "transit agency identifier (required)")
	fs.StringVar(&cfg.RouteTag, "route", cfg.RouteTag, "route tag, or "+routes.AllRoutes)
	fs.IntVar(&cfg.Vehicles, "vehicles", cfg.Vehicles, "number of vehicles to simulate")
	pollSeconds := fs.Float64("poll-interval", cfg.PollInterval.Seconds(), "seconds between event batches")
	fs.BoolVar(&cfg.HighPerformance, "high-performance", cfg.HighPerformance, "raise default vehicles and cadence for maximum throughput")
	fs.StringVar(&cfg.Sink, "sink", cfg.Sink, "event sink: nats, redis, mqtt, postgres, mongo, websocket or discard")
	fs.StringVar(&cfg.EventFormat, "format", cfg.EventFormat, "event body format: json or gtfsrt")
	fs.IntVar(&cfg.MaxTicks, "ticks", cfg.MaxTicks, "stop after this many ticks (0 runs until interrupted)")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for the initial fleet state")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	fs.BoolVar(&verbose, "v", verbose, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg.PollInterval = time.Duration(*pollSeconds * float64(time.Second))

	setupLogging(cfg.LogLevel, cfg.LogFormat, verbose)

	if cfg.HighPerformance {
		cfg.ApplyHighPerformance()
		log.WithFields(log.Fields{
			"vehicles": cfg.Vehicles,
			"interval": cfg.PollInterval,
		}).Info("high-performance mode enabled")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("cannot start feed")
		return 1
	}
	format, err := event.ParseFormat(cfg.EventFormat)
	if err != nil {
		log.WithError(err).Error("cannot start feed")
		return 1
	}
	warnThroughput(cfg.ExpectedThroughput())

	candidates, fellBack := routes.Demo().Select(cfg.RouteTag)
	if fellBack {
		log.Warnf("no routes found for route tag %q, using %q", cfg.RouteTag, candidates[0].Tag)
	}
	fleet, err := sim.NewFleet(cfg.Agency, candidates, cfg.Vehicles, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		log.WithError(err).Error("fleet setup failed")
		return 1
	}
	log.Infof("set up %d vehicles across %d routes", fleet.Len(), len(fleet.Routes()))

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.Vehicles, cfg.PollInterval)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, sinkConnectTimeout)
	s, err := sink.Open(connectCtx, cfg, wrapConnMetrics(mcol, cfg.Sink))
	connectCancel()
	if err != nil {
		log.WithError(err).Errorf("%s sink error", cfg.Sink)
		return 1
	}
	defer s.Close()

	pipeline := dispatch.New(s, event.NewEncoder(cfg.EventSource, format), dispatch.Options{
		ChunkSize:         cfg.ChunkSize,
		EncodeConcurrency: cfg.EncodeConcurrency,
		SubmitConcurrency: cfg.SubmitConcurrency,
		Metrics:           wrapDispatchMetrics(mcol),
	})
	loop, err := feed.New(fleet, pipeline, feed.Options{
		Interval:    cfg.PollInterval,
		ReportEvery: cfg.ReportEvery,
		MaxTicks:    cfg.MaxTicks,
		Metrics:     wrapFeedMetrics(mcol),
	})
	if err != nil {
		log.WithError(err).Error("cannot start feed")
		return 1
	}

	log.WithFields(log.Fields{
		"agency":     cfg.Agency,
		"route":      cfg.RouteTag,
		"vehicles":   cfg.Vehicles,
		"interval":   cfg.PollInterval,
		"throughput": cfg.ExpectedThroughput(),
		"sink":       cfg.Sink,
		"format":     format,
	}).Info("starting vehicle event generator, press Ctrl+C to stop")

	if _, err := loop.Run(ctx); err != nil {
		return 1
	}
	log.Info("shutdown complete")
	return 0
}

func warnThroughput(eventsPerSecond float64) {
	switch {
	case eventsPerSecond > 10000:
		log.Warnf("very high throughput expected (%.0f events/sec), make sure the sink can absorb it", eventsPerSecond)
	case eventsPerSecond > 5000:
		log.Warnf("high throughput: %.0f events/sec expected", eventsPerSecond)
	}
}

// The wrap helpers keep a nil Collector from turning into a non-nil
// interface value.

func wrapConnMetrics(c *metrics.Collector, sinkName string) sink.ConnMetrics {
	if c == nil {
		return nil
	}
	return c.Conn(sinkName)
}

func wrapDispatchMetrics(c *metrics.Collector) dispatch.Metrics {
	if c == nil {
		return nil
	}
	return c
}

func wrapFeedMetrics(c *metrics.Collector) feed.Metrics {
	if c == nil {
		return nil
	}
	return c
}
