// Package feed runs the real-time loop: dispatch the fleet, advance it by one
// interval, sleep out the rest of the tick.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"vehicle-generator/internal/dispatch"
	"vehicle-generator/internal/sim"
)

const DefaultReportEvery = 10

type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

var ErrAlreadyRunning = errors.New("feed loop already running")

// Dispatcher publishes one snapshot of the fleet.
type Dispatcher interface {
	Dispatch(ctx context.Context, fleet *sim.Fleet, at time.Time) (dispatch.Result, error)
}

type Metrics interface {
	ObserveTick(d time.Duration, overrun bool)
}

type Options struct {
	Interval    time.Duration
	ReportEvery int
	MaxTicks    int // 0 runs until stopped
	Metrics     Metrics
	// Now and Sleep default to the wall clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Summary is returned, and logged, when the loop ends.
type Summary struct {
	Events          int
	Ticks           int
	Overruns        int
	FailedChunks    int
	Elapsed         time.Duration
	EventsPerSecond float64
	PeakPerMinute   float64
}

type Loop struct {
	fleet      *sim.Fleet
	dispatcher Dispatcher
	opts       Options

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
}

func New(fleet *sim.Fleet, d Dispatcher, o Options) (*Loop, error) {
	if o.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", o.Interval)
	}
	if o.ReportEvery <= 0 {
		o.ReportEvery = DefaultReportEvery
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	l := &Loop{fleet: fleet, dispatcher: d, opts: o, stop: make(chan struct{})}
	if l.opts.Sleep == nil {
		l.opts.Sleep = l.sleep
	}
	return l, nil
}

func (l *Loop) State() State { return State(l.state.Load()) }

// Stop requests the loop to end after the current tick. It is safe to call
// from any goroutine, any number of times.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Loop) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-l.stop:
		return true
	default:
		return false
	}
}

// sleep waits for d and reports whether it ran to completion.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-l.stop:
		return false
	case <-t.C:
		return true
	}
}

// Run ticks until Stop, ctx cancellation, MaxTicks or a dispatch error. The
// summary covers every completed tick in all cases.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	if !l.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return Summary{}, ErrAlreadyRunning
	}
	defer l.state.Store(int32(Stopped))

	var (
		sum            Summary
		start          = l.opts.Now()
		dt             = l.opts.Interval.Seconds()
		overrunsQuiet  int
		lastWarnedTick int
		runErr         error
	)
	log.WithFields(log.Fields{
		"vehicles": l.fleet.Len(),
		"agency":   l.fleet.Agency(),
		"interval": l.opts.Interval,
	}).Info("feed started")

	for !l.stopped(ctx) {
		tickStart := l.opts.Now()
		res, err := l.dispatcher.Dispatch(ctx, l.fleet, tickStart)
		if err != nil {
			runErr = fmt.Errorf("tick %d: %w", sum.Ticks+1, err)
			break
		}
		sum.Events += res.Sent
		sum.FailedChunks += res.FailedChunks
		sum.Ticks++

		l.fleet.Advance(dt)

		if sum.Ticks%l.opts.ReportEvery == 0 {
			elapsed := l.opts.Now().Sub(start)
			log.WithFields(log.Fields{
				"ticks":  sum.Ticks,
				"events": sum.Events,
				"rate":   fmt.Sprintf("%.0f/s", perSecond(sum.Events, elapsed)),
			}).Info("feed progress")
		}

		processing := l.opts.Now().Sub(tickStart)
		overrun := processing > l.opts.Interval
		if l.opts.Metrics != nil {
			l.opts.Metrics.ObserveTick(processing, overrun)
		}
		if overrun {
			sum.Overruns++
			overrunsQuiet++
			if lastWarnedTick == 0 || sum.Ticks-lastWarnedTick >= l.opts.ReportEvery {
				log.WithFields(log.Fields{
					"tick":       sum.Ticks,
					"processing": processing,
					"interval":   l.opts.Interval,
					"overruns":   overrunsQuiet,
				}).Warn("tick overran poll interval")
				lastWarnedTick = sum.Ticks
				overrunsQuiet = 0
			}
		}
		if l.opts.MaxTicks > 0 && sum.Ticks >= l.opts.MaxTicks {
			break
		}
		if !overrun && !l.opts.Sleep(ctx, l.opts.Interval-processing) {
			break
		}
	}

	sum.Elapsed = l.opts.Now().Sub(start)
	sum.EventsPerSecond = perSecond(sum.Events, sum.Elapsed)
	sum.PeakPerMinute = sum.EventsPerSecond * 60
	entry := log.WithFields(log.Fields{
		"events":   sum.Events,
		"ticks":    sum.Ticks,
		"overruns": sum.Overruns,
		"elapsed":  sum.Elapsed.Round(time.Millisecond),
		"rate":     fmt.Sprintf("%.0f/s", sum.EventsPerSecond),
		"peak":     fmt.Sprintf("%.0f/min", sum.PeakPerMinute),
	})
	if runErr != nil {
		entry.WithError(runErr).Error("feed stopped")
	} else {
		entry.Info("feed stopped")
	}
	return sum, runErr
}

func perSecond(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
