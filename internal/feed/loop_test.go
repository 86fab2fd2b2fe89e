package feed

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-generator/internal/dispatch"
	"vehicle-generator/internal/routes"
	"vehicle-generator/internal/sim"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeDispatcher struct {
	clock      *fakeClock
	processing time.Duration
	sent       int
	calls      int
	times      []time.Time
	onCall     func(n int) error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, fleet *sim.Fleet, at time.Time) (dispatch.Result, error) {
	d.calls++
	d.times = append(d.times, at)
	if d.onCall != nil {
		if err := d.onCall(d.calls); err != nil {
			return dispatch.Result{}, err
		}
	}
	if d.clock != nil {
		d.clock.now = d.clock.now.Add(d.processing)
	}
	return dispatch.Result{Sent: d.sent, Chunks: 1}, nil
}

func newFleet(t *testing.T) *sim.Fleet {
	t.Helper()
	f, err := sim.NewFleet("demo-transit", routes.Demo().All(), 5, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	return f
}

// fakeLoop builds a loop on a fake clock; every sleep advances the clock and
// is recorded.
func fakeLoop(t *testing.T, fleet *sim.Fleet, d *fakeDispatcher, o Options) (*Loop, *[]time.Duration) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	d.clock = clock
	var sleeps []time.Duration
	o.Now = clock.Now
	o.Sleep = func(ctx context.Context, dur time.Duration) bool {
		sleeps = append(sleeps, dur)
		clock.now = clock.now.Add(dur)
		return true
	}
	l, err := New(fleet, d, o)
	require.NoError(t, err)
	return l, &sleeps
}

func TestRun_PacesTicks(t *testing.T) {
	d := &fakeDispatcher{processing: 100 * time.Millisecond, sent: 10}
	l, sleeps := fakeLoop(t, newFleet(t), d, Options{Interval: 500 * time.Millisecond, MaxTicks: 5})

	sum, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Ticks)
	assert.Equal(t, 50, sum.Events)
	assert.Zero(t, sum.Overruns)
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 400 * time.Millisecond, 400 * time.Millisecond, 400 * time.Millisecond}, *sleeps)
	assert.Equal(t, 2100*time.Millisecond, sum.Elapsed)
	assert.InDelta(t, 50/2.1, sum.EventsPerSecond, 1e-9)
	assert.InDelta(t, sum.EventsPerSecond*60, sum.PeakPerMinute, 1e-9)
	for i := 1; i < len(d.times); i++ {
		assert.Equal(t, 500*time.Millisecond, d.times[i].Sub(d.times[i-1]))
	}
}

func TestRun_OverrunSkipsSleepAndThrottlesWarnings(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	d := &fakeDispatcher{processing: 600 * time.Millisecond, sent: 1}
	l, sleeps := fakeLoop(t, newFleet(t), d, Options{Interval: 500 * time.Millisecond, MaxTicks: 25, ReportEvery: 10})

	sum, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25, sum.Overruns)
	assert.Empty(t, *sleeps)

	var counts []interface{}
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && e.Message == "tick overran poll interval" {
			counts = append(counts, e.Data["overruns"])
		}
	}
	assert.Equal(t, []interface{}{1, 10, 10}, counts)
}

func TestRun_DispatchErrorStopsLoop(t *testing.T) {
	boom := errors.New("encoder exploded")
	d := &fakeDispatcher{sent: 4, onCall: func(n int) error {
		if n == 3 {
			return boom
		}
		return nil
	}}
	l, _ := fakeLoop(t, newFleet(t), d, Options{Interval: time.Second})

	sum, err := l.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, sum.Ticks)
	assert.Equal(t, 8, sum.Events)
	assert.Equal(t, Stopped, l.State())
}

func TestRun_StopEndsAfterCurrentTick(t *testing.T) {
	d := &fakeDispatcher{sent: 2}
	var l *Loop
	d.onCall = func(n int) error {
		assert.Equal(t, Running, l.State())
		if n == 3 {
			l.Stop()
			l.Stop()
		}
		return nil
	}
	l, _ = fakeLoop(t, newFleet(t), d, Options{Interval: time.Second})

	sum, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Ticks)
	assert.Equal(t, 6, sum.Events)
	assert.Equal(t, Stopped, l.State())
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	d := &fakeDispatcher{}
	var l *Loop
	d.onCall = func(int) error {
		_, err := l.Run(context.Background())
		assert.ErrorIs(t, err, ErrAlreadyRunning)
		return nil
	}
	l, _ = fakeLoop(t, newFleet(t), d, Options{Interval: time.Second, MaxTicks: 1})
	_, err := l.Run(context.Background())
	require.NoError(t, err)
}

func TestRun_CancelInterruptsSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &fakeDispatcher{sent: 1, onCall: func(int) error {
		cancel()
		return nil
	}}
	l, err := New(newFleet(t), d, Options{Interval: time.Hour})
	require.NoError(t, err)

	done := make(chan Summary)
	go func() {
		sum, _ := l.Run(ctx)
		done <- sum
	}()
	select {
	case sum := <-done:
		assert.Equal(t, 1, sum.Ticks)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop on cancellation")
	}
}

func TestRun_AdvancesByInterval(t *testing.T) {
	fleet := newFleet(t)
	mirror := newFleet(t)
	d := &fakeDispatcher{processing: 300 * time.Millisecond}
	l, _ := fakeLoop(t, fleet, d, Options{Interval: 2 * time.Second, MaxTicks: 3})

	_, err := l.Run(context.Background())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		mirror.Advance(2)
	}
	for i, v := range fleet.Vehicles() {
		m := mirror.Vehicles()[i]
		assert.Equal(t, m.WaypointIndex, v.WaypointIndex, v.ID)
		assert.InDelta(t, m.Progress, v.Progress, 1e-12, v.ID)
	}
}

func TestNew_RejectsNonPositiveInterval(t *testing.T) {
	_, err := New(newFleet(t), &fakeDispatcher{}, Options{})
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopped", Stopped.String())
}
