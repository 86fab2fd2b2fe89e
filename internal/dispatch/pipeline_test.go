package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-generator/internal/event"
	"vehicle-generator/internal/routes"
	"vehicle-generator/internal/sim"
	"vehicle-generator/internal/sink"
)

var tickTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFleet(t *testing.T, n int) *sim.Fleet {
	t.Helper()
	f, err := sim.NewFleet("demo-transit", routes.Demo().All(), n, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	return f
}

func newPipeline(s sink.Sink, o Options) *Pipeline {
	return New(s, event.NewEncoder("test", event.FormatJSON), o)
}

type recorder struct {
	mu         sync.Mutex
	chunks     int
	chunkErrs  int
	dispatches []Result
}

func (r *recorder) ObserveChunk(events int, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks++
	if err != nil {
		r.chunkErrs++
	}
}

func (r *recorder) ObserveDispatch(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, res)
}

func TestDispatch_SmallFleet(t *testing.T) {
	mem := sink.NewMemory(sink.Limits{}, true)
	res, err := newPipeline(mem, Options{}).Dispatch(context.Background(), newFleet(t, 3), tickTime)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 1, res.Batches)
	assert.Zero(t, res.FailedChunks)
	opened, sent, events := mem.Stats()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 3, events)
}

func TestDispatch_ChunksFleet(t *testing.T) {
	mem := sink.NewMemory(sink.Limits{}, true)
	res, err := newPipeline(mem, Options{}).Dispatch(context.Background(), newFleet(t, 250), tickTime)
	require.NoError(t, err)

	assert.Equal(t, 250, res.Sent)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, res.Batches)

	sizes := map[int]int{}
	for _, b := range mem.Batches() {
		sizes[len(b)]++
	}
	assert.Equal(t, map[int]int{100: 2, 50: 1}, sizes)
}

func TestDispatch_FullBatchIsSentAndReopened(t *testing.T) {
	mem := sink.NewMemory(sink.Limits{MaxEvents: 3}, true)
	res, err := newPipeline(mem, Options{ChunkSize: 5}).Dispatch(context.Background(), newFleet(t, 5), tickTime)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Sent)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 2, res.Batches)
	batches := mem.Batches()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 2)
}

func TestDispatch_TwoEventBatchesInChunkOfFive(t *testing.T) {
	mem := sink.NewMemory(sink.Limits{MaxEvents: 2}, true)
	res, err := newPipeline(mem, Options{ChunkSize: 5}).Dispatch(context.Background(), newFleet(t, 5), tickTime)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Sent)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 3, res.Batches)
	assert.Zero(t, res.FailedChunks)
	batches := mem.Batches()
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
	opened, sent, events := mem.Stats()
	assert.Equal(t, 3, opened)
	assert.Equal(t, 3, sent)
	assert.Equal(t, 5, events)
}

func TestDispatch_FailedChunkCountsZero(t *testing.T) {
	mem := sink.NewMemory(sink.Limits{}, false)
	mem.FailSend = func(msgs []*event.Message) error {
		if msgs[0].Position.VehicleID == "vehicle-101" {
			return errors.New("broker unavailable")
		}
		return nil
	}
	rec := &recorder{}
	res, err := newPipeline(mem, Options{Metrics: rec}).Dispatch(context.Background(), newFleet(t, 250), tickTime)
	require.NoError(t, err)

	assert.Equal(t, 150, res.Sent)
	assert.Equal(t, 1, res.FailedChunks)
	assert.Equal(t, 3, rec.chunks)
	assert.Equal(t, 1, rec.chunkErrs)
	require.Len(t, rec.dispatches, 1)
	assert.Equal(t, res.Sent, rec.dispatches[0].Sent)
}

func TestDispatch_EventTooLargeFailsEveryChunk(t *testing.T) {
	mem := sink.NewMemory(sink.Limits{MaxBytes: 1}, false)
	res, err := newPipeline(mem, Options{ChunkSize: 10}).Dispatch(context.Background(), newFleet(t, 25), tickTime)
	require.NoError(t, err)

	assert.Zero(t, res.Sent)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, res.FailedChunks)
	_, sent, _ := mem.Stats()
	assert.Zero(t, sent)
}

func TestSubmitChunk_EventTooLarge(t *testing.T) {
	mem := sink.NewMemory(sink.Limits{MaxBytes: 1}, false)
	p := newPipeline(mem, Options{})
	msg, err := event.NewEncoder("test", event.FormatJSON).Encode(event.Position{VehicleID: "vehicle-001"}, event.NewTick(tickTime))
	require.NoError(t, err)

	_, _, err = p.submitChunk(context.Background(), []*event.Message{msg})
	assert.ErrorIs(t, err, sink.ErrEventTooLarge)
}

func TestDispatch_PreservesVehicleOrder(t *testing.T) {
	mem := sink.NewMemory(sink.Limits{MaxEvents: 7}, true)
	_, err := newPipeline(mem, Options{ChunkSize: 20, SubmitConcurrency: 1}).
		Dispatch(context.Background(), newFleet(t, 45), tickTime)
	require.NoError(t, err)

	var ids []string
	for _, b := range mem.Batches() {
		for _, m := range b {
			ids = append(ids, m.Position.VehicleID)
		}
	}
	require.Len(t, ids, 45)
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("vehicle-%03d", i+1), id)
	}
}

func TestDispatch_SharedTimestamp(t *testing.T) {
	mem := sink.NewMemory(sink.Limits{}, true)
	fleet := newFleet(t, 120)
	_, err := newPipeline(mem, Options{}).Dispatch(context.Background(), fleet, tickTime)
	require.NoError(t, err)

	want := event.NewTick(tickTime).ISO
	seen := map[string]bool{}
	for _, b := range mem.Batches() {
		for _, m := range b {
			assert.Equal(t, want, m.Position.Timestamp)
			assert.Equal(t, want, m.Envelope.Time)
			assert.True(t, m.Position.Predictable)
			v, ok := fleet.Get(m.Position.VehicleID)
			require.True(t, ok)
			assert.Equal(t, v.Route.Tag, m.Position.RouteTag)
			assert.False(t, seen[m.Envelope.ID], "event ids are unique")
			seen[m.Envelope.ID] = true
		}
	}
	assert.Len(t, seen, 120)
}

func TestDispatch_CancelledContextCompletesTick(t *testing.T) {
	mem := sink.NewMemory(sink.Limits{}, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newPipeline(mem, Options{}).Dispatch(ctx, newFleet(t, 10), tickTime)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Sent)
}

func TestSplit(t *testing.T) {
	msgs := make([]*event.Message, 250)
	chunks := split(msgs, 100)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[2], 50)
	assert.Empty(t, split(nil, 100))
	assert.Len(t, split(make([]*event.Message, 100), 100), 1)
}
