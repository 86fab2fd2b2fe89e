// Package dispatch turns one fleet snapshot into sink batches: encode every
// vehicle concurrently, split the events into fixed-size chunks and submit the
// chunks with bounded concurrency.
package dispatch

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"vehicle-generator/internal/event"
	"vehicle-generator/internal/sim"
	"vehicle-generator/internal/sink"
)

const (
	DefaultChunkSize         = 100
	DefaultEncodeConcurrency = 100
	DefaultSubmitConcurrency = 10
)

// Metrics receives per-chunk and per-tick observations. All methods may be
// called from several goroutines.
type Metrics interface {
	ObserveChunk(events int, d time.Duration, err error)
	ObserveDispatch(r Result)
}

type Options struct {
	ChunkSize         int
	EncodeConcurrency int
	SubmitConcurrency int
	Metrics           Metrics
}

// Result is the outcome of one dispatch.
type Result struct {
	Sent            int
	Chunks          int
	FailedChunks    int
	Batches         int
	Elapsed         time.Duration
	EventsPerSecond float64
}

type Pipeline struct {
	sink    sink.Sink
	encoder *event.Encoder
	opts    Options
}

func New(s sink.Sink, enc *event.Encoder, o Options) *Pipeline {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.EncodeConcurrency <= 0 {
		o.EncodeConcurrency = DefaultEncodeConcurrency
	}
	if o.SubmitConcurrency <= 0 {
		o.SubmitConcurrency = DefaultSubmitConcurrency
	}
	return &Pipeline{sink: s, encoder: enc, opts: o}
}

type chunkResult struct {
	sent    int
	batches int
	err     error
}

// Dispatch publishes the current position of every vehicle, all stamped with
// at. Chunk failures are logged and counted as zero events; only an encode
// failure is returned as an error.
func (p *Pipeline) Dispatch(ctx context.Context, fleet *sim.Fleet, at time.Time) (Result, error) {
	start := time.Now()
	tick := event.NewTick(at)

	msgs, err := p.encodeAll(fleet, tick)
	if err != nil {
		return Result{}, err
	}

	chunks := split(msgs, p.opts.ChunkSize)
	results := make([]chunkResult, len(chunks))

	// In-flight submissions finish even when the run is being cancelled.
	sctx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(p.opts.SubmitConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			cs := time.Now()
			sent, batches, err := p.submitChunk(sctx, chunk)
			if err != nil {
				log.WithError(err).WithFields(log.Fields{
					"chunk":  i,
					"events": len(chunk),
				}).Error("chunk submission failed")
				sent = 0
			}
			results[i] = chunkResult{sent: sent, batches: batches, err: err}
			if p.opts.Metrics != nil {
				p.opts.Metrics.ObserveChunk(sent, time.Since(cs), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Chunks: len(chunks)}
	for _, r := range results {
		res.Sent += r.sent
		res.Batches += r.batches
		if r.err != nil {
			res.FailedChunks++
		}
	}
	res.Elapsed = time.Since(start)
	if s := res.Elapsed.Seconds(); s > 0 {
		res.EventsPerSecond = float64(res.Sent) / s
	}

	log.WithFields(log.Fields{
		"sent":    res.Sent,
		"chunks":  res.Chunks,
		"failed":  res.FailedChunks,
		"batches": res.Batches,
		"elapsed": res.Elapsed,
		"rate":    fmt.Sprintf("%.0f/s", res.EventsPerSecond),
	}).Debug("dispatch complete")
	if p.opts.Metrics != nil {
		p.opts.Metrics.ObserveDispatch(res)
	}
	return res, nil
}

// encodeAll builds one message per vehicle, in fleet order. A tick that has
// started is always encoded in full.
func (p *Pipeline) encodeAll(fleet *sim.Fleet, tick event.Tick) ([]*event.Message, error) {
	vehicles := fleet.Vehicles()
	msgs := make([]*event.Message, len(vehicles))

	var g errgroup.Group
	g.SetLimit(p.opts.EncodeConcurrency)
	for i, v := range vehicles {
		pos := v.Position()
		snapshot := event.Position{
			Agency:    fleet.Agency(),
			RouteTag:  v.Route.Tag,
			VehicleID: v.ID,
			Lat:       pos.Lat,
			Lon:       pos.Lon,
			Heading:   v.Heading,
			SpeedKmHr: v.SpeedKmHr,
		}
		g.Go(func() error {
			msg, err := p.encoder.Encode(snapshot, tick)
			if err != nil {
				return err
			}
			msgs[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("encode tick: %w", err)
	}
	return msgs, nil
}

// submitChunk adds the chunk to sink batches in order, sending whenever a
// batch fills up. It returns events and batches sent.
func (p *Pipeline) submitChunk(ctx context.Context, chunk []*event.Message) (int, int, error) {
	batch, err := p.sink.OpenBatch(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("open batch: %w", err)
	}
	sent, batches := 0, 0
	for _, msg := range chunk {
		if batch.Add(msg) == sink.Added {
			continue
		}
		if batch.Len() == 0 {
			return sent, batches, fmt.Errorf("%w: %s (%d bytes)", sink.ErrEventTooLarge, msg.Position.VehicleID, msg.Size())
		}
		n := batch.Len()
		if err := p.sink.SendBatch(ctx, batch); err != nil {
			return sent, batches, fmt.Errorf("send batch: %w", err)
		}
		sent += n
		batches++
		if batch, err = p.sink.OpenBatch(ctx); err != nil {
			return sent, batches, fmt.Errorf("open batch: %w", err)
		}
		if batch.Add(msg) != sink.Added {
			return sent, batches, fmt.Errorf("%w: %s (%d bytes)", sink.ErrEventTooLarge, msg.Position.VehicleID, msg.Size())
		}
	}
	if n := batch.Len(); n > 0 {
		if err := p.sink.SendBatch(ctx, batch); err != nil {
			return sent, batches, fmt.Errorf("send batch: %w", err)
		}
		sent += n
		batches++
	}
	return sent, batches, nil
}

func split(msgs []*event.Message, size int) [][]*event.Message {
	chunks := make([][]*event.Message, 0, (len(msgs)+size-1)/size)
	for size < len(msgs) {
		msgs, chunks = msgs[size:], append(chunks, msgs[:size:size])
	}
	if len(msgs) > 0 {
		chunks = append(chunks, msgs)
	}
	return chunks
}
