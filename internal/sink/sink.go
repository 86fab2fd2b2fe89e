// Package sink defines the batch-oriented contract the dispatch pipeline
// publishes through, and its transport implementations.
package sink

import (
	"context"
	"errors"
	"fmt"

	"vehicle-generator/internal/config"
	"vehicle-generator/internal/event"
)

// AddResult reports whether a message fit in a batch.
type AddResult int

const (
	Added AddResult = iota
	Full
)

func (r AddResult) String() string {
	if r == Added {
		return "added"
	}
	return "full"
}

// Errors shared by every sink. ErrEventTooLarge means an empty batch rejected
// a message, which therefore can never be sent.
var (
	ErrClosed        = errors.New("sink closed")
	ErrForeignBatch  = errors.New("batch was not opened by this sink")
	ErrEventTooLarge = errors.New("event exceeds sink batch limits")
)

// Batch collects messages until the transport's size limit is reached. A
// batch belongs to a single goroutine from open to send.
type Batch interface {
	Add(msg *event.Message) AddResult
	Len() int
}

type Sink interface {
	OpenBatch(ctx context.Context) (Batch, error)
	SendBatch(ctx context.Context, b Batch) error
	// Close releases connections. Calling it more than once is safe.
	Close() error
}

// ConnMetrics receives connection state changes from network sinks.
type ConnMetrics interface {
	SetConnected(connected bool)
}

// Limits bounds a batch by message count and payload bytes. Zero disables
// a bound.
type Limits struct {
	MaxEvents int
	MaxBytes  int
}

// boundedBatch is the in-process batch shared by every transport; each sink
// converts it to its wire representation on send.
type boundedBatch struct {
	limits Limits
	msgs   []*event.Message
	bytes  int
}

func newBoundedBatch(l Limits) *boundedBatch {
	n := l.MaxEvents
	if n <= 0 || n > 1024 {
		n = 64
	}
	return &boundedBatch{limits: l, msgs: make([]*event.Message, 0, n)}
}

func (b *boundedBatch) Add(msg *event.Message) AddResult {
	if b.limits.MaxEvents > 0 && len(b.msgs)+1 > b.limits.MaxEvents {
		return Full
	}
	if b.limits.MaxBytes > 0 && b.bytes+msg.Size() > b.limits.MaxBytes {
		return Full
	}
	b.msgs = append(b.msgs, msg)
	b.bytes += msg.Size()
	return Added
}

func (b *boundedBatch) Len() int { return len(b.msgs) }

func (b *boundedBatch) Messages() []*event.Message { return b.msgs }

func asBounded(b Batch) (*boundedBatch, error) {
	bb, ok := b.(*boundedBatch)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignBatch, b)
	}
	return bb, nil
}

// Open connects the sink selected by cfg.Sink. A sink that cannot reach or
// bind its location is an error; nothing is returned half-open.
func Open(ctx context.Context, cfg *config.Config, m ConnMetrics) (Sink, error) {
	limits := Limits{MaxEvents: cfg.MaxBatchEvents, MaxBytes: cfg.MaxBatchBytes}
	var (
		s   Sink
		err error
	)
	switch cfg.Sink {
	case config.SinkNATS:
		s, err = NewNATS(cfg.NATSURL, NATSOptions{
			SubjectPrefix: cfg.NATSSubjectPrefix,
			CredsFile:     cfg.NATSCreds,
			LogSubjects:   cfg.LogNATSSubjects,
			Limits:        limits,
		}, m)
	case config.SinkRedis:
		s, err = NewRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
			MaxLen:   cfg.RedisStreamMax,
			Limits:   limits,
		}, m)
	case config.SinkMQTT:
		s, err = NewMQTT(MQTTOptions{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			QoS:         byte(cfg.MQTTQoS),
			Limits:      limits,
		}, m)
	case config.SinkPostgres:
		s, err = NewPostgres(ctx, cfg.DatabaseURL, cfg.PGTable, limits)
	case config.SinkMongo:
		s, err = NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, limits)
	case config.SinkWebSocket:
		s, err = NewWebSocket(cfg.WSAddr, cfg.WSPath, limits, m)
	case config.SinkDiscard:
		s = NewMemory(limits, false)
	default:
		return nil, fmt.Errorf("%w: unknown sink %q", config.ErrSinkConfig, cfg.Sink)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
