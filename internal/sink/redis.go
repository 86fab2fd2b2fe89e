package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"vehicle-generator/internal/event"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64 // approximate stream cap, 0 keeps everything
	Limits   Limits
}

// Redis appends events to a stream. One batch is one pipelined round trip of
// XADD commands.
type Redis struct {
	client  *redis.Client
	opts    RedisOptions
	metrics ConnMetrics
	once    sync.Once
}

func NewRedis(ctx context.Context, o RedisOptions, m ConnMetrics) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     20,
		MinIdleConns: 5,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if m != nil {
		m.SetConnected(true)
	}
	return &Redis{client: client, opts: o, metrics: m}, nil
}

func (r *Redis) OpenBatch(ctx context.Context) (Batch, error) {
	return newBoundedBatch(r.opts.Limits), nil
}

func (r *Redis) SendBatch(ctx context.Context, b Batch) error {
	bb, err := asBounded(b)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	for _, m := range bb.Messages() {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.opts.Stream,
			MaxLen: r.opts.MaxLen,
			Approx: r.opts.MaxLen > 0,
			Values: redisFields(m),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed (batch=%d): %w", bb.Len(), err)
	}
	return nil
}

func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		err = r.client.Close()
		if r.metrics != nil {
			r.metrics.SetConnected(false)
		}
	})
	return err
}

// redisFields flattens the envelope next to the payload so stream consumers
// can filter without decoding the body.
func redisFields(m *event.Message) map[string]interface{} {
	fields := make(map[string]interface{}, 9)
	for k, v := range m.Envelope.Headers() {
		fields[k] = v
	}
	fields["routeTag"] = m.Position.RouteTag
	fields["data"] = m.Body
	return fields
}
