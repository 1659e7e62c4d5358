package redis

import (
	"context"
	"time"

	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/redis/go-redis/v9"
)

// StreamAdder is the subset of the Redis client the producer needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamProducer publishes each message as a stream entry named after the
// topic. The entry id returned by XADD is the acknowledgment.
type StreamProducer struct {
	client StreamAdder
	maxLen int64
	now    func() time.Time
}

// NewStreamProducer creates a producer. A positive maxLen trims streams
// approximately to that length.
func NewStreamProducer(client StreamAdder, maxLen int64) *StreamProducer {
	return &StreamProducer{client: client, maxLen: maxLen, now: time.Now}
}

// Send issues XADD in the background. The command outlives ctx so that an
// abandoned wait does not abort a write Redis may already have applied.
func (p *StreamProducer) Send(ctx context.Context, topic string, key, value []byte) (dualwrite.Future, error) {
	args := &redis.XAddArgs{
		Stream: topic,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: map[string]any{
			"key":       string(key),
			"value":     string(value),
			"timestamp": p.now().Unix(),
		},
	}

	promise := dualwrite.NewPromise()
	bg := context.WithoutCancel(ctx)
	go func() {
		promise.Resolve(p.client.XAdd(bg, args).Err())
	}()
	return promise, nil
}
