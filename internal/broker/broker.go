// Package broker wraps the two Redis databases the pipeline runs on: the
// queue DB carries the per-transport work lists, the dead-letter list and
// the realtime pub/sub channel; the cache DB holds short-lived telemetry
// lookups. Everything here is a thin layer over go-redis so callers deal
// in envelopes and queue names, not connections.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrEncode marks a failure to serialize a value before it reached Redis.
// The ingress maps it to 500; anything else from this package means the
// broker itself misbehaved and maps to 503.
var ErrEncode = errors.New("broker: encode failed")

// Broker is safe for concurrent use; both underlying clients pool
// connections internally.
type Broker struct {
	queue *redis.Client
	cache *redis.Client
	log   *zap.Logger
}

// New connects to the Redis at redisURL twice, once per logical database.
// The URL's own db path segment, if any, is overridden by queueDB/cacheDB.
func New(redisURL string, queueDB, cacheDB int, log *zap.Logger) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	queueOpts := *opts
	queueOpts.DB = queueDB
	cacheOpts := *opts
	cacheOpts.DB = cacheDB

	return &Broker{
		queue: redis.NewClient(&queueOpts),
		cache: redis.NewClient(&cacheOpts),
		log:   log,
	}, nil
}

// Enqueue appends v to the named list and returns the list's new length,
// which doubles as the caller's position in line.
func (b *Broker) Enqueue(ctx context.Context, queue string, v any) (int64, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	n, err := b.queue.RPush(ctx, queue, raw).Result()
	if err != nil {
		return 0, fmt.Errorf("rpush %s: %w", queue, err)
	}
	return n, nil
}

// EnqueueFront pushes already-serialized bytes back onto the head of a
// list. The dispatcher uses it to hand back envelopes it popped but could
// not finish, so they are first out again after a restart.
func (b *Broker) EnqueueFront(ctx context.Context, queue string, raw []byte) error {
	if err := b.queue.LPush(ctx, queue, raw).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", queue, err)
	}
	return nil
}

// popPollInterval bounds each BLPOP so cancellation is honored between
// polls. A blocked BLPOP cannot be interrupted mid-read; without the
// bound a canceled caller would hang until the next element arrived.
const popPollInterval = 5 * time.Second

// PopAny blocks until any of the given lists has an element, then pops
// and returns the list name alongside the element. Lists are checked in
// the order given, so earlier names win when several are non-empty. The
// block has no overall deadline; cancel ctx to abort.
func (b *Broker) PopAny(ctx context.Context, queues ...string) (string, []byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		vals, err := b.queue.BLPop(ctx, popPollInterval, queues...).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("blpop: %w", err)
		}
		// BLPOP replies [list, element].
		if len(vals) != 2 {
			return "", nil, fmt.Errorf("blpop: unexpected reply of %d values", len(vals))
		}
		return vals[0], []byte(vals[1]), nil
	}
}

// QueueLen reports the current depth of a list.
func (b *Broker) QueueLen(ctx context.Context, queue string) (int64, error) {
	n, err := b.queue.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", queue, err)
	}
	return n, nil
}

// Publish serializes v and fires it at every subscriber of the channel.
// Delivery is best-effort; with no subscribers the message is gone.
func (b *Broker) Publish(ctx context.Context, channel string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if err := b.queue.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription on the queue DB. The caller owns
// the returned handle and must Close it.
func (b *Broker) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return b.queue.Subscribe(ctx, channel)
}

// CacheGet looks a key up in the cache DB. The second return is false on a
// miss; a miss is not an error.
func (b *Broker) CacheGet(ctx context.Context, key string) (string, bool, error) {
	val, err := b.cache.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

// CacheSet stores a value in the cache DB with the given TTL.
func (b *Broker) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.cache.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Ping verifies both databases answer.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.queue.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue db: %w", err)
	}
	if err := b.cache.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache db: %w", err)
	}
	return nil
}

// Close releases both connection pools.
func (b *Broker) Close() error {
	qErr := b.queue.Close()
	cErr := b.cache.Close()
	if qErr != nil {
		return qErr
	}
	return cErr
}
