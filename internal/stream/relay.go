package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayStreamPrefix = "lexforge:run:"

// RedisRelay mirrors run events onto per-run Redis Streams so out-of-process
// consumers (audit tails, dashboards) can follow a run without holding the
// in-process subscription. Publishing never blocks the run's hot path: events
// are queued and a single worker appends them in publish order, so relayed
// Seq values land in the stream monotonically. When the queue is full the
// event is dropped rather than stalling the run.
type RedisRelay struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewRedisRelay connects to Redis and returns a relay.
func NewRedisRelay(redisURL string, logger *zap.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	r := &RedisRelay{
		rdb:    rdb,
		logger: logger,
		queue:  make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r, nil
}

// Publish queues one event for the relay worker. Non-blocking; events are
// dropped when the worker falls too far behind.
func (r *RedisRelay) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.logger.Warn("relay queue full, event dropped",
			zap.String("run_id", ev.RunID),
			zap.String("type", string(ev.Type)),
			zap.Uint64("seq", ev.Seq))
	}
}

// drain appends queued events one at a time, preserving publish order.
func (r *RedisRelay) drain() {
	defer close(r.done)
	for ev := range r.queue {
		data, err := json.Marshal(ev)
		if err != nil {
			r.logger.Warn("relay marshal failed", zap.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: relayStreamPrefix + ev.RunID,
			Values: map[string]interface{}{"data": string(data)},
		}).Err()
		cancel()
		if err != nil {
			r.logger.Warn("relay publish failed",
				zap.String("run_id", ev.RunID),
				zap.Error(err))
		}
	}
}

// Tail reads events already relayed for a run, from the stream's beginning.
// Used by audit consumers, not by the live SSE path.
func (r *RedisRelay) Tail(ctx context.Context, runID string, limit int64) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := r.rdb.XRangeN(ctx, relayStreamPrefix+runID, "-", "+", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("tail run %s: %w", runID, err)
	}
	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var ev Event
		if json.Unmarshal([]byte(data), &ev) == nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Close flushes the queue and shuts down the Redis connection.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
	return r.rdb.Close()
}
