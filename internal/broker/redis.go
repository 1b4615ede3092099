package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redpen-ai/redpen/internal/review"
)

// RedisBroker implements Stream and ResultStore on go-redis v9.
type RedisBroker struct {
	rdb *redis.Client
}

// Connect dials Redis and pings it before handing the broker out.
func Connect(addr, password string, db int) (*RedisBroker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  10 * time.Second, // must exceed the longest XREADGROUP block
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &RedisBroker{rdb: rdb}, nil
}

// NewRedisBroker wraps an existing client (used by the idempotency keeper
// so both share one pool).
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

// Client exposes the underlying go-redis client for collaborators that need
// raw commands (idempotency SetNX).
func (b *RedisBroker) Client() *redis.Client { return b.rdb }

func (b *RedisBroker) Close() error { return b.rdb.Close() }

// ============================================================================
// Stream
// ============================================================================

func (b *RedisBroker) Publish(ctx context.Context, streamKey string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd %s: %v", review.ErrBrokerUnavailable, streamKey, err)
	}
	return id, nil
}

func (b *RedisBroker) ReadBatch(ctx context.Context, streamKey, group, consumerID string, maxCount int64, blockFor time.Duration) ([]StreamRecord, error) {
	streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumerID,
		Streams:  []string{streamKey, ">"},
		Count:    maxCount,
		Block:    blockFor,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // block timeout, nothing new
		}
		if isNoGroupError(err) {
			// Stream or group vanished under us (flush, failover); the
			// caller re-runs EnsureGroup on the next tick.
			return nil, nil
		}
		return nil, fmt.Errorf("%w: xreadgroup %s: %v", review.ErrBrokerUnavailable, streamKey, err)
	}

	var records []StreamRecord
	for _, s := range streams {
		for _, msg := range s.Messages {
			records = append(records, StreamRecord{
				RecordID: msg.ID,
				Fields:   stringFields(msg.Values),
			})
		}
	}
	return records, nil
}

func (b *RedisBroker) Acknowledge(ctx context.Context, streamKey, group, recordID string) error {
	acked, err := b.rdb.XAck(ctx, streamKey, group, recordID).Result()
	if err != nil {
		return fmt.Errorf("%w: xack %s/%s: %v", review.ErrBrokerUnavailable, streamKey, recordID, err)
	}
	if acked == 0 {
		slog.Debug("record already acknowledged", "stream", streamKey, "record_id", recordID)
	}
	return nil
}

func (b *RedisBroker) EnsureGroup(ctx context.Context, streamKey, group, startFrom string) error {
	if startFrom == "" {
		startFrom = "0"
	}
	err := b.rdb.XGroupCreateMkStream(ctx, streamKey, group, startFrom).Err()
	if err != nil && !IsGroupExistsError(err) {
		return fmt.Errorf("%w: create group %s on %s: %v", review.ErrBrokerUnavailable, group, streamKey, err)
	}
	return nil
}

// ============================================================================
// ResultStore
// ============================================================================

func (b *RedisBroker) PutHash(ctx context.Context, key string, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	if err := b.rdb.HSet(ctx, key, values).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

func (b *RedisBroker) GetHash(ctx context.Context, key string) (map[string]string, error) {
	m, err := b.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return m, nil
}

func (b *RedisBroker) ExpireKey(ctx context.Context, key string, ttl time.Duration) error {
	if err := b.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

func (b *RedisBroker) PublishTopic(ctx context.Context, channel, payload string) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) SubscribePattern(ctx context.Context, pattern string, handler func(channel, payload string)) (func(), error) {
	sub := b.rdb.PSubscribe(ctx, pattern)

	// Wait for the subscription confirmation before returning.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler(msg.Channel, msg.Payload)
		}
	}()

	return func() { sub.Close() }, nil
}

// ============================================================================
// Error classification
// ============================================================================

// IsGroupExistsError reports whether err is Redis' BUSYGROUP reply, which
// EnsureGroup treats as success.
func IsGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNoGroupError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

func stringFields(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
