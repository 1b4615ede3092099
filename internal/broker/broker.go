// Package broker is the thin gateway over the durable stream (consumer
// groups, explicit acknowledgement) and the result store (hash + pub/sub)
// that every service talks through. The Redis implementation lives here;
// the ports exist so workers and publishers can be tested against fakes.
package broker

import (
	"context"
	"time"
)

// StreamRecord is one delivered stream entry. Fields carries the string
// field map the producer wrote ("requestId", "payload").
type StreamRecord struct {
	RecordID string
	Fields   map[string]string
}

// Stream is the consumer-group stream surface.
type Stream interface {
	// Publish appends fields to streamKey and returns the record id.
	Publish(ctx context.Context, streamKey string, fields map[string]string) (string, error)

	// ReadBatch delivers up to maxCount records for (group, consumerID),
	// blocking up to blockFor before returning an empty slice.
	ReadBatch(ctx context.Context, streamKey, group, consumerID string, maxCount int64, blockFor time.Duration) ([]StreamRecord, error)

	// Acknowledge removes a record from the group's pending-entries list.
	// Idempotent: acking an unknown id is not an error.
	Acknowledge(ctx context.Context, streamKey, group, recordID string) error

	// EnsureGroup creates the consumer group (and the stream, if missing)
	// starting from the given offset. An already-existing group is success.
	EnsureGroup(ctx context.Context, streamKey, group, startFrom string) error
}

// ResultStore is the key/value + pub/sub surface results travel through.
type ResultStore interface {
	// PutHash writes all fields of a result hash in one command.
	PutHash(ctx context.Context, key string, fields map[string]string) error

	// GetHash reads a result hash back.
	GetHash(ctx context.Context, key string) (map[string]string, error)

	// ExpireKey sets a time-to-live on a key so result hashes are
	// reclaimed after their retention window.
	ExpireKey(ctx context.Context, key string, ttl time.Duration) error

	// PublishTopic emits payload on a pub/sub channel.
	PublishTopic(ctx context.Context, channel, payload string) error

	// SubscribePattern delivers (channel, payload) pairs for every message
	// matching pattern until the returned stop function is called.
	SubscribePattern(ctx context.Context, pattern string, handler func(channel, payload string)) (stop func(), err error)
}
