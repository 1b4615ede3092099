// Package idempotency is the single serialization point for request intake:
// a compare-and-set-if-absent claim against the key store. Every webhook
// resolves here to NEW (first claim wins) or REPLAY.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redpen-ai/redpen/internal/review"
)

// Outcome of a claim attempt.
type Outcome int

const (
	New Outcome = iota
	Replay
)

func (o Outcome) String() string {
	if o == New {
		return "NEW"
	}
	return "REPLAY"
}

// Store is the minimal CAS surface the keeper needs. Redis SetNX satisfies
// it; tests use an in-memory map.
type Store interface {
	// SetIfAbsent stores value under key with ttl only when key is unset,
	// returning whether the write happened.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Exists reports whether key currently holds a claim.
	Exists(ctx context.Context, key string) (bool, error)
}

// Keeper claims idempotency tokens. The claim must be a single CAS, not a
// read-then-write pair, so concurrent webhooks for the same key race inside
// the store rather than in our code.
type Keeper struct {
	store  Store
	prefix string
}

func NewKeeper(store Store) *Keeper {
	return &Keeper{store: store, prefix: "review:idempotency:"}
}

// CheckAndMark claims key for ttl. New means this caller owns the key until
// expiry; Replay means someone already claimed it. Store failures surface
// as review.ErrIdempotencyUnavailable.
func (k *Keeper) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (Outcome, error) {
	claimed, err := k.store.SetIfAbsent(ctx, k.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl)
	if err != nil {
		return Replay, fmt.Errorf("%w: %v", review.ErrIdempotencyUnavailable, err)
	}
	if claimed {
		return New, nil
	}
	return Replay, nil
}

// Exists is a read-only probe, used by diagnostics.
func (k *Keeper) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := k.store.Exists(ctx, k.prefix+key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", review.ErrIdempotencyUnavailable, err)
	}
	return ok, nil
}
