// Package ratelimit grants scarce admission slots: at most one holder per
// (category, time window).  A slot is a Redis key written with SET NX and an
// expiry in one command, so racing requesters cannot both win and a
// forgotten slot frees itself once the show starts.
package ratelimit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/iliyamo/cinema-order-saga/internal/errs"
)

// Window identifies one admission slot.
type Window struct {
	Category    string
	Start       int64 // unix seconds, aligned to UnitSeconds
	UnitSeconds int64
}

// WindowAt aligns at to the start of its unit-long window.
func WindowAt(category string, at time.Time, unitSeconds int64) Window {
	unix := at.Unix()
	return Window{Category: category, Start: unix - unix%unitSeconds, UnitSeconds: unitSeconds}
}

// hash is a pure function of the window so independent callers that agree
// on the window always land on the same key.
func (w Window) hash() string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%d|%d", w.Category, w.Start, w.UnitSeconds)))
	return hex.EncodeToString(sum[:16])
}

// Limiter is the Redis-backed slot store.
type Limiter struct {
	rdb    redis.Cmdable
	prefix string
}

// NewLimiter returns a Limiter writing keys under prefix.
func NewLimiter(rdb redis.Cmdable, prefix string) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix}
}

// Key returns the Redis key of w.
func (l *Limiter) Key(w Window) string { return l.prefix + w.hash() }

// Lock takes the slot for holder if nobody holds it.  ttl bounds the slot's
// lifetime and must be positive.
func (l *Limiter) Lock(ctx context.Context, key, holder string, ttl time.Duration) error {
	if ttl <= 0 {
		return errs.Argument("ratelimit: admission window for %s already closed", key)
	}
	ok, err := l.rdb.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return fmt.Errorf("ratelimit: lock: %w", err)
	}
	if !ok {
		return errs.RateLimitExceeded("admission slot %s is held", key)
	}
	return nil
}

// Unlock releases the slot whoever holds it.  Only compensation calls it.
func (l *Limiter) Unlock(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ratelimit: unlock: %w", err)
	}
	return nil
}

// Holder returns the current holder of key, or "" when the slot is free.
func (l *Limiter) Holder(ctx context.Context, key string) (string, error) {
	v, err := l.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ratelimit: get holder: %w", err)
	}
	return v, nil
}
