package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-order-saga/internal/errs"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLimiter(rdb, "admission:"), mr
}

func TestWindowAt(t *testing.T) {
	at := time.Unix(1_700_000_123, 0)
	w := WindowAt("Wheelchair", at, 60)
	require.Equal(t, int64(1_700_000_100), w.Start)
	require.Equal(t, w, WindowAt("Wheelchair", at.Add(-20*time.Second), 60))
	require.NotEqual(t, w, WindowAt("Wheelchair", at.Add(time.Minute), 60))
}

func TestKeyIsDeterministic(t *testing.T) {
	a := NewLimiter(nil, "p:")
	b := NewLimiter(nil, "p:")
	w := WindowAt("Wheelchair", time.Unix(600, 0), 60)
	require.Equal(t, a.Key(w), b.Key(w))
	require.NotEqual(t, a.Key(w), a.Key(WindowAt("Companion", time.Unix(600, 0), 60)))
}

func TestLockUnlockHolder(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()
	key := l.Key(WindowAt("Wheelchair", time.Now(), 60))

	holder, err := l.Holder(ctx, key)
	require.NoError(t, err)
	require.Empty(t, holder)

	require.NoError(t, l.Lock(ctx, key, "tx-1", time.Hour))
	err = l.Lock(ctx, key, "tx-2", time.Hour)
	require.ErrorIs(t, err, errs.ErrRateLimitExceeded)

	holder, err = l.Holder(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "tx-1", holder)
	require.Equal(t, time.Hour, mr.TTL(key))

	require.NoError(t, l.Unlock(ctx, key))
	require.NoError(t, l.Lock(ctx, key, "tx-2", time.Hour))
}

func TestLockExpires(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()
	require.NoError(t, l.Lock(ctx, "k", "tx-1", time.Minute))
	mr.FastForward(2 * time.Minute)
	require.NoError(t, l.Lock(ctx, "k", "tx-2", time.Minute))
}

func TestLockRejectsClosedWindow(t *testing.T) {
	l, _ := newLimiter(t)
	err := l.Lock(context.Background(), "k", "tx-1", 0)
	require.ErrorIs(t, err, errs.ErrArgument)
}

func TestConcurrentLockHasOneWinner(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()
	var wins, rejected atomic.Int32
	var wg conc.WaitGroup
	for i := 0; i < 32; i++ {
		holder := fmt.Sprintf("tx-%d", i)
		wg.Go(func() {
			err := l.Lock(ctx, "contested", holder, time.Minute)
			switch {
			case err == nil:
				wins.Add(1)
			case errs.Category(err) == errs.ErrRateLimitExceeded:
				rejected.Add(1)
			}
		})
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(31), rejected.Load())
}
