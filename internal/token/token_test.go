package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/errs"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newCapabilityStore(t *testing.T, clk clock.Clock) (*CapabilityStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCapabilityStore(rdb, "cap-secret", 10*time.Minute, clk), mr
}

func TestCapabilityIssueVerifyRevoke(t *testing.T) {
	clk := clock.NewManual(t0)
	s, mr := newCapabilityStore(t, clk)
	ctx := context.Background()

	tok, err := s.Issue(ctx, []string{"ticket-1", "ticket-2"})
	require.NoError(t, err)
	require.Equal(t, t0.Add(10*time.Minute), tok.Exp)
	require.True(t, mr.Exists("captoken:"+tok.ID))

	got, err := s.Verify(ctx, tok.Token)
	require.NoError(t, err)
	require.Equal(t, []string{"ticket-1", "ticket-2"}, got.IDs)
	require.Equal(t, tok.ID, got.ID)

	require.NoError(t, s.Revoke(ctx, tok.ID))
	_, err = s.Verify(ctx, tok.Token)
	require.ErrorIs(t, err, errs.ErrForbidden)

	require.NoError(t, s.Revoke(ctx, tok.ID))
}

func TestCapabilityExpired(t *testing.T) {
	clk := clock.NewManual(t0)
	s, _ := newCapabilityStore(t, clk)
	ctx := context.Background()
	tok, err := s.Issue(ctx, []string{"ticket-1"})
	require.NoError(t, err)

	clk.Advance(11 * time.Minute)
	_, err = s.Verify(ctx, tok.Token)
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestCapabilityRejectsForeignSignature(t *testing.T) {
	s, _ := newCapabilityStore(t, clock.NewManual(t0))
	other, _ := newCapabilityStore(t, clock.NewManual(t0))
	other.secret = []byte("someone-else")
	tok, err := other.Issue(context.Background(), []string{"ticket-1"})
	require.NoError(t, err)
	_, err = s.Verify(context.Background(), tok.Token)
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestCapabilityNeedsIDs(t *testing.T) {
	s, _ := newCapabilityStore(t, clock.NewManual(t0))
	_, err := s.Issue(context.Background(), nil)
	require.ErrorIs(t, err, errs.ErrArgument)
}

type staticIssuers map[string]string

func (s staticIssuers) IssuerSecret(iss string) (string, bool) {
	v, ok := s[iss]
	return v, ok
}

func signPassport(t *testing.T, iss, secret, scope string, exp time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, passportClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestPassportVerify(t *testing.T) {
	v := NewPassportVerifier(staticIssuers{"waiter": "w-secret"}, clock.NewManual(t0))
	exp := t0.Add(time.Hour)

	t.Run("valid", func(t *testing.T) {
		raw := signPassport(t, "waiter", "w-secret", PassportScope("seller-1"), exp)
		p, err := v.Verify(raw, "seller-1")
		require.NoError(t, err)
		require.Equal(t, "waiter", p.Issuer)
		require.Equal(t, HashRaw(raw), p.Hash)
		require.Len(t, p.Hash, 64)
	})
	t.Run("untrusted issuer", func(t *testing.T) {
		raw := signPassport(t, "stranger", "w-secret", PassportScope("seller-1"), exp)
		_, err := v.Verify(raw, "seller-1")
		require.ErrorIs(t, err, errs.ErrForbidden)
	})
	t.Run("scope for another seller", func(t *testing.T) {
		raw := signPassport(t, "waiter", "w-secret", PassportScope("seller-2"), exp)
		_, err := v.Verify(raw, "seller-1")
		require.ErrorIs(t, err, errs.ErrForbidden)
	})
	t.Run("expired", func(t *testing.T) {
		raw := signPassport(t, "waiter", "w-secret", PassportScope("seller-1"), t0.Add(-time.Second))
		_, err := v.Verify(raw, "seller-1")
		require.ErrorIs(t, err, errs.ErrForbidden)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := v.Verify("", "seller-1")
		require.ErrorIs(t, err, errs.ErrArgument)
	})
}
