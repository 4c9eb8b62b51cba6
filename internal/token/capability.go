// Package token issues and verifies the signed tokens the saga deals in:
// order access tokens handed out after a confirmation, and admission
// passports presented when a transaction starts.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/errs"
)

// AccessToken is a signed capability over a set of reserved ticket ids.  It
// carries no customer data and stays valid only while its id is present in
// Redis, so it can be revoked before it expires.
type AccessToken struct {
	Token string    `json:"token"`
	ID    string    `json:"id"`
	IDs   []string  `json:"ids"`
	Exp   time.Time `json:"expires_at"`
}

type accessClaims struct {
	IDs []string `json:"ids"`
	jwt.RegisteredClaims
}

// CapabilityStore signs access tokens and tracks which are still live.
type CapabilityStore struct {
	rdb    redis.Cmdable
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
	prefix string
}

// NewCapabilityStore returns a store signing with secret; tokens live for ttl.
func NewCapabilityStore(rdb redis.Cmdable, secret string, ttl time.Duration, clk clock.Clock) *CapabilityStore {
	return &CapabilityStore{rdb: rdb, secret: []byte(secret), ttl: ttl, clock: clk, prefix: "captoken:"}
}

// Issue signs a token enumerating ids and registers it.
func (s *CapabilityStore) Issue(ctx context.Context, ids []string) (AccessToken, error) {
	if len(ids) == 0 {
		return AccessToken{}, errs.Argument("token: no ids to grant")
	}
	now := s.clock.Now()
	exp := now.Add(s.ttl)
	jti := uuid.NewString()
	claims := accessClaims{
		IDs: ids,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return AccessToken{}, fmt.Errorf("token: sign: %w", err)
	}
	if err := s.rdb.Set(ctx, s.prefix+jti, "1", s.ttl).Err(); err != nil {
		return AccessToken{}, fmt.Errorf("token: register: %w", err)
	}
	return AccessToken{Token: signed, ID: jti, IDs: ids, Exp: exp}, nil
}

// Verify checks the signature, the expiry and that the token was not revoked.
func (s *CapabilityStore) Verify(ctx context.Context, raw string) (AccessToken, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return AccessToken{}, errs.Forbidden("invalid access token: %v", err)
	}
	n, err := s.rdb.Exists(ctx, s.prefix+claims.ID).Result()
	if err != nil {
		return AccessToken{}, fmt.Errorf("token: lookup: %w", err)
	}
	if n == 0 {
		return AccessToken{}, errs.Forbidden("access token revoked")
	}
	return AccessToken{Token: raw, ID: claims.ID, IDs: claims.IDs, Exp: claims.ExpiresAt.Time}, nil
}

// Revoke invalidates the token with the given id.  Revoking an unknown or
// already revoked token is not an error.
func (s *CapabilityStore) Revoke(ctx context.Context, id string) error {
	err := s.rdb.Del(ctx, s.prefix+id).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("token: revoke: %w", err)
	}
	return nil
}
