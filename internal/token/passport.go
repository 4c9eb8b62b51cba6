package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// Passport is a verified admission credential.
type Passport struct {
	Issuer    string
	Scope     string
	ExpiresAt time.Time
	Hash      string // sha256 of the raw token; unique per transaction
}

type passportClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// IssuerSecrets resolves the signing secret of a trusted issuer.
// config.Policy satisfies it.
type IssuerSecrets interface {
	IssuerSecret(issuer string) (string, bool)
}

// PassportVerifier checks passports against the issuer allow-list.
type PassportVerifier struct {
	issuers IssuerSecrets
	clock   clock.Clock
}

func NewPassportVerifier(issuers IssuerSecrets, clk clock.Clock) *PassportVerifier {
	return &PassportVerifier{issuers: issuers, clock: clk}
}

// PassportScope is the scope a passport must carry to open a transaction
// with sellerID.
func PassportScope(sellerID string) string {
	return fmt.Sprintf("Transaction:%s:%s", model.TransactionPlaceOrder, sellerID)
}

// Verify validates raw for sellerID.
func (v *PassportVerifier) Verify(raw, sellerID string) (*Passport, error) {
	if raw == "" {
		return nil, errs.Argument("passport token is empty")
	}
	var claims passportClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		iss, _ := t.Claims.GetIssuer()
		secret, ok := v.issuers.IssuerSecret(iss)
		if !ok {
			return nil, fmt.Errorf("untrusted issuer %q", iss)
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errs.Forbidden("invalid passport: %v", err)
	}
	if claims.Scope != PassportScope(sellerID) {
		return nil, errs.Forbidden("passport scope %q does not match seller %s", claims.Scope, sellerID)
	}
	return &Passport{
		Issuer:    claims.Issuer,
		Scope:     claims.Scope,
		ExpiresAt: claims.ExpiresAt.Time,
		Hash:      HashRaw(raw),
	}, nil
}

// HashRaw returns the hex SHA-256 of a raw token.  Only the hash is stored.
func HashRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
