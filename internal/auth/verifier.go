// ABOUTME: Signed ID token verification for authenticating relay requests
// ABOUTME: Validates RS256 signatures against a key set plus issuer/audience/allow-list checks

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"
)

// Token errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrNotAuthorized = errors.New("identity not authorized")
)

// verifyCacheTTL bounds how long a verified token is trusted without
// re-checking; the token's own expiry shortens it further.
const verifyCacheTTL = 5 * time.Minute

// Verifier defines the interface for credential verification.
// Any failure, including network errors reaching the key set, collapses
// to a non-nil error; callers treat that as "no identity".
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// idClaims are the ID token claims the relay cares about.
type idClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// IDTokenVerifier implements Verifier using RS256 signed ID tokens.
// The signature is checked against a rotating KeySet, then issuer,
// audience, and expiry, then the single-entry allow-list. Successful
// verifications are cached briefly so a chatty client does not trigger
// a verification round per request.
type IDTokenVerifier struct {
	keys         KeySet
	issuer       string
	audience     string
	allowedEmail string
	cache        *ttlcache.Cache[string, Identity]
	logger       *slog.Logger
}

// NewIDTokenVerifier creates a verifier for tokens issued to audience by
// issuer, authorizing only allowedEmail (case-insensitive). Pass nil
// logger for default.
func NewIDTokenVerifier(keys KeySet, issuer, audience, allowedEmail string, logger *slog.Logger) *IDTokenVerifier {
	if logger == nil {
		logger = slog.Default()
	}

	cache := ttlcache.New[string, Identity](
		ttlcache.WithTTL[string, Identity](verifyCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, Identity](),
	)
	go cache.Start()

	return &IDTokenVerifier{
		keys:         keys,
		issuer:       issuer,
		audience:     audience,
		allowedEmail: allowedEmail,
		cache:        cache,
		logger:       logger.With("component", "auth"),
	}
}

// Close stops the verification cache's expiry loop.
func (v *IDTokenVerifier) Close() {
	v.cache.Stop()
}

// Verify validates the raw token and returns the authenticated identity.
// Returns ErrNotAuthorized when the token is valid but the identity is
// not on the allow-list.
func (v *IDTokenVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, ErrInvalidToken
	}

	if item := v.cache.Get(rawToken); item != nil {
		ident := item.Value()
		return &ident, nil
	}

	claims := &idClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no key id")
		}
		return v.keys.Key(ctx, kid)
	}, jwt.WithAudience(v.audience), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if !v.issuerAllowed(claims.Issuer) {
		return nil, fmt.Errorf("%w: issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if claims.Email == "" || !claims.EmailVerified {
		return nil, fmt.Errorf("%w: missing verified email", ErrInvalidToken)
	}

	if !strings.EqualFold(claims.Email, v.allowedEmail) {
		v.logger.Warn("rejected token for unlisted identity", "email", claims.Email)
		return nil, ErrNotAuthorized
	}

	ident := Identity{Email: claims.Email, Subject: claims.Subject}

	ttl := verifyCacheTTL
	if claims.ExpiresAt != nil {
		if until := time.Until(claims.ExpiresAt.Time); until < ttl {
			ttl = until
		}
	}
	if ttl > 0 {
		v.cache.Set(rawToken, ident, ttl)
	}

	return &ident, nil
}

// issuerAllowed accepts the configured issuer with or without its
// https:// prefix; Google issues both forms.
func (v *IDTokenVerifier) issuerAllowed(iss string) bool {
	if iss == v.issuer {
		return true
	}
	return "https://"+iss == v.issuer || iss == "https://"+v.issuer
}
