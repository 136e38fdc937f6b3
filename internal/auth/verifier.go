// Package auth verifies Supabase-issued access tokens and inspects the
// project's public anon key.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"mentorae-gateway/internal/config"
)

var (
	// ErrNotConfigured is returned when no JWT secret is available.
	ErrNotConfigured = errors.New("session verification not configured")
	// ErrMissingToken is returned when the request carries no access token.
	ErrMissingToken = errors.New("authentication required")
	// ErrInvalidToken wraps every signature, claim or format failure.
	ErrInvalidToken = errors.New("invalid session")
)

// Session is the identity carried by a verified access token.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	Audience  []string  `json:"audience,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// sessionClaims is the claim set Supabase puts in access tokens.
type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Verifier validates HS256 access tokens and caches the resulting sessions
// until they expire.
type Verifier struct {
	secret   []byte
	audience string
	cache    *lru.Cache[string, Session]
	now      func() time.Time
	logger   *slog.Logger
}

// NewVerifier creates a Verifier from the auth config. A missing secret is
// allowed; Verify then reports ErrNotConfigured.
func NewVerifier(cfg *config.Config, logger *slog.Logger) (*Verifier, error) {
	size := cfg.Auth.SessionCacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, Session](size)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}

	return &Verifier{
		secret:   []byte(cfg.Auth.JWTSecret),
		audience: cfg.Auth.Audience,
		cache:    cache,
		now:      time.Now,
		logger:   logger.With("component", "session_verifier"),
	}, nil
}

// Configured reports whether tokens can be verified at all.
func (v *Verifier) Configured() bool {
	return len(v.secret) > 0
}

// Verify checks the token signature, expiry, audience and subject.
func (v *Verifier) Verify(token string) (Session, error) {
	if !v.Configured() {
		return Session{}, ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrMissingToken
	}

	key := cacheKey(token)
	if s, ok := v.cache.Get(key); ok {
		if v.now().Before(s.ExpiresAt) {
			return s, nil
		}
		v.cache.Remove(key)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims sessionClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		v.logger.Debug("token rejected", "err", err)
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Session{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	s := Session{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		Audience:  claims.Audience,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	v.cache.Add(key, s)
	return s, nil
}

// cacheKey avoids keeping raw bearer tokens in memory longer than needed.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
