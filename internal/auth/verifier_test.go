package auth

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mentorae-gateway/internal/config"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func newTestVerifier(t *testing.T, secret string) *Verifier {
	t.Helper()
	cfg := &config.Config{Auth: config.AuthConfig{
		JWTSecret:        secret,
		Audience:         "authenticated",
		SessionCacheSize: 8,
	}}
	v, err := NewVerifier(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	return v
}

func signToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func userClaims(exp time.Time) sessionClaims {
	return sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
		},
		Email: "student@mentorae.dev",
		Role:  "authenticated",
	}
}

func TestVerifier_Valid(t *testing.T) {
	v := newTestVerifier(t, testSecret)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, testSecret, userClaims(exp))

	s, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if s.UserID != "user-123" {
		t.Errorf("UserID = %q, want %q", s.UserID, "user-123")
	}
	if s.Email != "student@mentorae.dev" {
		t.Errorf("Email = %q, want %q", s.Email, "student@mentorae.dev")
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", s.ExpiresAt, exp)
	}
}

func TestVerifier_Rejects(t *testing.T) {
	now := time.Now()

	noSubject := userClaims(now.Add(time.Hour))
	noSubject.Subject = ""

	wrongAudience := userClaims(now.Add(time.Hour))
	wrongAudience.Audience = jwt.ClaimStrings{"anon-dashboard"}

	noExpiry := userClaims(now.Add(time.Hour))
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
	}{
		{"expired", signToken(t, testSecret, userClaims(now.Add(-time.Minute)))},
		{"wrong secret", signToken(t, "another-secret-entirely-but-also-long-enough", userClaims(now.Add(time.Hour)))},
		{"missing subject", signToken(t, testSecret, noSubject)},
		{"wrong audience", signToken(t, testSecret, wrongAudience)},
		{"missing expiry", signToken(t, testSecret, noExpiry)},
		{"garbage", "not.a.jwt"},
	}

	v := newTestVerifier(t, testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestVerifier_RejectsOtherAlgorithms(t *testing.T) {
	v := newTestVerifier(t, testSecret)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, userClaims(time.Now().Add(time.Hour))).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifier_MissingToken(t *testing.T) {
	v := newTestVerifier(t, testSecret)
	if _, err := v.Verify("  "); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Verify() error = %v, want ErrMissingToken", err)
	}
}

func TestVerifier_NotConfigured(t *testing.T) {
	v := newTestVerifier(t, "")
	if v.Configured() {
		t.Fatal("Configured() = true without a secret")
	}
	if _, err := v.Verify("anything"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Verify() error = %v, want ErrNotConfigured", err)
	}
}

func TestVerifier_CachesUntilExpiry(t *testing.T) {
	v := newTestVerifier(t, testSecret)
	now := time.Now()
	v.now = func() time.Time { return now }

	token := signToken(t, testSecret, userClaims(now.Add(time.Minute)))
	if _, err := v.Verify(token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if v.cache.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", v.cache.Len())
	}

	// A cached session is served without reparsing.
	if _, err := v.Verify(token); err != nil {
		t.Fatalf("Verify() cached error = %v", err)
	}

	// Past expiry the entry is evicted and the token rejected.
	now = now.Add(2 * time.Minute)
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() after expiry error = %v, want ErrInvalidToken", err)
	}
	if v.cache.Len() != 0 {
		t.Errorf("cache len = %d, want 0", v.cache.Len())
	}
}
