package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"mentorae-gateway/internal/auth"
	"mentorae-gateway/internal/config"
	"mentorae-gateway/internal/metrics"
)

const sessionSecret = "session-test-secret-that-is-long-enough-for-hs256"

func newSessionEcho(t *testing.T, secret string, m *metrics.Metrics) *echo.Echo {
	t.Helper()
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: secret, Audience: "authenticated"}}
	v, err := auth.NewVerifier(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	e := echo.New()
	e.GET("/auth/session", func(c echo.Context) error {
		s, ok := SessionFromContext(c)
		if !ok {
			t.Error("session missing from context")
		}
		return c.JSON(http.StatusOK, s)
	}, RequireSession(v, m))
	return e
}

func accessToken(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "user-42",
		"aud":   "authenticated",
		"email": "learner@mentorae.dev",
		"role":  "authenticated",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(sessionSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRequireSession(t *testing.T) {
	token := accessToken(t)

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
		wantResult string
	}{
		{
			name:       "bearer header",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
			wantStatus: http.StatusOK,
			wantResult: "ok",
		},
		{
			name:       "lowercase scheme",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) },
			wantStatus: http.StatusOK,
			wantResult: "ok",
		},
		{
			name:       "cookie",
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token}) },
			wantStatus: http.StatusOK,
			wantResult: "ok",
		},
		{
			name:       "no token",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
			wantResult: "missing",
		},
		{
			name:       "basic scheme",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") },
			wantStatus: http.StatusUnauthorized,
			wantResult: "missing",
		},
		{
			name:       "tampered token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token+"x") },
			wantStatus: http.StatusUnauthorized,
			wantResult: "invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New("/proxy")
			e := newSessionEcho(t, sessionSecret, m)

			req := httptest.NewRequest(http.MethodGet, "/auth/session", http.NoBody)
			tt.setup(req)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				var s auth.Session
				if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				if s.UserID != "user-42" || s.Email != "learner@mentorae.dev" {
					t.Errorf("session = %+v, want user-42 / learner@mentorae.dev", s)
				}
			}
			if !hasSessionResult(t, m, tt.wantResult) {
				t.Errorf("expected session check with result=%q", tt.wantResult)
			}
		})
	}
}

func TestRequireSession_NotConfigured(t *testing.T) {
	e := newSessionEcho(t, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+accessToken(t))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func hasSessionResult(t *testing.T, m *metrics.Metrics, result string) bool {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "mentorae_gateway_session_checks_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result && metric.GetCounter().GetValue() == 1 {
					return true
				}
			}
		}
	}
	return false
}
