package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"mentorae-gateway/internal/middleware"
)

func TestRateLimiter_RejectedRequestsKeepCORS(t *testing.T) {
	e := echo.New()
	e.Use(middleware.PermissiveCORS("/proxy"))

	// 1 request per second, burst of 1; a tight loop must hit the limit.
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(1))
	e.Use(echomw.RateLimiter(store))
	e.POST("/proxy/ask", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/proxy/ask", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", rec.Code, http.StatusOK)
	}

	var limited *httptest.ResponseRecorder
	for range 10 {
		req = httptest.NewRequest(http.MethodPost, "/proxy/ask", http.NoBody)
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = rec
			break
		}
	}
	if limited == nil {
		t.Fatal("expected at least one 429 response after burst, got none")
	}
	if v := limited.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("429 Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}
