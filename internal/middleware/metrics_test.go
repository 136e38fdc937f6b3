package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"

	"mentorae-gateway/internal/metrics"
)

// findRequestSeries returns the requests_total series whose labels include
// every pair in want.
func findRequestSeries(t *testing.T, m *metrics.Metrics, want map[string]string) *dto.Metric {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "mentorae_gateway_http_requests_total" {
			continue
		}
	series:
		for _, s := range f.GetMetric() {
			labels := make(map[string]string, len(s.GetLabel()))
			for _, lp := range s.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			return s
		}
	}
	return nil
}

func TestMetricsMiddleware_Labels(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		handler echo.HandlerFunc
		want    map[string]string
	}{
		{
			name:    "proxied request",
			method:  http.MethodPost,
			path:    "/proxy/ask",
			handler: func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
			want:    map[string]string{"method": "POST", "status_code": "200", "path_prefix": "/proxy"},
		},
		{
			name:    "http error from handler",
			method:  http.MethodGet,
			path:    "/proxy/ask",
			handler: func(echo.Context) error { return echo.NewHTTPError(http.StatusRequestEntityTooLarge) },
			want:    map[string]string{"status_code": "413", "path_prefix": "/proxy"},
		},
		{
			name:    "nonstandard method",
			method:  "XYZZY",
			path:    "/proxy/ask",
			handler: func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
			want:    map[string]string{"method": "other", "path_prefix": "/proxy"},
		},
		{
			name:    "gateway route",
			method:  http.MethodGet,
			path:    "/admin/users",
			handler: func(c echo.Context) error { return c.NoContent(http.StatusForbidden) },
			want:    map[string]string{"status_code": "403", "path_prefix": "/admin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New("/proxy")
			e := echo.New()
			e.Use(MetricsMiddleware(m))
			e.Any(tt.path, tt.handler)

			e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, http.NoBody))

			s := findRequestSeries(t, m, tt.want)
			if s == nil {
				t.Fatalf("no requests_total series with labels %v", tt.want)
			}
			if v := s.GetCounter().GetValue(); v != 1 {
				t.Errorf("counter = %v, want 1", v)
			}
		})
	}
}

func TestMetricsMiddleware_UnroutedPath(t *testing.T) {
	m := metrics.New("/proxy")
	e := echo.New()
	e.Use(MetricsMiddleware(m))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wp-login.php", http.NoBody))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if findRequestSeries(t, m, map[string]string{"path_prefix": "other", "status_code": "404"}) == nil {
		t.Error("unrouted request was not recorded under path_prefix=other")
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New("/proxy")
	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "mentorae_gateway_http_request_duration_seconds" {
			continue
		}
		for _, s := range f.GetMetric() {
			if s.GetHistogram().GetSampleCount() > 0 {
				return
			}
		}
	}
	t.Error("request duration histogram has no samples")
}
