package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mentorae-gateway/internal/auth"
	"mentorae-gateway/internal/config"
	"mentorae-gateway/internal/metrics"
	"mentorae-gateway/internal/middleware"
)

// proxyMethods are the methods relayed under the proxy prefix.
var proxyMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	m *metrics.Metrics,
	verifier *auth.Verifier,
	proxy *ProxyHandler,
	health *HealthHandler,
	authHandler *AuthHandler,
	diagnostics *DiagnosticsHandler,
) {
	prefix := cfg.Server.ProxyPrefix
	e.Match(proxyMethods, prefix, proxy.Handle)
	e.Match(proxyMethods, prefix+"/*", proxy.Handle)

	secure := middleware.SecurityHeaders()
	guard := middleware.RequireSession(verifier, m)

	e.GET("/healthz", health.Healthz, secure)
	e.GET("/statusz", health.Statusz, secure)

	e.GET("/auth/session", authHandler.Session, secure, guard)
	e.GET("/admin/users", authHandler.Users, secure, guard)
	e.GET("/diagnostics/auth", diagnostics.Auth, secure)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), secure)
	}
}
