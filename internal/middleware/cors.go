package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORSAllowMethods is the method list advertised on every proxied response.
const CORSAllowMethods = "GET,POST,PUT,PATCH,DELETE,OPTIONS"

// ApplyCORS overwrites the permissive CORS headers on h, replacing whatever
// the upstream sent for the same keys.
func ApplyCORS(h http.Header) {
	h.Set(echo.HeaderAccessControlAllowOrigin, "*")
	h.Set(echo.HeaderAccessControlAllowHeaders, "*")
	h.Set(echo.HeaderAccessControlAllowMethods, CORSAllowMethods)
}

// PermissiveCORS sets the CORS headers on every request under prefix before
// the rest of the chain runs, so responses produced by echo itself (413 from
// the body limit, 429 from the rate limiter) still carry them.
func PermissiveCORS(prefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := c.Request().URL.Path
			if p == prefix || strings.HasPrefix(p, prefix+"/") {
				ApplyCORS(c.Response().Header())
			}
			return next(c)
		}
	}
}
