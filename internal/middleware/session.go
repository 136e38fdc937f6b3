package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"mentorae-gateway/internal/auth"
	"mentorae-gateway/internal/metrics"
)

// SessionCookie is the cookie the web client stores its access token in.
const SessionCookie = "sb-access-token"

const sessionContextKey = "mentorae.session"

// RequireSession returns an Echo middleware that only lets requests with a
// verified access token through. The token is read from the Authorization
// bearer header, then from the session cookie. The metrics parameter is
// optional.
func RequireSession(v *auth.Verifier, m *metrics.Metrics) echo.MiddlewareFunc {
	record := func(result string) {
		if m != nil {
			m.SessionChecks.WithLabelValues(result).Inc()
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session, err := v.Verify(bearerToken(c))
			switch {
			case err == nil:
				record("ok")
				c.Set(sessionContextKey, session)
				return next(c)
			case errors.Is(err, auth.ErrNotConfigured):
				record("unconfigured")
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"error": auth.ErrNotConfigured.Error(),
				})
			case errors.Is(err, auth.ErrMissingToken):
				record("missing")
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": auth.ErrMissingToken.Error(),
				})
			default:
				record("invalid")
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": auth.ErrInvalidToken.Error(),
				})
			}
		}
	}
}

// SessionFromContext returns the session stored by RequireSession.
func SessionFromContext(c echo.Context) (auth.Session, bool) {
	s, ok := c.Get(sessionContextKey).(auth.Session)
	return s, ok
}

func bearerToken(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if ck, err := c.Cookie(SessionCookie); err == nil {
		return ck.Value
	}
	return ""
}
