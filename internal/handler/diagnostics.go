package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"mentorae-gateway/internal/auth"
	"mentorae-gateway/internal/supabase"
)

// DiagnosticsHandler reports whether the Supabase configuration works.
type DiagnosticsHandler struct {
	supabase *supabase.Client
	now      func() time.Time
}

// NewDiagnosticsHandler creates a DiagnosticsHandler.
func NewDiagnosticsHandler(sb *supabase.Client) *DiagnosticsHandler {
	return &DiagnosticsHandler{supabase: sb, now: time.Now}
}

// Auth runs every check and always answers 200; failures are reported per
// check in the body.
func (h *DiagnosticsHandler) Auth(c echo.Context) error {
	ctx := c.Request().Context()

	key := auth.InspectAnonKey(h.supabase.AnonKey(), h.supabase.URL(), h.now())
	keyResult := supabase.CheckResult{Success: key.Valid, Error: key.Error}
	if key.Valid {
		keyResult.Message = "API key valid for project " + key.ProjectRef + " (role: " + key.Role + ")"
	}

	var conn supabase.CheckResult
	if key.Valid {
		conn = h.supabase.CheckConnection(ctx)
	} else {
		conn = supabase.CheckResult{Error: "API Key Issue: " + key.Error}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"anon_key":   keyResult,
		"connection": conn,
		"providers":  h.supabase.CheckProviders(ctx),
	})
}
