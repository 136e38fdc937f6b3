package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"mentorae-gateway/internal/config"
	"mentorae-gateway/internal/middleware"
	"mentorae-gateway/internal/supabase"
)

const (
	defaultPerPage    = 50
	maxPerPage        = 1000
	emailScanPageSize = maxPerPage
	serviceRole       = "service_role"
)

// AuthHandler serves the session and admin endpoints.
type AuthHandler struct {
	supabase    *supabase.Client
	adminEmails []string
	maxScan     int
	logger      *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(sb *supabase.Client, cfg *config.Config, logger *slog.Logger) *AuthHandler {
	emails := make([]string, 0, len(cfg.Auth.AdminEmails))
	for _, e := range cfg.Auth.AdminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			emails = append(emails, e)
		}
	}
	return &AuthHandler{
		supabase:    sb,
		adminEmails: emails,
		maxScan:     cfg.Auth.AdminMaxScanPages,
		logger:      logger.With("component", "auth_handler"),
	}
}

// Session returns the verified session of the caller.
func (h *AuthHandler) Session(c echo.Context) error {
	s, ok := middleware.SessionFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	}
	return c.JSON(http.StatusOK, s)
}

// Users lists auth users, or looks a single one up by ?email=.
func (h *AuthHandler) Users(c echo.Context) error {
	s, ok := middleware.SessionFromContext(c)
	if !ok || !h.isAdmin(s.Role, s.Email) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "admin access required"})
	}

	if !h.supabase.AdminConfigured() {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":  "Missing env vars",
			"detail": "Set SUPABASE_URL and SUPABASE_SERVICE_ROLE",
		})
	}

	ctx := c.Request().Context()

	if email := strings.TrimSpace(c.QueryParam("email")); email != "" {
		user, err := h.supabase.FindUserByEmail(ctx, email, emailScanPageSize, h.maxScan)
		if errors.Is(err, supabase.ErrUserNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		if err != nil {
			return h.supabaseError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"user": user})
	}

	page, err := intParam(c, "page", 1, 1, 0)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	perPage, err := intParam(c, "perPage", defaultPerPage, 1, maxPerPage)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	users, err := h.supabase.ListUsers(ctx, page, perPage)
	if err != nil {
		return h.supabaseError(c, err)
	}
	if users == nil {
		users = []supabase.User{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"users":   users,
		"count":   len(users),
		"page":    page,
		"perPage": perPage,
	})
}

func (h *AuthHandler) isAdmin(role, email string) bool {
	if role == serviceRole {
		return true
	}
	return email != "" && slices.Contains(h.adminEmails, strings.ToLower(email))
}

func (h *AuthHandler) supabaseError(c echo.Context, err error) error {
	h.logger.Error("supabase admin call failed", "err", err)
	msg := err.Error()
	var se *supabase.StatusError
	if errors.As(err, &se) {
		msg = se.Error()
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": msg})
}

// intParam parses a positive integer query parameter. A zero max means
// unbounded.
func intParam(c echo.Context, name string, def, minVal, maxVal int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < minVal {
		return 0, fmt.Errorf("%s must be at least %d", name, minVal)
	}
	if maxVal > 0 && n > maxVal {
		return 0, fmt.Errorf("%s must be at most %d", name, maxVal)
	}
	return n, nil
}
