// Package supabase talks to the Supabase auth and REST APIs for the admin and
// diagnostics endpoints.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mentorae-gateway/internal/config"
)

const requestTimeout = 15 * time.Second

var (
	// ErrNotConfigured is returned by admin calls when the project URL or
	// the service-role key is missing.
	ErrNotConfigured = errors.New("supabase admin access not configured")
	// ErrUserNotFound is returned when an email lookup scans every page
	// without a match.
	ErrUserNotFound = errors.New("user not found")
)

// User is the subset of a Supabase auth user exposed by the admin endpoint.
type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone,omitempty"`
	Role         string          `json:"role,omitempty"`
	CreatedAt    *time.Time      `json:"created_at,omitempty"`
	LastSignInAt *time.Time      `json:"last_sign_in_at,omitempty"`
	AppMetadata  json.RawMessage `json:"app_metadata,omitempty"`
	UserMetadata json.RawMessage `json:"user_metadata,omitempty"`
}

// CheckResult is the outcome of one diagnostics probe.
type CheckResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client is a minimal Supabase API client.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	anonKey        string
	serviceRoleKey string
	logger         *slog.Logger
}

// NewClient creates a Client from the auth configuration. Missing settings
// are reported per call rather than at construction.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   requestTimeout,
		},
		baseURL:        strings.TrimRight(cfg.Auth.SupabaseURL, "/"),
		anonKey:        cfg.Auth.AnonKey,
		serviceRoleKey: cfg.Auth.ServiceRoleKey,
		logger:         logger.With("component", "supabase_client"),
	}
}

// URL returns the configured project URL.
func (c *Client) URL() string { return c.baseURL }

// AnonKey returns the configured public anon key.
func (c *Client) AnonKey() string { return c.anonKey }

// AdminConfigured reports whether admin calls can be made.
func (c *Client) AdminConfigured() bool {
	return c.baseURL != "" && c.serviceRoleKey != ""
}

// ListUsers returns one page of auth users.
func (c *Client) ListUsers(ctx context.Context, page, perPage int) ([]User, error) {
	if !c.AdminConfigured() {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	header := http.Header{}
	header.Set("apikey", c.serviceRoleKey)
	header.Set("Authorization", "Bearer "+c.serviceRoleKey)

	var out struct {
		Users []User `json:"users"`
	}
	if err := c.getJSON(ctx, "/auth/v1/admin/users?"+q.Encode(), header, &out); err != nil {
		return nil, fmt.Errorf("list users page %d: %w", page, err)
	}
	return out.Users, nil
}

// FindUserByEmail pages through the user list until a user with the given
// email is found, an empty page is returned or maxPages have been read.
func (c *Client) FindUserByEmail(ctx context.Context, email string, perPage, maxPages int) (*User, error) {
	for page := 1; page <= maxPages; page++ {
		users, err := c.ListUsers(ctx, page, perPage)
		if err != nil {
			return nil, err
		}
		for i := range users {
			if strings.EqualFold(users[i].Email, email) {
				return &users[i], nil
			}
		}
		if len(users) < perPage {
			break
		}
	}
	return nil, ErrUserNotFound
}

// CheckConnection probes the auth health endpoint and falls back to the REST
// root authenticated with the anon key.
func (c *Client) CheckConnection(ctx context.Context) CheckResult {
	if c.baseURL == "" {
		return CheckResult{Error: "Supabase URL not configured"}
	}

	status, err := c.probe(ctx, "/auth/v1/health", nil)
	if err == nil && status < 300 {
		return CheckResult{Success: true, Message: "Supabase connection successful"}
	}
	c.logger.Debug("auth health probe failed, trying REST root", "status", status, "err", err)

	header := http.Header{}
	header.Set("apikey", c.anonKey)
	header.Set("Authorization", "Bearer "+c.anonKey)
	status, err = c.probe(ctx, "/rest/v1/", header)
	switch {
	case err != nil:
		return CheckResult{Error: err.Error()}
	case status < 300:
		return CheckResult{Success: true, Message: "Supabase REST API accessible"}
	default:
		return CheckResult{Error: fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))}
	}
}

// CheckProviders reads the public auth settings and reports whether the
// Google and GitHub OAuth providers are enabled.
func (c *Client) CheckProviders(ctx context.Context) CheckResult {
	if c.baseURL == "" || c.anonKey == "" {
		return CheckResult{Error: "Supabase configuration missing"}
	}

	header := http.Header{}
	header.Set("apikey", c.anonKey)

	var settings struct {
		External map[string]providerSetting `json:"external"`
	}
	if err := c.getJSON(ctx, "/auth/v1/settings", header, &settings); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return CheckResult{Error: fmt.Sprintf("Cannot access auth settings: HTTP %d", se.StatusCode)}
		}
		return CheckResult{Error: err.Error()}
	}

	var enabled, disabled []string
	for _, p := range []struct{ key, name string }{{"google", "Google"}, {"github", "GitHub"}} {
		if settings.External[p.key] {
			enabled = append(enabled, p.name)
		} else {
			disabled = append(disabled, p.name)
		}
	}

	var parts []string
	if len(enabled) > 0 {
		parts = append(parts, "Enabled: "+strings.Join(enabled, ", "))
	}
	if len(disabled) > 0 {
		parts = append(parts, "Disabled: "+strings.Join(disabled, ", "))
	}
	return CheckResult{Success: len(enabled) > 0, Message: strings.Join(parts, " | ")}
}

// providerSetting accepts both `"google": true` and `"google": {"enabled": true}`.
type providerSetting bool

func (p *providerSetting) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*p = providerSetting(b)
		return nil
	}
	var obj struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("provider setting: %w", err)
	}
	*p = providerSetting(obj.Enabled)
	return nil
}

// StatusError is returned when Supabase answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("supabase returned HTTP %d", e.StatusCode)
}

func (c *Client) getJSON(ctx context.Context, path string, header http.Header, out any) error {
	resp, err := c.get(ctx, path, header)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) probe(ctx context.Context, path string, header http.Header) (int, error) {
	resp, err := c.get(ctx, path, header)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func (c *Client) get(ctx context.Context, path string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if header != nil {
		req.Header = header
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase %s: %w", path, err)
	}
	return resp, nil
}

// errorMessage pulls the human readable message out of a Supabase error body.
// GoTrue uses "msg" or "error_description", PostgREST uses "message".
func errorMessage(body []byte) string {
	var e struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}
