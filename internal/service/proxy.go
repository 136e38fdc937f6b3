// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"mentorae-gateway/internal/client"
	"mentorae-gateway/internal/config"
	"mentorae-gateway/internal/model"
)

// strippedRequestHeaders are removed before forwarding. Host would address
// the wrong server and Content-Length is recomputed from the captured body.
var strippedRequestHeaders = []string{
	"Host",
	"Content-Length",
}

// UpstreamError reports a failed attempt to reach the upstream. URL is the
// resolved target the request was sent to.
type UpstreamError struct {
	URL string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("forward to %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.UpstreamClient
	logger  *slog.Logger
	baseURL string
}

// NewProxyService creates a ProxyService for the configured upstream base URL.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q must be absolute", cfg.Upstream.BaseURL)
	}

	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		baseURL: strings.TrimRight(u.Scheme+"://"+u.Host+u.EscapedPath(), "/"),
	}, nil
}

// Forward replays a ForwardRequest against the upstream and returns the response.
// The caller is responsible for closing the response body. Failures to reach
// the upstream are returned as *UpstreamError.
func (s *ProxyService) Forward(fr *model.ForwardRequest) (*model.ForwardResponse, error) {
	target := s.ResolveURL(fr.Segments, fr.RawQuery)
	header := forwardHeaders(fr.Header, fr.Host)

	var body []byte
	if fr.Method != http.MethodGet && fr.Method != http.MethodHead {
		body = fr.Body
		if body == nil {
			body = []byte{}
		}
	}

	s.logger.Debug("forwarding request",
		"method", fr.Method,
		"upstream", target,
		"bytes_in", len(body),
	)

	resp, err := s.client.DoStream(fr.Ctx, fr.Method, target, header, body)
	if err != nil {
		return nil, &UpstreamError{URL: target, Err: err}
	}
	return resp, nil
}

// ResolveURL joins the base URL with the path segments. No segments resolve
// to the base URL with a single trailing slash.
func (s *ProxyService) ResolveURL(segments []string, rawQuery string) string {
	target := s.baseURL + "/" + strings.Join(segments, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// SplitSegments turns the escaped remainder of an inbound path into segments.
// Empty and dot segments are dropped so the joined path can neither double
// its slashes nor climb above the base URL.
func SplitSegments(escapedPath string) []string {
	parts := strings.Split(escapedPath, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".", "..":
			continue
		}
		segments = append(segments, p)
	}
	return segments
}

// forwardHeaders copies the inbound headers minus the stripped set and
// records the original host in X-Forwarded-Host.
func forwardHeaders(src http.Header, host string) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, key := range strippedRequestHeaders {
		dst.Del(key)
	}
	dst.Set("X-Forwarded-Host", host)
	return dst
}
