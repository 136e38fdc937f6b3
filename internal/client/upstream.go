// Package client provides the HTTP client used to reach the upstream AI backend.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mentorae-gateway/internal/config"
	"mentorae-gateway/internal/metrics"
	"mentorae-gateway/internal/model"
	"mentorae-gateway/internal/retry"
)

// UpstreamClient sends requests to the upstream backend.
type UpstreamClient struct {
	httpClient *http.Client
	doer       retry.Doer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling, the
// configured timeout and retry policy. Redirects are never followed and
// response bodies are never decompressed, so the caller sees upstream bytes
// exactly. The metrics parameter is optional; pass nil to disable recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	c := &UpstreamClient{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Upstream.Retry.MaxAttempts,
		Step:        time.Duration(cfg.Upstream.Retry.BackoffMillis) * time.Millisecond,
		Retryable:   retry.StatusIn(cfg.Upstream.Retry.Statuses...),
		Notify:      c.onRetry,
	}
	c.doer = policy.Wrap(retry.DoerFunc(c.send))

	return c
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.ForwardResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"url", req.URL.Redacted(),
	)

	resp, err := c.doer.Do(req) //nolint:bodyclose // body ownership transfers to caller via ForwardResponse
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	return &model.ForwardResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream builds a request from its parts and executes it.
// The caller is responsible for closing the returned body.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled. A nil body sends no body at all.
func (c *UpstreamClient) DoStream(ctx context.Context, method, url string, header http.Header, body []byte) (*model.ForwardResponse, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}

// send performs one attempt and records its metrics.
func (c *UpstreamClient) send(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // returned to retry wrapper
	duration := time.Since(start).Seconds()

	if c.metrics == nil {
		return resp, err
	}

	method := metrics.NormalizeMethod(req.Method)
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	if err != nil {
		c.metrics.UpstreamFailures.WithLabelValues(method).Inc()
		return nil, err
	}
	c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

func (c *UpstreamClient) onRetry(attempt int, err error, wait time.Duration) {
	c.logger.Warn("retrying upstream request",
		"attempt", attempt,
		"wait", wait,
		"err", err,
	)
	if c.metrics != nil {
		c.metrics.UpstreamRetries.Inc()
	}
}
