// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ForwardRequest represents a client request to be replayed against the upstream.
// Body is captured in full before dispatch and is not sent for GET or HEAD.
type ForwardRequest struct {
	Ctx      context.Context
	Method   string
	Segments []string
	RawQuery string
	Host     string
	Header   http.Header
	Body     []byte
}

// ForwardResponse represents the upstream response to be streamed back.
type ForwardResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser
}
