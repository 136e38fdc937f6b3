// Package retry wraps an HTTP sender with a bounded, linear-backoff retry policy.
package retry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to the Doer interface.
type DoerFunc func(req *http.Request) (*http.Response, error)

// Do calls f(req).
func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// Policy describes when and how often a request is re-sent.
type Policy struct {
	// MaxAttempts is the total number of sends, including the first. Values
	// below 2 disable retrying.
	MaxAttempts int
	// Step is the linear backoff unit: the wait before attempt n+1 is n*Step.
	Step time.Duration
	// Retryable reports whether an upstream status should be retried.
	// Network errors are always retryable.
	Retryable func(status int) bool
	// Notify, when set, is called before each wait.
	Notify func(attempt int, err error, wait time.Duration)
}

// StatusIn returns a predicate matching any of the given status codes.
func StatusIn(codes ...int) func(int) bool {
	return func(status int) bool { return slices.Contains(codes, status) }
}

// Wrap returns a Doer that applies the policy around next.
func (p Policy) Wrap(next Doer) Doer {
	if p.MaxAttempts < 2 {
		return next
	}
	return &retrier{policy: p, next: next}
}

type retrier struct {
	policy Policy
	next   Doer
}

// statusError marks a retryable upstream status so backoff keeps going.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned retryable status %d", e.code)
}

func (r *retrier) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	rewindable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	if !rewindable {
		return r.next.Do(req)
	}

	attempt := 0
	op := func() (*http.Response, error) {
		attempt++
		out, err := rewind(ctx, req, attempt)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := r.next.Do(out) //nolint:bodyclose // returned to caller or drained below
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		if attempt < r.policy.MaxAttempts && r.policy.Retryable != nil && r.policy.Retryable(resp.StatusCode) {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil, &statusError{code: resp.StatusCode}
		}
		return resp, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&linearBackOff{step: r.policy.Step}),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if r.policy.Notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			r.policy.Notify(attempt, err, wait)
		}))
	}

	return backoff.Retry(ctx, op, opts...)
}

// rewind returns the request to send for the given attempt, with a fresh body
// after the first one.
func rewind(ctx context.Context, req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.GetBody == nil {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	out := req.Clone(ctx)
	out.Body = body
	return out, nil
}

// linearBackOff waits n*step before the (n+1)th attempt.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }
