// Package llm abstracts the text-generation provider behind a single call.
package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// Options tune one completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Client is the provider contract: one prompt in, generated text out.
type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, prompt string, opts Options) (string, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}

// RateLimited throttles calls to the wrapped client with a token bucket.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited wraps next. A non-positive rps disables limiting.
func NewRateLimited(next Client, rps float64, burst int) *RateLimited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Complete waits for a token, then delegates.
func (r *RateLimited) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.next.Complete(ctx, prompt, opts)
}
