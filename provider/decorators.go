package provider

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

type limited struct {
	next    Provider
	limiter *rate.Limiter
}

// WithRateLimit throttles calls to rps with a burst of one.
func WithRateLimit(next Provider, rps float64) Provider {
	return &limited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (l *limited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.next.Complete(ctx, prompt)
}

type cached struct {
	next  Provider
	cache *lru.Cache[string, string]
}

// WithCache memoises successful completions by prompt. Failures are never
// stored, and a caller that rejects a reply calls Forget so the next attempt
// reaches the service.
func WithCache(next Provider, size int) (Provider, error) {
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &cached{next: next, cache: c}, nil
}

func (c *cached) Complete(ctx context.Context, prompt string) (string, error) {
	if v, ok := c.cache.Get(prompt); ok {
		return v, nil
	}
	out, err := c.next.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	c.cache.Add(prompt, out)
	return out, nil
}

// Forget drops the reply stored for prompt.
func (c *cached) Forget(prompt string) { c.cache.Remove(prompt) }
