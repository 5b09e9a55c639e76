package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithCacheStoresOnlySuccesses(t *testing.T) {
	calls := 0
	fail := true
	base := Func(func(ctx context.Context, prompt string) (string, error) {
		calls++
		if fail {
			return "", errors.New("unavailable")
		}
		return "answer:" + prompt, nil
	})
	p, err := WithCache(base, 8)
	if err != nil {
		t.Fatalf("with cache: %v", err)
	}
	if _, err := p.Complete(context.Background(), "q"); err == nil {
		t.Fatalf("expected error")
	}
	fail = false
	for i := 0; i < 3; i++ {
		got, err := p.Complete(context.Background(), "q")
		if err != nil || got != "answer:q" {
			t.Fatalf("unexpected %q %v", got, err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", calls)
	}
}

func TestWithCacheForget(t *testing.T) {
	calls := 0
	base := Func(func(ctx context.Context, prompt string) (string, error) {
		calls++
		return "reply", nil
	})
	p, err := WithCache(base, 8)
	if err != nil {
		t.Fatalf("with cache: %v", err)
	}
	_, _ = p.Complete(context.Background(), "q")
	f, ok := p.(interface{ Forget(string) })
	if !ok {
		t.Fatalf("cache does not support Forget")
	}
	f.Forget("q")
	_, _ = p.Complete(context.Background(), "q")
	_, _ = p.Complete(context.Background(), "q")
	if calls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", calls)
	}
}

func TestWithRateLimitHonoursContext(t *testing.T) {
	base := Func(func(ctx context.Context, prompt string) (string, error) { return "ok", nil })
	p := WithRateLimit(base, 0.001)
	if _, err := p.Complete(context.Background(), "first"); err != nil {
		t.Fatalf("first call should use the burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Complete(ctx, "second"); err == nil {
		t.Fatalf("expected limiter to refuse within deadline")
	}
}

func TestNewProviderValidation(t *testing.T) {
	if _, err := NewProvider(context.Background(), Config{Type: OpenAI}); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := NewProvider(context.Background(), Config{Type: "anthropic", APIKey: "k"}); err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
	p, err := NewProvider(context.Background(), Config{Type: OpenAI, APIKey: "k", Model: "m", RateLimitRPS: 5, CacheSize: 4})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, ok := p.(*cached); !ok {
		t.Fatalf("expected cache to be the outer decorator, got %T", p)
	}
}
