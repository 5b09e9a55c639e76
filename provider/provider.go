package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/cartpilot/provider/gemini"
	openai_provider "github.com/mohammad-safakhou/cartpilot/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
	Gemini Client = "gemini"
)

// Provider is the text-in/text-out completion capability.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// ErrEmptyCompletion is returned when a backend answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// Config selects and tunes a backend.
type Config struct {
	Type         Client
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	RateLimitRPS float64
	CacheSize    int
	HTTPClient   *http.Client
	Logger       *log.Logger
}

// NewProvider creates a completion client for cfg, wrapped with the rate
// limiter and response cache when they are enabled.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s api key not set", cfg.Type)
	}
	var base Provider
	switch cfg.Type {
	case OpenAI:
		base = openai_provider.NewOpenAIClient(openai_provider.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			HTTPClient:  cfg.HTTPClient,
			Logger:      cfg.Logger,
		})
	case Gemini:
		g, err := gemini.New(ctx, gemini.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		base = g
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Type)
	}

	p := base
	if cfg.RateLimitRPS > 0 {
		p = WithRateLimit(p, cfg.RateLimitRPS)
	}
	if cfg.CacheSize > 0 {
		cached, err := WithCache(p, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		p = cached
	}
	return p, nil
}
