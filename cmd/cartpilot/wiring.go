package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/cartpilot/config"
	"github.com/mohammad-safakhou/cartpilot/internal/agent/core"
	"github.com/mohammad-safakhou/cartpilot/internal/agent/telemetry"
	"github.com/mohammad-safakhou/cartpilot/internal/store"
	"github.com/mohammad-safakhou/cartpilot/internal/supervisor"
	"github.com/mohammad-safakhou/cartpilot/provider"
	"github.com/mohammad-safakhou/cartpilot/tools/storefront"
	"github.com/mohammad-safakhou/cartpilot/tools/storefront/profile"
	"github.com/redis/go-redis/v9"
)

// runtime holds what every command that runs orders shares.
type runtime struct {
	cfg       *config.Config
	telemetry *telemetry.Telemetry
	llm       provider.Provider
	profiles  []profile.Profile
	journal   *store.Store

	mu      sync.Mutex
	runners map[string]core.Runner
}

// newRuntime loads the config and builds the provider and profiles. The
// journal is opened only when withJournal is set and Postgres is configured.
func newRuntime(ctx context.Context, withJournal bool) (*runtime, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	llm, err := provider.NewProvider(ctx, provider.Config{
		Type:         provider.Client(strings.ToLower(cfg.LLM.Type)),
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		Timeout:      cfg.LLM.Timeout,
		RateLimitRPS: cfg.LLM.RateLimitRPS,
		CacheSize:    cfg.LLM.CacheSize,
		Logger:       log.New(log.Writer(), "[LLM] ", log.LstdFlags),
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	profiles, err := profile.Load(cfg.Storefront.ProfilesFile)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		cfg:       cfg,
		telemetry: telemetry.NewTelemetry(cfg.Telemetry),
		llm:       llm,
		profiles:  profiles,
		runners:   make(map[string]core.Runner),
	}
	if withJournal && cfg.Storage.Postgres.Enabled() {
		st, err := store.New(ctx, cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.journal = st
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.journal != nil {
		_ = rt.journal.Close()
	}
}

// resolve returns the orchestrator for a storefront profile, building it on
// first use. An empty name selects storefront.profile from the config.
func (rt *runtime) resolve(name string) (core.Runner, error) {
	if strings.TrimSpace(name) == "" {
		name = rt.cfg.Storefront.Profile
	}
	p, err := profile.Select(rt.profiles, name)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if r, ok := rt.runners[p.Name]; ok {
		return r, nil
	}
	auto, err := storefront.NewAutomation(storefront.BackendType(rt.cfg.Storefront.Backend), p, storefront.Options{
		Headless:  rt.cfg.Storefront.Headless,
		UserAgent: rt.cfg.Storefront.UserAgent,
		Timeout:   rt.cfg.Retry.AttemptTimeout,
	})
	if err != nil {
		return nil, err
	}
	opts := []core.Option{
		core.WithTelemetry(rt.telemetry),
		core.WithLogger(log.New(log.Writer(), "[ORCH] ", log.LstdFlags)),
		core.WithRetry(
			supervisor.WithMaxAttempts(rt.cfg.Retry.MaxAttempts),
			supervisor.WithBaseDelay(rt.cfg.Retry.BaseDelay),
			supervisor.WithAttemptTimeout(rt.cfg.Retry.AttemptTimeout),
		),
	}
	if rt.journal != nil {
		opts = append(opts, core.WithJournal(rt.journal))
	}
	r := core.NewOrchestrator(rt.llm, auto, opts...)
	rt.runners[p.Name] = r
	return r, nil
}

// newRedis connects and pings the configured Redis.
func newRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("redis not configured (storage.redis.host)")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: timeout,
	})
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
