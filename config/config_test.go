package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
server:
  jwt_secret: s3cret
llm:
  type: gemini
  model: gemini-2.0-flash
storefront:
  backend: colly
  profiles_file: storefronts.yaml
  profile: books
storage:
  postgres:
    host: db
    dbname: orders
worker:
  max_in_flight: 4
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFileAndDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLM.Type != "gemini" || cfg.LLM.APIKey != "g-key" {
		t.Fatalf("unexpected llm config %+v", cfg.LLM)
	}
	if cfg.Server.Address != ":10002" || cfg.Retry.MaxAttempts != 3 || cfg.Retry.AttemptTimeout != 45*time.Second {
		t.Fatalf("defaults not applied: server=%+v retry=%+v", cfg.Server, cfg.Retry)
	}
	if cfg.Storage.Postgres.Retention != 90*24*time.Hour {
		t.Fatalf("unexpected retention %s", cfg.Storage.Postgres.Retention)
	}
	if !cfg.Storage.Postgres.Enabled() || cfg.Storage.Redis.Enabled() {
		t.Fatalf("unexpected storage enablement %+v", cfg.Storage)
	}
	if got := cfg.Storage.Postgres.DSN(); got != "postgres://:@db:5432/orders?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
	if cfg.Worker.MaxInFlight != 4 || cfg.Worker.Group != "cartpilot" || cfg.Worker.EventsMaxLen != 10000 {
		t.Fatalf("worker not normalized %+v", cfg.Worker)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("CARTPILOT_LLM_MODEL", "gemini-2.5-pro")
	t.Setenv("CARTPILOT_RETRY_MAX_ATTEMPTS", "5")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLM.Model != "gemini-2.5-pro" || cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.LLM, cfg.Retry)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"llm.type":           strings.Replace(sampleConfig, "type: gemini", "type: claude", 1),
		"storefront.backend": strings.Replace(sampleConfig, "backend: colly", "backend: selenium", 1),
		"retention":          strings.Replace(sampleConfig, "dbname: orders", "dbname: orders\n    retention: -1h", 1),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("explicit missing file must fail")
	}
}

func TestRedisAddrAndWorkerNormalize(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: "6380"}
	if !r.Enabled() || r.Addr() != "cache:6380" {
		t.Fatalf("unexpected redis addr %q", r.Addr())
	}
	w := WorkerConfig{Consumer: "w1"}.Normalize()
	if w.Consumer != "w1" || w.MaxInFlight != 1 {
		t.Fatalf("unexpected worker config %+v", w)
	}
	if r := (RetryConfig{BaseDelay: -time.Second}).Normalize(); r.MaxAttempts != 3 || r.BaseDelay != 0 {
		t.Fatalf("unexpected retry config %+v", r)
	}
}
