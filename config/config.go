package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ordering agent
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Storefront StorefrontConfig `mapstructure:"storefront"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig describes the completion backend.
type LLMConfig struct {
	Type         string        `mapstructure:"type"` // openai, gemini
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
	CacheSize    int           `mapstructure:"cache_size"`
}

// Validate ensures the provider can be constructed.
func (l LLMConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Type)) {
	case "openai", "gemini":
	default:
		return fmt.Errorf("llm.type must be openai or gemini, got %q", l.Type)
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model required")
	}
	if l.RateLimitRPS < 0 {
		return fmt.Errorf("llm.rate_limit_rps cannot be negative")
	}
	if l.CacheSize < 0 {
		return fmt.Errorf("llm.cache_size cannot be negative")
	}
	return nil
}

// RetryConfig controls the retry supervisor shared by every stage.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// Normalize applies defaults for unset retry values.
func (r RetryConfig) Normalize() RetryConfig {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.BaseDelay < 0 {
		r.BaseDelay = 0
	}
	return r
}

// StorefrontConfig selects the page automation backend and storefront profile.
type StorefrontConfig struct {
	Backend      string `mapstructure:"backend"` // chromedp, colly
	ProfilesFile string `mapstructure:"profiles_file"`
	Profile      string `mapstructure:"profile"`
	Headless     bool   `mapstructure:"headless"`
	UserAgent    string `mapstructure:"user_agent"`
}

// Validate checks the storefront selection.
func (s StorefrontConfig) Validate() error {
	switch s.Backend {
	case "chromedp", "colly":
	default:
		return fmt.Errorf("storefront.backend must be chromedp or colly, got %q", s.Backend)
	}
	if strings.TrimSpace(s.ProfilesFile) == "" {
		return fmt.Errorf("storefront.profiles_file required")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// Retention prunes journaled outcomes older than this; 0 keeps them forever.
	Retention time.Duration `mapstructure:"retention"`
}

// Enabled reports whether the journal database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN builds a connection string from the discrete fields when URL is unset.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

func (p PostgresConfig) Validate() error {
	if p.Retention < 0 {
		return fmt.Errorf("storage.postgres.retention cannot be negative")
	}
	if strings.TrimSpace(p.URL) != "" || !p.Enabled() {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// WorkerConfig controls the Redis order consumer.
type WorkerConfig struct {
	Group        string `mapstructure:"group"`
	Consumer     string `mapstructure:"consumer"`
	MaxInFlight  int    `mapstructure:"max_in_flight"`
	EventsMaxLen int64  `mapstructure:"events_max_len"`
}

// Normalize applies defaults for unset worker values.
func (w WorkerConfig) Normalize() WorkerConfig {
	if w.Group == "" {
		w.Group = "cartpilot"
	}
	if w.Consumer == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "worker"
		}
		w.Consumer = host
	}
	if w.MaxInFlight <= 0 {
		w.MaxInFlight = 1
	}
	if w.EventsMaxLen <= 0 {
		w.EventsMaxLen = 10000
	}
	return w
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10002")
	v.SetDefault("llm.type", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 512)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.rate_limit_rps", 2.0)
	v.SetDefault("llm.cache_size", 256)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.attempt_timeout", 45*time.Second)
	v.SetDefault("storefront.backend", "chromedp")
	v.SetDefault("storefront.profiles_file", "config/storefronts.yaml")
	v.SetDefault("storefront.headless", true)
	v.SetDefault("storefront.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.postgres.timeout", 5*time.Second)
	v.SetDefault("storage.postgres.retention", 90*24*time.Hour)
	v.SetDefault("telemetry.enabled", true)
}

// LoadConfig loads config from file and CARTPILOT_* environment variables.
// A missing file is tolerated when no explicit path was given.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("CARTPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Type {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	cfg.Retry = cfg.Retry.Normalize()
	cfg.Worker = cfg.Worker.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Storefront.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Redis.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Postgres.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	return nil
}
