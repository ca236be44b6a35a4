// Package config handles application configuration from environment
// variables and the engine defaults file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Port          string
	DatabasePath  string
	LogLevel      string
	IGAccessToken string
	SeedDemoData  bool
	Engine        Engine
}

// Engine holds the processing-engine settings loaded from the YAML
// defaults file, with environment overrides applied.
type Engine struct {
	RateLimitMax          int
	RateWindow            time.Duration
	DedupRetentionWindows int
	DefaultTrigger        string
	DeliveryTimeout       time.Duration
	GraphAPIURL           string
}

// rawEngine represents the YAML structure of the engine defaults file.
type rawEngine struct {
	RateLimit struct {
		MaxPerWindow  int `yaml:"max_per_window"`
		WindowSeconds int `yaml:"window_seconds"`
	} `yaml:"rate_limit"`
	Dedup struct {
		RetentionWindows int `yaml:"retention_windows"`
	} `yaml:"dedup"`
	Matcher struct {
		DefaultTrigger string `yaml:"default_trigger"`
	} `yaml:"matcher"`
	Delivery struct {
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		GraphAPIURL    string `yaml:"graph_api_url"`
	} `yaml:"delivery"`
}

// Load reads configuration from environment variables and the engine
// defaults file at enginePath. A missing file leaves the built-in
// defaults in place; a malformed one is an error.
func Load(enginePath string) (*Config, error) {
	engine, err := loadEngine(enginePath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:          envOr("PORT", "3000"),
		DatabasePath:  envOr("DATABASE_PATH", "./data/engine.db"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		IGAccessToken: os.Getenv("IG_ACCESS_TOKEN"),
		SeedDemoData:  os.Getenv("SEED_DEMO_DATA") == "true",
		Engine:        engine,
	}

	// Env overrides for the rate window make test environments cheap to
	// reconfigure without touching the YAML file.
	if v := os.Getenv("RATE_LIMIT_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_MAX %q", v)
		}
		cfg.Engine.RateLimitMax = n
	}
	if v := os.Getenv("RATE_WINDOW_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid RATE_WINDOW_SECONDS %q", v)
		}
		cfg.Engine.RateWindow = time.Duration(n) * time.Second
	}

	return cfg, nil
}

// DefaultEngine returns the built-in engine settings used when the YAML
// file does not override them.
func DefaultEngine() Engine {
	return Engine{
		RateLimitMax:          10,
		RateWindow:            time.Minute,
		DedupRetentionWindows: 6,
		DefaultTrigger:        "LINK",
		DeliveryTimeout:       5 * time.Second,
		GraphAPIURL:           "https://graph.instagram.com/v21.0/me/messages",
	}
}

func loadEngine(path string) (Engine, error) {
	engine := DefaultEngine()
	if path == "" {
		return engine, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return engine, nil
		}
		return engine, fmt.Errorf("read engine config: %w", err)
	}

	var raw rawEngine
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return engine, fmt.Errorf("parse engine config: %w", err)
	}

	if raw.RateLimit.MaxPerWindow > 0 {
		engine.RateLimitMax = raw.RateLimit.MaxPerWindow
	}
	if raw.RateLimit.WindowSeconds > 0 {
		engine.RateWindow = time.Duration(raw.RateLimit.WindowSeconds) * time.Second
	}
	if raw.Dedup.RetentionWindows > 0 {
		engine.DedupRetentionWindows = raw.Dedup.RetentionWindows
	}
	if raw.Matcher.DefaultTrigger != "" {
		engine.DefaultTrigger = raw.Matcher.DefaultTrigger
	}
	if raw.Delivery.TimeoutSeconds > 0 {
		engine.DeliveryTimeout = time.Duration(raw.Delivery.TimeoutSeconds) * time.Second
	}
	if raw.Delivery.GraphAPIURL != "" {
		engine.GraphAPIURL = raw.Delivery.GraphAPIURL
	}

	return engine, nil
}

// DedupRetention returns how long dedup records are kept before pruning.
func (e Engine) DedupRetention() time.Duration {
	return time.Duration(e.DedupRetentionWindows) * e.RateWindow
}

// DefaultProvider returns the system-wide default delivery provider:
// live when messaging credentials are configured, sandbox otherwise.
func (c *Config) DefaultProvider() string {
	if c.IGAccessToken != "" {
		return "live"
	}
	return "sandbox"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
