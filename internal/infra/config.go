package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"orderbook_go/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultUserAgent = "orderbook-go/1.0"

	FeedModeSynthetic = "synthetic"
	FeedModeWebSocket = "websocket"
)

// Config holds all application settings.
// After LoadConfig reads the file, environment variables override secrets
// and deployment-specific values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		Mode         string  `yaml:"mode"`
		URL          string  `yaml:"url"`
		UserAgent    string  `yaml:"user_agent"`
		AccessKey    string  `yaml:"access_key"`
		SecretKey    string  `yaml:"secret_key"`
		Passphrase   string  `yaml:"passphrase"`
		OpenDelayMS  int     `yaml:"open_delay_ms"`
		IntervalMS   int     `yaml:"interval_ms"`
		JitterMS     int     `yaml:"jitter_ms"`
		Seed         uint64  `yaml:"seed"`
		SeedOrders   int     `yaml:"seed_orders"`
		NewWeight    float64 `yaml:"new_weight"`
		UpdateWeight float64 `yaml:"update_weight"`
		HandshakeSec int     `yaml:"handshake_timeout_sec"`
		PingSec      int     `yaml:"ping_interval_sec"`
		ReadSec      int     `yaml:"read_timeout_sec"`
	} `yaml:"feed"`

	Supervisor struct {
		AutoStart   bool `yaml:"auto_start"`
		BaseDelayMS int  `yaml:"base_delay_ms"`
		MaxDelayMS  int  `yaml:"max_delay_ms"`
		MinDelayMS  int  `yaml:"min_delay_ms"`
		MaxAttempts int  `yaml:"max_attempts"`
	} `yaml:"supervisor"`

	API struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"api"`

	Journal struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"journal"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Engine struct {
		DumpOnExit bool   `yaml:"dump_on_exit"`
		DumpPath   string `yaml:"dump_path"`
	} `yaml:"engine"`
}

// LoadConfig reads the YAML file, applies .env and environment overrides,
// fills defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: "path", Err: fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)}
		}
		return nil, err
	}

	// Keys absent from the file keep their defaults.
	cfg := baseConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	overrideWithEnv(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration that runs the synthetic feed with
// a seeded book, the journal enabled and the feed started on boot.
func DefaultConfig() *Config {
	cfg := baseConfig()
	cfg.applyDefaults()
	return cfg
}

// baseConfig holds the defaults whose zero value is also a valid setting.
func baseConfig() *Config {
	var cfg Config
	cfg.Feed.JitterMS = 2000
	cfg.Feed.SeedOrders = 20
	cfg.Supervisor.AutoStart = true
	cfg.Journal.Enabled = true
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "orderbook"
	}
	if c.Feed.Mode == "" {
		c.Feed.Mode = FeedModeSynthetic
	}
	if c.Feed.UserAgent == "" {
		c.Feed.UserAgent = DefaultUserAgent
	}
	if c.Feed.OpenDelayMS <= 0 {
		c.Feed.OpenDelayMS = 500
	}
	if c.Feed.IntervalMS <= 0 {
		c.Feed.IntervalMS = 3000
	}
	if c.Feed.JitterMS < 0 {
		c.Feed.JitterMS = 2000
	}
	if c.Feed.NewWeight == 0 && c.Feed.UpdateWeight == 0 {
		c.Feed.NewWeight = 0.6
		c.Feed.UpdateWeight = 0.3
	}
	if c.Supervisor.BaseDelayMS <= 0 {
		c.Supervisor.BaseDelayMS = 1000
	}
	if c.Supervisor.MaxDelayMS <= 0 {
		c.Supervisor.MaxDelayMS = 30000
	}
	if c.Supervisor.MinDelayMS <= 0 {
		c.Supervisor.MinDelayMS = 1000
	}
	if c.Supervisor.MaxAttempts <= 0 {
		c.Supervisor.MaxAttempts = 5
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.File == "" {
		c.Logging.File = "orderbook.log"
	}
	if c.Engine.DumpPath == "" {
		c.Engine.DumpPath = "orderbook_dump.json"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Feed.Mode {
	case FeedModeSynthetic:
	case FeedModeWebSocket:
		if !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
			return &domain.ConfigError{Field: "feed.url", Err: fmt.Errorf("invalid WS URL: %q", c.Feed.URL)}
		}
	default:
		return &domain.ConfigError{Field: "feed.mode", Err: fmt.Errorf("unknown mode %q", c.Feed.Mode)}
	}

	if c.Feed.NewWeight < 0 || c.Feed.UpdateWeight < 0 || c.Feed.NewWeight+c.Feed.UpdateWeight > 1 {
		return &domain.ConfigError{Field: "feed.weights", Err: fmt.Errorf("weights must be non-negative and sum to at most 1")}
	}
	if c.Feed.SeedOrders < 0 {
		return &domain.ConfigError{Field: "feed.seed_orders", Err: fmt.Errorf("must not be negative")}
	}
	if c.Supervisor.MaxDelayMS < c.Supervisor.BaseDelayMS {
		return &domain.ConfigError{Field: "supervisor.max_delay_ms", Err: fmt.Errorf("must be at least base_delay_ms")}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}

	return nil
}

// Duration helpers

func (c *Config) OpenDelay() time.Duration { return ms(c.Feed.OpenDelayMS) }
func (c *Config) Interval() time.Duration  { return ms(c.Feed.IntervalMS) }
func (c *Config) Jitter() time.Duration    { return ms(c.Feed.JitterMS) }
func (c *Config) BaseDelay() time.Duration { return ms(c.Supervisor.BaseDelayMS) }
func (c *Config) MaxDelay() time.Duration  { return ms(c.Supervisor.MaxDelayMS) }
func (c *Config) MinDelay() time.Duration  { return ms(c.Supervisor.MinDelayMS) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// overrideWithEnv overwrites values from ORDERBOOK_* environment variables.
func overrideWithEnv(cfg *Config) {
	if mode := os.Getenv("ORDERBOOK_FEED_MODE"); mode != "" {
		cfg.Feed.Mode = mode
	}
	if url := os.Getenv("ORDERBOOK_FEED_URL"); url != "" {
		cfg.Feed.URL = url
	}
	if key := os.Getenv("ORDERBOOK_FEED_KEY"); key != "" {
		cfg.Feed.AccessKey = key
	}
	if secret := os.Getenv("ORDERBOOK_FEED_SECRET"); secret != "" {
		cfg.Feed.SecretKey = secret
	}
	if pass := os.Getenv("ORDERBOOK_FEED_PASSPHRASE"); pass != "" {
		cfg.Feed.Passphrase = pass
	}
	if seed := os.Getenv("ORDERBOOK_FEED_SEED"); seed != "" {
		if v, err := strconv.ParseUint(seed, 10, 64); err == nil {
			cfg.Feed.Seed = v
		}
	}
	if addr := os.Getenv("ORDERBOOK_API_ADDR"); addr != "" {
		cfg.API.Addr = addr
	}
	if level := os.Getenv("ORDERBOOK_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if path := os.Getenv("ORDERBOOK_JOURNAL_PATH"); path != "" {
		cfg.Journal.Path = path
	}
}
