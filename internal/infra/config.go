package infra

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks configuration failures. These are fatal at
// startup; the process must not continue with partial initialization.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application settings. Sensitive values can be
// overridden through environment variables after the file is loaded.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode         string `yaml:"mode"`          // "live" or "paper"
		PortfolioID  int64  `yaml:"portfolio_id"`  // singleton aggregate key
		InitialFunds string `yaml:"initial_funds"` // seed value for a new portfolio
	} `yaml:"trading"`

	Models []string `yaml:"models"` // strategy model names for allocations

	Risk struct {
		RiskPerTrade             string `yaml:"risk_per_trade"` // percent, or "KELLY"
		MaxSimultaneousPositions int    `yaml:"max_simultaneous_positions"`
		MaxCorrelatedTrades      int    `yaml:"max_correlated_trades"`
		MaxAcceptedDrawdown      int    `yaml:"max_accepted_drawdown"` // percent
		DefaultStopPercent       int    `yaml:"default_stop"`          // percent
	} `yaml:"risk"`

	API struct {
		Bitmex struct {
			RestURL     string   `yaml:"rest_url"`
			WSURL       string   `yaml:"ws_url"`
			AccessKey   string   `yaml:"access_key"`
			SecretKey   string   `yaml:"secret_key"`
			SecretsFile string   `yaml:"secrets_file"` // optional separate key file
			Symbols     []string `yaml:"symbols"`
		} `yaml:"bitmex"`
	} `yaml:"api"`

	Broker struct {
		VenueWorkers int `yaml:"venue_workers"` // bounded pool size per venue
		MaxRetries   int `yaml:"max_retries"`
	} `yaml:"broker"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies environment
// overrides, then validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.API.Bitmex.SecretsFile != "" && cfg.API.Bitmex.AccessKey == "" {
		secrets, err := LoadSecretConfig(cfg.API.Bitmex.SecretsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg.API.Bitmex.AccessKey = secrets.API.Bitmex.AccessKey
		cfg.API.Bitmex.SecretKey = secrets.API.Bitmex.SecretKey
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

// Validate checks configuration validity. Missing venue credentials in
// live mode are fatal.
func (c *Config) Validate() error {
	if c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("trading mode must be live or paper, got %q", c.Trading.Mode)
	}
	if c.Trading.PortfolioID <= 0 {
		return fmt.Errorf("portfolio_id must be positive")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one strategy model is required")
	}

	if c.Trading.Mode == "live" {
		if c.API.Bitmex.AccessKey == "" || c.API.Bitmex.SecretKey == "" {
			return fmt.Errorf("missing BitMEX credentials for live trading")
		}
	}
	if c.API.Bitmex.RestURL == "" || !hasPrefix(c.API.Bitmex.RestURL, "https://") {
		return fmt.Errorf("invalid BitMEX REST URL: %s", c.API.Bitmex.RestURL)
	}
	if c.API.Bitmex.WSURL == "" || (!hasPrefix(c.API.Bitmex.WSURL, "ws://") && !hasPrefix(c.API.Bitmex.WSURL, "wss://")) {
		return fmt.Errorf("invalid BitMEX WS URL: %s", c.API.Bitmex.WSURL)
	}
	if len(c.API.Bitmex.Symbols) == 0 {
		return fmt.Errorf("at least one BitMEX symbol is required")
	}

	if c.Risk.RiskPerTrade == "" {
		return fmt.Errorf("risk_per_trade is required")
	}
	if c.Risk.MaxSimultaneousPositions <= 0 {
		return fmt.Errorf("max_simultaneous_positions must be positive")
	}
	if c.Risk.MaxAcceptedDrawdown <= 0 || c.Risk.MaxAcceptedDrawdown > 100 {
		return fmt.Errorf("max_accepted_drawdown must be in (0, 100]")
	}
	if c.Risk.DefaultStopPercent <= 0 || c.Risk.DefaultStopPercent >= 100 {
		return fmt.Errorf("default_stop must be in (0, 100)")
	}

	return nil
}

// VenueWorkersOrDefault returns the configured venue pool size.
func (c *Config) VenueWorkersOrDefault() int {
	if c.Broker.VenueWorkers > 0 {
		return c.Broker.VenueWorkers
	}
	return 4
}

// MaxRetriesOrDefault returns the configured broker retry budget.
func (c *Config) MaxRetriesOrDefault() int {
	if c.Broker.MaxRetries > 0 {
		return c.Broker.MaxRetries
	}
	return 3
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment variables over file values. Env
// always wins so keys never need to live in the config file.
func overrideWithEnv(cfg *Config) {
	if cfg.API.Bitmex.SecretKey != "" {
		fmt.Println("WARNING: API secrets found in config file.")
		fmt.Println("  Recommendation: use environment variables instead:")
		fmt.Println("  - TRADES_BITMEX_KEY, TRADES_BITMEX_SECRET")
	}

	if key := os.Getenv("TRADES_BITMEX_KEY"); key != "" {
		cfg.API.Bitmex.AccessKey = key
	}
	if secret := os.Getenv("TRADES_BITMEX_SECRET"); secret != "" {
		cfg.API.Bitmex.SecretKey = secret
	}
}
