// Package config defines the top-level configuration for the arbitrage
// scanner and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYARB_* environment variables.
type Config struct {
	Scanner    ScannerConfig    `toml:"scanner"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ScannerConfig holds the scan cycle, detector and paper trader knobs.
type ScannerConfig struct {
	ScanInterval         duration `toml:"scan_interval"`
	MinProfitThreshold   float64  `toml:"min_profit_threshold"`
	InitialBalance       float64  `toml:"initial_balance"`
	MaxPositionSize      float64  `toml:"max_position_size"`
	FeedConcurrencyLimit int      `toml:"feed_concurrency_limit"`
	FetchTimeout         duration `toml:"fetch_timeout"`
	CacheTTL             duration `toml:"cache_ttl"`
	HistorySize          int      `toml:"history_size"`
	MaxOpenPositions     int      `toml:"max_open_positions"`
	MinTradeCost         float64  `toml:"min_trade_cost"`
	DegradedAfterCycles  int      `toml:"degraded_after_cycles"`
	MinVolume            float64  `toml:"min_volume"`
	MinLiquidity         float64  `toml:"min_liquidity"`
	// Markets pins the scanner to fixed Gamma market ids. Empty means
	// keyword discovery.
	Markets        []string `toml:"markets"`
	TargetKeywords []string `toml:"target_keywords"`
	DiscoveryLimit int      `toml:"discovery_limit"`
	DiscoveryTTL   duration `toml:"discovery_ttl"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"` // empty prices legs from Gamma outcomePrices
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	StreamEnabled bool   `toml:"stream_enabled"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	SnapshotTTL  duration `toml:"snapshot_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects the write endpoints when set.
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"` // requests per window per client; 0 disables
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Scanner: ScannerConfig{
			ScanInterval:         duration{5 * time.Second},
			MinProfitThreshold:   0.01,
			InitialBalance:       10000,
			MaxPositionSize:      100,
			FeedConcurrencyLimit: 16,
			FetchTimeout:         duration{3 * time.Second},
			CacheTTL:             duration{time.Second},
			HistorySize:          500,
			MaxOpenPositions:     50,
			MinTradeCost:         1.0,
			DegradedAfterCycles:  3,
			MinVolume:            10000,
			MinLiquidity:         1000,
			TargetKeywords:       []string{"BTC", "ETH", "SOL", "XRP"},
			DiscoveryLimit:       100,
			DiscoveryTTL:         duration{5 * time.Second},
		},
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			StreamEnabled: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
			SnapshotTTL:  duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "polyarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "polyarb-archive",
			UseSSL:          false,
			ForcePathStyle:  true,
			ArchiveInterval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"degraded_health", "recovered", "trade_executed"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":   true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, monitor, server)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Scanner
	s := c.Scanner
	if s.ScanInterval.Duration <= 0 {
		errs = append(errs, "scanner: scan_interval must be > 0")
	}
	if s.MinProfitThreshold < 0 || s.MinProfitThreshold >= 1 {
		errs = append(errs, fmt.Sprintf("scanner: min_profit_threshold must be in [0,1), got %v", s.MinProfitThreshold))
	}
	if s.InitialBalance <= 0 {
		errs = append(errs, "scanner: initial_balance must be > 0")
	}
	if s.MaxPositionSize < 0 {
		errs = append(errs, "scanner: max_position_size must be >= 0")
	}
	if s.FeedConcurrencyLimit < 1 {
		errs = append(errs, "scanner: feed_concurrency_limit must be >= 1")
	}
	if s.FetchTimeout.Duration <= 0 {
		errs = append(errs, "scanner: fetch_timeout must be > 0")
	}
	if s.CacheTTL.Duration < 0 {
		errs = append(errs, "scanner: cache_ttl must be >= 0")
	}
	if s.HistorySize < 1 {
		errs = append(errs, "scanner: history_size must be >= 1")
	}
	if s.MaxOpenPositions < 1 {
		errs = append(errs, "scanner: max_open_positions must be >= 1")
	}
	if s.MinTradeCost < 0 {
		errs = append(errs, "scanner: min_trade_cost must be >= 0")
	}
	if s.DegradedAfterCycles < 1 {
		errs = append(errs, "scanner: degraded_after_cycles must be >= 1")
	}
	if s.MinVolume < 0 || s.MinLiquidity < 0 {
		errs = append(errs, "scanner: min_volume and min_liquidity must be >= 0")
	}
	if len(s.Markets) == 0 && s.DiscoveryLimit < 1 {
		errs = append(errs, "scanner: discovery_limit must be >= 1 when no markets are pinned")
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	} else if !httpURL(c.Polymarket.GammaHost) {
		errs = append(errs, "polymarket: gamma_host must be an http(s) URL")
	}
	if c.Polymarket.ClobHost != "" && !httpURL(c.Polymarket.ClobHost) {
		errs = append(errs, "polymarket: clob_host must be an http(s) URL or empty")
	}
	if c.Polymarket.StreamEnabled && c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty when stream_enabled")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 {
			if !c.Redis.Enabled {
				errs = append(errs, "server: rate_limit requires redis.enabled")
			}
			if c.Server.RateWindow.Duration <= 0 {
				errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func httpURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
