package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Scanner ──
	setDuration(&cfg.Scanner.ScanInterval, "POLYARB_SCANNER_SCAN_INTERVAL")
	setFloat64(&cfg.Scanner.MinProfitThreshold, "POLYARB_SCANNER_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Scanner.InitialBalance, "POLYARB_SCANNER_INITIAL_BALANCE")
	setFloat64(&cfg.Scanner.MaxPositionSize, "POLYARB_SCANNER_MAX_POSITION_SIZE")
	setInt(&cfg.Scanner.FeedConcurrencyLimit, "POLYARB_SCANNER_FEED_CONCURRENCY_LIMIT")
	setDuration(&cfg.Scanner.FetchTimeout, "POLYARB_SCANNER_FETCH_TIMEOUT")
	setDuration(&cfg.Scanner.CacheTTL, "POLYARB_SCANNER_CACHE_TTL")
	setInt(&cfg.Scanner.HistorySize, "POLYARB_SCANNER_HISTORY_SIZE")
	setInt(&cfg.Scanner.MaxOpenPositions, "POLYARB_SCANNER_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Scanner.MinTradeCost, "POLYARB_SCANNER_MIN_TRADE_COST")
	setInt(&cfg.Scanner.DegradedAfterCycles, "POLYARB_SCANNER_DEGRADED_AFTER_CYCLES")
	setFloat64(&cfg.Scanner.MinVolume, "POLYARB_SCANNER_MIN_VOLUME")
	setFloat64(&cfg.Scanner.MinLiquidity, "POLYARB_SCANNER_MIN_LIQUIDITY")
	setStringSlice(&cfg.Scanner.Markets, "POLYARB_SCANNER_MARKETS")
	setStringSlice(&cfg.Scanner.TargetKeywords, "POLYARB_SCANNER_TARGET_KEYWORDS")
	setInt(&cfg.Scanner.DiscoveryLimit, "POLYARB_SCANNER_DISCOVERY_LIMIT")
	setDuration(&cfg.Scanner.DiscoveryTTL, "POLYARB_SCANNER_DISCOVERY_TTL")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYARB_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYARB_POLYMARKET_WS_HOST")
	setBool(&cfg.Polymarket.StreamEnabled, "POLYARB_POLYMARKET_STREAM_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POLYARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POLYARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLYARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYARB_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "POLYARB_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.SnapshotTTL, "POLYARB_REDIS_SNAPSHOT_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYARB_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "POLYARB_S3_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYARB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYARB_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYARB_MODE")
	setStr(&cfg.LogLevel, "POLYARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
