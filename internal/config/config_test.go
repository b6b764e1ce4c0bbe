package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Scanner.ScanInterval.Duration != 5*time.Second {
		t.Errorf("scan_interval = %v", cfg.Scanner.ScanInterval.Duration)
	}
	if cfg.Scanner.FeedConcurrencyLimit != 16 {
		t.Errorf("feed_concurrency_limit = %d", cfg.Scanner.FeedConcurrencyLimit)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Scanner.MinProfitThreshold = 1.5
	cfg.Scanner.InitialBalance = 0
	cfg.Scanner.FeedConcurrencyLimit = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "live"`,
		"min_profit_threshold",
		"initial_balance",
		"feed_concurrency_limit",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateRateLimitNeedsRedis(t *testing.T) {
	cfg := Defaults()
	cfg.Server.RateLimit = 10
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "redis.enabled") {
		t.Fatalf("expected redis requirement, got %v", err)
	}
	cfg.Redis.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatePolymarketHosts(t *testing.T) {
	cfg := Defaults()
	cfg.Polymarket.ClobHost = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty clob_host should fall back to Gamma prices: %v", err)
	}
	cfg.Polymarket.ClobHost = "clob.polymarket.com"
	cfg.Polymarket.GammaHost = "gamma-api.polymarket.com"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for scheme-less hosts")
	}
	for _, want := range []string{"clob_host", "gamma_host"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%s", want, err)
		}
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polyarb.toml")
	body := `
mode = "monitor"

[scanner]
scan_interval = "10s"
min_profit_threshold = 0.02
markets = ["m1", "m2"]

[redis]
enabled = true
addr = "redis:6379"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POLYARB_SCANNER_MAX_POSITION_SIZE", "250")
	t.Setenv("POLYARB_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("POLYARB_SCANNER_FETCH_TIMEOUT", "not-a-duration")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "monitor" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Scanner.ScanInterval.Duration != 10*time.Second {
		t.Errorf("scan_interval = %v", cfg.Scanner.ScanInterval.Duration)
	}
	if cfg.Scanner.MinProfitThreshold != 0.02 {
		t.Errorf("threshold = %v", cfg.Scanner.MinProfitThreshold)
	}
	if len(cfg.Scanner.Markets) != 2 {
		t.Errorf("markets = %v", cfg.Scanner.Markets)
	}
	if cfg.Scanner.MaxPositionSize != 250 {
		t.Errorf("max_position_size = %v", cfg.Scanner.MaxPositionSize)
	}
	if got := cfg.Server.CORSOrigins; len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("cors_origins = %v", got)
	}
	// Unparseable overrides leave the default in place.
	if cfg.Scanner.FetchTimeout.Duration != 3*time.Second {
		t.Errorf("fetch_timeout = %v", cfg.Scanner.FetchTimeout.Duration)
	}
	// Untouched sections keep defaults.
	if cfg.Scanner.HistorySize != 500 {
		t.Errorf("history_size = %d", cfg.Scanner.HistorySize)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scanner.InitialBalance != 10000 {
		t.Errorf("initial_balance = %v", cfg.Scanner.InitialBalance)
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := Defaults(); !reflect.DeepEqual(*cfg, want) {
		t.Errorf("config.example.toml drifted from Defaults():\n got  %+v\n want %+v", *cfg, want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Password = "hunter2"
	cfg.Server.APIKey = "k"
	cfg.S3.SecretKey = "s"

	out := RedactedConfig(&cfg)
	if out.Redis.Password != "***" || out.Server.APIKey != "***" || out.S3.SecretKey != "***" {
		t.Errorf("secrets not redacted: %+v", out)
	}
	if out.Postgres.Password != "" {
		t.Errorf("empty secret should stay empty, got %q", out.Postgres.Password)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Error("original config mutated")
	}
	out.Server.CORSOrigins[0] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" {
		t.Error("slice shared with original")
	}
}
