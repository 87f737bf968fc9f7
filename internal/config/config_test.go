package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configEnvVars = []string{
	"ENV_NAME", "WAQI_TOKEN", "WAQI_BASE_URL", "CACHE_BACKEND", "MEMCACHED_ADDRS",
	"REDIS_ADDR", "REDIS_PASSWORD", "DATABASE_URL",
}

// isolate unsets every variable Load reads, restores them afterwards, and
// moves into a temp project root.
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range configEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			t.Cleanup(func() { os.Setenv(k, v) })
		} else {
			t.Cleanup(func() { os.Unsetenv(k) })
		}
		os.Unsetenv(k)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	return dir
}

func TestLoad_FailsWhenNoToken(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no WAQI_TOKEN, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WAQI_TOKEN") {
		t.Errorf("Load() error = %v, want message containing WAQI_TOKEN", err)
	}
}

func TestLoad_TokenSources(t *testing.T) {
	t.Run("secrets file", func(t *testing.T) {
		dir := isolate(t)
		writeEnvFile(t, dir, minimalEnvYAML)
		writeSecretsFile(t, dir, "waqi_token: from-secrets\ndatabase_url: postgres://secret\n")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.WAQIToken != "from-secrets" {
			t.Errorf("WAQIToken = %q", cfg.WAQIToken)
		}
		if cfg.DatabaseURL != "postgres://secret" {
			t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
		}
	})

	t.Run("dotenv file", func(t *testing.T) {
		dir := isolate(t)
		writeEnvFile(t, dir, minimalEnvYAML)
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WAQI_TOKEN=from-dotenv\nCACHE_BACKEND=redis\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.WAQIToken != "from-dotenv" || cfg.CacheBackend != CacheRedis {
			t.Errorf("token/backend = %q/%q", cfg.WAQIToken, cfg.CacheBackend)
		}
	})

	t.Run("env wins over secrets and dotenv", func(t *testing.T) {
		dir := isolate(t)
		writeEnvFile(t, dir, minimalEnvYAML)
		writeSecretsFile(t, dir, "waqi_token: from-secrets\n")
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WAQI_TOKEN=from-dotenv\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		os.Setenv("WAQI_TOKEN", "from-env")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.WAQIToken != "from-env" {
			t.Errorf("WAQIToken = %q, want from-env", cfg.WAQIToken)
		}
	})
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	isolate(t)
	os.Setenv("ENV_NAME", "nonexistent")
	os.Setenv("WAQI_TOKEN", "tok")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want config file not found", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := isolate(t)
	os.Setenv("WAQI_TOKEN", "tok")
	writeEnvFile(t, dir, "server: [unclosed")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)
	os.Setenv("WAQI_TOKEN", "tok")
	writeEnvFile(t, dir, "server:\n  port: \"9090\"\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checks := []struct {
		name      string
		got, want any
	}{
		{"ServerPort", cfg.ServerPort, "9090"},
		{"WAQIBaseURL", cfg.WAQIBaseURL, "https://api.waqi.info"},
		{"WAQITimeout", cfg.WAQITimeout, 10 * time.Second},
		{"RequestTimeout", cfg.RequestTimeout, 15 * time.Second},
		{"CacheTTL", cfg.CacheTTL, 5 * time.Minute},
		{"CacheBackend", cfg.CacheBackend, CacheInMemory},
		{"CoalesceEnabled", cfg.CoalesceEnabled, true},
		{"BreakerEnabled", cfg.BreakerEnabled, true},
		{"BreakerFailureThreshold", cfg.BreakerFailureThreshold, uint32(5)},
		{"RedisAddr", cfg.RedisAddr, "localhost:6379"},
		{"MemcachedAddrs", cfg.MemcachedAddrs, "localhost:11211"},
		{"HealthFailurePct", cfg.HealthFailurePct, 50},
		{"IngestSchedule", cfg.IngestSchedule, "0 * * * *"},
		{"IngestTo", cfg.IngestTo, 15000},
		{"IngestEnabled", cfg.IngestEnabled, false},
		{"WarmInterval", cfg.WarmInterval, time.Duration(0)},
		{"RankingMemoSize", cfg.RankingMemoSize, 8},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	os.Setenv("WAQI_TOKEN", "tok")
	os.Setenv("CACHE_BACKEND", " MEMCACHED ")
	os.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")
	os.Setenv("REDIS_ADDR", "redis:6380")
	os.Setenv("DATABASE_URL", "postgres://env")
	os.Setenv("WAQI_BASE_URL", "http://stub")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != CacheMemcached || cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("memcached = %q %q", cfg.CacheBackend, cfg.MemcachedAddrs)
	}
	if cfg.RedisAddr != "redis:6380" || cfg.DatabaseURL != "postgres://env" || cfg.WAQIBaseURL != "http://stub" {
		t.Errorf("overrides = %q %q %q", cfg.RedisAddr, cfg.DatabaseURL, cfg.WAQIBaseURL)
	}
}

func TestLoad_FileValues(t *testing.T) {
	dir := isolate(t)
	os.Setenv("WAQI_TOKEN", "tok")
	writeEnvFile(t, dir, minimalEnvYAML+`
ingest:
  enabled: true
  schedule: "*/30 * * * *"
  from: 100
  to: 200
  concurrency: 2
location:
  slot_path: "/tmp/loc.json"
metrics:
  tracked_cities: [mumbai, delhi]
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.IngestEnabled || cfg.IngestSchedule != "*/30 * * * *" || cfg.IngestFrom != 100 || cfg.IngestTo != 200 || cfg.IngestConcurrency != 2 {
		t.Errorf("ingest = %+v", cfg)
	}
	if cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled = true, want false from file")
	}
	if cfg.CoalesceTimeout != 3*time.Second {
		t.Errorf("CoalesceTimeout = %v", cfg.CoalesceTimeout)
	}
	if cfg.LocationSlotPath != "/tmp/loc.json" || len(cfg.TrackedCities) != 2 {
		t.Errorf("slot/tracked = %q %v", cfg.LocationSlotPath, cfg.TrackedCities)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			WAQITimeout:    2 * time.Second,
			RequestTimeout: 5 * time.Second,
			CacheBackend:   CacheInMemory,
			IngestFrom:     1,
			IngestTo:       10,
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"redis backend", func(c *Config) { c.CacheBackend = CacheRedis }, ""},
		{"unknown backend", func(c *Config) { c.CacheBackend = "dynamo" }, "cache.backend"},
		{"zero waqi timeout", func(c *Config) { c.WAQITimeout = 0 }, "waqi.timeout"},
		{"negative coalesce timeout", func(c *Config) { c.CoalesceTimeout = -time.Second }, "coalesce"},
		{"negative warm interval", func(c *Config) { c.WarmInterval = -time.Second }, "warm"},
		{"empty ingest range", func(c *Config) { c.IngestFrom = 20 }, "ingest range"},
		{"failure pct over 100", func(c *Config) { c.HealthFailurePct = 150 }, "failure_pct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestValidate_RaisesRequestTimeout verifies RequestTimeout is lifted above the upstream timeout.
func TestValidate_RaisesRequestTimeout(t *testing.T) {
	cfg := &Config{WAQITimeout: 10 * time.Second, RequestTimeout: 5 * time.Second, CacheBackend: CacheInMemory}
	if err := validate(cfg); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if cfg.RequestTimeout != 11*time.Second {
		t.Errorf("RequestTimeout = %v, want 11s", cfg.RequestTimeout)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"", time.Second, time.Second},
		{"bogus", time.Second, time.Second},
		{"250ms", time.Second, 250 * time.Millisecond},
		{"0s", time.Second, time.Second},
		{"-1s", time.Second, time.Second},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, tt.def); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := parseDurationOrZero("0s", time.Second); got != 0 {
		t.Errorf("parseDurationOrZero(0s) = %v, want 0", got)
	}
}

// TestLoad_DevConfig verifies the checked-in dev config loads.
func TestLoad_DevConfig(t *testing.T) {
	root := findProjectRoot(t)
	data, err := os.ReadFile(filepath.Join(root, "config", "dev.yaml"))
	if err != nil {
		t.Fatalf("read dev.yaml: %v", err)
	}
	dir := isolate(t)
	os.Setenv("WAQI_TOKEN", "tok")
	writeEnvFile(t, dir, string(data))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != 5*time.Minute || len(cfg.TrackedCities) == 0 {
		t.Errorf("dev config = %+v", cfg)
	}
}

func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Run("readSecrets_read_error", func(t *testing.T) {
		t.Skip("non-IsNotExist ReadFile failure needs OS-specific permission tricks")
	})
	t.Run("dotenv_parse_error", func(t *testing.T) {
		t.Skip("godotenv accepts nearly any line; a reliably malformed .env is not portable")
	})
}

const minimalEnvYAML = `
server:
  port: "8080"
waqi:
  url: "https://api.example.com"
  timeout: "2s"
request:
  timeout: "5s"
cache:
  ttl: "5m"
  coalesce:
    enabled: false
    timeout: "3s"
`

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "secrets.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
