package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cache backends.
const (
	CacheInMemory  = "in_memory"
	CacheMemcached = "memcached"
	CacheRedis     = "redis"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string

	WAQIToken   string
	WAQIBaseURL string
	WAQITimeout time.Duration

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	CacheBackend   string // in_memory, memcached or redis

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr        string
	RedisPassword    string
	RedisPoolSize    int
	RedisDialTimeout time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	BreakerEnabled          bool
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout time.Duration

	HealthWindow     time.Duration
	HealthFailurePct int

	RankingMemoSize int

	WarmInterval  time.Duration // 0 warms once at startup only
	TrackedCities []string

	DatabaseURL            string
	DatabaseConnectRetries uint64

	IngestEnabled     bool
	IngestSchedule    string
	IngestFrom        int
	IngestTo          int
	IngestConcurrency int

	LocationSlotPath string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WAQI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"waqi"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend  string `yaml:"backend"`
		TTL      string `yaml:"ttl"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr        string `yaml:"addr"`
			PoolSize    int    `yaml:"pool_size"`
			DialTimeout string `yaml:"dial_timeout"`
		} `yaml:"redis"`
		Warm struct {
			Interval string `yaml:"interval"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold uint32 `yaml:"failure_threshold"`
			OpenTimeout      string `yaml:"open_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		Window     string `yaml:"window"`
		FailurePct int    `yaml:"failure_pct"`
	} `yaml:"health"`

	Ranking struct {
		MemoSize int `yaml:"memo_size"`
	} `yaml:"ranking"`

	Database struct {
		URL            string `yaml:"url"`
		ConnectRetries uint64 `yaml:"connect_retries"`
	} `yaml:"database"`

	Ingest struct {
		Enabled     bool   `yaml:"enabled"`
		Schedule    string `yaml:"schedule"`
		From        int    `yaml:"from"`
		To          int    `yaml:"to"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"ingest"`

	Location struct {
		SlotPath string `yaml:"slot_path"`
	} `yaml:"location"`

	Metrics struct {
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WAQIToken     string `yaml:"waqi_token"`
	RedisPassword string `yaml:"redis_password"`
	DatabaseURL   string `yaml:"database_url"`
}

// Load reads .env (if present), config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml. Environment variables win over both files. Call from
// the project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	dotenv := filepath.Join(cwd, ".env")
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := readSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WAQIToken = envOr("WAQI_TOKEN", sec.WAQIToken)
	if cfg.WAQIToken == "" {
		return nil, errors.New("WAQI_TOKEN required (set env, .env, or config/secrets.yaml waqi_token)")
	}
	cfg.WAQIBaseURL = envOr("WAQI_BASE_URL", fc.WAQI.URL)
	if cfg.WAQIBaseURL == "" {
		cfg.WAQIBaseURL = "https://api.waqi.info"
	}
	cfg.WAQITimeout = parseDurationOrZero(fc.WAQI.Timeout, 10*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheBackend = strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = CacheInMemory
	}

	cfg.CoalesceEnabled = true
	if fc.Cache.Coalesce.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Cache.Coalesce.Enabled
	}
	cfg.CoalesceTimeout = parseDurationOrZero(fc.Cache.Coalesce.Timeout, 0)

	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = envOr("REDIS_ADDR", fc.Cache.Redis.Addr)
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = envOr("REDIS_PASSWORD", sec.RedisPassword)
	cfg.RedisPoolSize = fc.Cache.Redis.PoolSize
	if cfg.RedisPoolSize <= 0 {
		cfg.RedisPoolSize = 10
	}
	cfg.RedisDialTimeout = parseDuration(fc.Cache.Redis.DialTimeout, time.Second)

	cfg.WarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.BreakerEnabled = true
	if fc.Reliability.CircuitBreaker.Enabled != nil {
		cfg.BreakerEnabled = *fc.Reliability.CircuitBreaker.Enabled
	}
	cfg.BreakerFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerOpenTimeout = parseDuration(fc.Reliability.CircuitBreaker.OpenTimeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.HealthFailurePct = fc.Health.FailurePct
	if cfg.HealthFailurePct <= 0 {
		cfg.HealthFailurePct = 50
	}

	cfg.RankingMemoSize = fc.Ranking.MemoSize
	if cfg.RankingMemoSize <= 0 {
		cfg.RankingMemoSize = 8
	}

	cfg.DatabaseURL = envOr("DATABASE_URL", fc.Database.URL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = sec.DatabaseURL
	}
	cfg.DatabaseConnectRetries = fc.Database.ConnectRetries
	if cfg.DatabaseConnectRetries == 0 {
		cfg.DatabaseConnectRetries = 5
	}

	cfg.IngestEnabled = fc.Ingest.Enabled
	cfg.IngestSchedule = strings.TrimSpace(fc.Ingest.Schedule)
	if cfg.IngestSchedule == "" {
		cfg.IngestSchedule = "0 * * * *"
	}
	cfg.IngestFrom = fc.Ingest.From
	if cfg.IngestFrom <= 0 {
		cfg.IngestFrom = 1
	}
	cfg.IngestTo = fc.Ingest.To
	if cfg.IngestTo <= 0 {
		cfg.IngestTo = 15000
	}
	cfg.IngestConcurrency = fc.Ingest.Concurrency
	if cfg.IngestConcurrency <= 0 {
		cfg.IngestConcurrency = 8
	}

	cfg.LocationSlotPath = strings.TrimSpace(fc.Location.SlotPath)
	cfg.TrackedCities = fc.Metrics.TrackedCities

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// envOr returns the trimmed environment variable, or fallback when it is unset or blank.
func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks cross-field constraints. RequestTimeout is raised above
// WAQITimeout when needed.
func validate(cfg *Config) error {
	if cfg.WAQITimeout <= 0 {
		return errors.New("waqi.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WAQITimeout {
		cfg.RequestTimeout = cfg.WAQITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case CacheInMemory, CacheMemcached, CacheRedis:
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if cfg.CoalesceTimeout < 0 {
		return errors.New("cache.coalesce.timeout must not be negative")
	}
	if cfg.WarmInterval < 0 {
		return errors.New("cache.warm.interval must not be negative")
	}
	if cfg.IngestTo < cfg.IngestFrom {
		return fmt.Errorf("ingest range %d..%d is empty", cfg.IngestFrom, cfg.IngestTo)
	}
	if cfg.HealthFailurePct > 100 {
		return fmt.Errorf("health.failure_pct must be at most 100, got %d", cfg.HealthFailurePct)
	}
	return nil
}
