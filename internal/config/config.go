package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	// Wind sensor upstream (WeatherFlow spot API).
	SensorToken   string
	SensorSpotID  string
	SensorAPIURL  string
	SensorTimeout time.Duration

	// Text generation upstream.
	GeneratorAPIKey     string
	GeneratorAPIURL     string
	GeneratorModel      string
	GeneratorTimeout    time.Duration
	GeneratorRateLimit  float64 // calls per second allowed against the generator
	GeneratorRateBurst  int
	Personas            []string

	// Cache and staleness tuning.
	SnapshotTTL          time.Duration // how long a fetched reading stays fresh
	VariationTTL         time.Duration // how long generated text stays fresh
	SourceStaleThreshold time.Duration // max age of the reading's own timestamp
	RegenDelta           int           // rating movement that forces regeneration
	MaintenanceInterval  time.Duration

	// Offline pool persistence.
	PoolBackend           string // "in_memory" or "memcached"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	WarmCache bool

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Sensor struct {
		SpotID  string `yaml:"spot_id"`
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"sensor"`

	Generator struct {
		URL       string   `yaml:"url"`
		Model     string   `yaml:"model"`
		Timeout   string   `yaml:"timeout"`
		RateLimit float64  `yaml:"rate_limit"`
		RateBurst int      `yaml:"rate_burst"`
		Personas  []string `yaml:"personas"`
	} `yaml:"generator"`

	Cache struct {
		SnapshotTTL          string `yaml:"snapshot_ttl"`
		VariationTTL         string `yaml:"variation_ttl"`
		SourceStaleThreshold string `yaml:"source_stale_threshold"`
		PoolBackend          string `yaml:"pool_backend"`
		Memcached            struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Maintenance struct {
		Interval   string `yaml:"interval"`
		RegenDelta int    `yaml:"regen_delta"`
	} `yaml:"maintenance"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`

		CircuitBreakerEnabled          *bool  `yaml:"circuit_breaker_enabled"`
		CircuitBreakerFailureThreshold int    `yaml:"circuit_breaker_failure_threshold"`
		CircuitBreakerSuccessThreshold int    `yaml:"circuit_breaker_success_threshold"`
		CircuitBreakerTimeout          string `yaml:"circuit_breaker_timeout"`

		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"reliability"`

	WarmCache *bool `yaml:"warm_cache"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	SensorToken     string `yaml:"sensor_token"`
	GeneratorAPIKey string `yaml:"generator_api_key"`
}

// defaultPersonas is used when the config file lists none.
var defaultPersonas = []string{"drill_sergeant", "zen_coach", "salty_local"}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml. The sensor token and generator API key come from
// SENSOR_TOKEN / GENERATOR_API_KEY env or the secrets file. Call from
// project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
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

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	var sec secretsFile
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	if secretsData, err := os.ReadFile(secretsPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg.SensorToken = os.Getenv("SENSOR_TOKEN")
	if cfg.SensorToken == "" {
		cfg.SensorToken = sec.SensorToken
	}
	if cfg.SensorToken == "" {
		return nil, fmt.Errorf("SENSOR_TOKEN required (set env or config/secrets.yaml sensor_token)")
	}

	cfg.GeneratorAPIKey = os.Getenv("GENERATOR_API_KEY")
	if cfg.GeneratorAPIKey == "" {
		cfg.GeneratorAPIKey = sec.GeneratorAPIKey
	}
	if cfg.GeneratorAPIKey == "" {
		return nil, fmt.Errorf("GENERATOR_API_KEY required (set env or config/secrets.yaml generator_api_key)")
	}

	cfg.SensorSpotID = os.Getenv("SENSOR_SPOT_ID")
	if cfg.SensorSpotID == "" {
		cfg.SensorSpotID = fc.Sensor.SpotID
	}
	if cfg.SensorSpotID == "" {
		cfg.SensorSpotID = "453" // Jupiter-Juno Beach Pier
	}
	cfg.SensorAPIURL = fc.Sensor.URL
	if cfg.SensorAPIURL == "" {
		cfg.SensorAPIURL = "https://api.weatherflow.com/wxengine/rest/spot/getSpotDetailSetByList"
	}
	cfg.SensorTimeout = parseDuration(fc.Sensor.Timeout, 10*time.Second)

	cfg.GeneratorAPIURL = fc.Generator.URL
	if cfg.GeneratorAPIURL == "" {
		cfg.GeneratorAPIURL = "https://generativelanguage.googleapis.com/v1beta/models"
	}
	cfg.GeneratorModel = fc.Generator.Model
	if cfg.GeneratorModel == "" {
		cfg.GeneratorModel = "gemini-2.5-flash-lite"
	}
	cfg.GeneratorTimeout = parseDuration(fc.Generator.Timeout, 30*time.Second)
	cfg.GeneratorRateLimit = fc.Generator.RateLimit
	if cfg.GeneratorRateLimit <= 0 {
		cfg.GeneratorRateLimit = 1 // one generation call per second is plenty
	}
	cfg.GeneratorRateBurst = fc.Generator.RateBurst
	if cfg.GeneratorRateBurst <= 0 {
		cfg.GeneratorRateBurst = 4
	}
	cfg.Personas = fc.Generator.Personas
	if len(cfg.Personas) == 0 {
		cfg.Personas = append([]string(nil), defaultPersonas...)
	}

	cfg.SnapshotTTL = parseDuration(fc.Cache.SnapshotTTL, 2*time.Minute)
	cfg.VariationTTL = parseDuration(fc.Cache.VariationTTL, 15*time.Minute)
	cfg.SourceStaleThreshold = parseDuration(fc.Cache.SourceStaleThreshold, 5*time.Minute)
	cfg.PoolBackend = strings.TrimSpace(strings.ToLower(os.Getenv("POOL_BACKEND")))
	if cfg.PoolBackend == "" {
		cfg.PoolBackend = strings.TrimSpace(strings.ToLower(fc.Cache.PoolBackend))
	}
	if cfg.PoolBackend == "" {
		cfg.PoolBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.MaintenanceInterval = parseDuration(fc.Maintenance.Interval, 5*time.Minute)
	cfg.RegenDelta = fc.Maintenance.RegenDelta
	if cfg.RegenDelta <= 0 {
		cfg.RegenDelta = 2
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}

	cfg.CircuitBreakerEnabled = true
	if fc.Reliability.CircuitBreakerEnabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Reliability.CircuitBreakerEnabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.CircuitBreakerFailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = fc.Reliability.CircuitBreakerSuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreakerTimeout, time.Minute)

	cfg.DegradedWindow = parseDuration(fc.Reliability.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Reliability.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.WarmCache = true
	if fc.WarmCache != nil {
		cfg.WarmCache = *fc.WarmCache
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal on empty
// string, parse error, or non-positive result.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// The request timeout must leave room for one sensor fetch plus one
// generation call; PoolBackend must be a known value.
func validate(cfg *Config) error {
	if cfg.SnapshotTTL >= cfg.VariationTTL {
		return fmt.Errorf("cache.snapshot_ttl (%s) must be shorter than cache.variation_ttl (%s)", cfg.SnapshotTTL, cfg.VariationTTL)
	}
	if cfg.RequestTimeout <= cfg.SensorTimeout {
		cfg.RequestTimeout = cfg.SensorTimeout + cfg.GeneratorTimeout
	}
	switch cfg.PoolBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.pool_backend must be in_memory or memcached, got %q", cfg.PoolBackend)
	}
	for _, p := range cfg.Personas {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("generator.personas must not contain empty entries")
		}
	}
	return nil
}
