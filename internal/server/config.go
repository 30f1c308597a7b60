// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relaychat service.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	Leeway   time.Duration `yaml:"leeway"`
}

// StoreConfig selects and configures the shared store backend.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	PostgresURL   string `yaml:"postgres_url"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config holds the server configuration settings including security controls.
type Config struct {
	Port               string          `yaml:"port"`
	AllowedOrigins     []string        `yaml:"allowed_origins"`
	MaxMessageSize     int64           `yaml:"max_message_size"`
	RateLimit          RateLimitConfig `yaml:"rate_limit"`
	RESTRequestsPerMin int             `yaml:"rest_requests_per_minute"`
	Auth               AuthConfig      `yaml:"auth"`
	Store              StoreConfig     `yaml:"store"`
	GlobalRoomName     string          `yaml:"global_room_name"`
	HistoryLimit       int             `yaml:"history_limit"`
	Log                LogConfig       `yaml:"log"`
	MetricsEnabled     bool            `yaml:"metrics_enabled"`
	ShutdownTimeout    time.Duration   `yaml:"shutdown_timeout"`
}

var (
	configMu      sync.RWMutex
	activeConfig  Config
	activeOrigins originPolicy
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 8192,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		RESTRequestsPerMin: 120,
		Store: StoreConfig{
			Driver:      DriverMemory,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "relaychat:",
		},
		GlobalRoomName: "Global Chat",
		HistoryLimit:   50,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		MetricsEnabled:  true,
		ShutdownTimeout: 10 * time.Second,
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	if cfg.RESTRequestsPerMin <= 0 {
		cfg.RESTRequestsPerMin = defaults.RESTRequestsPerMin
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaults.Store.Driver
	}
	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)

	if strings.TrimSpace(cfg.GlobalRoomName) == "" {
		cfg.GlobalRoomName = defaults.GlobalRoomName
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	policy, normalizedOrigins := newOriginPolicy(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	activeOrigins = policy

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	copied := *cfg
	copied.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(copied)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Validate reports configuration that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth secret is required (JWT_SECRET)")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("redis store requires an address (REDIS_ADDR)")
		}
	case DriverPostgres:
		if c.Store.PostgresURL == "" {
			return errors.New("postgres store requires a URL (POSTGRES_URL)")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig layers configuration sources, lowest precedence first: defaults,
// the YAML file at path (if non-empty), the given .env files, and the process
// environment. Missing .env files are ignored.
func LoadConfig(path string, envFiles ...string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", file, err)
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	return &cfg
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if perMin := os.Getenv("REST_RATE_LIMIT"); perMin != "" {
		cfg.RESTRequestsPerMin = parseIntValue(perMin, cfg.RESTRequestsPerMin)
	}

	setString(&cfg.Auth.Secret, "JWT_SECRET")
	setString(&cfg.Auth.Issuer, "JWT_ISSUER")
	setString(&cfg.Auth.Audience, "JWT_AUDIENCE")
	if leeway := os.Getenv("JWT_LEEWAY"); leeway != "" {
		cfg.Auth.Leeway = parseDuration(leeway, cfg.Auth.Leeway)
	}

	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Store.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Store.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.Store.RedisPrefix, "REDIS_PREFIX")
	if db := os.Getenv("REDIS_DB"); db != "" {
		if parsed, err := strconv.Atoi(db); err == nil && parsed >= 0 {
			cfg.Store.RedisDB = parsed
		}
	}
	setString(&cfg.Store.PostgresURL, "POSTGRES_URL")

	setString(&cfg.GlobalRoomName, "GLOBAL_ROOM_NAME")
	if limit := os.Getenv("HISTORY_LIMIT"); limit != "" {
		cfg.HistoryLimit = parseIntValue(limit, cfg.HistoryLimit)
	}

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	if enabled := os.Getenv("METRICS_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.MetricsEnabled = parsed
		}
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return parseDuration(value, defaultValue)
}

// parseDuration accepts Go duration strings ("1500ms", "10s").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	zap.L().Warn("ignoring invalid duration", zap.String("value", value))
	return defaultValue
}
