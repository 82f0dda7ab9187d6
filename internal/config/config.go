// Package config holds process settings read from the environment and the
// scenario file that describes one trip generation study.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	ScenarioPath    string
	GTFSCacheDir    string
	RefreshInterval time.Duration

	RouterURL    string
	RouterID     string
	RouteWorkers int

	RunRetention time.Duration
	MaxRunTrips  int

	RedisEnabled     bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	CacheTTL         time.Duration
	CacheWarmOnStart bool

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string
}

func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		ScenarioPath:    getEnv("TRIPGEN_SCENARIO", ""),
		GTFSCacheDir:    getEnv("GTFS_CACHE_DIR", ""),
		RefreshInterval: getDurationEnv("REFRESH_INTERVAL", 0),

		RouterURL:    getEnv("ROUTER_URL", "http://localhost:8080"),
		RouterID:     getEnv("ROUTER_ID", ""),
		RouteWorkers: getIntEnv("ROUTE_WORKERS", 1),

		RunRetention: getDurationEnv("RUN_RETENTION", time.Hour),
		MaxRunTrips:  getIntEnv("MAX_RUN_TRIPS", 100000),

		RedisEnabled:     getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getIntEnv("REDIS_DB", 0),
		CacheTTL:         getDurationEnv("CACHE_TTL", 24*time.Hour),
		CacheWarmOnStart: getBoolEnv("CACHE_WARM_ON_START", true),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 30),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),
	}

	if cfg.RouteWorkers < 1 {
		return nil, errors.Newf("ROUTE_WORKERS must be at least 1, got %d", cfg.RouteWorkers)
	}
	if cfg.MaxRunTrips < 1 {
		return nil, errors.Newf("MAX_RUN_TRIPS must be at least 1, got %d", cfg.MaxRunTrips)
	}
	if cfg.RateLimitPerWindow < 1 {
		return nil, errors.Newf("RATE_LIMIT_PER_WINDOW must be at least 1, got %d", cfg.RateLimitPerWindow)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
