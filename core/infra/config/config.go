package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	defaultHTTPAddr      = ":8000"
	defaultMetricsAddr   = ":9090"
	defaultRedisURL      = "redis://localhost:6379"
	defaultDownloadDir   = "downloads"
	defaultLifecyclePath = "config/lifecycle.yaml"
	envHTTPAddr          = "HTTP_ADDR"
	envMetricsAddr       = "METRICS_ADDR"
	envRedisURL          = "REDIS_URL"
	envUseRedisCache     = "USE_REDIS_CACHE"
	envNATSURL           = "NATS_URL"
	envDownloadDir       = "DOWNLOAD_DIR"
	envLifecyclePath     = "LIFECYCLE_CONFIG_PATH"
	envKeepLocalFiles    = "KEEP_LOCAL_FILES"
	envFileExpireTime    = "FILE_EXPIRE_TIME"
	envCookieFile        = "COOKIE_FILE"
)

// Config holds process-level settings read from the environment.
type Config struct {
	HTTPAddr          string
	MetricsAddr       string
	Redis             RedisConfig
	UseRedisCache     bool
	NatsURL           string
	DownloadDir       string
	LifecyclePath     string
	KeepLocalFiles    bool
	ExpireOverrideSec int64
	CookieFile        string
	Remote            RemoteConfig
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	cfg := &Config{
		HTTPAddr:       envOr(envHTTPAddr, defaultHTTPAddr),
		MetricsAddr:    envOr(envMetricsAddr, defaultMetricsAddr),
		Redis:          LoadRedis(),
		UseRedisCache:  parseBool(os.Getenv(envUseRedisCache)),
		NatsURL:        strings.TrimSpace(os.Getenv(envNATSURL)),
		DownloadDir:    envOr(envDownloadDir, defaultDownloadDir),
		LifecyclePath:  envOr(envLifecyclePath, defaultLifecyclePath),
		KeepLocalFiles: parseBool(os.Getenv(envKeepLocalFiles)),
		CookieFile:     strings.TrimSpace(os.Getenv(envCookieFile)),
		Remote:         LoadRemote(),
	}
	// FILE_EXPIRE_TIME only counts when it is a plain positive integer.
	if raw := strings.TrimSpace(os.Getenv(envFileExpireTime)); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
			cfg.ExpireOverrideSec = secs
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
