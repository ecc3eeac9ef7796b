package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LifecycleConfig tunes session expiry, caches and offload behavior.
type LifecycleConfig struct {
	ExpirySeconds        int64          `yaml:"expiry_seconds"`
	SweepIntervalSeconds int64          `yaml:"sweep_interval_seconds"`
	MetadataCache        CacheConfig    `yaml:"metadata_cache"`
	PlatformCache        CacheConfig    `yaml:"platform_cache"`
	URLIndex             URLIndexConfig `yaml:"url_index"`
	Upload               UploadConfig   `yaml:"upload"`
	Drain                DrainConfig    `yaml:"drain"`
}

type CacheConfig struct {
	Capacity   int   `yaml:"capacity"`
	TTLSeconds int64 `yaml:"ttl_seconds"`
}

type URLIndexConfig struct {
	TTLSeconds int64 `yaml:"ttl_seconds"`
}

type UploadConfig struct {
	TimeoutSeconds    int64 `yaml:"timeout_seconds"`
	PresignTTLSeconds int64 `yaml:"presign_ttl_seconds"`
}

type DrainConfig struct {
	UploadWaitSeconds int64 `yaml:"upload_wait_seconds"`
}

// Expiry is the session age at which the sweeper reclaims it.
func (c *LifecycleConfig) Expiry() time.Duration {
	return seconds(c.ExpirySeconds)
}

func (c *LifecycleConfig) SweepInterval() time.Duration {
	return seconds(c.SweepIntervalSeconds)
}

func (c *LifecycleConfig) URLIndexTTL() time.Duration {
	return seconds(c.URLIndex.TTLSeconds)
}

func (c *LifecycleConfig) UploadTimeout() time.Duration {
	return seconds(c.Upload.TimeoutSeconds)
}

func (c *LifecycleConfig) PresignTTL() time.Duration {
	return seconds(c.Upload.PresignTTLSeconds)
}

func (c *LifecycleConfig) DrainUploadWait() time.Duration {
	return seconds(c.Drain.UploadWaitSeconds)
}

// TTL returns the configured TTL; a negative value means entries never expire.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds < 0 {
		return -1
	}
	return seconds(c.TTLSeconds)
}

// LoadLifecycle loads a YAML lifecycle file; returns defaults if missing.
func LoadLifecycle(path string) (*LifecycleConfig, error) {
	if path == "" {
		return DefaultLifecycle(), nil
	}
	// #nosec G304 -- lifecycle config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultLifecycle(), fmt.Errorf("read lifecycle config: %w", err)
	}
	return ParseLifecycle(data)
}

// ParseLifecycle parses lifecycle config bytes, filling unset fields with defaults.
func ParseLifecycle(data []byte) (*LifecycleConfig, error) {
	if len(data) == 0 {
		return DefaultLifecycle(), nil
	}
	if err := validateConfigSchema("lifecycle", lifecycleSchemaFile, data); err != nil {
		return DefaultLifecycle(), err
	}
	var cfg LifecycleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultLifecycle(), fmt.Errorf("parse lifecycle config: %w", err)
	}
	cfg.fillDefaults(DefaultLifecycle())
	return &cfg, nil
}

// ApplyOverrides folds env-level overrides into the lifecycle settings.
func (c *LifecycleConfig) ApplyOverrides(env *Config) {
	if env == nil {
		return
	}
	if env.ExpireOverrideSec > 0 {
		c.ExpirySeconds = env.ExpireOverrideSec
	}
}

func (c *LifecycleConfig) fillDefaults(def *LifecycleConfig) {
	if c.ExpirySeconds == 0 {
		c.ExpirySeconds = def.ExpirySeconds
	}
	if c.SweepIntervalSeconds == 0 {
		c.SweepIntervalSeconds = def.SweepIntervalSeconds
	}
	if c.MetadataCache.Capacity == 0 {
		c.MetadataCache.Capacity = def.MetadataCache.Capacity
	}
	if c.MetadataCache.TTLSeconds == 0 {
		c.MetadataCache.TTLSeconds = def.MetadataCache.TTLSeconds
	}
	if c.PlatformCache.Capacity == 0 {
		c.PlatformCache.Capacity = def.PlatformCache.Capacity
	}
	if c.PlatformCache.TTLSeconds == 0 {
		c.PlatformCache.TTLSeconds = def.PlatformCache.TTLSeconds
	}
	if c.URLIndex.TTLSeconds == 0 {
		c.URLIndex.TTLSeconds = def.URLIndex.TTLSeconds
	}
	if c.Upload.TimeoutSeconds == 0 {
		c.Upload.TimeoutSeconds = def.Upload.TimeoutSeconds
	}
	if c.Upload.PresignTTLSeconds == 0 {
		c.Upload.PresignTTLSeconds = def.Upload.PresignTTLSeconds
	}
	if c.Drain.UploadWaitSeconds == 0 {
		c.Drain.UploadWaitSeconds = def.Drain.UploadWaitSeconds
	}
}

// DefaultLifecycle returns the built-in lifecycle settings.
func DefaultLifecycle() *LifecycleConfig {
	return &LifecycleConfig{
		ExpirySeconds:        300,
		SweepIntervalSeconds: 60,
		MetadataCache:        CacheConfig{Capacity: 256, TTLSeconds: 1800},
		PlatformCache:        CacheConfig{Capacity: 30, TTLSeconds: -1},
		URLIndex:             URLIndexConfig{TTLSeconds: 1800},
		Upload:               UploadConfig{TimeoutSeconds: 600, PresignTTLSeconds: 1800},
		Drain:                DrainConfig{UploadWaitSeconds: 30},
	}
}

func seconds(v int64) time.Duration {
	return time.Duration(v) * time.Second
}
