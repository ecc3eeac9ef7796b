package config

import (
	"os"
	"strings"
)

const (
	envRedisClusterAddrs = "REDIS_CLUSTER_ADDRESSES"
	envRedisTLSCA        = "REDIS_TLS_CA"
	envRedisTLSCert      = "REDIS_TLS_CERT"
	envRedisTLSKey       = "REDIS_TLS_KEY"
	envRedisTLSInsecure  = "REDIS_TLS_INSECURE"
	envRedisTLSServer    = "REDIS_TLS_SERVER_NAME"
)

// RedisConfig locates the Redis deployment behind the shared URL index.
type RedisConfig struct {
	URL string
	// ClusterAddrs switches the client to cluster mode when non-empty.
	ClusterAddrs []string
	TLS          RedisTLS
}

// RedisTLS holds file paths and overrides layered on top of the URL scheme.
type RedisTLS struct {
	CAFile     string
	CertFile   string
	KeyFile    string
	ServerName string
	Insecure   bool
}

// Configured reports whether any TLS override was given.
func (t RedisTLS) Configured() bool {
	return t.CAFile != "" || t.CertFile != "" || t.KeyFile != "" || t.ServerName != "" || t.Insecure
}

// LoadRedis reads the Redis settings from the environment.
func LoadRedis() RedisConfig {
	return RedisConfig{
		URL:          envOr(envRedisURL, defaultRedisURL),
		ClusterAddrs: splitList(os.Getenv(envRedisClusterAddrs)),
		TLS: RedisTLS{
			CAFile:     strings.TrimSpace(os.Getenv(envRedisTLSCA)),
			CertFile:   strings.TrimSpace(os.Getenv(envRedisTLSCert)),
			KeyFile:    strings.TrimSpace(os.Getenv(envRedisTLSKey)),
			ServerName: strings.TrimSpace(os.Getenv(envRedisTLSServer)),
			Insecure:   parseBool(os.Getenv(envRedisTLSInsecure)),
		},
	}
}

func splitList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}
