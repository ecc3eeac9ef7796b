// Package redisutil builds Redis clients for the shared URL index.
package redisutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cordum/mediadrop/core/infra/config"
)

const pingTimeout = 2 * time.Second

// Connect builds a client and verifies it answers PING before the index
// starts relying on it.
func Connect(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// NewClient returns a single-node client, or a cluster client when
// cluster addresses are configured. Credentials and DB come from the URL.
func NewClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	addrs := cfg.ClusterAddrs
	if len(addrs) == 0 {
		addrs = []string{opts.Addr}
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     addrs,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}), nil
}

// Options parses the URL and applies the TLS overrides.
func Options(cfg config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if !cfg.TLS.Configured() {
		return opts, nil
	}
	tlsCfg, err := buildTLS(opts.TLSConfig, cfg.TLS)
	if err != nil {
		return nil, err
	}
	opts.TLSConfig = tlsCfg
	return opts, nil
}

func buildTLS(base *tls.Config, t config.RedisTLS) (*tls.Config, error) {
	if (t.CertFile == "") != (t.KeyFile == "") {
		return nil, fmt.Errorf("redis tls cert and key must be set together")
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if base != nil {
		cfg = base.Clone()
	}
	if t.ServerName != "" {
		cfg.ServerName = t.ServerName
	}
	// #nosec G402 -- opt-in for self-signed dev clusters.
	cfg.InsecureSkipVerify = t.Insecure
	if t.CAFile != "" {
		pool, err := loadPool(cfg.RootCAs, t.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if t.CertFile != "" {
		pair, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("redis tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}
	return cfg, nil
}

func loadPool(pool *x509.CertPool, path string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("redis tls ca read: %w", err)
	}
	if pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("redis tls ca parse: %s", path)
	}
	return pool, nil
}
