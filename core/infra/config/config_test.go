package config

import (
	"errors"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{envHTTPAddr, envRedisURL, envUseRedisCache, envNATSURL, envDownloadDir, envKeepLocalFiles, envFileExpireTime, envUseRemote, envRedisClusterAddrs, envRedisTLSInsecure} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.HTTPAddr != defaultHTTPAddr || cfg.Redis.URL != defaultRedisURL || cfg.DownloadDir != defaultDownloadDir {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.UseRedisCache || cfg.KeepLocalFiles || cfg.Remote.Enabled {
		t.Fatalf("expected feature flags off by default")
	}
	if cfg.ExpireOverrideSec != 0 {
		t.Fatalf("expected no expiry override")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envUseRedisCache, "true")
	t.Setenv(envKeepLocalFiles, "yes")
	t.Setenv(envDownloadDir, "/srv/downloads")
	t.Setenv(envFileExpireTime, "120")
	t.Setenv(envCookieFile, " ./cookie.txt ")
	cfg := Load()
	if !cfg.UseRedisCache || !cfg.KeepLocalFiles {
		t.Fatalf("expected flags enabled")
	}
	if cfg.DownloadDir != "/srv/downloads" {
		t.Fatalf("unexpected download dir %s", cfg.DownloadDir)
	}
	if cfg.ExpireOverrideSec != 120 {
		t.Fatalf("unexpected expiry override %d", cfg.ExpireOverrideSec)
	}
	if cfg.CookieFile != "./cookie.txt" {
		t.Fatalf("unexpected cookie file %q", cfg.CookieFile)
	}
}

func TestLoadIgnoresNonNumericExpiry(t *testing.T) {
	for _, raw := range []string{"5m", "-10", "abc"} {
		t.Setenv(envFileExpireTime, raw)
		if got := Load().ExpireOverrideSec; got != 0 {
			t.Fatalf("expected override ignored for %q, got %d", raw, got)
		}
	}
}

func TestRemoteValidate(t *testing.T) {
	if err := (RemoteConfig{}).Validate(); err != nil {
		t.Fatalf("disabled remote should validate: %v", err)
	}
	err := (RemoteConfig{Enabled: true, AccountID: "acct"}).Validate()
	if !errors.Is(err, ErrRemoteCredentials) {
		t.Fatalf("expected credentials error, got %v", err)
	}
	ok := RemoteConfig{Enabled: true, AccountID: "acct", AccessKey: "a", SecretKey: "s", Bucket: "b"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok.ResolvedEndpoint() != "acct.r2.cloudflarestorage.com" {
		t.Fatalf("unexpected endpoint %s", ok.ResolvedEndpoint())
	}
	ok.Endpoint = "minio.local:9000"
	if ok.ResolvedEndpoint() != "minio.local:9000" {
		t.Fatalf("expected explicit endpoint to win")
	}
}

func TestLoadRedisFromEnv(t *testing.T) {
	t.Setenv(envRedisURL, "rediss://cache:6380/2")
	t.Setenv(envRedisClusterAddrs, "a:1, b:2\n c:3")
	t.Setenv(envRedisTLSServer, "cache.internal")
	cfg := Load()
	if cfg.Redis.URL != "rediss://cache:6380/2" {
		t.Fatalf("unexpected redis url %s", cfg.Redis.URL)
	}
	if got := cfg.Redis.ClusterAddrs; len(got) != 3 || got[0] != "a:1" || got[2] != "c:3" {
		t.Fatalf("unexpected cluster addrs %v", got)
	}
	if !cfg.Redis.TLS.Configured() || cfg.Redis.TLS.ServerName != "cache.internal" {
		t.Fatalf("unexpected tls settings %+v", cfg.Redis.TLS)
	}
}
