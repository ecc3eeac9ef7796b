package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	envUseRemote       = "USE_R2_STORAGE"
	envRemoteAccount   = "R2_ACCOUNT_ID"
	envRemoteAccessKey = "R2_ACCESS_KEY_ID"
	envRemoteSecretKey = "R2_SECRET_ACCESS_KEY"
	envRemoteBucket    = "R2_BUCKET_NAME"
	envRemoteEndpoint  = "R2_ENDPOINT"
	envRemoteRegion    = "R2_REGION"
	defaultRegion      = "auto"
)

// ErrRemoteCredentials is returned when the remote tier is enabled without
// the settings it needs. It is the only startup-fatal storage error.
var ErrRemoteCredentials = errors.New("remote storage enabled without required configuration")

// RemoteConfig describes the S3-compatible object store used for offload.
type RemoteConfig struct {
	Enabled   bool
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
	Endpoint  string
	Region    string
}

// LoadRemote reads the remote tier settings from the environment.
func LoadRemote() RemoteConfig {
	return RemoteConfig{
		Enabled:   parseBool(os.Getenv(envUseRemote)),
		AccountID: strings.TrimSpace(os.Getenv(envRemoteAccount)),
		AccessKey: strings.TrimSpace(os.Getenv(envRemoteAccessKey)),
		SecretKey: strings.TrimSpace(os.Getenv(envRemoteSecretKey)),
		Bucket:    strings.TrimSpace(os.Getenv(envRemoteBucket)),
		Endpoint:  strings.TrimSpace(os.Getenv(envRemoteEndpoint)),
		Region:    envOr(envRemoteRegion, defaultRegion),
	}
}

// ResolvedEndpoint returns the explicit endpoint or the R2 account endpoint.
func (c RemoteConfig) ResolvedEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	if c.AccountID == "" {
		return ""
	}
	return c.AccountID + ".r2.cloudflarestorage.com"
}

// Validate reports missing settings when the remote tier is enabled.
func (c RemoteConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var missing []string
	if c.ResolvedEndpoint() == "" {
		missing = append(missing, envRemoteAccount+"|"+envRemoteEndpoint)
	}
	if c.AccessKey == "" {
		missing = append(missing, envRemoteAccessKey)
	}
	if c.SecretKey == "" {
		missing = append(missing, envRemoteSecretKey)
	}
	if c.Bucket == "" {
		missing = append(missing, envRemoteBucket)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrRemoteCredentials, strings.Join(missing, ", "))
	}
	return nil
}
