package storage

import (
	"context"
	"time"
)

// RemoteBackend is the optional object-store tier. It is selected once at
// startup; callers never branch on configuration themselves.
type RemoteBackend interface {
	Enabled() bool
	Upload(ctx context.Context, localPath, key string) bool
	Delete(ctx context.Context, key string) bool
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, bool)
}

// Disabled is the no-op backend used when offload is turned off.
type Disabled struct{}

func (Disabled) Enabled() bool                               { return false }
func (Disabled) Upload(context.Context, string, string) bool { return false }
func (Disabled) Delete(context.Context, string) bool         { return false }
func (Disabled) PresignedURL(context.Context, string, time.Duration) (string, bool) {
	return "", false
}
