// Package urlindex maps a (source, format) pair to the session that already
// holds a matching artifact, so repeat requests can skip the download.
package urlindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	keyPrefix        = "ytdl:"
	sessionKeyPrefix = "session:"
)

// Entry points at a session's artifact. It is a back-reference only; the
// session registry owns the descriptor.
type Entry struct {
	SessionID  string    `json:"session_id"`
	StorageKey string    `json:"storage_key"`
	Filename   string    `json:"filename"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Index is implemented by MemoryIndex and RedisIndex.
type Index interface {
	CacheFile(ctx context.Context, source, format string, entry Entry, ttl time.Duration) error
	GetCachedFile(ctx context.Context, source, format string) (Entry, bool, error)
	Remove(ctx context.Context, source, format string) error
	RemoveAllBySession(ctx context.Context, sessionID string) error
}

// Key hashes a (source, format) pair into a stable cache key.
func Key(source, format string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + format))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}
