// Package lifecycle tracks downloaded artifacts from registration until the
// sweeper reclaims them, including the optional offload to remote storage.
package lifecycle

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cordum/mediadrop/core/storage"
)

// State is a session's position in its lifecycle.
type State string

const (
	StateCreatedLocal  State = "CREATED_LOCAL"
	StateUploading     State = "UPLOADING"
	StateRemote        State = "REMOTE"
	StateLocalFallback State = "LOCAL_FALLBACK"
	StateExpired       State = "EXPIRED"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrSessionExists = errors.New("session already registered")
	ErrUnavailable   = errors.New("artifact unavailable")
	ErrNoDownloader  = errors.New("no downloader configured")
	ErrNoExtractor   = errors.New("no metadata source configured")
	ErrDownload      = errors.New("download failed")
)

// Session is a snapshot of one tracked artifact.
type Session struct {
	ID         string
	Descriptor storage.Descriptor
	CreatedAt  time.Time
	State      State

	uploadDone chan struct{}
}

// UploadDone is closed once the session's offload has finished. It is nil
// for sessions that never uploaded.
func (s Session) UploadDone() <-chan struct{} {
	return s.uploadDone
}

// Reclaimable reports whether the sweeper may expire the session. Sessions
// mid-upload wait for the upload to settle.
func (s Session) Reclaimable() bool {
	switch s.State {
	case StateCreatedLocal, StateRemote, StateLocalFallback:
		return true
	default:
		return false
	}
}

// ValidID accepts canonical version-4 UUID strings only.
func ValidID(id string) bool {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return parsed.Version() == 4 && parsed.String() == id
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}
