package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cordum/mediadrop/core/infra/logging"
)

// ErrRemoteDelete is returned when the object store refuses a delete.
var ErrRemoteDelete = errors.New("remote delete failed")

// Tier dispatches artifact operations to the tier named by a descriptor.
type Tier struct {
	local     *LocalTier
	remote    RemoteBackend
	keepLocal bool
}

type TierOption func(*Tier)

// WithKeepLocal leaves local session directories on disk when they are reclaimed.
func WithKeepLocal(keep bool) TierOption {
	return func(t *Tier) { t.keepLocal = keep }
}

func NewTier(local *LocalTier, remote RemoteBackend, opts ...TierOption) *Tier {
	if remote == nil {
		remote = Disabled{}
	}
	t := &Tier{local: local, remote: remote}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tier) Local() *LocalTier {
	return t.local
}

func (t *Tier) RemoteEnabled() bool {
	return t.remote.Enabled()
}

func (t *Tier) KeepLocal() bool {
	return t.keepLocal
}

// Delete removes the artifact from whichever tier holds it. Deleting an
// already absent artifact succeeds.
func (t *Tier) Delete(ctx context.Context, d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	switch d.Kind {
	case KindRemote:
		if !t.remote.Delete(ctx, d.Key) {
			return fmt.Errorf("%w: %s", ErrRemoteDelete, d.Key)
		}
		return nil
	default:
		if t.keepLocal {
			logging.Info("storage", "keeping local files", "path", d.Path)
			return nil
		}
		return t.local.Remove(d.Path)
	}
}

// Offload uploads a local artifact under key and hands the remote
// descriptor to commit. The local copy is removed only after commit accepts
// it; a rejected commit deletes the uploaded object instead. On failure the
// caller keeps the local descriptor.
func (t *Tier) Offload(ctx context.Context, d Descriptor, key string, commit func(Descriptor) bool) (Descriptor, bool) {
	if !t.remote.Enabled() || !d.IsLocal() {
		return d, false
	}
	file := d.FilePath()
	if file == "" {
		return d, false
	}
	if !t.remote.Upload(ctx, file, key) {
		return d, false
	}
	remote := RemoteDescriptor(key, d.Filename)
	if commit != nil && !commit(remote) {
		if !t.remote.Delete(context.WithoutCancel(ctx), key) {
			logging.Warn("storage", "uploaded object leaked after rejected commit", "key", key)
		}
		return d, false
	}
	if err := t.local.Remove(d.Path); err != nil {
		logging.Warn("storage", "local cleanup after upload failed", "path", d.Path, "error", err)
	}
	return remote, true
}

// PresignedURL issues a download URL for remote descriptors only.
func (t *Tier) PresignedURL(ctx context.Context, d Descriptor, ttl time.Duration) (string, bool) {
	if !d.IsRemote() || d.Key == "" {
		return "", false
	}
	return t.remote.PresignedURL(ctx, d.Key, ttl)
}
