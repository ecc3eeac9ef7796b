package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Media extensions in the order a session directory is searched for the
// artifact to serve.
var preferredExtensions = []string{
	"mp4", "mkv", "webm", "flv", "3gp", "mov", "avi", "ts",
	"m4a", "mp3", "ogg", "opus", "flac", "wav", "aac", "alac", "aiff", "dsf", "pcm",
}

const dirPerm = 0o755

// LocalTier stores each session's artifact in <root>/<session id>/.
type LocalTier struct {
	root string
}

// NewLocalTier creates the artifact root if needed.
func NewLocalTier(root string) (*LocalTier, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifact root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &LocalTier{root: abs}, nil
}

func (t *LocalTier) Root() string {
	return t.root
}

// Dir returns the session directory without creating it.
func (t *LocalTier) Dir(sessionID string) (string, error) {
	if sessionID == "" || sessionID != filepath.Base(sessionID) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, sessionID)
	}
	return filepath.Join(t.root, sessionID), nil
}

// Prepare creates the session directory the downloader writes into.
func (t *LocalTier) Prepare(sessionID string) (string, error) {
	dir, err := t.Dir(sessionID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// WriteLocal streams r into the session directory under name and returns the file path.
func (t *LocalTier) WriteLocal(sessionID, name string, r io.Reader) (string, error) {
	dir, err := t.Prepare(sessionID)
	if err != nil {
		return "", err
	}
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	dst := filepath.Join(dir, name)
	// #nosec G304 -- dst is confined to the session directory.
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return dst, nil
}

// Remove deletes a session directory. Missing paths are not an error.
func (t *LocalTier) Remove(dir string) error {
	if err := t.contain(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// ResolveFile picks the artifact to serve from a session directory.
func (t *LocalTier) ResolveFile(dir string) (string, error) {
	if err := t.contain(dir); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoArtifact
		}
		return "", fmt.Errorf("read session dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	for _, ext := range preferredExtensions {
		for _, name := range files {
			if strings.EqualFold(strings.TrimPrefix(filepath.Ext(name), "."), ext) {
				return name, nil
			}
		}
	}
	if len(files) > 0 {
		return files[0], nil
	}
	return "", ErrNoArtifact
}

// Orphans lists session directories under the root that are not in known.
func (t *LocalTier) Orphans(known map[string]struct{}) ([]string, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		return nil, fmt.Errorf("scan artifact root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := known[e.Name()]; ok {
			continue
		}
		out = append(out, filepath.Join(t.root, e.Name()))
	}
	return out, nil
}

func (t *LocalTier) contain(p string) error {
	rel, err := filepath.Rel(t.root, filepath.Clean(p))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return nil
}
