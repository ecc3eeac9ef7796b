package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cordum/mediadrop/core/artifact"
	"github.com/cordum/mediadrop/core/infra/metrics"
	"github.com/cordum/mediadrop/core/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeRemote records calls. When block is set, uploads wait for it to close
// or for the upload context to end.
type fakeRemote struct {
	mu       sync.Mutex
	enabled  bool
	uploadOK bool
	deleteOK bool
	block    chan struct{}
	uploads  []string
	deletes  []string
	presigns []string
}

func (f *fakeRemote) Enabled() bool { return f.enabled }

func (f *fakeRemote) Upload(ctx context.Context, localPath, key string) bool {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return false
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, key)
	if _, err := os.Stat(localPath); err != nil {
		return false
	}
	return f.uploadOK
}

func (f *fakeRemote) Delete(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	return f.deleteOK
}

func (f *fakeRemote) PresignedURL(_ context.Context, key string, _ time.Duration) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presigns = append(f.presigns, key)
	return "https://r2.example/" + key + "?sig=1", true
}

func (f *fakeRemote) counts() (uploads, deletes, presigns int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads), len(f.deletes), len(f.presigns)
}

func (f *fakeRemote) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

type fakeDownloader struct {
	mu    sync.Mutex
	calls int
	name  string
	err   error
}

func (d *fakeDownloader) Download(_ context.Context, source, format, dir string) (string, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	name := d.name
	if name == "" {
		name = "clip.mp4"
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(source+"|"+format), 0o600); err != nil {
		return "", err
	}
	return name, nil
}

func (d *fakeDownloader) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *fakeExtractor) Extract(_ context.Context, source string) (artifact.Metadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return artifact.Metadata{}, e.err
	}
	return artifact.Metadata{Title: "title for " + source, Filename: "clip.mp4"}, nil
}

func (e *fakeExtractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type countingMetrics struct {
	metrics.Noop
	mu             sync.Mutex
	deleteFailures int
	reclaimed      map[string]int
	uploads        map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{reclaimed: map[string]int{}, uploads: map[string]int{}}
}

func (m *countingMetrics) IncDeleteFailures(string) {
	m.mu.Lock()
	m.deleteFailures++
	m.mu.Unlock()
}

func (m *countingMetrics) IncSessionsReclaimed(reason string) {
	m.mu.Lock()
	m.reclaimed[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) IncUploads(result string) {
	m.mu.Lock()
	m.uploads[result]++
	m.mu.Unlock()
}

type testEnv struct {
	manager    *Manager
	local      *storage.LocalTier
	clock      *fakeClock
	downloader *fakeDownloader
	extractor  *fakeExtractor
	metrics    *countingMetrics
}

type envOption func(*Deps, *Options, *[]storage.TierOption)

func withKeepLocal() envOption {
	return func(_ *Deps, _ *Options, tierOpts *[]storage.TierOption) {
		*tierOpts = append(*tierOpts, storage.WithKeepLocal(true))
	}
}

func withDrainWait(d time.Duration) envOption {
	return func(_ *Deps, o *Options, _ *[]storage.TierOption) {
		o.DrainUploadWait = d
	}
}

func newTestEnv(t *testing.T, remote storage.RemoteBackend, opts ...envOption) *testEnv {
	t.Helper()
	local, err := storage.NewLocalTier(t.TempDir())
	if err != nil {
		t.Fatalf("local tier: %v", err)
	}
	env := &testEnv{
		local:      local,
		clock:      newFakeClock(),
		downloader: &fakeDownloader{},
		extractor:  &fakeExtractor{},
		metrics:    newCountingMetrics(),
	}
	deps := Deps{
		Downloader: env.downloader,
		Extractor:  env.extractor,
		Metrics:    env.metrics,
		Now:        env.clock.Now,
	}
	o := DefaultOptions()
	o.Expiry = 300 * time.Second
	o.DrainUploadWait = 2 * time.Second
	var tierOpts []storage.TierOption
	for _, opt := range opts {
		opt(&deps, &o, &tierOpts)
	}
	deps.Tier = storage.NewTier(local, remote, tierOpts...)
	m, err := NewManager(deps, o)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	env.manager = m
	return env
}

// writeArtifact places a file in its own directory under the artifact root.
func (e *testEnv) writeArtifact(t *testing.T, dirName, file string) storage.Descriptor {
	t.Helper()
	path, err := e.local.WriteLocal(dirName, file, strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return storage.LocalDescriptor(filepath.Dir(path), file)
}

func awaitUpload(t *testing.T, m *Manager, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.AwaitUpload(ctx, id); err != nil {
		t.Fatalf("await upload: %v", err)
	}
}

func requireNotFound(t *testing.T, m *Manager, id string) {
	t.Helper()
	if _, err := m.GetSession(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for %s, got %v", id, err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
