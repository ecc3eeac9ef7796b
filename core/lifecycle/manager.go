package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cordum/mediadrop/core/artifact"
	"github.com/cordum/mediadrop/core/artifact/cache"
	"github.com/cordum/mediadrop/core/artifact/urlindex"
	"github.com/cordum/mediadrop/core/infra/bus"
	"github.com/cordum/mediadrop/core/infra/config"
	"github.com/cordum/mediadrop/core/infra/logging"
	"github.com/cordum/mediadrop/core/infra/metrics"
	"github.com/cordum/mediadrop/core/storage"
)

var ErrDraining = errors.New("lifecycle manager is draining")

// Downloader writes the artifact for (source, format) into dir and returns
// the file name it produced. An empty name means the caller should pick the
// file from dir itself.
type Downloader interface {
	Download(ctx context.Context, source, format, dir string) (string, error)
}

// MetadataSource extracts the format listing for a source.
type MetadataSource interface {
	Extract(ctx context.Context, source string) (artifact.Metadata, error)
}

// Options are the lifecycle tunables, normally built from the lifecycle file.
type Options struct {
	Expiry           time.Duration
	SweepInterval    time.Duration
	URLIndexTTL      time.Duration
	UploadTimeout    time.Duration
	PresignTTL       time.Duration
	DrainUploadWait  time.Duration
	MetadataCapacity int
	MetadataTTL      time.Duration
	PlatformCapacity int
	PlatformTTL      time.Duration
}

func OptionsFromConfig(c *config.LifecycleConfig) Options {
	if c == nil {
		c = config.DefaultLifecycle()
	}
	return Options{
		Expiry:           c.Expiry(),
		SweepInterval:    c.SweepInterval(),
		URLIndexTTL:      c.URLIndexTTL(),
		UploadTimeout:    c.UploadTimeout(),
		PresignTTL:       c.PresignTTL(),
		DrainUploadWait:  c.DrainUploadWait(),
		MetadataCapacity: c.MetadataCache.Capacity,
		MetadataTTL:      c.MetadataCache.TTL(),
		PlatformCapacity: c.PlatformCache.Capacity,
		PlatformTTL:      c.PlatformCache.TTL(),
	}
}

func DefaultOptions() Options {
	return OptionsFromConfig(nil)
}

// Deps are the collaborators a Manager drives. Only Tier is required.
type Deps struct {
	Tier       *storage.Tier
	Index      urlindex.Index
	Downloader Downloader
	Extractor  MetadataSource
	Metrics    metrics.Lifecycle
	Events     bus.Publisher
	Now        func() time.Time
}

// Origin is the request an artifact was produced for.
type Origin struct {
	Source string
	Format string
}

// Result describes the session answering a Fetch.
type Result struct {
	SessionID  string
	Descriptor storage.Descriptor
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Cached     bool
}

// Link tells a file-serving caller where to send the client.
type Link struct {
	RedirectURL string
	FilePath    string
	Filename    string
	ExpiresAt   time.Time
}

// Manager is the request-layer facade over the session registry, caches,
// storage tiers and sweeper.
type Manager struct {
	registry   *Registry
	tier       *storage.Tier
	index      urlindex.Index
	metadata   *cache.Cache[artifact.Metadata]
	platform   *cache.Cache[artifact.Metadata]
	downloader Downloader
	extractor  MetadataSource
	metrics    metrics.Lifecycle
	events     bus.Publisher
	sweeper    *Sweeper
	opts       Options
	now        func() time.Time

	mu            sync.Mutex
	draining      bool
	uploads       sync.WaitGroup
	uploadCtx     context.Context
	cancelUploads context.CancelFunc
}

func NewManager(deps Deps, opts Options) (*Manager, error) {
	if deps.Tier == nil {
		return nil, errors.New("lifecycle: storage tier required")
	}
	if opts.Expiry <= 0 {
		return nil, fmt.Errorf("lifecycle: expiry must be positive, got %s", opts.Expiry)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Index == nil {
		deps.Index = urlindex.NewMemoryIndexWithClock(deps.Now)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Events == nil {
		deps.Events = bus.Noop{}
	}
	registry := NewRegistry()
	uploadCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		registry:      registry,
		tier:          deps.Tier,
		index:         deps.Index,
		metadata:      cache.New[artifact.Metadata](opts.MetadataCapacity, opts.MetadataTTL, cache.WithClock(deps.Now)),
		platform:      cache.New[artifact.Metadata](opts.PlatformCapacity, opts.PlatformTTL, cache.WithClock(deps.Now)),
		downloader:    deps.Downloader,
		extractor:     deps.Extractor,
		metrics:       deps.Metrics,
		events:        deps.Events,
		opts:          opts,
		now:           deps.Now,
		uploadCtx:     uploadCtx,
		cancelUploads: cancel,
	}
	m.sweeper = NewSweeper(registry, deps.Tier, deps.Index, opts.Expiry, opts.SweepInterval).
		withClock(deps.Now).
		withObservers(deps.Metrics, deps.Events)
	return m, nil
}

func (m *Manager) Sweeper() *Sweeper {
	return m.sweeper
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// CreateSession registers an artifact that already sits in storage and
// returns its new session id.
func (m *Manager) CreateSession(ctx context.Context, desc storage.Descriptor) (string, error) {
	id := NewID()
	if _, err := m.register(ctx, id, desc, Origin{}); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) register(ctx context.Context, id string, desc storage.Descriptor, origin Origin) (Session, error) {
	if err := desc.Validate(); err != nil {
		return Session{}, err
	}
	sess := Session{ID: id, Descriptor: desc, CreatedAt: m.now().UTC(), State: StateCreatedLocal}
	offload := desc.IsLocal() && m.tier.RemoteEnabled()
	if offload {
		sess.State = StateUploading
		sess.uploadDone = make(chan struct{})
	}

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return Session{}, ErrDraining
	}
	if err := m.registry.Add(sess); err != nil {
		m.mu.Unlock()
		return Session{}, err
	}
	if offload {
		m.uploads.Add(1)
	}
	m.mu.Unlock()

	m.metrics.IncSessionsCreated()
	m.metrics.SetActiveSessions(m.registry.Len())
	logging.Info("lifecycle", "session registered", "session", id, "storage", desc.Kind, "state", sess.State)
	m.publish(bus.EventCreated, sess)
	if origin.Source != "" {
		m.cacheIndex(ctx, origin, id, desc, sess.CreatedAt)
	}
	if offload {
		go m.offload(sess, origin)
	}
	return sess, nil
}

// offload moves a local artifact to the remote tier. Failure is final: the
// session keeps serving from local disk until it expires.
func (m *Manager) offload(sess Session, origin Origin) {
	defer m.uploads.Done()
	defer close(sess.uploadDone)

	ctx, cancel := context.WithTimeout(m.uploadCtx, m.opts.UploadTimeout)
	defer cancel()

	start := time.Now()
	key := storage.ObjectKey(sess.ID, sess.Descriptor.Filename)
	remote, ok := m.tier.Offload(ctx, sess.Descriptor, key, func(d storage.Descriptor) bool {
		return m.registry.Swap(sess.ID, StateUploading, d, StateRemote)
	})
	m.metrics.ObserveUploadDuration(time.Since(start).Seconds())

	if ok {
		m.metrics.IncUploads("success")
		logging.Info("lifecycle", "artifact offloaded", "session", sess.ID, "key", key)
		if origin.Source != "" {
			m.cacheIndex(context.Background(), origin, sess.ID, remote, sess.CreatedAt)
		}
		sess.Descriptor = remote
		m.publish(bus.EventOffloaded, sess)
		return
	}
	if m.registry.Swap(sess.ID, StateUploading, sess.Descriptor, StateLocalFallback) {
		m.metrics.IncUploads("fallback")
		logging.Warn("lifecycle", "upload failed, serving from local disk", "session", sess.ID, "key", key)
		m.publish(bus.EventFallback, sess)
		return
	}
	m.metrics.IncUploads("abandoned")
	logging.Warn("lifecycle", "upload finished after session was reclaimed", "session", sess.ID)
}

// AwaitUpload blocks until the session's offload has settled.
func (m *Manager) AwaitUpload(ctx context.Context, id string) error {
	sess, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	done := sess.UploadDone()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session returns a live session. Malformed, absent and expiring ids all
// report ErrNotFound.
func (m *Manager) Session(id string) (Session, error) {
	if !ValidID(id) {
		return Session{}, ErrNotFound
	}
	sess, ok := m.registry.Get(id)
	if !ok || sess.State == StateExpired {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (m *Manager) GetSession(id string) (storage.Descriptor, error) {
	sess, err := m.Session(id)
	if err != nil {
		return storage.Descriptor{}, err
	}
	return sess.Descriptor, nil
}

// ExpiresAt is when the sweeper becomes free to reclaim a session created at createdAt.
func (m *Manager) ExpiresAt(createdAt time.Time) time.Time {
	return createdAt.Add(m.opts.Expiry)
}

// LookupArtifact answers from the URL index, but only while the session it
// points at is still registered.
func (m *Manager) LookupArtifact(ctx context.Context, source, format string) (storage.Descriptor, string, bool) {
	source = artifact.NormalizeSource(source)
	entry, ok, err := m.index.GetCachedFile(ctx, source, format)
	if err != nil {
		logging.Warn("lifecycle", "url index lookup failed", "error", err)
		ok = false
	}
	if !ok {
		m.metrics.IncCacheLookup("url_index", "miss")
		return storage.Descriptor{}, "", false
	}
	desc, err := m.GetSession(entry.SessionID)
	if err != nil {
		if rmErr := m.index.Remove(ctx, source, format); rmErr != nil {
			logging.Warn("lifecycle", "stale url index entry not removed", "session", entry.SessionID, "error", rmErr)
		}
		m.metrics.IncCacheLookup("url_index", "stale")
		return storage.Descriptor{}, "", false
	}
	m.metrics.IncCacheLookup("url_index", "hit")
	return desc, entry.SessionID, true
}

func (m *Manager) cacheIndex(ctx context.Context, origin Origin, id string, desc storage.Descriptor, createdAt time.Time) {
	entry := urlindex.Entry{
		SessionID:  id,
		StorageKey: desc.StorageKey(),
		Filename:   desc.Filename,
		ExpiresAt:  m.ExpiresAt(createdAt),
	}
	source := artifact.NormalizeSource(origin.Source)
	if err := m.index.CacheFile(ctx, source, origin.Format, entry, m.opts.URLIndexTTL); err != nil {
		logging.Warn("lifecycle", "url index write failed", "session", id, "error", err)
	}
}

// stories are pinned in the platform cache; they are short-lived upstream
// but their extracted listing does not change.
func pinnedSource(source string) bool {
	return artifact.Platform(source) == "facebook" && strings.Contains(source, "/stories/")
}

func (m *Manager) cacheFor(source string) (*cache.Cache[artifact.Metadata], string) {
	if pinnedSource(source) {
		return m.platform, "platform"
	}
	return m.metadata, "metadata"
}

func (m *Manager) LookupMetadata(source string) (artifact.Metadata, bool) {
	key := artifact.NormalizeSource(source)
	c, name := m.cacheFor(key)
	md, ok := c.Get(key)
	if ok {
		m.metrics.IncCacheLookup(name, "hit")
	} else {
		m.metrics.IncCacheLookup(name, "miss")
	}
	return md, ok
}

// PutMetadata caches md for source. ttl 0 uses the cache default and
// cache.NoExpiry keeps the entry until it is evicted.
func (m *Manager) PutMetadata(source string, md artifact.Metadata, ttl time.Duration) {
	key := artifact.NormalizeSource(source)
	c, _ := m.cacheFor(key)
	c.Put(key, md, ttl)
}

// Metadata reads through the metadata caches to the extractor.
func (m *Manager) Metadata(ctx context.Context, source string) (artifact.Metadata, error) {
	if md, ok := m.LookupMetadata(source); ok {
		return md, nil
	}
	if m.extractor == nil {
		return artifact.Metadata{}, ErrNoExtractor
	}
	md, err := m.extractor.Extract(ctx, source)
	if err != nil {
		return artifact.Metadata{}, fmt.Errorf("extract metadata: %w", err)
	}
	m.PutMetadata(source, md, 0)
	return md, nil
}

// Fetch returns a session holding (source, format), downloading it when
// the URL index has no live session for it.
func (m *Manager) Fetch(ctx context.Context, source, format string) (Result, error) {
	if _, id, ok := m.LookupArtifact(ctx, source, format); ok {
		if sess, err := m.Session(id); err == nil {
			return m.result(sess, true), nil
		}
	}
	if m.downloader == nil {
		return Result{}, ErrNoDownloader
	}

	local := m.tier.Local()
	id := NewID()
	dir, err := local.Prepare(id)
	if err != nil {
		return Result{}, err
	}
	filename, err := m.downloader.Download(ctx, source, format, dir)
	if err != nil {
		m.discard(dir)
		return Result{}, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if filename == "" || !fileExists(storage.LocalDescriptor(dir, filename).FilePath()) {
		filename, err = local.ResolveFile(dir)
		if err != nil {
			m.discard(dir)
			return Result{}, fmt.Errorf("%w: %w", ErrDownload, err)
		}
	}

	sess, err := m.register(ctx, id, storage.LocalDescriptor(dir, filename), Origin{Source: source, Format: format})
	if err != nil {
		m.discard(dir)
		return Result{}, err
	}
	return m.result(sess, false), nil
}

func (m *Manager) result(sess Session, cached bool) Result {
	return Result{
		SessionID:  sess.ID,
		Descriptor: sess.Descriptor,
		CreatedAt:  sess.CreatedAt,
		ExpiresAt:  m.ExpiresAt(sess.CreatedAt),
		Cached:     cached,
	}
}

func (m *Manager) discard(dir string) {
	if err := m.tier.Local().Remove(dir); err != nil {
		logging.Warn("lifecycle", "discard session dir failed", "path", dir, "error", err)
	}
}

// ServeLink resolves a session id to a presigned URL for remote artifacts or
// a file path for local ones.
func (m *Manager) ServeLink(ctx context.Context, id string) (Link, error) {
	sess, err := m.Session(id)
	if err != nil {
		return Link{}, err
	}
	link, err := m.link(ctx, sess)
	if err == nil || !sess.Descriptor.IsLocal() {
		return link, err
	}
	// The local copy may have just been offloaded; read the swap once.
	sess, err = m.Session(id)
	if err != nil {
		return Link{}, err
	}
	return m.link(ctx, sess)
}

func (m *Manager) link(ctx context.Context, sess Session) (Link, error) {
	desc := sess.Descriptor
	link := Link{Filename: desc.Filename, ExpiresAt: m.ExpiresAt(sess.CreatedAt)}
	if desc.IsRemote() {
		u, ok := m.tier.PresignedURL(ctx, desc, m.opts.PresignTTL)
		if !ok {
			return Link{}, ErrUnavailable
		}
		link.RedirectURL = u
		return link, nil
	}
	if desc.Filename == "" {
		name, err := m.tier.Local().ResolveFile(desc.Path)
		if err != nil {
			return Link{}, ErrUnavailable
		}
		desc.Filename = name
		link.Filename = name
	}
	path := desc.FilePath()
	if !fileExists(path) {
		return Link{}, ErrUnavailable
	}
	link.FilePath = path
	return link, nil
}

// Drain waits a bounded time for in-flight uploads, cancels the rest and
// waits for them to settle, then reclaims every session and removes orphaned
// session directories. New sessions are refused once
// draining starts.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()

	for _, sess := range m.registry.Snapshot() {
		if sess.State != StateUploading || sess.UploadDone() == nil {
			continue
		}
		if !waitDone(ctx, sess.UploadDone(), m.opts.DrainUploadWait) {
			logging.Warn("lifecycle", "upload still running at drain", "session", sess.ID)
		}
	}
	m.cancelUploads()

	// Cancelled uploads may still be reading session dirs; let them settle
	// before reclaiming.
	uploadsDone := make(chan struct{})
	go func() {
		m.uploads.Wait()
		close(uploadsDone)
	}()
	if !waitDone(ctx, uploadsDone, m.opts.DrainUploadWait) {
		logging.Warn("lifecycle", "uploads still running after cancel")
	}

	reclaimed := m.sweeper.reclaimAll(context.WithoutCancel(ctx), ReasonDrain)

	orphans := 0
	if !m.tier.KeepLocal() {
		orphans = m.removeOrphans()
	}
	logging.Info("lifecycle", "drain complete", "reclaimed", reclaimed, "orphans", orphans)
	return ctx.Err()
}

func (m *Manager) removeOrphans() int {
	local := m.tier.Local()
	dirs, err := local.Orphans(m.registry.IDs())
	if err != nil {
		logging.Warn("lifecycle", "orphan scan failed", "error", err)
		return 0
	}
	removed := 0
	for _, dir := range dirs {
		if err := local.Remove(dir); err != nil {
			logging.Warn("lifecycle", "orphan removal failed", "path", dir, "error", err)
			continue
		}
		removed++
	}
	return removed
}

func (m *Manager) publish(eventType string, sess Session) {
	err := m.events.Publish(bus.Event{
		Type:      eventType,
		SessionID: sess.ID,
		Storage:   string(sess.Descriptor.Kind),
		Key:       sess.Descriptor.StorageKey(),
		Filename:  sess.Descriptor.Filename,
		At:        m.now().UTC(),
	})
	if err != nil {
		logging.Warn("lifecycle", "publish event failed", "type", eventType, "session", sess.ID, "error", err)
	}
}

func waitDone(ctx context.Context, done <-chan struct{}, limit time.Duration) bool {
	if limit <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
