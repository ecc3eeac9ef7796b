package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/cordum/mediadrop/core/artifact/urlindex"
	"github.com/cordum/mediadrop/core/storage"
)

func TestSweepReclaimsOnlyExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	m := env.manager
	ctx := context.Background()

	oldDesc := env.writeArtifact(t, "old", "a.mp4")
	oldID, err := m.CreateSession(ctx, oldDesc)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.clock.Advance(200 * time.Second)
	newDesc := env.writeArtifact(t, "new", "b.mp4")
	newID, _ := m.CreateSession(ctx, newDesc)

	env.clock.Advance(150 * time.Second)
	if n := m.Sweeper().Sweep(ctx); n != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", n)
	}
	requireNotFound(t, m, oldID)
	if exists(oldDesc.Path) {
		t.Fatalf("expected old session dir removed")
	}
	if _, err := m.GetSession(newID); err != nil {
		t.Fatalf("expected new session intact: %v", err)
	}
	if !exists(newDesc.FilePath()) {
		t.Fatalf("expected new artifact kept")
	}
}

func TestSweepIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	m := env.manager
	ctx := context.Background()
	id, _ := m.CreateSession(ctx, env.writeArtifact(t, "s", "a.mp4"))

	env.clock.Advance(301 * time.Second)
	if n := m.Sweeper().Sweep(ctx); n != 1 {
		t.Fatalf("first sweep: expected 1, got %d", n)
	}
	if n := m.Sweeper().Sweep(ctx); n != 0 {
		t.Fatalf("second sweep: expected 0, got %d", n)
	}
	requireNotFound(t, m, id)
	if m.Registry().Len() != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestSweepEmptyRegistry(t *testing.T) {
	env := newTestEnv(t, nil)
	if n := env.manager.Sweeper().Sweep(context.Background()); n != 0 {
		t.Fatalf("expected no work, got %d", n)
	}
}

func TestSweepDeleteFailureStillRemovesSession(t *testing.T) {
	remote := &fakeRemote{enabled: true, uploadOK: true}
	env := newTestEnv(t, remote)
	m := env.manager
	ctx := context.Background()
	id, _ := m.CreateSession(ctx, env.writeArtifact(t, "s", "a.mp4"))
	awaitUpload(t, m, id)

	env.clock.Advance(301 * time.Second)
	if n := m.Sweeper().Sweep(ctx); n != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", n)
	}
	requireNotFound(t, m, id)
	if got := remote.deleted(); len(got) != 1 || got[0] != storage.ObjectKey(id, "a.mp4") {
		t.Fatalf("expected remote delete attempt, got %v", got)
	}
	env.metrics.mu.Lock()
	failures := env.metrics.deleteFailures
	env.metrics.mu.Unlock()
	if failures != 1 {
		t.Fatalf("expected delete failure counted, got %d", failures)
	}
	if n := m.Sweeper().Sweep(ctx); n != 0 {
		t.Fatalf("expected no retry of leaked delete, got %d", n)
	}
}

func TestSweepSkipsUploadingSession(t *testing.T) {
	remote := &fakeRemote{enabled: true, uploadOK: true, deleteOK: true, block: make(chan struct{})}
	env := newTestEnv(t, remote)
	m := env.manager
	ctx := context.Background()
	id, _ := m.CreateSession(ctx, env.writeArtifact(t, "s", "a.mp4"))

	env.clock.Advance(400 * time.Second)
	if n := m.Sweeper().Sweep(ctx); n != 0 {
		t.Fatalf("expected uploading session skipped, got %d", n)
	}
	close(remote.block)
	awaitUpload(t, m, id)
	if n := m.Sweeper().Sweep(ctx); n != 1 {
		t.Fatalf("expected session reclaimed after upload, got %d", n)
	}
	if got := remote.deleted(); len(got) != 1 {
		t.Fatalf("expected remote object deleted, got %v", got)
	}
}

func TestSweepClearsURLIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	m := env.manager
	ctx := context.Background()
	first, err := m.Fetch(ctx, "https://example.com/a", "best")
	if err != nil {
		t.Fatalf("fetch a: %v", err)
	}
	env.clock.Advance(100 * time.Second)
	second, err := m.Fetch(ctx, "https://example.com/b", "best")
	if err != nil {
		t.Fatalf("fetch b: %v", err)
	}

	env.clock.Advance(250 * time.Second)
	m.Sweeper().Sweep(ctx)

	idx := m.index.(*urlindex.MemoryIndex)
	if _, ok, _ := idx.GetCachedFile(ctx, "https://example.com/a", "best"); ok {
		t.Fatalf("expected index entry for reclaimed session %s removed", first.SessionID)
	}
	entry, ok, _ := idx.GetCachedFile(ctx, "https://example.com/b", "best")
	if !ok || entry.SessionID != second.SessionID {
		t.Fatalf("expected index entry for live session kept, got %+v ok=%v", entry, ok)
	}
}

func TestSweeperStartStop(t *testing.T) {
	env := newTestEnv(t, nil)
	m := env.manager
	m.sweeper.interval = 10 * time.Millisecond
	id, _ := m.CreateSession(context.Background(), env.writeArtifact(t, "s", "a.mp4"))
	env.clock.Advance(time.Hour)

	m.Sweeper().Start(context.Background())
	m.Sweeper().Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for m.Registry().Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Sweeper().Stop()
	m.Sweeper().Stop()
	requireNotFound(t, m, id)
}

func TestSweeperStopWithoutStart(t *testing.T) {
	s := NewSweeper(NewRegistry(), storage.NewTier(nil, nil), urlindex.NewMemoryIndex(), time.Minute, 0)
	if s.interval != defaultSweepInterval {
		t.Fatalf("expected default interval, got %s", s.interval)
	}
	s.Stop()
}
