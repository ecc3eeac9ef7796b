package urlindex

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisIndex(t *testing.T) (*RedisIndex, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisIndex(client), srv
}

func TestRedisSessionIsolation(t *testing.T) {
	idx, _ := newTestRedisIndex(t)
	exerciseSessionIsolation(t, idx)
}

func TestRedisRepointedKeyMovesBetweenSessions(t *testing.T) {
	idx, srv := newTestRedisIndex(t)
	ctx := context.Background()
	_ = idx.CacheFile(ctx, "other", "best", Entry{SessionID: "A"}, time.Hour)
	exerciseRepoint(t, idx)

	if srv.Exists(sessionKey("A")) {
		t.Fatalf("expected session A set removed")
	}
}

func TestRedisRepointUnlinksPreviousSession(t *testing.T) {
	idx, srv := newTestRedisIndex(t)
	ctx := context.Background()
	_ = idx.CacheFile(ctx, "src", "best", Entry{SessionID: "A"}, time.Hour)
	_ = idx.CacheFile(ctx, "src", "worst", Entry{SessionID: "A"}, time.Hour)
	_ = idx.CacheFile(ctx, "src", "best", Entry{SessionID: "B"}, time.Hour)

	members, _ := srv.Members(sessionKey("A"))
	if len(members) != 1 || members[0] != Key("src", "worst") {
		t.Fatalf("expected re-pointed key dropped from A, got %v", members)
	}
	members, _ = srv.Members(sessionKey("B"))
	if len(members) != 1 || members[0] != Key("src", "best") {
		t.Fatalf("unexpected B members %v", members)
	}
}

func TestRedisCacheFileSetsTTLs(t *testing.T) {
	idx, srv := newTestRedisIndex(t)
	ctx := context.Background()
	entry := Entry{SessionID: "S", StorageKey: "S/clip.mp4", Filename: "clip.mp4"}

	if err := idx.CacheFile(ctx, "src", "long", entry, time.Hour); err != nil {
		t.Fatalf("cache long: %v", err)
	}
	if err := idx.CacheFile(ctx, "src", "short", entry, time.Minute); err != nil {
		t.Fatalf("cache short: %v", err)
	}

	if ttl := srv.TTL(Key("src", "short")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected forward ttl %v", ttl)
	}
	if ttl := srv.TTL(sessionKey("S")); ttl < time.Hour-time.Second {
		t.Fatalf("session set must outlive its longest entry, got %v", ttl)
	}
	members, err := srv.Members(sessionKey("S"))
	if err != nil || len(members) != 2 {
		t.Fatalf("unexpected session members %v err=%v", members, err)
	}
}

func TestRedisEntryExpires(t *testing.T) {
	idx, srv := newTestRedisIndex(t)
	ctx := context.Background()
	if err := idx.CacheFile(ctx, "src", "best", Entry{SessionID: "S", Filename: "f"}, time.Minute); err != nil {
		t.Fatalf("cache: %v", err)
	}
	got, ok, err := idx.GetCachedFile(ctx, "src", "best")
	if err != nil || !ok || got.Filename != "f" || got.SessionID != "S" {
		t.Fatalf("expected hit, got %+v ok=%v err=%v", got, ok, err)
	}
	srv.FastForward(time.Minute)
	if _, ok, err := idx.GetCachedFile(ctx, "src", "best"); ok || err != nil {
		t.Fatalf("expected miss after ttl, ok=%v err=%v", ok, err)
	}
}

func TestRedisRemoveSingle(t *testing.T) {
	idx, srv := newTestRedisIndex(t)
	ctx := context.Background()
	_ = idx.CacheFile(ctx, "src", "best", Entry{SessionID: "S"}, time.Hour)
	_ = idx.CacheFile(ctx, "src", "worst", Entry{SessionID: "S"}, time.Hour)
	if err := idx.Remove(ctx, "src", "best"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := idx.Remove(ctx, "src", "best"); err != nil {
		t.Fatalf("repeat remove: %v", err)
	}
	if srv.Exists(Key("src", "best")) {
		t.Fatalf("expected forward key deleted")
	}
	members, _ := srv.Members(sessionKey("S"))
	if len(members) != 1 || members[0] != Key("src", "worst") {
		t.Fatalf("unexpected session members %v", members)
	}
}

func TestRedisRejectsNonPositiveTTL(t *testing.T) {
	idx, _ := newTestRedisIndex(t)
	if err := idx.CacheFile(context.Background(), "src", "best", Entry{SessionID: "S"}, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestRedisUnavailable(t *testing.T) {
	var idx *RedisIndex
	if err := idx.RemoveAllBySession(context.Background(), "S"); err == nil {
		t.Fatalf("expected error for nil index")
	}
	if _, _, err := idx.GetCachedFile(context.Background(), "src", "best"); err == nil {
		t.Fatalf("expected error for nil index")
	}
}
