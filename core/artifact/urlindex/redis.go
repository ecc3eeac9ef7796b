package urlindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultOpTimeout = 2 * time.Second

// RedisIndex shares the index between processes. Redis enforces the TTLs.
// Commands are pipelined rather than run in MULTI so forward keys and
// session sets may live on different cluster slots.
type RedisIndex struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisIndex(client redis.UniversalClient) *RedisIndex {
	return &RedisIndex{client: client, now: time.Now}
}

func (r *RedisIndex) CacheFile(ctx context.Context, source, format string, entry Entry, ttl time.Duration) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("url index unavailable")
	}
	if ttl <= 0 {
		return fmt.Errorf("url index ttl must be positive")
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	key := Key(source, format)
	skey := sessionKey(entry.SessionID)
	entry.ExpiresAt = r.now().Add(ttl)
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal url index entry: %w", err)
	}

	prevSession, err := r.owner(ctx, key)
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, payload, ttl)
	pipe.SAdd(ctx, skey, key)
	if prevSession != "" && prevSession != entry.SessionID {
		pipe.SRem(ctx, sessionKey(prevSession), key)
	}
	pttl := pipe.PTTL(ctx, skey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache file: %w", err)
	}
	// PTTL is -1ns for a fresh set without expiry; anything shorter than the
	// new entry is extended so the set outlives every member.
	if current := pttl.Val(); current < ttl {
		if err := r.client.PExpire(ctx, skey, ttl).Err(); err != nil {
			return fmt.Errorf("extend session index: %w", err)
		}
	}
	return nil
}

func (r *RedisIndex) GetCachedFile(ctx context.Context, source, format string) (Entry, bool, error) {
	if r == nil || r.client == nil {
		return Entry{}, false, fmt.Errorf("url index unavailable")
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	return r.entry(ctx, Key(source, format))
}

func (r *RedisIndex) entry(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get cached file: %w", err)
	}
	return decodeEntry(data)
}

// owner reports the session a forward key points at, or "" when the key is
// missing or unreadable.
func (r *RedisIndex) owner(ctx context.Context, key string) (string, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read previous entry: %w", err)
	}
	entry, _, err := decodeEntry(data)
	if err != nil {
		return "", nil
	}
	return entry.SessionID, nil
}

func decodeEntry(data []byte) (Entry, bool, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode url index entry: %w", err)
	}
	return entry, true, nil
}

func (r *RedisIndex) Remove(ctx context.Context, source, format string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("url index unavailable")
	}
	entry, ok, err := r.GetCachedFile(ctx, source, format)
	if err != nil || !ok {
		return err
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	key := Key(source, format)
	pipe := r.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, sessionKey(entry.SessionID), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove cached file: %w", err)
	}
	return nil
}

func (r *RedisIndex) RemoveAllBySession(ctx context.Context, sessionID string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("url index unavailable")
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	skey := sessionKey(sessionID)
	keys, err := r.client.SMembers(ctx, skey).Result()
	if err != nil {
		return fmt.Errorf("read session index: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	// Keys re-pointed at another session since they were added stay put.
	read := r.client.Pipeline()
	gets := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		gets[i] = read.Get(ctx, key)
	}
	if _, err := read.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read session entries: %w", err)
	}

	pipe := r.client.Pipeline()
	for i, key := range keys {
		data, err := gets[i].Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read session entry: %w", err)
		}
		entry, _, err := decodeEntry(data)
		if err != nil || entry.SessionID == sessionID {
			pipe.Del(ctx, key)
		}
	}
	pipe.Del(ctx, skey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove session entries: %w", err)
	}
	return nil
}

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), defaultOpTimeout)
}
