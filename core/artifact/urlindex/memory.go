package urlindex

import (
	"context"
	"sync"
	"time"
)

type reverseSet struct {
	keys      map[string]struct{}
	expiresAt time.Time
}

// MemoryIndex is the in-process Index used when no shared cache is configured.
type MemoryIndex struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]Entry
	reverse map[string]*reverseSet
}

func NewMemoryIndex() *MemoryIndex {
	return NewMemoryIndexWithClock(time.Now)
}

func NewMemoryIndexWithClock(now func() time.Time) *MemoryIndex {
	if now == nil {
		now = time.Now
	}
	return &MemoryIndex{
		now:     now,
		entries: make(map[string]Entry),
		reverse: make(map[string]*reverseSet),
	}
}

func (m *MemoryIndex) CacheFile(_ context.Context, source, format string, entry Entry, ttl time.Duration) error {
	key := Key(source, format)
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ExpiresAt = m.now().Add(ttl)
	if prev, ok := m.entries[key]; ok && prev.SessionID != entry.SessionID {
		m.unlinkLocked(prev.SessionID, key)
	}
	m.entries[key] = entry

	set, ok := m.reverse[entry.SessionID]
	if !ok {
		set = &reverseSet{keys: make(map[string]struct{})}
		m.reverse[entry.SessionID] = set
	}
	set.keys[key] = struct{}{}
	if entry.ExpiresAt.After(set.expiresAt) {
		set.expiresAt = entry.ExpiresAt
	}
	return nil
}

func (m *MemoryIndex) GetCachedFile(_ context.Context, source, format string) (Entry, bool, error) {
	key := Key(source, format)
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !m.now().Before(entry.ExpiresAt) {
		delete(m.entries, key)
		m.unlinkLocked(entry.SessionID, key)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (m *MemoryIndex) Remove(_ context.Context, source, format string) error {
	key := Key(source, format)
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[key]; ok {
		delete(m.entries, key)
		m.unlinkLocked(entry.SessionID, key)
	}
	return nil
}

func (m *MemoryIndex) RemoveAllBySession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.reverse[sessionID]
	if !ok {
		return nil
	}
	for key := range set.keys {
		// A key may have been re-pointed at another session since.
		if entry, ok := m.entries[key]; ok && entry.SessionID == sessionID {
			delete(m.entries, key)
		}
	}
	delete(m.reverse, sessionID)
	return nil
}

// Len reports forward entries, expired or not.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryIndex) unlinkLocked(sessionID, key string) {
	set, ok := m.reverse[sessionID]
	if !ok {
		return
	}
	delete(set.keys, key)
	if len(set.keys) == 0 {
		delete(m.reverse, sessionID)
	}
}
