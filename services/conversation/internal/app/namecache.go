package app

import (
	"sync"
	"time"

	"messageai/pkg/domain"
)

// UserDirectory resolves users from the identity service.
type UserDirectory interface {
	UsersByIDs(ids []string) ([]domain.User, error)
	SearchUsers(query string) ([]domain.User, error)
}

type nameEntry struct {
	name    string
	staleAt time.Time
}

// NameCache memoizes user display names with a TTL so chat listings do not
// hammer the identity service. The directory is injected, which keeps the
// cache testable without HTTP.
type NameCache struct {
	dir UserDirectory
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]nameEntry
}

func NewNameCache(dir UserDirectory, ttl time.Duration) *NameCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &NameCache{
		dir:     dir,
		ttl:     ttl,
		entries: make(map[string]nameEntry),
	}
}

// Names resolves display names for the given user IDs, hitting the directory
// only for missing or stale entries. Unknown users are absent from the result.
func (c *NameCache) Names(ids []string) (map[string]string, error) {
	now := time.Now()
	out := make(map[string]string, len(ids))
	var misses []string

	c.mu.Lock()
	for _, id := range ids {
		if entry, ok := c.entries[id]; ok && now.Before(entry.staleAt) {
			out[id] = entry.name
			continue
		}
		misses = append(misses, id)
	}
	c.mu.Unlock()

	if len(misses) == 0 {
		return out, nil
	}
	users, err := c.dir.UsersByIDs(misses)
	if err != nil {
		return nil, err
	}
	staleAt := now.Add(c.ttl)
	c.mu.Lock()
	for _, u := range users {
		c.entries[u.ID] = nameEntry{name: u.DisplayName, staleAt: staleAt}
		out[u.ID] = u.DisplayName
	}
	c.mu.Unlock()
	return out, nil
}

// Invalidate drops a cached name, forcing a refresh on next use.
func (c *NameCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}
