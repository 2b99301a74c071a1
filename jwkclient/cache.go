package jwkclient

import (
	"crypto/rsa"
	"sort"
	"sync"
	"time"
)

// KeyEntry is one published signing key and the instant it becomes usable.
// A zero NotBefore means the key is usable immediately.
type KeyEntry struct {
	Key       *rsa.PublicKey
	NotBefore time.Time
}

// ValidAt reports whether the entry may be used for verification at now.
func (e KeyEntry) ValidAt(now time.Time) bool {
	return e.NotBefore.IsZero() || !e.NotBefore.After(now)
}

// KeyCache maps kid to KeyEntry and tracks when it was last refreshed.
// Entries always hold the result of one complete fetch.
type KeyCache struct {
	mu            sync.RWMutex
	entries       map[string]KeyEntry
	lastProactive time.Time
	lastReactive  time.Time
}

// NewKeyCache returns an empty cache that has never been refreshed.
func NewKeyCache() *KeyCache {
	return &KeyCache{entries: map[string]KeyEntry{}}
}

// LookupValid returns the key for kid if it is cached and active at now.
func (c *KeyCache) LookupValid(kid string, now time.Time) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[kid]
	if !ok || !e.ValidAt(now) {
		return nil, false
	}
	return e.Key, true
}

// ReplaceAll swaps in entries wholesale. The caller must not modify the map afterwards.
func (c *KeyCache) ReplaceAll(entries map[string]KeyEntry) {
	if entries == nil {
		entries = map[string]KeyEntry{}
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// Snapshot returns a copy of the current entries.
func (c *KeyCache) Snapshot() map[string]KeyEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]KeyEntry, len(c.entries))
	for kid, e := range c.entries {
		out[kid] = e
	}
	return out
}

// KeyIDs returns the cached key ids in sorted order.
func (c *KeyCache) KeyIDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	for kid := range c.entries {
		ids = append(ids, kid)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// LastRefresh returns the instants of the last successful proactive and
// reactive refresh. Zero means never.
func (c *KeyCache) LastRefresh() (proactive, reactive time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastProactive, c.lastReactive
}

// commit swaps in entries and stamps the refresh of the given kind in one step.
func (c *KeyCache) commit(entries map[string]KeyEntry, kind RefreshKind, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	switch kind {
	case RefreshProactive:
		c.lastProactive = at
	case RefreshReactive:
		c.lastReactive = at
	}
}
