// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.astrophena.name/hush/internal/store"
)

// AdminCacheTTL is how long a privilege lookup result is trusted.
const AdminCacheTTL = 24 * time.Hour

// AdminCacheEntry is a cached privilege lookup result.
type AdminCacheEntry struct {
	UserID    int64     `json:"user_id"`
	GroupID   int64     `json:"group_id"`
	IsAdmin   bool      `json:"is_admin"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AdminCache memoizes privilege lookups until an absolute expiry time.
type AdminCache struct {
	st  store.Store
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[Key]AdminCacheEntry
}

// LoadAdminCache returns an AdminCache backed by st, loading all unexpired
// entries from it. If now is nil, time.Now is used.
func LoadAdminCache(ctx context.Context, st store.Store, now func() time.Time) (*AdminCache, error) {
	if now == nil {
		now = time.Now
	}
	c := &AdminCache{
		st:      st,
		ttl:     AdminCacheTTL,
		now:     now,
		entries: make(map[Key]AdminCacheEntry),
	}

	records, err := st.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading admin cache: %w", err)
	}
	t := c.now()
	for id, b := range records {
		var e AdminCacheEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("admin cache record %q: %w", id, err)
		}
		if !t.Before(e.ExpiresAt) {
			continue
		}
		c.entries[Key{UserID: e.UserID, GroupID: e.GroupID}] = e
	}
	return c, nil
}

// Lookup returns the cached admin flag for key. ok is false if there is no
// entry or it has expired.
func (c *AdminCache) Lookup(key Key) (isAdmin, ok bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()
	if !found || !c.now().Before(e.ExpiresAt) {
		return false, false
	}
	return e.IsAdmin, true
}

// Record caches the admin flag for key until now + [AdminCacheTTL] and
// persists it. The entry stays cached even if persisting fails.
func (c *AdminCache) Record(ctx context.Context, key Key, isAdmin bool) error {
	e := AdminCacheEntry{
		UserID:    key.UserID,
		GroupID:   key.GroupID,
		IsAdmin:   isAdmin,
		ExpiresAt: c.now().Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := c.st.Set(ctx, key.String(), b); err != nil {
		return fmt.Errorf("persisting admin cache entry %s: %w", key, err)
	}
	return nil
}

// Len returns the number of unexpired entries.
func (c *AdminCache) Len() int {
	t := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int
	for _, e := range c.entries {
		if t.Before(e.ExpiresAt) {
			n++
		}
	}
	return n
}
