package iam

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
)

const cacheKeySep = "|"

// PermissionCache holds effective permission sets per (user, discussion).
//
// Entries expire after the configured TTL, which bounds how stale a result
// can be when another process changes grants. Values are cloned on the way
// in and out so callers may modify what they get.
//
// Every invalidation bumps a generation. A set resolved before an
// invalidation is never stored after it: callers read Generation before
// resolving and store through PutIfCurrent.
type PermissionCache struct {
	lru     *expirable.LRU[string, []string]
	metrics *telemetry.Metrics

	mu  sync.Mutex
	gen uint64
}

// NewPermissionCache creates a cache holding at most size entries. A
// non-positive size disables caching.
func NewPermissionCache(size int, ttl time.Duration, metrics *telemetry.Metrics) *PermissionCache {
	c := &PermissionCache{metrics: metrics}
	if size > 0 {
		c.lru = expirable.NewLRU[string, []string](size, nil, ttl)
	}
	return c
}

func cacheKey(userID, discussionID string) string {
	return userID + cacheKeySep + discussionID
}

// Get returns the cached set and whether it was present.
func (c *PermissionCache) Get(userID, discussionID string) ([]string, bool) {
	if c == nil || c.lru == nil {
		return nil, false
	}
	perms, ok := c.lru.Get(cacheKey(userID, discussionID))
	c.metrics.IncPermissionCache(ok)
	if !ok {
		return nil, false
	}
	return slices.Clone(perms), true
}

// Put stores a permission set.
func (c *PermissionCache) Put(userID, discussionID string, perms []string) {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Add(cacheKey(userID, discussionID), slices.Clone(perms))
}

// Generation returns the current invalidation generation.
func (c *PermissionCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// PutIfCurrent stores perms unless an invalidation happened since gen was
// read. It reports whether the set was stored.
func (c *PermissionCache) PutIfCurrent(userID, discussionID string, gen uint64, perms []string) bool {
	if c == nil || c.lru == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.lru.Add(cacheKey(userID, discussionID), slices.Clone(perms))
	return true
}

// bump advances the generation; the caller holds mu.
func (c *PermissionCache) bump() {
	c.gen++
}

// InvalidateUser drops every entry of the given users.
func (c *PermissionCache) InvalidateUser(userIDs ...string) {
	if c == nil || c.lru == nil || len(userIDs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump()
	for _, key := range c.lru.Keys() {
		user, _, _ := strings.Cut(key, cacheKeySep)
		if slices.Contains(userIDs, user) {
			c.lru.Remove(key)
		}
	}
}

// InvalidateDiscussion drops every entry of one discussion.
func (c *PermissionCache) InvalidateDiscussion(discussionID string) {
	if c == nil || c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump()
	suffix := cacheKeySep + discussionID
	for _, key := range c.lru.Keys() {
		if strings.HasSuffix(key, suffix) {
			c.lru.Remove(key)
		}
	}
}

// Purge empties the cache.
func (c *PermissionCache) Purge() {
	if c == nil || c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump()
	c.lru.Purge()
}

// Len reports the number of live entries.
func (c *PermissionCache) Len() int {
	if c == nil || c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
