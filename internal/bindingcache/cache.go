// Package bindingcache implements the channel-binding lookup cache (§4.1):
// a 60-second TTL cache over channel-id -> binding lookups, with negative
// caching for channels that are not bound to anything, a 10-minute sweep
// that evicts stale entries, and a full flush on gateway disconnect. The
// shape mirrors the mutex-guarded-map-of-definitions cache this corpus uses
// for hot read paths, generalized with an explicit TTL and a singleflight
// group so a cache-miss storm against the same channel collapses into one
// load.
package bindingcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/raidledger/voiceengine/internal/metrics"
	"github.com/raidledger/voiceengine/internal/models"
)

// DefaultTTL is how long a lookup (positive or negative) stays valid.
const DefaultTTL = 60 * time.Second

// DefaultSweepInterval is how often expired entries are evicted.
const DefaultSweepInterval = 10 * time.Minute

// Loader resolves a channel id to its binding. A nil binding with a nil
// error means the channel is unbound — negative-cacheable.
type Loader interface {
	LoadBinding(ctx context.Context, channelID string) (*models.ChannelBinding, error)
}

type entry struct {
	binding   *models.ChannelBinding
	expiresAt time.Time
}

// Cache is the channel-binding lookup cache. The zero value is not usable;
// use New.
type Cache struct {
	mu            sync.RWMutex
	entries       map[string]entry
	ttl           time.Duration
	loader        Loader
	group         singleflight.Group
	log           *zap.SugaredLogger
}

// New constructs a cache with the given loader and TTL. A zero ttl uses
// DefaultTTL.
func New(loader Loader, ttl time.Duration, log *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		loader:  loader,
		log:     log.Sugar(),
	}
}

// Get resolves channelID to its binding, using the cache when fresh. A nil
// binding with a nil error means the channel is confirmed unbound.
func (c *Cache) Get(ctx context.Context, channelID string) (*models.ChannelBinding, error) {
	if b, ok := c.lookup(channelID); ok {
		return b, nil
	}

	v, err, _ := c.group.Do(channelID, func() (interface{}, error) {
		if b, ok := c.lookup(channelID); ok {
			return b, nil
		}
		binding, loadErr := c.loader.LoadBinding(ctx, channelID)
		if loadErr != nil {
			return nil, loadErr
		}
		c.store(channelID, binding)
		return binding, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*models.ChannelBinding), nil
}

func (c *Cache) lookup(channelID string) (*models.ChannelBinding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[channelID]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.binding, true
}

func (c *Cache) store(channelID string, binding *models.ChannelBinding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[channelID] = entry{binding: binding, expiresAt: time.Now().Add(c.ttl)}
	metrics.BindingCacheSize.Set(float64(len(c.entries)))
}

// Invalidate drops any cached entry for channelID, positive or negative.
// Called whenever an admin command changes a binding (§6).
func (c *Cache) Invalidate(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, channelID)
	metrics.BindingCacheSize.Set(float64(len(c.entries)))
}

// Flush drops every cached entry. Called on gateway disconnect so a
// reconnect re-derives bindings from a clean slate instead of trusting
// possibly-stale state accumulated while offline.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	metrics.BindingCacheSize.Set(0)
}

// Sweep runs until ctx is cancelled, periodically evicting expired entries
// so the map does not grow unbounded with churned channel ids.
func (c *Cache) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			evicted++
		}
	}
	if evicted > 0 {
		c.log.Infow("binding cache sweep evicted entries", "count", evicted)
	}
	metrics.BindingCacheSize.Set(float64(len(c.entries)))
}

// Len reports the current entry count, for metrics and tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
