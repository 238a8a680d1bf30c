// Package resolver implements the game-name resolution pipeline (§4.3): a
// five-step cascade from a free-form activity-name string down to a game
// registry row, with a 10-minute per-name cache and a startup capability
// probe for the optional trigram-similarity step. The cache and singleflight
// shapes mirror bindingcache; the narrow store interfaces mirror this
// corpus's PgPool-style interfaces kept small and purpose-built rather than
// exposing a full database client to callers.
package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/raidledger/voiceengine/internal/metrics"
	"github.com/raidledger/voiceengine/internal/models"
)

// DefaultCacheTTL is how long a resolved (or failed-to-resolve) activity
// name stays cached.
const DefaultCacheTTL = 10 * time.Minute

// GameRow is one game-registry entry.
type GameRow struct {
	ID   int64
	Name string
}

// Store is the narrow persistence surface the resolver needs. A concrete
// implementation backs this with Postgres, including the optional
// pg_trgm-powered similarity query.
type Store interface {
	ActivityMapping(ctx context.Context, activityName string) (*GameRow, error)
	GameExact(ctx context.Context, name string) (*GameRow, error)
	GameCaseInsensitive(ctx context.Context, name string) (*GameRow, error)
	GameTrigram(ctx context.Context, name string) (*GameRow, error)
	TrigramAvailable(ctx context.Context) (bool, error)
}

// OverrideStore resolves a user's manual "/playing" override, if one is set
// and unexpired.
type OverrideStore interface {
	Get(ctx context.Context, userID string) (name string, ok bool, err error)
	Set(ctx context.Context, userID, name string, ttl time.Duration) error
}

type cacheEntry struct {
	resolution models.GameResolution
	expiresAt  time.Time
}

// Resolver runs the §4.3 pipeline.
type Resolver struct {
	store      Store
	overrides  OverrideStore
	ttl        time.Duration
	log        *zap.SugaredLogger

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group

	trigramEnabled bool
}

// New constructs a Resolver and runs the trigram capability probe once, per
// §9 ("a capability check at startup, not per-call").
func New(ctx context.Context, store Store, overrides OverrideStore, ttl time.Duration, log *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	r := &Resolver{
		store:     store,
		overrides: overrides,
		ttl:       ttl,
		log:       log.Sugar(),
		cache:     make(map[string]cacheEntry),
	}
	available, err := store.TrigramAvailable(ctx)
	if err != nil {
		r.log.Warnw("trigram capability probe failed, disabling fuzzy resolution step", "error", err)
		available = false
	}
	r.trigramEnabled = available
	if !available {
		r.log.Infow("trigram similarity extension unavailable, resolver step 5 will be skipped")
	}
	return r
}

// Resolve runs the full pipeline for one presence activity name belonging to
// userID. Step 1 (manual override) is resolved first and is never cached
// itself since it is already backed by its own 30-minute TTL store; steps
// 2-5 are cached keyed by the string actually fed into them.
func (r *Resolver) Resolve(ctx context.Context, userID, activityName string) (models.GameResolution, error) {
	lookupName := activityName
	if r.overrides != nil {
		if override, ok, err := r.overrides.Get(ctx, userID); err == nil && ok {
			lookupName = override
		} else if err != nil {
			r.log.Warnw("manual override lookup failed, continuing without it", "userID", userID, "error", err)
		}
	}
	return r.resolveCached(ctx, lookupName)
}

func (r *Resolver) resolveCached(ctx context.Context, name string) (models.GameResolution, error) {
	if cached, ok := r.lookup(name); ok {
		metrics.ResolverCacheHits.Inc()
		return cached, nil
	}
	metrics.ResolverCacheMisses.Inc()

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		if cached, ok := r.lookup(name); ok {
			return cached, nil
		}
		resolution, err := r.runPipeline(ctx, name)
		if err != nil {
			return models.GameResolution{}, err
		}
		r.setCache(name, resolution)
		return resolution, nil
	})
	if err != nil {
		return models.GameResolution{}, err
	}
	return v.(models.GameResolution), nil
}

func (r *Resolver) runPipeline(ctx context.Context, name string) (models.GameResolution, error) {
	if row, err := r.store.ActivityMapping(ctx, name); err != nil {
		return models.GameResolution{}, err
	} else if row != nil {
		return models.GameResolution{GameID: &row.ID, GameName: row.Name}, nil
	}

	if row, err := r.store.GameExact(ctx, name); err != nil {
		return models.GameResolution{}, err
	} else if row != nil {
		return models.GameResolution{GameID: &row.ID, GameName: row.Name}, nil
	}

	if row, err := r.store.GameCaseInsensitive(ctx, strings.ToLower(name)); err != nil {
		return models.GameResolution{}, err
	} else if row != nil {
		return models.GameResolution{GameID: &row.ID, GameName: row.Name}, nil
	}

	if r.trigramEnabled {
		if row, err := r.store.GameTrigram(ctx, name); err != nil {
			return models.GameResolution{}, err
		} else if row != nil {
			return models.GameResolution{GameID: &row.ID, GameName: row.Name}, nil
		}
	}

	return models.GameResolution{GameID: nil, GameName: name}, nil
}

func (r *Resolver) lookup(name string) (models.GameResolution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[name]
	if !ok || time.Now().After(e.expiresAt) {
		return models.GameResolution{}, false
	}
	return e.resolution, true
}

func (r *Resolver) setCache(name string, resolution models.GameResolution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[name] = cacheEntry{resolution: resolution, expiresAt: time.Now().Add(r.ttl)}
}

// SetOverride records a manual "/playing" override for userID with the
// standard 30-minute TTL.
func (r *Resolver) SetOverride(ctx context.Context, userID, gameName string) error {
	if r.overrides == nil {
		return nil
	}
	return r.overrides.Set(ctx, userID, gameName, 30*time.Minute)
}

// Sweep periodically evicts expired cache entries until ctx is cancelled.
func (r *Resolver) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCacheTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Resolver) evictExpired() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.cache {
		if now.After(e.expiresAt) {
			delete(r.cache, k)
		}
	}
}
