package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/raidledger/voiceengine/internal/resolver"
)

// GameStore is the Postgres-backed implementation of resolver.Store: the
// game registry lookups behind the §4.3 resolution cascade, including the
// optional pg_trgm similarity step.
type GameStore struct {
	pg PgPool
}

func NewGameStore(pg PgPool) *GameStore {
	return &GameStore{pg: pg}
}

func (s *GameStore) ActivityMapping(ctx context.Context, activityName string) (*resolver.GameRow, error) {
	return s.queryOne(ctx, `
		SELECT g.id, g.name
		FROM activity_name_mappings m
		JOIN games g ON g.id = m.game_id
		WHERE m.activity_name = $1
	`, activityName)
}

func (s *GameStore) GameExact(ctx context.Context, name string) (*resolver.GameRow, error) {
	return s.queryOne(ctx, `SELECT id, name FROM games WHERE name = $1`, name)
}

func (s *GameStore) GameCaseInsensitive(ctx context.Context, name string) (*resolver.GameRow, error) {
	return s.queryOne(ctx, `SELECT id, name FROM games WHERE lower(name) = lower($1)`, name)
}

func (s *GameStore) GameTrigram(ctx context.Context, name string) (*resolver.GameRow, error) {
	return s.queryOne(ctx, `
		SELECT id, name
		FROM games
		WHERE similarity(name, $1) >= 0.3
		ORDER BY similarity(name, $1) DESC
		LIMIT 1
	`, name)
}

// TrigramAvailable is the §4.3 startup capability probe: it checks for the
// pg_trgm extension rather than attempting the similarity query and
// swallowing a possible failure on every call.
func (s *GameStore) TrigramAvailable(ctx context.Context) (bool, error) {
	var available bool
	err := s.pg.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'pg_trgm')`).Scan(&available)
	if err != nil {
		return false, fmt.Errorf("store: probe pg_trgm: %w", err)
	}
	return available, nil
}

func (s *GameStore) queryOne(ctx context.Context, sql string, args ...any) (*resolver.GameRow, error) {
	var row resolver.GameRow
	err := s.pg.QueryRow(ctx, sql, args...).Scan(&row.ID, &row.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: game lookup: %w", err)
	}
	return &row, nil
}

// OverrideStore is the Redis-backed implementation of resolver.OverrideStore
// for the manual "/playing" override: a TTL'd key per user, mirroring the
// pattern the teacher uses Redis for live/ephemeral state rather than
// Postgres (see server_tracking.go's "live_servers" hash).
type OverrideStore struct {
	redis RedisClient
}

func NewOverrideStore(redis RedisClient) *OverrideStore {
	return &OverrideStore{redis: redis}
}

func overrideKey(userID string) string {
	return "voiceengine:override:" + userID
}

func (s *OverrideStore) Get(ctx context.Context, userID string) (string, bool, error) {
	val, err := s.redis.Get(ctx, overrideKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get override: %w", err)
	}
	return val, val != "", nil
}

func (s *OverrideStore) Set(ctx context.Context, userID, name string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, overrideKey(userID), name, ttl).Err(); err != nil {
		return fmt.Errorf("store: set override: %w", err)
	}
	return nil
}
