// Package store holds the Postgres- and Redis-backed implementations of
// every narrow persistence interface defined by the engine packages
// (bindingcache.Loader, resolver.Store/OverrideStore, adhoc.Store,
// attendance.Store, classify.Store, availability.Store). It follows this
// corpus's pattern of a small hand-written PgPool/RedisClient interface
// rather than exposing the full pgxpool/redis client to callers, so the
// engine packages can be tested against fakes without a database.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// PgPool is the slice of *pgxpool.Pool every store in this package needs.
type PgPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RedisClient is the slice of *redis.Client the override store needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}
