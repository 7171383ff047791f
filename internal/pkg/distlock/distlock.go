// Package distlock serializes work across processes. Redis is the preferred
// backend; without it, Postgres advisory locks cover single-database
// deployments. Both release automatically on crash (TTL expiry, session
// termination).
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a non-blocking distributed mutex. A Lock instance is for one
// goroutine; concurrent holders need separate instances.
type Lock interface {
	// TryAcquire reports whether the lock was obtained.
	TryAcquire(ctx context.Context) (bool, error)
	// Release frees the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// Factory builds a lock for a key. Injected so callers need not know which
// backend is live.
type Factory func(key string) Lock

// NewFactory returns a Factory over the best available backend. rdb may be
// nil; db must not be.
func NewFactory(rdb *redis.Client, db *sql.DB, ttl time.Duration) Factory {
	return func(key string) Lock {
		if rdb != nil {
			return newRedisLock(rdb, key, ttl)
		}
		return newAdvisoryLock(db, key)
	}
}

// advisoryLock uses pg_try_advisory_lock, which is session-scoped: the lock
// drops with the connection, so a crashed holder never wedges the system.
type advisoryLock struct {
	db     *sql.DB
	lockID int64
}

func newAdvisoryLock(db *sql.DB, key string) *advisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &advisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *advisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

func (l *advisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
