// Package lock guards the inference pipeline so only one run is active at a
// time. A second attempt is refused, never queued.
package lock

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailfinder/internal/db"
)

// Backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Lock is a non-blocking mutual exclusion primitive.
type Lock interface {
	// TryAcquire reports false without error when another holder owns it.
	TryAcquire(ctx context.Context) (bool, error)
	// Release is a no-op when the lock is not held.
	Release(ctx context.Context) error
}

// New builds the lock for backend. rdb and pool may be nil when their backend
// is not selected.
func New(backend string, rdb *redis.Client, pool db.Pool, key string, ttl time.Duration) (Lock, error) {
	switch backend {
	case "", BackendMemory:
		return NewLocal(), nil
	case BackendRedis:
		if rdb == nil {
			return nil, eris.New("lock: redis backend needs a client")
		}
		return NewRedis(rdb, key, ttl), nil
	case BackendPostgres:
		if pool == nil {
			return nil, eris.New("lock: postgres backend needs a pool")
		}
		return NewAdvisory(pool, key), nil
	}
	return nil, eris.Errorf("lock: unknown backend %q", backend)
}

// Local is an in-process lock.
type Local struct {
	mu   sync.Mutex
	held bool
}

// NewLocal returns an unheld in-process lock.
func NewLocal() *Local {
	return &Local{}
}

// TryAcquire implements Lock.
func (l *Local) TryAcquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

// Release implements Lock.
func (l *Local) Release(context.Context) error {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
	return nil
}

// Held reports whether the lock is currently taken.
func (l *Local) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// keyID derives a stable advisory lock id from key.
func keyID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64()) //nolint:gosec
}
