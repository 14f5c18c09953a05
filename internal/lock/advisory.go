package lock

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailfinder/internal/db"
)

// Advisory holds a transaction-scoped Postgres advisory lock. The transaction
// stays open while the lock is held; if the session drops, Postgres frees it.
type Advisory struct {
	pool db.Pool
	id   int64

	mu sync.Mutex
	tx pgx.Tx
}

// NewAdvisory derives the lock id from key.
func NewAdvisory(pool db.Pool, key string) *Advisory {
	return &Advisory{pool: pool, id: keyID(key)}
}

// TryAcquire implements Lock.
func (l *Advisory) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tx != nil {
		return false, nil
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "lock: begin")
	}
	var acquired bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", l.id).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		return false, eris.Wrap(err, "lock: try advisory lock")
	}
	if !acquired {
		_ = tx.Rollback(ctx)
		return false, nil
	}
	l.tx = tx
	return true, nil
}

// Release ends the holding transaction.
func (l *Advisory) Release(ctx context.Context) error {
	l.mu.Lock()
	tx := l.tx
	l.tx = nil
	l.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(ctx); err != nil {
		return eris.Wrap(err, "lock: release advisory lock")
	}
	return nil
}
