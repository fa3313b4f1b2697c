package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLocker implements Locker with a conditional insert into the
// completion_locks table. An expired row counts as absent, so acquisition is
// a single atomic upsert guarded on expires_at. Expired rows are garbage;
// the background sweeper deletes them.
type PostgresLocker struct {
	db *pgxpool.Pool
}

func NewPostgresLocker(db *pgxpool.Pool) *PostgresLocker {
	return &PostgresLocker{db: db}
}

func (l *PostgresLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	query := `
	INSERT INTO completion_locks (key, expires_at)
	VALUES ($1, now() + $2)
	ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
	WHERE completion_locks.expires_at <= now()
	`

	tag, err := l.db.Exec(ctx, query, key, ttl)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SweepExpired deletes lock rows that expired before now. Correctness does
// not depend on it running; it only bounds table growth.
func (l *PostgresLocker) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM completion_locks WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired locks: %w", err)
	}
	return tag.RowsAffected(), nil
}
