package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable signals a transient backend failure. Callers must treat the
// whole operation as failed and retry; falling back to unlocked processing
// would break the exactly-once guarantee.
var ErrUnavailable = errors.New("lock service unavailable")

// Locker is the only locking primitive the completion flow depends on:
// atomic create-if-absent with expiry. Expiration is the only release
// mechanism; there is no explicit unlock and no reentrancy.
type Locker interface {
	// TryAcquire returns true iff this call created the key. A false return
	// with nil error means another holder owns it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryLocker is a process-local Locker used by tests and local
// development. It is not suitable for multi-instance deployments.
type MemoryLocker struct {
	mu   sync.Mutex
	keys map[string]time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{keys: make(map[string]time.Time)}
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expiry, held := l.keys[key]; held && expiry.After(now) {
		return false, nil
	}
	l.keys[key] = now.Add(ttl)
	return true, nil
}
