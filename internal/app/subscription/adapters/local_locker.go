package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
)

var _ contracts.ExecutionLocker = (*LocalLocker)(nil)

// LocalLocker is an in-process ExecutionLocker for single-instance deployments
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock domain.Clock
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker(clock domain.Clock) *LocalLocker {
	return &LocalLocker{
		held:  make(map[string]time.Time),
		clock: clock,
	}
}

// TryLock acquires key unless another holder's lease is still live.
func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, domain.ErrExecutionInProgress
	}
	expiry := now.Add(ttl)
	l.held[key] = expiry

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key].Equal(expiry) {
				delete(l.held, key)
			}
		})
	}, nil
}
