package contracts

import (
	"context"
	"time"
)

// ExecutionLocker enforces single-flight execution per key. TryLock never
// waits: when the key is held it returns domain.ErrExecutionInProgress.
type ExecutionLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
