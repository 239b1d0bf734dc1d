package adapters

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

var _ contracts.ExecutionLocker = (*RedisLocker)(nil)

const lockKeyPrefix = "planchange:lock:"

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is an ExecutionLocker shared by every instance using the same Redis
type RedisLocker struct {
	client redis.UniversalClient
	logger *logger.Logger
}

// NewRedisLocker creates a locker on client
func NewRedisLocker(client redis.UniversalClient, log *logger.Logger) *RedisLocker {
	return &RedisLocker{client: client, logger: log}
}

// TryLock sets the key with NX and a TTL so a crashed holder cannot block
// the subscription forever.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	redisKey := lockKeyPrefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Unable to coordinate the plan change, please retry").
			Mark(ierr.ErrTransient)
	}
	if !ok {
		return nil, domain.ErrExecutionInProgress
	}

	return func() {
		// The caller's context may already be cancelled by now.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warnw("failed to release execution lock",
				"key", key,
				"error", err,
			)
		}
	}, nil
}
