package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	domainErrors "github.com/wekeepgrowing/semo-dunning/internal/domain/errors"
	"go.uber.org/zap"
)

const keyPrefix = "dunning:retry:"

// RedisGuard is a RetryGuard backed by a redsync mutex per subscription,
// so that concurrent workers across instances never retry the same subscription twice.
type RedisGuard struct {
	rs     *redsync.Redsync
	expiry time.Duration
	logger *zap.Logger
}

// NewRedisGuard creates a guard on the given Redis client. expiry bounds how long a
// crashed worker can hold the lock.
func NewRedisGuard(client redis.UniversalClient, expiry time.Duration, logger *zap.Logger) *RedisGuard {
	if expiry <= 0 {
		expiry = 2 * time.Minute
	}
	return &RedisGuard{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		logger: logger,
	}
}

// Key returns the lock key of a subscription
func Key(subscriptionID string) string {
	return keyPrefix + subscriptionID
}

// Acquire takes the lock without waiting. A held lock is reported as RetryInFlight,
// Redis failures as a transient error.
func (g *RedisGuard) Acquire(ctx context.Context, subscriptionID string) (func(), error) {
	mutex := g.rs.NewMutex(
		Key(subscriptionID),
		redsync.WithExpiry(g.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isTaken(err) {
			return nil, domainErrors.RetryInFlight(subscriptionID)
		}
		g.logger.Warn("Failed to acquire retry lock",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
		return nil, domainErrors.Transient(subscriptionID, "retry lock unavailable: "+err.Error())
	}

	return func() {
		// the caller's context may already be cancelled by the time we release
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			g.logger.Warn("Failed to release retry lock",
				zap.String("subscription_id", subscriptionID),
				zap.Bool("released", ok),
				zap.Error(err))
		}
	}, nil
}

func isTaken(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	var nodeTaken *redsync.ErrNodeTaken
	if errors.As(err, &nodeTaken) {
		return true
	}
	var taken *redsync.ErrTaken
	return errors.As(err, &taken)
}
