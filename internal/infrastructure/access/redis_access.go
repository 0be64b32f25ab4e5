package access

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wekeepgrowing/semo-dunning/pkg/messaging"
	"go.uber.org/zap"
)

// Access event types
const (
	EventSuspended   = "access.suspended"
	EventReactivated = "access.reactivated"
)

// Event is published on every suspend or reactivate call
type Event struct {
	Type           string    `json:"type"`
	SubscriptionID string    `json:"subscription_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// RedisAccessControl keeps a suspension flag per subscription in Redis and
// announces each change so the product services can gate access.
type RedisAccessControl struct {
	client    redis.UniversalClient
	publisher messaging.RedisClient
	keyPrefix string
	channel   string
	logger    *zap.Logger
	now       func() time.Time
}

// NewRedisAccessControl creates the access control
func NewRedisAccessControl(client redis.UniversalClient, publisher messaging.RedisClient, keyPrefix, channel string, logger *zap.Logger) *RedisAccessControl {
	return &RedisAccessControl{
		client:    client,
		publisher: publisher,
		keyPrefix: keyPrefix,
		channel:   channel,
		logger:    logger,
		now:       time.Now,
	}
}

// Key returns the suspension flag key of a subscription
func (a *RedisAccessControl) Key(subscriptionID string) string {
	return a.keyPrefix + subscriptionID
}

// Suspend sets the suspension flag. Calling it on a suspended subscription is a no-op write.
func (a *RedisAccessControl) Suspend(ctx context.Context, subscriptionID string) error {
	now := a.now().UTC()
	if err := a.client.Set(ctx, a.Key(subscriptionID), now.Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("failed to set suspension flag: %w", err)
	}
	return a.publish(ctx, EventSuspended, subscriptionID, now)
}

// Reactivate clears the suspension flag
func (a *RedisAccessControl) Reactivate(ctx context.Context, subscriptionID string) error {
	now := a.now().UTC()
	if err := a.client.Del(ctx, a.Key(subscriptionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear suspension flag: %w", err)
	}
	return a.publish(ctx, EventReactivated, subscriptionID, now)
}

// IsSuspended reports whether the suspension flag is set
func (a *RedisAccessControl) IsSuspended(ctx context.Context, subscriptionID string) (bool, error) {
	n, err := a.client.Exists(ctx, a.Key(subscriptionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read suspension flag: %w", err)
	}
	return n > 0, nil
}

func (a *RedisAccessControl) publish(ctx context.Context, eventType, subscriptionID string, at time.Time) error {
	event := Event{Type: eventType, SubscriptionID: subscriptionID, OccurredAt: at}
	if err := a.publisher.Publish(ctx, a.channel, event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	a.logger.Info("Access changed",
		zap.String("event", eventType),
		zap.String("subscription_id", subscriptionID))
	return nil
}
