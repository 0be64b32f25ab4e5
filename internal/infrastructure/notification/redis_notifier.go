package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/wekeepgrowing/semo-dunning/pkg/messaging"
	"go.uber.org/zap"
)

// Message is the payload published for every customer notification.
// A mail or push worker subscribed to the channel renders and delivers it.
type Message struct {
	Template       string            `json:"template"`
	SubscriptionID string            `json:"subscription_id"`
	Variables      map[string]string `json:"variables,omitempty"`
	SentAt         time.Time         `json:"sent_at"`
}

// RedisNotifier publishes notifications on a Redis channel
type RedisNotifier struct {
	client  messaging.RedisClient
	channel string
	logger  *zap.Logger
	now     func() time.Time
}

// NewRedisNotifier creates a notifier publishing to channel
func NewRedisNotifier(client messaging.RedisClient, channel string, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger,
		now:     time.Now,
	}
}

// Send publishes the templated notification
func (n *RedisNotifier) Send(ctx context.Context, template, subscriptionID string, variables map[string]string) error {
	msg := Message{
		Template:       template,
		SubscriptionID: subscriptionID,
		Variables:      variables,
		SentAt:         n.now().UTC(),
	}

	if err := n.client.Publish(ctx, n.channel, msg); err != nil {
		return fmt.Errorf("failed to publish notification %s: %w", template, err)
	}

	n.logger.Info("Notification published",
		zap.String("template", template),
		zap.String("subscription_id", subscriptionID),
		zap.String("channel", n.channel))
	return nil
}
