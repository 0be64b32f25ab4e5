package access

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-dunning/pkg/messaging"
)

const channel = "dunning.access"

func newTestAccess(t *testing.T) (*RedisAccessControl, *miniredis.Miniredis, <-chan messaging.Message) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	publisher := messaging.NewRedisClient(client)
	events, err := publisher.Subscribe(ctx, channel)
	require.NoError(t, err)

	ac := NewRedisAccessControl(client, publisher, "dunning:suspended:", channel, zap.NewNop())
	ac.now = func() time.Time { return time.Date(2026, 3, 23, 9, 0, 0, 0, time.UTC) }
	return ac, mr, events
}

func receiveEvent(t *testing.T, events <-chan messaging.Message) Event {
	t.Helper()
	select {
	case msg := <-events:
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no access event published")
		return Event{}
	}
}

func TestRedisAccessControl_SuspendAndReactivate(t *testing.T) {
	ac, mr, events := newTestAccess(t)
	ctx := context.Background()

	require.NoError(t, ac.Suspend(ctx, "sub_a"))

	value, err := mr.Get("dunning:suspended:sub_a")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-23T09:00:00Z", value)
	assert.Zero(t, mr.TTL("dunning:suspended:sub_a"))

	suspended, err := ac.IsSuspended(ctx, "sub_a")
	require.NoError(t, err)
	assert.True(t, suspended)

	ev := receiveEvent(t, events)
	assert.Equal(t, EventSuspended, ev.Type)
	assert.Equal(t, "sub_a", ev.SubscriptionID)

	require.NoError(t, ac.Reactivate(ctx, "sub_a"))
	assert.False(t, mr.Exists("dunning:suspended:sub_a"))

	suspended, err = ac.IsSuspended(ctx, "sub_a")
	require.NoError(t, err)
	assert.False(t, suspended)

	ev = receiveEvent(t, events)
	assert.Equal(t, EventReactivated, ev.Type)
}

func TestRedisAccessControl_Idempotent(t *testing.T) {
	ac, _, _ := newTestAccess(t)
	ctx := context.Background()

	require.NoError(t, ac.Suspend(ctx, "sub_a"))
	require.NoError(t, ac.Suspend(ctx, "sub_a"))
	require.NoError(t, ac.Reactivate(ctx, "sub_a"))
	require.NoError(t, ac.Reactivate(ctx, "sub_a"))

	suspended, err := ac.IsSuspended(ctx, "sub_a")
	require.NoError(t, err)
	assert.False(t, suspended)
}

func TestRedisAccessControl_RedisDown(t *testing.T) {
	ac, mr, _ := newTestAccess(t)
	mr.Close()

	assert.Error(t, ac.Suspend(context.Background(), "sub_a"))
	assert.Error(t, ac.Reactivate(context.Background(), "sub_a"))
	_, err := ac.IsSuspended(context.Background(), "sub_a")
	assert.Error(t, err)
}
