package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectAndPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := Connect(ctx, mr.Addr(), "", 0)
	require.NoError(t, err)

	rc := NewRedisClient(client)
	defer rc.Close()

	messages, err := rc.Subscribe(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, rc.Publish(ctx, "events", map[string]string{"type": "access.suspended"}))

	select {
	case msg := <-messages:
		assert.Equal(t, "events", msg.Channel)
		var body map[string]string
		require.NoError(t, json.Unmarshal(msg.Payload, &body))
		assert.Equal(t, "access.suspended", body["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), addr, "", 0)
	assert.Error(t, err)
}

func TestPublish_UnserializableMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	rc := NewRedisClient(client)
	defer rc.Close()

	err = rc.Publish(context.Background(), "events", make(chan int))
	assert.Error(t, err)
}

func TestSubscribe_StopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	rc := NewRedisClient(client)
	defer rc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := rc.Subscribe(ctx, "events")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-messages:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}
