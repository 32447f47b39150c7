package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"botchat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = hub.Run(ctx)
	}()
	t.Cleanup(cancel)
	return hub, cancel
}

func testClient(hub *Hub, userID, roomID string, buffer int) *Client {
	return &Client{
		hub:    hub,
		send:   make(chan []byte, buffer),
		userID: userID,
		roomID: roomID,
	}
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertClosed(t *testing.T, ch <-chan []byte) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("send channel was not closed")
		}
	}
}

func TestHub_NewHub(t *testing.T) {
	hub := NewHub()

	require.NotNil(t, hub)
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.members)
	assert.NotNil(t, hub.broadcast)
	assert.NotNil(t, hub.register)
	assert.NotNil(t, hub.unregister)
	assert.NotNil(t, hub.done)
}

func TestHub_ContextCancellation(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- hub.Run(ctx)
	}()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}

	select {
	case <-hub.done:
	default:
		t.Error("done channel should be closed after shutdown")
	}
}

func TestHub_RegisterSubscribesRoomAndTypingChannels(t *testing.T) {
	hub, _ := startHub(t)
	client := testClient(hub, "user-1", "room-1", 8)

	hub.Register(client)

	assert.Equal(t, 1, hub.Connected(domain.RoomChannel("room-1")))
	assert.Equal(t, 1, hub.Connected(domain.TypingChannel("room-1")))
	assert.Equal(t, 0, hub.Connected(domain.RoomChannel("room-2")))
}

func TestHub_DeliverByChannelKey(t *testing.T) {
	hub, _ := startHub(t)
	inRoom := testClient(hub, "user-1", "room-1", 8)
	otherRoom := testClient(hub, "user-2", "room-2", 8)
	hub.Register(inRoom)
	hub.Register(otherRoom)

	require.NoError(t, hub.Deliver(domain.TypingChannel("room-1"), []byte("typing")))
	require.NoError(t, hub.Deliver(domain.RoomChannel("room-1"), []byte("chat")))

	assert.Equal(t, "typing", string(receive(t, inRoom.send)))
	assert.Equal(t, "chat", string(receive(t, inRoom.send)))

	// a message on another room's channel is a fence for room-2
	require.NoError(t, hub.Deliver(domain.RoomChannel("room-2"), []byte("fence")))
	assert.Equal(t, "fence", string(receive(t, otherRoom.send)))
}

func TestHub_PublishMarshalsEvent(t *testing.T) {
	hub, _ := startHub(t)
	client := testClient(hub, "user-1", "room-1", 8)
	hub.Register(client)

	event := domain.RoomEvent{
		Type:      domain.EventChat,
		RoomID:    "room-1",
		MessageID: "msg-1",
		SenderID:  "user-1",
		Content:   "hello",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, hub.Publish(context.Background(), domain.RoomChannel("room-1"), event))

	var got domain.RoomEvent
	require.NoError(t, json.Unmarshal(receive(t, client.send), &got))
	assert.Equal(t, event, got)
}

func TestHub_UnregisterClient(t *testing.T) {
	hub, _ := startHub(t)
	client := testClient(hub, "user-1", "room-1", 8)

	hub.Register(client)
	hub.Unregister(client)

	assertClosed(t, client.send)
	assert.Equal(t, 0, hub.Connected(domain.RoomChannel("room-1")))
	assert.Equal(t, 0, hub.Connected(domain.TypingChannel("room-1")))
}

func TestHub_DoubleUnregister(t *testing.T) {
	hub, _ := startHub(t)
	client := testClient(hub, "user-1", "room-1", 8)

	hub.Register(client)
	hub.Unregister(client)

	assert.NotPanics(t, func() {
		hub.Unregister(client)
		// round-trip through the loop so the second unregister is processed
		hub.Connected(domain.RoomChannel("room-1"))
	})
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub, _ := startHub(t)
	slow := testClient(hub, "user-1", "room-1", 1)
	fast := testClient(hub, "user-2", "room-1", 8)
	hub.Register(slow)
	hub.Register(fast)

	require.NoError(t, hub.Deliver(domain.RoomChannel("room-1"), []byte("one")))
	require.NoError(t, hub.Deliver(domain.RoomChannel("room-1"), []byte("two")))

	assert.Equal(t, "one", string(receive(t, fast.send)))
	assert.Equal(t, "two", string(receive(t, fast.send)))

	assert.Equal(t, "one", string(receive(t, slow.send)))
	assertClosed(t, slow.send)
	assert.Equal(t, 1, hub.Connected(domain.RoomChannel("room-1")))
}

func TestHub_PresenceHook(t *testing.T) {
	type change struct {
		userID string
		online bool
	}
	changes := make(chan change, 8)

	hub := NewHub()
	hub.SetPresenceHook(func(userID string, online bool) {
		changes <- change{userID, online}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = hub.Run(ctx)
	}()

	next := func() change {
		select {
		case c := <-changes:
			return c
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for presence change")
			return change{}
		}
	}

	first := testClient(hub, "user-1", "room-1", 8)
	second := testClient(hub, "user-1", "room-2", 8)

	hub.Register(first)
	assert.Equal(t, change{"user-1", true}, next())

	t.Run("second_connection_is_silent", func(t *testing.T) {
		hub.Register(second)
		hub.Unregister(first)
		hub.Connected(domain.RoomChannel("room-1"))
		select {
		case c := <-changes:
			t.Fatalf("unexpected presence change %+v", c)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("last_disconnect_goes_offline", func(t *testing.T) {
		hub.Unregister(second)
		assert.Equal(t, change{"user-1", false}, next())
	})
}

func TestHub_GracefulShutdown(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()

	clients := []*Client{
		testClient(hub, "user-1", "room-1", 8),
		testClient(hub, "user-2", "room-1", 8),
		testClient(hub, "user-3", "room-2", 8),
	}
	for _, c := range clients {
		hub.Register(c)
	}

	cancel()
	<-stopped

	for _, c := range clients {
		assertClosed(t, c.send)
	}

	t.Run("deliver_after_shutdown", func(t *testing.T) {
		assert.ErrorIs(t, hub.Deliver(domain.RoomChannel("room-1"), []byte("late")), ErrHubClosed)
	})

	t.Run("register_after_shutdown_does_not_block", func(t *testing.T) {
		done := make(chan struct{})
		go func() {
			hub.Register(testClient(hub, "user-4", "room-1", 8))
			hub.Unregister(clients[0])
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("register blocked after shutdown")
		}
	})
}

func TestHub_Ping(t *testing.T) {
	hub, cancel := startHub(t)
	assert.NoError(t, hub.Ping(context.Background()))

	cancel()
	require.Eventually(t, func() bool {
		return errors.Is(hub.Ping(context.Background()), ErrHubClosed)
	}, time.Second, 10*time.Millisecond)
}
