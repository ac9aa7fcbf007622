package handler

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidesync-backend/internal/model"
)

// fakeConn records every frame written to it.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// events decodes every recorded frame into its envelope.
func (f *fakeConn) events(t *testing.T) []Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Event, len(f.frames))
	for i, frame := range f.frames {
		require.NoError(t, json.Unmarshal(frame, &out[i]))
	}
	return out
}

func (f *fakeConn) eventTypes(t *testing.T) []string {
	t.Helper()
	evs := f.events(t)
	types := make([]string, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type
	}
	return types
}

func newTestClient(userID int64) (*Client, *fakeConn) {
	conn := &fakeConn{}
	return NewClient(conn, userID, fmt.Sprintf("user%d@test.io", userID), fmt.Sprintf("user%d", userID)), conn
}

func TestSubscribeCreatesRoomAndSetsRole(t *testing.T) {
	hub := NewRoomHub()
	client, _ := newTestClient(1)

	room := hub.Subscribe(client, "sess-1", model.RoleAdmin)

	require.NotNil(t, room)
	assert.Equal(t, "sess-1", client.Room())
	assert.Equal(t, model.RoleAdmin, client.Role())
	assert.Equal(t, 1, room.size())
}

func TestResubscribeSameRoomOnlyChangesRole(t *testing.T) {
	hub := NewRoomHub()
	client, _ := newTestClient(1)

	hub.Subscribe(client, "sess-1", model.RoleViewer)
	room := hub.Subscribe(client, "sess-1", model.RoleAdmin)

	assert.Equal(t, 1, room.size())
	assert.Equal(t, model.RoleAdmin, client.Role())
}

func TestSubscribeDetachesFromPreviousRoom(t *testing.T) {
	hub := NewRoomHub()
	anchor, _ := newTestClient(99) // keeps sess-1 alive
	client, _ := newTestClient(1)

	hub.Subscribe(anchor, "sess-1", model.RoleViewer)
	hub.Subscribe(client, "sess-1", model.RoleViewer)
	hub.Subscribe(client, "sess-2", model.RoleViewer)

	assert.Equal(t, "sess-2", client.Room())
	assert.Equal(t, 1, hub.Room("sess-1").size())
	assert.Equal(t, 1, hub.Room("sess-2").size())
}

func TestLastLeaveReclaimsRoom(t *testing.T) {
	hub := NewRoomHub()
	client, _ := newTestClient(1)

	hub.Subscribe(client, "sess-1", model.RoleViewer)
	hub.Disconnect(client)

	assert.Nil(t, hub.Room("sess-1"))
	assert.Equal(t, "", client.Room())
}

func TestDisconnectWithoutSubscriptionIsSafe(t *testing.T) {
	hub := NewRoomHub()
	client, _ := newTestClient(1)

	hub.Disconnect(client)

	assert.Equal(t, "", client.Room())
}

func TestBroadcastDeliversInEnqueueOrder(t *testing.T) {
	hub := NewRoomHub()
	client, conn := newTestClient(1)
	hub.Subscribe(client, "sess-1", model.RoleViewer)

	for i := 0; i < 10; i++ {
		hub.BroadcastToSession("sess-1", EventChatMessage, map[string]interface{}{"n": i}, nil)
	}

	require.Eventually(t, func() bool {
		return conn.frameCount() == 10
	}, time.Second, 5*time.Millisecond)

	for i, ev := range conn.events(t) {
		payload := ev.Payload.(map[string]interface{})
		assert.Equal(t, float64(i), payload["n"])
	}
}

func TestBroadcastSkipsExcludedClient(t *testing.T) {
	hub := NewRoomHub()
	sender, senderConn := newTestClient(1)
	receiver, receiverConn := newTestClient(2)
	hub.Subscribe(sender, "sess-1", model.RoleAdmin)
	hub.Subscribe(receiver, "sess-1", model.RoleViewer)

	hub.BroadcastToSession("sess-1", EventStroke, nil, sender)

	require.Eventually(t, func() bool {
		return receiverConn.frameCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, senderConn.frameCount())
}

func TestBroadcastToAbsentSessionIsNoop(t *testing.T) {
	hub := NewRoomHub()

	// Must not panic or create a room.
	hub.BroadcastToSession("nobody-here", EventStroke, nil, nil)

	assert.Nil(t, hub.Room("nobody-here"))
}

func TestRemoveRoomKeepsPopulatedRoom(t *testing.T) {
	hub := NewRoomHub()
	client, conn := newTestClient(1)
	room := hub.Subscribe(client, "sess-1", model.RoleViewer)

	hub.RemoveRoom("sess-1")

	require.Same(t, room, hub.Room("sess-1"))
	hub.BroadcastToSession("sess-1", EventChatMessage, nil, nil)
	require.Eventually(t, func() bool {
		return conn.frameCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeSurvivesConcurrentSweep(t *testing.T) {
	hub := NewRoomHub()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				hub.CleanupEmptyRooms()
			}
		}
	}()

	// Each iteration leaves the room empty, so the sweeper keeps finding
	// reclaim candidates right around the next subscribe.
	for i := 0; i < 200; i++ {
		client, _ := newTestClient(1)
		room := hub.Subscribe(client, "sess-1", model.RoleViewer)
		require.Same(t, room, hub.Room("sess-1"), "iteration %d", i)
		hub.Disconnect(client)
	}

	client, conn := newTestClient(2)
	hub.Subscribe(client, "sess-1", model.RoleViewer)
	hub.BroadcastToSession("sess-1", EventChatMessage, nil, nil)
	require.Eventually(t, func() bool {
		return conn.frameCount() == 1
	}, time.Second, 5*time.Millisecond)

	close(done)
	wg.Wait()
}

func TestCleanupEmptyRoomsSweepsOrphans(t *testing.T) {
	hub := NewRoomHub()
	hub.GetOrCreateRoom("orphan")
	client, _ := newTestClient(1)
	hub.Subscribe(client, "occupied", model.RoleViewer)

	hub.CleanupEmptyRooms()

	assert.Nil(t, hub.Room("orphan"))
	assert.NotNil(t, hub.Room("occupied"))
}
