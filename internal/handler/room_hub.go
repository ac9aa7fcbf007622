package handler

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"slidesync-backend/internal/model"
)

// =============================================================================
// Room Hub - per-session room registry and broadcaster
// =============================================================================

// RoomHub manages all rooms and their connections. Both the WebSocket
// protocol engine and the REST handlers broadcast through it, so room
// membership and delivery semantics are identical for either origin.
type RoomHub struct {
	rooms map[string]*Room
	mu    sync.RWMutex
}

// Room is the set of clients currently subscribed to one session. It exists
// only while at least one client is subscribed.
type Room struct {
	ID        string
	clients   map[*Client]struct{}
	broadcast chan *broadcastJob
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	hub       *RoomHub
}

type broadcastJob struct {
	event   *Event
	exclude *Client
}

// NewRoomHub creates a new RoomHub instance
func NewRoomHub() *RoomHub {
	return &RoomHub{
		rooms: make(map[string]*Room),
	}
}

// GetOrCreateRoom gets an existing room or creates a new one. A new room's
// broadcaster goroutine starts immediately; it drains the broadcast channel
// in order, which gives the per-session delivery order.
func (h *RoomHub) GetOrCreateRoom(sessionID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.getOrCreateRoomLocked(sessionID)
}

// getOrCreateRoomLocked requires h.mu to be held.
func (h *RoomHub) getOrCreateRoomLocked(sessionID string) *Room {
	if room, exists := h.rooms[sessionID]; exists {
		return room
	}

	ctx, cancel := context.WithCancel(context.Background())
	room := &Room{
		ID:        sessionID,
		clients:   make(map[*Client]struct{}),
		broadcast: make(chan *broadcastJob, 256),
		ctx:       ctx,
		cancel:    cancel,
		hub:       h,
	}

	h.rooms[sessionID] = room
	go room.runBroadcaster()
	log.Printf("[RoomHub] Created room: %s", sessionID)

	return room
}

// Room returns the room for a session id, or nil when nobody is subscribed.
func (h *RoomHub) Room(sessionID string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[sessionID]
}

// RemoveRoom retires the session's room if it still has no members when the
// hub lock is taken. A room that picked up a subscriber in the meantime is
// left alone.
func (h *RoomHub) RemoveRoom(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, exists := h.rooms[sessionID]; exists && room.size() == 0 {
		room.shutdown()
		delete(h.rooms, sessionID)
		log.Printf("[RoomHub] Removed room: %s", sessionID)
	}
}

// Subscribe adds the client to the target session's room with the given
// role. A client belongs to at most one room: any previous membership is
// removed first. Re-subscribing to the same room only updates the role.
// Room lookup, creation, and the membership add happen in one hub critical
// section so a concurrent reclaim cannot retire the room between them.
func (h *RoomHub) Subscribe(client *Client, sessionID string, role model.ConnectionRole) *Room {
	if prev := client.Room(); prev != "" && prev != sessionID {
		h.leave(client, prev)
	}

	h.mu.Lock()
	room := h.getOrCreateRoomLocked(sessionID)
	room.add(client)
	h.mu.Unlock()

	client.setRoom(sessionID, role)

	log.Printf("[Room %s] Subscribed client %s (user %d, role %s), total: %d",
		sessionID, client.ID, client.UserID, role, room.size())
	return room
}

// Disconnect removes the client from its room, if any. Safe to call for
// clients that never subscribed.
func (h *RoomHub) Disconnect(client *Client) {
	if room := client.Room(); room != "" {
		h.leave(client, room)
	}
	client.clearRoom()
}

func (h *RoomHub) leave(client *Client, sessionID string) {
	room := h.Room(sessionID)
	if room == nil {
		return
	}

	remaining := room.remove(client)
	log.Printf("[Room %s] Removed client %s, remaining: %d", sessionID, client.ID, remaining)

	// Eager reclaim on last leave.
	if remaining == 0 {
		h.RemoveRoom(sessionID)
	}
}

// BroadcastToSession delivers an event to every open socket in the session's
// room, skipping exclude if given. A session with no room is a no-op,
// not an error.
func (h *RoomHub) BroadcastToSession(sessionID, eventType string, payload interface{}, exclude *Client) {
	room := h.Room(sessionID)
	if room == nil {
		return
	}
	room.Broadcast(&Event{Type: eventType, Payload: payload}, exclude)
}

// CleanupEmptyRooms sweeps rooms whose membership dropped to zero. Reclaim
// is already eager on last leave; the sweep covers shutdown races.
func (h *RoomHub) CleanupEmptyRooms() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, room := range h.rooms {
		if room.size() == 0 {
			room.shutdown()
			delete(h.rooms, sessionID)
			log.Printf("[RoomHub] Cleaned up empty room: %s", sessionID)
		}
	}
}

// RunSweeper periodically reclaims empty rooms until ctx is done.
func (h *RoomHub) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CleanupEmptyRooms()
		}
	}
}

// =============================================================================
// Room Methods
// =============================================================================

func (r *Room) add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client] = struct{}{}
}

func (r *Room) remove(client *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, client)
	return len(r.clients)
}

func (r *Room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast enqueues an event for delivery to the room's members. Events are
// delivered in enqueue order. A full buffer drops the event rather than
// blocking the caller.
func (r *Room) Broadcast(event *Event, exclude *Client) {
	select {
	case r.broadcast <- &broadcastJob{event: event, exclude: exclude}:
	case <-r.ctx.Done():
	default:
		log.Printf("[Room %s] Broadcast buffer full, dropping %s", r.ID, event.Type)
	}
}

func (r *Room) shutdown() {
	r.cancel()
}

// runBroadcaster delivers queued events to the room's members, one event at
// a time, until the room is shut down.
func (r *Room) runBroadcaster() {
	log.Printf("[Room %s] Broadcaster started", r.ID)
	defer log.Printf("[Room %s] Broadcaster stopped", r.ID)

	for {
		select {
		case <-r.ctx.Done():
			return
		case job, ok := <-r.broadcast:
			if !ok {
				return
			}
			r.deliver(job)
		}
	}
}

func (r *Room) deliver(job *broadcastJob) {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	data, err := json.Marshal(job.event)
	if err != nil {
		log.Printf("[Room %s] Failed to marshal %s event: %v", r.ID, job.event.Type, err)
		return
	}

	for _, client := range clients {
		if client == nil || client == job.exclude {
			continue
		}
		if err := client.send(data); err != nil {
			log.Printf("[Room %s] Failed to send %s to client %s: %v",
				r.ID, job.event.Type, client.ID, err)
		}
	}
}
