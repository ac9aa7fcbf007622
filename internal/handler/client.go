package handler

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"slidesync-backend/internal/model"
)

// wsConn is the subset of *websocket.Conn the gateway writes through.
// Tests substitute a recording fake.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one authenticated WebSocket connection. It belongs to at most
// one room at a time and holds its own role; nothing about it is persisted.
type Client struct {
	ID       string
	UserID   int64
	Email    string
	Nickname string

	conn    wsConn
	writeMu sync.Mutex // serializes socket writes

	mu   sync.Mutex
	room string // subscribed session id, empty when unassigned
	role model.ConnectionRole
}

// NewClient wraps an authenticated socket in a Client record.
func NewClient(conn wsConn, userID int64, email, nickname string) *Client {
	return &Client{
		ID:       uuid.New().String(),
		UserID:   userID,
		Email:    email,
		Nickname: nickname,
		conn:     conn,
		role:     model.RoleViewer,
	}
}

// Room returns the session id this client is subscribed to, if any.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Role returns the client's current role.
func (c *Client) Role() model.ConnectionRole {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Client) setRoom(room string, role model.ConnectionRole) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
	c.role = role
}

func (c *Client) clearRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = ""
	c.role = model.RoleViewer
}

// send writes one text frame, holding the write mutex so concurrent
// broadcasts and command replies never interleave.
func (c *Client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// sendEvent serializes and writes one event to this client only.
func (c *Client) sendEvent(ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.send(data)
}
