package handler

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"slidesync-backend/internal/auth"
	"slidesync-backend/internal/cache"
	"slidesync-backend/internal/history"
	"slidesync-backend/internal/model"
	"slidesync-backend/internal/store"
)

// WebSocket close codes. 4401 is the dedicated authentication-failure code;
// unexpected internal faults close with 1011.
const (
	CloseUnauthorized  = 4401
	CloseInternalError = 1011
)

const maxChatMessageLen = 1000

// CollabWSHandler is the protocol engine of the collaboration gateway: it
// authenticates sockets, parses inbound frames into typed commands, validates
// them against role and room membership, executes them against the store and
// the history buffers, and fans results out through the RoomHub.
type CollabWSHandler struct {
	store   store.Store
	hub     *RoomHub
	history *history.Store
	cache   *cache.RedisClient // optional, may be nil
	jwt     *auth.JWTManager
	chatCap int
}

// NewCollabWSHandler CollabWSHandler 생성
func NewCollabWSHandler(st store.Store, hub *RoomHub, hist *history.Store, redis *cache.RedisClient, jwt *auth.JWTManager, chatCap int) *CollabWSHandler {
	if chatCap <= 0 {
		chatCap = history.DefaultChatCap
	}
	return &CollabWSHandler{
		store:   st,
		hub:     hub,
		history: hist,
		cache:   redis,
		jwt:     jwt,
		chatCap: chatCap,
	}
}

// HandleWebSocket WebSocket 연결 처리
func (h *CollabWSHandler) HandleWebSocket(c *websocket.Conn) {
	client, err := h.handshake(c)
	if err != nil {
		h.rejectConn(c, err)
		return
	}

	log.Printf("[CollabWS] Client connected: %s (user %d, %s)", client.ID, client.UserID, client.Email)

	defer func() {
		h.hub.Disconnect(client)
		c.Close()
		log.Printf("[CollabWS] Client disconnected: %s (user %d)", client.ID, client.UserID)
	}()

	for {
		messageType, msg, err := c.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.handleFrame(client, msg)
	}
}

// handshake authenticates the connection from its token query parameter and
// resolves the identity against the user table. No room membership is implied
// by a successful handshake.
func (h *CollabWSHandler) handshake(c *websocket.Conn) (*Client, error) {
	token := c.Query("token")
	if token == "" {
		return nil, auth.ErrInvalidToken
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}

	user, err := h.store.FindUser(context.Background(), claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.ErrInvalidToken
		}
		return nil, err
	}

	return NewClient(c, user.ID, user.Email, user.Nickname), nil
}

// rejectConn closes an unauthenticated socket with the dedicated close code.
func (h *CollabWSHandler) rejectConn(c *websocket.Conn, err error) {
	code := CloseInternalError
	reason := "internal error"
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		code = CloseUnauthorized
		reason = "unauthorized"
	} else {
		log.Printf("[CollabWS] Handshake failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	c.WriteControl(websocket.CloseMessage, closePayload(code, reason), deadline)
	c.Close()
}

func closePayload(code int, reason string) []byte {
	msg := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(msg, uint16(code))
	copy(msg[2:], reason)
	return msg
}

// handleFrame parses and dispatches one inbound frame. Every failure is
// answered with an ERROR reply; the connection always stays open.
func (h *CollabWSHandler) handleFrame(client *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.replyError(client, protocolErr("malformed JSON frame"))
		return
	}

	var err error
	switch strings.ToUpper(strings.TrimSpace(frame.Type)) {
	case MessageSubscribe:
		err = h.handleSubscribe(client, frame.Payload, false)
	case MessageSubscribeAdmin:
		err = h.handleSubscribe(client, frame.Payload, true)
	case MessageStroke:
		err = h.handleStroke(client, frame.Payload)
	case MessageClearSlide:
		err = h.handleClearSlide(client, frame.Payload)
	case MessageChatMessage:
		err = h.handleChatMessage(client, frame.Payload)
	case MessageChatEnable:
		err = h.handleChatEnable(client, frame.Payload)
	default:
		err = protocolErr("unknown message type: %s", frame.Type)
	}

	if err != nil {
		h.replyError(client, err)
	}
}

// replyError converts a command failure into an ERROR reply. Unexpected
// errors are logged in full and answered with a generic message.
func (h *CollabWSHandler) replyError(client *Client, err error) {
	var cmdErr *commandError
	msg := "internal error"
	if errors.As(err, &cmdErr) {
		msg = cmdErr.msg
	} else {
		log.Printf("[CollabWS] Internal error for client %s: %v", client.ID, err)
	}

	if sendErr := client.sendEvent(&Event{Type: EventError, Payload: errorPayload{Message: msg}}); sendErr != nil {
		log.Printf("[CollabWS] Failed to send ERROR to client %s: %v", client.ID, sendErr)
	}
}

// handleSubscribe joins the client to a session's room. Admin subscription is
// gated on session ownership; a denied admin subscribe changes nothing about
// the client's current membership.
func (h *CollabWSHandler) handleSubscribe(client *Client, payload json.RawMessage, asAdmin bool) error {
	var req subscribePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return protocolErr("invalid SUBSCRIBE payload")
	}
	if strings.TrimSpace(req.RoomID) == "" {
		return protocolErr("roomId is required")
	}

	session, err := h.store.FindSession(context.Background(), req.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundErr("session not found: %s", req.RoomID)
		}
		return err
	}

	role := model.RoleViewer
	if asAdmin {
		if session.OwnerID != client.UserID {
			return authzErr("Admin access denied")
		}
		role = model.RoleAdmin
	}

	h.hub.Subscribe(client, session.ID, role)

	snapshot, err := h.buildSnapshot(session, role)
	if err != nil {
		return err
	}

	// SUBSCRIBED must arrive before any lifecycle event for this
	// subscription.
	if err := client.sendEvent(&Event{Type: EventSubscribed, Payload: snapshot}); err != nil {
		return nil // socket is going away; the read loop will clean up
	}

	switch model.SessionStatus(session.Status) {
	case model.SessionStatusLive:
		client.sendEvent(&Event{Type: EventSessionStarted, Payload: sessionLifecyclePayload{SessionID: session.ID, At: session.StartedAt}})
	case model.SessionStatusEnded:
		client.sendEvent(&Event{Type: EventSessionEnded, Payload: sessionLifecyclePayload{SessionID: session.ID, At: session.EndedAt}})
	}

	return nil
}

// buildSnapshot assembles the SUBSCRIBED payload: session summary, the
// current slide's stroke history and the bounded chat history.
func (h *CollabWSHandler) buildSnapshot(session *model.Session, role model.ConnectionRole) (*SubscribedPayload, error) {
	strokes, err := h.currentSlideStrokes(session)
	if err != nil {
		return nil, err
	}

	return &SubscribedPayload{
		Role:    role.String(),
		Session: sessionSummary(session),
		Strokes: strokes,
		Chat:    h.chatHistory(session.ID),
	}, nil
}

// currentSlideStrokes reads the visible slide's strokes from the history
// buffer, falling back to the durable store when the buffer has no entry
// for the slide (cold start after restart).
func (h *CollabWSHandler) currentSlideStrokes(session *model.Session) ([]StrokeView, error) {
	if session.CurrentSlideID == nil {
		return []StrokeView{}, nil
	}
	slideID := *session.CurrentSlideID

	if strokes, ok := h.history.SlideStrokes(session.ID, slideID); ok {
		return strokeViews(strokes), nil
	}

	stored, err := h.store.ListSlideStrokes(context.Background(), slideID)
	if err != nil {
		return nil, err
	}
	h.history.PrimeSlide(session.ID, slideID, stored)

	strokes, _ := h.history.SlideStrokes(session.ID, slideID)
	return strokeViews(strokes), nil
}

// chatHistory reads the session's buffered chat, warming the buffer from
// Redis when it is empty.
func (h *CollabWSHandler) chatHistory(sessionID string) []model.ChatMessage {
	msgs := h.history.Chat(sessionID)
	if len(msgs) > 0 || h.cache == nil {
		return msgs
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cached, err := h.cache.GetRecentChat(ctx, sessionID, int64(h.chatCap))
	if err != nil || len(cached) == 0 {
		return msgs
	}
	h.history.PrimeChat(sessionID, cached)
	return h.history.Chat(sessionID)
}

// requireSubscribed validates that the command names the session this client
// is actually subscribed to.
func (h *CollabWSHandler) requireSubscribed(client *Client, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return protocolErr("sessionId is required")
	}
	if client.Room() != sessionID {
		return preconditionErr("not subscribed to session %s", sessionID)
	}
	return nil
}

func requireAdmin(client *Client) error {
	if client.Role() != model.RoleAdmin {
		return authzErr("admin role required")
	}
	return nil
}

// handleStroke appends a stroke and fans it out to the room. Admin only.
func (h *CollabWSHandler) handleStroke(client *Client, payload json.RawMessage) error {
	var req strokePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return protocolErr("invalid STROKE payload")
	}
	if err := h.requireSubscribed(client, req.SessionID); err != nil {
		return err
	}
	if err := requireAdmin(client); err != nil {
		return err
	}
	if len(req.Stroke) == 0 || string(req.Stroke) == "null" {
		return protocolErr("stroke data is required")
	}

	slide, err := h.store.FindSlide(context.Background(), req.SlideID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundErr("slide not found: %s", req.SlideID)
		}
		return err
	}
	if slide.SessionID != req.SessionID {
		return notFoundErr("slide %s does not belong to session %s", req.SlideID, req.SessionID)
	}

	stroke, err := h.store.AppendStroke(context.Background(), req.SessionID, req.SlideID, client.UserID, req.Stroke)
	if err != nil {
		return err
	}
	h.history.AppendStroke(req.SessionID, *stroke)

	h.hub.BroadcastToSession(req.SessionID, EventStroke, strokeEventPayload{
		SessionID: req.SessionID,
		SlideID:   req.SlideID,
		Stroke:    strokeView(stroke),
	}, nil)
	return nil
}

// handleClearSlide wipes one slide's stroke history. Admin only.
func (h *CollabWSHandler) handleClearSlide(client *Client, payload json.RawMessage) error {
	var req clearSlidePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return protocolErr("invalid CLEAR_SLIDE payload")
	}
	if err := h.requireSubscribed(client, req.SessionID); err != nil {
		return err
	}
	if err := requireAdmin(client); err != nil {
		return err
	}

	slide, err := h.store.FindSlide(context.Background(), req.SlideID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundErr("slide not found: %s", req.SlideID)
		}
		return err
	}
	if slide.SessionID != req.SessionID {
		return notFoundErr("slide %s does not belong to session %s", req.SlideID, req.SessionID)
	}

	if err := h.store.ClearSlideStrokes(context.Background(), req.SlideID); err != nil {
		return err
	}
	h.history.ClearSlide(req.SessionID, req.SlideID)

	h.hub.BroadcastToSession(req.SessionID, EventClearSlide, clearSlideEventPayload{
		SessionID: req.SessionID,
		SlideID:   req.SlideID,
	}, nil)
	return nil
}

// handleChatMessage appends a chat message when chat is enabled. Any role.
// There is no admin bypass of the disabled flag.
func (h *CollabWSHandler) handleChatMessage(client *Client, payload json.RawMessage) error {
	var req chatMessagePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return protocolErr("invalid CHAT_MESSAGE payload")
	}
	if err := h.requireSubscribed(client, req.SessionID); err != nil {
		return err
	}

	session, err := h.store.FindSession(context.Background(), req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundErr("session not found: %s", req.SessionID)
		}
		return err
	}
	if !session.ChatEnabled {
		return preconditionErr("chat is disabled for this session")
	}

	text := strings.TrimSpace(req.Message)
	if text == "" {
		return protocolErr("message must not be empty")
	}
	if utf8.RuneCountInString(text) > maxChatMessageLen {
		return protocolErr("message exceeds %d characters", maxChatMessageLen)
	}

	msg := model.ChatMessage{
		ID:          uuid.New().String(),
		SessionID:   req.SessionID,
		AuthorID:    client.UserID,
		AuthorEmail: client.Email,
		Text:        text,
		CreatedAt:   time.Now(),
	}
	h.history.AppendChat(req.SessionID, msg)
	h.cacheChatAsync(req.SessionID, msg)

	h.hub.BroadcastToSession(req.SessionID, EventChatMessage, chatMessageEventPayload{
		SessionID: req.SessionID,
		Message:   msg,
	}, nil)
	return nil
}

func (h *CollabWSHandler) cacheChatAsync(sessionID string, msg model.ChatMessage) {
	if h.cache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := h.cache.AddChatMessage(ctx, sessionID, &msg); err != nil {
			log.Printf("[CollabWS] Failed to cache chat message for session %s: %v", sessionID, err)
		}
	}()
}

// handleChatEnable toggles the session's chat flag. Admin only. Setting the
// already-current value skips the durable write but still re-broadcasts.
func (h *CollabWSHandler) handleChatEnable(client *Client, payload json.RawMessage) error {
	var req chatEnablePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return protocolErr("invalid CHAT_ENABLE payload")
	}
	if err := h.requireSubscribed(client, req.SessionID); err != nil {
		return err
	}
	if err := requireAdmin(client); err != nil {
		return err
	}

	session, err := h.store.FindSession(context.Background(), req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundErr("session not found: %s", req.SessionID)
		}
		return err
	}

	if session.ChatEnabled != req.Enabled {
		if _, err := h.store.SetChatEnabled(context.Background(), req.SessionID, req.Enabled); err != nil {
			return err
		}
	}

	h.hub.BroadcastToSession(req.SessionID, EventChatEnable, chatEnableEventPayload{
		SessionID: req.SessionID,
		Enabled:   req.Enabled,
	}, nil)
	return nil
}
