package handler

import (
	"encoding/json"
	"time"

	"slidesync-backend/internal/model"
)

// Inbound frame types. Matching is case-insensitive; types are normalized to
// upper case before dispatch.
const (
	MessageSubscribe      = "SUBSCRIBE"
	MessageSubscribeAdmin = "SUBSCRIBE_ADMIN"
	MessageStroke         = "STROKE"
	MessageClearSlide     = "CLEAR_SLIDE"
	MessageChatMessage    = "CHAT_MESSAGE"
	MessageChatEnable     = "CHAT_ENABLE"
)

// Outbound event types. REST-triggered mutations reuse the same constants so
// clients observe one vocabulary regardless of origin.
const (
	EventSubscribed     = "SUBSCRIBED"
	EventSessionStarted = "SESSION_STARTED"
	EventSessionEnded   = "SESSION_ENDED"
	EventStroke         = "STROKE"
	EventClearSlide     = "CLEAR_SLIDE"
	EventChatMessage    = "CHAT_MESSAGE"
	EventChatEnable     = "CHAT_ENABLE"
	EventSlideChanged   = "SLIDE_CHANGED"
	EventError          = "ERROR"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound frame before serialization.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Inbound payloads

type subscribePayload struct {
	RoomID string `json:"roomId"`
}

type strokePayload struct {
	SessionID string          `json:"sessionId"`
	SlideID   string          `json:"slideId"`
	Stroke    json.RawMessage `json:"stroke"`
}

type clearSlidePayload struct {
	SessionID string `json:"sessionId"`
	SlideID   string `json:"slideId"`
}

type chatMessagePayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatEnablePayload struct {
	SessionID string `json:"sessionId"`
	Enabled   bool   `json:"enabled"`
}

// Outbound payloads

// SlideView 슬라이드 브로드캐스트 페이로드
type SlideView struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	ImageURL *string `json:"imageUrl,omitempty"`
	Order    int     `json:"order"`
}

// SessionSummary 세션 요약 (SUBSCRIBED, SLIDE_CHANGED)
type SessionSummary struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Status         string      `json:"status"`
	ChatEnabled    bool        `json:"chatEnabled"`
	CurrentSlideID *string     `json:"currentSlideId"`
	Slides         []SlideView `json:"slides"`
}

// StrokeView 스트로크 브로드캐스트 페이로드
type StrokeView struct {
	ID        string          `json:"id"`
	SlideID   string          `json:"slideId"`
	AuthorID  int64           `json:"authorId"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SubscribedPayload is the full snapshot sent once per successful subscribe.
type SubscribedPayload struct {
	Role    string              `json:"role"`
	Session SessionSummary      `json:"session"`
	Strokes []StrokeView        `json:"strokes"`
	Chat    []model.ChatMessage `json:"chat"`
}

type sessionLifecyclePayload struct {
	SessionID string     `json:"sessionId"`
	At        *time.Time `json:"at,omitempty"`
}

type strokeEventPayload struct {
	SessionID string     `json:"sessionId"`
	SlideID   string     `json:"slideId"`
	Stroke    StrokeView `json:"stroke"`
}

type clearSlideEventPayload struct {
	SessionID string `json:"sessionId"`
	SlideID   string `json:"slideId"`
}

type chatMessageEventPayload struct {
	SessionID string            `json:"sessionId"`
	Message   model.ChatMessage `json:"message"`
}

type chatEnableEventPayload struct {
	SessionID string `json:"sessionId"`
	Enabled   bool   `json:"enabled"`
}

// SlideChangedPayload 슬라이드 목록/현재 슬라이드 변경 브로드캐스트
type SlideChangedPayload struct {
	SessionID      string      `json:"sessionId"`
	CurrentSlideID *string     `json:"currentSlideId"`
	Slides         []SlideView `json:"slides"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// sessionSummary maps a stored session (slides preloaded in order) to its
// broadcast shape.
func sessionSummary(sess *model.Session) SessionSummary {
	return SessionSummary{
		ID:             sess.ID,
		Title:          sess.Title,
		Status:         sess.Status,
		ChatEnabled:    sess.ChatEnabled,
		CurrentSlideID: sess.CurrentSlideID,
		Slides:         slideViews(sess.Slides),
	}
}

func slideViews(slides []model.Slide) []SlideView {
	views := make([]SlideView, len(slides))
	for i, s := range slides {
		views[i] = SlideView{
			ID:       s.ID,
			Title:    s.Title,
			ImageURL: s.ImageURL,
			Order:    s.OrderIndex,
		}
	}
	return views
}

func strokeView(st *model.Stroke) StrokeView {
	return StrokeView{
		ID:        st.ID,
		SlideID:   st.SlideID,
		AuthorID:  st.AuthorID,
		Payload:   json.RawMessage(st.Payload),
		CreatedAt: st.CreatedAt,
	}
}

func strokeViews(strokes []model.Stroke) []StrokeView {
	views := make([]StrokeView, len(strokes))
	for i := range strokes {
		views[i] = strokeView(&strokes[i])
	}
	return views
}
