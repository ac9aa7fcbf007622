package handler

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"slidesync-backend/internal/cache"
	"slidesync-backend/internal/history"
	"slidesync-backend/internal/model"
	"slidesync-backend/internal/store"
)

// SessionHandler 세션 핸들러. Mutations that reach subscribed clients
// (start, end, chat toggle) are broadcast through the same hub the
// WebSocket handler uses, so REST and socket origins share one ordering.
type SessionHandler struct {
	store   store.Store
	hub     *RoomHub
	history *history.Store
	cache   *cache.RedisClient
}

// NewSessionHandler SessionHandler 생성
func NewSessionHandler(st store.Store, hub *RoomHub, hist *history.Store, redisClient *cache.RedisClient) *SessionHandler {
	return &SessionHandler{
		store:   st,
		hub:     hub,
		history: hist,
		cache:   redisClient,
	}
}

// CreateSessionRequest 세션 생성 요청
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// Create 세션 생성 (draft 상태)
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	userID := c.Locals("userID").(int64)

	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title is required",
		})
	}

	session := &model.Session{
		ID:          uuid.New().String(),
		OwnerID:     userID,
		Title:       title,
		Status:      model.SessionStatusDraft.String(),
		ChatEnabled: true,
	}

	if err := h.store.CreateSession(c.Context(), session); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create session",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(sessionSummary(session))
}

// List 내 세션 목록
func (h *SessionHandler) List(c *fiber.Ctx) error {
	userID := c.Locals("userID").(int64)

	sessions, err := h.store.ListSessionsByOwner(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list sessions",
		})
	}

	summaries := make([]SessionSummary, len(sessions))
	for i := range sessions {
		summaries[i] = sessionSummary(&sessions[i])
	}

	return c.JSON(fiber.Map{
		"sessions": summaries,
	})
}

// Get 세션 단건 조회. 소유자가 아니어도 읽기는 허용한다 (viewer가 입장 전에 확인).
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	session, err := h.store.FindSession(c.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "session not found",
		})
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	return c.JSON(sessionSummary(session))
}

// Start 세션 시작 (draft -> live). 구독 중인 클라이언트 전원에게 브로드캐스트.
func (h *SessionHandler) Start(c *fiber.Ctx) error {
	session, status, errMsg := ownedSession(c, h.store)
	if session == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	updated, err := h.store.TransitionSession(c.Context(), session.ID,
		model.SessionStatusDraft, model.SessionStatusLive)
	if errors.Is(err, store.ErrConflict) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "session is not in draft state",
		})
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to start session",
		})
	}

	h.hub.BroadcastToSession(updated.ID, EventSessionStarted, sessionLifecyclePayload{
		SessionID: updated.ID,
		At:        updated.StartedAt,
	}, nil)

	return c.JSON(sessionSummary(updated))
}

// End 세션 종료. 브로드캐스트 후 히스토리 버퍼와 캐시를 정리한다.
func (h *SessionHandler) End(c *fiber.Ctx) error {
	session, status, errMsg := ownedSession(c, h.store)
	if session == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	from := model.SessionStatus(session.Status)
	updated, err := h.store.TransitionSession(c.Context(), session.ID,
		from, model.SessionStatusEnded)
	if errors.Is(err, store.ErrConflict) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "session already ended",
		})
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to end session",
		})
	}

	h.hub.BroadcastToSession(updated.ID, EventSessionEnded, sessionLifecyclePayload{
		SessionID: updated.ID,
		At:        updated.EndedAt,
	}, nil)

	h.history.DropSession(updated.ID)
	if h.cache != nil {
		go func(sessionID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.cache.DeleteSession(ctx, sessionID); err != nil {
				log.Printf("[Session] Failed to drop chat cache for %s: %v", sessionID, err)
			}
		}(updated.ID)
	}

	return c.JSON(sessionSummary(updated))
}

// SetChatRequest 채팅 허용 토글 요청
type SetChatRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetChat 채팅 허용 플래그 토글. 값이 그대로면 저장을 건너뛰고
// 브로드캐스트만 내보낸다.
func (h *SessionHandler) SetChat(c *fiber.Ctx) error {
	session, status, errMsg := ownedSession(c, h.store)
	if session == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	var req SetChatRequest
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "enabled is required",
		})
	}

	enabled := *req.Enabled
	if session.ChatEnabled != enabled {
		updated, err := h.store.SetChatEnabled(c.Context(), session.ID, enabled)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to update chat flag",
			})
		}
		session = updated
	}

	h.hub.BroadcastToSession(session.ID, EventChatEnable, chatEnableEventPayload{
		SessionID: session.ID,
		Enabled:   enabled,
	}, nil)

	return c.JSON(sessionSummary(session))
}

// ownedSession loads the session from the path param and checks that the
// caller owns it. Returns (nil, status, message) on failure.
func ownedSession(c *fiber.Ctx, st store.Store) (*model.Session, int, string) {
	userID := c.Locals("userID").(int64)
	sessionID := c.Params("id")

	session, err := st.FindSession(c.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fiber.StatusNotFound, "session not found"
	} else if err != nil {
		return nil, fiber.StatusInternalServerError, "database error"
	}

	if session.OwnerID != userID {
		return nil, fiber.StatusForbidden, "only the session owner can do this"
	}

	return session, 0, ""
}
