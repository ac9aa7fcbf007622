package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"slidesync-backend/internal/cache"
	"slidesync-backend/internal/history"
	"slidesync-backend/internal/model"
	"slidesync-backend/internal/store"
)

// ChatHandler 채팅 히스토리 조회 핸들러
type ChatHandler struct {
	store   store.Store
	history *history.Store
	cache   *cache.RedisClient
	chatCap int
}

// NewChatHandler ChatHandler 생성
func NewChatHandler(st store.Store, hist *history.Store, redisClient *cache.RedisClient, chatCap int) *ChatHandler {
	return &ChatHandler{
		store:   st,
		history: hist,
		cache:   redisClient,
		chatCap: chatCap,
	}
}

// GetHistory 최근 채팅 조회. 버퍼가 비어 있으면 Redis 캐시로 워밍한다.
// 채팅은 프로세스/캐시 밖에 남지 않으므로 둘 다 비면 빈 목록이다.
func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	if _, err := h.store.FindSession(c.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "session not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	messages := h.history.Chat(sessionID)
	if len(messages) == 0 && h.cache != nil {
		cached, err := h.cache.GetRecentChat(c.Context(), sessionID, int64(h.chatCap))
		if err == nil && len(cached) > 0 {
			h.history.PrimeChat(sessionID, cached)
			messages = cached
		}
	}

	if messages == nil {
		messages = []model.ChatMessage{}
	}

	return c.JSON(fiber.Map{
		"messages": messages,
	})
}
