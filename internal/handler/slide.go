package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"slidesync-backend/internal/history"
	"slidesync-backend/internal/model"
	"slidesync-backend/internal/store"
)

// SlideHandler 슬라이드 핸들러. 슬라이드 목록이 바뀌는 모든 변경은
// SLIDE_CHANGED 한 종류로 브로드캐스트한다.
type SlideHandler struct {
	store   store.Store
	hub     *RoomHub
	history *history.Store
}

// NewSlideHandler SlideHandler 생성
func NewSlideHandler(st store.Store, hub *RoomHub, hist *history.Store) *SlideHandler {
	return &SlideHandler{
		store:   st,
		hub:     hub,
		history: hist,
	}
}

// AddSlideRequest 슬라이드 추가 요청
type AddSlideRequest struct {
	Title    string  `json:"title"`
	ImageURL *string `json:"imageUrl"`
}

// Add 슬라이드를 목록 끝에 추가. 첫 슬라이드는 현재 슬라이드가 된다.
func (h *SlideHandler) Add(c *fiber.Ctx) error {
	session, status, errMsg := ownedSession(c, h.store)
	if session == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	var req AddSlideRequest
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

	slide := &model.Slide{
		ID:       uuid.New().String(),
		Title:    title,
		ImageURL: req.ImageURL,
	}

	updated, err := h.store.AddSlide(c.Context(), session.ID, slide)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to add slide",
		})
	}

	h.broadcastSlides(updated)
	return c.Status(fiber.StatusCreated).JSON(sessionSummary(updated))
}

// Delete 슬라이드 삭제. 스트로크도 함께 지우고 order를 다시 채운다.
func (h *SlideHandler) Delete(c *fiber.Ctx) error {
	session, status, errMsg := ownedSession(c, h.store)
	if session == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	slideID := c.Params("slideId")

	updated, err := h.store.DeleteSlide(c.Context(), session.ID, slideID)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "slide not found",
		})
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete slide",
		})
	}

	h.history.ClearSlide(session.ID, slideID)
	h.broadcastSlides(updated)
	return c.JSON(sessionSummary(updated))
}

// ReorderSlidesRequest 슬라이드 순서 변경 요청
type ReorderSlidesRequest struct {
	SlideIDs []string `json:"slideIds"`
}

// Reorder 전체 슬라이드 순서 교체. slideIds는 기존 목록의 순열이어야 한다.
func (h *SlideHandler) Reorder(c *fiber.Ctx) error {
	session, status, errMsg := ownedSession(c, h.store)
	if session == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	var req ReorderSlidesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	updated, err := h.store.ReorderSlides(c.Context(), session.ID, req.SlideIDs)
	if errors.Is(err, store.ErrConflict) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "slideIds must be a permutation of the session's slides",
		})
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to reorder slides",
		})
	}

	h.broadcastSlides(updated)
	return c.JSON(sessionSummary(updated))
}

// SetCurrentSlideRequest 현재 슬라이드 변경 요청
type SetCurrentSlideRequest struct {
	SlideID *string `json:"slideId"`
}

// SetCurrent 현재 슬라이드 변경. null이면 현재 슬라이드를 비운다.
func (h *SlideHandler) SetCurrent(c *fiber.Ctx) error {
	session, status, errMsg := ownedSession(c, h.store)
	if session == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	var req SetCurrentSlideRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	updated, err := h.store.SetCurrentSlide(c.Context(), session.ID, req.SlideID)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "slide does not belong to this session",
		})
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to set current slide",
		})
	}

	h.broadcastSlides(updated)
	return c.JSON(sessionSummary(updated))
}

// GetStrokes 슬라이드 스트로크 조회. 버퍼를 먼저 보고 없으면 DB에서 읽어 채운다.
func (h *SlideHandler) GetStrokes(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	slideID := c.Params("slideId")

	slide, err := h.store.FindSlide(c.Context(), slideID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && slide.SessionID != sessionID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "slide not found",
		})
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	strokes, ok := h.history.SlideStrokes(sessionID, slideID)
	if !ok {
		strokes, err = h.store.ListSlideStrokes(c.Context(), slideID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load strokes",
			})
		}
		h.history.PrimeSlide(sessionID, slideID, strokes)
	}

	return c.JSON(fiber.Map{
		"strokes": strokeViews(strokes),
	})
}

func (h *SlideHandler) broadcastSlides(session *model.Session) {
	h.hub.BroadcastToSession(session.ID, EventSlideChanged, SlideChangedPayload{
		SessionID:      session.ID,
		CurrentSlideID: session.CurrentSlideID,
		Slides:         slideViews(session.Slides),
	}, nil)
}
