package store

import (
	"context"
	"encoding/json"
	"errors"

	"slidesync-backend/internal/model"
)

var (
	// ErrNotFound 조회 대상 없음
	ErrNotFound = errors.New("record not found")
	// ErrConflict 허용되지 않는 상태 전이
	ErrConflict = errors.New("conflicting state transition")
)

// Store is the authoritative record of users, sessions, slides and strokes.
// The gateway and the REST handlers both go through it; in-memory history
// buffers are only a non-authoritative mirror for fast replay.
type Store interface {
	// Users
	FindUser(ctx context.Context, id int64) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
	SaveUser(ctx context.Context, user *model.User) error

	// Sessions. FindSession preloads slides ordered by order_index.
	CreateSession(ctx context.Context, session *model.Session) error
	FindSession(ctx context.Context, id string) (*model.Session, error)
	ListSessionsByOwner(ctx context.Context, ownerID int64) ([]model.Session, error)
	// TransitionSession performs a conditional status update. It fails with
	// ErrConflict when the stored status is not `from` anymore.
	TransitionSession(ctx context.Context, id string, from, to model.SessionStatus) (*model.Session, error)
	SetChatEnabled(ctx context.Context, id string, enabled bool) (*model.Session, error)
	SetCurrentSlide(ctx context.Context, id string, slideID *string) (*model.Session, error)

	// Slides
	FindSlide(ctx context.Context, id string) (*model.Slide, error)
	AddSlide(ctx context.Context, sessionID string, slide *model.Slide) (*model.Session, error)
	// DeleteSlide removes the slide and its strokes, re-packs order_index to
	// a dense 0..N-1 range and moves current_slide_id off the deleted slide.
	DeleteSlide(ctx context.Context, sessionID, slideID string) (*model.Session, error)
	ReorderSlides(ctx context.Context, sessionID string, slideIDs []string) (*model.Session, error)

	// Strokes
	AppendStroke(ctx context.Context, sessionID, slideID string, authorID int64, payload json.RawMessage) (*model.Stroke, error)
	ListSlideStrokes(ctx context.Context, slideID string) ([]model.Stroke, error)
	ClearSlideStrokes(ctx context.Context, slideID string) error
}
