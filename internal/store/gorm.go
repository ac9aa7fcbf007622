package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"slidesync-backend/internal/model"
)

// GormStore Postgres 기반 Store 구현
type GormStore struct {
	db *gorm.DB
}

// NewGormStore GormStore 생성
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ Store = (*GormStore)(nil)

// FindUser 사용자 조회
func (s *GormStore) FindUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindUserByEmail 이메일로 사용자 조회
func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// CreateUser 사용자 생성
func (s *GormStore) CreateUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

// SaveUser 사용자 갱신
func (s *GormStore) SaveUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Save(user).Error
}

// CreateSession 세션 생성
func (s *GormStore) CreateSession(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Status == "" {
		session.Status = model.SessionStatusDraft.String()
	}
	return s.db.WithContext(ctx).Create(session).Error
}

// FindSession 세션 조회 (슬라이드 순서대로 프리로드)
func (s *GormStore) FindSession(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := s.db.WithContext(ctx).
		Preload("Slides", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index ASC")
		}).
		First(&session, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

// ListSessionsByOwner 소유자의 세션 목록
func (s *GormStore) ListSessionsByOwner(ctx context.Context, ownerID int64) ([]model.Session, error) {
	var sessions []model.Session
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&sessions).Error
	return sessions, err
}

// TransitionSession 조건부 상태 전이 (draft -> live -> ended)
func (s *GormStore) TransitionSession(ctx context.Context, id string, from, to model.SessionStatus) (*model.Session, error) {
	if !from.CanTransitionTo(to) {
		return nil, ErrConflict
	}

	now := time.Now()
	updates := map[string]interface{}{"status": to.String()}
	switch to {
	case model.SessionStatusLive:
		updates["started_at"] = now
	case model.SessionStatusEnded:
		updates["ended_at"] = now
	}

	res := s.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("id = ? AND status = ?", id, from.String()).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Either the session is gone or someone else already moved it.
		if _, err := s.FindSession(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}

	return s.FindSession(ctx, id)
}

// SetChatEnabled 채팅 허용 플래그 갱신
func (s *GormStore) SetChatEnabled(ctx context.Context, id string, enabled bool) (*model.Session, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("id = ?", id).
		Update("chat_enabled", enabled)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.FindSession(ctx, id)
}

// SetCurrentSlide 현재 슬라이드 갱신. slideID must belong to the session.
func (s *GormStore) SetCurrentSlide(ctx context.Context, id string, slideID *string) (*model.Session, error) {
	if slideID != nil {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&model.Slide{}).
			Where("id = ? AND session_id = ?", *slideID, id).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, ErrNotFound
		}
	}

	res := s.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("id = ?", id).
		Update("current_slide_id", slideID)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.FindSession(ctx, id)
}

// FindSlide 슬라이드 조회
func (s *GormStore) FindSlide(ctx context.Context, id string) (*model.Slide, error) {
	var slide model.Slide
	if err := s.db.WithContext(ctx).First(&slide, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &slide, nil
}

// AddSlide 세션 끝에 슬라이드 추가
func (s *GormStore) AddSlide(ctx context.Context, sessionID string, slide *model.Slide) (*model.Session, error) {
	if slide.ID == "" {
		slide.ID = uuid.New().String()
	}
	slide.SessionID = sessionID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.Session
		if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
			return translate(err)
		}

		var count int64
		if err := tx.Model(&model.Slide{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
			return err
		}
		slide.OrderIndex = int(count)

		if err := tx.Create(slide).Error; err != nil {
			return err
		}

		// First slide becomes the current one.
		if session.CurrentSlideID == nil {
			if err := tx.Model(&model.Session{}).
				Where("id = ?", sessionID).
				Update("current_slide_id", slide.ID).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindSession(ctx, sessionID)
}

// DeleteSlide 슬라이드 및 해당 스트로크 삭제, order 재정렬
func (s *GormStore) DeleteSlide(ctx context.Context, sessionID, slideID string) (*model.Session, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.Session
		if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
			return translate(err)
		}

		var slide model.Slide
		if err := tx.First(&slide, "id = ? AND session_id = ?", slideID, sessionID).Error; err != nil {
			return translate(err)
		}

		// Deleting a slide deletes all its strokes.
		if err := tx.Where("slide_id = ?", slideID).Delete(&model.Stroke{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&slide).Error; err != nil {
			return err
		}

		var remaining []model.Slide
		if err := tx.Where("session_id = ?", sessionID).
			Order("order_index ASC").
			Find(&remaining).Error; err != nil {
			return err
		}

		repackOrder(remaining)
		for i := range remaining {
			if err := tx.Model(&model.Slide{}).
				Where("id = ?", remaining[i].ID).
				Update("order_index", remaining[i].OrderIndex).Error; err != nil {
				return err
			}
		}

		current := nextCurrentSlide(session.CurrentSlideID, slideID, remaining)
		return tx.Model(&model.Session{}).
			Where("id = ?", sessionID).
			Update("current_slide_id", current).Error
	})
	if err != nil {
		return nil, err
	}
	return s.FindSession(ctx, sessionID)
}

// ReorderSlides 전체 슬라이드 순서 교체. slideIDs must be a permutation of
// the session's slides.
func (s *GormStore) ReorderSlides(ctx context.Context, sessionID string, slideIDs []string) (*model.Session, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slides []model.Slide
		if err := tx.Where("session_id = ?", sessionID).Find(&slides).Error; err != nil {
			return err
		}
		if len(slides) == 0 {
			return ErrNotFound
		}
		if !validPermutation(slides, slideIDs) {
			return ErrConflict
		}

		for i, id := range slideIDs {
			if err := tx.Model(&model.Slide{}).
				Where("id = ?", id).
				Update("order_index", i).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindSession(ctx, sessionID)
}

// AppendStroke 스트로크 영속화
func (s *GormStore) AppendStroke(ctx context.Context, sessionID, slideID string, authorID int64, payload json.RawMessage) (*model.Stroke, error) {
	stroke := model.Stroke{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		SlideID:   slideID,
		AuthorID:  authorID,
		Payload:   string(payload),
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&stroke).Error; err != nil {
		return nil, err
	}
	return &stroke, nil
}

// ListSlideStrokes 슬라이드의 스트로크 목록 (입력 순서)
func (s *GormStore) ListSlideStrokes(ctx context.Context, slideID string) ([]model.Stroke, error) {
	var strokes []model.Stroke
	err := s.db.WithContext(ctx).
		Where("slide_id = ?", slideID).
		Order("created_at ASC").
		Find(&strokes).Error
	if err != nil {
		return nil, err
	}
	return strokes, nil
}

// ClearSlideStrokes 슬라이드의 모든 스트로크 삭제
func (s *GormStore) ClearSlideStrokes(ctx context.Context, slideID string) error {
	return s.db.WithContext(ctx).Where("slide_id = ?", slideID).Delete(&model.Stroke{}).Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
