package model

import (
	"time"
)

// User 사용자
type User struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Nickname   string    `gorm:"type:varchar(100);not null" json:"nickname"`
	ProfileImg *string   `gorm:"type:text" json:"profile_img,omitempty"`
	Provider   *string   `gorm:"type:varchar(50)" json:"provider,omitempty"`
	ProviderID *string   `gorm:"type:varchar(255)" json:"provider_id,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Sessions []Session `gorm:"foreignKey:OwnerID" json:"sessions,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// Session 프레젠테이션 세션
type Session struct {
	ID             string     `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID        int64      `gorm:"not null;index" json:"owner_id"`
	Title          string     `gorm:"type:varchar(200);not null" json:"title"`
	Status         string     `gorm:"type:varchar(20);default:'draft'" json:"status"` // draft, live, ended
	ChatEnabled    bool       `gorm:"default:true" json:"chat_enabled"`
	CurrentSlideID *string    `gorm:"type:uuid" json:"current_slide_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Owner  User    `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Slides []Slide `gorm:"foreignKey:SessionID" json:"slides,omitempty"`
}

func (Session) TableName() string {
	return "sessions"
}

// Slide 세션 슬라이드. OrderIndex is dense and zero-based within a session.
type Slide struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID  string    `gorm:"type:uuid;not null;index" json:"session_id"`
	Title      string    `gorm:"type:varchar(200)" json:"title"`
	ImageURL   *string   `gorm:"type:text" json:"image_url,omitempty"`
	OrderIndex int       `gorm:"column:order_index;not null" json:"order"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Session Session `gorm:"foreignKey:SessionID" json:"session,omitempty"`
}

func (Slide) TableName() string {
	return "slides"
}

// Stroke 슬라이드 필기 데이터 (append-only)
type Stroke struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID string    `gorm:"type:uuid;not null;index:idx_strokes_session_slide" json:"session_id"`
	SlideID   string    `gorm:"type:uuid;not null;index:idx_strokes_session_slide" json:"slide_id"`
	AuthorID  int64     `gorm:"not null" json:"author_id"`
	Payload   string    `gorm:"type:jsonb;not null" json:"payload"` // JSON stroke geometry
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Session Session `gorm:"foreignKey:SessionID" json:"session,omitempty"`
	Slide   Slide   `gorm:"foreignKey:SlideID" json:"slide,omitempty"`
	Author  User    `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
}

func (Stroke) TableName() string {
	return "strokes"
}
