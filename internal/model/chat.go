package model

import "time"

// ChatMessage 세션 채팅 메시지. Kept in memory and Redis only, never in Postgres.
type ChatMessage struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	AuthorID    int64     `json:"authorId"`
	AuthorEmail string    `json:"authorEmail"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}
