package model

// SessionStatus 세션 상태
type SessionStatus string

const (
	SessionStatusDraft SessionStatus = "draft"
	SessionStatusLive  SessionStatus = "live"
	SessionStatusEnded SessionStatus = "ended"
)

// String 메서드
func (s SessionStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the status change is allowed.
// Transitions are monotonic: draft -> live -> ended.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusDraft:
		return next == SessionStatusLive || next == SessionStatusEnded
	case SessionStatusLive:
		return next == SessionStatusEnded
	default:
		return false
	}
}

// ConnectionRole WebSocket 연결 역할
type ConnectionRole string

const (
	RoleViewer ConnectionRole = "viewer"
	RoleAdmin  ConnectionRole = "admin"
)

func (r ConnectionRole) String() string {
	return string(r)
}
