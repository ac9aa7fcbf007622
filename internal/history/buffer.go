// Package history keeps per-session bounded in-memory logs of strokes and
// chat messages for fast replay on subscribe. It mirrors the durable store
// and never outlives the process.
package history

import (
	"sync"

	"slidesync-backend/internal/model"
)

const (
	// DefaultChatCap 세션당 채팅 버퍼 크기
	DefaultChatCap = 300
	// DefaultStrokeCap 세션당 스트로크 버퍼 크기 (슬라이드 전체 합산)
	DefaultStrokeCap = 5000
)

// Store owns every session's history buffers.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]*sessionHistory
	chatCap   int
	strokeCap int
}

type strokeEntry struct {
	seq    uint64
	stroke model.Stroke
}

// sessionHistory is guarded by its own mutex so one busy session never
// blocks another.
type sessionHistory struct {
	mu      sync.Mutex
	seq     uint64
	total   int
	strokes map[string][]strokeEntry // slideID -> entries, oldest first
	chat    []model.ChatMessage
}

// NewStore creates a history store. Non-positive caps fall back to defaults.
func NewStore(chatCap, strokeCap int) *Store {
	if chatCap <= 0 {
		chatCap = DefaultChatCap
	}
	if strokeCap <= 0 {
		strokeCap = DefaultStrokeCap
	}
	return &Store{
		sessions:  make(map[string]*sessionHistory),
		chatCap:   chatCap,
		strokeCap: strokeCap,
	}
}

func (s *Store) session(sessionID string) *sessionHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.sessions[sessionID]; ok {
		return h
	}
	h := &sessionHistory{strokes: make(map[string][]strokeEntry)}
	s.sessions[sessionID] = h
	return h
}

// AppendStroke records a stroke, evicting the oldest stroke in the session
// when the cap is exceeded. Eviction is FIFO across slides.
func (s *Store) AppendStroke(sessionID string, stroke model.Stroke) {
	h := s.session(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	h.strokes[stroke.SlideID] = append(h.strokes[stroke.SlideID], strokeEntry{seq: h.seq, stroke: stroke})
	h.total++

	for h.total > s.strokeCap {
		h.evictOldestLocked()
	}
}

// evictOldestLocked drops the stroke with the smallest sequence number.
func (h *sessionHistory) evictOldestLocked() {
	var oldestSlide string
	var oldestSeq uint64
	for slideID, entries := range h.strokes {
		if len(entries) == 0 {
			continue
		}
		if oldestSlide == "" || entries[0].seq < oldestSeq {
			oldestSlide = slideID
			oldestSeq = entries[0].seq
		}
	}
	if oldestSlide == "" {
		return
	}
	entries := h.strokes[oldestSlide]
	h.strokes[oldestSlide] = entries[1:]
	h.total--
	if len(h.strokes[oldestSlide]) == 0 {
		delete(h.strokes, oldestSlide)
	}
}

// SlideStrokes returns a copy of the slide's buffered strokes in submission
// order. ok is false when the buffer holds nothing for the slide, which means
// the caller should fall back to the durable store.
func (s *Store) SlideStrokes(sessionID, slideID string) (strokes []model.Stroke, ok bool) {
	h := s.session(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, ok := h.strokes[slideID]
	if !ok {
		return nil, false
	}
	strokes = make([]model.Stroke, len(entries))
	for i, e := range entries {
		strokes[i] = e.stroke
	}
	return strokes, true
}

// PrimeSlide seeds the buffer for a slide that has no entries yet, typically
// after a restart. Existing entries win over the seed.
func (s *Store) PrimeSlide(sessionID, slideID string, strokes []model.Stroke) {
	h := s.session(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.strokes[slideID]; exists {
		return
	}
	entries := make([]strokeEntry, 0, len(strokes))
	for _, st := range strokes {
		h.seq++
		entries = append(entries, strokeEntry{seq: h.seq, stroke: st})
	}
	h.strokes[slideID] = entries
	h.total += len(entries)

	for h.total > s.strokeCap {
		h.evictOldestLocked()
	}
}

// ClearSlide drops the slide's buffered strokes.
func (s *Store) ClearSlide(sessionID, slideID string) {
	h := s.session(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	if entries, ok := h.strokes[slideID]; ok {
		h.total -= len(entries)
	}
	// Keep an empty slice so SlideStrokes reports ok and the caller does not
	// resurrect cleared strokes from the durable store.
	h.strokes[slideID] = []strokeEntry{}
}

// AppendChat records a chat message, dropping the oldest one past the cap.
func (s *Store) AppendChat(sessionID string, msg model.ChatMessage) {
	h := s.session(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.chat = append(h.chat, msg)
	if len(h.chat) > s.chatCap {
		h.chat = h.chat[len(h.chat)-s.chatCap:]
	}
}

// Chat returns a copy of the session's buffered chat messages, oldest first.
func (s *Store) Chat(sessionID string) []model.ChatMessage {
	h := s.session(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]model.ChatMessage, len(h.chat))
	copy(out, h.chat)
	return out
}

// PrimeChat seeds the chat buffer when it is empty (warm-up from cache).
func (s *Store) PrimeChat(sessionID string, msgs []model.ChatMessage) {
	h := s.session(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.chat) > 0 {
		return
	}
	if len(msgs) > s.chatCap {
		msgs = msgs[len(msgs)-s.chatCap:]
	}
	h.chat = append(h.chat, msgs...)
}

// DropSession releases every buffer of a finished session.
func (s *Store) DropSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
