package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidesync-backend/internal/auth"
	"slidesync-backend/internal/history"
	"slidesync-backend/internal/model"
	"slidesync-backend/internal/store"
)

// fakeStore is an in-memory store.Store for protocol tests.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]*model.User
	sessions map[string]*model.Session
	slides   map[string]*model.Slide
	strokes  map[string][]model.Stroke // slideID -> strokes

	setChatCalls  int
	appendedCount int
	clearedSlides []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[int64]*model.User),
		sessions: make(map[string]*model.Session),
		slides:   make(map[string]*model.Slide),
		strokes:  make(map[string][]model.Stroke),
	}
}

func (f *fakeStore) FindUser(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) FindUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) SaveUser(_ context.Context, user *model.User) error {
	return f.CreateUser(context.Background(), user)
}

func (f *fakeStore) CreateSession(_ context.Context, session *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeStore) FindSession(_ context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	cp.Slides = append([]model.Slide(nil), sess.Slides...)
	return &cp, nil
}

func (f *fakeStore) ListSessionsByOwner(_ context.Context, ownerID int64) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, sess := range f.sessions {
		if sess.OwnerID == ownerID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (f *fakeStore) TransitionSession(_ context.Context, id string, from, to model.SessionStatus) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sess.Status != from.String() || !from.CanTransitionTo(to) {
		return nil, store.ErrConflict
	}
	now := time.Now()
	sess.Status = to.String()
	switch to {
	case model.SessionStatusLive:
		sess.StartedAt = &now
	case model.SessionStatusEnded:
		sess.EndedAt = &now
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeStore) SetChatEnabled(_ context.Context, id string, enabled bool) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	f.setChatCalls++
	sess.ChatEnabled = enabled
	cp := *sess
	return &cp, nil
}

func (f *fakeStore) SetCurrentSlide(_ context.Context, id string, slideID *string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if slideID != nil {
		slide, ok := f.slides[*slideID]
		if !ok || slide.SessionID != id {
			return nil, store.ErrNotFound
		}
	}
	sess.CurrentSlideID = slideID
	cp := *sess
	return &cp, nil
}

func (f *fakeStore) FindSlide(_ context.Context, id string) (*model.Slide, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slide, ok := f.slides[id]; ok {
		cp := *slide
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) AddSlide(_ context.Context, sessionID string, slide *model.Slide) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	slide.SessionID = sessionID
	slide.OrderIndex = len(sess.Slides)
	f.slides[slide.ID] = slide
	sess.Slides = append(sess.Slides, *slide)
	if sess.CurrentSlideID == nil {
		sess.CurrentSlideID = &slide.ID
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeStore) DeleteSlide(_ context.Context, sessionID, slideID string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	slide, ok := f.slides[slideID]
	if !ok || slide.SessionID != sessionID {
		return nil, store.ErrNotFound
	}

	delete(f.slides, slideID)
	delete(f.strokes, slideID)

	remaining := sess.Slides[:0]
	for _, s := range sess.Slides {
		if s.ID != slideID {
			remaining = append(remaining, s)
		}
	}
	for i := range remaining {
		remaining[i].OrderIndex = i
	}
	sess.Slides = remaining

	if sess.CurrentSlideID != nil && *sess.CurrentSlideID == slideID {
		sess.CurrentSlideID = nil
		if len(remaining) > 0 {
			id := remaining[0].ID
			sess.CurrentSlideID = &id
		}
	}

	cp := *sess
	cp.Slides = append([]model.Slide(nil), sess.Slides...)
	return &cp, nil
}

func (f *fakeStore) ReorderSlides(_ context.Context, sessionID string, slideIDs []string) (*model.Session, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) AppendStroke(_ context.Context, sessionID, slideID string, authorID int64, payload json.RawMessage) (*model.Stroke, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stroke := model.Stroke{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		SlideID:   slideID,
		AuthorID:  authorID,
		Payload:   string(payload),
		CreatedAt: time.Now(),
	}
	f.strokes[slideID] = append(f.strokes[slideID], stroke)
	f.appendedCount++
	cp := stroke
	return &cp, nil
}

func (f *fakeStore) ListSlideStrokes(_ context.Context, slideID string) ([]model.Stroke, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Stroke(nil), f.strokes[slideID]...), nil
}

func (f *fakeStore) ClearSlideStrokes(_ context.Context, slideID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.strokes, slideID)
	f.clearedSlides = append(f.clearedSlides, slideID)
	return nil
}

// =============================================================================
// Test fixture
// =============================================================================

const (
	ownerID  = int64(1)
	viewerID = int64(2)
)

type wsFixture struct {
	handler *CollabWSHandler
	store   *fakeStore
	hub     *RoomHub
	history *history.Store
	session *model.Session
	slide   *model.Slide
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	st := newFakeStore()
	st.users[ownerID] = &model.User{ID: ownerID, Email: "owner@test.io", Nickname: "owner"}
	st.users[viewerID] = &model.User{ID: viewerID, Email: "viewer@test.io", Nickname: "viewer"}

	slideID := uuid.New().String()
	slide := &model.Slide{ID: slideID, Title: "intro", OrderIndex: 0}
	sessionID := uuid.New().String()
	session := &model.Session{
		ID:             sessionID,
		OwnerID:        ownerID,
		Title:          "demo",
		Status:         model.SessionStatusLive.String(),
		ChatEnabled:    true,
		CurrentSlideID: &slideID,
	}
	slide.SessionID = sessionID
	session.Slides = []model.Slide{*slide}
	st.sessions[sessionID] = session
	st.slides[slideID] = slide

	hub := NewRoomHub()
	hist := history.NewStore(10, 100)
	jwt := auth.NewJWTManager("test-secret", time.Hour, 24*time.Hour)

	return &wsFixture{
		handler: NewCollabWSHandler(st, hub, hist, nil, jwt, 10),
		store:   st,
		hub:     hub,
		history: hist,
		session: session,
		slide:   slide,
	}
}

func frame(t *testing.T, msgType string, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Frame{Type: msgType, Payload: raw})
	require.NoError(t, err)
	return data
}

func (fx *wsFixture) subscribe(t *testing.T, client *Client, asAdmin bool) {
	t.Helper()
	msgType := MessageSubscribe
	if asAdmin {
		msgType = MessageSubscribeAdmin
	}
	fx.handler.handleFrame(client, frame(t, msgType, subscribePayload{RoomID: fx.session.ID}))
	require.Equal(t, fx.session.ID, client.Room(), "subscribe should have joined the room")
}

func waitForFrames(t *testing.T, conn *fakeConn, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conn.frameCount() >= n
	}, time.Second, 5*time.Millisecond)
}

// =============================================================================
// Subscribe
// =============================================================================

func TestSubscribeSendsSnapshotBeforeLifecycleEvent(t *testing.T) {
	fx := newWSFixture(t)
	client, conn := newTestClient(viewerID)

	fx.subscribe(t, client, false)

	types := conn.eventTypes(t)
	require.Equal(t, []string{EventSubscribed, EventSessionStarted}, types)

	var ev struct {
		Payload SubscribedPayload `json:"payload"`
	}
	conn.mu.Lock()
	first := conn.frames[0]
	conn.mu.Unlock()
	require.NoError(t, json.Unmarshal(first, &ev))
	assert.Equal(t, "viewer", ev.Payload.Role)
	assert.Equal(t, fx.session.ID, ev.Payload.Session.ID)
	assert.Len(t, ev.Payload.Session.Slides, 1)
}

func TestSubscribeToDraftSessionSendsNoLifecycleEvent(t *testing.T) {
	fx := newWSFixture(t)
	fx.session.Status = model.SessionStatusDraft.String()
	client, conn := newTestClient(viewerID)

	fx.subscribe(t, client, false)

	assert.Equal(t, []string{EventSubscribed}, conn.eventTypes(t))
}

func TestSubscribeToEndedSessionSendsEndedEvent(t *testing.T) {
	fx := newWSFixture(t)
	fx.session.Status = model.SessionStatusEnded.String()
	client, conn := newTestClient(viewerID)

	fx.subscribe(t, client, false)

	assert.Equal(t, []string{EventSubscribed, EventSessionEnded}, conn.eventTypes(t))
}

func TestSubscribeSnapshotReplaysCurrentSlideStrokes(t *testing.T) {
	fx := newWSFixture(t)
	for i := 0; i < 3; i++ {
		_, err := fx.store.AppendStroke(context.Background(), fx.session.ID, fx.slide.ID, ownerID,
			json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}

	client, conn := newTestClient(viewerID)
	fx.subscribe(t, client, false)

	var ev struct {
		Payload SubscribedPayload `json:"payload"`
	}
	conn.mu.Lock()
	first := conn.frames[0]
	conn.mu.Unlock()
	require.NoError(t, json.Unmarshal(first, &ev))
	require.Len(t, ev.Payload.Strokes, 3)
	assert.JSONEq(t, `{"n":0}`, string(ev.Payload.Strokes[0].Payload))
	assert.JSONEq(t, `{"n":2}`, string(ev.Payload.Strokes[2].Payload))
}

func TestSubscribeUnknownSessionReturnsError(t *testing.T) {
	fx := newWSFixture(t)
	client, conn := newTestClient(viewerID)

	fx.handler.handleFrame(client, frame(t, MessageSubscribe, subscribePayload{RoomID: "no-such-session"}))

	assert.Equal(t, []string{EventError}, conn.eventTypes(t))
	assert.Equal(t, "", client.Room())
}

func TestSubscribeAdminDeniedForNonOwner(t *testing.T) {
	fx := newWSFixture(t)
	client, conn := newTestClient(viewerID)

	fx.handler.handleFrame(client, frame(t, MessageSubscribeAdmin, subscribePayload{RoomID: fx.session.ID}))

	types := conn.eventTypes(t)
	require.Equal(t, []string{EventError}, types)
	// A denied admin subscribe leaves the client exactly where it was.
	assert.Equal(t, "", client.Room())
	assert.Equal(t, model.RoleViewer, client.Role())
}

func TestSubscribeAdminDeniedKeepsExistingMembership(t *testing.T) {
	fx := newWSFixture(t)
	client, _ := newTestClient(viewerID)
	fx.subscribe(t, client, false)

	fx.handler.handleFrame(client, frame(t, MessageSubscribeAdmin, subscribePayload{RoomID: fx.session.ID}))

	assert.Equal(t, fx.session.ID, client.Room())
	assert.Equal(t, model.RoleViewer, client.Role())
}

func TestSubscribeAdminGrantedForOwner(t *testing.T) {
	fx := newWSFixture(t)
	client, conn := newTestClient(ownerID)

	fx.subscribe(t, client, true)

	assert.Equal(t, model.RoleAdmin, client.Role())
	var ev struct {
		Payload SubscribedPayload `json:"payload"`
	}
	conn.mu.Lock()
	first := conn.frames[0]
	conn.mu.Unlock()
	require.NoError(t, json.Unmarshal(first, &ev))
	assert.Equal(t, "admin", ev.Payload.Role)
}

// =============================================================================
// Strokes
// =============================================================================

func TestStrokeRequiresSubscription(t *testing.T) {
	fx := newWSFixture(t)
	client, conn := newTestClient(ownerID)

	fx.handler.handleFrame(client, frame(t, MessageStroke, strokePayload{
		SessionID: fx.session.ID,
		SlideID:   fx.slide.ID,
		Stroke:    json.RawMessage(`{"points":[]}`),
	}))

	assert.Equal(t, []string{EventError}, conn.eventTypes(t))
	assert.Equal(t, 0, fx.store.appendedCount)
}

func TestStrokeDeniedForViewer(t *testing.T) {
	fx := newWSFixture(t)
	admin, _ := newTestClient(ownerID)
	viewer, viewerConn := newTestClient(viewerID)
	fx.subscribe(t, admin, true)
	fx.subscribe(t, viewer, false)

	fx.handler.handleFrame(viewer, frame(t, MessageStroke, strokePayload{
		SessionID: fx.session.ID,
		SlideID:   fx.slide.ID,
		Stroke:    json.RawMessage(`{"points":[]}`),
	}))

	types := viewerConn.eventTypes(t)
	assert.Equal(t, EventError, types[len(types)-1])
	assert.Equal(t, 0, fx.store.appendedCount)
}

func TestStrokePersistsBuffersAndBroadcasts(t *testing.T) {
	fx := newWSFixture(t)
	admin, adminConn := newTestClient(ownerID)
	viewer, viewerConn := newTestClient(viewerID)
	fx.subscribe(t, admin, true)
	fx.subscribe(t, viewer, false)
	adminBase := adminConn.frameCount()
	viewerBase := viewerConn.frameCount()

	fx.handler.handleFrame(admin, frame(t, MessageStroke, strokePayload{
		SessionID: fx.session.ID,
		SlideID:   fx.slide.ID,
		Stroke:    json.RawMessage(`{"points":[[0,0],[1,1]]}`),
	}))

	// The author receives the fan-out too.
	waitForFrames(t, adminConn, adminBase+1)
	waitForFrames(t, viewerConn, viewerBase+1)

	assert.Equal(t, 1, fx.store.appendedCount)
	buffered, ok := fx.history.SlideStrokes(fx.session.ID, fx.slide.ID)
	require.True(t, ok)
	assert.Len(t, buffered, 1)

	types := viewerConn.eventTypes(t)
	assert.Equal(t, EventStroke, types[len(types)-1])
}

func TestStrokeRejectsSlideFromAnotherSession(t *testing.T) {
	fx := newWSFixture(t)
	foreign := &model.Slide{ID: uuid.New().String(), SessionID: "other-session", Title: "x"}
	fx.store.slides[foreign.ID] = foreign

	admin, conn := newTestClient(ownerID)
	fx.subscribe(t, admin, true)
	base := conn.frameCount()

	fx.handler.handleFrame(admin, frame(t, MessageStroke, strokePayload{
		SessionID: fx.session.ID,
		SlideID:   foreign.ID,
		Stroke:    json.RawMessage(`{"points":[]}`),
	}))

	waitForFrames(t, conn, base+1)
	types := conn.eventTypes(t)
	assert.Equal(t, EventError, types[len(types)-1])
	assert.Equal(t, 0, fx.store.appendedCount)
}

func TestClearSlideWipesStoreAndBuffer(t *testing.T) {
	fx := newWSFixture(t)
	admin, adminConn := newTestClient(ownerID)
	fx.subscribe(t, admin, true)

	fx.handler.handleFrame(admin, frame(t, MessageStroke, strokePayload{
		SessionID: fx.session.ID,
		SlideID:   fx.slide.ID,
		Stroke:    json.RawMessage(`{"points":[]}`),
	}))
	base := adminConn.frameCount()

	fx.handler.handleFrame(admin, frame(t, MessageClearSlide, clearSlidePayload{
		SessionID: fx.session.ID,
		SlideID:   fx.slide.ID,
	}))

	waitForFrames(t, adminConn, base+1)
	assert.Contains(t, fx.store.clearedSlides, fx.slide.ID)

	buffered, ok := fx.history.SlideStrokes(fx.session.ID, fx.slide.ID)
	require.True(t, ok)
	assert.Empty(t, buffered)
}

// =============================================================================
// Chat
// =============================================================================

func TestChatMessageBroadcastsToEveryone(t *testing.T) {
	fx := newWSFixture(t)
	admin, adminConn := newTestClient(ownerID)
	viewer, viewerConn := newTestClient(viewerID)
	fx.subscribe(t, admin, true)
	fx.subscribe(t, viewer, false)
	adminBase := adminConn.frameCount()
	viewerBase := viewerConn.frameCount()

	fx.handler.handleFrame(viewer, frame(t, MessageChatMessage, chatMessagePayload{
		SessionID: fx.session.ID,
		Message:   "hello",
	}))

	waitForFrames(t, adminConn, adminBase+1)
	waitForFrames(t, viewerConn, viewerBase+1)

	chat := fx.history.Chat(fx.session.ID)
	require.Len(t, chat, 1)
	assert.Equal(t, "hello", chat[0].Text)
	assert.Equal(t, viewerID, chat[0].AuthorID)
}

func TestChatMessageRejectedWhenDisabled(t *testing.T) {
	fx := newWSFixture(t)
	fx.session.ChatEnabled = false
	viewer, conn := newTestClient(viewerID)
	fx.subscribe(t, viewer, false)
	base := conn.frameCount()

	fx.handler.handleFrame(viewer, frame(t, MessageChatMessage, chatMessagePayload{
		SessionID: fx.session.ID,
		Message:   "hello",
	}))

	waitForFrames(t, conn, base+1)
	types := conn.eventTypes(t)
	assert.Equal(t, EventError, types[len(types)-1])
	assert.Empty(t, fx.history.Chat(fx.session.ID))
}

func TestChatMessageLengthValidation(t *testing.T) {
	fx := newWSFixture(t)
	viewer, conn := newTestClient(viewerID)
	fx.subscribe(t, viewer, false)

	tests := []struct {
		name    string
		message string
	}{
		{name: "empty", message: ""},
		{name: "whitespace only", message: "   "},
		{name: "too long", message: strings.Repeat("a", maxChatMessageLen+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := conn.frameCount()
			fx.handler.handleFrame(viewer, frame(t, MessageChatMessage, chatMessagePayload{
				SessionID: fx.session.ID,
				Message:   tt.message,
			}))
			waitForFrames(t, conn, base+1)
			types := conn.eventTypes(t)
			assert.Equal(t, EventError, types[len(types)-1])
		})
	}

	assert.Empty(t, fx.history.Chat(fx.session.ID))
}

func TestChatEnableIdempotentToggleSkipsDurableWrite(t *testing.T) {
	fx := newWSFixture(t)
	admin, conn := newTestClient(ownerID)
	fx.subscribe(t, admin, true)
	base := conn.frameCount()

	// Disabling flips the flag: one durable write.
	fx.handler.handleFrame(admin, frame(t, MessageChatEnable, chatEnablePayload{
		SessionID: fx.session.ID,
		Enabled:   false,
	}))
	// Disabling again is a no-op write but still re-broadcasts.
	fx.handler.handleFrame(admin, frame(t, MessageChatEnable, chatEnablePayload{
		SessionID: fx.session.ID,
		Enabled:   false,
	}))

	waitForFrames(t, conn, base+2)
	assert.Equal(t, 1, fx.store.setChatCalls)

	types := conn.eventTypes(t)
	assert.Equal(t, EventChatEnable, types[len(types)-1])
	assert.Equal(t, EventChatEnable, types[len(types)-2])
}

func TestChatEnableDeniedForViewer(t *testing.T) {
	fx := newWSFixture(t)
	viewer, conn := newTestClient(viewerID)
	fx.subscribe(t, viewer, false)
	base := conn.frameCount()

	fx.handler.handleFrame(viewer, frame(t, MessageChatEnable, chatEnablePayload{
		SessionID: fx.session.ID,
		Enabled:   false,
	}))

	waitForFrames(t, conn, base+1)
	types := conn.eventTypes(t)
	assert.Equal(t, EventError, types[len(types)-1])
	assert.Equal(t, 0, fx.store.setChatCalls)
}

// =============================================================================
// Framing
// =============================================================================

func TestMalformedFrameAnswersWithError(t *testing.T) {
	fx := newWSFixture(t)
	client, conn := newTestClient(viewerID)

	fx.handler.handleFrame(client, []byte(`{not json`))

	assert.Equal(t, []string{EventError}, conn.eventTypes(t))
}

func TestUnknownMessageTypeAnswersWithError(t *testing.T) {
	fx := newWSFixture(t)
	client, conn := newTestClient(viewerID)

	fx.handler.handleFrame(client, frame(t, "TELEPORT", nil))

	assert.Equal(t, []string{EventError}, conn.eventTypes(t))
}

func TestMessageTypeMatchingIsCaseInsensitive(t *testing.T) {
	fx := newWSFixture(t)
	client, conn := newTestClient(viewerID)

	fx.handler.handleFrame(client, frame(t, "  subscribe ", subscribePayload{RoomID: fx.session.ID}))

	types := conn.eventTypes(t)
	require.NotEmpty(t, types)
	assert.Equal(t, EventSubscribed, types[0])
}
