package ws

import (
	"collab-session-server/internal/session"
	"collab-session-server/internal/worker"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) GetSession(ctx context.Context, sessionID uint64) (*session.CollaborationSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.CollaborationSession), args.Error(1)
}

func (m *MockSessionService) Join(ctx context.Context, sessionID, userID uint64) (*session.SessionParticipant, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.SessionParticipant), args.Error(1)
}

func (m *MockSessionService) Snapshot(ctx context.Context, sessionID uint64) (*session.SessionInfo, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.SessionInfo), args.Error(1)
}

func (m *MockSessionService) AppendAction(ctx context.Context, action *session.CollaborationAction) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

func (m *MockSessionService) AddComment(ctx context.Context, sessionID, userID uint64, text string, position datatypes.JSON) (*session.Comment, error) {
	args := m.Called(ctx, sessionID, userID, text, position)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Comment), args.Error(1)
}

func (m *MockSessionService) ResolveComment(ctx context.Context, sessionID, commentID, resolverID uint64) (bool, error) {
	args := m.Called(ctx, sessionID, commentID, resolverID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSessionService) SetPresence(ctx context.Context, sessionID, userID uint64, present bool) error {
	args := m.Called(ctx, sessionID, userID, present)
	return args.Error(0)
}

func (m *MockSessionService) UpdateCursor(ctx context.Context, sessionID, userID uint64, position datatypes.JSON) error {
	args := m.Called(ctx, sessionID, userID, position)
	return args.Error(0)
}

func (m *MockSessionService) TouchActivity(ctx context.Context, sessionID, userID uint64) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

type MockContentService struct {
	mock.Mock
}

func (m *MockContentService) SaveSnapshot(ctx context.Context, contentID uint64, body string, userID uint64) (uint64, error) {
	args := m.Called(ctx, contentID, body, userID)
	return args.Get(0).(uint64), args.Error(1)
}

// testRoom wires a handler with mocked services, no worker pool, and two
// connected fake clients in the same room.
func testRoom(t *testing.T) (*MockSessionService, *MockContentService, *Client, *Client) {
	t.Helper()

	sessions := new(MockSessionService)
	contents := new(MockContentService)

	h := &Handler{
		registry: NewRegistry(),
		sessions: sessions,
		contents: contents,
	}

	alice := newClient(h, nil, 1, 5, 10, "alice")
	bob := newClient(h, nil, 1, 5, 20, "bob")
	h.registry.Subscribe(1, alice)
	h.registry.Subscribe(1, bob)

	return sessions, contents, alice, bob
}

func nextEvent(t *testing.T, c *Client) map[string]any {
	t.Helper()

	select {
	case payload := <-c.send:
		var event map[string]any
		assert.NoError(t, json.Unmarshal(payload, &event))
		return event
	default:
		t.Fatal("expected an event but the send queue is empty")
		return nil
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	assert.Empty(t, c.send)
}

func TestDispatch_ContentUpdateBroadcastsToEveryone(t *testing.T) {
	sessions, _, alice, bob := testRoom(t)

	sessions.On("AppendAction", mock.Anything, mock.MatchedBy(func(a *session.CollaborationAction) bool {
		return a.SessionID == 1 && a.UserID == 10 && a.ActionType == session.ActionEdit &&
			a.ContentAfter == "hello world"
	})).Return(nil).Run(func(args mock.Arguments) {
		args.Get(1).(*session.CollaborationAction).ID = 42
	})

	alice.dispatch([]byte(`{
		"type": "update_content",
		"content": {"position_start": 0, "position_end": 5, "content_before": "hello", "content_after": "hello world"}
	}`))

	// Sender gets the broadcast too, carrying the persisted action id
	got := nextEvent(t, alice)
	assert.Equal(t, EventContentUpdate, got["type"])
	assert.Equal(t, float64(42), got["action_id"])
	assert.Equal(t, "alice", got["username"])

	got = nextEvent(t, bob)
	assert.Equal(t, EventContentUpdate, got["type"])
	sessions.AssertExpectations(t)
}

func TestDispatch_ContentUpdatePersistFailureStaysWithSender(t *testing.T) {
	sessions, _, alice, bob := testRoom(t)

	sessions.On("AppendAction", mock.Anything, mock.Anything).Return(assert.AnError)

	alice.dispatch([]byte(`{"type": "update_content", "content": {"content_after": "x"}}`))

	got := nextEvent(t, alice)
	assert.Equal(t, EventError, got["type"])
	assert.Equal(t, "Could not save your edit", got["message"])
	assertNoEvent(t, bob)
}

func TestDispatch_CursorPositionExcludesSender(t *testing.T) {
	sessions, _, alice, bob := testRoom(t)

	sessions.On("UpdateCursor", mock.Anything, uint64(1), uint64(10), mock.Anything).Return(nil)

	alice.dispatch([]byte(`{"type": "cursor_position", "position": {"line": 3, "column": 14}}`))

	assertNoEvent(t, alice)

	got := nextEvent(t, bob)
	assert.Equal(t, EventCursorPosition, got["type"])
	assert.Equal(t, "alice", got["username"])
	assert.Equal(t, float64(3), got["position"].(map[string]any)["line"])
}

func TestDispatch_OrderPreservedPerSender(t *testing.T) {
	sessions, _, alice, bob := testRoom(t)

	sessions.On("AppendAction", mock.Anything, mock.Anything).Return(nil)
	sessions.On("UpdateCursor", mock.Anything, uint64(1), uint64(10), mock.Anything).Return(nil)

	alice.dispatch([]byte(`{"type": "update_content", "content": {"content_after": "first"}}`))
	alice.dispatch([]byte(`{"type": "cursor_position", "position": {"line": 1}}`))

	// Bob observes the edit before the cursor move that followed it
	assert.Equal(t, EventContentUpdate, nextEvent(t, bob)["type"])
	assert.Equal(t, EventCursorPosition, nextEvent(t, bob)["type"])
}

func TestDispatch_AddCommentBroadcastsToEveryone(t *testing.T) {
	sessions, _, alice, bob := testRoom(t)

	sessions.On("AddComment", mock.Anything, uint64(1), uint64(10), "needs a source", mock.Anything).
		Return(&session.Comment{ID: 7, SessionID: 1, UserID: 10, Text: "needs a source"}, nil)

	alice.dispatch([]byte(`{"type": "add_comment", "text": "needs a source"}`))

	got := nextEvent(t, bob)
	assert.Equal(t, EventNewComment, got["type"])
	assert.Equal(t, float64(7), got["comment_id"])

	got = nextEvent(t, alice)
	assert.Equal(t, EventNewComment, got["type"])
}

func TestDispatch_ResolveCommentBroadcastsOnce(t *testing.T) {
	sessions, _, alice, bob := testRoom(t)

	sessions.On("ResolveComment", mock.Anything, uint64(1), uint64(7), uint64(10)).Return(true, nil).Once()
	sessions.On("ResolveComment", mock.Anything, uint64(1), uint64(7), uint64(10)).Return(false, nil)

	alice.dispatch([]byte(`{"type": "resolve_comment", "comment_id": 7}`))
	alice.dispatch([]byte(`{"type": "resolve_comment", "comment_id": 7}`))

	got := nextEvent(t, bob)
	assert.Equal(t, EventCommentResolved, got["type"])
	assert.Equal(t, "alice", got["resolved_by"])

	// Second resolve changed nothing, so nothing was broadcast
	assertNoEvent(t, bob)
	assertNoEvent(t, alice)
}

func TestDispatch_PresencePingTouchesActivity(t *testing.T) {
	sessions := new(MockSessionService)
	pool := worker.NewWorkerPool(1)

	h := &Handler{
		registry: NewRegistry(),
		sessions: sessions,
		pool:     pool,
	}
	alice := newClient(h, nil, 1, 5, 10, "alice")
	h.registry.Subscribe(1, alice)

	sessions.On("TouchActivity", mock.Anything, uint64(1), uint64(10)).Return(nil)

	alice.dispatch([]byte(`{"type": "presence_ping"}`))

	// Shutdown drains the queue, so the task has run by the time it returns
	pool.Shutdown()

	sessions.AssertExpectations(t)
	assertNoEvent(t, alice)
}

func TestDispatch_SaveVersionBroadcastsNumber(t *testing.T) {
	_, contents, alice, bob := testRoom(t)

	contents.On("SaveSnapshot", mock.Anything, uint64(5), "# Final draft", uint64(10)).Return(uint64(3), nil)

	alice.dispatch([]byte(`{"type": "save_version", "body": "# Final draft"}`))

	got := nextEvent(t, bob)
	assert.Equal(t, EventVersionSaved, got["type"])
	assert.Equal(t, float64(3), got["version"])
}

func TestDispatch_SaveVersionFailureStaysWithSender(t *testing.T) {
	_, contents, alice, bob := testRoom(t)

	contents.On("SaveSnapshot", mock.Anything, uint64(5), "x", uint64(10)).Return(uint64(0), assert.AnError)

	alice.dispatch([]byte(`{"type": "save_version", "body": "x"}`))

	got := nextEvent(t, alice)
	assert.Equal(t, EventError, got["type"])
	assertNoEvent(t, bob)
}

func TestDispatch_IgnoresMalformedAndUnknown(t *testing.T) {
	_, _, alice, bob := testRoom(t)

	alice.dispatch([]byte(`not json at all`))
	alice.dispatch([]byte(`{"type": "reboot_server"}`))

	assertNoEvent(t, alice)
	assertNoEvent(t, bob)
}
