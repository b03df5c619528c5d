package session

import (
	"bytes"
	apiError "collab-session-server/internal/errors"
	"collab-session-server/internal/middleware"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CreateSession(ctx context.Context, contentID, creatorID uint64, title, description string) (*CollaborationSession, error) {
	args := m.Called(ctx, contentID, creatorID, title, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CollaborationSession), args.Error(1)
}

func (m *MockService) GetSession(ctx context.Context, sessionID uint64) (*CollaborationSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CollaborationSession), args.Error(1)
}

func (m *MockService) Join(ctx context.Context, sessionID, userID uint64) (*SessionParticipant, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SessionParticipant), args.Error(1)
}

func (m *MockService) JoinByCode(ctx context.Context, joinCode string, userID uint64) (*CollaborationSession, *SessionParticipant, error) {
	args := m.Called(ctx, joinCode, userID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*CollaborationSession), args.Get(1).(*SessionParticipant), args.Error(2)
}

func (m *MockService) Complete(ctx context.Context, sessionID, requesterID uint64) error {
	args := m.Called(ctx, sessionID, requesterID)
	return args.Error(0)
}

func (m *MockService) ChangeRole(ctx context.Context, sessionID, participantID uint64, newRole string, requesterID uint64) (*SessionParticipant, error) {
	args := m.Called(ctx, sessionID, participantID, newRole, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SessionParticipant), args.Error(1)
}

func (m *MockService) RemoveParticipant(ctx context.Context, sessionID, participantID, requesterID uint64) error {
	args := m.Called(ctx, sessionID, participantID, requesterID)
	return args.Error(0)
}

func (m *MockService) ListUserSessions(ctx context.Context, userID uint64, page, pageSize int) (*PaginatedSessions, error) {
	args := m.Called(ctx, userID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaginatedSessions), args.Error(1)
}

func (m *MockService) Snapshot(ctx context.Context, sessionID uint64) (*SessionInfo, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SessionInfo), args.Error(1)
}

func (m *MockService) SnapshotFor(ctx context.Context, sessionID, requesterID uint64) (*SessionInfo, error) {
	args := m.Called(ctx, sessionID, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SessionInfo), args.Error(1)
}

func (m *MockService) AppendAction(ctx context.Context, action *CollaborationAction) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

func (m *MockService) RecordAction(ctx context.Context, sessionID, userID uint64, actionType, description string, reference datatypes.JSON) (*CollaborationAction, error) {
	args := m.Called(ctx, sessionID, userID, actionType, description, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CollaborationAction), args.Error(1)
}

func (m *MockService) History(ctx context.Context, sessionID, requesterID uint64) ([]ActionDTO, error) {
	args := m.Called(ctx, sessionID, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ActionDTO), args.Error(1)
}

func (m *MockService) AddComment(ctx context.Context, sessionID, userID uint64, text string, position datatypes.JSON) (*Comment, error) {
	args := m.Called(ctx, sessionID, userID, text, position)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Comment), args.Error(1)
}

func (m *MockService) ResolveComment(ctx context.Context, sessionID, commentID, resolverID uint64) (bool, error) {
	args := m.Called(ctx, sessionID, commentID, resolverID)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) DeleteComment(ctx context.Context, commentID, requesterID uint64) error {
	args := m.Called(ctx, commentID, requesterID)
	return args.Error(0)
}

func (m *MockService) SetPresence(ctx context.Context, sessionID, userID uint64, present bool) error {
	args := m.Called(ctx, sessionID, userID, present)
	return args.Error(0)
}

func (m *MockService) UpdateCursor(ctx context.Context, sessionID, userID uint64, position datatypes.JSON) error {
	args := m.Called(ctx, sessionID, userID, position)
	return args.Error(0)
}

func (m *MockService) TouchActivity(ctx context.Context, sessionID, userID uint64) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

func setupRouter(mockService Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandler())

	// Inject the authenticated user the way the auth middleware does
	router.Use(func(c *gin.Context) {
		c.Set("user_id", uint64(1))
		c.Set("user_name", "alice")
	})

	handler := NewHandler(mockService)
	router.POST("/sessions", handler.Create)
	router.POST("/sessions/join", handler.JoinByCode)
	router.GET("/sessions/:id", handler.ShowSession)
	router.POST("/sessions/:id/complete", handler.Complete)
	router.GET("/sessions/:id/history", handler.ShowHistory)
	router.POST("/sessions/:id/record_action", handler.RecordAction)
	router.POST("/sessions/:id/comments", handler.AddComment)
	router.DELETE("/comments/:id", handler.DeleteComment)
	router.PUT("/sessions/:id/participants/:participantId/role", handler.ChangeRole)
	router.DELETE("/sessions/:id/participants/:participantId", handler.RemoveParticipant)

	return router
}

func performJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestHandlerCreate_Success(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("CreateSession", mock.Anything, uint64(3), uint64(1), "Review", "").
		Return(&CollaborationSession{ID: 7, JoinCode: "abc12345"}, nil)

	recorder := performJSON(router, http.MethodPost, "/sessions", gin.H{"content_id": 3, "title": "Review"})

	assert.Equal(t, http.StatusCreated, recorder.Code)

	var response map[string]any
	json.Unmarshal(recorder.Body.Bytes(), &response)
	assert.Equal(t, float64(7), response["session_id"])
	assert.Equal(t, "abc12345", response["join_code"])
}

func TestHandlerCreate_MissingContentID(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	recorder := performJSON(router, http.MethodPost, "/sessions", gin.H{"title": "Review"})

	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
	mockService.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandlerJoinByCode_Success(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("JoinByCode", mock.Anything, "abc12345", uint64(1)).
		Return(&CollaborationSession{ID: 7}, &SessionParticipant{ID: 3, Role: RoleViewer}, nil)

	recorder := performJSON(router, http.MethodPost, "/sessions/join", gin.H{"join_code": "abc12345"})

	assert.Equal(t, http.StatusOK, recorder.Code)

	var response map[string]any
	json.Unmarshal(recorder.Body.Bytes(), &response)
	assert.Equal(t, float64(7), response["session_id"])
	assert.Equal(t, RoleViewer, response["role"])
}

func TestHandlerJoinByCode_Full(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("JoinByCode", mock.Anything, "abc12345", uint64(1)).
		Return(nil, nil, apiError.Conflict("Session is full", nil))

	recorder := performJSON(router, http.MethodPost, "/sessions/join", gin.H{"join_code": "abc12345"})

	assert.Equal(t, http.StatusConflict, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "Session is full")
}

func TestHandlerShowSession_NotFound(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("SnapshotFor", mock.Anything, uint64(42), uint64(1)).
		Return(nil, apiError.NotFound("Session not found", nil))

	recorder := performJSON(router, http.MethodGet, "/sessions/42", nil)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHandlerComplete_Success(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("Complete", mock.Anything, uint64(7), uint64(1)).Return(nil)

	recorder := performJSON(router, http.MethodPost, "/sessions/7/complete", nil)

	assert.Equal(t, http.StatusOK, recorder.Code)
	mockService.AssertExpectations(t)
}

func TestHandlerShowHistory_Success(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("History", mock.Anything, uint64(7), uint64(1)).
		Return([]ActionDTO{{ID: 1, ActionType: ActionEdit, ContentAfter: "hello"}}, nil)

	recorder := performJSON(router, http.MethodGet, "/sessions/7/history", nil)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var response struct {
		Actions []ActionDTO `json:"actions"`
	}
	json.Unmarshal(recorder.Body.Bytes(), &response)
	assert.Len(t, response.Actions, 1)
	assert.Equal(t, "hello", response.Actions[0].ContentAfter)
}

func TestHandlerRecordAction_Success(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("RecordAction", mock.Anything, uint64(7), uint64(1), ActionApprove, "approved the draft", mock.Anything).
		Return(&CollaborationAction{ID: 13, SessionID: 7, UserID: 1, ActionType: ActionApprove}, nil)

	recorder := performJSON(router, http.MethodPost, "/sessions/7/record_action", gin.H{
		"action_type": ActionApprove,
		"description": "approved the draft",
	})

	assert.Equal(t, http.StatusCreated, recorder.Code)

	var response map[string]any
	json.Unmarshal(recorder.Body.Bytes(), &response)
	assert.Equal(t, float64(13), response["action_id"])
}

func TestHandlerRecordAction_MissingDescription(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	recorder := performJSON(router, http.MethodPost, "/sessions/7/record_action", gin.H{
		"action_type": ActionApprove,
	})

	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
	mockService.AssertNotCalled(t, "RecordAction",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandlerAddComment_Success(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("AddComment", mock.Anything, uint64(7), uint64(1), "typo in line 3", mock.Anything).
		Return(&Comment{ID: 11, SessionID: 7, UserID: 1, Text: "typo in line 3"}, nil)

	recorder := performJSON(router, http.MethodPost, "/sessions/7/comments", gin.H{"text": "typo in line 3"})

	assert.Equal(t, http.StatusCreated, recorder.Code)

	var response map[string]any
	json.Unmarshal(recorder.Body.Bytes(), &response)
	assert.Equal(t, float64(11), response["comment_id"])
}

func TestHandlerDeleteComment_Forbidden(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("DeleteComment", mock.Anything, uint64(11), uint64(1)).
		Return(apiError.Forbidden("You do not have permission to delete this comment", nil))

	recorder := performJSON(router, http.MethodDelete, "/comments/11", nil)

	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestHandlerChangeRole_Success(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("ChangeRole", mock.Anything, uint64(7), uint64(4), RoleEditor, uint64(1)).
		Return(&SessionParticipant{ID: 4, Role: RoleEditor}, nil)

	recorder := performJSON(router, http.MethodPut, "/sessions/7/participants/4/role", gin.H{"role": RoleEditor})

	assert.Equal(t, http.StatusOK, recorder.Code)

	var response map[string]any
	json.Unmarshal(recorder.Body.Bytes(), &response)
	assert.Equal(t, RoleEditor, response["role"])
}

func TestHandlerRemoveParticipant_Creator(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("RemoveParticipant", mock.Anything, uint64(7), uint64(9), uint64(1)).
		Return(apiError.UnprocessableEntity("Cannot remove the session creator", nil))

	recorder := performJSON(router, http.MethodDelete, "/sessions/7/participants/9", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "Cannot remove the session creator")
}

func TestHandlerRemoveParticipant_Success(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(mockService)

	mockService.On("RemoveParticipant", mock.Anything, uint64(7), uint64(4), uint64(1)).Return(nil)

	recorder := performJSON(router, http.MethodDelete, "/sessions/7/participants/4", nil)

	assert.Equal(t, http.StatusNoContent, recorder.Code)
}
