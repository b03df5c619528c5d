package session

import (
	"collab-session-server/internal/config"
	"collab-session-server/internal/content"
	"collab-session-server/internal/errors"
	"collab-session-server/redis"
	"context"
	"encoding/json"
	defError "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// joinCodeAttempts bounds the collision-check loop when generating codes.
const joinCodeAttempts = 5

type ContentProvider interface {
	GetContent(ctx context.Context, id uint64) (*content.Content, error)
}

type Service interface {
	CreateSession(ctx context.Context, contentID, creatorID uint64, title, description string) (*CollaborationSession, error)
	GetSession(ctx context.Context, sessionID uint64) (*CollaborationSession, error)
	Join(ctx context.Context, sessionID, userID uint64) (*SessionParticipant, error)
	JoinByCode(ctx context.Context, joinCode string, userID uint64) (*CollaborationSession, *SessionParticipant, error)
	Complete(ctx context.Context, sessionID, requesterID uint64) error
	ChangeRole(ctx context.Context, sessionID, participantID uint64, newRole string, requesterID uint64) (*SessionParticipant, error)
	RemoveParticipant(ctx context.Context, sessionID, participantID, requesterID uint64) error
	ListUserSessions(ctx context.Context, userID uint64, page, pageSize int) (*PaginatedSessions, error)
	Snapshot(ctx context.Context, sessionID uint64) (*SessionInfo, error)
	SnapshotFor(ctx context.Context, sessionID, requesterID uint64) (*SessionInfo, error)

	AppendAction(ctx context.Context, action *CollaborationAction) error
	RecordAction(ctx context.Context, sessionID, userID uint64, actionType, description string, reference datatypes.JSON) (*CollaborationAction, error)
	History(ctx context.Context, sessionID, requesterID uint64) ([]ActionDTO, error)

	AddComment(ctx context.Context, sessionID, userID uint64, text string, position datatypes.JSON) (*Comment, error)
	ResolveComment(ctx context.Context, sessionID, commentID, resolverID uint64) (bool, error)
	DeleteComment(ctx context.Context, commentID, requesterID uint64) error

	SetPresence(ctx context.Context, sessionID, userID uint64, present bool) error
	UpdateCursor(ctx context.Context, sessionID, userID uint64, position datatypes.JSON) error
	TouchActivity(ctx context.Context, sessionID, userID uint64) error
}

type DefaultService struct {
	repository      SessionRepository
	contentProvider ContentProvider
	cache           *redis.Cache
}

func NewService(repository SessionRepository, contentProvider ContentProvider, cache *redis.Cache) Service {
	return &DefaultService{
		repository:      repository,
		contentProvider: contentProvider,
		cache:           cache,
	}
}

// CreateSession starts a new ACTIVE session on a content record. The creator
// becomes the LEADER participant in the same transaction.
func (s *DefaultService) CreateSession(ctx context.Context, contentID, creatorID uint64, title, description string) (*CollaborationSession, error) {
	c, err := s.contentProvider.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
	}

	if title == "" {
		title = fmt.Sprintf("Collaboration on %s", c.Title)
	}

	maxParticipants := config.AppConfig.SessionMaxParticipants
	if maxParticipants < 1 {
		maxParticipants = 10
	}

	// The exists check in generateJoinCode narrows collisions but cannot
	// exclude a concurrent create picking the same code; the unique index
	// on join_code is the real guard, so retry with a fresh code when the
	// insert loses that race.
	for range joinCodeAttempts {
		joinCode, err := s.generateJoinCode(ctx)
		if err != nil {
			return nil, err
		}

		session := &CollaborationSession{
			ContentID:       contentID,
			CreatedByID:     creatorID,
			Title:           title,
			Description:     description,
			Status:          StatusActive,
			MaxParticipants: maxParticipants,
			JoinCode:        joinCode,
		}

		err = s.repository.CreateSession(ctx, session)
		if err == nil {
			s.bumpSessionListVersion(ctx, creatorID)
			return session, nil
		}
		if !defError.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
	}

	return nil, errors.Internal(defError.New("could not generate unique join code"))
}

func (s *DefaultService) GetSession(ctx context.Context, sessionID uint64) (*CollaborationSession, error) {
	session, err := s.repository.FindByID(ctx, sessionID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Session not found", err)
		}
		return nil, err
	}
	return session, nil
}

// generateJoinCode produces a short unique join token, collision-checked
// against existing sessions.
func (s *DefaultService) generateJoinCode(ctx context.Context) (string, error) {
	for range joinCodeAttempts {
		code := uuid.NewString()[:8]
		exists, err := s.repository.JoinCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.Internal(defError.New("could not generate unique join code"))
}

// Join is idempotent: an existing participant row is returned untouched.
func (s *DefaultService) Join(ctx context.Context, sessionID, userID uint64) (*SessionParticipant, error) {
	participant, err := s.repository.Join(ctx, sessionID, userID)
	if err != nil {
		switch {
		case defError.Is(err, gorm.ErrRecordNotFound):
			return nil, errors.NotFound("Session not found", err)
		case defError.Is(err, ErrSessionNotActive):
			return nil, errors.Conflict("Session is not active", err)
		case defError.Is(err, ErrSessionFull):
			return nil, errors.Conflict("Session is full", err)
		}
		return nil, err
	}

	s.bumpSessionListVersion(ctx, userID)

	return participant, nil
}

func (s *DefaultService) JoinByCode(ctx context.Context, joinCode string, userID uint64) (*CollaborationSession, *SessionParticipant, error) {
	session, err := s.repository.FindByJoinCode(ctx, joinCode)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, errors.NotFound("Invalid join code", err)
		}
		return nil, nil, err
	}

	participant, err := s.Join(ctx, session.ID, userID)
	if err != nil {
		return nil, nil, err
	}

	return session, participant, nil
}

// Complete marks the session COMPLETED. Completing twice is a no-op.
func (s *DefaultService) Complete(ctx context.Context, sessionID, requesterID uint64) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Status == StatusCompleted {
		return nil
	}

	if err := s.authorizeLeader(ctx, session, requesterID, "You do not have permission to end this session"); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.repository.UpdateStatus(ctx, sessionID, StatusCompleted, &now); err != nil {
		return err
	}

	s.appendMetaAction(ctx, sessionID, requesterID, "session completed")
	s.bumpSessionListVersion(ctx, requesterID)

	return nil
}

// authorizeLeader allows the session creator or any LEADER participant.
func (s *DefaultService) authorizeLeader(ctx context.Context, session *CollaborationSession, requesterID uint64, message string) error {
	if session.CreatedByID == requesterID {
		return nil
	}

	requester, err := s.repository.FindParticipant(ctx, session.ID, requesterID)
	if err != nil || requester.Role != RoleLeader {
		return errors.Forbidden(message, err)
	}
	return nil
}

func (s *DefaultService) ChangeRole(ctx context.Context, sessionID, participantID uint64, newRole string, requesterID uint64) (*SessionParticipant, error) {
	if !ValidRole(newRole) {
		return nil, errors.UnprocessableEntity("Invalid role", nil)
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.authorizeLeader(ctx, session, requesterID, "You do not have permission to change roles"); err != nil {
		return nil, err
	}

	participant, err := s.repository.FindParticipantByID(ctx, participantID)
	if err != nil || participant.SessionID != sessionID {
		return nil, errors.NotFound("Participant not found", err)
	}

	if err := s.repository.UpdateParticipantRole(ctx, participantID, newRole); err != nil {
		return nil, err
	}
	participant.Role = newRole

	s.appendMetaAction(ctx, sessionID, requesterID,
		fmt.Sprintf("changed role of participant %d to %s", participantID, newRole))

	return participant, nil
}

func (s *DefaultService) RemoveParticipant(ctx context.Context, sessionID, participantID, requesterID uint64) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := s.authorizeLeader(ctx, session, requesterID, "You do not have permission to remove participants"); err != nil {
		return err
	}

	participant, err := s.repository.FindParticipantByID(ctx, participantID)
	if err != nil || participant.SessionID != sessionID {
		return errors.NotFound("Participant not found", err)
	}

	// The creator is never removable, regardless of requester role
	if participant.UserID == session.CreatedByID {
		return errors.UnprocessableEntity("Cannot remove the session creator", nil)
	}

	if err := s.repository.DeleteParticipant(ctx, participantID); err != nil {
		return err
	}

	s.appendMetaAction(ctx, sessionID, requesterID,
		fmt.Sprintf("removed participant %d from the session", participantID))

	return nil
}

type SessionShowResponse struct {
	ID          uint64     `json:"id"`
	ContentID   uint64     `json:"content_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	JoinCode    string     `json:"join_code"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type PaginatedSessions struct {
	Data []SessionShowResponse `json:"data"`
	Meta SessionsMeta          `json:"meta"`
}

func (s *DefaultService) ListUserSessions(ctx context.Context, userID uint64, page, pageSize int) (*PaginatedSessions, error) {
	// Versioned cache key: bumping the version invalidates every page at once
	versionKey := fmt.Sprintf("user:%d:sessions:version", userID)
	v := s.cache.GetVersion(ctx, versionKey)

	cacheKey := fmt.Sprintf("sessions:u:%d:v:%d:p:%d:ps:%d", userID, v, page, pageSize)

	var result PaginatedSessions
	found, _ := s.cache.Get(ctx, cacheKey, &result)
	if found {
		return &result, nil
	}

	sessions, meta, err := s.repository.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, err
	}

	data := make([]SessionShowResponse, 0, len(sessions))
	for _, sess := range sessions {
		data = append(data, SessionShowResponse{
			ID:          sess.ID,
			ContentID:   sess.ContentID,
			Title:       sess.Title,
			Status:      sess.Status,
			JoinCode:    sess.JoinCode,
			CreatedAt:   sess.CreatedAt,
			UpdatedAt:   sess.UpdatedAt,
			CompletedAt: sess.CompletedAt,
		})
	}
	result = PaginatedSessions{Data: data, Meta: meta}
	go s.cache.Set(context.Background(), cacheKey, result, 24*time.Hour)

	return &result, nil
}

func (s *DefaultService) bumpSessionListVersion(ctx context.Context, userID uint64) {
	versionKey := fmt.Sprintf("user:%d:sessions:version", userID)
	s.cache.IncrementVersion(ctx, versionKey)
}

// SessionInfo is the full snapshot sent to a connection right after it joins.
type SessionInfo struct {
	SessionID    uint64           `json:"session_id"`
	ContentID    uint64           `json:"content_id"`
	ContentTitle string           `json:"content_title"`
	ContentBody  string           `json:"content_body"`
	Participants []ParticipantRow `json:"participants"`
	Comments     []CommentRow     `json:"comments"`
	CreatedBy    string           `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
	Status       string           `json:"status"`
}

func (s *DefaultService) Snapshot(ctx context.Context, sessionID uint64) (*SessionInfo, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	c, err := s.contentProvider.GetContent(ctx, session.ContentID)
	if err != nil {
		return nil, err
	}

	participants, err := s.repository.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	comments, err := s.repository.ListComments(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// The creator is never removable, so it is always in the participant list
	var createdBy string
	for _, p := range participants {
		if p.UserID == session.CreatedByID {
			createdBy = p.Username
			break
		}
	}

	return &SessionInfo{
		SessionID:    session.ID,
		ContentID:    c.ID,
		ContentTitle: c.Title,
		ContentBody:  c.Body,
		Participants: participants,
		Comments:     comments,
		CreatedBy:    createdBy,
		CreatedAt:    session.CreatedAt,
		Status:       session.Status,
	}, nil
}

// SnapshotFor is the HTTP view of a session. Participants always pass;
// non-participants may view public sessions without joining, and are
// auto-joined into private ones when the session is active and has room.
func (s *DefaultService) SnapshotFor(ctx context.Context, sessionID, requesterID uint64) (*SessionInfo, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.repository.FindParticipant(ctx, sessionID, requesterID); err != nil {
		if !defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if !session.IsPublic {
			if _, err := s.Join(ctx, sessionID, requesterID); err != nil {
				return nil, err
			}
		}
	}

	return s.Snapshot(ctx, sessionID)
}

func (s *DefaultService) AppendAction(ctx context.Context, action *CollaborationAction) error {
	return s.repository.CreateAction(ctx, action)
}

// RecordAction appends a meta-action (APPROVE, SUGGEST, FORMAT, ...) declared
// over HTTP rather than derived from a live edit. Participants only.
func (s *DefaultService) RecordAction(ctx context.Context, sessionID, userID uint64, actionType, description string, reference datatypes.JSON) (*CollaborationAction, error) {
	if !ValidActionType(actionType) {
		return nil, errors.UnprocessableEntity("Invalid action type", nil)
	}

	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	if _, err := s.repository.FindParticipant(ctx, sessionID, userID); err != nil {
		return nil, errors.Forbidden("You are not a participant in this session", err)
	}

	if len(reference) == 0 {
		reference = datatypes.JSON([]byte("null"))
	}
	payload, err := json.Marshal(map[string]any{
		"description":       description,
		"content_reference": reference,
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	action := &CollaborationAction{
		SessionID:  sessionID,
		UserID:     userID,
		ActionType: actionType,
		ActionData: payload,
	}
	if err := s.repository.CreateAction(ctx, action); err != nil {
		return nil, err
	}

	return action, nil
}

// appendMetaAction records a meta event in the audit log, best effort.
func (s *DefaultService) appendMetaAction(ctx context.Context, sessionID, userID uint64, description string) {
	payload := datatypes.JSON([]byte(fmt.Sprintf(`{"description":%q}`, description)))
	_ = s.repository.CreateAction(ctx, &CollaborationAction{
		SessionID:  sessionID,
		UserID:     userID,
		ActionType: ActionOther,
		ActionData: payload,
	})
}

type ActionDTO struct {
	ID            uint64         `json:"id"`
	UserID        uint64         `json:"user_id"`
	ActionType    string         `json:"action_type"`
	ContentBefore string         `json:"content_before"`
	ContentAfter  string         `json:"content_after"`
	PositionStart int            `json:"position_start"`
	PositionEnd   int            `json:"position_end"`
	ActionData    datatypes.JSON `json:"action_data"`
	Timestamp     time.Time      `json:"timestamp"`
}

// History returns the ordered action log. Only participants may read it.
func (s *DefaultService) History(ctx context.Context, sessionID, requesterID uint64) ([]ActionDTO, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	if _, err := s.repository.FindParticipant(ctx, sessionID, requesterID); err != nil {
		return nil, errors.Forbidden("You are not a participant in this session", err)
	}

	actions, err := s.repository.ListActions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := make([]ActionDTO, 0, len(actions))
	for _, a := range actions {
		result = append(result, ActionDTO{
			ID:            a.ID,
			UserID:        a.UserID,
			ActionType:    a.ActionType,
			ContentBefore: a.ContentBefore,
			ContentAfter:  a.ContentAfter,
			PositionStart: a.PositionStart,
			PositionEnd:   a.PositionEnd,
			ActionData:    a.ActionData,
			Timestamp:     a.Timestamp,
		})
	}
	return result, nil
}

func (s *DefaultService) AddComment(ctx context.Context, sessionID, userID uint64, text string, position datatypes.JSON) (*Comment, error) {
	if text == "" {
		return nil, errors.UnprocessableEntity("Comment text is required", nil)
	}

	if _, err := s.repository.FindParticipant(ctx, sessionID, userID); err != nil {
		return nil, errors.Forbidden("You are not a participant in this session", err)
	}

	if len(position) == 0 {
		position = datatypes.JSON([]byte("{}"))
	}

	comment := &Comment{
		SessionID: sessionID,
		UserID:    userID,
		Text:      text,
		Position:  position,
	}
	if err := s.repository.CreateComment(ctx, comment); err != nil {
		return nil, err
	}

	return comment, nil
}

// ResolveComment resolves at most once. Not-found and already-resolved are
// both soft no-ops: changed=false, no error.
func (s *DefaultService) ResolveComment(ctx context.Context, sessionID, commentID, resolverID uint64) (bool, error) {
	changed, err := s.repository.ResolveComment(ctx, sessionID, commentID, resolverID)
	if err != nil {
		return false, err
	}
	return changed, nil
}

// DeleteComment is allowed for the author, the session creator, or a LEADER.
func (s *DefaultService) DeleteComment(ctx context.Context, commentID, requesterID uint64) error {
	comment, err := s.repository.FindCommentByID(ctx, commentID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("Comment not found", err)
		}
		return err
	}

	if comment.UserID != requesterID {
		session, err := s.GetSession(ctx, comment.SessionID)
		if err != nil {
			return err
		}
		if err := s.authorizeLeader(ctx, session, requesterID, "You do not have permission to delete this comment"); err != nil {
			return err
		}
	}

	return s.repository.DeleteComment(ctx, commentID)
}

func (s *DefaultService) SetPresence(ctx context.Context, sessionID, userID uint64, present bool) error {
	return s.repository.SetPresence(ctx, sessionID, userID, present)
}

func (s *DefaultService) UpdateCursor(ctx context.Context, sessionID, userID uint64, position datatypes.JSON) error {
	if len(position) == 0 {
		position = datatypes.JSON([]byte("{}"))
	}
	return s.repository.UpdateCursor(ctx, sessionID, userID, position)
}

func (s *DefaultService) TouchActivity(ctx context.Context, sessionID, userID uint64) error {
	return s.repository.TouchActivity(ctx, sessionID, userID)
}
