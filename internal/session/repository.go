package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors surfaced by transactional checks. The service maps them
// onto the API error taxonomy.
var (
	ErrSessionNotActive = errors.New("session is not active")
	ErrSessionFull      = errors.New("session is at max participants")
)

type SessionRepository interface {
	CreateSession(ctx context.Context, session *CollaborationSession) error
	FindByID(ctx context.Context, id uint64) (*CollaborationSession, error)
	FindByJoinCode(ctx context.Context, joinCode string) (*CollaborationSession, error)
	JoinCodeExists(ctx context.Context, joinCode string) (bool, error)
	UpdateStatus(ctx context.Context, id uint64, status string, completedAt *time.Time) error
	ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]CollaborationSession, SessionsMeta, error)

	Join(ctx context.Context, sessionID, userID uint64) (*SessionParticipant, error)
	FindParticipant(ctx context.Context, sessionID, userID uint64) (*SessionParticipant, error)
	FindParticipantByID(ctx context.Context, id uint64) (*SessionParticipant, error)
	ListParticipants(ctx context.Context, sessionID uint64) ([]ParticipantRow, error)
	CountParticipants(ctx context.Context, sessionID uint64) (int64, error)
	UpdateParticipantRole(ctx context.Context, id uint64, role string) error
	DeleteParticipant(ctx context.Context, id uint64) error

	SetPresence(ctx context.Context, sessionID, userID uint64, present bool) error
	UpdateCursor(ctx context.Context, sessionID, userID uint64, position datatypes.JSON) error
	TouchActivity(ctx context.Context, sessionID, userID uint64) error

	CreateAction(ctx context.Context, action *CollaborationAction) error
	ListActions(ctx context.Context, sessionID uint64) ([]CollaborationAction, error)

	CreateComment(ctx context.Context, comment *Comment) error
	FindComment(ctx context.Context, sessionID, commentID uint64) (*Comment, error)
	FindCommentByID(ctx context.Context, commentID uint64) (*Comment, error)
	ResolveComment(ctx context.Context, sessionID, commentID, resolverID uint64) (bool, error)
	ListComments(ctx context.Context, sessionID uint64) ([]CommentRow, error)
	DeleteComment(ctx context.Context, commentID uint64) error
}

type SessionRepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new session repository
func NewRepository(db *gorm.DB) SessionRepository {
	return &SessionRepositoryImpl{db: db}
}

// CreateSession creates the session together with the creator's LEADER row.
func (r *SessionRepositoryImpl) CreateSession(ctx context.Context, session *CollaborationSession) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		session.CreatedAt = now
		session.UpdatedAt = now

		if err := tx.Create(session).Error; err != nil {
			return err
		}

		return tx.Create(&SessionParticipant{
			SessionID:      session.ID,
			UserID:         session.CreatedByID,
			Role:           RoleLeader,
			JoinedAt:       now,
			LastActive:     now,
			IsPresent:      false,
			CursorPosition: datatypes.JSON([]byte("{}")),
		}).Error
	})
}

func (r *SessionRepositoryImpl) FindByID(ctx context.Context, id uint64) (*CollaborationSession, error) {
	var session CollaborationSession
	err := r.db.WithContext(ctx).First(&session, id).Error
	return &session, err
}

func (r *SessionRepositoryImpl) FindByJoinCode(ctx context.Context, joinCode string) (*CollaborationSession, error) {
	var session CollaborationSession
	err := r.db.WithContext(ctx).Where("join_code = ?", joinCode).First(&session).Error
	return &session, err
}

func (r *SessionRepositoryImpl) JoinCodeExists(ctx context.Context, joinCode string) (bool, error) {
	var exists bool
	err := r.db.WithContext(ctx).Model(&CollaborationSession{}).
		Select("count(1) > 0").
		Where("join_code = ?", joinCode).
		Find(&exists).Error
	return exists, err
}

func (r *SessionRepositoryImpl) UpdateStatus(ctx context.Context, id uint64, status string, completedAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&CollaborationSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"completed_at": completedAt,
			"updated_at":   time.Now().UTC(),
		}).Error
}

type SessionsMeta struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalPage   int   `json:"total_page"`
}

func (r *SessionRepositoryImpl) ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]CollaborationSession, SessionsMeta, error) {
	var sessions []CollaborationSession
	var totalRecords int64

	base := r.db.WithContext(ctx).Model(&CollaborationSession{}).
		Joins("JOIN session_participants sp ON sp.session_id = collaboration_sessions.id").
		Where("sp.user_id = ?", userID)

	if err := base.Count(&totalRecords).Error; err != nil {
		return sessions, SessionsMeta{}, err
	}

	offset := (page - 1) * pageSize
	err := base.
		Order("collaboration_sessions.updated_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&sessions).Error

	totalPages := int((totalRecords + int64(pageSize) - 1) / int64(pageSize))

	return sessions, SessionsMeta{
		Total:       totalRecords,
		PerPage:     pageSize,
		TotalPage:   totalPages,
		CurrentPage: page,
	}, err
}

// Join returns the existing participant row or creates a VIEWER one. The
// session row is locked for the duration of the transaction so the capacity
// check and the insert can't interleave with a concurrent join.
func (r *SessionRepositoryImpl) Join(ctx context.Context, sessionID, userID uint64) (*SessionParticipant, error) {
	var participant SessionParticipant

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session CollaborationSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&session, sessionID).Error; err != nil {
			return err
		}

		if !session.IsActive() {
			return ErrSessionNotActive
		}

		// Idempotent re-join: existing row wins, role untouched
		err := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).
			First(&participant).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var count int64
		if err := tx.Model(&SessionParticipant{}).
			Where("session_id = ?", sessionID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(session.MaxParticipants) {
			return ErrSessionFull
		}

		now := time.Now().UTC()
		participant = SessionParticipant{
			SessionID:      sessionID,
			UserID:         userID,
			Role:           RoleViewer,
			JoinedAt:       now,
			LastActive:     now,
			IsPresent:      false,
			CursorPosition: datatypes.JSON([]byte("{}")),
		}
		return tx.Create(&participant).Error
	})
	if err != nil {
		return nil, err
	}

	return &participant, nil
}

func (r *SessionRepositoryImpl) FindParticipant(ctx context.Context, sessionID, userID uint64) (*SessionParticipant, error) {
	var participant SessionParticipant
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&participant).Error
	return &participant, err
}

func (r *SessionRepositoryImpl) FindParticipantByID(ctx context.Context, id uint64) (*SessionParticipant, error) {
	var participant SessionParticipant
	err := r.db.WithContext(ctx).First(&participant, id).Error
	return &participant, err
}

// ParticipantRow is a participant joined with the user's display name.
type ParticipantRow struct {
	ParticipantID  uint64         `json:"participant_id"`
	UserID         uint64         `json:"id"`
	Username       string         `json:"username"`
	Role           string         `json:"role"`
	IsPresent      bool           `json:"is_present"`
	LastActive     time.Time      `json:"last_active"`
	CursorPosition datatypes.JSON `json:"cursor_position"`
}

func (r *SessionRepositoryImpl) ListParticipants(ctx context.Context, sessionID uint64) ([]ParticipantRow, error) {
	var rows []ParticipantRow
	err := r.db.WithContext(ctx).Model(&SessionParticipant{}).
		Select(`session_participants.id AS participant_id,
			session_participants.user_id,
			users.name AS username,
			session_participants.role,
			session_participants.is_present,
			session_participants.last_active,
			session_participants.cursor_position`).
		Joins("JOIN users ON users.id = session_participants.user_id").
		Where("session_participants.session_id = ?", sessionID).
		Order("session_participants.joined_at ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *SessionRepositoryImpl) CountParticipants(ctx context.Context, sessionID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&SessionParticipant{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}

func (r *SessionRepositoryImpl) UpdateParticipantRole(ctx context.Context, id uint64, role string) error {
	return r.db.WithContext(ctx).Model(&SessionParticipant{}).
		Where("id = ?", id).
		Update("role", role).Error
}

func (r *SessionRepositoryImpl) DeleteParticipant(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&SessionParticipant{}, id).Error
}

// Presence/cursor/activity updates write disjoint field groups on the single
// participant row, last-write-wins.

func (r *SessionRepositoryImpl) SetPresence(ctx context.Context, sessionID, userID uint64, present bool) error {
	return r.db.WithContext(ctx).Model(&SessionParticipant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]any{
			"is_present":  present,
			"last_active": time.Now().UTC(),
		}).Error
}

func (r *SessionRepositoryImpl) UpdateCursor(ctx context.Context, sessionID, userID uint64, position datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&SessionParticipant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]any{
			"cursor_position": position,
			"last_active":     time.Now().UTC(),
		}).Error
}

func (r *SessionRepositoryImpl) TouchActivity(ctx context.Context, sessionID, userID uint64) error {
	return r.db.WithContext(ctx).Model(&SessionParticipant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Update("last_active", time.Now().UTC()).Error
}

func (r *SessionRepositoryImpl) CreateAction(ctx context.Context, action *CollaborationAction) error {
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(action).Error
}

func (r *SessionRepositoryImpl) ListActions(ctx context.Context, sessionID uint64) ([]CollaborationAction, error) {
	var actions []CollaborationAction
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC, id ASC").
		Find(&actions).Error
	return actions, err
}

func (r *SessionRepositoryImpl) CreateComment(ctx context.Context, comment *Comment) error {
	now := time.Now().UTC()
	comment.CreatedAt = now
	comment.UpdatedAt = now
	return r.db.WithContext(ctx).Create(comment).Error
}

func (r *SessionRepositoryImpl) FindComment(ctx context.Context, sessionID, commentID uint64) (*Comment, error) {
	var comment Comment
	err := r.db.WithContext(ctx).
		Where("id = ? AND session_id = ?", commentID, sessionID).
		First(&comment).Error
	return &comment, err
}

func (r *SessionRepositoryImpl) FindCommentByID(ctx context.Context, commentID uint64) (*Comment, error) {
	var comment Comment
	err := r.db.WithContext(ctx).First(&comment, commentID).Error
	return &comment, err
}

// ResolveComment resolves at most once. The is_resolved guard in the WHERE
// clause makes a second resolve (or a concurrent one) a no-op, reported by
// the returned bool.
func (r *SessionRepositoryImpl) ResolveComment(ctx context.Context, sessionID, commentID, resolverID uint64) (bool, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&Comment{}).
		Where("id = ? AND session_id = ? AND is_resolved = ?", commentID, sessionID, false).
		Updates(map[string]any{
			"is_resolved":    true,
			"resolved_by_id": resolverID,
			"resolved_at":    now,
			"updated_at":     now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CommentRow is a comment joined with the author's display name.
type CommentRow struct {
	ID         uint64         `json:"id"`
	UserID     uint64         `json:"user_id"`
	Username   string         `json:"username"`
	Text       string         `json:"text"`
	Position   datatypes.JSON `json:"position"`
	IsResolved bool           `json:"is_resolved"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (r *SessionRepositoryImpl) ListComments(ctx context.Context, sessionID uint64) ([]CommentRow, error) {
	var rows []CommentRow
	err := r.db.WithContext(ctx).Model(&Comment{}).
		Select(`comments.id,
			comments.user_id,
			users.name AS username,
			comments.text,
			comments.position,
			comments.is_resolved,
			comments.created_at`).
		Joins("JOIN users ON users.id = comments.user_id").
		Where("comments.session_id = ?", sessionID).
		Order("comments.created_at ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *SessionRepositoryImpl) DeleteComment(ctx context.Context, commentID uint64) error {
	return r.db.WithContext(ctx).Delete(&Comment{}, commentID).Error
}
