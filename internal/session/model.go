package session

import (
	"collab-session-server/internal/content"
	"time"

	"gorm.io/datatypes"
)

// Session status values. ACTIVE <-> PAUSED, any -> COMPLETED (terminal).
const (
	StatusActive    = "ACTIVE"
	StatusPaused    = "PAUSED"
	StatusCompleted = "COMPLETED"
)

// Participant roles
const (
	RoleLeader = "LEADER"
	RoleEditor = "EDITOR"
	RoleViewer = "VIEWER"
)

// Action types recorded in the audit log
const (
	ActionEdit    = "EDIT"
	ActionComment = "COMMENT"
	ActionFormat  = "FORMAT"
	ActionSuggest = "SUGGEST"
	ActionApprove = "APPROVE"
	ActionReject  = "REJECT"
	ActionOther   = "OTHER"
)

func ValidRole(role string) bool {
	return role == RoleLeader || role == RoleEditor || role == RoleViewer
}

func ValidActionType(actionType string) bool {
	switch actionType {
	case ActionEdit, ActionComment, ActionFormat, ActionSuggest, ActionApprove, ActionReject, ActionOther:
		return true
	}
	return false
}

// CollaborationSession is one live editing session bound to a content record.
type CollaborationSession struct {
	ID              uint64
	ContentID       uint64
	Content         content.Content
	CreatedByID     uint64
	Title           string
	Description     string
	Status          string `gorm:"default:ACTIVE"`
	MaxParticipants int    `gorm:"default:10"`
	IsPublic        bool   `gorm:"default:false"`
	JoinCode        string `gorm:"size:20;uniqueIndex"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

func (s *CollaborationSession) IsActive() bool {
	return s.Status == StatusActive
}

// SessionParticipant is the membership row: one per (session, user) pair.
// It is the mutable presence/role anchor.
type SessionParticipant struct {
	ID             uint64
	SessionID      uint64 `gorm:"uniqueIndex:idx_session_user,priority:1"`
	UserID         uint64 `gorm:"uniqueIndex:idx_session_user,priority:2"`
	Role           string `gorm:"default:VIEWER"`
	JoinedAt       time.Time
	LastActive     time.Time
	IsPresent      bool           `gorm:"default:true"`
	CursorPosition datatypes.JSON `gorm:"default:'{}'"`
}

// CollaborationAction is an immutable audit record of one edit or meta-action.
// Actions reference the raw user id, not the participant row, so history
// survives participant removal.
type CollaborationAction struct {
	ID            uint64
	SessionID     uint64 `gorm:"index"`
	UserID        uint64
	ActionType    string `gorm:"default:EDIT"`
	ContentBefore string
	ContentAfter  string
	PositionStart int
	PositionEnd   int
	ActionData    datatypes.JSON `gorm:"default:'{}'"`
	Timestamp     time.Time
}

// Comment is a positioned annotation within a session, resolvable at most once.
type Comment struct {
	ID           uint64
	SessionID    uint64 `gorm:"index"`
	UserID       uint64
	Text         string
	Position     datatypes.JSON `gorm:"default:'{}'"`
	IsResolved   bool           `gorm:"default:false"`
	ResolvedByID *uint64
	ResolvedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
