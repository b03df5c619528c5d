package session

import (
	"collab-session-server/internal/errors"
	"collab-session-server/internal/utils"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type CreateSessionRequest struct {
	ContentID   uint64 `json:"content_id" binding:"required"`
	Title       string `json:"title" binding:"max=255"`
	Description string `json:"description"`
}

func (h *Handler) Create(c *gin.Context) {
	var form CreateSessionRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	userID, _ := c.Get("user_id")

	session, err := h.service.CreateSession(
		c.Request.Context(),
		form.ContentID,
		userID.(uint64),
		form.Title,
		form.Description,
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": session.ID,
		"join_code":  session.JoinCode,
	})
}

type JoinSessionRequest struct {
	JoinCode string `json:"join_code" binding:"required"`
}

func (h *Handler) JoinByCode(c *gin.Context) {
	var form JoinSessionRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	userID, _ := c.Get("user_id")

	session, participant, err := h.service.JoinByCode(c.Request.Context(), form.JoinCode, userID.(uint64))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":     session.ID,
		"participant_id": participant.ID,
		"role":           participant.Role,
	})
}

func (h *Handler) ShowUserSessions(c *gin.Context) {
	userID, _ := c.Get("user_id")

	page, pageSize := utils.GetPaginationParams(c)
	result, err := h.service.ListUserSessions(c.Request.Context(), userID.(uint64), page, pageSize)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) ShowSession(c *gin.Context) {
	sessionID, err := parseID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	userID, _ := c.Get("user_id")

	info, err := h.service.SnapshotFor(c.Request.Context(), sessionID, userID.(uint64))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, info)
}

func (h *Handler) Complete(c *gin.Context) {
	sessionID, err := parseID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	userID, _ := c.Get("user_id")

	if err := h.service.Complete(c.Request.Context(), sessionID, userID.(uint64)); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

func (h *Handler) ShowHistory(c *gin.Context) {
	sessionID, err := parseID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	userID, _ := c.Get("user_id")

	actions, err := h.service.History(c.Request.Context(), sessionID, userID.(uint64))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

type RecordActionRequest struct {
	ActionType       string         `json:"action_type" binding:"required"`
	Description      string         `json:"description" binding:"required"`
	ContentReference datatypes.JSON `json:"content_reference"`
}

func (h *Handler) RecordAction(c *gin.Context) {
	sessionID, err := parseID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var form RecordActionRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	userID, _ := c.Get("user_id")

	action, err := h.service.RecordAction(
		c.Request.Context(),
		sessionID,
		userID.(uint64),
		form.ActionType,
		form.Description,
		form.ContentReference,
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"action_id": action.ID})
}

type AddCommentRequest struct {
	Text     string         `json:"text" binding:"required"`
	Position datatypes.JSON `json:"position"`
}

func (h *Handler) AddComment(c *gin.Context) {
	sessionID, err := parseID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var form AddCommentRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	userID, _ := c.Get("user_id")

	comment, err := h.service.AddComment(c.Request.Context(), sessionID, userID.(uint64), form.Text, form.Position)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"comment_id": comment.ID,
		"text":       comment.Text,
		"position":   comment.Position,
		"created_at": comment.CreatedAt,
	})
}

func (h *Handler) DeleteComment(c *gin.Context) {
	commentID, err := parseID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	userID, _ := c.Get("user_id")

	if err := h.service.DeleteComment(c.Request.Context(), commentID, userID.(uint64)); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *Handler) ChangeRole(c *gin.Context) {
	sessionID, err := parseID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	participantID, err := parseID(c, "participantId")
	if err != nil {
		c.Error(err)
		return
	}

	var form ChangeRoleRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	userID, _ := c.Get("user_id")

	participant, err := h.service.ChangeRole(
		c.Request.Context(),
		sessionID,
		participantID,
		form.Role,
		userID.(uint64),
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participant_id": participant.ID,
		"role":           participant.Role,
	})
}

func (h *Handler) RemoveParticipant(c *gin.Context) {
	sessionID, err := parseID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	participantID, err := parseID(c, "participantId")
	if err != nil {
		c.Error(err)
		return
	}

	userID, _ := c.Get("user_id")

	if err := h.service.RemoveParticipant(c.Request.Context(), sessionID, participantID, userID.(uint64)); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func parseID(c *gin.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, errors.BadRequest("Invalid id", err)
	}
	return id, nil
}
