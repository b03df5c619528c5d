package ws

import (
	"collab-session-server/internal/config"
	"collab-session-server/internal/errors"
	"collab-session-server/internal/session"
	"collab-session-server/internal/worker"
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/datatypes"
)

// SessionService is the slice of the session service the live protocol needs.
type SessionService interface {
	GetSession(ctx context.Context, sessionID uint64) (*session.CollaborationSession, error)
	Join(ctx context.Context, sessionID, userID uint64) (*session.SessionParticipant, error)
	Snapshot(ctx context.Context, sessionID uint64) (*session.SessionInfo, error)
	AppendAction(ctx context.Context, action *session.CollaborationAction) error
	AddComment(ctx context.Context, sessionID, userID uint64, text string, position datatypes.JSON) (*session.Comment, error)
	ResolveComment(ctx context.Context, sessionID, commentID, resolverID uint64) (bool, error)
	SetPresence(ctx context.Context, sessionID, userID uint64, present bool) error
	UpdateCursor(ctx context.Context, sessionID, userID uint64, position datatypes.JSON) error
	TouchActivity(ctx context.Context, sessionID, userID uint64) error
}

// ContentService is the slice of the content service the live protocol needs.
type ContentService interface {
	SaveSnapshot(ctx context.Context, contentID uint64, body string, userID uint64) (uint64, error)
}

type Handler struct {
	registry *Registry
	sessions SessionService
	contents ContentService
	pool     *worker.WorkerPool
	upgrader websocket.Upgrader
}

func NewHandler(registry *Registry, sessions SessionService, contents ContentService, pool *worker.WorkerPool) *Handler {
	return &Handler{
		registry: registry,
		sessions: sessions,
		contents: contents,
		pool:     pool,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if config.AppConfig.Environment == "development" {
					return true
				}
				return r.Header.Get("Origin") == config.AppConfig.FrontendAddress
			},
		},
	}
}

// Serve upgrades the request into a live session connection. Validation and
// the auto-join run before the upgrade: a rejected connect never touches the
// room and leaves no partial state.
func (h *Handler) Serve(c *gin.Context) {
	sessionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errors.BadRequest("Invalid session id", err))
		return
	}

	userID, _ := c.Get("user_id")
	username, _ := c.Get("user_name")

	ctx := c.Request.Context()

	sess, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		c.Error(err)
		return
	}

	if _, err := h.sessions.Join(ctx, sessionID, userID.(uint64)); err != nil {
		c.Error(err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		log.Printf("websocket upgrade failed session=%d: %v", sessionID, err)
		return
	}

	client := newClient(h, conn, sessionID, sess.ContentID, userID.(uint64), username.(string))

	h.registry.Subscribe(sessionID, client)

	if err := h.sessions.SetPresence(ctx, sessionID, client.userID, true); err != nil {
		log.Printf("presence update failed on connect user=%d session=%d: %v", client.userID, sessionID, err)
	}

	// Full state snapshot goes to this connection only
	if info, err := h.sessions.Snapshot(ctx, sessionID); err == nil {
		client.enqueue(marshalEvent(map[string]any{
			"type": EventSessionInfo,
			"data": info,
		}))
	} else {
		log.Printf("session snapshot failed session=%d: %v", sessionID, err)
	}

	// Join notice goes to the whole room, sender included; clients
	// de-duplicate presence lists by user id.
	h.registry.Broadcast(sessionID, marshalEvent(map[string]any{
		"type":     EventUserJoin,
		"user_id":  client.userID,
		"username": client.username,
	}), nil)

	go client.writePump()
	client.readPump()
}
