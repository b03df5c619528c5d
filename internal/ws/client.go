package ws

import (
	"collab-session-server/internal/session"
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Client is one live connection to a session room. A connection moves
// Connecting -> Active -> Closed; the Client only exists once Active (the
// join is validated before the upgrade, so a failed connect leaves no state).
type Client struct {
	h *Handler

	conn *websocket.Conn

	// Buffered outbound queue; the write pump drains it in order, which
	// serializes all writes to this connection.
	send chan []byte

	sessionID uint64
	contentID uint64
	userID    uint64
	username  string

	closeOnce sync.Once
}

func newClient(h *Handler, conn *websocket.Conn, sessionID, contentID, userID uint64, username string) *Client {
	return &Client{
		h:         h,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		sessionID: sessionID,
		contentID: contentID,
		userID:    userID,
		username:  username,
	}
}

// enqueue offers a payload to the connection's send queue without blocking.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSlow tears down the transport; the read pump's exit runs the cleanup.
func (c *Client) closeSlow() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// cleanup runs the Active -> Closed transition exactly once: leave the room,
// persist presence=false, tell the others.
func (c *Client) cleanup() {
	c.closeOnce.Do(func() {
		c.h.registry.Unsubscribe(c.sessionID, c)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.h.sessions.SetPresence(ctx, c.sessionID, c.userID, false); err != nil {
			log.Printf("presence update failed on disconnect user=%d session=%d: %v", c.userID, c.sessionID, err)
		}

		c.h.registry.Broadcast(c.sessionID, marshalEvent(map[string]any{
			"type":     EventUserLeave,
			"user_id":  c.userID,
			"username": c.username,
		}), nil)
	})
}

// readPump reads inbound frames and dispatches them in order. One goroutine
// per connection, so broadcasts triggered by this connection keep FIFO order.
func (c *Client) readPump() {
	defer func() {
		c.cleanup()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("connection error user=%d session=%d: %v", c.userID, c.sessionID, err)
			}
			break
		}
		c.dispatch(data)
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one decoded inbound message. Malformed payloads and
// unrecognized types are dropped silently.
func (c *Client) dispatch(data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	ctx := context.Background()

	switch msg.Type {
	case MsgUpdateContent:
		c.handleContentUpdate(ctx, msg)
	case MsgCursorPosition:
		c.handleCursorPosition(ctx, msg)
	case MsgAddComment:
		c.handleAddComment(ctx, msg)
	case MsgResolveComment:
		c.handleResolveComment(ctx, msg)
	case MsgPresencePing:
		c.handlePresencePing()
	case MsgSaveVersion:
		c.handleSaveVersion(ctx, msg)
	}
}

// handleContentUpdate persists an EDIT action and broadcasts it to the whole
// room, sender included, so the sender can reconcile the action id.
func (c *Client) handleContentUpdate(ctx context.Context, msg InboundMessage) {
	actionData, _ := json.Marshal(msg.Content)
	action := &session.CollaborationAction{
		SessionID:     c.sessionID,
		UserID:        c.userID,
		ActionType:    session.ActionEdit,
		ContentBefore: msg.Content.ContentBefore,
		ContentAfter:  msg.Content.ContentAfter,
		PositionStart: msg.Content.PositionStart,
		PositionEnd:   msg.Content.PositionEnd,
		ActionData:    actionData,
	}

	if err := c.h.sessions.AppendAction(ctx, action); err != nil {
		log.Printf("append action failed user=%d session=%d: %v", c.userID, c.sessionID, err)
		c.sendError("Could not save your edit")
		return
	}

	c.h.registry.Broadcast(c.sessionID, marshalEvent(map[string]any{
		"type":      EventContentUpdate,
		"user_id":   c.userID,
		"username":  c.username,
		"content":   msg.Content,
		"action_id": action.ID,
		"timestamp": serverTimestamp(),
	}), nil)
}

// handleCursorPosition updates the participant's cursor and fans it out to
// everyone but the sender.
func (c *Client) handleCursorPosition(ctx context.Context, msg InboundMessage) {
	if err := c.h.sessions.UpdateCursor(ctx, c.sessionID, c.userID, msg.Position); err != nil {
		log.Printf("cursor update failed user=%d session=%d: %v", c.userID, c.sessionID, err)
		return
	}

	c.h.registry.Broadcast(c.sessionID, marshalEvent(map[string]any{
		"type":     EventCursorPosition,
		"user_id":  c.userID,
		"username": c.username,
		"position": msg.Position,
	}), c)
}

func (c *Client) handleAddComment(ctx context.Context, msg InboundMessage) {
	comment, err := c.h.sessions.AddComment(ctx, c.sessionID, c.userID, msg.Text, msg.Position)
	if err != nil {
		log.Printf("add comment failed user=%d session=%d: %v", c.userID, c.sessionID, err)
		c.sendError("Could not save your comment")
		return
	}

	c.h.registry.Broadcast(c.sessionID, marshalEvent(map[string]any{
		"type":       EventNewComment,
		"comment_id": comment.ID,
		"user_id":    c.userID,
		"username":   c.username,
		"text":       comment.Text,
		"position":   comment.Position,
		"timestamp":  serverTimestamp(),
	}), nil)
}

// handleResolveComment resolves at most once. Not-found and already-resolved
// are silent no-ops: no broadcast, no error frame.
func (c *Client) handleResolveComment(ctx context.Context, msg InboundMessage) {
	changed, err := c.h.sessions.ResolveComment(ctx, c.sessionID, msg.CommentID, c.userID)
	if err != nil {
		log.Printf("resolve comment failed user=%d session=%d: %v", c.userID, c.sessionID, err)
		return
	}
	if !changed {
		return
	}

	c.h.registry.Broadcast(c.sessionID, marshalEvent(map[string]any{
		"type":           EventCommentResolved,
		"comment_id":     msg.CommentID,
		"resolved_by_id": c.userID,
		"resolved_by":    c.username,
		"timestamp":      serverTimestamp(),
	}), nil)
}

// handlePresencePing refreshes last_active off the read loop; no broadcast.
func (c *Client) handlePresencePing() {
	sessionID, userID := c.sessionID, c.userID
	c.h.pool.Submit(func(ctx context.Context) error {
		return c.h.sessions.TouchActivity(ctx, sessionID, userID)
	})
}

// handleSaveVersion saves a numbered content snapshot. Failures go to the
// sender only; the room broadcast is skipped and the connection stays open.
func (c *Client) handleSaveVersion(ctx context.Context, msg InboundMessage) {
	number, err := c.h.contents.SaveSnapshot(ctx, c.contentID, msg.Body, c.userID)
	if err != nil {
		log.Printf("save version failed user=%d content=%d: %v", c.userID, c.contentID, err)
		c.sendError("Could not save version")
		return
	}

	c.h.registry.Broadcast(c.sessionID, marshalEvent(map[string]any{
		"type":      EventVersionSaved,
		"user_id":   c.userID,
		"username":  c.username,
		"version":   number,
		"timestamp": serverTimestamp(),
	}), nil)
}

// sendError delivers an error frame to this connection only.
func (c *Client) sendError(message string) {
	c.enqueue(marshalEvent(map[string]any{
		"type":    EventError,
		"message": message,
	}))
}
