package ws

import (
	"encoding/json"
	"log"
	"time"

	"gorm.io/datatypes"
)

// Inbound message types accepted from clients. Anything else is ignored.
const (
	MsgUpdateContent  = "update_content"
	MsgCursorPosition = "cursor_position"
	MsgAddComment     = "add_comment"
	MsgResolveComment = "resolve_comment"
	MsgPresencePing   = "presence_ping"
	MsgSaveVersion    = "save_version"
)

// Outbound event types broadcast to rooms.
const (
	EventSessionInfo     = "session_info"
	EventContentUpdate   = "content_update"
	EventCursorPosition  = "cursor_position"
	EventNewComment      = "new_comment"
	EventCommentResolved = "comment_resolved"
	EventVersionSaved    = "version_saved"
	EventUserJoin        = "user_join"
	EventUserLeave       = "user_leave"
	EventError           = "error"
)

// InboundMessage is the envelope decoded from every client frame. Only the
// fields relevant to the declared type are read.
type InboundMessage struct {
	Type      string         `json:"type"`
	Content   ContentChange  `json:"content"`
	Position  datatypes.JSON `json:"position"`
	Text      string         `json:"text"`
	CommentID uint64         `json:"comment_id"`
	Body      string         `json:"body"`
}

// ContentChange carries one edit: the replaced range and its before/after text.
type ContentChange struct {
	PositionStart int    `json:"position_start"`
	PositionEnd   int    `json:"position_end"`
	ContentBefore string `json:"content_before"`
	ContentAfter  string `json:"content_after"`
}

// marshalEvent serializes an outbound event once, so a broadcast encodes a
// single payload shared by every recipient.
func marshalEvent(fields map[string]any) []byte {
	data, err := json.Marshal(fields)
	if err != nil {
		log.Printf("event marshal failed: %v", err)
		return nil
	}
	return data
}

func serverTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
