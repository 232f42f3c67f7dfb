package ws

import (
	"time"

	"github.com/tutorlink/internal/model"
)

type EventType string

const (
	// Client to server.
	EventAuth       EventType = "auth"
	EventMessage    EventType = "message"
	EventTyping     EventType = "typing"
	EventTypingStop EventType = "typing_stop"
	EventMarkRead   EventType = "mark_read"

	// Server to client.
	EventAuthSuccess    EventType = "auth_success"
	EventAuthFailed     EventType = "auth_failed"
	EventRoomHistory    EventType = "room_history"
	EventChatMessage    EventType = "chat_message"
	EventMessageEdited  EventType = "message_edited"
	EventMessageDeleted EventType = "message_deleted"
	EventUserJoined     EventType = "user_joined"
	EventUserLeft       EventType = "user_left"
	EventRead           EventType = "read"
	EventError          EventType = "error"
)

// Application close codes, sent in the WebSocket close frame.
const (
	CloseUnauthorized     = 4001
	CloseNotParticipant   = 4003
	CloseEnumerationLimit = 4008
)

// Error codes carried inside error frames.
const (
	CodeRateLimit        = "RATE_LIMIT_EXCEEDED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeThreadLocked     = "THREAD_LOCKED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type    EventType `json:"type"`
	Token   string    `json:"token,omitempty"`
	Content string    `json:"content,omitempty"`

	// Optional forum thread the message belongs to.
	ThreadID *int64 `json:"thread_id,omitempty"`

	// Message the read cursor advances to (mark_read frames). Absent means
	// "everything so far".
	MessageID *int64 `json:"message_id,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// --- Typed payloads for hot-path (avoid map[string]any allocations) ---

// AuthSuccessPayload confirms a completed authentication.
type AuthSuccessPayload struct {
	UserID string `json:"user_id"`
}

// HistoryPayload carries the replay window sent right after activation.
type HistoryPayload struct {
	RoomID   string          `json:"room_id"`
	Messages []model.Message `json:"messages"`
}

// MessageEditedPayload is broadcast when a message is edited.
type MessageEditedPayload struct {
	MessageID int64     `json:"message_id"`
	RoomID    string    `json:"room_id"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

// MessageDeletedPayload is broadcast when a message is soft-deleted.
// Content is intentionally absent.
type MessageDeletedPayload struct {
	MessageID int64  `json:"message_id"`
	RoomID    string `json:"room_id"`
	DeletedBy string `json:"deleted_by,omitempty"`
}

// PresencePayload is broadcast when a connection joins or leaves a room.
type PresencePayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// TypingPayload is broadcast for typing and typing_stop.
type TypingPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// ReadPayload is broadcast when a participant advances their read cursor.
type ReadPayload struct {
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	MessageID *int64 `json:"message_id,omitempty"`
}

// ErrorPayload is sent to a single client when an operation fails.
// RetryAfter is set only for rate-limit rejections, in seconds.
type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}
