package model

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// MaxContentLength is the hard cap on message content, in characters.
const MaxContentLength = 10000

type Message struct {
	ID          int64       `json:"id"`
	RoomID      string      `json:"room_id"`
	ThreadID    *int64      `json:"thread_id,omitempty"`
	SenderID    string      `json:"sender_id"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	IsEdited    bool        `json:"is_edited"`
	IsDeleted   bool        `json:"is_deleted"`
	DeletedBy   *string     `json:"deleted_by,omitempty"`
	DeletedAt   *time.Time  `json:"deleted_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Sender      *UserPublic `json:"sender,omitempty"`
}

// MessageThread groups messages inside a room. Pin/lock moderation is
// restricted to room admins; a locked thread rejects new messages.
type MessageThread struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	Title     string    `json:"title"`
	CreatedBy string    `json:"created_by"`
	IsPinned  bool      `json:"is_pinned"`
	IsLocked  bool      `json:"is_locked"`
	CreatedAt time.Time `json:"created_at"`
}
