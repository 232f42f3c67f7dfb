// Package service implements the message lifecycle shared by the WebSocket
// and REST paths: validation, admission, the durable store write, and the
// decoupled best-effort fan-out. A sender always learns whether their
// message was stored; broadcast and notification failures never surface
// past a log line.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tutorlink/internal/admission"
	"github.com/tutorlink/internal/logger"
	"github.com/tutorlink/internal/membership"
	"github.com/tutorlink/internal/model"
)

// MessageStore is the durable message CRUD slice the service drives.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id int64) (*model.Message, error)
	List(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error)
	ListAudit(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error)
	History(ctx context.Context, roomID string, limit int) ([]model.Message, error)
	Edit(ctx context.Context, id int64, content string, at time.Time) error
	SoftDelete(ctx context.Context, id int64, deletedBy string, at time.Time) error
}

// ThreadStore is the thread CRUD + moderation slice.
type ThreadStore interface {
	Create(ctx context.Context, t *model.MessageThread) error
	GetByID(ctx context.Context, id int64) (*model.MessageThread, error)
	ListByRoom(ctx context.Context, roomID string) ([]model.MessageThread, error)
	SetPinned(ctx context.Context, id int64, pinned bool) error
	SetLocked(ctx context.Context, id int64, locked bool) error
}

// RoomStore is the room slice the service needs beside access checks.
type RoomStore interface {
	GetByID(ctx context.Context, id string) (*model.ChatRoom, error)
	ParticipantIDs(ctx context.Context, roomID string) ([]string, error)
	UpdateLastRead(ctx context.Context, roomID, userID string, at time.Time) error
}

// AccessChecker grants or refuses room access, reconciling stale forum
// membership on the way. Implemented by membership.Resolver.
type AccessChecker interface {
	EnsureAccess(ctx context.Context, room *model.ChatRoom, userID string) (*model.Participant, error)
}

// Admitter gates sends by the per-user sliding window. Implemented by
// admission.Controller.
type Admitter interface {
	AllowMessage(ctx context.Context, userID string) error
}

// Broadcaster fans a committed message event out to live connections.
// Implementations must not block and must swallow their own failures: by
// the time a broadcast runs, the write is already durable.
type Broadcaster interface {
	MessageCreated(m *model.Message)
	MessageEdited(m *model.Message)
	MessageDeleted(m *model.Message)
}

// Notifier pushes to the external notification channel. Fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// UserDirectory resolves sender info attached to broadcast payloads.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type MessageService struct {
	rooms    RoomStore
	access   AccessChecker
	admit    Admitter
	messages MessageStore
	threads  ThreadStore
	users    UserDirectory
	notifier Notifier

	// broadcaster is wired after construction (the hub needs the service
	// first). Set once during startup, before any traffic.
	broadcaster Broadcaster

	maxContentLength int
	historyReplay    int
}

func NewMessageService(
	rooms RoomStore,
	access AccessChecker,
	admit Admitter,
	messages MessageStore,
	threads ThreadStore,
	users UserDirectory,
	notifier Notifier,
	maxContentLength int,
	historyReplay int,
) *MessageService {
	if maxContentLength <= 0 {
		maxContentLength = model.MaxContentLength
	}
	if historyReplay <= 0 {
		historyReplay = 50
	}
	return &MessageService{
		rooms:            rooms,
		access:           access,
		admit:            admit,
		messages:         messages,
		threads:          threads,
		users:            users,
		notifier:         notifier,
		maxContentLength: maxContentLength,
		historyReplay:    historyReplay,
	}
}

// SetBroadcaster wires the fan-out sink. Must be called before the service
// receives traffic.
func (s *MessageService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

func (s *MessageService) validateContent(content string) error {
	if content == "" {
		return fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if len([]rune(content)) > s.maxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrValidation, s.maxContentLength)
	}
	return nil
}

// Send validates, admits and persists a message, then fans it out. The
// admission check runs before the write; a denied send is never persisted.
// Returns admission.RateLimitError when the sender's window is spent.
func (s *MessageService) Send(ctx context.Context, roomID, senderID, content string, threadID *int64) (*model.Message, error) {
	defer logger.DeferLogDuration("svc.Send", time.Now())()

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	p, err := s.access.EnsureAccess(ctx, room, senderID)
	if err != nil {
		return nil, err
	}
	if p.IsMuted {
		return nil, fmt.Errorf("%w: participant is muted", ErrPermissionDenied)
	}
	if err := s.validateContent(content); err != nil {
		return nil, err
	}
	if threadID != nil {
		thread, err := s.threads.GetByID(ctx, *threadID)
		if err != nil {
			return nil, err
		}
		if thread.RoomID != roomID {
			return nil, fmt.Errorf("%w: thread belongs to another room", ErrValidation)
		}
		// Policy: a locked thread rejects all new messages, not just new
		// threads.
		if thread.IsLocked {
			return nil, ErrThreadLocked
		}
	}
	if err := s.admit.AllowMessage(ctx, senderID); err != nil {
		return nil, err
	}

	m := &model.Message{
		RoomID:      roomID,
		ThreadID:    threadID,
		SenderID:    senderID,
		Content:     content,
		MessageType: model.MessageTypeText,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	if s.users != nil {
		if sender, err := s.users.GetByID(ctx, senderID); err != nil {
			logger.Errorf("svc: get sender user=%s: %v", senderID, err)
		} else {
			pub := sender.ToPublic()
			m.Sender = &pub
		}
	}

	// The write is durable from here on; fan-out and notification failures
	// must not surface to the sender.
	if s.broadcaster != nil {
		s.broadcaster.MessageCreated(m)
	}
	s.notifyOthers(m)
	return m, nil
}

// Edit changes a message's content. Only the original sender may edit,
// regardless of admin status, and deleted messages are immutable.
func (s *MessageService) Edit(ctx context.Context, messageID int64, editorID, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("svc.Edit", time.Now())()

	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != editorID {
		return nil, fmt.Errorf("%w: only the sender may edit", ErrPermissionDenied)
	}
	if m.IsDeleted {
		return nil, ErrDeleted
	}
	if err := s.validateContent(content); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.messages.Edit(ctx, messageID, content, now); err != nil {
		return nil, err
	}
	m.Content = content
	m.IsEdited = true
	m.UpdatedAt = now

	if s.broadcaster != nil {
		s.broadcaster.MessageEdited(m)
	}
	return m, nil
}

// Delete soft-deletes a message. Allowed for the sender or a room admin.
// Deleting an already-deleted message is an idempotent no-op: the first
// delete's deleted_by/deleted_at stand and no event is re-broadcast.
func (s *MessageService) Delete(ctx context.Context, messageID int64, actorID string) (*model.Message, error) {
	defer logger.DeferLogDuration("svc.Delete", time.Now())()

	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return m, nil
	}
	if m.SenderID != actorID {
		room, err := s.rooms.GetByID(ctx, m.RoomID)
		if err != nil {
			return nil, err
		}
		p, err := s.access.EnsureAccess(ctx, room, actorID)
		if err != nil {
			return nil, err
		}
		if !p.IsAdmin {
			return nil, fmt.Errorf("%w: only the sender or a room admin may delete", ErrPermissionDenied)
		}
	}

	now := time.Now().UTC()
	if err := s.messages.SoftDelete(ctx, messageID, actorID, now); err != nil {
		return nil, err
	}
	m.IsDeleted = true
	m.DeletedBy = &actorID
	m.DeletedAt = &now
	m.UpdatedAt = now

	if s.broadcaster != nil {
		s.broadcaster.MessageDeleted(m)
	}
	return m, nil
}

// List returns non-deleted room messages, oldest first, after the same
// membership check as the WebSocket path.
func (s *MessageService) List(ctx context.Context, roomID, userID string, limit, offset int) ([]model.Message, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.EnsureAccess(ctx, room, userID); err != nil {
		return nil, err
	}
	return s.messages.List(ctx, roomID, limit, offset)
}

// ListAudit returns all room messages including soft-deleted ones. Room
// admins only.
func (s *MessageService) ListAudit(ctx context.Context, roomID, userID string, limit, offset int) ([]model.Message, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	p, err := s.access.EnsureAccess(ctx, room, userID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin {
		return nil, fmt.Errorf("%w: audit listing is admin-only", ErrPermissionDenied)
	}
	return s.messages.ListAudit(ctx, roomID, limit, offset)
}

// History returns the replay window for a freshly connected client. Access
// must already have been checked by the gateway.
func (s *MessageService) History(ctx context.Context, roomID string) ([]model.Message, error) {
	return s.messages.History(ctx, roomID, s.historyReplay)
}

// MarkRead advances the participant's read cursor. With a message id the
// cursor lands on that message's creation time; without one it moves to now.
func (s *MessageService) MarkRead(ctx context.Context, roomID, userID string, messageID *int64) error {
	at := time.Now().UTC()
	if messageID != nil {
		m, err := s.messages.GetByID(ctx, *messageID)
		if err != nil {
			return err
		}
		if m.RoomID != roomID {
			return fmt.Errorf("%w: message belongs to another room", ErrValidation)
		}
		at = m.CreatedAt
	}
	return s.rooms.UpdateLastRead(ctx, roomID, userID, at)
}

// CheckAccess resolves the room and the caller's participant row. Used by
// the gateway during connection activation.
func (s *MessageService) CheckAccess(ctx context.Context, roomID, userID string) (*model.ChatRoom, *model.Participant, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.access.EnsureAccess(ctx, room, userID)
	if err != nil {
		return nil, nil, err
	}
	return room, p, nil
}

// notifyOthers forwards the stored message to the notification channel for
// every participant except the sender. Failures are the forwarder's
// problem; each call runs in its own goroutine with a fresh context so a
// slow webhook cannot hold the send path.
func (s *MessageService) notifyOthers(m *model.Message) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	memberIDs, err := s.rooms.ParticipantIDs(ctx, m.RoomID)
	cancel()
	if err != nil {
		logger.Errorf("svc: notify members room=%s: %v", m.RoomID, err)
		return
	}

	title := "New message"
	if m.Sender != nil && m.Sender.Username != "" {
		title = m.Sender.Username
	}
	body := m.Content
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	data := map[string]string{
		"room_id":    m.RoomID,
		"message_id": fmt.Sprintf("%d", m.ID),
	}
	for _, uid := range memberIDs {
		if uid == m.SenderID {
			continue
		}
		uid := uid
		go s.notifier.Notify(context.Background(), uid, title, body, data)
	}
}

var _ Admitter = (*admission.Controller)(nil)
var _ AccessChecker = (*membership.Resolver)(nil)
