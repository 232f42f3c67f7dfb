package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tutorlink/internal/admission"
	"github.com/tutorlink/internal/logger"
	"github.com/tutorlink/internal/membership"
	"github.com/tutorlink/internal/model"
	"github.com/tutorlink/internal/repository"
	"github.com/tutorlink/internal/service"
)

// ChatService is the slice of the message service the hub drives for
// frames arriving over active connections.
type ChatService interface {
	Send(ctx context.Context, roomID, senderID, content string, threadID *int64) (*model.Message, error)
	MarkRead(ctx context.Context, roomID, userID string, messageID *int64) error
}

// Options tune connection handling. Zero values fall back to defaults.
type Options struct {
	MaxConns          int
	SendBufSize       int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration
	MaxFrameSize      int64
}

// Hub owns the room-keyed registry of live connections. The registry is
// mutated only through the register/unregister channels drained by Run;
// broadcasts take the read lock.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	total    int
	maxConns int

	svc ChatService

	sendBufSize       int
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	writeTimeout      time.Duration
	maxFrameSize      int64

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(svc ChatService, opts Options) *Hub {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 10000
	}
	if opts.SendBufSize <= 0 {
		opts.SendBufSize = 256
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 25 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = 65536
	}
	return &Hub{
		rooms:             make(map[string]map[*Client]struct{}),
		maxConns:          opts.MaxConns,
		svc:               svc,
		sendBufSize:       opts.SendBufSize,
		heartbeatInterval: opts.HeartbeatInterval,
		heartbeatTimeout:  opts.HeartbeatTimeout,
		writeTimeout:      opts.WriteTimeout,
		maxFrameSize:      opts.MaxFrameSize,
		register:          make(chan *Client, 64),
		unregister:        make(chan *Client, 64),
		done:              make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.rooms {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	select {
	case <-c.done:
		// The pumps already died and their unregister may have been drained
		// first; adding now would leave an entry nothing ever removes.
		return
	default:
	}
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.rooms[c.roomID]; !ok {
		h.rooms[c.roomID] = make(map[*Client]struct{})
	}
	h.rooms[c.roomID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	h.BroadcastToRoom(c.roomID, OutgoingMessage{Type: EventUserJoined, Payload: PresencePayload{
		RoomID: c.roomID,
		UserID: c.userID,
	}})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.rooms[c.roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.rooms, c.roomID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	h.BroadcastToRoom(c.roomID, OutgoingMessage{Type: EventUserLeft, Payload: PresencePayload{
		RoomID: c.roomID,
		UserID: c.userID,
	}})
}

// HandleMessage dispatches frames from an active connection.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventMessage:
		h.handleSend(ctx, c, msg)
	case EventTyping, EventTypingStop:
		h.handleTyping(c, msg.Type)
	case EventMarkRead:
		h.handleMarkRead(ctx, c, msg.MessageID)
	case EventAuth:
		// Already authenticated; a second auth frame is a no-op.
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{
			Code:    CodeValidationFailed,
			Message: "unknown event type",
		}})
	}
}

func (h *Hub) handleSend(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := h.svc.Send(ctx, c.roomID, c.userID, msg.Content, msg.ThreadID); err != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: errorPayload(err)})
		return
	}
	// Fan-out happens through the Broadcaster callbacks; nothing else to do.
}

func (h *Hub) handleTyping(c *Client, ev EventType) {
	out := OutgoingMessage{Type: ev, Payload: TypingPayload{
		RoomID: c.roomID,
		UserID: c.userID,
	}}
	h.broadcastExcept(c.roomID, c, out)
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, messageID *int64) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.svc.MarkRead(ctx, c.roomID, c.userID, messageID); err != nil {
		logger.Errorf("ws mark read room=%s user=%s: %v", c.roomID, c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: errorPayload(err)})
		return
	}
	out := OutgoingMessage{Type: EventRead, Payload: ReadPayload{
		RoomID:    c.roomID,
		UserID:    c.userID,
		MessageID: messageID,
	}}
	h.broadcastExcept(c.roomID, c, out)
}

// errorPayload maps a service error to the wire error frame. Unrecognized
// errors become INTERNAL without leaking detail.
func errorPayload(err error) ErrorPayload {
	var rl *admission.RateLimitError
	switch {
	case errors.As(err, &rl):
		return ErrorPayload{Code: CodeRateLimit, Message: "rate limit exceeded", RetryAfter: retryAfterSeconds(rl.RetryAfter)}
	case errors.Is(err, service.ErrThreadLocked):
		return ErrorPayload{Code: CodeThreadLocked, Message: "thread is locked"}
	case errors.Is(err, service.ErrValidation):
		return ErrorPayload{Code: CodeValidationFailed, Message: err.Error()}
	case errors.Is(err, service.ErrPermissionDenied), errors.Is(err, membership.ErrNotParticipant):
		return ErrorPayload{Code: CodePermissionDenied, Message: "permission denied"}
	case errors.Is(err, repository.ErrNotFound):
		return ErrorPayload{Code: CodeNotFound, Message: "not found"}
	default:
		logger.Errorf("ws internal error: %v", err)
		return ErrorPayload{Code: CodeInternal, Message: "internal error"}
	}
}

// retryAfterSeconds rounds the remaining window up to whole seconds for
// the wire hint.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int((d + time.Second - 1) / time.Second)
}

// MessageCreated implements service.Broadcaster.
func (h *Hub) MessageCreated(m *model.Message) {
	h.BroadcastToRoom(m.RoomID, OutgoingMessage{Type: EventChatMessage, Payload: m})
}

// MessageEdited implements service.Broadcaster.
func (h *Hub) MessageEdited(m *model.Message) {
	h.BroadcastToRoom(m.RoomID, OutgoingMessage{Type: EventMessageEdited, Payload: MessageEditedPayload{
		MessageID: m.ID,
		RoomID:    m.RoomID,
		Content:   m.Content,
		EditedAt:  m.UpdatedAt,
	}})
}

// MessageDeleted implements service.Broadcaster.
func (h *Hub) MessageDeleted(m *model.Message) {
	deletedBy := ""
	if m.DeletedBy != nil {
		deletedBy = *m.DeletedBy
	}
	h.BroadcastToRoom(m.RoomID, OutgoingMessage{Type: EventMessageDeleted, Payload: MessageDeletedPayload{
		MessageID: m.ID,
		RoomID:    m.RoomID,
		DeletedBy: deletedBy,
	}})
}

// BroadcastToRoom delivers a frame to every live connection in the room.
// Best effort: disconnected or slow clients are dropped, never waited on.
func (h *Hub) BroadcastToRoom(roomID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.rooms[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) broadcastExcept(roomID string, skip *Client, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.rooms[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		if c != skip {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s room=%s", c.userID, c.roomID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

var _ service.Broadcaster = (*Hub)(nil)
