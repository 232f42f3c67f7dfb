package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/tutorlink/internal/admission"
	"github.com/tutorlink/internal/auth"
	"github.com/tutorlink/internal/logger"
	"github.com/tutorlink/internal/model"
	"github.com/tutorlink/internal/service"
	"github.com/tutorlink/internal/ws"
)

// WSRoute is the upgrade endpoint pattern. Clients connect with the
// trailing slash, matching the REST surface.
const WSRoute = "/ws/chat/{roomID}/"

// TokenAuthenticator resolves an opaque token to its user. Implemented by
// auth.Authenticator.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// RoomAdmitter gates how many distinct rooms a user may connect to within
// the window. Implemented by admission.Controller.
type RoomAdmitter interface {
	AllowRoomConnect(ctx context.Context, userID, roomID string) error
}

type WSHandler struct {
	hub            *ws.Hub
	svc            *service.MessageService
	authenticator  TokenAuthenticator
	admitter       RoomAdmitter
	allowedOrigins string
	authTimeout    time.Duration
	writeTimeout   time.Duration
}

func NewWSHandler(
	hub *ws.Hub,
	svc *service.MessageService,
	authenticator TokenAuthenticator,
	admitter RoomAdmitter,
	allowedOrigins string,
	authTimeout time.Duration,
	writeTimeout time.Duration,
) *WSHandler {
	if authTimeout <= 0 {
		authTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSHandler{
		hub:            hub,
		svc:            svc,
		authenticator:  authenticator,
		admitter:       admitter,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
		authTimeout:    authTimeout,
		writeTimeout:   writeTimeout,
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades GET /ws/chat/{roomID} and walks the connection through
// authentication, admission and membership before it joins the hub.
// Credentials travel out of band (Authorization header or ?token=); an
// anonymous upgrade gets one auth frame within the auth timeout.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		writeError(w, http.StatusNotFound, "room id required")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	token := auth.TokenFromRequest(r)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade room=%s: %v", roomID, err)
		return
	}

	go h.runSession(conn, roomID, token)
}

// runSession drives a fresh connection to the active state. Any failure
// before activation closes the socket with an application close code; the
// hub never sees a connection that was not admitted.
func (h *WSHandler) runSession(conn *websocket.Conn, roomID, token string) {
	user, err := h.awaitAuth(conn, token)
	if err != nil {
		h.writeFrame(conn, ws.OutgoingMessage{Type: ws.EventAuthFailed, Payload: ws.ErrorPayload{
			Code:    ws.CodePermissionDenied,
			Message: "authentication failed",
		}})
		h.closeWith(conn, ws.CloseUnauthorized, "authentication failed")
		return
	}
	h.writeFrame(conn, ws.OutgoingMessage{Type: ws.EventAuthSuccess, Payload: ws.AuthSuccessPayload{
		UserID: user.ID,
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The enumeration limit runs before any room lookup so that a rejected
	// probe learns nothing about the room's existence or its members.
	if err := h.admitter.AllowRoomConnect(ctx, user.ID, roomID); err != nil {
		if errors.Is(err, admission.ErrRoomLimit) {
			h.closeWith(conn, ws.CloseEnumerationLimit, "room connection limit exceeded")
			return
		}
		logger.Errorf("ws admit user=%s room=%s: %v", user.ID, roomID, err)
		h.closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	if _, _, err := h.svc.CheckAccess(ctx, roomID, user.ID); err != nil {
		h.closeWith(conn, ws.CloseNotParticipant, "not a participant")
		return
	}

	history, err := h.svc.History(ctx, roomID)
	if err != nil {
		logger.Errorf("ws history room=%s: %v", roomID, err)
		history = nil
	}
	h.writeFrame(conn, ws.OutgoingMessage{Type: ws.EventRoomHistory, Payload: ws.HistoryPayload{
		RoomID:   roomID,
		Messages: history,
	}})

	clientCtx, clientCancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, user.ID, roomID)
	// Register before the pumps run so the unregister a dying transport
	// triggers always trails its own register.
	h.hub.Register(client)
	client.Start(clientCtx, clientCancel)
}

// maxAuthAttempts bounds in-band auth frames per connection. The timeout
// and the attempt budget both close the connection.
const maxAuthAttempts = 3

// awaitAuth resolves the connection's user. A token presented at upgrade
// time is verified directly; otherwise the client may send auth frames
// within the auth timeout, with a bounded number of invalid attempts.
func (h *WSHandler) awaitAuth(conn *websocket.Conn, token string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.authTimeout)
	defer cancel()

	if token != "" {
		return h.authenticator.Authenticate(ctx, token)
	}

	if err := conn.SetReadDeadline(time.Now().Add(h.authTimeout)); err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var msg ws.IncomingMessage
		if err := json.Unmarshal(raw, &msg); err == nil && msg.Type == ws.EventAuth && msg.Token != "" {
			if user, err := h.authenticator.Authenticate(ctx, msg.Token); err == nil {
				// Clear the auth deadline; the client pumps install their own.
				if err := conn.SetReadDeadline(time.Time{}); err != nil {
					return nil, err
				}
				return user, nil
			}
		}
		if attempt >= maxAuthAttempts {
			return nil, auth.ErrInvalidToken
		}
		h.writeFrame(conn, ws.OutgoingMessage{Type: ws.EventAuthFailed, Payload: ws.ErrorPayload{
			Code:    ws.CodePermissionDenied,
			Message: "invalid token",
		}})
	}
}

func (h *WSHandler) writeFrame(conn *websocket.Conn, msg ws.OutgoingMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("ws marshal frame: %v", err)
		return
	}
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Errorf("ws write frame: %v", err)
	}
}

func (h *WSHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(h.writeTimeout)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		logger.Errorf("ws write close code=%d: %v", code, err)
	}
	conn.Close()
}
