package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tutorlink/internal/middleware"
	"github.com/tutorlink/internal/service"
)

const maxPageSize = 100

// ChatHandler is the REST fallback for clients without a live WebSocket.
// It shares the message service with the hub, so both paths enforce the
// same validation, admission and membership rules.
type ChatHandler struct {
	svc     *service.MessageService
	threads *service.ThreadService
}

func NewChatHandler(svc *service.MessageService, threads *service.ThreadService) *ChatHandler {
	return &ChatHandler{svc: svc, threads: threads}
}

type sendMessageRequest struct {
	Content  string `json:"content"`
	ThreadID *int64 `json:"thread_id,omitempty"`
}

// SendMessage handles POST /api/chat/{roomID}/send_message/.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "roomID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	m, err := h.svc.Send(r.Context(), roomID, userID, req.Content, req.ThreadID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMessages handles GET /api/chat/{roomID}/messages/?limit=&offset=.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "roomID")

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > maxPageSize {
		limit = maxPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	msgs, err := h.svc.List(r.Context(), roomID, userID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// ListAudit handles GET /api/chat/{roomID}/audit/. Includes soft-deleted
// messages; room admins only.
func (h *ChatHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "roomID")

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > maxPageSize {
		limit = maxPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	msgs, err := h.svc.ListAudit(r.Context(), roomID, userID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type markReadRequest struct {
	MessageID *int64 `json:"message_id,omitempty"`
}

// MarkRead handles POST /api/chat/{roomID}/read/. The body is optional; a
// message_id anchors the cursor to that message instead of now.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "roomID")

	var req markReadRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if _, _, err := h.svc.CheckAccess(r.Context(), roomID, userID); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.svc.MarkRead(r.Context(), roomID, userID, req.MessageID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// EditMessage handles PUT /api/messages/{messageID}/.
func (h *ChatHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	m, err := h.svc.Edit(r.Context(), messageID, userID, req.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeleteMessage handles DELETE /api/messages/{messageID}/.
func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	m, err := h.svc.Delete(r.Context(), messageID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type createThreadRequest struct {
	Title string `json:"title"`
}

// CreateThread handles POST /api/chat/{roomID}/threads/.
func (h *ChatHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "roomID")

	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := h.threads.Create(r.Context(), roomID, userID, req.Title)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListThreads handles GET /api/chat/{roomID}/threads/.
func (h *ChatHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "roomID")

	ts, err := h.threads.List(r.Context(), roomID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

type threadFlagRequest struct {
	Pinned *bool `json:"pinned,omitempty"`
	Locked *bool `json:"locked,omitempty"`
}

// PinThread handles POST /api/threads/{threadID}/pin/.
func (h *ChatHandler) PinThread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	threadID, err := strconv.ParseInt(chi.URLParam(r, "threadID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid thread id")
		return
	}

	var req threadFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pinned == nil {
		writeError(w, http.StatusBadRequest, "pinned flag required")
		return
	}

	if err := h.threads.SetPinned(r.Context(), threadID, userID, *req.Pinned); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LockThread handles POST /api/threads/{threadID}/lock/.
func (h *ChatHandler) LockThread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	threadID, err := strconv.ParseInt(chi.URLParam(r, "threadID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid thread id")
		return
	}

	var req threadFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Locked == nil {
		writeError(w, http.StatusBadRequest, "locked flag required")
		return
	}

	if err := h.threads.SetLocked(r.Context(), threadID, userID, *req.Locked); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
