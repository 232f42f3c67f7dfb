package handler

import (
	"encoding/json"
	"net/http"

	"github.com/tutorlink/internal/middleware"
	"github.com/tutorlink/internal/push"
)

// PushHandler manages notification subscriptions for the current user.
type PushHandler struct {
	client         *push.Client
	vapidPublicKey string
}

func NewPushHandler(client *push.Client, vapidPublicKey string) *PushHandler {
	return &PushHandler{client: client, vapidPublicKey: vapidPublicKey}
}

// VAPIDPublicKey serves the application server key browsers need for
// PushManager.subscribe. 404 when pushes are not configured.
func (h *PushHandler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublicKey == "" {
		writeError(w, http.StatusNotFound, "push not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": h.vapidPublicKey})
}

// PushSubscribeRequest carries the browser subscription
// (PushManager.getSubscription()).
type PushSubscribeRequest struct {
	Subscription push.PushSubscription `json:"subscription"`
}

// Subscribe stores a subscription on the push service for the current user.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req PushSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Subscription.Endpoint == "" || req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys required")
		return
	}
	if err := h.client.Subscribe(r.Context(), userID, req.Subscription); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PushUnsubscribeRequest identifies the subscription to drop.
type PushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe removes a subscription.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req PushUnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.client.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
