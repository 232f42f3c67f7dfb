package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tutorlink/internal/model"
	"github.com/tutorlink/internal/repository"
)

const defaultTokenTTL = 30 * 24 * time.Hour

// UserHandler provisions chat identities and their tokens. Identity lives
// in the CRM; these internal endpoints mirror it into the chat service.
type UserHandler struct {
	users  *repository.UserRepository
	tokens *repository.TokenRepository
}

func NewUserHandler(users *repository.UserRepository, tokens *repository.TokenRepository) *UserHandler {
	return &UserHandler{users: users, tokens: tokens}
}

type createUserRequest struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// CreateUser handles POST /internal/users. ID is optional: the CRM may
// bring its own, otherwise one is generated.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}
	role := model.Role(req.Role)
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	u := &model.User{
		ID:       req.ID,
		Username: req.Username,
		Email:    req.Email,
		Role:     role,
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// DisableUser handles POST /internal/users/{userID}/disable. Existing
// tokens keep resolving but authentication rejects disabled accounts.
func (h *UserHandler) DisableUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.users.SetDisabled(r.Context(), userID, true); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type issueTokenRequest struct {
	UserID string `json:"user_id"`
	TTL    string `json:"ttl,omitempty"`
}

type issueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken handles POST /internal/tokens.
func (h *UserHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	ttl := defaultTokenTTL
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = d
	}

	if _, err := h.users.GetByID(r.Context(), req.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	raw, err := newToken()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	now := time.Now().UTC()
	t := &model.AuthToken{
		Token:     raw,
		UserID:    req.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := h.tokens.Create(r.Context(), t); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issueTokenResponse{Token: t.Token, ExpiresAt: t.ExpiresAt})
}

// RevokeToken handles DELETE /internal/tokens/{token}. Idempotent.
func (h *UserHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := h.tokens.Revoke(r.Context(), token); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
