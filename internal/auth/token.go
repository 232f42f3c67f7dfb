// Package auth validates the opaque bearer tokens the CRM issues. The chat
// service never mints tokens; it only resolves them against the token store
// and rejects disabled users.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tutorlink/internal/logger"
	"github.com/tutorlink/internal/model"
	"github.com/tutorlink/internal/repository"
)

// ErrInvalidToken covers every authentication failure: empty or malformed
// token, unknown token, expired/revoked token, disabled user. Callers get no
// finer distinction; the reason goes to the log only.
var ErrInvalidToken = errors.New("invalid token")

const (
	// schemeBearer is matched case-sensitively; clients are expected to send
	// the canonical form.
	schemeBearer = "Bearer"
	// schemeLegacy is the pre-migration alias, matched case-insensitively.
	schemeLegacy = "token"

	previewLen = 10
)

// TokenFromRequest extracts the raw token from the Authorization header or,
// for backward compatibility, the token query parameter. The header wins
// when both are present. Returns "" when neither carries a token or the
// header is malformed.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if tok, ok := ParseAuthorization(header); ok {
			return tok
		}
		// A malformed header is a rejection, not a fallthrough to the query
		// parameter: a client that sends Authorization must send it right.
		return ""
	}
	return r.URL.Query().Get("token")
}

// ParseAuthorization splits "Bearer <token>" (exact scheme) or the legacy
// "Token <token>" alias (any case). Reports false for a missing scheme,
// wrong keyword or empty token.
func ParseAuthorization(header string) (string, bool) {
	scheme, rest, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	if scheme == schemeBearer {
		return rest, true
	}
	if strings.EqualFold(scheme, schemeLegacy) {
		return rest, true
	}
	return "", false
}

// Preview renders at most the first 10 characters of a token for log lines.
func Preview(token string) string {
	if len(token) <= previewLen {
		return token
	}
	return token[:previewLen] + "..."
}

// TokenStore resolves raw tokens.
type TokenStore interface {
	GetByToken(ctx context.Context, token string) (*model.AuthToken, error)
}

// UserStore resolves token owners.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type Authenticator struct {
	tokens TokenStore
	users  UserStore
}

func NewAuthenticator(tokens TokenStore, users UserStore) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticate resolves a token to its user. Always returns either a user or
// ErrInvalidToken; infrastructure failures are logged and reported as
// ErrInvalidToken so the caller has a single rejection path.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	t, err := a.tokens.GetByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("auth: token lookup token=%s: %v", Preview(token), err)
		}
		return nil, ErrInvalidToken
	}
	if !t.Valid(time.Now().UTC()) {
		logger.Infof("auth: expired or revoked token token=%s user=%s", Preview(token), t.UserID)
		return nil, ErrInvalidToken
	}
	user, err := a.users.GetByID(ctx, t.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("auth: user lookup user=%s: %v", t.UserID, err)
		}
		return nil, ErrInvalidToken
	}
	if user.DisabledAt != nil {
		logger.Infof("auth: disabled user user=%s token=%s", user.ID, Preview(token))
		return nil, ErrInvalidToken
	}
	return user, nil
}
