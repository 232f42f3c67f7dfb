package middleware

import (
	"context"
	"net/http"

	"github.com/tutorlink/internal/auth"
	"github.com/tutorlink/internal/model"
)

// Authenticator resolves an opaque token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// TokenAuth authenticates REST requests with the same out-of-band token
// rules as the WebSocket gateway: Authorization header first, ?token=
// fallback only when no Authorization header is present.
func TokenAuth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r)
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			user, err := a.Authenticate(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
