package model

import "time"

// AuthToken is an opaque bearer token bound to a user. Issued by the CRM's
// login flow; the chat service only validates.
type AuthToken struct {
	Token     string     `json:"-"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Valid reports whether the token is usable at time now. Every token has
// an expiry; revocation wins over any remaining lifetime.
func (t *AuthToken) Valid(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	return !now.After(t.ExpiresAt)
}
