// Package admission gates message sends and room connections before they
// reach persistence. Two independent sliding windows per user: a message
// counter aggregated across every connection the user holds, and a
// distinct-room set defending against room enumeration. Both live in a
// shared store so the limits hold across gateway processes.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tutorlink/internal/storage"
)

// ErrRoomLimit is returned when a user tries to connect to more distinct
// rooms than the window allows. Existing connections are unaffected.
var ErrRoomLimit = errors.New("room connection limit exceeded")

// RateLimitError carries the retry hint for a denied message send.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

type Controller struct {
	store storage.AdmissionStore

	msgMax     int
	msgWindow  time.Duration
	roomMax    int
	roomWindow time.Duration
}

func NewController(store storage.AdmissionStore, msgMax int, msgWindow time.Duration, roomMax int, roomWindow time.Duration) *Controller {
	if msgMax <= 0 {
		msgMax = 10
	}
	if msgWindow <= 0 {
		msgWindow = time.Minute
	}
	if roomMax <= 0 {
		roomMax = 5
	}
	if roomWindow <= 0 {
		roomWindow = time.Minute
	}
	return &Controller{
		store:      store,
		msgMax:     msgMax,
		msgWindow:  msgWindow,
		roomMax:    roomMax,
		roomWindow: roomWindow,
	}
}

// AllowMessage consumes one send from the user's window. Returns a
// *RateLimitError once the window's budget is spent; the denied send must
// not be persisted.
func (c *Controller) AllowMessage(ctx context.Context, userID string) error {
	n, ttl, err := c.store.IncrMessageCount(ctx, userID, c.msgWindow)
	if err != nil {
		return fmt.Errorf("admission.AllowMessage: %w", err)
	}
	if n > int64(c.msgMax) {
		if ttl <= 0 {
			ttl = c.msgWindow
		}
		return &RateLimitError{RetryAfter: ttl}
	}
	return nil
}

// AllowRoomConnect admits a connection attempt to a room. Only distinct
// rooms count against the window; reconnecting to a room already admitted
// inside the window is free. On rejection the slot is handed back so a
// denied attempt does not shrink the remaining budget.
func (c *Controller) AllowRoomConnect(ctx context.Context, userID, roomID string) error {
	added, size, _, err := c.store.AddRoom(ctx, userID, roomID, c.roomWindow)
	if err != nil {
		return fmt.Errorf("admission.AllowRoomConnect: %w", err)
	}
	if added && size > int64(c.roomMax) {
		if remErr := c.store.RemoveRoom(ctx, userID, roomID); remErr != nil {
			return fmt.Errorf("admission.AllowRoomConnect rollback: %w", remErr)
		}
		return ErrRoomLimit
	}
	return nil
}
