package storage

import (
	"context"
	"time"
)

// AdmissionStore holds the sliding-window admission counters shared by every
// gateway process. Counters are keyed by user id and expire by TTL; all
// mutations are atomic so correctness holds across processes.
// Implementations: redis.Client, memory.Client (for -dev and tests).
type AdmissionStore interface {
	// IncrMessageCount atomically bumps the user's message counter, starting
	// the window on first increment, and returns the new count plus the
	// window's remaining TTL.
	IncrMessageCount(ctx context.Context, userID string, window time.Duration) (count int64, ttl time.Duration, err error)

	// AddRoom records a distinct room the user connected to inside the
	// rolling window. added reports whether the room was new for this
	// window; size is the distinct-room count after the call.
	AddRoom(ctx context.Context, userID, roomID string, window time.Duration) (added bool, size int64, ttl time.Duration, err error)

	// RemoveRoom drops a room from the user's window set. Used to give back
	// the slot consumed by a rejected connection attempt.
	RemoveRoom(ctx context.Context, userID, roomID string) error

	Close() error
}
