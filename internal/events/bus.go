// Package events is the explicit dispatch seam between profile writes and
// the room membership resolver. Profile mutations publish typed events; the
// resolver subscribes at startup, so the reconciliation dependency is
// visible at the subscription site instead of hidden in framework wiring.
package events

import (
	"context"
	"sync"

	"github.com/tutorlink/internal/logger"
)

// Profile events. Each names the relationship change that invalidates
// derived forum membership.
type (
	// EnrollmentCreated fires when a student is enrolled with a teacher.
	EnrollmentCreated struct {
		EnrollmentID string
		StudentID    string
		TeacherID    string
		Subject      string
	}

	// TutorAssignmentCreated fires when a tutor is assigned to a student.
	TutorAssignmentCreated struct {
		AssignmentID string
		StudentID    string
		TutorID      string
	}

	// ParentAssigned fires when a student's parent link is set or replaced.
	ParentAssigned struct {
		StudentID string
		ParentID  string
		// Previous is the replaced parent, "" if the student had none.
		Previous string
	}

	// ParentUnassigned fires when the parent link is removed.
	ParentUnassigned struct {
		StudentID string
		ParentID  string
	}

	// TutorChanged fires when an existing assignment's tutor is replaced.
	TutorChanged struct {
		AssignmentID string
		StudentID    string
		TutorID      string
		Previous     string
	}
)

// Event is any of the typed profile events above.
type Event any

// Handler processes one event. Errors are logged by the bus; delivery to
// the remaining subscribers continues.
type Handler func(ctx context.Context, ev Event) error

// Bus is a synchronous in-process event bus. Publish runs every subscriber
// in the caller's goroutine before returning, so a profile write observes
// its own reconciliation.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all events. Intended to be called
// during startup wiring, before any Publish.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers ev to every subscriber in registration order. A handler
// error is logged and does not stop delivery to the rest.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			logger.Errorf("events: handler %T: %v", ev, err)
		}
	}
}
