// Package membership derives the authoritative participant set of forum
// rooms from profile relationships and keeps the denormalized participants
// table converged on it. The table is a cache of the derived relationship,
// never a second source of truth: any divergence is repaired by Reconcile,
// eagerly on profile events and lazily on room access.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tutorlink/internal/events"
	"github.com/tutorlink/internal/logger"
	"github.com/tutorlink/internal/model"
	"github.com/tutorlink/internal/repository"
)

// ErrNotParticipant is returned when a user has no seat in a room, after any
// applicable reconciliation has run.
var ErrNotParticipant = errors.New("not a room participant")

// RoomStore is the slice of the room repository the resolver needs.
type RoomStore interface {
	GetByID(ctx context.Context, id string) (*model.ChatRoom, error)
	EnsureForumSubjectRoom(ctx context.Context, enrollmentID, name string) (*model.ChatRoom, error)
	EnsureForumTutorRoom(ctx context.Context, assignmentID, name string) (*model.ChatRoom, error)
	ForumRoomsByStudent(ctx context.Context, studentID string) ([]model.ChatRoom, error)
	AddParticipant(ctx context.Context, p *model.Participant) error
	RemoveParticipant(ctx context.Context, roomID, userID string) error
	GetParticipant(ctx context.Context, roomID, userID string) (*model.Participant, error)
	Participants(ctx context.Context, roomID string) ([]model.Participant, error)
}

// ProfileDirectory is the slice of the profile repository the resolver
// derives membership from.
type ProfileDirectory interface {
	GetEnrollment(ctx context.Context, id string) (*model.Enrollment, error)
	GetTutorAssignment(ctx context.Context, id string) (*model.TutorAssignment, error)
	GetStudentParent(ctx context.Context, studentID string) (string, error)
}

type Resolver struct {
	rooms    RoomStore
	profiles ProfileDirectory
}

func NewResolver(rooms RoomStore, profiles ProfileDirectory) *Resolver {
	return &Resolver{rooms: rooms, profiles: profiles}
}

// Resolve computes the authoritative participant set for a room as a map of
// user id to admin flag. For explicit kinds (direct/group/class/general) the
// participants table itself is authoritative and Resolve reports that by
// returning nil.
func (r *Resolver) Resolve(ctx context.Context, room *model.ChatRoom) (map[string]bool, error) {
	switch room.Kind {
	case model.RoomKindForumSubject:
		if room.EnrollmentID == nil {
			return nil, fmt.Errorf("membership.Resolve: forum-subject room %s has no enrollment", room.ID)
		}
		e, err := r.profiles.GetEnrollment(ctx, *room.EnrollmentID)
		if err != nil {
			return nil, fmt.Errorf("membership.Resolve enrollment: %w", err)
		}
		members := map[string]bool{
			e.StudentID: false,
			e.TeacherID: true,
		}
		parent, err := r.profiles.GetStudentParent(ctx, e.StudentID)
		if err != nil {
			return nil, fmt.Errorf("membership.Resolve parent: %w", err)
		}
		if parent != "" {
			members[parent] = false
		}
		return members, nil

	case model.RoomKindForumTutor:
		if room.TutorAssignmentID == nil {
			return nil, fmt.Errorf("membership.Resolve: forum-tutor room %s has no assignment", room.ID)
		}
		a, err := r.profiles.GetTutorAssignment(ctx, *room.TutorAssignmentID)
		if err != nil {
			return nil, fmt.Errorf("membership.Resolve assignment: %w", err)
		}
		return map[string]bool{
			a.StudentID: false,
			a.TutorID:   true,
		}, nil

	default:
		return nil, nil
	}
}

// Reconcile re-derives a forum room's membership and applies the full
// symmetric diff: newly entitled users are added, users no longer entitled
// are removed, and stale admin flags are corrected. Retained participants
// keep their is_muted and last_read_at state. Running it against an
// already-correct set is a no-op, so re-delivered events are harmless.
func (r *Resolver) Reconcile(ctx context.Context, room *model.ChatRoom) error {
	authority, err := r.Resolve(ctx, room)
	if err != nil {
		return err
	}
	if authority == nil {
		// Explicit membership, nothing to derive.
		return nil
	}

	current, err := r.rooms.Participants(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("membership.Reconcile participants: %w", err)
	}

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(current))
	for _, p := range current {
		seen[p.UserID] = struct{}{}
		admin, entitled := authority[p.UserID]
		if !entitled {
			if err := r.rooms.RemoveParticipant(ctx, room.ID, p.UserID); err != nil {
				return fmt.Errorf("membership.Reconcile remove %s: %w", p.UserID, err)
			}
			continue
		}
		if p.IsAdmin != admin {
			p := p
			p.IsAdmin = admin
			if err := r.rooms.AddParticipant(ctx, &p); err != nil {
				return fmt.Errorf("membership.Reconcile fix admin %s: %w", p.UserID, err)
			}
		}
	}
	for userID, admin := range authority {
		if _, ok := seen[userID]; ok {
			continue
		}
		p := &model.Participant{
			RoomID:   room.ID,
			UserID:   userID,
			IsAdmin:  admin,
			JoinedAt: now,
		}
		if err := r.rooms.AddParticipant(ctx, p); err != nil {
			return fmt.Errorf("membership.Reconcile add %s: %w", userID, err)
		}
	}
	return nil
}

// EnsureAccess returns the user's participant row, reconciling the cache
// first when a forum room's membership looks stale (missing row). Explicit
// rooms never reconcile: no row means no access.
func (r *Resolver) EnsureAccess(ctx context.Context, room *model.ChatRoom, userID string) (*model.Participant, error) {
	p, err := r.rooms.GetParticipant(ctx, room.ID, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("membership.EnsureAccess: %w", err)
	}
	if !room.Kind.IsForum() {
		return nil, ErrNotParticipant
	}
	// Missing row in a forum room may just be a stale cache; re-derive and
	// look again before refusing.
	if err := r.Reconcile(ctx, room); err != nil {
		return nil, err
	}
	p, err = r.rooms.GetParticipant(ctx, room.ID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotParticipant
	}
	if err != nil {
		return nil, fmt.Errorf("membership.EnsureAccess: %w", err)
	}
	return p, nil
}

// HandleEvent is the bus subscriber: forum room creation on enrollment and
// tutor assignment, reconciliation on every relationship change.
func (r *Resolver) HandleEvent(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.EnrollmentCreated:
		room, err := r.rooms.EnsureForumSubjectRoom(ctx, e.EnrollmentID, e.Subject+" forum")
		if err != nil {
			return err
		}
		return r.Reconcile(ctx, room)

	case events.TutorAssignmentCreated:
		room, err := r.rooms.EnsureForumTutorRoom(ctx, e.AssignmentID, "Tutoring forum")
		if err != nil {
			return err
		}
		return r.Reconcile(ctx, room)

	case events.ParentAssigned:
		return r.reconcileStudent(ctx, e.StudentID)

	case events.ParentUnassigned:
		return r.reconcileStudent(ctx, e.StudentID)

	case events.TutorChanged:
		return r.reconcileStudent(ctx, e.StudentID)

	default:
		return nil
	}
}

// reconcileStudent re-resolves every forum room whose authority depends on
// the student's relationships.
func (r *Resolver) reconcileStudent(ctx context.Context, studentID string) error {
	rooms, err := r.rooms.ForumRoomsByStudent(ctx, studentID)
	if err != nil {
		return err
	}
	for i := range rooms {
		if err := r.Reconcile(ctx, &rooms[i]); err != nil {
			logger.Errorf("membership: reconcile room=%s student=%s: %v", rooms[i].ID, studentID, err)
			return err
		}
	}
	return nil
}
