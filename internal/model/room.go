package model

import "time"

// RoomKind determines how a room's participant set is managed. Explicit kinds
// (direct, group, class, general) are mutated only by join/leave actions;
// forum kinds derive their membership from profile relationships and are
// reconciled by the membership resolver.
type RoomKind string

const (
	RoomKindDirect       RoomKind = "direct"
	RoomKindGroup        RoomKind = "group"
	RoomKindClass        RoomKind = "class"
	RoomKindForumSubject RoomKind = "forum_subject"
	RoomKindForumTutor   RoomKind = "forum_tutor"
	RoomKindGeneral      RoomKind = "general"
)

// IsForum reports whether the kind's membership is derived rather than
// explicitly managed.
func (k RoomKind) IsForum() bool {
	return k == RoomKindForumSubject || k == RoomKindForumTutor
}

type ChatRoom struct {
	ID                string    `json:"id"`
	Kind              RoomKind  `json:"kind"`
	Name              string    `json:"name"`
	EnrollmentID      *string   `json:"enrollment_id,omitempty"`
	TutorAssignmentID *string   `json:"tutor_assignment_id,omitempty"`
	IsActive          bool      `json:"is_active"`
	AutoDeleteDays    int       `json:"auto_delete_days"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Participant is a (room, user) membership row. For forum rooms it is a
// denormalized cache of the resolver's authoritative set.
type Participant struct {
	RoomID     string     `json:"room_id"`
	UserID     string     `json:"user_id"`
	IsAdmin    bool       `json:"is_admin"`
	IsMuted    bool       `json:"is_muted"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
	JoinedAt   time.Time  `json:"joined_at"`
}
