package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorlink/internal/logger"
	"github.com/tutorlink/internal/model"
)

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func (r *RoomRepository) Create(ctx context.Context, room *model.ChatRoom) error {
	defer logger.DeferLogDuration("room.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_rooms (id, kind, name, enrollment_id, tutor_assignment_id, is_active, auto_delete_days, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		room.ID, room.Kind, room.Name, room.EnrollmentID, room.TutorAssignmentID,
		room.IsActive, room.AutoDeleteDays, room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Create: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*model.ChatRoom, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	room := &model.ChatRoom{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, kind, name, enrollment_id, tutor_assignment_id, is_active, auto_delete_days, created_at, updated_at
		 FROM chat_rooms WHERE id = $1`, id,
	).Scan(&room.ID, &room.Kind, &room.Name, &room.EnrollmentID, &room.TutorAssignmentID,
		&room.IsActive, &room.AutoDeleteDays, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return room, nil
}

// EnsureForumSubjectRoom creates the forum-by-subject room for an enrollment
// if it does not exist and returns it. The unique index on
// (kind, enrollment_id) makes concurrent calls converge on one row.
func (r *RoomRepository) EnsureForumSubjectRoom(ctx context.Context, enrollmentID, name string) (*model.ChatRoom, error) {
	defer logger.DeferLogDuration("room.EnsureForumSubjectRoom", time.Now())()
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_rooms (id, kind, name, enrollment_id, is_active, auto_delete_days, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, true, 0, $5, $5)
		 ON CONFLICT (kind, enrollment_id) WHERE enrollment_id IS NOT NULL DO NOTHING`,
		uuid.New().String(), model.RoomKindForumSubject, name, enrollmentID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.EnsureForumSubjectRoom insert: %w", err)
	}
	room := &model.ChatRoom{}
	err = r.pool.QueryRow(ctx,
		`SELECT id, kind, name, enrollment_id, tutor_assignment_id, is_active, auto_delete_days, created_at, updated_at
		 FROM chat_rooms WHERE kind = $1 AND enrollment_id = $2`,
		model.RoomKindForumSubject, enrollmentID,
	).Scan(&room.ID, &room.Kind, &room.Name, &room.EnrollmentID, &room.TutorAssignmentID,
		&room.IsActive, &room.AutoDeleteDays, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.EnsureForumSubjectRoom select: %w", err)
	}
	return room, nil
}

// EnsureForumTutorRoom is the forum-by-tutor counterpart of
// EnsureForumSubjectRoom, keyed on the tutor assignment.
func (r *RoomRepository) EnsureForumTutorRoom(ctx context.Context, assignmentID, name string) (*model.ChatRoom, error) {
	defer logger.DeferLogDuration("room.EnsureForumTutorRoom", time.Now())()
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_rooms (id, kind, name, tutor_assignment_id, is_active, auto_delete_days, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, true, 0, $5, $5)
		 ON CONFLICT (kind, tutor_assignment_id) WHERE tutor_assignment_id IS NOT NULL DO NOTHING`,
		uuid.New().String(), model.RoomKindForumTutor, name, assignmentID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.EnsureForumTutorRoom insert: %w", err)
	}
	room := &model.ChatRoom{}
	err = r.pool.QueryRow(ctx,
		`SELECT id, kind, name, enrollment_id, tutor_assignment_id, is_active, auto_delete_days, created_at, updated_at
		 FROM chat_rooms WHERE kind = $1 AND tutor_assignment_id = $2`,
		model.RoomKindForumTutor, assignmentID,
	).Scan(&room.ID, &room.Kind, &room.Name, &room.EnrollmentID, &room.TutorAssignmentID,
		&room.IsActive, &room.AutoDeleteDays, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.EnsureForumTutorRoom select: %w", err)
	}
	return room, nil
}

// ForumRoomsByStudent returns every forum-kind room whose derived membership
// depends on the student's profile relationships.
func (r *RoomRepository) ForumRoomsByStudent(ctx context.Context, studentID string) ([]model.ChatRoom, error) {
	defer logger.DeferLogDuration("room.ForumRoomsByStudent", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.kind, c.name, c.enrollment_id, c.tutor_assignment_id, c.is_active, c.auto_delete_days, c.created_at, c.updated_at
		 FROM chat_rooms c
		 LEFT JOIN enrollments e ON e.id = c.enrollment_id
		 LEFT JOIN tutor_assignments ta ON ta.id = c.tutor_assignment_id
		 WHERE e.student_id = $1 OR ta.student_id = $1`, studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ForumRoomsByStudent query: %w", err)
	}
	defer rows.Close()

	roomList := make([]model.ChatRoom, 0, 4)
	for rows.Next() {
		var room model.ChatRoom
		if err := rows.Scan(&room.ID, &room.Kind, &room.Name, &room.EnrollmentID, &room.TutorAssignmentID,
			&room.IsActive, &room.AutoDeleteDays, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, fmt.Errorf("roomRepo.ForumRoomsByStudent scan: %w", err)
		}
		roomList = append(roomList, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.ForumRoomsByStudent rows: %w", err)
	}
	return roomList, nil
}

func (r *RoomRepository) AddParticipant(ctx context.Context, p *model.Participant) error {
	defer logger.DeferLogDuration("room.AddParticipant", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO participants (room_id, user_id, is_admin, is_muted, joined_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (room_id, user_id) DO UPDATE SET is_admin = EXCLUDED.is_admin`,
		p.RoomID, p.UserID, p.IsAdmin, p.IsMuted, p.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.AddParticipant: %w", err)
	}
	return nil
}

func (r *RoomRepository) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	defer logger.DeferLogDuration("room.RemoveParticipant", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM participants WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return fmt.Errorf("roomRepo.RemoveParticipant: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetParticipant(ctx context.Context, roomID, userID string) (*model.Participant, error) {
	defer logger.DeferLogDuration("room.GetParticipant", time.Now())()
	p := &model.Participant{}
	err := r.pool.QueryRow(ctx,
		`SELECT room_id, user_id, is_admin, is_muted, last_read_at, joined_at
		 FROM participants WHERE room_id = $1 AND user_id = $2`, roomID, userID,
	).Scan(&p.RoomID, &p.UserID, &p.IsAdmin, &p.IsMuted, &p.LastReadAt, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetParticipant: %w", err)
	}
	return p, nil
}

func (r *RoomRepository) Participants(ctx context.Context, roomID string) ([]model.Participant, error) {
	defer logger.DeferLogDuration("room.Participants", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT room_id, user_id, is_admin, is_muted, last_read_at, joined_at
		 FROM participants WHERE room_id = $1 ORDER BY joined_at`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.Participants query: %w", err)
	}
	defer rows.Close()

	list := make([]model.Participant, 0, 8)
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.IsAdmin, &p.IsMuted, &p.LastReadAt, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("roomRepo.Participants scan: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.Participants rows: %w", err)
	}
	return list, nil
}

func (r *RoomRepository) ParticipantIDs(ctx context.Context, roomID string) ([]string, error) {
	defer logger.DeferLogDuration("room.ParticipantIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM participants WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ParticipantIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("roomRepo.ParticipantIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.ParticipantIDs rows: %w", err)
	}
	return ids, nil
}

func (r *RoomRepository) UpdateLastRead(ctx context.Context, roomID, userID string, at time.Time) error {
	defer logger.DeferLogDuration("room.UpdateLastRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE participants SET last_read_at = $3 WHERE room_id = $1 AND user_id = $2`,
		roomID, userID, at,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.UpdateLastRead: %w", err)
	}
	return nil
}
