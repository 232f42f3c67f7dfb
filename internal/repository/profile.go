package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorlink/internal/logger"
	"github.com/tutorlink/internal/model"
)

// ProfileRepository holds the profile relationships the membership resolver
// derives forum room membership from: enrollments (student-teacher), tutor
// assignments (student-tutor) and the student's current parent link.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

func (r *ProfileRepository) CreateEnrollment(ctx context.Context, e *model.Enrollment) error {
	defer logger.DeferLogDuration("profile.CreateEnrollment", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO enrollments (id, student_id, teacher_id, subject, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.StudentID, e.TeacherID, e.Subject, e.IsActive, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("profileRepo.CreateEnrollment: %w", err)
	}
	return nil
}

func (r *ProfileRepository) GetEnrollment(ctx context.Context, id string) (*model.Enrollment, error) {
	defer logger.DeferLogDuration("profile.GetEnrollment", time.Now())()
	e := &model.Enrollment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, student_id, teacher_id, subject, is_active, created_at
		 FROM enrollments WHERE id = $1`, id,
	).Scan(&e.ID, &e.StudentID, &e.TeacherID, &e.Subject, &e.IsActive, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profileRepo.GetEnrollment: %w", err)
	}
	return e, nil
}

func (r *ProfileRepository) CreateTutorAssignment(ctx context.Context, a *model.TutorAssignment) error {
	defer logger.DeferLogDuration("profile.CreateTutorAssignment", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tutor_assignments (id, student_id, tutor_id, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.StudentID, a.TutorID, a.IsActive, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("profileRepo.CreateTutorAssignment: %w", err)
	}
	return nil
}

func (r *ProfileRepository) GetTutorAssignment(ctx context.Context, id string) (*model.TutorAssignment, error) {
	defer logger.DeferLogDuration("profile.GetTutorAssignment", time.Now())()
	a := &model.TutorAssignment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, student_id, tutor_id, is_active, created_at
		 FROM tutor_assignments WHERE id = $1`, id,
	).Scan(&a.ID, &a.StudentID, &a.TutorID, &a.IsActive, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profileRepo.GetTutorAssignment: %w", err)
	}
	return a, nil
}

// UpdateAssignmentTutor replaces the tutor on an existing assignment.
// Forum-by-tutor rooms hanging off the assignment must be reconciled after.
func (r *ProfileRepository) UpdateAssignmentTutor(ctx context.Context, assignmentID, tutorID string) error {
	defer logger.DeferLogDuration("profile.UpdateAssignmentTutor", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE tutor_assignments SET tutor_id = $2 WHERE id = $1`, assignmentID, tutorID)
	if err != nil {
		return fmt.Errorf("profileRepo.UpdateAssignmentTutor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStudentParent returns the student's current parent, or "" if none.
func (r *ProfileRepository) GetStudentParent(ctx context.Context, studentID string) (string, error) {
	defer logger.DeferLogDuration("profile.GetStudentParent", time.Now())()
	var parentID string
	err := r.pool.QueryRow(ctx,
		`SELECT parent_id FROM parent_links WHERE student_id = $1`, studentID,
	).Scan(&parentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("profileRepo.GetStudentParent: %w", err)
	}
	return parentID, nil
}

// SetStudentParent assigns or replaces the student's parent. One current
// parent per student; the upsert replaces a previous link.
func (r *ProfileRepository) SetStudentParent(ctx context.Context, studentID, parentID string) error {
	defer logger.DeferLogDuration("profile.SetStudentParent", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO parent_links (student_id, parent_id, linked_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (student_id) DO UPDATE SET parent_id = EXCLUDED.parent_id, linked_at = NOW()`,
		studentID, parentID,
	)
	if err != nil {
		return fmt.Errorf("profileRepo.SetStudentParent: %w", err)
	}
	return nil
}

func (r *ProfileRepository) ClearStudentParent(ctx context.Context, studentID string) error {
	defer logger.DeferLogDuration("profile.ClearStudentParent", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM parent_links WHERE student_id = $1`, studentID)
	if err != nil {
		return fmt.Errorf("profileRepo.ClearStudentParent: %w", err)
	}
	return nil
}
