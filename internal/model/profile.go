package model

import "time"

// Enrollment links a student to a teacher for a subject. Forum-by-subject
// rooms hang off enrollments; one forum room per enrollment.
type Enrollment struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	TeacherID string    `json:"teacher_id"`
	Subject   string    `json:"subject"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// TutorAssignment links a student to a tutor. Forum-by-tutor rooms hang off
// these assignments.
type TutorAssignment struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	TutorID   string    `json:"tutor_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
