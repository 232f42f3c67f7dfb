package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tutorlink/internal/events"
	"github.com/tutorlink/internal/model"
	"github.com/tutorlink/internal/repository"
)

// ProfileStore is the relationship-write slice of the profile repository.
type ProfileStore interface {
	CreateEnrollment(ctx context.Context, e *model.Enrollment) error
	CreateTutorAssignment(ctx context.Context, a *model.TutorAssignment) error
	GetTutorAssignment(ctx context.Context, id string) (*model.TutorAssignment, error)
	UpdateAssignmentTutor(ctx context.Context, assignmentID, tutorID string) error
	GetStudentParent(ctx context.Context, studentID string) (string, error)
	SetStudentParent(ctx context.Context, studentID, parentID string) error
	ClearStudentParent(ctx context.Context, studentID string) error
}

// ProfileHandler exposes the internal endpoints the CRM calls when the
// tutoring relationships change. Each write publishes its event on the bus
// so forum membership follows automatically.
type ProfileHandler struct {
	profiles ProfileStore
	bus      *events.Bus
}

func NewProfileHandler(profiles ProfileStore, bus *events.Bus) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, bus: bus}
}

var _ ProfileStore = (*repository.ProfileRepository)(nil)

type createEnrollmentRequest struct {
	StudentID string `json:"student_id"`
	TeacherID string `json:"teacher_id"`
	Subject   string `json:"subject"`
}

// CreateEnrollment handles POST /internal/enrollments.
func (h *ProfileHandler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req createEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.StudentID == "" || req.TeacherID == "" || req.Subject == "" {
		writeError(w, http.StatusBadRequest, "student_id, teacher_id and subject required")
		return
	}

	e := &model.Enrollment{
		ID:        uuid.New().String(),
		StudentID: req.StudentID,
		TeacherID: req.TeacherID,
		Subject:   req.Subject,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.profiles.CreateEnrollment(r.Context(), e); err != nil {
		writeServiceError(w, err)
		return
	}

	h.bus.Publish(r.Context(), events.EnrollmentCreated{
		EnrollmentID: e.ID,
		StudentID:    e.StudentID,
		TeacherID:    e.TeacherID,
		Subject:      e.Subject,
	})
	writeJSON(w, http.StatusCreated, e)
}

type createAssignmentRequest struct {
	StudentID string `json:"student_id"`
	TutorID   string `json:"tutor_id"`
}

// CreateTutorAssignment handles POST /internal/tutor-assignments.
func (h *ProfileHandler) CreateTutorAssignment(w http.ResponseWriter, r *http.Request) {
	var req createAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.StudentID == "" || req.TutorID == "" {
		writeError(w, http.StatusBadRequest, "student_id and tutor_id required")
		return
	}

	a := &model.TutorAssignment{
		ID:        uuid.New().String(),
		StudentID: req.StudentID,
		TutorID:   req.TutorID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.profiles.CreateTutorAssignment(r.Context(), a); err != nil {
		writeServiceError(w, err)
		return
	}

	h.bus.Publish(r.Context(), events.TutorAssignmentCreated{
		AssignmentID: a.ID,
		StudentID:    a.StudentID,
		TutorID:      a.TutorID,
	})
	writeJSON(w, http.StatusCreated, a)
}

type setParentRequest struct {
	ParentID string `json:"parent_id"`
}

// SetParent handles PUT /internal/students/{studentID}/parent. An empty
// parent_id removes the link.
func (h *ProfileHandler) SetParent(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")

	var req setParentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	previous, err := h.profiles.GetStudentParent(r.Context(), studentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if req.ParentID == "" {
		if previous == "" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		if err := h.profiles.ClearStudentParent(r.Context(), studentID); err != nil {
			writeServiceError(w, err)
			return
		}
		h.bus.Publish(r.Context(), events.ParentUnassigned{
			StudentID: studentID,
			ParentID:  previous,
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := h.profiles.SetStudentParent(r.Context(), studentID, req.ParentID); err != nil {
		writeServiceError(w, err)
		return
	}
	h.bus.Publish(r.Context(), events.ParentAssigned{
		StudentID: studentID,
		ParentID:  req.ParentID,
		Previous:  previous,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setTutorRequest struct {
	TutorID string `json:"tutor_id"`
}

// SetAssignmentTutor handles PUT /internal/tutor-assignments/{assignmentID}/tutor.
// Replacing the tutor revokes the previous tutor's forum access and grants
// the new one's.
func (h *ProfileHandler) SetAssignmentTutor(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignmentID")

	var req setTutorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TutorID == "" {
		writeError(w, http.StatusBadRequest, "tutor_id required")
		return
	}

	current, err := h.profiles.GetTutorAssignment(r.Context(), assignmentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if current.TutorID == req.TutorID {
		writeJSON(w, http.StatusOK, current)
		return
	}

	if err := h.profiles.UpdateAssignmentTutor(r.Context(), assignmentID, req.TutorID); err != nil {
		writeServiceError(w, err)
		return
	}
	h.bus.Publish(r.Context(), events.TutorChanged{
		AssignmentID: assignmentID,
		StudentID:    current.StudentID,
		TutorID:      req.TutorID,
		Previous:     current.TutorID,
	})

	current.TutorID = req.TutorID
	writeJSON(w, http.StatusOK, current)
}
