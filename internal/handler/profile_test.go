package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/tutorlink/internal/events"
	"github.com/tutorlink/internal/model"
	"github.com/tutorlink/internal/repository"
)

type fakeProfileStore struct {
	enrollments map[string]*model.Enrollment
	assignments map[string]*model.TutorAssignment
	parents     map[string]string
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{
		enrollments: make(map[string]*model.Enrollment),
		assignments: make(map[string]*model.TutorAssignment),
		parents:     make(map[string]string),
	}
}

func (f *fakeProfileStore) CreateEnrollment(_ context.Context, e *model.Enrollment) error {
	f.enrollments[e.ID] = e
	return nil
}

func (f *fakeProfileStore) CreateTutorAssignment(_ context.Context, a *model.TutorAssignment) error {
	f.assignments[a.ID] = a
	return nil
}

func (f *fakeProfileStore) GetTutorAssignment(_ context.Context, id string) (*model.TutorAssignment, error) {
	a, ok := f.assignments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy, like the real repository, so callers never alias the
	// fake's stored value.
	cp := *a
	return &cp, nil
}

func (f *fakeProfileStore) UpdateAssignmentTutor(_ context.Context, assignmentID, tutorID string) error {
	a, ok := f.assignments[assignmentID]
	if !ok {
		return repository.ErrNotFound
	}
	a.TutorID = tutorID
	return nil
}

func (f *fakeProfileStore) GetStudentParent(_ context.Context, studentID string) (string, error) {
	return f.parents[studentID], nil
}

func (f *fakeProfileStore) SetStudentParent(_ context.Context, studentID, parentID string) error {
	f.parents[studentID] = parentID
	return nil
}

func (f *fakeProfileStore) ClearStudentParent(_ context.Context, studentID string) error {
	delete(f.parents, studentID)
	return nil
}

func collectEvents(bus *events.Bus) *[]events.Event {
	var got []events.Event
	bus.Subscribe(func(_ context.Context, ev events.Event) error {
		got = append(got, ev)
		return nil
	})
	return &got
}

func TestCreateEnrollmentStampsCreatedAt(t *testing.T) {
	store := newFakeProfileStore()
	bus := events.NewBus()
	seen := collectEvents(bus)
	h := NewProfileHandler(store, bus)

	rec := httptest.NewRecorder()
	body := `{"student_id":"s1","teacher_id":"t1","subject":"Math"}`
	h.CreateEnrollment(rec, httptest.NewRequest("POST", "/internal/enrollments", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if len(store.enrollments) != 1 {
		t.Fatalf("enrollments stored = %d, want 1", len(store.enrollments))
	}
	for _, e := range store.enrollments {
		if e.CreatedAt.IsZero() {
			t.Error("enrollment stored with zero created_at")
		}
	}
	if len(*seen) != 1 {
		t.Fatalf("events = %d, want 1", len(*seen))
	}
	if _, ok := (*seen)[0].(events.EnrollmentCreated); !ok {
		t.Errorf("event = %T, want EnrollmentCreated", (*seen)[0])
	}
}

func TestCreateTutorAssignmentStampsCreatedAt(t *testing.T) {
	store := newFakeProfileStore()
	h := NewProfileHandler(store, events.NewBus())

	rec := httptest.NewRecorder()
	body := `{"student_id":"s1","tutor_id":"tu1"}`
	h.CreateTutorAssignment(rec, httptest.NewRequest("POST", "/internal/tutor-assignments", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	for _, a := range store.assignments {
		if a.CreatedAt.IsZero() {
			t.Error("assignment stored with zero created_at")
		}
	}
}

func TestSetAssignmentTutorPublishesChange(t *testing.T) {
	store := newFakeProfileStore()
	store.assignments["a1"] = &model.TutorAssignment{ID: "a1", StudentID: "s1", TutorID: "tu1"}
	bus := events.NewBus()
	seen := collectEvents(bus)
	h := NewProfileHandler(store, bus)

	r := chi.NewRouter()
	r.Put("/internal/tutor-assignments/{assignmentID}/tutor", h.SetAssignmentTutor)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/internal/tutor-assignments/a1/tutor", strings.NewReader(`{"tutor_id":"tu2"}`))
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.assignments["a1"].TutorID != "tu2" {
		t.Errorf("tutor = %s, want tu2", store.assignments["a1"].TutorID)
	}
	if len(*seen) != 1 {
		t.Fatalf("events = %d, want 1", len(*seen))
	}
	tc, ok := (*seen)[0].(events.TutorChanged)
	if !ok || tc.Previous != "tu1" || tc.TutorID != "tu2" {
		t.Errorf("event = %+v", (*seen)[0])
	}

	// Same tutor again is a no-op with no event.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("PUT", "/internal/tutor-assignments/a1/tutor", strings.NewReader(`{"tutor_id":"tu2"}`))
	r.ServeHTTP(rec, req)
	if len(*seen) != 1 {
		t.Errorf("no-op reassignment published an event")
	}
}

func TestSetParentLifecycle(t *testing.T) {
	store := newFakeProfileStore()
	bus := events.NewBus()
	seen := collectEvents(bus)
	h := NewProfileHandler(store, bus)

	r := chi.NewRouter()
	r.Put("/internal/students/{studentID}/parent", h.SetParent)

	do := func(body string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("PUT", "/internal/students/s1/parent", strings.NewReader(body))
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do(`{"parent_id":"p1"}`); code != http.StatusOK {
		t.Fatalf("assign status = %d", code)
	}
	if store.parents["s1"] != "p1" {
		t.Fatalf("parent = %q, want p1", store.parents["s1"])
	}
	if code := do(`{"parent_id":""}`); code != http.StatusOK {
		t.Fatalf("clear status = %d", code)
	}
	if _, ok := store.parents["s1"]; ok {
		t.Error("parent link not cleared")
	}
	// Clearing again when no link exists publishes nothing.
	if code := do(`{"parent_id":""}`); code != http.StatusOK {
		t.Fatalf("repeat clear status = %d", code)
	}

	if len(*seen) != 2 {
		t.Fatalf("events = %d, want assign + unassign only", len(*seen))
	}
	if _, ok := (*seen)[0].(events.ParentAssigned); !ok {
		t.Errorf("first event = %T", (*seen)[0])
	}
	if _, ok := (*seen)[1].(events.ParentUnassigned); !ok {
		t.Errorf("second event = %T", (*seen)[1])
	}
}
