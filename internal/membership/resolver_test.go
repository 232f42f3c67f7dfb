package membership

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/tutorlink/internal/events"
	"github.com/tutorlink/internal/model"
	"github.com/tutorlink/internal/repository"
)

type fakeRooms struct {
	rooms        map[string]*model.ChatRoom
	participants map[string]map[string]model.Participant // roomID -> userID -> row
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		rooms:        make(map[string]*model.ChatRoom),
		participants: make(map[string]map[string]model.Participant),
	}
}

func (f *fakeRooms) addRoom(r *model.ChatRoom) {
	f.rooms[r.ID] = r
	if f.participants[r.ID] == nil {
		f.participants[r.ID] = make(map[string]model.Participant)
	}
}

func (f *fakeRooms) GetByID(_ context.Context, id string) (*model.ChatRoom, error) {
	r, ok := f.rooms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

func (f *fakeRooms) EnsureForumSubjectRoom(_ context.Context, enrollmentID, name string) (*model.ChatRoom, error) {
	for _, r := range f.rooms {
		if r.Kind == model.RoomKindForumSubject && r.EnrollmentID != nil && *r.EnrollmentID == enrollmentID {
			return r, nil
		}
	}
	id := "room-enr-" + enrollmentID
	r := &model.ChatRoom{ID: id, Kind: model.RoomKindForumSubject, Name: name, EnrollmentID: &enrollmentID, IsActive: true}
	f.addRoom(r)
	return r, nil
}

func (f *fakeRooms) EnsureForumTutorRoom(_ context.Context, assignmentID, name string) (*model.ChatRoom, error) {
	for _, r := range f.rooms {
		if r.Kind == model.RoomKindForumTutor && r.TutorAssignmentID != nil && *r.TutorAssignmentID == assignmentID {
			return r, nil
		}
	}
	id := "room-asg-" + assignmentID
	r := &model.ChatRoom{ID: id, Kind: model.RoomKindForumTutor, Name: name, TutorAssignmentID: &assignmentID, IsActive: true}
	f.addRoom(r)
	return r, nil
}

func (f *fakeRooms) ForumRoomsByStudent(ctx context.Context, studentID string) ([]model.ChatRoom, error) {
	var out []model.ChatRoom
	for _, r := range f.rooms {
		if !r.Kind.IsForum() {
			continue
		}
		if _, ok := f.participants[r.ID][studentID]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRooms) AddParticipant(_ context.Context, p *model.Participant) error {
	m := f.participants[p.RoomID]
	if m == nil {
		m = make(map[string]model.Participant)
		f.participants[p.RoomID] = m
	}
	if prev, ok := m[p.UserID]; ok {
		// Upsert keeps per-user state, only the admin flag moves.
		prev.IsAdmin = p.IsAdmin
		m[p.UserID] = prev
		return nil
	}
	m[p.UserID] = *p
	return nil
}

func (f *fakeRooms) RemoveParticipant(_ context.Context, roomID, userID string) error {
	delete(f.participants[roomID], userID)
	return nil
}

func (f *fakeRooms) GetParticipant(_ context.Context, roomID, userID string) (*model.Participant, error) {
	p, ok := f.participants[roomID][userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (f *fakeRooms) Participants(_ context.Context, roomID string) ([]model.Participant, error) {
	var out []model.Participant
	for _, p := range f.participants[roomID] {
		out = append(out, p)
	}
	return out, nil
}

type fakeProfiles struct {
	enrollments map[string]*model.Enrollment
	assignments map[string]*model.TutorAssignment
	parents     map[string]string
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		enrollments: make(map[string]*model.Enrollment),
		assignments: make(map[string]*model.TutorAssignment),
		parents:     make(map[string]string),
	}
}

func (f *fakeProfiles) GetEnrollment(_ context.Context, id string) (*model.Enrollment, error) {
	e, ok := f.enrollments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

func (f *fakeProfiles) GetTutorAssignment(_ context.Context, id string) (*model.TutorAssignment, error) {
	a, ok := f.assignments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeProfiles) GetStudentParent(_ context.Context, studentID string) (string, error) {
	return f.parents[studentID], nil
}

func memberIDs(t *testing.T, rooms *fakeRooms, roomID string) []string {
	t.Helper()
	ps, err := rooms.Participants(context.Background(), roomID)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.UserID)
	}
	sort.Strings(ids)
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func subjectFixture() (*fakeRooms, *fakeProfiles, *model.ChatRoom) {
	rooms := newFakeRooms()
	profiles := newFakeProfiles()
	profiles.enrollments["e1"] = &model.Enrollment{ID: "e1", StudentID: "student", TeacherID: "teacher", Subject: "Math"}
	enrID := "e1"
	room := &model.ChatRoom{ID: "r1", Kind: model.RoomKindForumSubject, EnrollmentID: &enrID}
	rooms.addRoom(room)
	return rooms, profiles, room
}

func TestResolveForumSubject(t *testing.T) {
	rooms, profiles, room := subjectFixture()
	profiles.parents["student"] = "parent"
	r := NewResolver(rooms, profiles)

	got, err := r.Resolve(context.Background(), room)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := map[string]bool{"student": false, "teacher": true, "parent": false}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for id, admin := range want {
		if a, ok := got[id]; !ok || a != admin {
			t.Errorf("member %s: got (%v,%v), want admin=%v", id, a, ok, admin)
		}
	}
}

func TestResolveForumSubjectNoParent(t *testing.T) {
	rooms, profiles, room := subjectFixture()
	r := NewResolver(rooms, profiles)

	got, err := r.Resolve(context.Background(), room)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want student and teacher only", got)
	}
	if _, ok := got["parent"]; ok {
		t.Error("parentless student must not yield a parent seat")
	}
}

func TestResolveForumTutor(t *testing.T) {
	rooms := newFakeRooms()
	profiles := newFakeProfiles()
	profiles.assignments["a1"] = &model.TutorAssignment{ID: "a1", StudentID: "student", TutorID: "tutor"}
	asgID := "a1"
	room := &model.ChatRoom{ID: "r2", Kind: model.RoomKindForumTutor, TutorAssignmentID: &asgID}
	rooms.addRoom(room)
	r := NewResolver(rooms, profiles)

	got, err := r.Resolve(context.Background(), room)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !got["tutor"] || got["student"] {
		t.Errorf("got %v, want tutor admin and student non-admin", got)
	}
}

func TestResolveExplicitKindsAreAuthoritative(t *testing.T) {
	rooms := newFakeRooms()
	r := NewResolver(rooms, newFakeProfiles())
	for _, kind := range []model.RoomKind{model.RoomKindDirect, model.RoomKindGroup, model.RoomKindClass, model.RoomKindGeneral} {
		got, err := r.Resolve(context.Background(), &model.ChatRoom{ID: "x", Kind: kind})
		if err != nil {
			t.Fatalf("Resolve %s: %v", kind, err)
		}
		if got != nil {
			t.Errorf("kind %s: expected nil authority, got %v", kind, got)
		}
	}
}

func TestReconcileAppliesSymmetricDiff(t *testing.T) {
	rooms, profiles, room := subjectFixture()
	profiles.parents["student"] = "parent"
	ctx := context.Background()

	// Stale cache: an intruder, a demoted teacher, and no parent row.
	rooms.AddParticipant(ctx, &model.Participant{RoomID: "r1", UserID: "intruder"})
	rooms.AddParticipant(ctx, &model.Participant{RoomID: "r1", UserID: "teacher", IsAdmin: false})
	rooms.AddParticipant(ctx, &model.Participant{RoomID: "r1", UserID: "student"})

	r := NewResolver(rooms, profiles)
	if err := r.Reconcile(ctx, room); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if got, want := memberIDs(t, rooms, "r1"), []string{"parent", "student", "teacher"}; !equalIDs(got, want) {
		t.Fatalf("members = %v, want %v", got, want)
	}
	teach, err := rooms.GetParticipant(ctx, "r1", "teacher")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if !teach.IsAdmin {
		t.Error("teacher admin flag not repaired")
	}
}

func TestReconcilePreservesParticipantState(t *testing.T) {
	rooms, profiles, room := subjectFixture()
	ctx := context.Background()

	read := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rooms.AddParticipant(ctx, &model.Participant{RoomID: "r1", UserID: "student", IsMuted: true, LastReadAt: &read})

	r := NewResolver(rooms, profiles)
	if err := r.Reconcile(ctx, room); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	p, err := rooms.GetParticipant(ctx, "r1", "student")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if !p.IsMuted {
		t.Error("mute flag lost across reconciliation")
	}
	if p.LastReadAt == nil || !p.LastReadAt.Equal(read) {
		t.Errorf("last_read_at = %v, want %v", p.LastReadAt, read)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	rooms, profiles, room := subjectFixture()
	profiles.parents["student"] = "parent"
	r := NewResolver(rooms, profiles)
	ctx := context.Background()

	if err := r.Reconcile(ctx, room); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	first := memberIDs(t, rooms, "r1")
	if err := r.Reconcile(ctx, room); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if got := memberIDs(t, rooms, "r1"); !equalIDs(got, first) {
		t.Errorf("second pass changed members: %v -> %v", first, got)
	}
}

func TestTutorReassignmentSwapsSeat(t *testing.T) {
	rooms := newFakeRooms()
	profiles := newFakeProfiles()
	profiles.assignments["a1"] = &model.TutorAssignment{ID: "a1", StudentID: "student", TutorID: "tutor1"}
	asgID := "a1"
	room := &model.ChatRoom{ID: "r2", Kind: model.RoomKindForumTutor, TutorAssignmentID: &asgID}
	rooms.addRoom(room)
	r := NewResolver(rooms, profiles)
	ctx := context.Background()

	if err := r.Reconcile(ctx, room); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	profiles.assignments["a1"].TutorID = "tutor2"
	if err := r.Reconcile(ctx, room); err != nil {
		t.Fatalf("Reconcile after reassignment: %v", err)
	}

	if got, want := memberIDs(t, rooms, "r2"), []string{"student", "tutor2"}; !equalIDs(got, want) {
		t.Fatalf("members = %v, want %v", got, want)
	}
	if _, err := rooms.GetParticipant(ctx, "r2", "tutor1"); !errors.Is(err, repository.ErrNotFound) {
		t.Error("replaced tutor still holds a seat")
	}
}

func TestEnsureAccessLazyReconcile(t *testing.T) {
	rooms, profiles, room := subjectFixture()
	r := NewResolver(rooms, profiles)

	// No participant rows exist yet; the forum kind triggers a repair.
	p, err := r.EnsureAccess(context.Background(), room, "teacher")
	if err != nil {
		t.Fatalf("EnsureAccess: %v", err)
	}
	if !p.IsAdmin {
		t.Error("teacher should be admin after lazy reconcile")
	}
}

func TestEnsureAccessDeniesOutsider(t *testing.T) {
	rooms, profiles, room := subjectFixture()
	r := NewResolver(rooms, profiles)

	if _, err := r.EnsureAccess(context.Background(), room, "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

func TestEnsureAccessExplicitRoomDoesNotReconcile(t *testing.T) {
	rooms := newFakeRooms()
	room := &model.ChatRoom{ID: "d1", Kind: model.RoomKindDirect}
	rooms.addRoom(room)
	r := NewResolver(rooms, newFakeProfiles())

	if _, err := r.EnsureAccess(context.Background(), room, "u1"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
	if got := memberIDs(t, rooms, "d1"); len(got) != 0 {
		t.Errorf("explicit room grew members from a denied access: %v", got)
	}
}

func TestHandleEventEnrollmentCreatesAndFillsRoom(t *testing.T) {
	rooms := newFakeRooms()
	profiles := newFakeProfiles()
	profiles.enrollments["e1"] = &model.Enrollment{ID: "e1", StudentID: "student", TeacherID: "teacher", Subject: "Math"}
	r := NewResolver(rooms, profiles)
	ctx := context.Background()

	err := r.HandleEvent(ctx, events.EnrollmentCreated{EnrollmentID: "e1", StudentID: "student", TeacherID: "teacher", Subject: "Math"})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	room, err := rooms.EnsureForumSubjectRoom(ctx, "e1", "")
	if err != nil {
		t.Fatalf("EnsureForumSubjectRoom: %v", err)
	}
	if got, want := memberIDs(t, rooms, room.ID), []string{"student", "teacher"}; !equalIDs(got, want) {
		t.Errorf("members = %v, want %v", got, want)
	}
}

func TestHandleEventParentAssigned(t *testing.T) {
	rooms, profiles, room := subjectFixture()
	r := NewResolver(rooms, profiles)
	ctx := context.Background()

	if err := r.Reconcile(ctx, room); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	profiles.parents["student"] = "parent"
	if err := r.HandleEvent(ctx, events.ParentAssigned{StudentID: "student", ParentID: "parent"}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if _, err := rooms.GetParticipant(ctx, "r1", "parent"); err != nil {
		t.Errorf("parent not seated after assignment: %v", err)
	}

	delete(profiles.parents, "student")
	if err := r.HandleEvent(ctx, events.ParentUnassigned{StudentID: "student", ParentID: "parent"}); err != nil {
		t.Fatalf("HandleEvent unassign: %v", err)
	}
	if _, err := rooms.GetParticipant(ctx, "r1", "parent"); !errors.Is(err, repository.ErrNotFound) {
		t.Error("parent still seated after unassignment")
	}
}
