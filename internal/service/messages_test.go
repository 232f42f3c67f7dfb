package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tutorlink/internal/admission"
	"github.com/tutorlink/internal/membership"
	"github.com/tutorlink/internal/model"
	"github.com/tutorlink/internal/repository"
)

type fakeMessages struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{byID: make(map[int64]*model.Message)}
}

func (f *fakeMessages) Create(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = f.nextID
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	f.byID[m.ID] = &cp
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id int64) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessages) List(_ context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for id := int64(1); id <= f.nextID; id++ {
		m, ok := f.byID[id]
		if !ok || m.RoomID != roomID || m.IsDeleted {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeMessages) ListAudit(_ context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for id := int64(1); id <= f.nextID; id++ {
		m, ok := f.byID[id]
		if !ok || m.RoomID != roomID {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeMessages) History(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	msgs, _ := f.List(ctx, roomID, limit, 0)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeMessages) Edit(_ context.Context, id int64, content string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Content = content
	m.IsEdited = true
	m.UpdatedAt = at
	return nil
}

func (f *fakeMessages) SoftDelete(_ context.Context, id int64, deletedBy string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.IsDeleted = true
	m.DeletedBy = &deletedBy
	m.DeletedAt = &at
	m.UpdatedAt = at
	return nil
}

type fakeThreads struct {
	byID map[int64]*model.MessageThread
}

func (f *fakeThreads) Create(_ context.Context, t *model.MessageThread) error {
	t.ID = int64(len(f.byID) + 1)
	f.byID[t.ID] = t
	return nil
}

func (f *fakeThreads) GetByID(_ context.Context, id int64) (*model.MessageThread, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeThreads) ListByRoom(_ context.Context, roomID string) ([]model.MessageThread, error) {
	var out []model.MessageThread
	for _, t := range f.byID {
		if t.RoomID == roomID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeThreads) SetPinned(_ context.Context, id int64, pinned bool) error {
	f.byID[id].IsPinned = pinned
	return nil
}

func (f *fakeThreads) SetLocked(_ context.Context, id int64, locked bool) error {
	f.byID[id].IsLocked = locked
	return nil
}

type fakeRoomStore struct {
	rooms        map[string]*model.ChatRoom
	participants map[string]map[string]*model.Participant
	lastRead     map[string]time.Time
}

func newFakeRoomStore() *fakeRoomStore {
	return &fakeRoomStore{
		rooms:        make(map[string]*model.ChatRoom),
		participants: make(map[string]map[string]*model.Participant),
		lastRead:     make(map[string]time.Time),
	}
}

func (f *fakeRoomStore) seat(roomID, userID string, admin, muted bool) {
	if f.participants[roomID] == nil {
		f.participants[roomID] = make(map[string]*model.Participant)
	}
	f.participants[roomID][userID] = &model.Participant{
		RoomID: roomID, UserID: userID, IsAdmin: admin, IsMuted: muted,
	}
}

func (f *fakeRoomStore) GetByID(_ context.Context, id string) (*model.ChatRoom, error) {
	r, ok := f.rooms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

func (f *fakeRoomStore) ParticipantIDs(_ context.Context, roomID string) ([]string, error) {
	var out []string
	for uid := range f.participants[roomID] {
		out = append(out, uid)
	}
	return out, nil
}

func (f *fakeRoomStore) UpdateLastRead(_ context.Context, roomID, userID string, at time.Time) error {
	f.lastRead[roomID+"/"+userID] = at
	return nil
}

// fakeAccess checks the fakeRoomStore's seats directly, standing in for the
// membership resolver.
type fakeAccess struct {
	store *fakeRoomStore
}

func (f *fakeAccess) EnsureAccess(_ context.Context, room *model.ChatRoom, userID string) (*model.Participant, error) {
	p, ok := f.store.participants[room.ID][userID]
	if !ok {
		return nil, membership.ErrNotParticipant
	}
	return p, nil
}

type fakeAdmitter struct {
	err   error
	calls int
}

func (f *fakeAdmitter) AllowMessage(context.Context, string) error {
	f.calls++
	return f.err
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	created []*model.Message
	edited  []*model.Message
	deleted []*model.Message
}

func (b *recordingBroadcaster) MessageCreated(m *model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, m)
}

func (b *recordingBroadcaster) MessageEdited(m *model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edited = append(b.edited, m)
}

func (b *recordingBroadcaster) MessageDeleted(m *model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, m)
}

type fakeUsers struct{}

func (fakeUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, Username: "user-" + id, Role: model.RoleStudent}, nil
}

type fixture struct {
	svc      *MessageService
	store    *fakeRoomStore
	messages *fakeMessages
	threads  *fakeThreads
	admit    *fakeAdmitter
	bcast    *recordingBroadcaster
}

func newFixture() *fixture {
	store := newFakeRoomStore()
	store.rooms["r1"] = &model.ChatRoom{ID: "r1", Kind: model.RoomKindGeneral, IsActive: true}
	store.seat("r1", "alice", false, false)
	store.seat("r1", "bob", false, false)
	store.seat("r1", "mod", true, false)

	messages := newFakeMessages()
	threads := &fakeThreads{byID: make(map[int64]*model.MessageThread)}
	admit := &fakeAdmitter{}
	svc := NewMessageService(store, &fakeAccess{store: store}, admit, messages, threads, fakeUsers{}, nil, 0, 0)
	bcast := &recordingBroadcaster{}
	svc.SetBroadcaster(bcast)
	return &fixture{svc: svc, store: store, messages: messages, threads: threads, admit: admit, bcast: bcast}
}

func TestSendStoresAndBroadcasts(t *testing.T) {
	f := newFixture()
	m, err := f.svc.Send(context.Background(), "r1", "alice", "hello", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.ID == 0 {
		t.Error("message not assigned an id")
	}
	if m.Sender == nil || m.Sender.Username != "user-alice" {
		t.Errorf("sender not attached: %+v", m.Sender)
	}
	if len(f.bcast.created) != 1 || f.bcast.created[0].ID != m.ID {
		t.Errorf("broadcast = %v, want the stored message", f.bcast.created)
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture()
	long := make([]rune, model.MaxContentLength+1)
	for i := range long {
		long[i] = 'x'
	}
	for name, content := range map[string]string{"empty": "", "too long": string(long)} {
		if _, err := f.svc.Send(context.Background(), "r1", "alice", content, nil); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", name, err)
		}
	}
	if len(f.bcast.created) != 0 {
		t.Error("invalid send must not broadcast")
	}
}

func TestSendNonParticipant(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Send(context.Background(), "r1", "stranger", "hi", nil); !errors.Is(err, membership.ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

func TestSendMutedParticipant(t *testing.T) {
	f := newFixture()
	f.store.seat("r1", "quiet", false, true)
	if _, err := f.svc.Send(context.Background(), "r1", "quiet", "hi", nil); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture()
	f.admit.err = &admission.RateLimitError{RetryAfter: 30 * time.Second}

	_, err := f.svc.Send(context.Background(), "r1", "alice", "hi", nil)
	var rl *admission.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rl.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v", rl.RetryAfter)
	}
	if msgs, _ := f.messages.List(context.Background(), "r1", 100, 0); len(msgs) != 0 {
		t.Error("denied send was persisted")
	}
}

func TestSendLockedThread(t *testing.T) {
	f := newFixture()
	f.threads.byID[1] = &model.MessageThread{ID: 1, RoomID: "r1", Title: "t", IsLocked: true}
	id := int64(1)
	if _, err := f.svc.Send(context.Background(), "r1", "alice", "hi", &id); !errors.Is(err, ErrThreadLocked) {
		t.Fatalf("err = %v, want ErrThreadLocked", err)
	}
	if f.admit.calls != 0 {
		t.Error("locked thread must reject before spending admission budget")
	}
}

func TestSendThreadFromOtherRoom(t *testing.T) {
	f := newFixture()
	f.threads.byID[1] = &model.MessageThread{ID: 1, RoomID: "other", Title: "t"}
	id := int64(1)
	if _, err := f.svc.Send(context.Background(), "r1", "alice", "hi", &id); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestSendWithoutBroadcasterStillStores(t *testing.T) {
	f := newFixture()
	f.svc.SetBroadcaster(nil)
	m, err := f.svc.Send(context.Background(), "r1", "alice", "hello", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got, _ := f.messages.GetByID(context.Background(), m.ID); got == nil {
		t.Fatal("message not stored")
	}
}

func TestEditSenderOnly(t *testing.T) {
	f := newFixture()
	m, _ := f.svc.Send(context.Background(), "r1", "alice", "first", nil)

	// Admin status does not grant edit rights.
	if _, err := f.svc.Edit(context.Background(), m.ID, "mod", "hijack"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("admin edit err = %v, want ErrPermissionDenied", err)
	}

	got, err := f.svc.Edit(context.Background(), m.ID, "alice", "second")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got.Content != "second" || !got.IsEdited {
		t.Errorf("edited = %+v", got)
	}
	if len(f.bcast.edited) != 1 {
		t.Errorf("edit broadcasts = %d, want 1", len(f.bcast.edited))
	}
}

func TestEditDeletedMessage(t *testing.T) {
	f := newFixture()
	m, _ := f.svc.Send(context.Background(), "r1", "alice", "first", nil)
	if _, err := f.svc.Delete(context.Background(), m.ID, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.svc.Edit(context.Background(), m.ID, "alice", "second"); !errors.Is(err, ErrDeleted) {
		t.Fatalf("err = %v, want ErrDeleted", err)
	}
}

func TestDeleteBySenderAndAdmin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m1, _ := f.svc.Send(ctx, "r1", "alice", "mine", nil)
	m2, _ := f.svc.Send(ctx, "r1", "bob", "bobs", nil)

	if _, err := f.svc.Delete(ctx, m1.ID, "alice"); err != nil {
		t.Fatalf("sender delete: %v", err)
	}
	if _, err := f.svc.Delete(ctx, m2.ID, "alice"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("peer delete err = %v, want ErrPermissionDenied", err)
	}
	got, err := f.svc.Delete(ctx, m2.ID, "mod")
	if err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if got.DeletedBy == nil || *got.DeletedBy != "mod" {
		t.Errorf("deleted_by = %v, want mod", got.DeletedBy)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m, _ := f.svc.Send(ctx, "r1", "alice", "mine", nil)

	first, err := f.svc.Delete(ctx, m.ID, "alice")
	if err != nil {
		t.Fatalf("first delete: %v", err)
	}
	again, err := f.svc.Delete(ctx, m.ID, "mod")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if *again.DeletedBy != *first.DeletedBy {
		t.Errorf("second delete rewrote deleted_by: %s -> %s", *first.DeletedBy, *again.DeletedBy)
	}
	if len(f.bcast.deleted) != 1 {
		t.Errorf("delete broadcasts = %d, want exactly 1", len(f.bcast.deleted))
	}
}

func TestListHidesDeletedAuditShowsAll(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.svc.Send(ctx, "r1", "alice", "keep", nil)
	m2, _ := f.svc.Send(ctx, "r1", "alice", "drop", nil)
	if _, err := f.svc.Delete(ctx, m2.ID, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	visible, err := f.svc.List(ctx, "r1", "bob", 50, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(visible) != 1 || visible[0].Content != "keep" {
		t.Errorf("List = %v, want only the surviving message", visible)
	}

	if _, err := f.svc.ListAudit(ctx, "r1", "bob", 50, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("non-admin audit err = %v, want ErrPermissionDenied", err)
	}
	audit, err := f.svc.ListAudit(ctx, "r1", "mod", 50, 0)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(audit) != 2 {
		t.Errorf("audit rows = %d, want 2 with the deleted one included", len(audit))
	}
}

func TestMarkRead(t *testing.T) {
	f := newFixture()
	if err := f.svc.MarkRead(context.Background(), "r1", "alice", nil); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if _, ok := f.store.lastRead["r1/alice"]; !ok {
		t.Error("read cursor not advanced")
	}
}

func TestMarkReadAnchoredToMessage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m, _ := f.svc.Send(ctx, "r1", "alice", "hello", nil)

	if err := f.svc.MarkRead(ctx, "r1", "bob", &m.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := f.store.lastRead["r1/bob"]; !got.Equal(m.CreatedAt) {
		t.Errorf("cursor = %v, want the message's created_at %v", got, m.CreatedAt)
	}
}

func TestMarkReadRejectsForeignMessage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.rooms["r2"] = &model.ChatRoom{ID: "r2", Kind: model.RoomKindGeneral, IsActive: true}
	f.store.seat("r2", "alice", false, false)
	m, _ := f.svc.Send(ctx, "r2", "alice", "elsewhere", nil)

	if err := f.svc.MarkRead(ctx, "r1", "alice", &m.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestThreadModeration(t *testing.T) {
	f := newFixture()
	ts := NewThreadService(f.store, &fakeAccess{store: f.store}, f.threads)
	ctx := context.Background()

	th, err := ts.Create(ctx, "r1", "alice", "  Homework help  ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if th.Title != "Homework help" {
		t.Errorf("title = %q, want trimmed", th.Title)
	}

	if err := ts.SetPinned(ctx, th.ID, "alice", true); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("non-admin pin err = %v, want ErrPermissionDenied", err)
	}
	if err := ts.SetLocked(ctx, th.ID, "mod", true); err != nil {
		t.Fatalf("admin lock: %v", err)
	}

	id := th.ID
	if _, err := f.svc.Send(ctx, "r1", "alice", "hi", &id); !errors.Is(err, ErrThreadLocked) {
		t.Fatalf("send into locked thread err = %v, want ErrThreadLocked", err)
	}
}

func TestThreadCreateValidation(t *testing.T) {
	f := newFixture()
	ts := NewThreadService(f.store, &fakeAccess{store: f.store}, f.threads)
	if _, err := ts.Create(context.Background(), "r1", "alice", "   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank title err = %v, want ErrValidation", err)
	}
}
