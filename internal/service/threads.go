package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tutorlink/internal/logger"
	"github.com/tutorlink/internal/model"
)

// ThreadService covers forum thread creation and moderation. Any
// participant may open a thread; pinning and locking are admin actions.
type ThreadService struct {
	rooms   RoomStore
	access  AccessChecker
	threads ThreadStore
}

func NewThreadService(rooms RoomStore, access AccessChecker, threads ThreadStore) *ThreadService {
	return &ThreadService{rooms: rooms, access: access, threads: threads}
}

func (s *ThreadService) Create(ctx context.Context, roomID, userID, title string) (*model.MessageThread, error) {
	defer logger.DeferLogDuration("svc.CreateThread", time.Now())()

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is empty", ErrValidation)
	}
	if len([]rune(title)) > 200 {
		return nil, fmt.Errorf("%w: title exceeds 200 characters", ErrValidation)
	}

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.EnsureAccess(ctx, room, userID); err != nil {
		return nil, err
	}

	t := &model.MessageThread{
		RoomID:    roomID,
		Title:     title,
		CreatedBy: userID,
	}
	if err := s.threads.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *ThreadService) List(ctx context.Context, roomID, userID string) ([]model.MessageThread, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.EnsureAccess(ctx, room, userID); err != nil {
		return nil, err
	}
	return s.threads.ListByRoom(ctx, roomID)
}

func (s *ThreadService) SetPinned(ctx context.Context, threadID int64, userID string, pinned bool) error {
	if err := s.requireAdmin(ctx, threadID, userID); err != nil {
		return err
	}
	return s.threads.SetPinned(ctx, threadID, pinned)
}

func (s *ThreadService) SetLocked(ctx context.Context, threadID int64, userID string, locked bool) error {
	if err := s.requireAdmin(ctx, threadID, userID); err != nil {
		return err
	}
	return s.threads.SetLocked(ctx, threadID, locked)
}

func (s *ThreadService) requireAdmin(ctx context.Context, threadID int64, userID string) error {
	t, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return err
	}
	room, err := s.rooms.GetByID(ctx, t.RoomID)
	if err != nil {
		return err
	}
	p, err := s.access.EnsureAccess(ctx, room, userID)
	if err != nil {
		return err
	}
	if !p.IsAdmin {
		return fmt.Errorf("%w: thread moderation is admin-only", ErrPermissionDenied)
	}
	return nil
}
