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

type ThreadRepository struct {
	pool *pgxpool.Pool
}

func NewThreadRepository(pool *pgxpool.Pool) *ThreadRepository {
	return &ThreadRepository{pool: pool}
}

func (r *ThreadRepository) Create(ctx context.Context, t *model.MessageThread) error {
	defer logger.DeferLogDuration("thread.Create", time.Now())()
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO message_threads (room_id, title, created_by, is_pinned, is_locked, created_at)
		 VALUES ($1, $2, $3, false, false, $4)
		 RETURNING id`,
		t.RoomID, t.Title, t.CreatedBy, now,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("threadRepo.Create: %w", err)
	}
	t.CreatedAt = now
	return nil
}

func (r *ThreadRepository) GetByID(ctx context.Context, id int64) (*model.MessageThread, error) {
	defer logger.DeferLogDuration("thread.GetByID", time.Now())()
	t := &model.MessageThread{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, room_id, title, created_by, is_pinned, is_locked, created_at
		 FROM message_threads WHERE id = $1`, id,
	).Scan(&t.ID, &t.RoomID, &t.Title, &t.CreatedBy, &t.IsPinned, &t.IsLocked, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("threadRepo.GetByID: %w", err)
	}
	return t, nil
}

func (r *ThreadRepository) ListByRoom(ctx context.Context, roomID string) ([]model.MessageThread, error) {
	defer logger.DeferLogDuration("thread.ListByRoom", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_id, title, created_by, is_pinned, is_locked, created_at
		 FROM message_threads WHERE room_id = $1
		 ORDER BY is_pinned DESC, created_at`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("threadRepo.ListByRoom query: %w", err)
	}
	defer rows.Close()

	threads := make([]model.MessageThread, 0, 8)
	for rows.Next() {
		var t model.MessageThread
		if err := rows.Scan(&t.ID, &t.RoomID, &t.Title, &t.CreatedBy, &t.IsPinned, &t.IsLocked, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("threadRepo.ListByRoom scan: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("threadRepo.ListByRoom rows: %w", err)
	}
	return threads, nil
}

func (r *ThreadRepository) SetPinned(ctx context.Context, id int64, pinned bool) error {
	defer logger.DeferLogDuration("thread.SetPinned", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE message_threads SET is_pinned = $2 WHERE id = $1`, id, pinned)
	if err != nil {
		return fmt.Errorf("threadRepo.SetPinned: %w", err)
	}
	return nil
}

func (r *ThreadRepository) SetLocked(ctx context.Context, id int64, locked bool) error {
	defer logger.DeferLogDuration("thread.SetLocked", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE message_threads SET is_locked = $2 WHERE id = $1`, id, locked)
	if err != nil {
		return fmt.Errorf("threadRepo.SetLocked: %w", err)
	}
	return nil
}
