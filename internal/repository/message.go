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

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists a message. The bigserial id and the stamped timestamps are
// written back into m.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO messages (room_id, thread_id, sender_id, content, message_type, is_edited, is_deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, false, false, $6, $6)
		 RETURNING id`,
		m.RoomID, m.ThreadID, m.SenderID, m.Content, m.MessageType, now,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	sender := &model.UserPublic{}
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.room_id, m.thread_id, m.sender_id, m.content, m.message_type,
		        m.is_edited, m.is_deleted, m.deleted_by, m.deleted_at, m.created_at, m.updated_at,
		        u.id, u.username, u.role
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.RoomID, &m.ThreadID, &m.SenderID, &m.Content, &m.MessageType,
		&m.IsEdited, &m.IsDeleted, &m.DeletedBy, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt,
		&sender.ID, &sender.Username, &sender.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	m.Sender = sender
	return m, nil
}

// List returns a page of non-deleted room messages in created_at ascending
// order (ties broken by id, which is monotonic).
func (r *MessageRepository) List(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.room_id, m.thread_id, m.sender_id, m.content, m.message_type,
		        m.is_edited, m.is_deleted, m.deleted_by, m.deleted_at, m.created_at, m.updated_at,
		        u.id, u.username, u.role
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = $1 AND m.is_deleted = false
		 ORDER BY m.created_at, m.id
		 LIMIT $2 OFFSET $3`, roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.List query: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows, limit, "msgRepo.List")
}

// ListAudit returns a page of room messages including soft-deleted rows.
// Content of deleted messages is retained for audit.
func (r *MessageRepository) ListAudit(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListAudit", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.room_id, m.thread_id, m.sender_id, m.content, m.message_type,
		        m.is_edited, m.is_deleted, m.deleted_by, m.deleted_at, m.created_at, m.updated_at,
		        u.id, u.username, u.role
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = $1
		 ORDER BY m.created_at, m.id
		 LIMIT $2 OFFSET $3`, roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListAudit query: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows, limit, "msgRepo.ListAudit")
}

// History returns the last limit non-deleted messages, oldest first, for
// replay to a freshly connected client.
func (r *MessageRepository) History(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.History", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_id, thread_id, sender_id, content, message_type,
		        is_edited, is_deleted, deleted_by, deleted_at, created_at, updated_at,
		        uid, username, role
		 FROM (
			SELECT m.id, m.room_id, m.thread_id, m.sender_id, m.content, m.message_type,
			       m.is_edited, m.is_deleted, m.deleted_by, m.deleted_at, m.created_at, m.updated_at,
			       u.id AS uid, u.username, u.role
			FROM messages m
			JOIN users u ON u.id = m.sender_id
			WHERE m.room_id = $1 AND m.is_deleted = false
			ORDER BY m.id DESC
			LIMIT $2
		 ) sub
		 ORDER BY id`, roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.History query: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows, limit, "msgRepo.History")
}

func scanMessages(rows pgx.Rows, capacity int, scope string) ([]model.Message, error) {
	messages := make([]model.Message, 0, capacity)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.RoomID, &m.ThreadID, &m.SenderID, &m.Content, &m.MessageType,
			&m.IsEdited, &m.IsDeleted, &m.DeletedBy, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt,
			&sender.ID, &sender.Username, &sender.Role); err != nil {
			return nil, fmt.Errorf("%s scan: %w", scope, err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", scope, err)
	}
	return messages, nil
}

// Edit replaces content and marks the message edited.
func (r *MessageRepository) Edit(ctx context.Context, id int64, content string, at time.Time) error {
	defer logger.DeferLogDuration("msg.Edit", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET content = $2, is_edited = true, updated_at = $3 WHERE id = $1`,
		id, content, at,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Edit: %w", err)
	}
	return nil
}

// SoftDelete marks a message deleted, keeping content for audit. Calling it
// on an already-deleted message is a no-op (deleted_by/deleted_at keep the
// values from the first delete).
func (r *MessageRepository) SoftDelete(ctx context.Context, id int64, deletedBy string, at time.Time) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_deleted = true, deleted_by = $2, deleted_at = $3, updated_at = $3
		 WHERE id = $1 AND is_deleted = false`,
		id, deletedBy, at,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return nil
}

// HardDeleteExpired removes messages older than their room's retention
// window. Rooms with auto_delete_days <= 0 are never swept. This is the only
// path that physically removes message rows.
func (r *MessageRepository) HardDeleteExpired(ctx context.Context) (int64, error) {
	defer logger.DeferLogDuration("msg.HardDeleteExpired", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM messages m
		 USING chat_rooms c
		 WHERE c.id = m.room_id
		   AND c.auto_delete_days > 0
		   AND m.created_at < NOW() - make_interval(days => c.auto_delete_days)`,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.HardDeleteExpired: %w", err)
	}
	return tag.RowsAffected(), nil
}
