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

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, role, created_at, disabled_at)
		 VALUES ($1, $2, $3, $4, $5, NULL)`,
		u.ID, u.Username, u.Email, u.Role, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, email, role, created_at, disabled_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.CreatedAt, &u.DisabledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// SetDisabled sets or clears the deactivation mark. Disabled users fail
// token authentication on the next attempt.
func (r *UserRepository) SetDisabled(ctx context.Context, id string, disabled bool) error {
	defer logger.DeferLogDuration("user.SetDisabled", time.Now())()
	var err error
	if disabled {
		_, err = r.pool.Exec(ctx,
			`UPDATE users SET disabled_at = NOW() WHERE id = $1 AND disabled_at IS NULL`, id)
	} else {
		_, err = r.pool.Exec(ctx,
			`UPDATE users SET disabled_at = NULL WHERE id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("userRepo.SetDisabled: %w", err)
	}
	return nil
}
