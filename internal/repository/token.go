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

type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Create(ctx context.Context, t *model.AuthToken) error {
	defer logger.DeferLogDuration("token.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO auth_tokens (token, user_id, created_at, expires_at, revoked_at)
		 VALUES ($1, $2, $3, $4, NULL)`,
		t.Token, t.UserID, t.CreatedAt, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("tokenRepo.Create: %w", err)
	}
	return nil
}

func (r *TokenRepository) GetByToken(ctx context.Context, token string) (*model.AuthToken, error) {
	defer logger.DeferLogDuration("token.GetByToken", time.Now())()
	t := &model.AuthToken{}
	err := r.pool.QueryRow(ctx,
		`SELECT token, user_id, created_at, expires_at, revoked_at
		 FROM auth_tokens WHERE token = $1`, token,
	).Scan(&t.Token, &t.UserID, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tokenRepo.GetByToken: %w", err)
	}
	return t, nil
}

// Revoke marks a token unusable. Idempotent.
func (r *TokenRepository) Revoke(ctx context.Context, token string) error {
	defer logger.DeferLogDuration("token.Revoke", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE auth_tokens SET revoked_at = NOW() WHERE token = $1 AND revoked_at IS NULL`, token)
	if err != nil {
		return fmt.Errorf("tokenRepo.Revoke: %w", err)
	}
	return nil
}
