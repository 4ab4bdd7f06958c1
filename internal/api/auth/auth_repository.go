package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool is the subset of pgxpool.Pool the repository needs; pgxmock
// implements it for tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type AuthRepo interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error)
	StoreRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	InvalidateRefreshToken(ctx context.Context, token string) error
	InvalidateAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) error
}

type AuthRepoImpl struct {
	logger *slog.Logger
	pool   DBPool
}

var _ AuthRepo = (*AuthRepoImpl)(nil)

func NewAuthRepo(pool DBPool, logger *slog.Logger) *AuthRepoImpl {
	return &AuthRepoImpl{
		logger: logger,
		pool:   pool,
	}
}

func (r *AuthRepoImpl) CreateUser(ctx context.Context, user User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: email or username already registered", ErrConflict)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *AuthRepoImpl) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1 AND deleted_at IS NULL`, email).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user by email: %w", err)
	}
	return &user, nil
}

func (r *AuthRepoImpl) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	var user User
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users WHERE id = $1 AND deleted_at IS NULL`, userID).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user by id: %w", err)
	}
	return &user, nil
}

func (r *AuthRepoImpl) StoreRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (r *AuthRepoImpl) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var rt RefreshToken
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, token, expires_at, revoked_at
		FROM refresh_tokens WHERE token = $1`, token).
		Scan(&rt.UserID, &rt.Token, &rt.ExpiresAt, &rt.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch refresh token: %w", err)
	}
	return &rt, nil
}

func (r *AuthRepoImpl) InvalidateRefreshToken(ctx context.Context, token string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1
		WHERE token = $2 AND revoked_at IS NULL`, time.Now(), token)
	if err != nil {
		return fmt.Errorf("failed to invalidate refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Refresh token already revoked or unknown")
	}
	return nil
}

func (r *AuthRepoImpl) InvalidateAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1
		WHERE user_id = $2 AND revoked_at IS NULL`, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to invalidate user refresh tokens: %w", err)
	}
	return nil
}
