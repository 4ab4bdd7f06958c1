package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

var ErrSessionNotFound = errors.New("conversation session not found")

// DBPool is the subset of pgxpool.Pool the repository needs; pgxmock
// implements it for tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type SessionRepository struct {
	pool   DBPool
	logger *slog.Logger
}

var _ types.ConversationSessionRepository = (*SessionRepository)(nil)

func NewSessionRepository(pool DBPool, logger *slog.Logger) *SessionRepository {
	return &SessionRepository{pool: pool, logger: logger}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session types.ConversationSession) error {
	history, err := json.Marshal(session.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	state, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	results, err := marshalResults(session.Results)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO conversation_sessions (id, user_id, history, state, results, created_at, updated_at, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.UserID, history, state, results,
		session.CreatedAt, session.UpdatedAt, session.ExpiresAt, session.Status)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID uuid.UUID) (*types.ConversationSession, error) {
	var (
		session types.ConversationSession
		history []byte
		state   []byte
		results []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, history, state, results, created_at, updated_at, expires_at, status
		FROM conversation_sessions WHERE id = $1`, sessionID).
		Scan(&session.ID, &session.UserID, &history, &state, &results,
			&session.CreatedAt, &session.UpdatedAt, &session.ExpiresAt, &session.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}

	if err := json.Unmarshal(history, &session.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if err := json.Unmarshal(state, &session.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &session.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	}
	return &session, nil
}

func (r *SessionRepository) UpdateSession(ctx context.Context, session types.ConversationSession) error {
	history, err := json.Marshal(session.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	state, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	results, err := marshalResults(session.Results)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE conversation_sessions
		SET history = $2, state = $3, results = $4, updated_at = $5, status = $6
		WHERE id = $1`,
		session.ID, history, state, results, session.UpdatedAt, session.Status)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) AddMessage(ctx context.Context, sessionID uuid.UUID, message types.ConversationMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversation_sessions
		SET history = history || $2::jsonb, updated_at = $3
		WHERE id = $1`,
		sessionID, payload, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) ExpireSessions(ctx context.Context) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversation_sessions
		SET status = $1
		WHERE status = $2 AND expires_at < $3`,
		types.SessionExpired, types.SessionActive, time.Now())
	if err != nil {
		return fmt.Errorf("failed to expire sessions: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.InfoContext(ctx, "Expired stale conversation sessions",
			slog.Int64("count", tag.RowsAffected()))
	}
	return nil
}

func marshalResults(results *types.RankedResults) ([]byte, error) {
	if results == nil {
		return nil, nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	return data, nil
}
