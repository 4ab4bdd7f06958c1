package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

func newMockRepo(t *testing.T) (*SessionRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewSessionRepository(mock, testLogger()), mock
}

func sampleSession() types.ConversationSession {
	now := time.Now()
	userID := uuid.New()
	return types.ConversationSession{
		ID:     uuid.New(),
		UserID: &userID,
		History: []types.ConversationMessage{
			{ID: uuid.New(), Role: types.RoleUser, Content: "enoteche a Bari", Timestamp: now},
		},
		State:     types.ConversationState{Phase: types.PhaseSearching, Location: "Bari"},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
		Status:    types.SessionActive,
	}
}

func TestSessionRepository_CreateSession(t *testing.T) {
	repo, mock := newMockRepo(t)
	session := sampleSession()

	mock.ExpectExec("INSERT INTO conversation_sessions").
		WithArgs(session.ID, session.UserID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			session.CreatedAt, session.UpdatedAt, session.ExpiresAt, session.Status).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.CreateSession(context.Background(), session))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_GetSession(t *testing.T) {
	repo, mock := newMockRepo(t)
	session := sampleSession()

	rows := pgxmock.NewRows([]string{"id", "user_id", "history", "state", "results", "created_at", "updated_at", "expires_at", "status"}).
		AddRow(session.ID, session.UserID,
			[]byte(`[{"role": "user", "content": "enoteche a Bari"}]`),
			[]byte(`{"phase": "searching", "location": "Bari"}`),
			[]byte(nil),
			session.CreatedAt, session.UpdatedAt, session.ExpiresAt, session.Status)
	mock.ExpectQuery("SELECT (.+) FROM conversation_sessions").
		WithArgs(session.ID).
		WillReturnRows(rows)

	got, err := repo.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, types.PhaseSearching, got.State.Phase)
	assert.Equal(t, "Bari", got.State.Location)
	require.Len(t, got.History, 1)
	assert.Equal(t, "enoteche a Bari", got.History[0].Content)
	assert.Nil(t, got.Results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_GetSession_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM conversation_sessions").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := repo.GetSession(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_UpdateSession(t *testing.T) {
	repo, mock := newMockRepo(t)
	session := sampleSession()
	session.Results = &types.RankedResults{Suggestions: []types.Venue{{Name: "Enoteca Top"}}}

	mock.ExpectExec("UPDATE conversation_sessions").
		WithArgs(session.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			session.UpdatedAt, session.Status).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.UpdateSession(context.Background(), session))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_UpdateSession_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	session := sampleSession()

	mock.ExpectExec("UPDATE conversation_sessions").
		WithArgs(session.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			session.UpdatedAt, session.Status).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateSession(context.Background(), session)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_AddMessage(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE conversation_sessions").
		WithArgs(id, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.AddMessage(context.Background(), id, types.ConversationMessage{
		ID:      uuid.New(),
		Role:    types.RoleAssistant,
		Content: "Ecco i risultati.",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_ExpireSessions(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE conversation_sessions").
		WithArgs(types.SessionExpired, types.SessionActive, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	require.NoError(t, repo.ExpireSessions(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
