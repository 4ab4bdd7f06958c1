package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-city-concierge/app/tracer"
	"github.com/FACorreiaa/go-city-concierge/internal/api/analyzer"
	"github.com/FACorreiaa/go-city-concierge/internal/api/auth"
	"github.com/FACorreiaa/go-city-concierge/internal/api/citycache"
	"github.com/FACorreiaa/go-city-concierge/internal/api/places"
	"github.com/FACorreiaa/go-city-concierge/internal/api/ranking"
	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

const sessionTTL = 24 * time.Hour

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error)
}

// Service runs one conversation turn and streams its events. The state
// value travels with the turn: callers pass the stored state in and receive
// the updated one inside the terminal payload.
type Service interface {
	RunTurn(ctx context.Context, userMessage string, history []types.ConversationMessage, state types.ConversationState) (*StreamingResponse, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*types.ConversationSession, error)
}

type ServiceImpl struct {
	logger      *slog.Logger
	generator   contentGenerator
	analyzer    analyzer.Service
	provider    places.Provider
	ranker      ranking.FilterRanker
	cityCache   citycache.Service
	sessionRepo types.ConversationSessionRepository
}

var _ Service = (*ServiceImpl)(nil)

func NewService(
	generator contentGenerator,
	analyzerSvc analyzer.Service,
	provider places.Provider,
	ranker ranking.FilterRanker,
	cityCache citycache.Service,
	sessionRepo types.ConversationSessionRepository,
	logger *slog.Logger,
) *ServiceImpl {
	return &ServiceImpl{
		logger:      logger,
		generator:   generator,
		analyzer:    analyzerSvc,
		provider:    provider,
		ranker:      ranker,
		cityCache:   cityCache,
		sessionRepo: sessionRepo,
	}
}

// NormalizeState applies the phase rules before a turn runs: program mode
// pins the conversation to chatting permanently, while an empty or
// single-message transcript always starts a fresh search.
func NormalizeState(state types.ConversationState, history []types.ConversationMessage) types.ConversationState {
	state.SkipEcho = false
	if state.ProgramMode {
		state.Phase = types.PhaseChatting
		return state
	}
	if len(history) <= 1 {
		state.Phase = types.PhaseSearching
	}
	if state.Phase == "" {
		state.Phase = types.PhaseSearching
	}
	return state
}

func (s *ServiceImpl) RunTurn(ctx context.Context, userMessage string, history []types.ConversationMessage, state types.ConversationState) (*StreamingResponse, error) {
	ctx, span := otel.Tracer("ConversationService").Start(ctx, "RunTurn", trace.WithAttributes(
		attribute.String("phase", string(state.Phase)),
		attribute.Bool("program_mode", state.ProgramMode),
	))
	defer span.End()

	if userMessage == "" {
		err := fmt.Errorf("empty user message")
		span.RecordError(err)
		return nil, err
	}

	state = NormalizeState(state, history)
	tracer.RecordTurn(ctx, string(state.Phase))

	sessionID := uuid.New()
	eventCh := make(chan StreamEvent, 100)
	ctx, cancel := context.WithCancel(ctx)

	session := types.ConversationSession{
		ID:        sessionID,
		History:   append(append([]types.ConversationMessage{}, history...), userTurn(userMessage)),
		State:     state,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		ExpiresAt: time.Now().Add(sessionTTL),
		Status:    types.SessionActive,
	}
	if idStr, ok := auth.GetUserIDFromContext(ctx); ok {
		if userID, err := uuid.Parse(idStr); err == nil {
			session.UserID = &userID
		}
	}
	if err := s.sessionRepo.CreateSession(ctx, session); err != nil {
		span.RecordError(err)
		cancel()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	go func() {
		defer close(eventCh)

		s.sendEvent(ctx, eventCh, StreamEvent{
			Type: EventTypeStart,
			Data: map[string]string{"session_id": sessionID.String()},
		})

		var finalState types.ConversationState
		switch state.Phase {
		case types.PhaseChatting:
			finalState = s.runChatTurn(ctx, userMessage, history, state, eventCh, &session)
		default:
			finalState = s.runSearchTurn(ctx, userMessage, history, state, eventCh, &session)
		}

		session.State = finalState
		session.UpdatedAt = time.Now()
		if err := s.sessionRepo.UpdateSession(ctx, session); err != nil {
			s.logger.WarnContext(ctx, "Failed to persist session after turn",
				slog.String("session_id", sessionID.String()), slog.Any("error", err))
		}

		s.sendEvent(ctx, eventCh, StreamEvent{
			Type: EventTypeComplete,
			Data: map[string]interface{}{
				"session_id": sessionID.String(),
				"state":      finalState,
			},
			IsFinal: true,
		})
		span.SetStatus(codes.Ok, "turn completed")
	}()

	return &StreamingResponse{
		SessionID: sessionID,
		Stream:    eventCh,
		Cancel:    cancel,
	}, nil
}

func (s *ServiceImpl) GetSession(ctx context.Context, sessionID uuid.UUID) (*types.ConversationSession, error) {
	return s.sessionRepo.GetSession(ctx, sessionID)
}

func userTurn(content string) types.ConversationMessage {
	return types.ConversationMessage{
		ID:        uuid.New(),
		Role:      types.RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func assistantTurn(content string) types.ConversationMessage {
	return types.ConversationMessage{
		ID:        uuid.New(),
		Role:      types.RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}
}
