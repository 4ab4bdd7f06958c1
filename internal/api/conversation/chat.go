package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-city-concierge/app/tracer"
	generativeAI "github.com/FACorreiaa/go-city-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

const (
	chatTemperature     = 0.5
	classifyTemperature = 0.0
)

// runChatTurn answers conversationally over the last search results. A
// confirmed scope change reruns the full pipeline with the query the user
// asked to narrow to.
func (s *ServiceImpl) runChatTurn(ctx context.Context, userMessage string, history []types.ConversationMessage, state types.ConversationState, eventCh chan<- StreamEvent, session *types.ConversationSession) types.ConversationState {
	ctx, span := otel.Tracer("ConversationService").Start(ctx, "runChatTurn", trace.WithAttributes(
		attribute.Bool("program_mode", state.ProgramMode),
	))
	defer span.End()

	if loc := s.detectLocation(ctx, userMessage); loc != "" {
		state.Location = loc
		s.sendEvent(ctx, eventCh, StreamEvent{
			Type: EventTypeDetectedLocation,
			Data: map[string]string{"location": loc},
		})
	}

	// Program mode never reloads: the saved itinerary is read-only.
	if !state.ProgramMode {
		decision := s.classifyScope(ctx, userMessage, history)
		if decision.Kind == types.ScopeChange {
			replacement, ok := ReplacementQuery(history, userMessage)
			if !ok {
				s.logger.WarnContext(ctx, "Scope change confirmed but the transcript has too few user messages, staying in chat")
			} else {
				tracer.RecordReloadConfirmation(ctx)
				s.logger.InfoContext(ctx, "Scope change confirmed, reloading the search",
					slog.String("replacement_query", replacement))
				state.SkipEcho = true
				state.Phase = types.PhaseSearching
				return s.runSearchTurn(ctx, replacement, history, state, eventCh, session)
			}
		} else if decision.Text != "" {
			s.emitChatReply(ctx, eventCh, session, decision.Text)
			return state
		}
	}

	reply, err := s.chatReply(ctx, userMessage, history, session.Results, state)
	if err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "Chat reply generation failed", slog.Any("error", err))
		s.sendError(ctx, eventCh, "Si è verificato un errore durante l'elaborazione del messaggio.")
		return state
	}
	s.emitChatReply(ctx, eventCh, session, reply)
	return state
}

func (s *ServiceImpl) emitChatReply(ctx context.Context, eventCh chan<- StreamEvent, session *types.ConversationSession, reply string) {
	s.sendEvent(ctx, eventCh, StreamEvent{
		Type: EventTypeMessage,
		Data: map[string]string{"message": reply},
	})
	session.History = append(session.History, assistantTurn(reply))
}

// ReplacementQuery returns the query a confirmed reload should rerun: the
// second-to-last user message of the transcript, the one before the
// confirmation itself. The transcript is the stored history plus the
// current message; it must hold at least two user messages.
func ReplacementQuery(history []types.ConversationMessage, currentMessage string) (string, bool) {
	var userMessages []string
	for _, m := range history {
		if m.Role == types.RoleUser {
			userMessages = append(userMessages, m.Content)
		}
	}
	userMessages = append(userMessages, currentMessage)
	if len(userMessages) < 2 {
		return "", false
	}
	return userMessages[len(userMessages)-2], true
}

// classifyScope asks the model whether the user just confirmed a scope
// change. The reply is a tagged decision, not a magic string, so a venue
// named "Ricarico" can never trigger a reload.
func (s *ServiceImpl) classifyScope(ctx context.Context, userMessage string, history []types.ConversationMessage) types.ScopeDecision {
	prompt := buildScopeClassifierPrompt(userMessage, history)
	raw, err := s.generator.GenerateContent(ctx, prompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](classifyTemperature),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Scope classification failed, treating as normal reply",
			slog.Any("error", err))
		return types.ScopeDecision{Kind: types.NormalReply}
	}

	var decision types.ScopeDecision
	if err := json.Unmarshal([]byte(generativeAI.CleanJSONResponse(raw)), &decision); err != nil {
		s.logger.WarnContext(ctx, "Scope classifier reply unparseable, treating as normal reply",
			slog.Any("error", err))
		return types.ScopeDecision{Kind: types.NormalReply}
	}
	if decision.Kind != types.ScopeChange {
		decision.Kind = types.NormalReply
	}
	return decision
}

// detectLocation checks whether the message names a place. It returns the
// empty string when nothing is detected or the lookup fails.
func (s *ServiceImpl) detectLocation(ctx context.Context, userMessage string) string {
	raw, err := s.generator.GenerateContent(ctx, buildLocationDetectionPrompt(userMessage), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](classifyTemperature),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Location detection failed", slog.Any("error", err))
		return ""
	}
	loc := strings.TrimSpace(raw)
	if loc == "" || strings.EqualFold(loc, "false") {
		return ""
	}
	return loc
}

func (s *ServiceImpl) chatReply(ctx context.Context, userMessage string, history []types.ConversationMessage, results *types.RankedResults, state types.ConversationState) (string, error) {
	prompt := buildChatPrompt(userMessage, history, results, state)
	return s.generator.GenerateContent(ctx, prompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](chatTemperature),
	})
}
