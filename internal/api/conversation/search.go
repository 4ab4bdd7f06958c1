package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-city-concierge/app/tracer"
	"github.com/FACorreiaa/go-city-concierge/internal/api/analyzer"
	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

const synthesisTemperature = 0.7

// Status messages shown while the pipeline advances.
const (
	statusSynthesizing = "Sto cercando informazioni aggiornate..."
	statusAnalyzing    = "Sto preparando i suggerimenti sulla mappa..."
	statusSearching    = "Sto cercando i luoghi migliori..."
	statusRanking      = "Applico filtri e ranking ai risultati..."
)

// runSearchTurn drives the full pipeline: synthesize, analyze, resolve,
// rank, persist. Every stage failure degrades instead of aborting; the only
// hard stop is a failed synthesis, which falls back to cached city results.
func (s *ServiceImpl) runSearchTurn(ctx context.Context, userMessage string, history []types.ConversationMessage, state types.ConversationState, eventCh chan<- StreamEvent, session *types.ConversationSession) types.ConversationState {
	ctx, span := otel.Tracer("ConversationService").Start(ctx, "runSearchTurn", trace.WithAttributes(
		attribute.String("location", state.Location),
	))
	defer span.End()

	s.sendProgress(ctx, eventCh, statusSynthesizing)
	content, err := s.synthesizeContent(ctx, userMessage, state)
	if err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "Content synthesis failed, serving cached results",
			slog.Any("error", err))
		s.sendError(ctx, eventCh, "Si è verificato un errore durante l'elaborazione della richiesta.")
		s.serveCachedFallback(ctx, userMessage, state, eventCh)
		return state
	}
	s.sendEvent(ctx, eventCh, StreamEvent{
		Type: EventTypeGeneratedContent,
		Data: map[string]string{"content": content},
	})

	s.sendProgress(ctx, eventCh, statusAnalyzing)
	plan, err := s.analyzer.Analyze(ctx, content, userMessage, state.Location)
	if err != nil {
		s.logger.WarnContext(ctx, "Query analysis failed, applying deterministic fallback",
			slog.Any("error", err))
		plan = analyzer.FallbackPlan(locationHint(state, userMessage))
	}
	plan = s.ranker.FilterSupportedCategories(plan)
	if len(plan.Queries) == 0 {
		s.logger.WarnContext(ctx, "No served category left after filtering, applying deterministic fallback")
		plan = analyzer.FallbackPlan(locationHint(state, userMessage))
	}

	state.Location = plan.Location
	s.sendEvent(ctx, eventCh, StreamEvent{
		Type: EventTypeDetectedLocation,
		Data: map[string]string{"location": plan.Location},
	})

	s.sendProgress(ctx, eventCh, statusSearching)
	results := s.provider.SearchVenues(ctx, plan)

	s.sendProgress(ctx, eventCh, statusRanking)
	prefs := s.extractPreferences(ctx, history, userMessage)
	ranked := s.ranker.FilterAndRank(ctx, results, prefs)

	if err := s.cityCache.Save(ctx, plan.Location, ranked); err != nil {
		s.logger.WarnContext(ctx, "Failed to persist city results",
			slog.String("location", plan.Location), slog.Any("error", err))
	}

	s.sendEvent(ctx, eventCh, StreamEvent{
		Type: EventTypeRankedResults,
		Data: ranked,
	})

	session.Results = ranked
	session.History = append(session.History, assistantTurn(content))

	state.Phase = types.PhaseChatting
	span.SetAttributes(
		attribute.String("resolved_location", plan.Location),
		attribute.Int("curated", len(ranked.Curated)),
		attribute.Int("suggestions", len(ranked.Suggestions)),
	)
	return state
}

// serveCachedFallback answers with whatever the city cache has when the
// pipeline cannot run at all.
func (s *ServiceImpl) serveCachedFallback(ctx context.Context, userMessage string, state types.ConversationState, eventCh chan<- StreamEvent) {
	hint := locationHint(state, userMessage)
	cached := s.cityCache.Load(ctx, hint)
	if len(cached) == 0 {
		return
	}
	tracer.RecordCacheServe(ctx)
	s.sendEvent(ctx, eventCh, StreamEvent{
		Type: EventTypeRankedResults,
		Data: &types.RankedResults{Suggestions: cached},
	})
}

func locationHint(state types.ConversationState, userMessage string) string {
	if strings.TrimSpace(state.Location) != "" {
		return strings.TrimSpace(state.Location)
	}
	return strings.TrimSpace(userMessage)
}

func (s *ServiceImpl) synthesizeContent(ctx context.Context, userMessage string, state types.ConversationState) (string, error) {
	prompt := buildSynthesisPrompt(userMessage, state.Location)
	content, err := s.generator.GenerateContent(ctx, prompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](synthesisTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("content synthesis failed: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("content synthesis returned an empty reply")
	}
	return content, nil
}
