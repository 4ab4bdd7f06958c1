package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	generativeAI "github.com/FACorreiaa/go-city-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

const analyzeTemperature = 0.2

// Phrases that narrow the current search instead of naming a new place.
// When the user query contains one and a location is already pinned, the
// pinned location wins over whatever the model detected.
var scopeNarrowingRe = regexp.MustCompile(`(questa città|qui|in zona|dintorni|solo i vini|solo i dolci|mostrami solo|restringi|filtra)`)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error)
}

// Service extracts the search location and per-category queries from the
// synthesized content.
type Service interface {
	Analyze(ctx context.Context, content, originalQuery, pinnedLocation string) (*types.QueryPlan, error)
}

type ServiceImpl struct {
	logger    *slog.Logger
	generator contentGenerator
}

var _ Service = (*ServiceImpl)(nil)

func NewService(client *generativeAI.AIClient, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{logger: logger, generator: client}
}

func (s *ServiceImpl) Analyze(ctx context.Context, content, originalQuery, pinnedLocation string) (*types.QueryPlan, error) {
	ctx, span := otel.Tracer("Analyzer").Start(ctx, "Analyze", trace.WithAttributes(
		attribute.String("pinned_location", pinnedLocation),
	))
	defer span.End()

	prompt := buildAnalyzePrompt(content, originalQuery)
	raw, err := s.generator.GenerateContent(ctx, prompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](analyzeTemperature),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query analysis failed: %w", err)
	}

	plan, err := ParsePlan(raw, originalQuery, pinnedLocation)
	if err != nil {
		span.RecordError(err)
		s.logger.WarnContext(ctx, "Analyzer returned unparseable plan",
			slog.Any("error", err))
		return nil, err
	}

	span.SetStatus(codes.Ok, "plan resolved")
	span.SetAttributes(
		attribute.String("location", plan.Location),
		attribute.Int("categories", len(plan.Queries)),
	)
	return plan, nil
}

// ParsePlan decodes the model reply and applies the pinned-location
// override. Category order is normalized alphabetically so downstream
// stages behave deterministically.
func ParsePlan(raw, originalQuery, pinnedLocation string) (*types.QueryPlan, error) {
	clean := generativeAI.CleanJSONResponse(raw)
	var wire struct {
		Location      string                         `json:"location"`
		SearchQueries map[string]types.CategoryQuery `json:"search_queries"`
	}
	if err := json.Unmarshal([]byte(clean), &wire); err != nil {
		return nil, fmt.Errorf("failed to parse analyzer reply: %w", err)
	}
	if len(wire.SearchQueries) == 0 {
		return nil, fmt.Errorf("analyzer reply contains no search queries")
	}

	plan := &types.QueryPlan{
		Location: ResolveLocation(wire.Location, pinnedLocation, originalQuery),
	}
	categories := make([]string, 0, len(wire.SearchQueries))
	for category := range wire.SearchQueries {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		q := wire.SearchQueries[category]
		q.Category = category
		plan.Queries = append(plan.Queries, q)
	}
	return plan, nil
}

// ResolveLocation keeps the pinned location when the user is narrowing the
// current search rather than moving it somewhere else.
func ResolveLocation(detected, pinned, originalQuery string) string {
	if pinned != "" && scopeNarrowingRe.MatchString(strings.ToLower(originalQuery)) {
		return pinned
	}
	if detected != "" {
		return detected
	}
	return pinned
}

// FallbackPlan is the deterministic plan used when analysis fails: one
// query for each of the four served categories, anchored on the last known
// location or on the raw user message.
func FallbackPlan(location string) *types.QueryPlan {
	hint := strings.TrimSpace(location)
	if hint == "" {
		hint = "località"
	}
	return &types.QueryPlan{
		Location: hint,
		Queries: []types.CategoryQuery{
			{Category: "strutture ricettive", Text: fmt.Sprintf("hotel a %s", hint)},
			{Category: "vini", Text: fmt.Sprintf("enoteche e cantine a %s", hint)},
			{Category: "cucina_tipica", Text: fmt.Sprintf("ristoranti tipici a %s", hint)},
			{Category: "dolci tipici", Text: fmt.Sprintf("pasticcerie a %s", hint)},
		},
	}
}

func buildAnalyzePrompt(content, originalQuery string) string {
	return fmt.Sprintf(`Analizza il contenuto seguente e la richiesta dell'utente.
Estrai la località a cui si riferisce la ricerca e una query di ricerca per
ogni categoria pertinente tra: "strutture ricettive", "vini",
"cucina_tipica", "dolci tipici".

Rispondi SOLO con JSON valido, senza testo aggiuntivo, nel formato:
{
  "location": "nome della città",
  "search_queries": {
    "vini": "enoteche a <città>",
    "cucina_tipica": ["Nome Locale Specifico", "Altro Locale"]
  }
}

Una query può essere una stringa di ricerca generica oppure una lista di
nomi di luoghi specifici citati nel contenuto.

Richiesta utente: %q

Contenuto:
%s`, originalQuery, content)
}
