package places

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-city-concierge/app/tracer"
	generativeAI "github.com/FACorreiaa/go-city-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

const (
	searchTemperature  = 0.3
	maxVenuesPerSearch = 10
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error)
}

// Provider resolves the venues for every category of a query plan. A failed
// category yields an empty list, never a pipeline error.
type Provider interface {
	SearchVenues(ctx context.Context, plan *types.QueryPlan) []types.CategoryResult
}

type ProviderImpl struct {
	logger    *slog.Logger
	generator contentGenerator
}

var _ Provider = (*ProviderImpl)(nil)

func NewProvider(client *generativeAI.AIClient, logger *slog.Logger) *ProviderImpl {
	return &ProviderImpl{logger: logger, generator: client}
}

// SearchVenues runs every category concurrently. Results keep the plan's
// category order regardless of completion order.
func (p *ProviderImpl) SearchVenues(ctx context.Context, plan *types.QueryPlan) []types.CategoryResult {
	ctx, span := otel.Tracer("PlaceProvider").Start(ctx, "SearchVenues", trace.WithAttributes(
		attribute.String("location", plan.Location),
		attribute.Int("categories", len(plan.Queries)),
	))
	defer span.End()

	results := make([]types.CategoryResult, len(plan.Queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, query := range plan.Queries {
		g.Go(func() error {
			start := time.Now()
			venues := p.resolveCategory(gctx, query, plan.Location)
			tracer.RecordVenueSearch(gctx, query.Category, time.Since(start).Seconds(), len(venues))
			results[i] = types.CategoryResult{Query: query, Venues: venues}
			return nil
		})
	}
	// Workers swallow their own failures, so Wait only synchronizes.
	_ = g.Wait()

	total := 0
	for _, r := range results {
		total += len(r.Venues)
	}
	span.SetAttributes(attribute.Int("venues.total", total))
	p.logger.InfoContext(ctx, "Venue resolution completed",
		slog.String("location", plan.Location),
		slog.Int("categories", len(plan.Queries)),
		slog.Int("venues", total))
	return results
}

func (p *ProviderImpl) resolveCategory(ctx context.Context, query types.CategoryQuery, location string) []types.Venue {
	if query.IsList() {
		return p.resolveNamedPlaces(ctx, query, location)
	}
	return p.resolveTextQuery(ctx, query, location)
}

// resolveNamedPlaces looks up each explicitly named place on its own; a
// miss on one name does not discard the others.
func (p *ProviderImpl) resolveNamedPlaces(ctx context.Context, query types.CategoryQuery, location string) []types.Venue {
	var venues []types.Venue
	for _, name := range query.Names {
		prompt := buildNamedPlacePrompt(name, location, query.Category)
		raw, err := p.generator.GenerateContent(ctx, prompt, &genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](searchTemperature),
		})
		if err != nil {
			p.logger.WarnContext(ctx, "Named place lookup failed",
				slog.String("name", name), slog.Any("error", err))
			continue
		}
		var venue types.Venue
		if err := json.Unmarshal([]byte(generativeAI.CleanJSONResponse(raw)), &venue); err != nil {
			p.logger.WarnContext(ctx, "Named place reply unparseable",
				slog.String("name", name), slog.Any("error", err))
			continue
		}
		if venue.Name == "" {
			venue.Name = name
		}
		venue.Category = query.Category
		venues = append(venues, venue)
	}
	return venues
}

func (p *ProviderImpl) resolveTextQuery(ctx context.Context, query types.CategoryQuery, location string) []types.Venue {
	prompt := buildSearchPrompt(query.Text, location, query.Category)
	raw, err := p.generator.GenerateContent(ctx, prompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](searchTemperature),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "Category search failed, continuing with empty results",
			slog.String("category", query.Category), slog.Any("error", err))
		return nil
	}

	var wire struct {
		Results []types.Venue `json:"results"`
	}
	if err := json.Unmarshal([]byte(generativeAI.CleanJSONResponse(raw)), &wire); err != nil {
		p.logger.WarnContext(ctx, "Category search reply unparseable",
			slog.String("category", query.Category), slog.Any("error", err))
		return nil
	}
	for i := range wire.Results {
		wire.Results[i].Category = query.Category
	}
	return wire.Results
}

func buildSearchPrompt(queryText, location, category string) string {
	return fmt.Sprintf(`Cerca luoghi reali per la richiesta %q nella zona di %q
(categoria: %s). Rispondi SOLO con JSON valido nel formato:
{
  "results": [
    {
      "place_id": "id stabile o nome normalizzato",
      "name": "Nome del locale",
      "formatted_address": "Indirizzo completo",
      "category": %q,
      "lat": 0.0,
      "lng": 0.0,
      "rating": 4.5,
      "reviews_count": 120,
      "price_level": 2,
      "summary": "Breve descrizione",
      "category_tags": ["tag1", "tag2"]
    }
  ]
}
Restituisci al massimo %d risultati. Ometti i campi che non conosci, non inventare rating o recensioni.`,
		queryText, location, category, category, maxVenuesPerSearch)
}

func buildNamedPlacePrompt(name, location, category string) string {
	return fmt.Sprintf(`Trova il luogo %q nella zona di %q (categoria: %s).
Rispondi SOLO con un oggetto JSON con i campi: place_id, name,
formatted_address, category, lat, lng, rating, reviews_count, price_level,
summary, category_tags. Ometti i campi che non conosci.`, name, location, category)
}
