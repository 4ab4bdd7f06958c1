package ranking

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

const (
	ratingFloor      = 3.8
	keepAllThreshold = 3
	maxRanked        = 5
)

// curatedTarget is one slot of the curated front section. Targets are
// scanned in a fixed order and each one takes the top-ranked venue of the
// first category whose name matches one of its keywords.
type curatedTarget struct {
	key      string
	keywords []string
}

var curatedTargets = []curatedTarget{
	{key: "hotel", keywords: []string{"hotel", "alloggi", "accommodation"}},
	{key: "vini", keywords: []string{"vini", "wine", "enoteca", "cantina"}},
	{key: "dolci_tipici", keywords: []string{"dolci", "pasticceria", "gelateria", "dessert", "bakery"}},
	{key: "cucina_tipica", keywords: []string{"cucina", "ristoranti", "restaurant", "food", "dining", "trattoria", "osteria", "pizzeria", "mangiare", "gastronomia", "bistrot", "pranzo", "cena"}},
}

// Categories the UI can render. Everything else is removed from both query
// plans and results.
var allowedCategories = map[string]struct{}{
	"cucina tipica":       {},
	"dolci tipici":        {},
	"vini":                {},
	"hotel":               {},
	"strutture ricettive": {},
	"la nostra selezione": {},
}

// FilterRanker applies preference filters, quality ranking and curated
// selection to the venues resolved for each category.
type FilterRanker interface {
	FilterAndRank(ctx context.Context, results []types.CategoryResult, prefs *types.Preferences) *types.RankedResults
	FilterSupportedCategories(plan *types.QueryPlan) *types.QueryPlan
}

type FilterRankerImpl struct {
	logger *slog.Logger
}

var _ FilterRanker = (*FilterRankerImpl)(nil)

func NewFilterRanker(logger *slog.Logger) *FilterRankerImpl {
	return &FilterRankerImpl{logger: logger}
}

func normalizeCategory(category string) string {
	s := strings.ToLower(strings.TrimSpace(category))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.ReplaceAll(s, "-", " ")
}

func isExcludedCategory(category string) bool {
	c := strings.ToLower(category)
	return strings.Contains(c, "prodotti") || strings.Contains(c, "eventi")
}

// FilterSupportedCategories drops query plan entries the UI cannot render.
func (f *FilterRankerImpl) FilterSupportedCategories(plan *types.QueryPlan) *types.QueryPlan {
	if plan == nil {
		return nil
	}
	out := &types.QueryPlan{Location: plan.Location}
	for _, q := range plan.Queries {
		if _, ok := allowedCategories[normalizeCategory(q.Category)]; ok {
			out.Queries = append(out.Queries, q)
		}
	}
	return out
}

// FilterAndRank runs the per-category pipeline and builds the curated
// section. Name-list queries bypass filtering, "prodotti" and "eventi"
// categories are skipped outright.
func (f *FilterRankerImpl) FilterAndRank(ctx context.Context, results []types.CategoryResult, prefs *types.Preferences) *types.RankedResults {
	ctx, span := otel.Tracer("FilterRanker").Start(ctx, "FilterAndRank", trace.WithAttributes(
		attribute.Int("categories.count", len(results)),
	))
	defer span.End()

	rankedByCategory := make([]types.CategoryResult, 0, len(results))
	for _, res := range results {
		if isExcludedCategory(res.Query.Category) {
			f.logger.InfoContext(ctx, "Skipping category not served",
				slog.String("category", res.Query.Category))
			continue
		}
		if len(res.Venues) == 0 {
			continue
		}

		venues := res.Venues
		if !res.Query.IsList() {
			venues = f.applyPreferenceFilters(ctx, venues, prefs)
		}
		ranked := rankVenues(venues)
		rankedByCategory = append(rankedByCategory, types.CategoryResult{Query: res.Query, Venues: ranked})
	}

	out := &types.RankedResults{}
	picks := selectCurated(rankedByCategory)
	claimed := make(map[int]struct{}, len(picks))
	for _, p := range picks {
		out.Curated = append(out.Curated, rankedByCategory[p.categoryIdx].Venues[p.venueIdx])
		claimed[p.categoryIdx] = struct{}{}
	}
	for ci, res := range rankedByCategory {
		_, curated := claimed[ci]
		for vi, v := range res.Venues {
			if curated && vi == 0 {
				continue
			}
			out.Suggestions = append(out.Suggestions, v)
		}
	}

	span.SetAttributes(
		attribute.Int("curated.count", len(out.Curated)),
		attribute.Int("suggestions.count", len(out.Suggestions)),
	)
	return out
}

func (f *FilterRankerImpl) applyPreferenceFilters(ctx context.Context, venues []types.Venue, prefs *types.Preferences) []types.Venue {
	filtered := venues
	if prefs != nil {
		if prefs.Budget != nil {
			filtered = f.filterByBudget(ctx, filtered, *prefs.Budget)
		}
		if len(prefs.Services) > 0 {
			filtered = filterByServices(filtered, prefs.Services)
		}
	}
	// The rating floor applies regardless of expressed preferences.
	return filterByRating(filtered)
}

func (f *FilterRankerImpl) filterByBudget(ctx context.Context, venues []types.Venue, budget types.BudgetTier) []types.Venue {
	cap, ok := budget.PriceCap()
	if !ok {
		f.logger.WarnContext(ctx, "Unknown budget tier, budget filter not applied",
			slog.String("budget", string(budget)))
		return venues
	}
	filtered := make([]types.Venue, 0, len(venues))
	for _, v := range venues {
		// Venues without a declared price level cannot be proven within
		// budget and are dropped.
		if v.PriceLevel != nil && *v.PriceLevel <= cap {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

func filterByServices(venues []types.Venue, services []string) []types.Venue {
	filtered := make([]types.Venue, 0, len(venues))
	for _, v := range venues {
		if matchesAnyService(v, services) {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

func matchesAnyService(v types.Venue, services []string) bool {
	name := strings.ToLower(v.Name)
	summary := strings.ToLower(v.Summary)
	for _, service := range services {
		s := strings.ToLower(service)
		if s == "" {
			continue
		}
		if strings.Contains(name, s) || strings.Contains(summary, s) {
			return true
		}
		for _, tag := range v.CategoryTags {
			if strings.Contains(strings.ToLower(tag), s) {
				return true
			}
		}
	}
	return false
}

func filterByRating(venues []types.Venue) []types.Venue {
	filtered := make([]types.Venue, 0, len(venues))
	for _, v := range venues {
		rating := 0.0
		if v.Rating != nil {
			rating = *v.Rating
		}
		if rating >= ratingFloor {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// QualityScore weighs the rating by review volume. Missing ratings count as
// zero, missing or negative review counts as zero reviews.
func QualityScore(v types.Venue) float64 {
	rating := 0.0
	if v.Rating != nil {
		rating = *v.Rating
	}
	reviews := 0
	if v.ReviewCount != nil && *v.ReviewCount > 0 {
		reviews = *v.ReviewCount
	}
	return rating * math.Log10(float64(reviews)+1)
}

func rankVenues(venues []types.Venue) []types.Venue {
	ranked := make([]types.Venue, len(venues))
	copy(ranked, venues)
	sort.SliceStable(ranked, func(i, j int) bool {
		return QualityScore(ranked[i]) > QualityScore(ranked[j])
	})
	if len(ranked) <= keepAllThreshold {
		return ranked
	}
	n := maxRanked
	if len(ranked) < n {
		n = len(ranked)
	}
	return ranked[:n]
}

type curatedPick struct {
	categoryIdx int
	venueIdx    int
}

// selectCurated walks the fixed targets in order and picks the top venue of
// the first matching category. A category claimed by one target cannot be
// claimed again by a later one. Picks come back in target order and each
// picked venue carries its display category.
func selectCurated(results []types.CategoryResult) []curatedPick {
	var picks []curatedPick
	claimed := make(map[int]struct{})
	for _, target := range curatedTargets {
		for ci := range results {
			if _, taken := claimed[ci]; taken {
				continue
			}
			if len(results[ci].Venues) == 0 {
				continue
			}
			if !categoryMatches(results[ci].Query.Category, target.keywords) {
				continue
			}
			results[ci].Venues[0].DisplayCategory = target.key
			claimed[ci] = struct{}{}
			picks = append(picks, curatedPick{categoryIdx: ci, venueIdx: 0})
			break
		}
	}
	return picks
}

func categoryMatches(category string, keywords []string) bool {
	c := strings.ToLower(category)
	for _, kw := range keywords {
		if strings.Contains(c, kw) {
			return true
		}
	}
	return false
}
