package citycache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

const (
	otherLocalsFile = "other_locals.json"
	memoryTTL       = 30 * time.Minute
)

var (
	cutAfterComma   = regexp.MustCompile(`,.*$`)
	trailingCode    = regexp.MustCompile(`\s+[a-z]{2}$`)
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)
	underscoreRuns  = regexp.MustCompile(`_+`)
)

// Slug normalizes a city label to a stable file name: lowercase, country
// suffix after the comma removed, a trailing two-letter province code
// removed, everything non-alphanumeric collapsed to single underscores.
func Slug(city string) string {
	s := strings.ToLower(strings.TrimSpace(city))
	s = cutAfterComma.ReplaceAllString(s, "")
	s = trailingCode.ReplaceAllString(s, "")
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(underscoreRuns.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return "unknown_city"
	}
	return s
}

// Service persists ranked results per city and serves them back, falling
// through to a shared collection when a city was never cached. Load never
// fails the pipeline: worst case it returns nothing.
type Service interface {
	Save(ctx context.Context, city string, results *types.RankedResults) error
	Load(ctx context.Context, city string) []types.Venue
}

type ServiceImpl struct {
	logger  *slog.Logger
	baseDir string
	memory  *gocache.Cache
}

var _ Service = (*ServiceImpl)(nil)

func NewService(baseDir string, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:  logger,
		baseDir: baseDir,
		memory:  gocache.New(memoryTTL, 10*time.Minute),
	}
}

func (s *ServiceImpl) selectionPath(slug string) string {
	return filepath.Join(s.baseDir, slug+"_selection.json")
}

func (s *ServiceImpl) suggestsPath(slug string) string {
	return filepath.Join(s.baseDir, slug+"_suggests.json")
}

// Save rewrites both city files in full. A file whose list is empty gets
// deleted instead, as does the legacy combined file.
func (s *ServiceImpl) Save(ctx context.Context, city string, results *types.RankedResults) error {
	ctx, span := otel.Tracer("CityCache").Start(ctx, "Save", trace.WithAttributes(
		attribute.String("city", city),
	))
	defer span.End()

	if results == nil {
		results = &types.RankedResults{}
	}
	slug := Slug(city)
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	if err := s.writeOrRemove(s.selectionPath(slug), results.Curated); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.writeOrRemove(s.suggestsPath(slug), results.Suggestions); err != nil {
		span.RecordError(err)
		return err
	}

	// Older builds wrote a single combined file per city.
	legacy := filepath.Join(s.baseDir, slug+".json")
	if err := os.Remove(legacy); err != nil && !os.IsNotExist(err) {
		s.logger.WarnContext(ctx, "Failed to remove legacy city cache file",
			slog.String("path", legacy), slog.Any("error", err))
	}

	s.memory.Set(slug, results, memoryTTL)
	s.logger.InfoContext(ctx, "City cache saved",
		slog.String("slug", slug),
		slog.Int("curated", len(results.Curated)),
		slog.Int("suggestions", len(results.Suggestions)))
	return nil
}

func (s *ServiceImpl) writeOrRemove(path string, venues []types.Venue) error {
	if len(venues) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		return nil
	}
	data, err := json.MarshalIndent(venues, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal venues: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Load returns the cached venues for a city, curated picks first. On a miss
// it falls back to the shared collection, then to an empty slice.
func (s *ServiceImpl) Load(ctx context.Context, city string) []types.Venue {
	ctx, span := otel.Tracer("CityCache").Start(ctx, "Load", trace.WithAttributes(
		attribute.String("city", city),
	))
	defer span.End()

	slug := Slug(city)
	if cached, ok := s.memory.Get(slug); ok {
		if results, ok := cached.(*types.RankedResults); ok {
			span.SetAttributes(attribute.Bool("memory_hit", true))
			return results.All()
		}
	}

	curated := s.readVenueFile(ctx, s.selectionPath(slug))
	suggests := s.readVenueFile(ctx, s.suggestsPath(slug))
	if len(curated) > 0 || len(suggests) > 0 {
		results := &types.RankedResults{Curated: curated, Suggestions: suggests}
		s.memory.Set(slug, results, memoryTTL)
		return results.All()
	}

	if shared := s.readSharedCollection(ctx); len(shared) > 0 {
		s.logger.InfoContext(ctx, "City cache miss, serving shared collection",
			slog.String("slug", slug), slog.Int("count", len(shared)))
		return shared
	}
	return []types.Venue{}
}

func (s *ServiceImpl) readVenueFile(ctx context.Context, path string) []types.Venue {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WarnContext(ctx, "Failed to read city cache file",
				slog.String("path", path), slog.Any("error", err))
		}
		return nil
	}
	var venues []types.Venue
	if err := json.Unmarshal(data, &venues); err != nil {
		s.logger.WarnContext(ctx, "Malformed city cache file ignored",
			slog.String("path", path), slog.Any("error", err))
		return nil
	}
	return venues
}

// readSharedCollection accepts both the bare-array shape and the wrapped
// {"locals": [...]} shape.
func (s *ServiceImpl) readSharedCollection(ctx context.Context) []types.Venue {
	path := filepath.Join(s.baseDir, otherLocalsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WarnContext(ctx, "Failed to read shared collection",
				slog.String("path", path), slog.Any("error", err))
		}
		return nil
	}
	var venues []types.Venue
	if err := json.Unmarshal(data, &venues); err == nil {
		return venues
	}
	var wrapped struct {
		Locals []types.Venue `json:"locals"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		s.logger.WarnContext(ctx, "Malformed shared collection ignored",
			slog.String("path", path), slog.Any("error", err))
		return nil
	}
	return wrapped.Locals
}
