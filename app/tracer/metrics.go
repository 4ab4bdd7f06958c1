package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	turnsTotal               metric.Int64Counter
	venueSearchDuration      metric.Float64Histogram
	venuesResolvedTotal      metric.Int64Counter
	cacheServesTotal         metric.Int64Counter
	reloadConfirmationsTotal metric.Int64Counter
)

// InitializeMetrics sets up the application's metrics. Call this during startup.
func InitializeMetrics(meter metric.Meter) error {
	var err error

	turnsTotal, err = meter.Int64Counter(
		"conversation_turns_total",
		metric.WithDescription("Total number of conversation turns, by phase"),
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation_turns_total counter: %w", err)
	}

	venueSearchDuration, err = meter.Float64Histogram(
		"venue_search_duration_seconds",
		metric.WithDescription("Duration of per-category venue resolution"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create venue_search_duration_seconds histogram: %w", err)
	}

	venuesResolvedTotal, err = meter.Int64Counter(
		"venues_resolved_total",
		metric.WithDescription("Total number of venues resolved, by category"),
	)
	if err != nil {
		return fmt.Errorf("failed to create venues_resolved_total counter: %w", err)
	}

	cacheServesTotal, err = meter.Int64Counter(
		"city_cache_serves_total",
		metric.WithDescription("Turns answered from the city result cache"),
	)
	if err != nil {
		return fmt.Errorf("failed to create city_cache_serves_total counter: %w", err)
	}

	reloadConfirmationsTotal, err = meter.Int64Counter(
		"reload_confirmations_total",
		metric.WithDescription("Confirmed scope changes that reloaded the search"),
	)
	if err != nil {
		return fmt.Errorf("failed to create reload_confirmations_total counter: %w", err)
	}
	return nil
}

// The recorders tolerate an uninitialized meter so unit tests can exercise
// services without the metrics bootstrap.

func RecordTurn(ctx context.Context, phase string) {
	if turnsTotal == nil {
		return
	}
	turnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

func RecordVenueSearch(ctx context.Context, category string, seconds float64, found int) {
	if venueSearchDuration != nil {
		venueSearchDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("category", category)))
	}
	if venuesResolvedTotal != nil {
		venuesResolvedTotal.Add(ctx, int64(found), metric.WithAttributes(attribute.String("category", category)))
	}
}

func RecordCacheServe(ctx context.Context) {
	if cacheServesTotal == nil {
		return
	}
	cacheServesTotal.Add(ctx, 1)
}

func RecordReloadConfirmation(ctx context.Context) {
	if reloadConfirmationsTotal == nil {
		return
	}
	reloadConfirmationsTotal.Add(ctx, 1)
}
