package citycache

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Bari, Italia":        "bari",
		"bari":                "bari",
		"Polignano a Mare":    "polignano_a_mare",
		"Alberobello BA":      "alberobello",
		"  Roma,  Lazio  ":    "roma",
		"":                    "unknown_city",
		"???":                 "unknown_city",
		"Sant'Agata de' Goti": "sant_agata_de_goti",
	}
	for input, want := range cases {
		assert.Equal(t, want, Slug(input), "input %q", input)
	}
}

func TestSlug_RoundTripStable(t *testing.T) {
	assert.Equal(t, Slug("bari"), Slug("Bari, Italia"))
}

func ratedVenue(name string) types.Venue {
	r := 4.5
	n := 120
	return types.Venue{PlaceID: "pid-" + name, Name: name, Rating: &r, ReviewCount: &n}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, testLogger())
	ctx := context.Background()

	results := &types.RankedResults{
		Curated:     []types.Venue{ratedVenue("Hotel Uno")},
		Suggestions: []types.Venue{ratedVenue("Enoteca Top"), ratedVenue("Trattoria Vera")},
	}
	require.NoError(t, svc.Save(ctx, "Bari, Italia", results))

	assert.FileExists(t, filepath.Join(dir, "bari_selection.json"))
	assert.FileExists(t, filepath.Join(dir, "bari_suggests.json"))

	loaded := svc.Load(ctx, "bari")
	require.Len(t, loaded, 3)
	assert.Equal(t, "Hotel Uno", loaded[0].Name, "curated picks come first")
}

func TestSaveDeletesEmptyCounterpartAndLegacyFile(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, testLogger())
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bari_selection.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bari.json"), []byte("{}"), 0o644))

	results := &types.RankedResults{Suggestions: []types.Venue{ratedVenue("Enoteca Top")}}
	require.NoError(t, svc.Save(ctx, "Bari", results))

	assert.NoFileExists(t, filepath.Join(dir, "bari_selection.json"))
	assert.NoFileExists(t, filepath.Join(dir, "bari.json"))
	assert.FileExists(t, filepath.Join(dir, "bari_suggests.json"))
}

func TestLoadFallsBackToSharedCollection(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, testLogger())
	ctx := context.Background()

	shared := `{"locals": [{"place_id": "p1", "name": "Posto Condiviso"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other_locals.json"), []byte(shared), 0o644))

	loaded := svc.Load(ctx, "Matera")
	require.Len(t, loaded, 1)
	assert.Equal(t, "Posto Condiviso", loaded[0].Name)
}

func TestLoadSharedCollectionBareArray(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, testLogger())
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other_locals.json"), []byte(`[{"name": "Locale"}]`), 0o644))

	loaded := svc.Load(ctx, "Lecce")
	require.Len(t, loaded, 1)
}

func TestLoadNeverFails(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, testLogger())
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bari_selection.json"), []byte("not json"), 0o644))

	loaded := svc.Load(ctx, "Bari")
	assert.Empty(t, loaded)
}
