package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-city-concierge/internal/api/citycache"
	"github.com/FACorreiaa/go-city-concierge/internal/api/ranking"
	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockGenerator routes replies by recognizable prompt fragments so one mock
// serves synthesis, classification, detection and preference extraction.
type mockGenerator struct {
	scopeReply     string
	locationReply  string
	synthesisReply string
	synthesisErr   error
	chatReply      string
}

func (m *mockGenerator) GenerateContent(_ context.Context, prompt string, _ *genai.GenerateContentConfig) (string, error) {
	switch {
	case strings.Contains(prompt, `"scope_change"`):
		if m.scopeReply == "" {
			return `{"kind": "normal_reply", "text": "Va bene."}`, nil
		}
		return m.scopeReply, nil
	case strings.Contains(prompt, "nomina una città"):
		if m.locationReply == "" {
			return "false", nil
		}
		return m.locationReply, nil
	case strings.Contains(prompt, "preferences_found"):
		return `{"preferences_found": false}`, nil
	case strings.Contains(prompt, "panoramica"):
		if m.synthesisErr != nil {
			return "", m.synthesisErr
		}
		if m.synthesisReply == "" {
			return "Panoramica enogastronomica della zona.", nil
		}
		return m.synthesisReply, nil
	default:
		if m.chatReply == "" {
			return "Risposta conversazionale.", nil
		}
		return m.chatReply, nil
	}
}

type mockAnalyzer struct {
	plan *types.QueryPlan
	err  error
}

func (m *mockAnalyzer) Analyze(_ context.Context, _, _, _ string) (*types.QueryPlan, error) {
	return m.plan, m.err
}

type mockProvider struct {
	venuesByCategory map[string][]types.Venue
}

func (m *mockProvider) SearchVenues(_ context.Context, plan *types.QueryPlan) []types.CategoryResult {
	results := make([]types.CategoryResult, len(plan.Queries))
	for i, q := range plan.Queries {
		results[i] = types.CategoryResult{Query: q, Venues: m.venuesByCategory[q.Category]}
	}
	return results
}

type mockSessionRepo struct {
	created []types.ConversationSession
	updated []types.ConversationSession
}

func (m *mockSessionRepo) CreateSession(_ context.Context, s types.ConversationSession) error {
	m.created = append(m.created, s)
	return nil
}

func (m *mockSessionRepo) GetSession(_ context.Context, id uuid.UUID) (*types.ConversationSession, error) {
	for i := range m.created {
		if m.created[i].ID == id {
			return &m.created[i], nil
		}
	}
	return nil, ErrSessionNotFound
}

func (m *mockSessionRepo) UpdateSession(_ context.Context, s types.ConversationSession) error {
	m.updated = append(m.updated, s)
	return nil
}

func (m *mockSessionRepo) AddMessage(_ context.Context, _ uuid.UUID, _ types.ConversationMessage) error {
	return nil
}

func (m *mockSessionRepo) ExpireSessions(_ context.Context) error { return nil }

func newTestService(t *testing.T, gen *mockGenerator, an *mockAnalyzer, prov *mockProvider) (*ServiceImpl, *mockSessionRepo) {
	t.Helper()
	repo := &mockSessionRepo{}
	svc := NewService(
		gen,
		an,
		prov,
		ranking.NewFilterRanker(testLogger()),
		citycache.NewService(t.TempDir(), testLogger()),
		repo,
		testLogger(),
	)
	return svc, repo
}

func collectEvents(t *testing.T, resp *StreamingResponse) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-resp.Stream:
			if !ok {
				return events
			}
			events = append(events, event)
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func eventTypes(events []StreamEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func finalState(t *testing.T, events []StreamEvent) types.ConversationState {
	t.Helper()
	last := events[len(events)-1]
	require.Equal(t, EventTypeComplete, last.Type)
	require.True(t, last.IsFinal)
	data, ok := last.Data.(map[string]interface{})
	require.True(t, ok)
	state, ok := data["state"].(types.ConversationState)
	require.True(t, ok)
	return state
}

func TestNormalizeState(t *testing.T) {
	t.Run("program mode pins chatting", func(t *testing.T) {
		state := NormalizeState(types.ConversationState{Phase: types.PhaseSearching, ProgramMode: true}, nil)
		assert.Equal(t, types.PhaseChatting, state.Phase)
	})

	t.Run("empty history resets to searching", func(t *testing.T) {
		state := NormalizeState(types.ConversationState{Phase: types.PhaseChatting}, nil)
		assert.Equal(t, types.PhaseSearching, state.Phase)
	})

	t.Run("single message history resets to searching", func(t *testing.T) {
		history := []types.ConversationMessage{{Role: types.RoleUser, Content: "ciao"}}
		state := NormalizeState(types.ConversationState{Phase: types.PhaseChatting}, history)
		assert.Equal(t, types.PhaseSearching, state.Phase)
	})

	t.Run("established conversation keeps chatting", func(t *testing.T) {
		history := []types.ConversationMessage{
			{Role: types.RoleUser, Content: "enoteche a Bari"},
			{Role: types.RoleAssistant, Content: "Ecco i risultati."},
		}
		state := NormalizeState(types.ConversationState{Phase: types.PhaseChatting}, history)
		assert.Equal(t, types.PhaseChatting, state.Phase)
	})

	t.Run("skip echo resets every turn", func(t *testing.T) {
		state := NormalizeState(types.ConversationState{SkipEcho: true}, nil)
		assert.False(t, state.SkipEcho)
	})
}

func TestReplacementQuery(t *testing.T) {
	history := []types.ConversationMessage{
		{Role: types.RoleUser, Content: "enoteche a Bari"},
		{Role: types.RoleAssistant, Content: "Ecco i risultati."},
		{Role: types.RoleUser, Content: "mostrami solo i vini"},
		{Role: types.RoleAssistant, Content: "Vuoi reimpostare la ricerca solo sui vini?"},
	}

	replacement, ok := ReplacementQuery(history, "sì")
	require.True(t, ok)
	assert.Equal(t, "mostrami solo i vini", replacement)
}

func TestReplacementQuery_TooFewUserMessages(t *testing.T) {
	_, ok := ReplacementQuery(nil, "sì")
	assert.False(t, ok)

	history := []types.ConversationMessage{
		{Role: types.RoleAssistant, Content: "Benvenuto."},
	}
	_, ok = ReplacementQuery(history, "sì")
	assert.False(t, ok)
}

func TestRunTurn_SearchSequence(t *testing.T) {
	rating := 4.5
	reviews := 200
	gen := &mockGenerator{}
	an := &mockAnalyzer{plan: &types.QueryPlan{
		Location: "Bari",
		Queries:  []types.CategoryQuery{{Category: "vini", Text: "enoteche a Bari"}},
	}}
	prov := &mockProvider{venuesByCategory: map[string][]types.Venue{
		"vini": {{Name: "Enoteca Top", Rating: &rating, ReviewCount: &reviews}},
	}}
	svc, repo := newTestService(t, gen, an, prov)

	resp, err := svc.RunTurn(context.Background(), "enoteche a Bari", nil, types.ConversationState{})
	require.NoError(t, err)
	events := collectEvents(t, resp)

	typesSeen := eventTypes(events)
	assert.Equal(t, []string{
		EventTypeStart,
		EventTypeProgress,
		EventTypeGeneratedContent,
		EventTypeProgress,
		EventTypeDetectedLocation,
		EventTypeProgress,
		EventTypeProgress,
		EventTypeRankedResults,
		EventTypeComplete,
	}, typesSeen)

	state := finalState(t, events)
	assert.Equal(t, types.PhaseChatting, state.Phase)
	assert.Equal(t, "Bari", state.Location)

	require.Len(t, repo.created, 1)
	require.Len(t, repo.updated, 1)
	require.NotNil(t, repo.updated[0].Results)
	assert.Len(t, repo.updated[0].Results.All(), 1)
}

func TestRunTurn_AnalyzerFailureUsesFallbackPlan(t *testing.T) {
	gen := &mockGenerator{}
	an := &mockAnalyzer{err: fmt.Errorf("quota exhausted")}
	prov := &mockProvider{}
	svc, _ := newTestService(t, gen, an, prov)

	resp, err := svc.RunTurn(context.Background(), "enoteche a Bari", nil, types.ConversationState{Location: "Bari"})
	require.NoError(t, err)
	events := collectEvents(t, resp)

	var location string
	for _, e := range events {
		if e.Type == EventTypeDetectedLocation {
			location = e.Data.(map[string]string)["location"]
		}
	}
	assert.Equal(t, "Bari", location, "fallback plan anchors on the last known location")

	state := finalState(t, events)
	assert.Equal(t, types.PhaseChatting, state.Phase)
}

func TestRunTurn_SynthesisFailureServesCachedResults(t *testing.T) {
	gen := &mockGenerator{synthesisErr: fmt.Errorf("model unavailable")}
	an := &mockAnalyzer{}
	prov := &mockProvider{}

	repo := &mockSessionRepo{}
	cacheDir := t.TempDir()
	cache := citycache.NewService(cacheDir, testLogger())
	require.NoError(t, cache.Save(context.Background(), "Bari", &types.RankedResults{
		Suggestions: []types.Venue{{Name: "Posto Salvato"}},
	}))

	svc := NewService(gen, an, prov, ranking.NewFilterRanker(testLogger()), cache, repo, testLogger())

	resp, err := svc.RunTurn(context.Background(), "enoteche a Bari", nil, types.ConversationState{Location: "Bari"})
	require.NoError(t, err)
	events := collectEvents(t, resp)

	typesSeen := eventTypes(events)
	assert.Contains(t, typesSeen, EventTypeError)
	assert.Contains(t, typesSeen, EventTypeRankedResults)

	state := finalState(t, events)
	assert.Equal(t, types.PhaseSearching, state.Phase, "a failed pipeline does not enter chat mode")
}

func chattingHistory() []types.ConversationMessage {
	return []types.ConversationMessage{
		{Role: types.RoleUser, Content: "enoteche a Bari"},
		{Role: types.RoleAssistant, Content: "Ecco i risultati."},
		{Role: types.RoleUser, Content: "mostrami solo i vini"},
		{Role: types.RoleAssistant, Content: "Vuoi reimpostare la ricerca solo sui vini?"},
	}
}

func TestRunTurn_ChatNormalReply(t *testing.T) {
	gen := &mockGenerator{scopeReply: `{"kind": "normal_reply", "text": "Il migliore è Enoteca Top."}`}
	an := &mockAnalyzer{}
	prov := &mockProvider{}
	svc, _ := newTestService(t, gen, an, prov)

	resp, err := svc.RunTurn(context.Background(), "qual è il migliore?", chattingHistory(), types.ConversationState{Phase: types.PhaseChatting, Location: "Bari"})
	require.NoError(t, err)
	events := collectEvents(t, resp)

	var message string
	for _, e := range events {
		if e.Type == EventTypeMessage {
			message = e.Data.(map[string]string)["message"]
		}
	}
	assert.Equal(t, "Il migliore è Enoteca Top.", message)

	state := finalState(t, events)
	assert.Equal(t, types.PhaseChatting, state.Phase)
	assert.False(t, state.SkipEcho)
}

func TestRunTurn_ConfirmedScopeChangeReloadsSearch(t *testing.T) {
	rating := 4.5
	reviews := 200
	gen := &mockGenerator{scopeReply: `{"kind": "scope_change"}`}
	an := &mockAnalyzer{plan: &types.QueryPlan{
		Location: "Bari",
		Queries:  []types.CategoryQuery{{Category: "vini", Text: "enoteche a Bari"}},
	}}
	prov := &mockProvider{venuesByCategory: map[string][]types.Venue{
		"vini": {{Name: "Enoteca Top", Rating: &rating, ReviewCount: &reviews}},
	}}
	svc, _ := newTestService(t, gen, an, prov)

	resp, err := svc.RunTurn(context.Background(), "sì", chattingHistory(), types.ConversationState{Phase: types.PhaseChatting, Location: "Bari"})
	require.NoError(t, err)
	events := collectEvents(t, resp)

	typesSeen := eventTypes(events)
	assert.Contains(t, typesSeen, EventTypeRankedResults, "a confirmed scope change reruns the pipeline")

	state := finalState(t, events)
	assert.Equal(t, types.PhaseChatting, state.Phase)
	assert.True(t, state.SkipEcho, "the substituted query must not be echoed")
}

func TestRunTurn_ScopeChangeWithoutEnoughHistoryStaysChatting(t *testing.T) {
	gen := &mockGenerator{scopeReply: `{"kind": "scope_change"}`, chatReply: "Come posso aiutarti?"}
	an := &mockAnalyzer{}
	prov := &mockProvider{}
	svc, _ := newTestService(t, gen, an, prov)

	// Two messages keep the phase at chatting but hold only one user turn.
	history := []types.ConversationMessage{
		{Role: types.RoleAssistant, Content: "Benvenuto."},
		{Role: types.RoleAssistant, Content: "Come posso aiutarti?"},
	}
	resp, err := svc.RunTurn(context.Background(), "sì", history, types.ConversationState{Phase: types.PhaseChatting})
	require.NoError(t, err)
	events := collectEvents(t, resp)

	typesSeen := eventTypes(events)
	assert.NotContains(t, typesSeen, EventTypeRankedResults)
	assert.Contains(t, typesSeen, EventTypeMessage)

	state := finalState(t, events)
	assert.Equal(t, types.PhaseChatting, state.Phase)
	assert.False(t, state.SkipEcho)
}

func TestRunTurn_ProgramModeNeverReloads(t *testing.T) {
	gen := &mockGenerator{chatReply: "Il programma prevede Enoteca Top."}
	an := &mockAnalyzer{}
	prov := &mockProvider{}
	svc, _ := newTestService(t, gen, an, prov)

	resp, err := svc.RunTurn(context.Background(), "sì, ricarica tutto", chattingHistory(), types.ConversationState{Phase: types.PhaseSearching, ProgramMode: true})
	require.NoError(t, err)
	events := collectEvents(t, resp)

	typesSeen := eventTypes(events)
	assert.NotContains(t, typesSeen, EventTypeRankedResults)
	assert.Contains(t, typesSeen, EventTypeMessage)

	state := finalState(t, events)
	assert.Equal(t, types.PhaseChatting, state.Phase)
	assert.True(t, state.ProgramMode)
}

func TestRunTurn_ChatDetectedLocationUpdatesState(t *testing.T) {
	gen := &mockGenerator{locationReply: "Lecce"}
	an := &mockAnalyzer{}
	prov := &mockProvider{}
	svc, _ := newTestService(t, gen, an, prov)

	resp, err := svc.RunTurn(context.Background(), "e a Lecce?", chattingHistory(), types.ConversationState{Phase: types.PhaseChatting, Location: "Bari"})
	require.NoError(t, err)
	events := collectEvents(t, resp)

	state := finalState(t, events)
	assert.Equal(t, "Lecce", state.Location)
}

func TestRunTurn_EmptyMessageRejected(t *testing.T) {
	svc, _ := newTestService(t, &mockGenerator{}, &mockAnalyzer{}, &mockProvider{})
	_, err := svc.RunTurn(context.Background(), "", nil, types.ConversationState{})
	require.Error(t, err)
}
