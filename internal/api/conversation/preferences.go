package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	generativeAI "github.com/FACorreiaa/go-city-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

// extractPreferences pulls budget and service preferences out of the
// conversation. Anything unparseable counts as no preference: the filters
// downstream must never fail a search because of a bad preference payload.
func (s *ServiceImpl) extractPreferences(ctx context.Context, history []types.ConversationMessage, userMessage string) *types.Preferences {
	prompt := buildPreferencesPrompt(history, userMessage)
	raw, err := s.generator.GenerateContent(ctx, prompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](classifyTemperature),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Preference extraction failed, using heuristics",
			slog.Any("error", err))
		return HeuristicPreferences(userMessage)
	}
	prefs, err := ParsePreferences(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "Preference reply unparseable, treating as no preference",
			slog.Any("error", err))
		return nil
	}
	return prefs
}

// ParsePreferences decodes the extractor reply. A "preferences_found":
// false payload, an unknown budget tier or malformed JSON all resolve to no
// preference.
func ParsePreferences(raw string) (*types.Preferences, error) {
	clean := generativeAI.CleanJSONResponse(raw)
	var wire struct {
		PreferencesFound *bool    `json:"preferences_found"`
		Budget           string   `json:"budget"`
		Services         []string `json:"servizi"`
	}
	if err := json.Unmarshal([]byte(clean), &wire); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}
	if wire.PreferencesFound != nil && !*wire.PreferencesFound {
		return nil, nil
	}

	prefs := &types.Preferences{Services: wire.Services}
	if wire.Budget != "" {
		tier := types.BudgetTier(strings.ToLower(wire.Budget))
		if _, ok := tier.PriceCap(); ok {
			prefs.Budget = &tier
		}
	}
	if prefs.Budget == nil && len(prefs.Services) == 0 {
		return nil, nil
	}
	return prefs, nil
}

// HeuristicPreferences is the last-resort extractor: plain keyword spotting
// on the user message.
func HeuristicPreferences(userMessage string) *types.Preferences {
	msg := strings.ToLower(userMessage)
	var prefs types.Preferences
	switch {
	case strings.Contains(msg, "economic") || strings.Contains(msg, "spendere poco") || strings.Contains(msg, "low cost"):
		tier := types.BudgetEconomico
		prefs.Budget = &tier
	case strings.Contains(msg, "lusso") || strings.Contains(msg, "esclusiv"):
		tier := types.BudgetLusso
		prefs.Budget = &tier
	case strings.Contains(msg, "prezzo medio") || strings.Contains(msg, "budget medio"):
		tier := types.BudgetMedio
		prefs.Budget = &tier
	}
	if prefs.Budget == nil {
		return nil
	}
	return &prefs
}

func buildPreferencesPrompt(history []types.ConversationMessage, userMessage string) string {
	return fmt.Sprintf(`Estrai le preferenze dell'utente dalla conversazione.

Rispondi SOLO con JSON valido:
{"preferences_found": true, "budget": "economico|medio|lusso", "servizi": ["parola chiave", "..."]}
oppure, se l'utente non ha espresso preferenze:
{"preferences_found": false}

Il budget va indicato solo se espresso chiaramente. I servizi sono parole
chiave su caratteristiche richieste (es. "terrazza", "senza glutine").

Conversazione recente:
%s

Messaggio dell'utente: %q`, renderHistory(history, 6), userMessage)
}
