package conversation

import (
	"fmt"
	"strings"

	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

func buildSynthesisPrompt(userMessage, location string) string {
	locationPart := ""
	if location != "" {
		locationPart = fmt.Sprintf("\nLa località di riferimento attuale è %q.", location)
	}
	return fmt.Sprintf(`Sei un esperto di enogastronomia e ospitalità italiana.
Scrivi una panoramica utile e concreta per la richiesta dell'utente:
vini e cantine della zona, cucina tipica e piatti da provare, dolci
tradizionali e indicazioni su dove alloggiare.%s
Non citare mai nomi di ristoranti o strutture ricettive specifiche: i
suggerimenti puntuali arrivano da un passaggio successivo.

Richiesta: %q`, locationPart, userMessage)
}

func buildScopeClassifierPrompt(userMessage string, history []types.ConversationMessage) string {
	return fmt.Sprintf(`Valuta se l'utente sta CONFERMANDO di voler modificare la
struttura della ricerca corrente (nuova città, oppure restringere a una sola
categoria come "solo i vini" o "solo i dolci").

Regole:
- Rispondi con kind "scope_change" SOLO se l'utente conferma esplicitamente
  ("Sì", "Certo", "Procedi" o simili) una modifica che gli è stata proposta,
  oppure chiede in modo inequivocabile di reimpostare la ricerca.
- In ogni altro caso rispondi con kind "normal_reply" e metti in "text" la
  risposta conversazionale da dare all'utente.
- Prima di un "scope_change" l'assistente deve sempre aver chiesto conferma.

Rispondi SOLO con JSON valido:
{"kind": "scope_change"}
oppure
{"kind": "normal_reply", "text": "la risposta per l'utente"}

Conversazione recente:
%s

Messaggio dell'utente: %q`, renderHistory(history, 6), userMessage)
}

func buildLocationDetectionPrompt(userMessage string) string {
	return fmt.Sprintf(`Se il messaggio seguente nomina una città o località
geografica, rispondi SOLO con il nome della località. Altrimenti rispondi
SOLO con la parola "false".

Messaggio: %q`, userMessage)
}

func buildChatPrompt(userMessage string, history []types.ConversationMessage, results *types.RankedResults, state types.ConversationState) string {
	var b strings.Builder
	if state.ProgramMode {
		b.WriteString(`Sei l'assistente di un programma di viaggio già salvato.
Rispondi alle domande usando solo i luoghi del programma. Il programma è in
sola lettura: non proporre mai di modificarlo o di rifare la ricerca.`)
	} else {
		b.WriteString(`Sei l'assistente di una ricerca enogastronomica appena
completata. Rispondi in modo conciso usando i risultati disponibili.`)
	}
	if state.Location != "" {
		fmt.Fprintf(&b, "\nLocalità corrente: %s.", state.Location)
	}
	if results != nil {
		b.WriteString("\n\nRisultati disponibili:")
		for _, v := range results.All() {
			fmt.Fprintf(&b, "\n- %s", v.Name)
			if v.Category != "" {
				fmt.Fprintf(&b, " (%s)", v.Category)
			}
		}
	}
	if h := renderHistory(history, 10); h != "" {
		b.WriteString("\n\nConversazione recente:\n")
		b.WriteString(h)
	}
	fmt.Fprintf(&b, "\n\nMessaggio dell'utente: %q", userMessage)
	return b.String()
}

func renderHistory(history []types.ConversationMessage, maxTurns int) string {
	if len(history) == 0 {
		return ""
	}
	start := 0
	if len(history) > maxTurns {
		start = len(history) - maxTurns
	}
	var lines []string
	for _, m := range history[start:] {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}
