package types

import (
	"encoding/json"
	"strings"
)

// Venue is a single place candidate flowing through the pipeline. Rating,
// ReviewCount and PriceLevel are pointers because upstream providers often
// omit them, and the filtering rules distinguish absent from zero.
type Venue struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	FormattedAddress string   `json:"formatted_address,omitempty"`
	Image            string   `json:"image,omitempty"`
	Category         string   `json:"category,omitempty"`
	Latitude         float64  `json:"lat,omitempty"`
	Longitude        float64  `json:"lng,omitempty"`
	Rating           *float64 `json:"rating,omitempty"`
	ReviewCount      *int     `json:"reviews_count,omitempty"`
	PriceLevel       *int     `json:"price_level,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	CategoryTags     []string `json:"category_tags,omitempty"`
	// DisplayCategory is set only on curated picks.
	DisplayCategory string `json:"display_category,omitempty"`
}

type BudgetTier string

const (
	BudgetEconomico BudgetTier = "economico"
	BudgetMedio     BudgetTier = "medio"
	BudgetLusso     BudgetTier = "lusso"
)

// PriceCap maps a budget tier to the maximum admissible price level.
// Unknown tiers report false and apply no constraint.
func (b BudgetTier) PriceCap() (int, bool) {
	switch BudgetTier(strings.ToLower(string(b))) {
	case BudgetEconomico:
		return 1, true
	case BudgetMedio:
		return 2, true
	case BudgetLusso:
		return 3, true
	default:
		return 0, false
	}
}

// Preferences holds the structured user preferences extracted from the
// conversation. A nil *Preferences means no preference was expressed.
type Preferences struct {
	Budget   *BudgetTier `json:"budget,omitempty"`
	Services []string    `json:"servizi,omitempty"`
}

// CategoryQuery is one search request for a category. Either Text holds a
// free-form query or Names holds explicit place names; name lists bypass
// filtering and ranking entirely.
type CategoryQuery struct {
	Category string   `json:"category"`
	Text     string   `json:"text,omitempty"`
	Names    []string `json:"names,omitempty"`
}

func (q CategoryQuery) IsList() bool { return len(q.Names) > 0 }

// UnmarshalJSON accepts the wire shape where a query is either a plain
// string or an array of place names.
func (q *CategoryQuery) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		q.Text = text
		return nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	q.Names = names
	return nil
}

// QueryPlan is the analyzer output: a resolved location plus one query per
// category, in a deterministic order.
type QueryPlan struct {
	Location string          `json:"location"`
	Queries  []CategoryQuery `json:"queries"`
}

// CategoryResult pairs a category query with the venues resolved for it.
type CategoryResult struct {
	Query  CategoryQuery `json:"query"`
	Venues []Venue       `json:"venues"`
}

// RankedResults is the engine output: the curated picks followed by the
// remaining ranked suggestions.
type RankedResults struct {
	Curated     []Venue `json:"curated"`
	Suggestions []Venue `json:"suggestions"`
}

// All returns curated picks first, then suggestions.
func (r *RankedResults) All() []Venue {
	out := make([]Venue, 0, len(r.Curated)+len(r.Suggestions))
	out = append(out, r.Curated...)
	out = append(out, r.Suggestions...)
	return out
}
