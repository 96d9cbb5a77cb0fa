package matching

import (
	"encoding/json"
	"fmt"
	"os"
)

// Weights defines the points each scoring rule adds or removes.
type Weights struct {
	TypeMatch float64 `json:"type_match"`

	BudgetInRange   float64 `json:"budget_in_range"`
	BudgetBelowMin  float64 `json:"budget_below_min"`
	BudgetAboveMax  float64 `json:"budget_above_max"`
	BudgetOpenBound float64 `json:"budget_open_bound"`

	LocationMatch        float64 `json:"location_match"`
	LocationNoPreference float64 `json:"location_no_preference"`

	BedroomsExact float64 `json:"bedrooms_exact"`
	BedroomsMore  float64 `json:"bedrooms_more"`
	BedroomsFewer float64 `json:"bedrooms_fewer"`

	BathroomsEnough float64 `json:"bathrooms_enough"`
	BathroomsFewer  float64 `json:"bathrooms_fewer"`

	AreaInRange  float64 `json:"area_in_range"`
	AreaLarger   float64 `json:"area_larger"`
	AreaSmaller  float64 `json:"area_smaller"`
	AreaAboveMin float64 `json:"area_above_min"`

	FeaturesMax float64 `json:"features_max"`

	// Currency is appended to formatted prices in reasons.
	Currency string `json:"currency"`
}

// DefaultWeights returns the production scoring table.
func DefaultWeights() Weights {
	return Weights{
		TypeMatch: 25,

		BudgetInRange:   25,
		BudgetBelowMin:  15,
		BudgetAboveMax:  -10,
		BudgetOpenBound: 20,

		LocationMatch:        20,
		LocationNoPreference: 10,

		BedroomsExact: 10,
		BedroomsMore:  5,
		BedroomsFewer: -5,

		BathroomsEnough: 5,
		BathroomsFewer:  -3,

		AreaInRange:  10,
		AreaLarger:   5,
		AreaSmaller:  -5,
		AreaAboveMin: 8,

		FeaturesMax: 5,

		Currency: "MAD",
	}
}

// LoadWeightsFromFile overlays a JSON file on the defaults. On error the
// defaults are returned alongside it.
func LoadWeightsFromFile(path string) (Weights, error) {
	w := DefaultWeights()
	b, err := os.ReadFile(path)
	if err != nil {
		return w, fmt.Errorf("read weights file: %w", err)
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return DefaultWeights(), fmt.Errorf("unmarshal weights: %w", err)
	}
	return w, nil
}
