package matching

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/denisok6893-rgb/estate-matching/internal/domain"
)

// NoMatch is returned by ScoreFor when the pair is absent.
const NoMatch = 0

const (
	ReasonPropertyUnavailable = "Property not available"
	ReasonProspectInactive    = "Prospect not active"
	ReasonTypeMismatch        = "Property type doesn't match preferences"
)

type Engine struct {
	weights Weights
	now     func() time.Time
	printer *message.Printer
}

type Option func(*Engine)

// WithClock overrides the time source used for Match.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(w Weights, opts ...Option) *Engine {
	e := &Engine{
		weights: w,
		now:     time.Now,
		printer: message.NewPrinter(language.English),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score computes the compatibility of a property with a prospect. It never
// fails and never mutates its arguments.
func (e *Engine) Score(p domain.Property, q domain.Prospect) (int, []string) {
	if p.Status != domain.PropertyStatusAvailable {
		return 0, []string{ReasonPropertyUnavailable}
	}
	if !q.Status.Matchable() {
		return 0, []string{ReasonProspectInactive}
	}
	if !containsType(q.Preferences.PropertyTypes, p.Type) {
		return 0, []string{ReasonTypeMismatch}
	}

	w := e.weights
	prefs := q.Preferences
	score := w.TypeMatch
	reasons := []string{fmt.Sprintf("Property type matches (%s)", p.Type)}

	add := func(points float64, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	// budget
	budget := prefs.Budget
	switch {
	case budget.Min != nil && budget.Max != nil:
		switch {
		case p.Price < *budget.Min:
			add(w.BudgetBelowMin, "Price below minimum (good value)")
		case p.Price > *budget.Max:
			add(w.BudgetAboveMax, "Price above maximum budget")
		default:
			add(w.BudgetInRange, fmt.Sprintf("Price within budget (%s)", e.FormatPrice(p.Price)))
		}
	case budget.Min != nil:
		if p.Price >= *budget.Min {
			add(w.BudgetOpenBound, fmt.Sprintf("Price above minimum budget (%s)", e.FormatPrice(p.Price)))
		}
	case budget.Max != nil:
		if p.Price <= *budget.Max {
			add(w.BudgetOpenBound, fmt.Sprintf("Price within maximum budget (%s)", e.FormatPrice(p.Price)))
		}
	}

	// location
	if matched := matchingLocations(p.Location, prefs.Locations); len(matched) > 0 {
		add(w.LocationMatch, fmt.Sprintf("Location matches (%s)", strings.Join(matched, ", ")))
	} else if len(prefs.Locations) == 0 {
		add(w.LocationNoPreference, "No specific location preference")
	}

	// bedrooms
	if prefs.Bedrooms != nil && p.Bedrooms != nil {
		have, want := *p.Bedrooms, *prefs.Bedrooms
		switch {
		case have == want:
			add(w.BedroomsExact, fmt.Sprintf("Exact bedroom count (%d)", have))
		case have > want:
			add(w.BedroomsMore, fmt.Sprintf("More bedrooms than requested (%d vs %d)", have, want))
		default:
			add(w.BedroomsFewer, fmt.Sprintf("Fewer bedrooms than requested (%d vs %d)", have, want))
		}
	}

	// bathrooms
	if prefs.Bathrooms != nil && p.Bathrooms != nil {
		have, want := *p.Bathrooms, *prefs.Bathrooms
		if have >= want {
			add(w.BathroomsEnough, fmt.Sprintf("Sufficient bathrooms (%d)", have))
		} else {
			add(w.BathroomsFewer, fmt.Sprintf("Fewer bathrooms than requested (%d vs %d)", have, want))
		}
	}

	// area
	area := prefs.Area
	switch {
	case area.Min != nil && area.Max != nil:
		switch {
		case p.Area > *area.Max:
			add(w.AreaLarger, fmt.Sprintf("Area larger than preferred (%s)", FormatArea(p.Area)))
		case p.Area < *area.Min:
			add(w.AreaSmaller, fmt.Sprintf("Area smaller than minimum (%s)", FormatArea(p.Area)))
		default:
			add(w.AreaInRange, fmt.Sprintf("Area within preferred range (%s)", FormatArea(p.Area)))
		}
	case area.Min != nil:
		if p.Area >= *area.Min {
			add(w.AreaAboveMin, fmt.Sprintf("Area meets minimum (%s)", FormatArea(p.Area)))
		}
	}

	// features
	if len(prefs.Features) > 0 && p.Features != nil {
		matched := matchingFeatures(p.Features, prefs.Features)
		if len(matched) > 0 {
			points := math.Min(w.FeaturesMax, float64(len(matched))/float64(len(prefs.Features))*w.FeaturesMax)
			add(points, fmt.Sprintf("%d matching feature(s): %s", len(matched), strings.Join(matched, ", ")))
		}
	}

	return int(math.Round(clamp(score, 0, 100))), reasons
}

// FindMatches scores every property/prospect pair and keeps those scoring
// at least minScore, best first. Equal scores keep enumeration order.
func (e *Engine) FindMatches(properties []domain.Property, prospects []domain.Prospect, minScore int) []domain.Match {
	out, _ := e.FindMatchesContext(context.Background(), properties, prospects, minScore)
	return out
}

// FindMatchesContext is FindMatches with cancellation checked between
// property rows.
func (e *Engine) FindMatchesContext(ctx context.Context, properties []domain.Property, prospects []domain.Prospect, minScore int) ([]domain.Match, error) {
	createdAt := e.now()
	var out []domain.Match

	for _, p := range properties {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, q := range prospects {
			score, reasons := e.Score(p, q)
			if score < minScore {
				continue
			}
			out = append(out, domain.Match{
				PropertyID: p.ID,
				ProspectID: q.ID,
				Score:      score,
				Reasons:    reasons,
				CreatedAt:  createdAt,
				Status:     domain.MatchStatusPending,
			})
		}
	}

	sortByScore(out)
	return out, nil
}

// MatchesForProperty returns the matches of one property, best first.
func MatchesForProperty(propertyID string, matches []domain.Match) []domain.Match {
	var out []domain.Match
	for _, m := range matches {
		if m.PropertyID == propertyID {
			out = append(out, m)
		}
	}
	sortByScore(out)
	return out
}

// MatchesForProspect returns the matches of one prospect, best first.
func MatchesForProspect(prospectID string, matches []domain.Match) []domain.Match {
	var out []domain.Match
	for _, m := range matches {
		if m.ProspectID == prospectID {
			out = append(out, m)
		}
	}
	sortByScore(out)
	return out
}

// ScoreFor returns the score recorded for the pair, or NoMatch.
func ScoreFor(propertyID, prospectID string, matches []domain.Match) int {
	for _, m := range matches {
		if m.PropertyID == propertyID && m.ProspectID == prospectID {
			return m.Score
		}
	}
	return NoMatch
}

// FormatPrice renders a whole amount with thousands separators and the
// configured currency, e.g. "2,500,000 MAD".
func (e *Engine) FormatPrice(price float64) string {
	s := e.printer.Sprintf("%d", int64(math.Round(price)))
	if e.weights.Currency == "" {
		return s
	}
	return s + " " + e.weights.Currency
}

func FormatArea(area float64) string {
	return strconv.FormatFloat(area, 'f', -1, 64) + " m²"
}

func sortByScore(matches []domain.Match) {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
}

func containsType(types []domain.PropertyType, t domain.PropertyType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// matchingLocations returns the preferred locations that contain, or are
// contained in, the property location (case-insensitive).
func matchingLocations(location string, preferred []string) []string {
	loc := strings.ToLower(location)
	var out []string
	for _, pref := range preferred {
		p := strings.ToLower(pref)
		if strings.Contains(loc, p) || strings.Contains(p, loc) {
			out = append(out, pref)
		}
	}
	return out
}

func matchingFeatures(have, want []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, f := range have {
		set[f] = struct{}{}
	}
	var out []string
	for _, f := range want {
		if _, ok := set[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
