package domain

import (
	"errors"
	"time"
)

type PropertyType string

const (
	PropertyTypeVilla      PropertyType = "villa"
	PropertyTypeApartment  PropertyType = "apartment"
	PropertyTypeCommercial PropertyType = "commercial"
)

// Valid reports whether t is one of the known property types.
func (t PropertyType) Valid() bool {
	switch t {
	case PropertyTypeVilla, PropertyTypeApartment, PropertyTypeCommercial:
		return true
	}
	return false
}

type PropertyStatus string

const (
	PropertyStatusAvailable PropertyStatus = "available"
	PropertyStatusSold      PropertyStatus = "sold"
	PropertyStatusPending   PropertyStatus = "pending"
)

func (s PropertyStatus) Valid() bool {
	switch s {
	case PropertyStatusAvailable, PropertyStatusSold, PropertyStatusPending:
		return true
	}
	return false
}

// ProspectStatus is free text on the prospect record. Only active and
// interested prospects take part in matching.
type ProspectStatus string

const (
	ProspectStatusNew        ProspectStatus = "new"
	ProspectStatusActive     ProspectStatus = "active"
	ProspectStatusInterested ProspectStatus = "interested"
	ProspectStatusContacted  ProspectStatus = "contacted"
	ProspectStatusConverted  ProspectStatus = "converted"
	ProspectStatusLost       ProspectStatus = "lost"
)

func (s ProspectStatus) Matchable() bool {
	return s == ProspectStatusActive || s == ProspectStatusInterested
}

type Property struct {
	ID          string         `json:"id"`
	Title       string         `json:"title" validate:"max=200"`
	Type        PropertyType   `json:"type" validate:"required,oneof=villa apartment commercial"`
	Price       float64        `json:"price" validate:"gte=0"`
	Location    string         `json:"location" validate:"required"`
	Status      PropertyStatus `json:"status" validate:"required,oneof=available sold pending"`
	Bedrooms    *int           `json:"bedrooms,omitempty" validate:"omitempty,gte=0"`
	Bathrooms   *int           `json:"bathrooms,omitempty" validate:"omitempty,gte=0"`
	Area        float64        `json:"area" validate:"gte=0"`
	Features    []string       `json:"features,omitempty"`
	Description string         `json:"description,omitempty"`
	ImageURLs   []string       `json:"image_urls,omitempty" validate:"omitempty,dive,url"`
}

// Range is an optionally open-ended numeric interval. A nil bound is absent.
type Range struct {
	Min *float64 `json:"min,omitempty" validate:"omitempty,gte=0"`
	Max *float64 `json:"max,omitempty" validate:"omitempty,gte=0"`
}

type Preferences struct {
	Budget        Range          `json:"budget"`
	PropertyTypes []PropertyType `json:"property_types" validate:"omitempty,dive,oneof=villa apartment commercial"`
	Locations     []string       `json:"locations"`
	Bedrooms      *int           `json:"bedrooms,omitempty" validate:"omitempty,gte=0"`
	Bathrooms     *int           `json:"bathrooms,omitempty" validate:"omitempty,gte=0"`
	Area          Range          `json:"area"`
	Features      []string       `json:"features"`
}

type Prospect struct {
	ID          string         `json:"id"`
	Name        string         `json:"name" validate:"required"`
	Email       string         `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string         `json:"phone,omitempty"`
	Status      ProspectStatus `json:"status" validate:"required,max=64"`
	Preferences Preferences    `json:"preferences"`
}

type MatchStatus string

const (
	MatchStatusPending    MatchStatus = "pending"
	MatchStatusSent       MatchStatus = "sent"
	MatchStatusViewed     MatchStatus = "viewed"
	MatchStatusInterested MatchStatus = "interested"
	MatchStatusRejected   MatchStatus = "rejected"
)

var ErrInvalidTransition = errors.New("invalid match status transition")

var matchTransitions = map[MatchStatus][]MatchStatus{
	MatchStatusPending: {MatchStatusSent, MatchStatusRejected},
	MatchStatusSent:    {MatchStatusViewed, MatchStatusRejected},
	MatchStatusViewed:  {MatchStatusInterested, MatchStatusRejected},
}

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchStatusPending, MatchStatusSent, MatchStatusViewed, MatchStatusInterested, MatchStatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether a match may move from s to next.
// interested and rejected are terminal.
func (s MatchStatus) CanTransition(next MatchStatus) bool {
	for _, allowed := range matchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Match struct {
	ID         string      `json:"id,omitempty"`
	RunID      string      `json:"run_id,omitempty"`
	PropertyID string      `json:"property_id"`
	ProspectID string      `json:"prospect_id"`
	Score      int         `json:"score"`
	Reasons    []string    `json:"reasons"`
	CreatedAt  time.Time   `json:"created_at"`
	Status     MatchStatus `json:"status"`
}

// IntPtr and FloatPtr build optional fields for literals and tests.
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }
