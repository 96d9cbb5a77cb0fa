package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/denisok6893-rgb/estate-matching/internal/domain"
	"github.com/denisok6893-rgb/estate-matching/internal/service"
	"github.com/denisok6893-rgb/estate-matching/internal/storage"
)

type DiscoverRequest struct {
	MinScore *int `json:"min_score" validate:"omitempty,gte=0,lte=100"`
}

type StatusRequest struct {
	Status domain.MatchStatus `json:"status" validate:"required,oneof=pending sent viewed interested rejected"`
}

type RunScoreResponse struct {
	PropertyID string `json:"property_id"`
	ProspectID string `json:"prospect_id"`
	Score      int    `json:"score"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req DiscoverRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := service.Validate(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	minScore := s.opts.DefaultMinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}

	res, err := s.svc.DiscoverMatches(r.Context(), minScore)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMatchesList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	matches, err := s.svc.ListMatches(r.Context(), storage.MatchFilter{
		RunID:      q.Get("run_id"),
		PropertyID: q.Get("property_id"),
		ProspectID: q.Get("prospect_id"),
		Status:     domain.MatchStatus(q.Get("status")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matchesResponse{Count: len(matches), Items: matches})
}

func (s *Server) handleMatchStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := service.Validate(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	m, err := s.svc.UpdateMatchStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleLiveScore scores a pair against current catalog data.
func (s *Server) handleLiveScore(w http.ResponseWriter, r *http.Request) {
	propertyID, prospectID, err := pairParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.ScorePair(r.Context(), propertyID, prospectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRunScore reads the pair's score from the latest discovery run.
func (s *Server) handleRunScore(w http.ResponseWriter, r *http.Request) {
	propertyID, prospectID, err := pairParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	score, err := s.svc.ScoreFor(r.Context(), propertyID, prospectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RunScoreResponse{PropertyID: propertyID, ProspectID: prospectID, Score: score})
}

func pairParams(r *http.Request) (string, string, error) {
	q := r.URL.Query()
	propertyID, prospectID := q.Get("property_id"), q.Get("prospect_id")
	if propertyID == "" || prospectID == "" {
		return "", "", fmt.Errorf("%w: property_id and prospect_id are required", service.ErrValidation)
	}
	return propertyID, prospectID, nil
}
