package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/denisok6893-rgb/estate-matching/internal/domain"
	"github.com/denisok6893-rgb/estate-matching/internal/matching"
	"github.com/denisok6893-rgb/estate-matching/internal/service"
	"github.com/denisok6893-rgb/estate-matching/internal/storage"
)

// PropertyView adds display strings to a property.
type PropertyView struct {
	domain.Property
	PriceDisplay string `json:"price_display"`
	AreaDisplay  string `json:"area_display"`
}

func (s *Server) propertyView(p domain.Property) PropertyView {
	return PropertyView{
		Property:     p,
		PriceDisplay: s.svc.Engine().FormatPrice(p.Price),
		AreaDisplay:  matching.FormatArea(p.Area),
	}
}

func (s *Server) handlePropertiesList(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 20, 0)

	f, err := parsePropertyFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f.Limit, f.Offset = limit, offset

	props, total, err := s.svc.ListProperties(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items := make([]PropertyView, 0, len(props))
	for _, p := range props {
		items = append(items, s.propertyView(p))
	}

	writeJSON(w, http.StatusOK, listResponse[PropertyView]{
		Limit:  limit,
		Offset: offset,
		Total:  total,
		Items:  items,
	})
}

func parsePropertyFilter(r *http.Request) (storage.PropertyFilter, error) {
	q := r.URL.Query()
	f := storage.PropertyFilter{
		Location: q.Get("location"),
		Type:     domain.PropertyType(q.Get("type")),
		Status:   domain.PropertyStatus(q.Get("status")),
		Sort:     q.Get("sort"),
	}

	var err error
	if f.MinPrice, err = floatParam(q.Get("min_price")); err != nil {
		return f, fmt.Errorf("%w: min_price", service.ErrValidation)
	}
	if f.MaxPrice, err = floatParam(q.Get("max_price")); err != nil {
		return f, fmt.Errorf("%w: max_price", service.ErrValidation)
	}
	if v := q.Get("min_bedrooms"); v != "" {
		if f.MinBedrooms, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("%w: min_bedrooms", service.ErrValidation)
		}
	}
	switch f.Sort {
	case "", "price_asc", "price_desc":
	default:
		return f, fmt.Errorf("%w: sort must be price_asc or price_desc", service.ErrValidation)
	}
	return f, nil
}

func floatParam(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

func (s *Server) handlePropertiesCreate(w http.ResponseWriter, r *http.Request) {
	var p domain.Property
	if err := decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.svc.CreateProperty(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.propertyView(created))
}

func (s *Server) handlePropertyGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetProperty(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.propertyView(p))
}

func (s *Server) handlePropertyDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteProperty(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handlePropertyMatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.GetProperty(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	matches, err := s.svc.MatchesForProperty(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matchesResponse{Count: len(matches), Items: matches})
}

// ---- prospects ----

func (s *Server) handleProspectsList(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 20, 0)
	status := domain.ProspectStatus(r.URL.Query().Get("status"))

	items, total, err := s.svc.ListProspects(r.Context(), limit, offset, status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.Prospect]{
		Limit:  limit,
		Offset: offset,
		Total:  total,
		Items:  items,
	})
}

func (s *Server) handleProspectsCreate(w http.ResponseWriter, r *http.Request) {
	var q domain.Prospect
	if err := decodeJSON(r, &q); err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.svc.CreateProspect(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleProspectGet(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.GetProspect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleProspectDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteProspect(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleProspectMatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.GetProspect(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	matches, err := s.svc.MatchesForProspect(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matchesResponse{Count: len(matches), Items: matches})
}
