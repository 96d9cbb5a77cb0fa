package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denisok6893-rgb/estate-matching/internal/domain"
	"github.com/denisok6893-rgb/estate-matching/internal/matching"
	"github.com/denisok6893-rgb/estate-matching/internal/service"
)

func seededService(t *testing.T) *service.Service {
	t.Helper()
	svc := newTestService(t)
	err := svc.SeedCatalog(context.Background(),
		[]domain.Property{
			{
				ID: "p1", Title: "Palmeraie villa", Type: domain.PropertyTypeVilla, Price: 2500000,
				Location: "Marrakech", Status: domain.PropertyStatusAvailable,
				Bedrooms: domain.IntPtr(4), Bathrooms: domain.IntPtr(3), Area: 300,
				Features: []string{"pool", "garden"},
			},
			{
				ID: "p2", Title: "Agdal flat", Type: domain.PropertyTypeApartment, Price: 900000,
				Location: "Rabat", Status: domain.PropertyStatusAvailable, Area: 90,
			},
		},
		[]domain.Prospect{
			{
				ID: "c1", Name: "Amina", Status: domain.ProspectStatusActive,
				Preferences: domain.Preferences{
					Budget:        domain.Range{Min: domain.FloatPtr(2000000), Max: domain.FloatPtr(3000000)},
					PropertyTypes: []domain.PropertyType{domain.PropertyTypeVilla},
					Locations:     []string{"Marrakech"},
					Bedrooms:      domain.IntPtr(4),
					Bathrooms:     domain.IntPtr(2),
					Area:          domain.Range{Min: domain.FloatPtr(250), Max: domain.FloatPtr(350)},
					Features:      []string{"pool", "garden"},
				},
			},
		},
	)
	require.NoError(t, err)
	return svc
}

type discoverResponse struct {
	RunID   string         `json:"run_id"`
	Count   int            `json:"count"`
	Matches []domain.Match `json:"matches"`
}

func TestDiscoverAndDerivedViews(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, seededService(t), Options{DefaultMinScore: 30})

	resp, raw := doJSON(t, http.MethodPost, ts.URL+"/matches/discover", map[string]int{"min_score": 30})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var run discoverResponse
	require.NoError(t, json.Unmarshal(raw, &run))
	assert.NotEmpty(t, run.RunID)
	require.Equal(t, 1, run.Count)
	assert.Equal(t, 100, run.Matches[0].Score)
	assert.Equal(t, "Property type matches (villa)", run.Matches[0].Reasons[0])
	assert.Equal(t, "Price within budget (2,500,000 MAD)", run.Matches[0].Reasons[1])

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/properties/p1/matches", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var views matchesResponse
	require.NoError(t, json.Unmarshal(raw, &views))
	assert.Equal(t, 1, views.Count)

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/prospects/c1/matches", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &views))
	assert.Equal(t, 1, views.Count)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/prospects/nobody/matches", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/matches/score?property_id=p1&prospect_id=c1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"property_id":"p1","prospect_id":"c1","score":100}`, string(raw))

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/matches/score?property_id=p2&prospect_id=c1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"property_id":"p2","prospect_id":"c1","score":0}`, string(raw))

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/matches/score?property_id=p2", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDiscover_DefaultAndInvalidThreshold(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, seededService(t), Options{DefaultMinScore: 0})

	resp, raw := doJSON(t, http.MethodPost, ts.URL+"/matches/discover", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var run discoverResponse
	require.NoError(t, json.Unmarshal(raw, &run))
	// threshold 0 keeps the disqualified apartment pair too
	assert.Equal(t, 2, run.Count)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/matches/discover", map[string]int{"min_score": 120})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLiveScore(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, seededService(t), Options{})

	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/score?property_id=p2&prospect_id=c1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got service.PairScore
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, []string{matching.ReasonTypeMismatch}, got.Reasons)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/score?property_id=missing&prospect_id=c1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMatchStatusLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, seededService(t), Options{})

	_, raw := doJSON(t, http.MethodPost, ts.URL+"/matches/discover", map[string]int{"min_score": 30})
	var run discoverResponse
	require.NoError(t, json.Unmarshal(raw, &run))
	require.NotEmpty(t, run.Matches)
	id := run.Matches[0].ID

	resp, raw := doJSON(t, http.MethodPatch, ts.URL+"/matches/"+id+"/status", map[string]string{"status": "sent"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var m domain.Match
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, domain.MatchStatusSent, m.Status)

	resp, _ = doJSON(t, http.MethodPatch, ts.URL+"/matches/"+id+"/status", map[string]string{"status": "interested"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPatch, ts.URL+"/matches/"+id+"/status", map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPatch, ts.URL+"/matches/unknown/status", map[string]string{"status": "sent"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/matches?status=sent", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list matchesResponse
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Equal(t, 1, list.Count)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/matches?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
