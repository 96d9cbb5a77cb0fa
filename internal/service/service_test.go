package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/denisok6893-rgb/estate-matching/internal/cache"
	"github.com/denisok6893-rgb/estate-matching/internal/domain"
	"github.com/denisok6893-rgb/estate-matching/internal/events"
	"github.com/denisok6893-rgb/estate-matching/internal/matching"
	"github.com/denisok6893-rgb/estate-matching/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc   *Service
	store *storage.SQLiteStore
	pub   *recordingPublisher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	st, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))

	pub := &recordingPublisher{}
	svc := New(st, matching.NewEngine(matching.DefaultWeights()),
		WithCache(cache.NewInMemoryCache(), 0),
		WithPublisher(pub),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, svc.SeedCatalog(ctx, catalogProperties(), catalogProspects()))
	return fixture{svc: svc, store: st, pub: pub}
}

func catalogProperties() []domain.Property {
	return []domain.Property{
		{
			ID: "p1", Title: "Palmeraie villa", Type: domain.PropertyTypeVilla, Price: 2500000,
			Location: "Marrakech", Status: domain.PropertyStatusAvailable,
			Bedrooms: domain.IntPtr(4), Bathrooms: domain.IntPtr(3), Area: 300,
			Features: []string{"pool", "garden"},
		},
		{
			ID: "p2", Title: "Sold villa", Type: domain.PropertyTypeVilla, Price: 2500000,
			Location: "Marrakech", Status: domain.PropertyStatusSold, Area: 300,
		},
	}
}

func catalogProspects() []domain.Prospect {
	return []domain.Prospect{
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
		{
			ID: "c2", Name: "Youssef", Status: domain.ProspectStatusLost,
			Preferences: domain.Preferences{PropertyTypes: []domain.PropertyType{domain.PropertyTypeVilla}},
		},
	}
}

func TestDiscoverMatches_StoresRunAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.DiscoverMatches(ctx, 30)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	require.Equal(t, 1, res.Count)
	m := res.Matches[0]
	assert.Equal(t, "p1", m.PropertyID)
	assert.Equal(t, "c1", m.ProspectID)
	assert.Equal(t, 100, m.Score)
	assert.Len(t, m.Reasons, 7)
	assert.Equal(t, domain.MatchStatusPending, m.Status)
	assert.NotEmpty(t, m.ID)

	assert.Equal(t, []events.EventType{events.EventMatchesDiscovered}, f.pub.types())

	score, err := f.svc.ScoreFor(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 100, score)

	score, err = f.svc.ScoreFor(ctx, "p2", "c1")
	require.NoError(t, err)
	assert.Equal(t, matching.NoMatch, score)
}

func TestDiscoverMatches_RunsAreNotMerged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.DiscoverMatches(ctx, 30)
	require.NoError(t, err)
	second, err := f.svc.DiscoverMatches(ctx, 30)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.NotEqual(t, first.Matches[0].ID, second.Matches[0].ID)

	latest, err := f.svc.MatchesForProperty(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, second.RunID, latest[0].RunID)

	byProspect, err := f.svc.MatchesForProspect(ctx, "c2")
	require.NoError(t, err)
	assert.Empty(t, byProspect)
	assert.NotNil(t, byProspect)

	all, err := f.svc.ListMatches(ctx, storage.MatchFilter{PropertyID: "p1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDiscoverMatches_Threshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.DiscoverMatches(ctx, 0)
	require.NoError(t, err)
	// every pair is kept at zero, disqualified ones included
	assert.Equal(t, 4, res.Count)
	assert.Equal(t, 100, res.Matches[0].Score)

	_, err = f.svc.DiscoverMatches(ctx, 101)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.DiscoverMatches(ctx, -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDiscoverMatches_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	res, err := f.svc.DiscoverMatches(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestScorePair_CachedUntilCatalogChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	got, err := f.svc.ScorePair(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.Score)

	// change the row behind the service's back: cached value still served
	sold := catalogProperties()[0]
	sold.Status = domain.PropertyStatusSold
	require.NoError(t, f.store.UpsertProperties(ctx, []domain.Property{sold}))

	got, err = f.svc.ScorePair(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.Score)

	// any catalog write through the service drops cached scores
	require.NoError(t, f.svc.DeleteProspect(ctx, "c2"))

	got, err = f.svc.ScorePair(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, []string{matching.ReasonPropertyUnavailable}, got.Reasons)
}

func TestScorePair_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ScorePair(context.Background(), "missing", "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.svc.ScorePair(context.Background(), "p1", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateMatchStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.DiscoverMatches(ctx, 30)
	require.NoError(t, err)
	id := res.Matches[0].ID

	m, err := f.svc.UpdateMatchStatus(ctx, id, domain.MatchStatusSent)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusSent, m.Status)
	assert.Equal(t, []events.EventType{events.EventMatchesDiscovered, events.EventMatchStatusChanged}, f.pub.types())

	_, err = f.svc.UpdateMatchStatus(ctx, id, domain.MatchStatusInterested)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.UpdateMatchStatus(ctx, id, "archived")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpdateMatchStatus(ctx, "missing", domain.MatchStatusSent)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	sent, err := f.svc.ListMatches(ctx, storage.MatchFilter{Status: domain.MatchStatusSent})
	require.NoError(t, err)
	assert.Len(t, sent, 1)

	_, err = f.svc.ListMatches(ctx, storage.MatchFilter{Status: "bogus"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCatalogCRUD(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateProperty(ctx, domain.Property{Type: "castle", Location: "Fes", Status: domain.PropertyStatusAvailable})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "type")

	p, err := f.svc.CreateProperty(ctx, domain.Property{
		Title: "Riad", Type: domain.PropertyTypeVilla, Price: 1800000, Location: "Fes Medina",
		Status: domain.PropertyStatusAvailable, Area: 200,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	items, total, err := f.svc.ListProperties(ctx, storage.PropertyFilter{Location: "fes"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, p.ID, items[0].ID)

	_, _, err = f.svc.ListProperties(ctx, storage.PropertyFilter{Type: "castle"})
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.svc.DeleteProperty(ctx, p.ID))
	assert.ErrorIs(t, f.svc.DeleteProperty(ctx, p.ID), storage.ErrNotFound)

	_, err = f.svc.CreateProspect(ctx, domain.Prospect{Name: "Sara", Email: "not-an-email", Status: domain.ProspectStatusNew})
	assert.ErrorIs(t, err, ErrValidation)

	q, err := f.svc.CreateProspect(ctx, domain.Prospect{Name: "Sara", Email: "sara@example.com", Status: domain.ProspectStatusActive})
	require.NoError(t, err)
	got, err := f.svc.GetProspect(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sara", got.Name)

	prospects, total, err := f.svc.ListProspects(ctx, 10, 0, domain.ProspectStatusActive)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, prospects, 2)
}

func TestSeedCatalog_SkipsInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.svc.SeedCatalog(ctx,
		[]domain.Property{{ID: "bad", Type: "castle", Location: "x", Status: domain.PropertyStatusAvailable}},
		[]domain.Prospect{{ID: "c9", Name: "Nadia", Status: domain.ProspectStatusInterested}},
	)
	require.NoError(t, err)

	_, err = f.svc.GetProperty(ctx, "bad")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.svc.GetProspect(ctx, "c9")
	assert.NoError(t, err)
}

func TestCreateProspect_FreeTextStatusIsNotMatchable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateProspect(ctx, domain.Prospect{ID: "c-hold", Name: "Salma", Status: "on_hold"})
	require.NoError(t, err)

	got, err := f.svc.ScorePair(ctx, "p1", "c-hold")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, []string{matching.ReasonProspectInactive}, got.Reasons)
}

type deleteRecordingCache struct {
	*cache.InMemoryCache
	deleted []string
}

func (c *deleteRecordingCache) Delete(ctx context.Context, key string) error {
	c.deleted = append(c.deleted, key)
	return c.InMemoryCache.Delete(ctx, key)
}

func TestScorePair_DropsUndecodableCacheEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c := &deleteRecordingCache{InMemoryCache: cache.NewInMemoryCache()}
	require.NoError(t, c.Set(ctx, "score:p1:c1", []byte("{not json"), 0))
	svc := New(f.store, matching.NewEngine(matching.DefaultWeights()), WithCache(c, 0), WithLogger(zaptest.NewLogger(t)))

	got, err := svc.ScorePair(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.Score)
	assert.Equal(t, []string{"score:p1:c1"}, c.deleted)

	var cached PairScore
	require.NoError(t, cache.GetJSON(ctx, c, "score:p1:c1", &cached))
	assert.Equal(t, 100, cached.Score)
}

func TestPing_ChecksRedisCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(ctx, mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	svc := New(f.store, matching.NewEngine(matching.DefaultWeights()), WithCache(rc, 0))
	require.NoError(t, svc.Ping(ctx))

	mr.Close()
	err = svc.Ping(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache")
}
