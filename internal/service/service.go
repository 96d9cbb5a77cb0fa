package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/denisok6893-rgb/estate-matching/internal/cache"
	"github.com/denisok6893-rgb/estate-matching/internal/domain"
	"github.com/denisok6893-rgb/estate-matching/internal/events"
	"github.com/denisok6893-rgb/estate-matching/internal/matching"
	"github.com/denisok6893-rgb/estate-matching/internal/metrics"
	"github.com/denisok6893-rgb/estate-matching/internal/storage"
	"github.com/denisok6893-rgb/estate-matching/internal/tracing"
)

const scoreKeyPrefix = "score:"

// Catalog supplies the inputs of a discovery run.
type Catalog interface {
	AllProperties(ctx context.Context) ([]domain.Property, error)
	AllProspects(ctx context.Context) ([]domain.Prospect, error)
}

// Store is everything the service needs from persistence.
// *storage.SQLiteStore implements it.
type Store interface {
	Catalog

	Ping(ctx context.Context) error

	UpsertProperties(ctx context.Context, items []domain.Property) error
	CreateProperty(ctx context.Context, p domain.Property) (domain.Property, error)
	GetProperty(ctx context.Context, id string) (domain.Property, error)
	DeleteProperty(ctx context.Context, id string) (bool, error)
	ListPropertiesFiltered(ctx context.Context, f storage.PropertyFilter) ([]domain.Property, int, error)

	UpsertProspects(ctx context.Context, items []domain.Prospect) error
	CreateProspect(ctx context.Context, q domain.Prospect) (domain.Prospect, error)
	GetProspect(ctx context.Context, id string) (domain.Prospect, error)
	DeleteProspect(ctx context.Context, id string) (bool, error)
	ListProspects(ctx context.Context, limit, offset int, status domain.ProspectStatus) ([]domain.Prospect, int, error)

	SaveMatchRun(ctx context.Context, minScore int, matches []domain.Match) (string, []domain.Match, error)
	LatestRunMatches(ctx context.Context) (string, []domain.Match, error)
	ListMatches(ctx context.Context, f storage.MatchFilter) ([]domain.Match, error)
	GetMatch(ctx context.Context, id string) (domain.Match, error)
	UpdateMatchStatus(ctx context.Context, id string, next domain.MatchStatus) (domain.Match, error)
}

type Service struct {
	store     Store
	engine    *matching.Engine
	cache     cache.Cache
	publisher events.Publisher
	log       *zap.Logger
	cacheTTL  time.Duration
}

type Option func(*Service)

// WithCache enables the pair score cache.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func New(store Store, engine *matching.Engine, opts ...Option) *Service {
	s := &Service{
		store:     store,
		engine:    engine,
		publisher: events.NoopPublisher{},
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("component", "service"))
	return s
}

func (s *Service) Engine() *matching.Engine { return s.engine }

// Ping checks the store and, when it can be pinged, the score cache.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if p, ok := s.cache.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	return nil
}

type DiscoveryResult struct {
	RunID   string         `json:"run_id"`
	Count   int            `json:"count"`
	Matches []domain.Match `json:"matches"`
}

// DiscoverMatches scores the whole catalog against every prospect, stores
// the kept pairs as a new run and announces it.
func (s *Service) DiscoverMatches(ctx context.Context, minScore int) (DiscoveryResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "service.DiscoverMatches")
	defer span.End()
	span.SetAttributes(attribute.Int("match.min_score", minScore))

	if minScore < 0 || minScore > 100 {
		return DiscoveryResult{}, fmt.Errorf("%w: min_score must be within [0,100]", ErrValidation)
	}

	started := time.Now()
	res, err := s.discover(ctx, minScore)

	scores := make([]int, len(res.Matches))
	for i, m := range res.Matches {
		scores[i] = m.Score
	}
	metrics.ObserveDiscovery(started, scores, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("discovery run failed", zap.Int("min_score", minScore), zap.Error(err))
		return DiscoveryResult{}, err
	}

	span.SetAttributes(attribute.String("match.run_id", res.RunID), attribute.Int("match.count", res.Count))
	s.log.Info("discovery run stored",
		zap.String("run_id", res.RunID),
		zap.Int("min_score", minScore),
		zap.Int("matches", res.Count),
		zap.Duration("duration", time.Since(started)),
	)

	s.publish(ctx, events.EventMatchesDiscovered, res.RunID, events.MatchesDiscoveredData{
		RunID:    res.RunID,
		MinScore: minScore,
		Count:    res.Count,
		Matches:  res.Matches,
	})
	return res, nil
}

func (s *Service) discover(ctx context.Context, minScore int) (DiscoveryResult, error) {
	properties, err := s.store.AllProperties(ctx)
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("load properties: %w", err)
	}
	prospects, err := s.store.AllProspects(ctx)
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("load prospects: %w", err)
	}

	found, err := s.engine.FindMatchesContext(ctx, properties, prospects, minScore)
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("find matches: %w", err)
	}

	runID, saved, err := s.store.SaveMatchRun(ctx, minScore, found)
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("save match run: %w", err)
	}
	if saved == nil {
		saved = []domain.Match{}
	}
	return DiscoveryResult{RunID: runID, Count: len(saved), Matches: saved}, nil
}

type PairScore struct {
	PropertyID string   `json:"property_id"`
	ProspectID string   `json:"prospect_id"`
	Score      int      `json:"score"`
	Reasons    []string `json:"reasons"`
}

// ScorePair scores one property against one prospect with the current
// catalog data, below the threshold too.
func (s *Service) ScorePair(ctx context.Context, propertyID, prospectID string) (PairScore, error) {
	ctx, span := tracing.Tracer().Start(ctx, "service.ScorePair")
	defer span.End()

	key := scoreKeyPrefix + propertyID + ":" + prospectID
	if s.cache != nil {
		var cached PairScore
		err := cache.GetJSON(ctx, s.cache, key, &cached)
		switch {
		case err == nil:
			metrics.ScoreCacheTotal.WithLabelValues("hit").Inc()
			return cached, nil
		case errors.Is(err, cache.ErrNotFound):
			metrics.ScoreCacheTotal.WithLabelValues("miss").Inc()
		default:
			metrics.ScoreCacheTotal.WithLabelValues("error").Inc()
			s.log.Warn("score cache read failed", zap.String("key", key), zap.Error(err))
			if undecodable(err) {
				if err := s.cache.Delete(ctx, key); err != nil {
					s.log.Warn("score cache delete failed", zap.String("key", key), zap.Error(err))
				}
			}
		}
	}

	p, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return PairScore{}, err
	}
	q, err := s.store.GetProspect(ctx, prospectID)
	if err != nil {
		return PairScore{}, err
	}

	score, reasons := s.engine.Score(p, q)
	out := PairScore{PropertyID: propertyID, ProspectID: prospectID, Score: score, Reasons: reasons}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, out, s.cacheTTL); err != nil {
			s.log.Warn("score cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

func undecodable(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// MatchesForProperty returns the latest run's matches for a property.
func (s *Service) MatchesForProperty(ctx context.Context, propertyID string) ([]domain.Match, error) {
	_, latest, err := s.store.LatestRunMatches(ctx)
	if err != nil {
		return nil, err
	}
	return nonNil(matching.MatchesForProperty(propertyID, latest)), nil
}

func (s *Service) MatchesForProspect(ctx context.Context, prospectID string) ([]domain.Match, error) {
	_, latest, err := s.store.LatestRunMatches(ctx)
	if err != nil {
		return nil, err
	}
	return nonNil(matching.MatchesForProspect(prospectID, latest)), nil
}

// ScoreFor looks the pair up in the latest run. Pairs that were not kept
// score 0.
func (s *Service) ScoreFor(ctx context.Context, propertyID, prospectID string) (int, error) {
	_, latest, err := s.store.LatestRunMatches(ctx)
	if err != nil {
		return 0, err
	}
	return matching.ScoreFor(propertyID, prospectID, latest), nil
}

func (s *Service) ListMatches(ctx context.Context, f storage.MatchFilter) ([]domain.Match, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown match status %q", ErrValidation, f.Status)
	}
	out, err := s.store.ListMatches(ctx, f)
	if err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (s *Service) UpdateMatchStatus(ctx context.Context, id string, next domain.MatchStatus) (domain.Match, error) {
	ctx, span := tracing.Tracer().Start(ctx, "service.UpdateMatchStatus")
	defer span.End()

	if !next.Valid() {
		return domain.Match{}, fmt.Errorf("%w: unknown match status %q", ErrValidation, next)
	}

	current, err := s.store.GetMatch(ctx, id)
	if err != nil {
		return domain.Match{}, err
	}

	updated, err := s.store.UpdateMatchStatus(ctx, id, next)
	if err != nil {
		return domain.Match{}, err
	}

	s.log.Info("match status changed",
		zap.String("match_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next)),
	)
	s.publish(ctx, events.EventMatchStatusChanged, id, events.MatchStatusChangedData{
		MatchID:    id,
		PropertyID: updated.PropertyID,
		ProspectID: updated.ProspectID,
		From:       current.Status,
		To:         next,
	})
	return updated, nil
}

func (s *Service) publish(ctx context.Context, t events.EventType, key string, data any) {
	ev, err := events.NewEvent(t, key, data)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.log.Warn("event publish failed", zap.String("event", string(t)), zap.String("key", key), zap.Error(err))
	}
}

// invalidateScores drops cached pair scores after any catalog change.
func (s *Service) invalidateScores(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePrefix(ctx, scoreKeyPrefix); err != nil {
		s.log.Warn("score cache invalidation failed", zap.Error(err))
	}
}

func nonNil(m []domain.Match) []domain.Match {
	if m == nil {
		return []domain.Match{}
	}
	return m
}
