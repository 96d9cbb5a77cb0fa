package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/denisok6893-rgb/estate-matching/internal/domain"
	"github.com/denisok6893-rgb/estate-matching/internal/storage"
)

// SeedCatalog upserts datasets loaded at startup. Invalid records are
// skipped and logged.
func (s *Service) SeedCatalog(ctx context.Context, properties []domain.Property, prospects []domain.Prospect) error {
	validProps := make([]domain.Property, 0, len(properties))
	for _, p := range properties {
		if err := Validate(p); err != nil || p.ID == "" {
			s.log.Warn("skipping seed property", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		validProps = append(validProps, p)
	}
	validProspects := make([]domain.Prospect, 0, len(prospects))
	for _, q := range prospects {
		if err := Validate(q); err != nil || q.ID == "" {
			s.log.Warn("skipping seed prospect", zap.String("id", q.ID), zap.Error(err))
			continue
		}
		validProspects = append(validProspects, q)
	}

	if err := s.store.UpsertProperties(ctx, validProps); err != nil {
		return fmt.Errorf("seed properties: %w", err)
	}
	if err := s.store.UpsertProspects(ctx, validProspects); err != nil {
		return fmt.Errorf("seed prospects: %w", err)
	}
	s.invalidateScores(ctx)

	s.log.Info("catalog seeded", zap.Int("properties", len(validProps)), zap.Int("prospects", len(validProspects)))
	return nil
}

func (s *Service) CreateProperty(ctx context.Context, p domain.Property) (domain.Property, error) {
	if err := Validate(p); err != nil {
		return domain.Property{}, err
	}
	created, err := s.store.CreateProperty(ctx, p)
	if err != nil {
		return domain.Property{}, fmt.Errorf("create property: %w", err)
	}
	s.invalidateScores(ctx)
	return created, nil
}

func (s *Service) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	return s.store.GetProperty(ctx, id)
}

func (s *Service) DeleteProperty(ctx context.Context, id string) error {
	ok, err := s.store.DeleteProperty(ctx, id)
	if err != nil {
		return fmt.Errorf("delete property: %w", err)
	}
	if !ok {
		return fmt.Errorf("property %s: %w", id, storage.ErrNotFound)
	}
	s.invalidateScores(ctx)
	return nil
}

func (s *Service) ListProperties(ctx context.Context, f storage.PropertyFilter) ([]domain.Property, int, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown property type %q", ErrValidation, f.Type)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown property status %q", ErrValidation, f.Status)
	}
	items, total, err := s.store.ListPropertiesFiltered(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.Property{}
	}
	return items, total, nil
}

func (s *Service) CreateProspect(ctx context.Context, q domain.Prospect) (domain.Prospect, error) {
	if err := Validate(q); err != nil {
		return domain.Prospect{}, err
	}
	created, err := s.store.CreateProspect(ctx, q)
	if err != nil {
		return domain.Prospect{}, fmt.Errorf("create prospect: %w", err)
	}
	s.invalidateScores(ctx)
	return created, nil
}

func (s *Service) GetProspect(ctx context.Context, id string) (domain.Prospect, error) {
	return s.store.GetProspect(ctx, id)
}

func (s *Service) DeleteProspect(ctx context.Context, id string) error {
	ok, err := s.store.DeleteProspect(ctx, id)
	if err != nil {
		return fmt.Errorf("delete prospect: %w", err)
	}
	if !ok {
		return fmt.Errorf("prospect %s: %w", id, storage.ErrNotFound)
	}
	s.invalidateScores(ctx)
	return nil
}

func (s *Service) ListProspects(ctx context.Context, limit, offset int, status domain.ProspectStatus) ([]domain.Prospect, int, error) {
	items, total, err := s.store.ListProspects(ctx, limit, offset, status)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.Prospect{}
	}
	return items, total, nil
}
