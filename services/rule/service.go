package rule

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"inventory-collector/pkg/errutil"
	"inventory-collector/pkg/gen"
)

type Service struct {
	repo  Repository
	cache *RuleCache
	gen   gen.IDGenerator
}

type Params struct {
	fx.In

	Repository Repository
	Cache      *RuleCache
	Generator  gen.IDGenerator
}

func NewService(p Params) *Service {
	return &Service{repo: p.Repository, cache: p.Cache, gen: p.Generator}
}

type CreateParams struct {
	CollectorID    string
	DomainID       string
	Order          int
	Condition      string
	Actions        Actions
	StopProcessing bool
}

// Create validates the condition before storing the rule.
func (s *Service) Create(ctx context.Context, p CreateParams) (*CollectorRule, error) {
	if p.CollectorID == "" {
		return nil, errutil.InvalidArgument("collector_id is required", nil)
	}
	rule := CollectorRule{
		RuleID:         s.gen.NewID(gen.PrefixCollectorRule),
		CollectorID:    p.CollectorID,
		DomainID:       p.DomainID,
		Order:          p.Order,
		Condition:      p.Condition,
		Actions:        datatypes.NewJSONType(p.Actions),
		StopProcessing: p.StopProcessing,
	}
	if _, err := compile([]CollectorRule{rule}); err != nil {
		return nil, errutil.InvalidArgument("invalid rule condition", err)
	}

	if err := s.repo.Create(ctx, &rule); err != nil {
		return nil, errutil.Internal("failed to create collector rule", err)
	}
	s.cache.Invalidate(p.CollectorID)
	return &rule, nil
}

func (s *Service) List(ctx context.Context, collectorID string) ([]CollectorRule, error) {
	return s.repo.ListByCollector(ctx, collectorID)
}

func (s *Service) Delete(ctx context.Context, ruleID string) error {
	rule, err := s.repo.Get(ctx, ruleID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errutil.NotFound("collector rule not found: "+ruleID, err)
	}
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, ruleID); err != nil {
		return err
	}
	s.cache.Invalidate(rule.CollectorID)
	return nil
}

func (s *Service) DeleteByCollector(ctx context.Context, collectorID string) error {
	if err := s.repo.DeleteByCollector(ctx, collectorID); err != nil {
		return err
	}
	s.cache.Invalidate(collectorID)
	return nil
}
