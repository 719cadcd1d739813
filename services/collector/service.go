package collector

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"inventory-collector/pkg/config"
	"inventory-collector/pkg/errutil"
	"inventory-collector/pkg/gen"
	"inventory-collector/services/identity"
	"inventory-collector/services/job"
	"inventory-collector/services/plugin"
	"inventory-collector/services/rule"
)

type Service struct {
	repo            Repository
	jobs            *job.Manager
	rules           *rule.Service
	gen             gen.IDGenerator
	defaultPriority int
}

type Params struct {
	fx.In

	Repository Repository
	Jobs       *job.Manager
	Rules      *rule.Service `optional:"true"`
	Generator  gen.IDGenerator
	Config     *config.Config
}

func NewService(p Params) *Service {
	priority := 0
	if p.Config != nil {
		priority = p.Config.Collector.DefaultPriority
	}
	return &Service{
		repo:            p.Repository,
		jobs:            p.Jobs,
		rules:           p.Rules,
		gen:             p.Generator,
		defaultPriority: priority,
	}
}

type CreateParams struct {
	Name           string
	Provider       string
	DomainID       string
	WorkspaceID    string
	PluginInfo     plugin.Info
	SecretFilter   identity.SecretFilter
	MaxConcurrency int
	Priority       int
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*Collector, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, errutil.InvalidArgument("name is required", nil)
	}
	if p.DomainID == "" {
		return nil, errutil.InvalidArgument("domain_id is required", nil)
	}
	if p.PluginInfo.PluginID == "" {
		return nil, errutil.InvalidArgument("plugin_info.plugin_id is required", nil)
	}
	if p.MaxConcurrency < 0 {
		return nil, errutil.InvalidArgument("max_concurrency must not be negative", nil)
	}
	if p.SecretFilter.State == "" {
		p.SecretFilter.State = identity.FilterStateDisabled
	}
	priority := p.Priority
	if priority <= 0 {
		priority = s.defaultPriority
	}

	c := &Collector{
		CollectorID:    s.gen.NewID(gen.PrefixCollector),
		Name:           p.Name,
		Provider:       p.Provider,
		DomainID:       p.DomainID,
		WorkspaceID:    p.WorkspaceID,
		State:          StateEnabled,
		PluginInfo:     datatypes.NewJSONType(p.PluginInfo),
		SecretFilter:   datatypes.NewJSONType(p.SecretFilter),
		MaxConcurrency: p.MaxConcurrency,
		Priority:       priority,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, errutil.Internal("failed to create collector", err)
	}
	return c, nil
}

// Get returns the collector when it belongs to domainID.
func (s *Service) Get(ctx context.Context, collectorID, domainID string) (*Collector, error) {
	c, err := s.repo.Get(ctx, collectorID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && domainID != "" && c.DomainID != domainID) {
		return nil, errutil.NotFound("collector not found: "+collectorID, err)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes the collector together with its jobs, tasks and rules.
func (s *Service) Delete(ctx context.Context, collectorID, domainID string) error {
	if _, err := s.Get(ctx, collectorID, domainID); err != nil {
		return err
	}
	if err := s.jobs.DeleteByCollector(ctx, collectorID); err != nil {
		return errutil.Internal("failed to delete collector jobs", err)
	}
	if s.rules != nil {
		if err := s.rules.DeleteByCollector(ctx, collectorID); err != nil {
			return errutil.Internal("failed to delete collector rules", err)
		}
	}
	if err := s.repo.Delete(ctx, collectorID); err != nil {
		return errutil.Internal("failed to delete collector", err)
	}
	zap.L().Info("collector deleted", zap.String("collector_id", collectorID))
	return nil
}
