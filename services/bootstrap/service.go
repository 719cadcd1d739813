package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"inventory-collector/services/collector"
	"inventory-collector/services/identity"
	"inventory-collector/services/job"
	"inventory-collector/services/namespace"
	"inventory-collector/services/resource"
	"inventory-collector/services/rule"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Models lists every table the collector owns.
func Models() []any {
	var out []any
	for _, models := range [][]any{
		identity.Models(),
		collector.Models(),
		rule.Models(),
		job.Models(),
		resource.Models(),
		namespace.Models(),
	} {
		out = append(out, models...)
	}
	return out
}

func (s *Service) Migrate(ctx context.Context) error {
	models := Models()
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		zap.L().Error("[bootstrap] migration failed", zap.Error(err))
		return fmt.Errorf("migrate: %w", err)
	}
	zap.L().Info("[bootstrap] schema migrated", zap.Int("tables", len(models)))
	return nil
}
