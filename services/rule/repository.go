package rule

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, rule *CollectorRule) error
	Get(ctx context.Context, ruleID string) (*CollectorRule, error)
	ListByCollector(ctx context.Context, collectorID string) ([]CollectorRule, error)
	Delete(ctx context.Context, ruleID string) error
	DeleteByCollector(ctx context.Context, collectorID string) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, rule *CollectorRule) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *gormRepository) Get(ctx context.Context, ruleID string) (*CollectorRule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var rule CollectorRule
	if err := r.db.WithContext(ctx).Where("rule_id = ?", ruleID).First(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *gormRepository) ListByCollector(ctx context.Context, collectorID string) ([]CollectorRule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var rules []CollectorRule
	err := r.db.WithContext(ctx).
		Where("collector_id = ?", collectorID).
		Order("rule_order ASC").Order("rule_id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *gormRepository) Delete(ctx context.Context, ruleID string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).Where("rule_id = ?", ruleID).Delete(&CollectorRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) DeleteByCollector(ctx context.Context, collectorID string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Where("collector_id = ?", collectorID).Delete(&CollectorRule{}).Error
}
