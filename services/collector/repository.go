package collector

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, c *Collector) error
	Get(ctx context.Context, collectorID string) (*Collector, error)
	UpdateLastCollectedAt(ctx context.Context, collectorID string, at time.Time) error
	Delete(ctx context.Context, collectorID string) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, c *Collector) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *gormRepository) Get(ctx context.Context, collectorID string) (*Collector, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var c Collector
	if err := r.db.WithContext(ctx).Where("collector_id = ?", collectorID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) UpdateLastCollectedAt(ctx context.Context, collectorID string, at time.Time) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Model(&Collector{}).
		Where("collector_id = ?", collectorID).
		Update("last_collected_at", at).Error
}

func (r *gormRepository) Delete(ctx context.Context, collectorID string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).Where("collector_id = ?", collectorID).Delete(&Collector{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
