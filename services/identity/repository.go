package identity

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, s *Secret) error
	Get(ctx context.Context, domainID, secretID string) (*Secret, error)
	List(ctx context.Context, p ListParams) ([]Secret, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, s *Secret) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *gormRepository) Get(ctx context.Context, domainID, secretID string) (*Secret, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var s Secret
	if err := r.db.WithContext(ctx).
		Where("domain_id = ? AND secret_id = ?", domainID, secretID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) List(ctx context.Context, p ListParams) ([]Secret, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&Secret{}).Where("domain_id = ?", p.DomainID)
	if p.WorkspaceID != "" {
		query = query.Where("workspace_id = ?", p.WorkspaceID)
	}
	if p.Provider != "" {
		query = query.Where("provider = ?", p.Provider)
	}
	if p.SecretID != "" {
		query = query.Where("secret_id = ?", p.SecretID)
	}

	if f := p.Filter; f.Enabled() {
		if len(f.Secrets) > 0 {
			query = query.Where("secret_id IN ?", f.Secrets)
		}
		if len(f.ServiceAccounts) > 0 {
			query = query.Where("service_account_id IN ?", f.ServiceAccounts)
		}
		if len(f.Schemas) > 0 {
			query = query.Where("schema_id IN ?", f.Schemas)
		}
		if len(f.ExcludeSecrets) > 0 {
			query = query.Where("secret_id NOT IN ?", f.ExcludeSecrets)
		}
		if len(f.ExcludeServiceAccounts) > 0 {
			query = query.Where("service_account_id NOT IN ?", f.ExcludeServiceAccounts)
		}
		if len(f.ExcludeSchemas) > 0 {
			query = query.Where("schema_id NOT IN ?", f.ExcludeSchemas)
		}
	}

	var secrets []Secret
	if err := query.Order("secret_id ASC").Find(&secrets).Error; err != nil {
		return nil, err
	}
	return secrets, nil
}
