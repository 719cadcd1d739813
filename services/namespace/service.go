package namespace

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"inventory-collector/pkg/errutil"
)

type Result string

const (
	ResultCreated   Result = "CREATED"
	ResultUpdated   Result = "UPDATED"
	ResultUnchanged Result = "UNCHANGED"
)

type Scope struct {
	DomainID    string
	WorkspaceID string
	CollectorID string
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Upsert stores a declaration keyed by its id. A stored declaration with the
// same version is left untouched.
func (s *Service) Upsert(ctx context.Context, kind Kind, resource map[string]any, scope Scope) (Result, error) {
	id, _ := resource[kind.IDField()].(string)
	if id == "" {
		return "", errutil.InvalidArgument(fmt.Sprintf("%s is required for %s", kind.IDField(), kind), nil)
	}
	version := fmt.Sprint(resource["version"])
	if resource["version"] == nil {
		version = ""
	}

	var result Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Declaration
		err := tx.Where("kind = ? AND declaration_id = ? AND domain_id = ?", kind, id, scope.DomainID).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			result = ResultCreated
			return tx.Create(&Declaration{
				Kind:          kind,
				DeclarationID: id,
				DomainID:      scope.DomainID,
				WorkspaceID:   scope.WorkspaceID,
				Version:       version,
				CollectorID:   scope.CollectorID,
				Document:      datatypes.JSONMap(resource),
			}).Error
		case err != nil:
			return err
		}

		if existing.Version == version {
			result = ResultUnchanged
			return nil
		}
		result = ResultUpdated
		return tx.Model(&Declaration{}).
			Where("kind = ? AND declaration_id = ? AND domain_id = ?", kind, id, scope.DomainID).
			Updates(map[string]any{
				"version":      version,
				"workspace_id": scope.WorkspaceID,
				"collector_id": scope.CollectorID,
				"document":     datatypes.JSONMap(resource),
			}).Error
	})
	if err != nil {
		return "", errutil.Internal("failed to upsert "+string(kind), err)
	}

	if result != ResultUnchanged {
		zap.L().Debug("declaration stored",
			zap.String("kind", string(kind)),
			zap.String("id", id),
			zap.String("version", version),
			zap.String("result", string(result)),
		)
	}
	return result, nil
}

func (s *Service) Get(ctx context.Context, kind Kind, domainID, id string) (*Declaration, error) {
	var d Declaration
	err := s.db.WithContext(ctx).Where("kind = ? AND declaration_id = ? AND domain_id = ?", kind, id, domainID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound(string(kind)+" not found: "+id, err)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
