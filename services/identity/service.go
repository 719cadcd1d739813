package identity

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"inventory-collector/pkg/errutil"
)

type Service struct {
	repo Repository
	data DataStore
}

type Params struct {
	fx.In

	Repository Repository
	DataStore  DataStore
}

func NewService(p Params) *Service {
	return &Service{repo: p.Repository, data: p.DataStore}
}

// ListSecrets resolves a collector's secret filter into concrete secrets.
func (s *Service) ListSecrets(ctx context.Context, p ListParams) ([]Secret, error) {
	secrets, err := s.repo.List(ctx, p)
	if err != nil {
		return nil, errutil.Internal("failed to list secrets", err)
	}
	return secrets, nil
}

func (s *Service) GetSecret(ctx context.Context, domainID, secretID string) (*Secret, error) {
	secret, err := s.repo.Get(ctx, domainID, secretID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("secret not found: "+secretID, err)
	}
	return secret, err
}

// GetSecretData returns the payload of a secret. Callers must not persist or log it.
func (s *Service) GetSecretData(ctx context.Context, domainID, secretID string) (map[string]any, error) {
	if s.data == nil {
		return nil, errutil.Internal("secret data store not configured", nil)
	}
	data, err := s.data.Get(ctx, domainID, secretID)
	if err != nil {
		return nil, errutil.Internal("failed to read secret data", err, errutil.WithDetails(errutil.Detail{Field: "secret_id", Message: secretID}))
	}
	return data, nil
}
