package identity

import (
	"time"
)

const (
	FilterStateEnabled  = "ENABLED"
	FilterStateDisabled = "DISABLED"
)

type Secret struct {
	SecretID         string    `gorm:"column:secret_id;primaryKey;type:varchar(64)" json:"secret_id"`
	Name             string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Provider         string    `gorm:"column:provider;index;type:varchar(64)" json:"provider"`
	ServiceAccountID string    `gorm:"column:service_account_id;index;type:varchar(64)" json:"service_account_id"`
	ProjectID        string    `gorm:"column:project_id;type:varchar(64)" json:"project_id"`
	Schema           string    `gorm:"column:schema_id;type:varchar(128)" json:"schema"`
	DomainID         string    `gorm:"column:domain_id;index;type:varchar(64);not null" json:"domain_id"`
	WorkspaceID      string    `gorm:"column:workspace_id;index;type:varchar(64)" json:"workspace_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SecretFilter narrows the secrets a collector runs against.
// A DISABLED filter only scopes by provider and tenant.
type SecretFilter struct {
	State                  string   `json:"state"`
	Secrets                []string `json:"secrets,omitempty"`
	ServiceAccounts        []string `json:"service_accounts,omitempty"`
	Schemas                []string `json:"schemas,omitempty"`
	ExcludeSecrets         []string `json:"exclude_secrets,omitempty"`
	ExcludeServiceAccounts []string `json:"exclude_service_accounts,omitempty"`
	ExcludeSchemas         []string `json:"exclude_schemas,omitempty"`
}

func (f SecretFilter) Enabled() bool {
	return f.State == FilterStateEnabled
}

type ListParams struct {
	DomainID    string
	WorkspaceID string
	Provider    string
	SecretID    string
	Filter      SecretFilter
}

func Models() []any {
	return []any{&Secret{}}
}
