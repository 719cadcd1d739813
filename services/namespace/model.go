package namespace

import (
	"time"

	"gorm.io/datatypes"
)

type Kind string

const (
	KindNamespace Kind = "inventory.Namespace"
	KindMetric    Kind = "inventory.Metric"
)

// IDField is the document field carrying the declaration identifier.
func (k Kind) IDField() string {
	if k == KindMetric {
		return "metric_id"
	}
	return "namespace_id"
}

// Declaration describes a namespace or metric announced by a plugin. It is
// stored as declared and replaced only when its version changes.
type Declaration struct {
	Kind          Kind              `gorm:"column:kind;primaryKey;type:varchar(32)"`
	DeclarationID string            `gorm:"column:declaration_id;primaryKey;type:varchar(128)"`
	DomainID      string            `gorm:"column:domain_id;primaryKey;type:varchar(64)"`
	WorkspaceID   string            `gorm:"column:workspace_id;type:varchar(64)"`
	Version       string            `gorm:"column:version;type:varchar(64)"`
	CollectorID   string            `gorm:"column:collector_id;index;type:varchar(64)"`
	Document      datatypes.JSONMap `gorm:"column:document"`
	CreatedAt     time.Time         `gorm:"autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime"`
}

func (Declaration) TableName() string {
	return "declarations"
}

func Models() []any {
	return []any{&Declaration{}}
}
