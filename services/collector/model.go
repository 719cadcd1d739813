package collector

import (
	"time"

	"gorm.io/datatypes"

	"inventory-collector/services/identity"
	"inventory-collector/services/plugin"
)

const (
	StateEnabled  = "ENABLED"
	StateDisabled = "DISABLED"
)

type Collector struct {
	CollectorID     string                                    `gorm:"column:collector_id;primaryKey;type:varchar(64)"`
	Name            string                                    `gorm:"column:name;type:varchar(255);not null"`
	Provider        string                                    `gorm:"column:provider;index;type:varchar(64)"`
	DomainID        string                                    `gorm:"column:domain_id;index;type:varchar(64);not null"`
	WorkspaceID     string                                    `gorm:"column:workspace_id;type:varchar(64)"`
	State           string                                    `gorm:"column:state;type:varchar(16);default:ENABLED"`
	PluginInfo      datatypes.JSONType[plugin.Info]           `gorm:"column:plugin_info"`
	SecretFilter    datatypes.JSONType[identity.SecretFilter] `gorm:"column:secret_filter"`
	// MaxConcurrency caps the running work items per job. Zero means no limit.
	MaxConcurrency  int                                       `gorm:"column:max_concurrency"`
	Priority        int                                       `gorm:"column:priority"`
	LastCollectedAt *time.Time                                `gorm:"column:last_collected_at"`
	CreatedAt       time.Time                                 `gorm:"autoCreateTime"`
	UpdatedAt       time.Time                                 `gorm:"autoUpdateTime"`
}

func (Collector) TableName() string { return "collectors" }

func (c *Collector) Disabled() bool {
	return c.State == StateDisabled
}

func Models() []any {
	return []any{&Collector{}}
}
