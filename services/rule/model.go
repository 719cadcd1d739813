package rule

import (
	"time"

	"gorm.io/datatypes"
)

// Actions applied to a snapshot when a rule matches. Empty fields are no-ops.
type Actions struct {
	ChangeProject     string         `json:"change_project,omitempty"`
	ChangeWorkspace   string         `json:"change_workspace,omitempty"`
	AddAdditionalInfo map[string]any `json:"add_additional_info,omitempty"`
}

// CollectorRule rewrites collected resources of one collector. Rules run in
// ascending Order; an empty Condition matches every resource.
type CollectorRule struct {
	RuleID         string                      `gorm:"column:rule_id;primaryKey;type:varchar(64)"`
	CollectorID    string                      `gorm:"column:collector_id;index:idx_collector_rules_order;type:varchar(64);not null"`
	DomainID       string                      `gorm:"column:domain_id;type:varchar(64)"`
	Order          int                         `gorm:"column:rule_order;index:idx_collector_rules_order"`
	Condition      string                      `gorm:"column:condition_expr"`
	Actions        datatypes.JSONType[Actions] `gorm:"column:actions"`
	StopProcessing bool                        `gorm:"column:stop_processing"`
	CreatedAt      time.Time                   `gorm:"autoCreateTime"`
	UpdatedAt      time.Time                   `gorm:"autoUpdateTime"`
}

func (CollectorRule) TableName() string { return "collector_rules" }

func Models() []any {
	return []any{&CollectorRule{}}
}
