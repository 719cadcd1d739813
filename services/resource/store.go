package resource

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inventory-collector/pkg/docpath"
)

// Record is a reconciled resource. The whole document lives in a JSON column;
// tenant fields are mirrored into indexed columns.
type Record struct {
	ResourceID   string            `gorm:"column:resource_id;primaryKey;type:varchar(64)"`
	ResourceType string            `gorm:"column:resource_type;index:idx_resources_scope;type:varchar(64);not null"`
	DomainID     string            `gorm:"column:domain_id;index:idx_resources_scope;type:varchar(64);not null"`
	WorkspaceID  string            `gorm:"column:workspace_id;index:idx_resources_scope;type:varchar(64)"`
	ProjectID    string            `gorm:"column:project_id;type:varchar(64)"`
	Document     datatypes.JSONMap `gorm:"column:document"`
	CreatedAt    time.Time         `gorm:"autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime"`
}

func (Record) TableName() string {
	return "resources"
}

// Condition matches a document field against a scalar value, or against any
// of In when In is set.
type Condition struct {
	Path  docpath.Path
	Value any
	In    []any
}

type Query struct {
	ResourceType string
	DomainID     string
	WorkspaceID  string
	Conditions   []Condition
	Limit        int
}

type Store interface {
	Query(ctx context.Context, q Query) ([]Record, int64, error)
	Get(ctx context.Context, resourceID string) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	// Update overlays the top-level fields of partial onto the stored document.
	Update(ctx context.Context, resourceID string, partial map[string]any) (*Record, error)
	Delete(ctx context.Context, resourceID string) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Query(ctx context.Context, q Query) ([]Record, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, gorm.ErrInvalidDB
	}

	scoped := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&Record{}).
			Where("resource_type = ? AND domain_id = ?", q.ResourceType, q.DomainID)
		if q.WorkspaceID != "" {
			query = query.Where("workspace_id = ?", q.WorkspaceID)
		}
		for _, c := range q.Conditions {
			query = query.Where(s.condition(c))
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	query := scoped()
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	var records []Record
	if err := query.Order("created_at ASC").Order("resource_id ASC").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *gormStore) condition(c Condition) any {
	if len(c.In) == 0 {
		return datatypes.JSONQuery("document").Equals(c.Value, c.Path...)
	}
	group := s.db.Session(&gorm.Session{NewDB: true})
	for i, v := range c.In {
		eq := datatypes.JSONQuery("document").Equals(v, c.Path...)
		if i == 0 {
			group = group.Where(eq)
			continue
		}
		group = group.Or(eq)
	}
	return group
}

func (s *gormStore) Get(ctx context.Context, resourceID string) (*Record, error) {
	if s == nil || s.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var rec Record
	if err := s.db.WithContext(ctx).Where("resource_id = ?", resourceID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *gormStore) Create(ctx context.Context, rec *Record) error {
	if s == nil || s.db == nil {
		return gorm.ErrInvalidDB
	}
	syncColumns(rec)
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *gormStore) Update(ctx context.Context, resourceID string, partial map[string]any) (*Record, error) {
	if s == nil || s.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var rec Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("resource_id = ?", resourceID).
			First(&rec).Error; err != nil {
			return err
		}
		if rec.Document == nil {
			rec.Document = datatypes.JSONMap{}
		}
		for k, v := range partial {
			rec.Document[k] = v
		}
		syncColumns(&rec)
		return tx.Model(&Record{}).Where("resource_id = ?", resourceID).Updates(map[string]any{
			"document":     rec.Document,
			"workspace_id": rec.WorkspaceID,
			"project_id":   rec.ProjectID,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *gormStore) Delete(ctx context.Context, resourceID string) error {
	if s == nil || s.db == nil {
		return gorm.ErrInvalidDB
	}
	res := s.db.WithContext(ctx).Where("resource_id = ?", resourceID).Delete(&Record{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// syncColumns mirrors tenant fields of the document into their columns.
func syncColumns(rec *Record) {
	if v, ok := rec.Document["workspace_id"].(string); ok {
		rec.WorkspaceID = v
	}
	if v, ok := rec.Document["project_id"].(string); ok {
		rec.ProjectID = v
	}
	if v, ok := rec.Document["domain_id"].(string); ok && rec.DomainID == "" {
		rec.DomainID = v
	}
}

func Models() []any {
	return []any{&Record{}}
}
