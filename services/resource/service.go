package resource

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"inventory-collector/pkg/docpath"
	"inventory-collector/pkg/errutil"
	"inventory-collector/pkg/gen"
	"inventory-collector/services/history"
)

type Outcome string

const (
	OutcomeCreated    Outcome = "CREATED"
	OutcomeUpdated    Outcome = "UPDATED"
	OutcomeNotCounted Outcome = "NOT_COUNTED"
)

type Service struct {
	store    Store
	resolver *Resolver
	engine   *history.Engine
	gen      gen.IDGenerator
}

type Params struct {
	fx.In

	Store     Store
	Resolver  *Resolver
	Engine    *history.Engine
	Generator gen.IDGenerator
}

func NewService(p Params) *Service {
	return &Service{store: p.Store, resolver: p.Resolver, engine: p.Engine, gen: p.Generator}
}

// UpsertParams is one collected snapshot, already carrying its tenant fields.
type UpsertParams struct {
	ResourceType string
	Snapshot     map[string]any
	MatchRules   map[int][]string
	Mode         history.UpdateMode
	Scope        Scope
	Source       history.Source
}

// Upsert resolves the snapshot against stored records and creates or merges it.
func (s *Service) Upsert(ctx context.Context, p UpsertParams) (Outcome, *Record, error) {
	kind, ok := LookupKind(p.ResourceType)
	if !ok {
		return "", nil, ErrUnsupportedResourceType
	}

	existing, _, err := s.resolver.Resolve(ctx, p.ResourceType, p.Snapshot, p.MatchRules, p.Scope)
	if err != nil {
		return "", nil, err
	}

	if existing == nil {
		rec, err := s.create(ctx, kind, p)
		if err != nil {
			return "", nil, err
		}
		return kind.outcome(OutcomeCreated), rec, nil
	}

	res, err := s.engine.Merge(history.Input{
		Snapshot:    p.Snapshot,
		Old:         existing.Document,
		Source:      p.Source,
		Mode:        p.Mode,
		ExcludeKeys: kind.ExcludeKeys(),
	})
	if err != nil {
		return "", nil, err
	}
	if !res.Changed {
		return kind.outcome(OutcomeUpdated), existing, nil
	}

	rec, err := s.store.Update(ctx, existing.ResourceID, res.Document)
	if err != nil {
		return "", nil, errutil.Internal("failed to update resource", err)
	}
	return kind.outcome(OutcomeUpdated), rec, nil
}

func (s *Service) create(ctx context.Context, kind Kind, p UpsertParams) (*Record, error) {
	id := s.gen.NewID(kind.IDPrefix)
	snapshot := docpath.CopyDocument(p.Snapshot)
	snapshot[kind.IDField] = id
	snapshot["resource_type"] = kind.ResourceType
	snapshot["domain_id"] = p.Scope.DomainID

	res, err := s.engine.Create(history.Input{
		Snapshot:    snapshot,
		Source:      p.Source,
		Mode:        p.Mode,
		ExcludeKeys: kind.ExcludeKeys(),
	})
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ResourceID:   id,
		ResourceType: kind.ResourceType,
		DomainID:     p.Scope.DomainID,
		WorkspaceID:  p.Scope.WorkspaceID,
		Document:     res.Document,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, errutil.Internal("failed to create resource", err)
	}
	return rec, nil
}

func (k Kind) outcome(o Outcome) Outcome {
	if !k.Counted {
		return OutcomeNotCounted
	}
	return o
}

func (s *Service) Get(ctx context.Context, resourceID string) (*Record, error) {
	rec, err := s.store.Get(ctx, resourceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("resource not found: "+resourceID, err)
	}
	return rec, err
}

func (s *Service) Delete(ctx context.Context, resourceID string) error {
	err := s.store.Delete(ctx, resourceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errutil.NotFound("resource not found: "+resourceID, err)
	}
	return err
}

// UpdateManual applies a user edit. Manual writes carry the highest priority.
func (s *Service) UpdateManual(ctx context.Context, resourceID string, patch map[string]any) (*Record, error) {
	rec, err := s.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if raw, ok := patch[TagsField]; ok {
		patch = docpath.CopyDocument(patch)
		patch[TagsField] = NormalizeTags(raw, history.ManualSource)
	}

	res, err := s.engine.Merge(history.Input{
		Snapshot:    patch,
		Old:         rec.Document,
		Source:      history.ManualUpdate(),
		Mode:        history.UpdateModeReplace,
		ExcludeKeys: excludeKeysOf(rec.ResourceType),
	})
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		return rec, nil
	}

	updated, err := s.store.Update(ctx, resourceID, res.Document)
	if err != nil {
		return nil, errutil.Internal("failed to update resource", err)
	}
	zap.L().Info("resource updated manually", zap.String("resource_id", resourceID), zap.Int("fields", len(res.Entries)))
	return updated, nil
}

// PinKeys freezes fields against collector writes.
func (s *Service) PinKeys(ctx context.Context, resourceID string, keys []string) (*Record, error) {
	return s.updatePins(ctx, resourceID, keys, func(info *history.CollectionInfo, paths []string) bool {
		return info.Pin(paths...)
	})
}

func (s *Service) UnpinKeys(ctx context.Context, resourceID string, keys []string) (*Record, error) {
	return s.updatePins(ctx, resourceID, keys, func(info *history.CollectionInfo, paths []string) bool {
		return info.Unpin(paths...)
	})
}

func (s *Service) updatePins(ctx context.Context, resourceID string, keys []string, apply func(*history.CollectionInfo, []string) bool) (*Record, error) {
	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		p, err := PinPath(k)
		if err != nil {
			return nil, errutil.InvalidArgument("invalid key: "+k, err)
		}
		paths = append(paths, p.String())
	}

	rec, err := s.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	info, err := history.DecodeCollectionInfo(rec.Document)
	if err != nil {
		return nil, errutil.Internal("failed to read collection info", err)
	}
	if !apply(&info, paths) {
		return rec, nil
	}
	encoded, err := info.Encode()
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, resourceID, map[string]any{history.CollectionInfoKey: encoded})
	if err != nil {
		return nil, errutil.Internal("failed to update resource", err)
	}
	return updated, nil
}

func excludeKeysOf(resourceType string) []string {
	if kind, ok := LookupKind(resourceType); ok {
		return kind.ExcludeKeys()
	}
	return []string{"domain_id", "resource_type"}
}
