package rule

import (
	"context"

	"go.uber.org/zap"

	"inventory-collector/pkg/docpath"
)

const AdditionalInfoField = "additional_info"

type Transformer struct {
	repo  Repository
	cache *RuleCache
}

func NewTransformer(repo Repository, cache *RuleCache) *Transformer {
	return &Transformer{repo: repo, cache: cache}
}

// Transform applies the collector's matching rules to a copy of snapshot.
func (t *Transformer) Transform(ctx context.Context, collectorID, resourceType string, snapshot map[string]any) (map[string]any, error) {
	rules, err := t.cache.GetOrLoad(collectorID, func() ([]*CompiledRule, error) {
		stored, err := t.repo.ListByCollector(ctx, collectorID)
		if err != nil {
			return nil, err
		}
		return compile(stored)
	})
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return snapshot, nil
	}

	out := docpath.CopyDocument(snapshot)
	for _, r := range rules {
		matched, err := r.matches(resourceType, out)
		if err != nil {
			// A condition over a field the resource lacks is a non-match.
			zap.L().Debug("collector rule skipped", zap.String("rule_id", r.ID), zap.Error(err))
			continue
		}
		if !matched {
			continue
		}
		apply(out, r.Actions)
		if r.StopProcessing {
			break
		}
	}
	return out, nil
}

func apply(doc map[string]any, a Actions) {
	if a.ChangeProject != "" {
		doc["project_id"] = a.ChangeProject
	}
	if a.ChangeWorkspace != "" {
		doc["workspace_id"] = a.ChangeWorkspace
	}
	if len(a.AddAdditionalInfo) > 0 {
		info, _ := doc[AdditionalInfoField].(map[string]any)
		if info == nil {
			info = map[string]any{}
		}
		for k, v := range a.AddAdditionalInfo {
			info[k] = v
		}
		doc[AdditionalInfoField] = info
	}
}
