package collecting

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"inventory-collector/pkg/docpath"
	"inventory-collector/pkg/errutil"
	"inventory-collector/services/history"
	"inventory-collector/services/namespace"
	"inventory-collector/services/plugin"
	"inventory-collector/services/resource"
)

// Outcome classifies one envelope of a plugin stream.
type Outcome string

const (
	OutcomeCreated    Outcome = "CREATED"
	OutcomeUpdated    Outcome = "UPDATED"
	OutcomeNotCounted Outcome = "NOT_COUNTED"
	OutcomeSkipped    Outcome = "SKIPPED"
	OutcomeError      Outcome = "ERROR"
)

const statusDropped = "DROPPED"

var resourceOutcomes = map[resource.Outcome]Outcome{
	resource.OutcomeCreated:    OutcomeCreated,
	resource.OutcomeUpdated:    OutcomeUpdated,
	resource.OutcomeNotCounted: OutcomeNotCounted,
}

// upsert runs one envelope through the pipeline. A panic anywhere below is
// reported as ERROR_UNKNOWN_UPSERT_FAILURE for this resource only.
func (e *Executor) upsert(ctx context.Context, ec *execContext, env *plugin.ResourceEnvelope) (outcome Outcome, resourceID string, err error) {
	ctx, span := tracer.Start(ctx, "collect.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("resource_type", env.ResourceType))

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("resource upsert panicked",
				zap.String("job_task_id", ec.item.JobTaskID),
				zap.String("resource_type", env.ResourceType),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			outcome = OutcomeError
			err = errutil.New(errutil.StatusUnknownUpsertFailure, fmt.Sprintf("resource upsert panicked: %v", r))
		}
	}()

	if env.Failed() {
		msg := env.Message
		if msg == "" {
			msg = "plugin reported a resource failure"
		}
		return OutcomeError, "", errutil.New(errutil.StatusPluginResourceFailure, msg)
	}

	if resource.IsDeclaration(env.ResourceType) {
		return e.declare(ctx, ec, env)
	}

	kind, ok := resource.LookupKind(env.ResourceType)
	if !ok {
		return OutcomeError, "", resource.ErrUnsupportedResourceType
	}

	snapshot := e.tenantSnapshot(ec, env.Resource)
	if e.rules != nil {
		snapshot, err = e.rules.Transform(ctx, ec.collector.CollectorID, env.ResourceType, snapshot)
		if err != nil {
			return OutcomeError, idOf(snapshot, kind.IDField), err
		}
	}

	scope := ec.scope
	if ws, ok := snapshot["workspace_id"].(string); ok && ws != "" {
		scope.WorkspaceID = ws
	}

	out, rec, err := e.resources.Upsert(ctx, resource.UpsertParams{
		ResourceType: env.ResourceType,
		Snapshot:     snapshot,
		MatchRules:   env.MatchRules,
		Mode:         history.ParseUpdateMode(env.UpdateMode),
		Scope:        scope,
		Source:       ec.source,
	})
	if err != nil {
		return OutcomeError, idOf(snapshot, kind.IDField), err
	}
	if rec != nil {
		resourceID = rec.ResourceID
	}
	return resourceOutcomes[out], resourceID, nil
}

// declare stores namespace and metric declarations. They never count toward
// the task totals.
func (e *Executor) declare(ctx context.Context, ec *execContext, env *plugin.ResourceEnvelope) (Outcome, string, error) {
	kind := namespace.Kind(env.ResourceType)
	res, err := e.declarations.Upsert(ctx, kind, env.Resource, namespace.Scope{
		DomainID:    ec.item.DomainID,
		WorkspaceID: ec.item.WorkspaceID,
		CollectorID: ec.collector.CollectorID,
	})
	id := idOf(env.Resource, kind.IDField())
	if err != nil {
		return OutcomeError, id, err
	}
	zap.L().Debug("declaration stored",
		zap.String("resource_type", env.ResourceType),
		zap.String("resource_id", id),
		zap.String("result", string(res)),
	)
	return OutcomeSkipped, id, nil
}

// tenantSnapshot copies the plugin resource and stamps the tenant fields of
// the secret it was collected with.
func (e *Executor) tenantSnapshot(ec *execContext, res map[string]any) map[string]any {
	snapshot := docpath.CopyDocument(res)
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	snapshot["domain_id"] = ec.item.DomainID
	if ec.item.WorkspaceID != "" {
		snapshot["workspace_id"] = ec.item.WorkspaceID
	}
	if ec.item.SecretInfo.ProjectID != "" {
		snapshot["project_id"] = ec.item.SecretInfo.ProjectID
	}
	if raw, ok := snapshot["tags"]; ok {
		snapshot["tags"] = resource.NormalizeTags(raw, ec.item.SecretInfo.Provider)
	}
	return snapshot
}

func idOf(doc map[string]any, field string) string {
	id, _ := doc[field].(string)
	return id
}
