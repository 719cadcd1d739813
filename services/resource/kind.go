package resource

import (
	"sort"

	"inventory-collector/pkg/errutil"
	"inventory-collector/pkg/gen"
)

const (
	TypeCloudService     = "inventory.CloudService"
	TypeServer           = "inventory.Server"
	TypeCloudServiceType = "inventory.CloudServiceType"
	TypeRegion           = "inventory.Region"
	TypeNamespace        = "inventory.Namespace"
	TypeMetric           = "inventory.Metric"
)

var ErrUnsupportedResourceType = errutil.Sentinel(errutil.StatusUnsupportedResourceType, "unsupported resource type")

// Kind describes how one resource type is identified and stored.
type Kind struct {
	ResourceType string
	IDField      string
	IDPrefix     string
	// Counted kinds contribute to the created/updated totals of a job task.
	Counted bool
}

var kinds = map[string]Kind{
	TypeCloudService:     {ResourceType: TypeCloudService, IDField: "cloud_service_id", IDPrefix: gen.PrefixCloudService, Counted: true},
	TypeServer:           {ResourceType: TypeServer, IDField: "server_id", IDPrefix: gen.PrefixServer, Counted: true},
	TypeCloudServiceType: {ResourceType: TypeCloudServiceType, IDField: "cloud_service_type_id", IDPrefix: gen.PrefixCloudServiceType},
	TypeRegion:           {ResourceType: TypeRegion, IDField: "region_id", IDPrefix: gen.PrefixRegion},
}

func LookupKind(resourceType string) (Kind, bool) {
	k, ok := kinds[resourceType]
	return k, ok
}

// IsDeclaration reports whether resourceType is a namespace or metric declaration.
func IsDeclaration(resourceType string) bool {
	return resourceType == TypeNamespace || resourceType == TypeMetric
}

// ExcludeKeys are fields owned by the pipeline rather than by collectors.
func (k Kind) ExcludeKeys() []string {
	return []string{k.IDField, "domain_id", "resource_type"}
}

func KindNames() []string {
	out := make([]string, 0, len(kinds))
	for name := range kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
