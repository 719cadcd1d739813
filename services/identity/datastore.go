package identity

import (
	"context"
	"path"

	vault "github.com/hashicorp/vault-client-go"

	"inventory-collector/pkg/config"
)

// DataStore holds secret payloads, keyed by domain and secret.
type DataStore interface {
	Get(ctx context.Context, domainID, secretID string) (map[string]any, error)
}

// VaultDataStore reads payloads from a KV v2 engine at <domain_id>/<secret_id>.
type VaultDataStore struct {
	client    *vault.Client
	mountPath string
}

func NewVaultDataStore(client *vault.Client, cfg *config.Config) *VaultDataStore {
	mount := cfg.Vault.MountPath
	if mount == "" {
		mount = "secret"
	}
	return &VaultDataStore{client: client, mountPath: mount}
}

func (v *VaultDataStore) Get(ctx context.Context, domainID, secretID string) (map[string]any, error) {
	resp, err := v.client.Secrets.KvV2Read(ctx, path.Join(domainID, secretID), vault.WithMountPath(v.mountPath))
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(resp.Data.Data))
	for k, val := range resp.Data.Data {
		out[k] = val
	}
	return out, nil
}
