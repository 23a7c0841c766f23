package vault

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"

	"github.com/credops/credops/internal/logging"
)

const defaultKVMount = "credops"

// KVClient is the slice of the HashiCorp Vault KV v2 API the backend uses.
// Narrowed for test fakes.
type KVClient interface {
	Get(ctx context.Context, secretPath string) (*api.KVSecret, error)
	Put(ctx context.Context, secretPath string, data map[string]interface{}, opts ...api.KVOption) (*api.KVSecret, error)
	Delete(ctx context.Context, secretPath string) error
	PutMetadata(ctx context.Context, secretPath string, metadata api.KVMetadataPutInput) error
}

// HCVaultBackend stores secrets in a HashiCorp Vault KV v2 mount. Every
// update creates a new KV version; Delete soft-deletes the latest version
// and keeps history.
type HCVaultBackend struct {
	kv     KVClient
	health func(ctx context.Context) error
	logger *logging.Logger
}

// NewHCVaultBackend creates the KV v2 backend. Config keys: address, token,
// mount, namespace. VAULT_ADDR and VAULT_TOKEN override the config.
func NewHCVaultBackend(cfg map[string]interface{}, deps Deps) (Backend, error) {
	conf := api.DefaultConfig()
	if addr, ok := cfg["address"].(string); ok && addr != "" {
		conf.Address = addr
	}
	if addr := os.Getenv(api.EnvVaultAddress); addr != "" {
		conf.Address = addr
	}

	client, err := api.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if token, ok := cfg["token"].(string); ok && token != "" {
		client.SetToken(token)
	}
	if token := os.Getenv(api.EnvVaultToken); token != "" {
		client.SetToken(token)
	}
	if ns, ok := cfg["namespace"].(string); ok && ns != "" {
		client.SetNamespace(ns)
	}

	mount := defaultKVMount
	if m, ok := cfg["mount"].(string); ok && m != "" {
		mount = m
	}

	return &HCVaultBackend{
		kv: client.KVv2(mount),
		health: func(ctx context.Context) error {
			_, err := client.Sys().HealthWithContext(ctx)
			return err
		},
		logger: deps.Logger,
	}, nil
}

func (b *HCVaultBackend) Name() string {
	return TypeHCVault
}

func (b *HCVaultBackend) Get(ctx context.Context, entry Entry) (string, error) {
	secret, err := b.kv.Get(ctx, entry.Path())
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("vault read %s: %w", entry.Path(), err)
	}
	if secret == nil || secret.Data == nil {
		return "", nil
	}
	value, _ := secret.Data["secret"].(string)
	return value, nil
}

func (b *HCVaultBackend) Create(ctx context.Context, entry Entry, secret string) error {
	return b.put(ctx, entry, secret)
}

func (b *HCVaultBackend) Update(ctx context.Context, entry Entry, secret string) error {
	return b.put(ctx, entry, secret)
}

func (b *HCVaultBackend) put(ctx context.Context, entry Entry, secret string) error {
	_, err := b.kv.Put(ctx, entry.Path(), map[string]interface{}{"secret": secret})
	if err != nil {
		return fmt.Errorf("vault write %s: %w", entry.Path(), err)
	}
	return nil
}

func (b *HCVaultBackend) Delete(ctx context.Context, entry Entry) error {
	// Soft delete of the latest version only; history stays for undelete.
	if err := b.kv.Delete(ctx, entry.Path()); err != nil {
		return fmt.Errorf("vault delete %s: %w", entry.Path(), err)
	}
	return nil
}

func (b *HCVaultBackend) SaveMetadata(ctx context.Context, entry Entry, tags map[string]string) error {
	custom := make(map[string]interface{}, len(tags))
	for k, v := range tags {
		custom[k] = v
	}
	return b.kv.PutMetadata(ctx, entry.Path(), api.KVMetadataPutInput{CustomMetadata: custom})
}

func (b *HCVaultBackend) IsActive(ctx context.Context) (bool, string) {
	if err := b.health(ctx); err != nil {
		return false, err.Error()
	}
	return true, ""
}
