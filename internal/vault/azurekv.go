package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/credops/credops/internal/logging"
)

// AzureSecretsAPI is the slice of the Azure Key Vault secrets API the
// backend uses. Narrowed for test fakes.
type AzureSecretsAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
	UpdateSecretProperties(ctx context.Context, name string, version string, parameters azsecrets.UpdateSecretPropertiesParameters, options *azsecrets.UpdateSecretPropertiesOptions) (azsecrets.UpdateSecretPropertiesResponse, error)
}

// AzureBackend stores secrets in Azure Key Vault. Key Vault soft delete is
// the tombstone: deleted secrets stay recoverable for the vault's retention
// period.
type AzureBackend struct {
	client AzureSecretsAPI
	logger *logging.Logger
}

// AzureOption is a functional option for the Azure backend.
type AzureOption func(*AzureBackend)

// WithAzureSecretsClient sets a custom client (for testing).
func WithAzureSecretsClient(client AzureSecretsAPI) AzureOption {
	return func(b *AzureBackend) {
		b.client = client
	}
}

// NewAzureBackend creates the Key Vault backend. Config keys: vault_url
// (required), tenant_id, client_id, client_secret. Without explicit client
// credentials the default Azure credential chain is used.
func NewAzureBackend(cfg map[string]interface{}, deps Deps) (Backend, error) {
	return newAzureBackend(cfg, deps)
}

func newAzureBackend(cfg map[string]interface{}, deps Deps, opts ...AzureOption) (*AzureBackend, error) {
	b := &AzureBackend{logger: deps.Logger}
	for _, opt := range opts {
		opt(b)
	}
	if b.client != nil {
		return b, nil
	}

	vaultURL, _ := cfg["vault_url"].(string)
	if vaultURL == "" {
		return nil, fmt.Errorf("azure backend: vault_url is required")
	}

	cred, err := azureCredential(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure credential: %w", err)
	}

	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create key vault client: %w", err)
	}
	b.client = client
	return b, nil
}

func azureCredential(cfg map[string]interface{}) (azcore.TokenCredential, error) {
	tenantID, _ := cfg["tenant_id"].(string)
	clientID, _ := cfg["client_id"].(string)
	clientSecret, _ := cfg["client_secret"].(string)

	if tenantID != "" && clientID != "" && clientSecret != "" {
		return azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}

func (b *AzureBackend) Name() string {
	return TypeAzure
}

func (b *AzureBackend) Get(ctx context.Context, entry Entry) (string, error) {
	resp, err := b.client.GetSecret(ctx, entry.Flat(), "", nil)
	if err != nil {
		if isAzureNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("key vault read %s: %w", entry.Path(), err)
	}
	if resp.Value == nil {
		return "", nil
	}
	return *resp.Value, nil
}

func (b *AzureBackend) Create(ctx context.Context, entry Entry, secret string) error {
	return b.set(ctx, entry, secret)
}

func (b *AzureBackend) Update(ctx context.Context, entry Entry, secret string) error {
	return b.set(ctx, entry, secret)
}

func (b *AzureBackend) set(ctx context.Context, entry Entry, secret string) error {
	_, err := b.client.SetSecret(ctx, entry.Flat(), azsecrets.SetSecretParameters{
		Value: &secret,
	}, nil)
	if err != nil {
		return fmt.Errorf("key vault write %s: %w", entry.Path(), err)
	}
	return nil
}

func (b *AzureBackend) Delete(ctx context.Context, entry Entry) error {
	_, err := b.client.DeleteSecret(ctx, entry.Flat(), nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil
		}
		return fmt.Errorf("key vault delete %s: %w", entry.Path(), err)
	}
	return nil
}

func (b *AzureBackend) SaveMetadata(ctx context.Context, entry Entry, tags map[string]string) error {
	azTags := make(map[string]*string, len(tags))
	for k, v := range tags {
		value := v
		azTags[k] = &value
	}
	_, err := b.client.UpdateSecretProperties(ctx, entry.Flat(), "", azsecrets.UpdateSecretPropertiesParameters{
		Tags: azTags,
	}, nil)
	return err
}

func (b *AzureBackend) IsActive(ctx context.Context) (bool, string) {
	// A 404 on a probe name still proves the vault answers and the
	// credential is accepted.
	_, err := b.client.GetSecret(ctx, "credops-probe", "", nil)
	if err != nil && !isAzureNotFound(err) {
		return false, err.Error()
	}
	return true, ""
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	return false
}
