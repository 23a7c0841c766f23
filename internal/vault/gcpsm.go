package vault

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/credops/credops/internal/logging"
)

// GCPBackend stores secrets in Google Cloud Secret Manager. Secret ids are
// the flattened entry path (Secret Manager does not accept slashes in secret
// ids). Delete disables the latest version rather than destroying it, so the
// value stays recoverable.
type GCPBackend struct {
	client    *secretmanager.Client
	projectID string
	logger    *logging.Logger
}

// NewGCPBackend creates the Secret Manager backend. Config keys: project_id
// (required), service_account_key_path.
func NewGCPBackend(cfg map[string]interface{}, deps Deps) (Backend, error) {
	projectID, _ := cfg["project_id"].(string)
	if projectID == "" {
		return nil, fmt.Errorf("gcp backend: project_id is required")
	}

	var opts []option.ClientOption
	if keyPath, ok := cfg["service_account_key_path"].(string); ok && keyPath != "" {
		opts = append(opts, option.WithCredentialsFile(keyPath))
	}

	client, err := secretmanager.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	return &GCPBackend{client: client, projectID: projectID, logger: deps.Logger}, nil
}

func (b *GCPBackend) Name() string {
	return TypeGCP
}

func (b *GCPBackend) secretName(entry Entry) string {
	return fmt.Sprintf("projects/%s/secrets/%s", b.projectID, entry.Flat())
}

func (b *GCPBackend) Get(ctx context.Context, entry Entry) (string, error) {
	resp, err := b.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: b.secretName(entry) + "/versions/latest",
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", fmt.Errorf("secret manager read %s: %w", entry.Path(), err)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (b *GCPBackend) Create(ctx context.Context, entry Entry, secret string) error {
	_, err := b.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + b.projectID,
		SecretId: entry.Flat(),
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("secret manager create %s: %w", entry.Path(), err)
	}
	return b.addVersion(ctx, entry, secret)
}

func (b *GCPBackend) Update(ctx context.Context, entry Entry, secret string) error {
	return b.addVersion(ctx, entry, secret)
}

func (b *GCPBackend) addVersion(ctx context.Context, entry Entry, secret string) error {
	_, err := b.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  b.secretName(entry),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(secret)},
	})
	if err != nil {
		return fmt.Errorf("secret manager write %s: %w", entry.Path(), err)
	}
	return nil
}

func (b *GCPBackend) Delete(ctx context.Context, entry Entry) error {
	// Disable instead of destroy: the version payload survives and can be
	// re-enabled by an operator.
	_, err := b.client.DisableSecretVersion(ctx, &secretmanagerpb.DisableSecretVersionRequest{
		Name: b.secretName(entry) + "/versions/latest",
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("secret manager delete %s: %w", entry.Path(), err)
	}
	return nil
}

func (b *GCPBackend) SaveMetadata(ctx context.Context, entry Entry, tags map[string]string) error {
	labels := make(map[string]string, len(tags))
	for k, v := range tags {
		// Secret Manager labels must be lowercase.
		labels[strings.ToLower(k)] = strings.ToLower(v)
	}
	_, err := b.client.UpdateSecret(ctx, &secretmanagerpb.UpdateSecretRequest{
		Secret: &secretmanagerpb.Secret{
			Name:   b.secretName(entry),
			Labels: labels,
		},
		UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"labels"}},
	})
	return err
}

func (b *GCPBackend) IsActive(ctx context.Context) (bool, string) {
	it := b.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent:   "projects/" + b.projectID,
		PageSize: 1,
	})
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return false, err.Error()
	}
	return true, ""
}
