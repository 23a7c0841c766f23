package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/credops/credops/internal/logging"
)

// SecretsManagerAPI is the slice of the AWS Secrets Manager API the backend
// uses. Narrowed for test fakes.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	TagResource(ctx context.Context, params *secretsmanager.TagResourceInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.TagResourceOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// AWSBackend stores secrets in AWS Secrets Manager. Delete schedules the
// secret for deletion with the default recovery window, which serves as the
// tombstone: the value is recoverable until the window elapses.
type AWSBackend struct {
	client SecretsManagerAPI
	logger *logging.Logger
}

// AWSOption is a functional option for the AWS backend.
type AWSOption func(*AWSBackend)

// WithSecretsManagerClient sets a custom client (for testing).
func WithSecretsManagerClient(client SecretsManagerAPI) AWSOption {
	return func(b *AWSBackend) {
		b.client = client
	}
}

// NewAWSBackend creates the Secrets Manager backend. Config keys: region,
// endpoint, access_key_id, secret_access_key (static credentials are for
// LocalStack and tests; production uses the default chain).
func NewAWSBackend(cfg map[string]interface{}, deps Deps) (Backend, error) {
	return newAWSBackend(cfg, deps)
}

func newAWSBackend(cfg map[string]interface{}, deps Deps, opts ...AWSOption) (*AWSBackend, error) {
	region := "us-east-1"
	if r, ok := cfg["region"].(string); ok && r != "" {
		region = r
	}
	var endpoint string
	if e, ok := cfg["endpoint"].(string); ok && e != "" {
		endpoint = e
	}
	var accessKeyID, secretAccessKey string
	if ak, ok := cfg["access_key_id"].(string); ok {
		accessKeyID = ak
	}
	if sk, ok := cfg["secret_access_key"].(string); ok {
		secretAccessKey = sk
	}

	b := &AWSBackend{logger: deps.Logger}
	for _, opt := range opts {
		opt(b)
	}

	if b.client == nil {
		configOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
		if accessKeyID != "" && secretAccessKey != "" {
			configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		var clientOpts []func(*secretsmanager.Options)
		if endpoint != "" {
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		b.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	}

	return b, nil
}

func (b *AWSBackend) Name() string {
	return TypeAWS
}

func (b *AWSBackend) Get(ctx context.Context, entry Entry) (string, error) {
	out, err := b.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(entry.Path()),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("secretsmanager read %s: %w", entry.Path(), err)
	}
	if out.SecretString == nil {
		return "", nil
	}
	return *out.SecretString, nil
}

func (b *AWSBackend) Create(ctx context.Context, entry Entry, secret string) error {
	_, err := b.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(entry.Path()),
		SecretString: aws.String(secret),
	})
	if err != nil {
		var exists *types.ResourceExistsException
		if errors.As(err, &exists) {
			return b.Update(ctx, entry, secret)
		}
		return fmt.Errorf("secretsmanager create %s: %w", entry.Path(), err)
	}
	return nil
}

func (b *AWSBackend) Update(ctx context.Context, entry Entry, secret string) error {
	_, err := b.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(entry.Path()),
		SecretString: aws.String(secret),
	})
	if err != nil {
		return fmt.Errorf("secretsmanager update %s: %w", entry.Path(), err)
	}
	return nil
}

func (b *AWSBackend) Delete(ctx context.Context, entry Entry) error {
	// Default recovery window (30 days); no force delete, the entry stays
	// recoverable.
	_, err := b.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId: aws.String(entry.Path()),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("secretsmanager delete %s: %w", entry.Path(), err)
	}
	return nil
}

func (b *AWSBackend) SaveMetadata(ctx context.Context, entry Entry, tags map[string]string) error {
	awsTags := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		awsTags = append(awsTags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err := b.client.TagResource(ctx, &secretsmanager.TagResourceInput{
		SecretId: aws.String(entry.Path()),
		Tags:     awsTags,
	})
	return err
}

func (b *AWSBackend) IsActive(ctx context.Context) (bool, string) {
	_, err := b.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return false, err.Error()
	}
	return true, ""
}
