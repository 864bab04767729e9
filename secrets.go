package rowinserter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SecretFetcher returns the raw payload of a secret. Implementations do not
// retry; errors match ErrSecretNotFound, ErrSecretAccessDenied or
// ErrSecretServiceUnavailable.
type SecretFetcher interface {
	Fetch(ctx context.Context, secretID string) ([]byte, error)
}

// SecretFetcherFunc adapts a function to SecretFetcher.
type SecretFetcherFunc func(ctx context.Context, secretID string) ([]byte, error)

func (f SecretFetcherFunc) Fetch(ctx context.Context, secretID string) ([]byte, error) {
	return f(ctx, secretID)
}

// NewSecretFetcher returns the fetcher selected by cfg.SecretBackend.
func NewSecretFetcher(ctx context.Context, cfg Config, logger *zap.Logger) (SecretFetcher, error) {
	switch cfg.SecretBackend {
	case "aws":
		return NewAWSSecretFetcher(ctx, cfg, logger)
	case "gcp", "":
		return NewGCPSecretFetcher(ctx, cfg.GoogleProject, logger)
	default:
		return nil, fmt.Errorf("unknown secret backend %q", cfg.SecretBackend)
	}
}

// LazySecretFetcher builds its backend client on the first Fetch. A failed
// build is reported as ErrSecretServiceUnavailable and attempted again on the
// next Fetch, so a cold-start credential lookup failure is not permanent.
type LazySecretFetcher struct {
	build func(ctx context.Context) (SecretFetcher, error)

	mu    sync.Mutex
	inner SecretFetcher
}

// NewLazySecretFetcher returns a fetcher that calls build when first used.
func NewLazySecretFetcher(build func(ctx context.Context) (SecretFetcher, error)) *LazySecretFetcher {
	return &LazySecretFetcher{build: build}
}

func (f *LazySecretFetcher) Fetch(ctx context.Context, secretID string) ([]byte, error) {
	inner, err := f.client(ctx)
	if err != nil {
		return nil, err
	}
	return inner.Fetch(ctx, secretID)
}

func (f *LazySecretFetcher) client(ctx context.Context) (SecretFetcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inner != nil {
		return f.inner, nil
	}
	// The client and its token source outlive the init call.
	inner, err := f.build(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecretServiceUnavailable, err)
	}
	f.inner = inner
	return inner, nil
}

// Close closes the backend client if one was built.
func (f *LazySecretFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// maskSecretID keeps the tail of a secret identifier for logs.
func maskSecretID(id string) string {
	if len(id) <= 12 {
		return "***"
	}
	return "..." + id[len(id)-8:]
}

type secretVersionAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// GCPSecretFetcher reads secrets from Google Secret Manager.
type GCPSecretFetcher struct {
	client  secretVersionAccessor
	project string
	logger  *zap.Logger
}

// NewGCPSecretFetcher creates a Secret Manager client using application
// default credentials. project resolves bare secret ids and may be empty
// when full resource names are used.
func NewGCPSecretFetcher(ctx context.Context, project string, logger *zap.Logger, opts ...option.ClientOption) (*GCPSecretFetcher, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	return &GCPSecretFetcher{
		client:  client,
		project: project,
		logger:  logger.Named("secrets"),
	}, nil
}

func (f *GCPSecretFetcher) Fetch(ctx context.Context, secretID string) ([]byte, error) {
	name, err := secretVersionName(f.project, secretID)
	if err != nil {
		return nil, err
	}
	f.logger.Info("Fetching secret from Secret Manager", zap.String("secret", maskSecretID(name)))

	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, classifyGCPSecretError(name, err)
	}
	return resp.GetPayload().GetData(), nil
}

// Close releases the underlying gRPC connection.
func (f *GCPSecretFetcher) Close() error { return f.client.Close() }

// secretVersionName expands a secret identifier to a version resource name:
// "projects/p/secrets/s/versions/v" is used as is, "projects/p/secrets/s"
// and bare "s" resolve to the latest version.
func secretVersionName(project, secretID string) (string, error) {
	id := strings.Trim(strings.TrimSpace(secretID), "/")
	if id == "" {
		return "", fmt.Errorf("%w: secret identifier is empty", ErrSecretNotFound)
	}
	if strings.HasPrefix(id, "projects/") {
		parts := strings.Split(id, "/")
		switch len(parts) {
		case 6:
			if parts[2] == "secrets" && parts[4] == "versions" {
				return id, nil
			}
		case 4:
			if parts[2] == "secrets" {
				return id + "/versions/latest", nil
			}
		}
		return "", fmt.Errorf("%w: invalid secret resource name %s", ErrSecretNotFound, maskSecretID(id))
	}
	if strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: invalid secret identifier %s", ErrSecretNotFound, maskSecretID(id))
	}
	if project == "" {
		return "", fmt.Errorf("%w: GOOGLE_CLOUD_PROJECT is required to resolve secret %s", ErrSecretNotFound, maskSecretID(id))
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, id), nil
}

func classifyGCPSecretError(name string, err error) error {
	var kind error
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument:
		kind = ErrSecretNotFound
	case codes.PermissionDenied, codes.Unauthenticated:
		kind = ErrSecretAccessDenied
	default:
		kind = ErrSecretServiceUnavailable
	}
	return fmt.Errorf("%w: access %s: %w", kind, maskSecretID(name), err)
}

type secretValueGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretFetcher reads secrets from AWS Secrets Manager.
type AWSSecretFetcher struct {
	client secretValueGetter
	logger *zap.Logger
}

// NewAWSSecretFetcher uses static credentials and an endpoint override when
// configured (local emulators) and the default credential chain otherwise.
func NewAWSSecretFetcher(ctx context.Context, cfg Config, logger *zap.Logger) (*AWSSecretFetcher, error) {
	logger = logger.Named("secrets")

	if cfg.AWSSecretsAccessKeyID != "" && cfg.AWSSecretsSecretKey != "" {
		region := cfg.AWSRegion
		if region == "" {
			region = "us-east-1"
		}
		opts := secretsmanager.Options{
			Region:      region,
			Credentials: credentials.NewStaticCredentialsProvider(cfg.AWSSecretsAccessKeyID, cfg.AWSSecretsSecretKey, ""),
		}
		if cfg.AWSSecretsEndpoint != "" {
			opts.BaseEndpoint = aws.String(cfg.AWSSecretsEndpoint)
		}
		return &AWSSecretFetcher{client: secretsmanager.New(opts), logger: logger}, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.AWSSecretsEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWSSecretsEndpoint)
		}
	})
	return &AWSSecretFetcher{client: client, logger: logger}, nil
}

func (f *AWSSecretFetcher) Fetch(ctx context.Context, secretID string) ([]byte, error) {
	id := strings.TrimSpace(secretID)
	if id == "" {
		return nil, fmt.Errorf("%w: secret identifier is empty", ErrSecretNotFound)
	}
	f.logger.Info("Fetching secret from AWS Secrets Manager", zap.String("secret", maskSecretID(id)))

	out, err := f.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		return nil, classifyAWSSecretError(id, err)
	}
	if out.SecretString != nil {
		return []byte(*out.SecretString), nil
	}
	if len(out.SecretBinary) > 0 {
		return out.SecretBinary, nil
	}
	return nil, fmt.Errorf("%w: secret %s has no value", ErrSecretNotFound, maskSecretID(id))
}

func classifyAWSSecretError(id string, err error) error {
	kind := ErrSecretServiceUnavailable

	var notFound *smtypes.ResourceNotFoundException
	var apiErr smithy.APIError
	switch {
	case errors.As(err, &notFound):
		kind = ErrSecretNotFound
	case errors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "DecryptionFailure", "UnrecognizedClientException":
			kind = ErrSecretAccessDenied
		case "InvalidParameterException", "ValidationException":
			kind = ErrSecretNotFound
		}
	}
	return fmt.Errorf("%w: get %s: %w", kind, maskSecretID(id), err)
}
