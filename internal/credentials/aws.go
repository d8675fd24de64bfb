package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSProvider resolves credentials from AWS Secrets Manager under a name prefix.
type AWSProvider struct {
	client SecretsAPI
	prefix string
}

// AWSOptions configures NewAWSProvider.
type AWSOptions struct {
	Region   string
	Endpoint string
	Prefix   string
}

// NewAWSProvider loads the default AWS configuration and builds a Secrets Manager client.
// A non-empty Endpoint points the client at a compatible service such as LocalStack.
func NewAWSProvider(ctx context.Context, opts AWSOptions) (*AWSProvider, error) {
	var loaders []func(*config.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewAWSProviderWithClient(client, opts.Prefix), nil
}

// NewAWSProviderWithClient wraps an existing client.
func NewAWSProviderWithClient(client SecretsAPI, prefix string) *AWSProvider {
	return &AWSProvider{client: client, prefix: prefix}
}

// SecretID returns the Secrets Manager identifier for a credential name.
func (p *AWSProvider) SecretID(name string) string {
	return p.prefix + name
}

// Resolve implements Provider.
func (p *AWSProvider) Resolve(ctx context.Context, name string) ([]byte, error) {
	id := p.SecretID(name)
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		return nil, mapAWSError(id, err)
	}
	switch {
	case out.SecretString != nil:
		return []byte(*out.SecretString), nil
	case out.SecretBinary != nil:
		return out.SecretBinary, nil
	default:
		return nil, fmt.Errorf("%w: secret %s has no value", ErrNotFound, id)
	}
}

func mapAWSError(id string, err error) error {
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("%w: secret %s", ErrNotFound, id)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException":
			return fmt.Errorf("%w: secret %s", ErrNotFound, id)
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
			return fmt.Errorf("%w: secret %s: %s", ErrAccessDenied, id, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("resolve secret %s: %w", id, err)
}
