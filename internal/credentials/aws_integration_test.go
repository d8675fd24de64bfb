//go:build integration

package credentials

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

func TestAWSProviderAgainstLocalStack(t *testing.T) {
	ctx := context.Background()
	container, err := localstack.Run(ctx, "localstack/localstack:latest")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	port, err := nat.NewPort("tcp", "4566")
	require.NoError(t, err)
	endpoint, err := container.PortEndpoint(ctx, port, "")
	require.NoError(t, err)
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "http://" + endpoint
	}

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	provider, err := NewAWSProvider(ctx, AWSOptions{Region: "us-east-1", Endpoint: endpoint, Prefix: "shipit/"})
	require.NoError(t, err)

	admin := provider.client.(*secretsmanager.Client)
	_, err = admin.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String("shipit/" + GitHubToken),
		SecretString: aws.String("ghp_integration"),
	})
	require.NoError(t, err)

	got, err := provider.Resolve(ctx, GitHubToken)
	require.NoError(t, err)
	assert.Equal(t, "ghp_integration", string(got))

	_, err = provider.Resolve(ctx, AppStoreConnectKey)
	assert.ErrorIs(t, err, ErrNotFound)
}
