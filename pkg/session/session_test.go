package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Endpoint)
	assert.Empty(t, cfg.Bucket)
	assert.Nil(t, cfg.AWSConfigOptions)
}

func TestLoadConfig(t *testing.T) {
	t.Run("file over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tablequery.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
region: eu-west-1
endpoint: http://localhost:8000
bucket: entities
use_path_style: true
page_size: 50
minio:
  endpoint: localhost:9000
  use_ssl: true
`), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "eu-west-1", cfg.Region)
		assert.Equal(t, "http://localhost:8000", cfg.Endpoint)
		assert.Equal(t, "entities", cfg.Bucket)
		assert.True(t, cfg.UsePathStyle)
		assert.Equal(t, 50, cfg.PageSize)
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, "localhost:9000", cfg.MinIO.Endpoint)
		assert.True(t, cfg.MinIO.UseSSL)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("TABLEQUERY_REGION", "ap-south-1")
		t.Setenv("TABLEQUERY_MAX_RETRIES", "7")
		t.Setenv("TABLEQUERY_CONSISTENT_READS", "true")

		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "ap-south-1", cfg.Region)
		assert.Equal(t, 7, cfg.MaxRetries)
		assert.True(t, cfg.ConsistentReads)
	})

	t.Run("bad environment value", func(t *testing.T) {
		t.Setenv("TABLEQUERY_PAGE_SIZE", "many")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "TABLEQUERY_PAGE_SIZE")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("region: [unclosed"), 0o600))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}

func TestNewSession(t *testing.T) {
	originalConfigLoad := configLoadFunc
	defer func() { configLoadFunc = originalConfigLoad }()
	ctx := context.Background()

	t.Run("With default config", func(t *testing.T) {
		configLoadFunc = func(ctx context.Context, opts ...func(*config.LoadOptions) error) (aws.Config, error) {
			return aws.Config{Region: "us-east-1"}, nil
		}

		sess, err := NewSession(ctx, nil)
		require.NoError(t, err)
		assert.NotNil(t, sess.DynamoDB())
		assert.NotNil(t, sess.S3())
		assert.Equal(t, "us-east-1", sess.Config().Region)
		assert.NotNil(t, sess.AWSConfig().Retryer)
	})

	t.Run("Static credentials", func(t *testing.T) {
		var loaded config.LoadOptions
		configLoadFunc = func(ctx context.Context, opts ...func(*config.LoadOptions) error) (aws.Config, error) {
			for _, opt := range opts {
				require.NoError(t, opt(&loaded))
			}
			return aws.Config{Region: loaded.Region}, nil
		}

		_, err := NewSession(ctx, &Config{Region: "eu-west-1", AccessKeyID: "AKID", SecretAccessKey: "secret", MaxRetries: 5})
		require.NoError(t, err)
		assert.Equal(t, "eu-west-1", loaded.Region)
		assert.Equal(t, 5, loaded.RetryMaxAttempts)
		require.NotNil(t, loaded.Credentials)
		creds, err := loaded.Credentials.Retrieve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "AKID", creds.AccessKeyID)
	})

	t.Run("No credentials without both keys", func(t *testing.T) {
		var loaded config.LoadOptions
		configLoadFunc = func(ctx context.Context, opts ...func(*config.LoadOptions) error) (aws.Config, error) {
			for _, opt := range opts {
				require.NoError(t, opt(&loaded))
			}
			return aws.Config{}, nil
		}

		_, err := NewSession(ctx, &Config{AccessKeyID: "AKID"})
		require.NoError(t, err)
		assert.Nil(t, loaded.Credentials)
		assert.Equal(t, 3, loaded.RetryMaxAttempts)
	})

	t.Run("Assume role", func(t *testing.T) {
		configLoadFunc = func(ctx context.Context, opts ...func(*config.LoadOptions) error) (aws.Config, error) {
			return aws.Config{Region: "us-east-1"}, nil
		}

		sess, err := NewSession(ctx, &Config{AssumeRoleARN: "arn:aws:iam::123456789012:role/reader", ExternalID: "x"})
		require.NoError(t, err)
		assert.IsType(t, &aws.CredentialsCache{}, sess.AWSConfig().Credentials)
	})

	t.Run("AWS config load error", func(t *testing.T) {
		expectedErr := errors.New("config load failed")
		configLoadFunc = func(ctx context.Context, opts ...func(*config.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, expectedErr
		}

		sess, err := NewSession(ctx, &Config{})
		assert.Nil(t, sess)
		assert.ErrorIs(t, err, expectedErr)
		assert.Contains(t, err.Error(), "failed to load AWS config")
	})
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
