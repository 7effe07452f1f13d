// Package session provides AWS configuration, client construction and logging setup
package session

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/theory-cloud/tablequery/pkg/blob/minioblob"
)

// EnvPrefix prefixes the environment variables that override file configuration
const EnvPrefix = "TABLEQUERY_"

// configLoadFunc is a variable to allow mocking config.LoadDefaultConfig in tests
var configLoadFunc = config.LoadDefaultConfig

// Config holds the connection settings of a tablequery client
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	AssumeRoleARN   string `yaml:"assume_role_arn"`
	ExternalID      string `yaml:"external_id"`

	// Bucket holds blob containers as key prefixes. When empty each container name is
	// used as a bucket name.
	Bucket       string `yaml:"bucket"`
	UsePathStyle bool   `yaml:"use_path_style"`

	// MinIO, when its endpoint is set, serves blob containers instead of S3
	MinIO minioblob.Config `yaml:"minio"`

	LogLevel        string `yaml:"log_level"`
	MaxRetries      int    `yaml:"max_retries"`
	PageSize        int    `yaml:"page_size"`
	ConsistentReads bool   `yaml:"consistent_reads"`

	// AutoCreateTables creates missing DynamoDB tables when they are first opened
	AutoCreateTables bool `yaml:"auto_create_tables"`

	AWSConfigOptions []func(*config.LoadOptions) error `yaml:"-"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Region:     "us-east-1",
		MaxRetries: 3,
		LogLevel:   "info",
	}
}

// LoadConfig reads a YAML file over the defaults and applies TABLEQUERY_* environment
// overrides. An empty path reads the environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"REGION":            &c.Region,
		"ENDPOINT":          &c.Endpoint,
		"ACCESS_KEY_ID":     &c.AccessKeyID,
		"SECRET_ACCESS_KEY": &c.SecretAccessKey,
		"SESSION_TOKEN":     &c.SessionToken,
		"ASSUME_ROLE_ARN":   &c.AssumeRoleARN,
		"EXTERNAL_ID":       &c.ExternalID,
		"BUCKET":            &c.Bucket,
		"LOG_LEVEL":         &c.LogLevel,
		"MINIO_ENDPOINT":    &c.MinIO.Endpoint,
		"MINIO_ACCESS_KEY":  &c.MinIO.AccessKeyID,
		"MINIO_SECRET_KEY":  &c.MinIO.SecretAccessKey,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MAX_RETRIES": &c.MaxRetries,
		"PAGE_SIZE":   &c.PageSize,
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := cast.ToIntE(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"USE_PATH_STYLE":   &c.UsePathStyle,
		"CONSISTENT_READS": &c.ConsistentReads,
		"AUTO_CREATE":      &c.AutoCreateTables,
		"MINIO_USE_SSL":    &c.MinIO.UseSSL,
	}
	for name, dst := range bools {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		b, err := cast.ToBoolE(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
	}
	return nil
}

// Session holds the AWS configuration and the service clients built from it
type Session struct {
	config    *Config
	dynamo    *dynamodb.Client
	s3        *s3.Client
	awsConfig aws.Config
}

// NewSession creates a new session with the given configuration
func NewSession(ctx context.Context, cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	options := make([]func(*config.LoadOptions) error, 0, len(cfg.AWSConfigOptions)+5)
	if cfg.Region != "" {
		options = append(options, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	options = append(options, config.WithRetryMode(aws.RetryModeStandard))
	options = append(options, config.WithRetryMaxAttempts(maxAttempts))

	httpClient := &http.Client{Timeout: 30 * time.Second}
	options = append(options, config.WithHTTPClient(httpClient))
	options = append(options, cfg.AWSConfigOptions...)

	awsConfig, err := configLoadFunc(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if awsConfig.Retryer == nil {
		awsConfig.Retryer = func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = maxAttempts
			})
		}
	}

	if cfg.AssumeRoleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsConfig), cfg.AssumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "tablequery"
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsConfig.Credentials = aws.NewCredentialsCache(provider)
	}

	dynamo := dynamodb.NewFromConfig(awsConfig, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Session{
		config:    cfg,
		awsConfig: awsConfig,
		dynamo:    dynamo,
		s3:        s3Client,
	}, nil
}

// DynamoDB returns the DynamoDB client
func (s *Session) DynamoDB() *dynamodb.Client {
	return s.dynamo
}

// S3 returns the S3 client
func (s *Session) S3() *s3.Client {
	return s.s3
}

// Config returns the session configuration
func (s *Session) Config() *Config {
	return s.config
}

// AWSConfig returns the AWS configuration
func (s *Session) AWSConfig() aws.Config {
	return s.awsConfig
}

// NewLogger builds a production zap logger at level. An empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
