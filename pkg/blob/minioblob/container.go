// Package minioblob implements blob.Container on a MinIO bucket through minio-go.
//
// Puts are guarded with MinIO's If-Match and If-None-Match extensions. MinIO cannot guard a
// delete, so a delete with an ETag stats the object first and is not atomic.
package minioblob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"
	"go.uber.org/zap"

	"github.com/theory-cloud/tablequery/pkg/blob"
	"github.com/theory-cloud/tablequery/pkg/errors"
)

// API is the subset of *minio.Client used by a Container
type API interface {
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	GetObjectTagging(ctx context.Context, bucket, object string, opts minio.GetObjectTaggingOptions) (*tags.Tags, error)
}

var _ API = (*minio.Client)(nil)

// Config holds MinIO connection settings
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
}

// Dial creates a MinIO client with static credentials
func Dial(cfg Config) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.Usage("minio endpoint is required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return mc, nil
}

// Option configures a Container
type Option func(*Container)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Container) {
		if logger == nil {
			logger = zap.NewNop()
		}
		c.logger = logger
	}
}

// Container is a blob.Container on one bucket
type Container struct {
	client API
	logger *zap.Logger
	bucket string
}

var _ blob.Container = (*Container)(nil)

// New returns a container on bucket
func New(client API, bucket string, opts ...Option) *Container {
	c := &Container{client: client, bucket: bucket, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("bucket", bucket))
	return c
}

// Capabilities implements blob.Container. MinIO has no tag index.
func (c *Container) Capabilities() blob.Capabilities {
	return blob.Capabilities{}
}

// Get implements blob.Container
func (c *Container) Get(ctx context.Context, name string) (*blob.Object, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, mapError(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapError(err)
	}

	out := &blob.Object{
		Name:         name,
		Data:         data,
		ETag:         info.ETag,
		LastModified: info.LastModified.UTC(),
	}
	if info.UserTagCount > 0 {
		t, err := c.client.GetObjectTagging(ctx, c.bucket, name, minio.GetObjectTaggingOptions{})
		if err != nil {
			return nil, mapError(err)
		}
		out.Tags = t.ToMap()
	}
	return out, nil
}

// Put implements blob.Container
func (c *Container) Put(ctx context.Context, obj *blob.Object, cond blob.Condition) (string, error) {
	if obj == nil || obj.Name == "" {
		return "", errors.Usage("blob needs a name")
	}
	opts := minio.PutObjectOptions{
		ContentType: "application/json",
		UserTags:    obj.Tags,
	}
	if cond.IfMatch != "" {
		opts.SetMatchETag(cond.IfMatch)
	}
	if cond.IfNoneMatch {
		opts.SetMatchETagExcept("*")
	}

	info, err := c.client.PutObject(ctx, c.bucket, obj.Name, bytes.NewReader(obj.Data), int64(len(obj.Data)), opts)
	if err != nil {
		c.logger.Debug("put failed", zap.String("name", obj.Name), zap.Error(err))
		return "", putError(err, cond)
	}
	return info.ETag, nil
}

// Delete implements blob.Container
func (c *Container) Delete(ctx context.Context, name, etag string) error {
	if etag != "" {
		info, err := c.client.StatObject(ctx, c.bucket, name, minio.StatObjectOptions{})
		if err != nil {
			if mapped := mapError(err); !errors.IsNotFound(mapped) {
				return mapped
			}
			return nil
		}
		if info.ETag != etag {
			return errors.ErrConcurrencyConflict
		}
	}
	if err := c.client.RemoveObject(ctx, c.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		if mapped := mapError(err); !errors.IsNotFound(mapped) {
			return mapped
		}
	}
	return nil
}

// List implements blob.Container. Non-recursive listings report common prefixes as keys
// ending in the separator.
func (c *Container) List(ctx context.Context, prefix string, oneLevel bool) iter.Seq2[blob.Entry, error] {
	return func(yield func(blob.Entry, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for info := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: !oneLevel}) {
			if info.Err != nil {
				yield(blob.Entry{}, mapError(info.Err))
				return
			}
			entry := blob.Entry{Name: info.Key}
			if oneLevel && strings.HasSuffix(info.Key, blob.Separator) {
				entry.IsPrefix = true
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// FindByTags implements blob.Container
func (c *Container) FindByTags(context.Context, string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", errors.ErrTagSearchUnsupported)
	}
}

func mapError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return errors.ErrItemNotFound
	case "NoSuchBucket":
		return errors.ErrTableNotFound
	}
	return fmt.Errorf("minio: %w", err)
}

func putError(err error, cond blob.Condition) error {
	if minio.ToErrorResponse(err).Code == "PreconditionFailed" {
		if cond.IfNoneMatch {
			return errors.ErrAlreadyExists
		}
		return errors.ErrConcurrencyConflict
	}
	return mapError(err)
}
