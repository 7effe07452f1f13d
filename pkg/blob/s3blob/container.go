// Package s3blob implements blob.Container on an Amazon S3 bucket or an S3-compatible
// service. S3 has no tag index, so containers are hierarchical only.
package s3blob

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/theory-cloud/tablequery/pkg/blob"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/interfaces"
)

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

// WithKeyPrefix stores every blob under prefix, so several containers can share a bucket
func WithKeyPrefix(prefix string) Option {
	return func(c *Container) {
		c.prefix = prefix
	}
}

// Container is a blob.Container on one bucket. It is safe for concurrent use.
type Container struct {
	client interfaces.S3API
	logger *zap.Logger
	bucket string
	prefix string
}

var _ blob.Container = (*Container)(nil)

// New returns a container on bucket
func New(client interfaces.S3API, bucket string, opts ...Option) *Container {
	c := &Container{
		client: client,
		bucket: bucket,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("bucket", bucket))
	return c
}

// Capabilities implements blob.Container
func (c *Container) Capabilities() blob.Capabilities {
	return blob.Capabilities{}
}

// Get implements blob.Container. Tags are fetched only for objects that have some.
func (c *Container) Get(ctx context.Context, name string) (*blob.Object, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(name)),
	})
	if err != nil {
		return nil, mapError(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read %s: %w", name, err)
	}
	obj := &blob.Object{
		Name:         name,
		Data:         data,
		ETag:         trimETag(aws.ToString(out.ETag)),
		LastModified: aws.ToTime(out.LastModified).UTC(),
	}

	if aws.ToInt32(out.TagCount) > 0 {
		tagging, err := c.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(c.key(name)),
		})
		if err != nil {
			return nil, mapError(err)
		}
		obj.Tags = make(map[string]string, len(tagging.TagSet))
		for _, tag := range tagging.TagSet {
			obj.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
	}
	return obj, nil
}

// Put implements blob.Container
func (c *Container) Put(ctx context.Context, obj *blob.Object, cond blob.Condition) (string, error) {
	if obj == nil || obj.Name == "" {
		return "", errors.Usage("blob needs a name")
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.key(obj.Name)),
		Body:          bytes.NewReader(obj.Data),
		ContentLength: aws.Int64(int64(len(obj.Data))),
		ContentType:   aws.String("application/json"),
	}
	if len(obj.Tags) > 0 {
		in.Tagging = aws.String(encodeTags(obj.Tags))
	}
	if cond.IfMatch != "" {
		in.IfMatch = aws.String(quoteETag(cond.IfMatch))
	}
	if cond.IfNoneMatch {
		in.IfNoneMatch = aws.String("*")
	}

	out, err := c.client.PutObject(ctx, in)
	if err != nil {
		c.logger.Debug("put failed", zap.String("name", obj.Name), zap.Error(err))
		return "", putError(err, cond)
	}
	return trimETag(aws.ToString(out.ETag)), nil
}

// Delete implements blob.Container
func (c *Container) Delete(ctx context.Context, name, etag string) error {
	in := &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(name)),
	}
	if etag != "" {
		in.IfMatch = aws.String(quoteETag(etag))
	}
	if _, err := c.client.DeleteObject(ctx, in); err != nil {
		mapped := mapError(err)
		switch {
		case errors.IsNotFound(mapped):
			return nil
		case isCode(err, "PreconditionFailed"):
			return errors.ErrConcurrencyConflict
		}
		return mapped
	}
	return nil
}

// List implements blob.Container. Each page's objects and common prefixes are yielded
// in name order.
func (c *Container) List(ctx context.Context, prefix string, oneLevel bool) iter.Seq2[blob.Entry, error] {
	return func(yield func(blob.Entry, error) bool) {
		in := &s3.ListObjectsV2Input{
			Bucket: aws.String(c.bucket),
			Prefix: aws.String(c.key(prefix)),
		}
		if oneLevel {
			in.Delimiter = aws.String(blob.Separator)
		}

		pages := s3.NewListObjectsV2Paginator(c.client, in)
		for pages.HasMorePages() {
			page, err := pages.NextPage(ctx)
			if err != nil {
				yield(blob.Entry{}, mapError(err))
				return
			}
			entries := make([]blob.Entry, 0, len(page.Contents)+len(page.CommonPrefixes))
			for _, o := range page.Contents {
				entries = append(entries, blob.Entry{Name: c.name(aws.ToString(o.Key))})
			}
			for _, p := range page.CommonPrefixes {
				entries = append(entries, blob.Entry{Name: c.name(aws.ToString(p.Prefix)), IsPrefix: true})
			}
			slices.SortFunc(entries, func(a, b blob.Entry) int { return strings.Compare(a.Name, b.Name) })

			for _, e := range entries {
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}

// FindByTags implements blob.Container. S3 cannot search by tag.
func (c *Container) FindByTags(context.Context, string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", errors.ErrTagSearchUnsupported)
	}
}

func (c *Container) key(name string) string {
	return c.prefix + name
}

func (c *Container) name(key string) string {
	return strings.TrimPrefix(key, c.prefix)
}

func encodeTags(tags map[string]string) string {
	values := make(url.Values, len(tags))
	for k, v := range tags {
		values.Set(k, v)
	}
	return values.Encode()
}

// S3 returns ETags in quotes
func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) {
		return etag
	}
	return `"` + etag + `"`
}

func isCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	return slices.Contains(codes, apiErr.ErrorCode())
}

func mapError(err error) error {
	switch {
	case isCode(err, "NoSuchKey", "NotFound"):
		return errors.ErrItemNotFound
	case isCode(err, "NoSuchBucket"):
		return errors.ErrTableNotFound
	}
	return fmt.Errorf("s3: %w", err)
}

// putError maps a failed conditional write. A concurrent conditional write to the same
// key fails with ConditionalRequestConflict.
func putError(err error, cond blob.Condition) error {
	switch {
	case isCode(err, "PreconditionFailed"):
		if cond.IfNoneMatch {
			return errors.ErrAlreadyExists
		}
		return errors.ErrConcurrencyConflict
	case isCode(err, "ConditionalRequestConflict"):
		return errors.ErrConcurrencyConflict
	}
	return mapError(err)
}
