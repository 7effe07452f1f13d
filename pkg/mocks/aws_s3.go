package mocks

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/mock"

	"github.com/theory-cloud/tablequery/pkg/interfaces"
)

// MockS3Client provides a mock implementation of the AWS S3 client.
// Expectations are set on (ctx, input); option functions are not recorded.
type MockS3Client struct {
	mock.Mock
}

var _ interfaces.S3API = (*MockS3Client)(nil)

// GetObject mocks the S3 GetObject operation
func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	return result[*s3.GetObjectOutput](args, 0), args.Error(1)
}

// PutObject mocks the S3 PutObject operation
func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	return result[*s3.PutObjectOutput](args, 0), args.Error(1)
}

// DeleteObject mocks the S3 DeleteObject operation
func (m *MockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	return result[*s3.DeleteObjectOutput](args, 0), args.Error(1)
}

// ListObjectsV2 mocks the S3 ListObjectsV2 operation
func (m *MockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	return result[*s3.ListObjectsV2Output](args, 0), args.Error(1)
}

// GetObjectTagging mocks the S3 GetObjectTagging operation
func (m *MockS3Client) GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, _ ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
	args := m.Called(ctx, params)
	return result[*s3.GetObjectTaggingOutput](args, 0), args.Error(1)
}
