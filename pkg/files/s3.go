package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/appvend/appvend/pkg/apperr"
)

// S3Config selects the bucket and, for MinIO-style deployments, the
// endpoint and static credentials.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3 serves blobs from an S3-compatible object store.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 builds an S3 blob store. Static credentials are used when
// provided, the default chain otherwise.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// NewS3WithClient wraps an existing client, for tests and custom wiring.
func NewS3WithClient(client *s3.Client, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

// Open implements Blob.
func (b *S3) Open(ctx context.Context, key string) (io.ReadCloser, BlobInfo, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, BlobInfo{}, apperr.NotFound(apperr.CodeFileNotFound, "file not found").
				WithData("key", key)
		}
		return nil, BlobInfo{}, apperr.Internal(apperr.CodeFileReadingError, "file is not readable").
			WithData("key", key).WithCause(err)
	}

	info := BlobInfo{Name: path.Base(key)}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	} else {
		info.Size = -1
	}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	} else {
		info.ModTime = time.Time{}
	}
	return out.Body, info, nil
}
