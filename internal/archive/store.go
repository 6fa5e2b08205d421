// Package archive optionally persists completed job artifacts to an
// S3-compatible bucket, supplementing the websocket delivery path rather
// than replacing it. Adapted from the teacher's Cloudflare R2 client
// (internal/client/r2_client.go), generalized from R2's fixed endpoint
// shape to any S3-compatible endpoint.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config configures the S3-compatible endpoint an archive Store uploads
// completed artifacts to.
type Config struct {
	Enabled         bool
	Endpoint        string // e.g. R2's https://<account>.r2.cloudflarestorage.com
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string // base URL for GetPublicURL; falls back to a bucket-relative URL
}

// Store uploads job artifacts and reports their durable URL.
type Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// New constructs a Store from Config. Returns an error if required
// credentials or the bucket name are missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("archive configuration incomplete: access key, secret, and bucket are required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		awsconfig.WithRegion(region(cfg.Region)),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Store{
		client:    s3.NewFromConfig(awsCfg),
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
	}, nil
}

func region(r string) string {
	if r == "" {
		return "auto"
	}
	return r
}

// UploadFile reads path and uploads it under key, returning the
// artifact's durable URL.
func (s *Store) UploadFile(ctx context.Context, key, path, contentType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	return s.Upload(ctx, key, f, contentType)
}

// Upload streams body to the bucket under key.
func (s *Store) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	return s.PublicURL(key), nil
}

// PublicURL returns the durable URL for a previously uploaded key.
func (s *Store) PublicURL(key string) string {
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s", s.publicURL, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

// uploadTimeout bounds how long an archive upload may block the worker
// that triggered it.
const uploadTimeout = 30 * time.Second

// UploadTimeout exposes uploadTimeout for callers that want to share the
// same bound when constructing their own context.
func UploadTimeout() time.Duration { return uploadTimeout }
