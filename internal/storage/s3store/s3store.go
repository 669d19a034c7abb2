// Package s3store keeps each collection as a JSON object in an S3 bucket.
// Compare-and-set on the sync state uses S3 conditional writes.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"solana-liquidity-sync/internal/storage"
	"solana-liquidity-sync/internal/storage/blob"
)

// Config configures the S3 backend.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// API is the subset of the S3 client used by Backend.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Backend implements blob.Backend on S3.
type Backend struct {
	client API
	bucket string
	prefix string
}

// New loads AWS configuration and creates an S3-backed blob backend.
// Static credentials are used when both keys are set, otherwise the default
// credential chain applies.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: %w: empty bucket", storage.ErrInvalidInput)
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient creates a backend on an existing client.
func NewWithClient(client API, bucket, prefix string) *Backend {
	return &Backend{client: client, bucket: bucket, prefix: prefix}
}

// NewStores returns the full store set on S3.
func NewStores(ctx context.Context, cfg Config) (*storage.Stores, error) {
	b, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return blob.NewStores(b), nil
}

// Name implements blob.Backend.
func (b *Backend) Name() string { return "s3" }

// Get implements blob.Backend.
func (b *Backend) Get(ctx context.Context, name string) ([]byte, string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", storage.ErrNotFound
		}
		return nil, "", fmt.Errorf("get object %s: %w", b.key(name), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s: %w", b.key(name), err)
	}
	return data, aws.ToString(out.ETag), nil
}

// Put implements blob.Backend.
func (b *Backend) Put(ctx context.Context, name string, data []byte, cond blob.Condition) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if cond.IfMatch != "" {
		in.IfMatch = aws.String(cond.IfMatch)
	}
	if cond.IfNoneMatch {
		in.IfNoneMatch = aws.String("*")
	}

	out, err := b.client.PutObject(ctx, in)
	if err != nil {
		if isConflict(err) {
			return "", storage.ErrConflict
		}
		return "", fmt.Errorf("put object %s: %w", b.key(name), err)
	}
	return aws.ToString(out.ETag), nil
}

func (b *Backend) key(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// isConflict reports a failed conditional write. S3 answers 412
// PreconditionFailed, or 409 ConditionalRequestConflict when two conditional
// writes race on the same key.
func isConflict(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

// Compile-time interface check.
var _ blob.Backend = (*Backend)(nil)
