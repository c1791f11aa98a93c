// Package s3store keeps data packages in an S3 bucket using the same layout
// as the filesystem backend, under an optional key prefix.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/odvcencio/metastore/pkg/backend/docstore"
	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/metrics"
)

// Name is the backend name reported by the S3 backend.
const Name = "s3"

// maxDeleteBatch is the DeleteObjects limit.
const maxDeleteBatch = 1000

// API is the subset of the S3 client used by Store.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
}

// Store implements docstore.Store on an S3 bucket.
type Store struct {
	client API
	bucket string
	prefix string
}

var _ docstore.Store = (*Store)(nil)

// NewClient builds an S3 client with path-style addressing. Static
// credentials are used when an access key is set; otherwise the default
// AWS credential chain applies.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewStore wraps client. Keys are stored under prefix.
func NewStore(client API, bucket, prefix string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", metastore.ErrValidation)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{client: client, bucket: bucket, prefix: prefix}, nil
}

// New returns a metastore backend on the bucket named in cfg.
func New(ctx context.Context, cfg Config, dcfg docstore.Config, opts ...docstore.Option) (*docstore.Backend, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(client, cfg.Bucket, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	if dcfg.Name == "" {
		dcfg.Name = Name
	}
	return docstore.New(store, dcfg, opts...), nil
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
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

func (s *Store) fail(op, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, key, metastore.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w: %w", op, key, metastore.ErrTransport, err)
}

func record(op string, start time.Time, err error) {
	metrics.RecordStoreOperation(Name, op, time.Since(start), err == nil || isNotFound(err))
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".md"):
		return "text/markdown; charset=utf-8"
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}

// GetObject downloads the object at key.
func (s *Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	record("get_object", start, err)
	if err != nil {
		return nil, s.fail("get object", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w: %w", key, metastore.ErrTransport, err)
	}
	return data, nil
}

// PutObject uploads data to key.
func (s *Store) PutObject(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(key)),
	})
	record("put_object", start, err)
	if err != nil {
		return s.fail("put object", key, err)
	}
	return nil
}

// ObjectExists checks key with a HEAD request.
func (s *Store) ObjectExists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	record("head_object", start, err)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, s.fail("head object", key, err)
	}
	return true, nil
}

// DeleteObject removes key. S3 deletes are idempotent, so the key is checked
// first to report missing objects.
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	ok, err := s.ObjectExists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete object %s: %w", key, metastore.ErrNotFound)
	}
	start := time.Now()
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	record("delete_object", start, err)
	if err != nil {
		return s.fail("delete object", key, err)
	}
	return nil
}

// DeletePrefix removes every key under prefix in batches.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		record("list_objects", start, err)
		if err != nil {
			return s.fail("list objects", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("delete %s: %w", prefix, metastore.ErrNotFound)
	}

	for len(keys) > 0 {
		n := min(len(keys), maxDeleteBatch)
		batch := make([]types.ObjectIdentifier, 0, n)
		for _, k := range keys[:n] {
			batch = append(batch, types.ObjectIdentifier{Key: aws.String(k)})
		}
		keys = keys[n:]

		start := time.Now()
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		record("delete_objects", start, err)
		if err != nil {
			return s.fail("delete objects", prefix, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("delete %s: %w: %s: %s", prefix, metastore.ErrTransport, aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}
