package backends

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/socdl/socdl/pkg/storage"
)

func init() {
	storage.Register("s3", func() storage.Backend { return NewS3() })
}

// S3 stores blobs in AWS S3 or any S3-compatible service. It is the main
// archive target for completed artifacts.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates an uninitialized S3 backend.
func NewS3() *S3 {
	return &S3{}
}

// Init configures the client. Options: "bucket" (required), "region",
// "prefix", "accessKeyId"/"secretAccessKey"/"sessionToken", "profile",
// "endpoint", "usePathStyle".
func (b *S3) Init(options map[string]string) error {
	bucket := options["bucket"]
	if bucket == "" {
		return fmt.Errorf("%w: s3 backend requires a bucket", storage.ErrInvalidConfig)
	}
	b.bucket = bucket
	b.prefix = strings.TrimSuffix(options["prefix"], "/")

	ctx := context.Background()

	region := options["region"]
	if region == "" {
		region = "us-east-1"
	}

	var (
		cfg aws.Config
		err error
	)

	switch {
	case options["profile"] != "":
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithSharedConfigProfile(options["profile"]),
		)
	case options["accessKeyId"] != "":
		creds := credentials.NewStaticCredentialsProvider(
			options["accessKeyId"], options["secretAccessKey"], options["sessionToken"])
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(creds),
		)
	default:
		cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}

	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	b.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := options["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if options["usePathStyle"] == "true" {
			o.UsePathStyle = true
		}
	})

	return nil
}

// Save uploads the stream to the bucket under key.
func (b *S3) Save(ctx context.Context, key string, data io.Reader) error {
	if b.client == nil {
		return storage.ErrBackendNotReady
	}

	fullKey := b.buildKey(key)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fullKey),
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", b.bucket, fullKey, err)
	}

	return nil
}

// Load downloads the object stored under key.
func (b *S3) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if b.client == nil {
		return nil, storage.ErrBackendNotReady
	}

	fullKey := b.buildKey(key)

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", b.bucket, fullKey, err)
	}

	return out.Body, nil
}

// Delete removes the object stored under key.
func (b *S3) Delete(ctx context.Context, key string) error {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return err
	}

	if !exists {
		return storage.ErrKeyNotFound
	}

	fullKey := b.buildKey(key)

	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fullKey),
	}); err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", b.bucket, fullKey, err)
	}

	return nil
}

// Exists reports whether an object is stored under key.
func (b *S3) Exists(ctx context.Context, key string) (bool, error) {
	if b.client == nil {
		return false, storage.ErrBackendNotReady
	}

	fullKey := b.buildKey(key)

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey") {
			return false, nil
		}
		return false, fmt.Errorf("head s3://%s/%s: %w", b.bucket, fullKey, err)
	}

	return true, nil
}

// List returns the keys in the bucket that start with prefix.
func (b *S3) List(ctx context.Context, prefix string) ([]string, error) {
	if b.client == nil {
		return nil, storage.ErrBackendNotReady
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.buildKey(prefix)),
	}

	var keys []string

	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s: %w", b.bucket, err)
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, b.stripPrefix(*obj.Key))
			}
		}
	}

	return keys, nil
}

// Close is a no-op for S3.
func (b *S3) Close() error {
	return nil
}

func (b *S3) buildKey(key string) string {
	if b.prefix == "" {
		return key
	}

	return b.prefix + "/" + strings.TrimPrefix(key, "/")
}

func (b *S3) stripPrefix(key string) string {
	if b.prefix == "" {
		return key
	}

	return strings.TrimPrefix(key, b.prefix+"/")
}
