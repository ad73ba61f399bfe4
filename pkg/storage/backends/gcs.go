package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/socdl/socdl/pkg/storage"
)

func init() {
	storage.Register("gcs", func() storage.Backend { return NewGCS() })
}

// GCS stores blobs in Google Cloud Storage.
type GCS struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCS creates an uninitialized Google Cloud Storage backend.
func NewGCS() *GCS {
	return &GCS{}
}

// Init configures the client. Options: "bucket" (required), "prefix",
// "keyFile" (service account JSON; default credential chain otherwise),
// "emulatorHost" (for tests).
func (g *GCS) Init(options map[string]string) error {
	bucket := options["bucket"]
	if bucket == "" {
		return fmt.Errorf("%w: gcs backend requires a bucket", storage.ErrInvalidConfig)
	}
	g.bucket = bucket
	g.prefix = strings.TrimSuffix(options["prefix"], "/")

	var opts []option.ClientOption
	if host := options["emulatorHost"]; host != "" {
		opts = append(opts,
			option.WithEndpoint(fmt.Sprintf("http://%s/storage/v1/", host)),
			option.WithoutAuthentication(),
		)
	} else if keyFile := options["keyFile"]; keyFile != "" {
		opts = append(opts, option.WithCredentialsFile(keyFile))
	}

	client, err := gcs.NewClient(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("create GCS client: %w", err)
	}

	g.client = client

	return nil
}

// Save uploads the stream to the bucket under key.
func (g *GCS) Save(ctx context.Context, key string, data io.Reader) error {
	if g.client == nil {
		return storage.ErrBackendNotReady
	}

	fullKey := g.buildKey(key)

	w := g.client.Bucket(g.bucket).Object(fullKey).NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", g.bucket, fullKey, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", g.bucket, fullKey, err)
	}

	return nil
}

// Load downloads the object stored under key.
func (g *GCS) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if g.client == nil {
		return nil, storage.ErrBackendNotReady
	}

	fullKey := g.buildKey(key)

	r, err := g.client.Bucket(g.bucket).Object(fullKey).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("read gs://%s/%s: %w", g.bucket, fullKey, err)
	}

	return r, nil
}

// Delete removes the object stored under key.
func (g *GCS) Delete(ctx context.Context, key string) error {
	if g.client == nil {
		return storage.ErrBackendNotReady
	}

	fullKey := g.buildKey(key)

	if err := g.client.Bucket(g.bucket).Object(fullKey).Delete(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return storage.ErrKeyNotFound
		}
		return fmt.Errorf("delete gs://%s/%s: %w", g.bucket, fullKey, err)
	}

	return nil
}

// Exists reports whether an object is stored under key.
func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	if g.client == nil {
		return false, storage.ErrBackendNotReady
	}

	fullKey := g.buildKey(key)

	_, err := g.client.Bucket(g.bucket).Object(fullKey).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat gs://%s/%s: %w", g.bucket, fullKey, err)
	}

	return true, nil
}

// List returns the keys in the bucket that start with prefix.
func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	if g.client == nil {
		return nil, storage.ErrBackendNotReady
	}

	it := g.client.Bucket(g.bucket).Objects(ctx, &gcs.Query{Prefix: g.buildKey(prefix)})

	var keys []string

	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s: %w", g.bucket, err)
		}

		keys = append(keys, g.stripPrefix(attrs.Name))
	}

	return keys, nil
}

// Close closes the client.
func (g *GCS) Close() error {
	if g.client != nil {
		return g.client.Close()
	}

	return nil
}

func (g *GCS) buildKey(key string) string {
	if g.prefix == "" {
		return key
	}

	return g.prefix + "/" + strings.TrimPrefix(key, "/")
}

func (g *GCS) stripPrefix(key string) string {
	if g.prefix == "" {
		return key
	}

	return strings.TrimPrefix(key, g.prefix+"/")
}
