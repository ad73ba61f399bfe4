package backends

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/socdl/socdl/pkg/storage"
)

func init() {
	storage.Register("redis", func() storage.Backend { return NewRedis() })
}

// Redis stores blobs as Redis string values. It suits the cache index and
// other small metadata blobs, not multi-gigabyte artifacts.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates an uninitialized Redis backend.
func NewRedis() *Redis {
	return &Redis{}
}

// Init connects to the server. Options: "addr" (default localhost:6379),
// "password", "db", "prefix".
func (r *Redis) Init(options map[string]string) error {
	addr := options["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	db := 0
	if raw := options["db"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: invalid redis db %q", storage.ErrInvalidConfig, raw)
		}
		db = n
	}

	r.prefix = strings.TrimSuffix(options["prefix"], ":")

	r.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: options["password"],
		DB:       db,
	})

	if err := r.client.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	return nil
}

// Save stores the stream as a string value under key.
func (r *Redis) Save(ctx context.Context, key string, data io.Reader) error {
	if r.client == nil {
		return storage.ErrBackendNotReady
	}

	b, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read data: %w", err)
	}

	if err := r.client.Set(ctx, r.buildKey(key), b, 0).Err(); err != nil {
		return fmt.Errorf("set redis key %s: %w", r.buildKey(key), err)
	}

	return nil
}

// Load retrieves the value stored under key.
func (r *Redis) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if r.client == nil {
		return nil, storage.ErrBackendNotReady
	}

	val, err := r.client.Get(ctx, r.buildKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("get redis key %s: %w", r.buildKey(key), err)
	}

	return io.NopCloser(strings.NewReader(val)), nil
}

// Delete removes the value stored under key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return storage.ErrBackendNotReady
	}

	n, err := r.client.Del(ctx, r.buildKey(key)).Result()
	if err != nil {
		return fmt.Errorf("delete redis key %s: %w", r.buildKey(key), err)
	}

	if n == 0 {
		return storage.ErrKeyNotFound
	}

	return nil
}

// Exists reports whether a value is stored under key.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	if r.client == nil {
		return false, storage.ErrBackendNotReady
	}

	n, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check redis key %s: %w", r.buildKey(key), err)
	}

	return n > 0, nil
}

// List scans for keys that start with prefix.
func (r *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	if r.client == nil {
		return nil, storage.ErrBackendNotReady
	}

	var keys []string

	iter := r.client.Scan(ctx, 0, r.buildKey(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, r.stripPrefix(iter.Val()))
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan redis keys: %w", err)
	}

	return keys, nil
}

// Close closes the connection.
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}

	return nil
}

func (r *Redis) buildKey(key string) string {
	if r.prefix == "" {
		return key
	}

	return r.prefix + ":" + key
}

func (r *Redis) stripPrefix(key string) string {
	if r.prefix == "" {
		return key
	}

	return strings.TrimPrefix(key, r.prefix+":")
}
