package backends

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/socdl/socdl/pkg/storage"
)

func init() {
	storage.Register("memory", func() storage.Backend { return NewMemory() })
}

// Memory keeps blobs in a map. Used by tests and for throwaway runs.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an uninitialized memory backend.
func NewMemory() *Memory {
	return &Memory{}
}

// Init resets the store. Memory takes no options.
func (m *Memory) Init(options map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string][]byte)

	return nil
}

// Save stores a copy of the stream under key.
func (m *Memory) Save(ctx context.Context, key string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return storage.ErrBackendNotReady
	}

	m.data[key] = b

	return nil
}

// Load returns a reader over a copy of the stored value.
func (m *Memory) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	b, ok := m.data[key]
	m.mu.RUnlock()

	if !ok {
		return nil, storage.ErrKeyNotFound
	}

	cp := make([]byte, len(b))
	copy(cp, b)

	return io.NopCloser(bytes.NewReader(cp)), nil
}

// Delete removes the value stored under key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; !ok {
		return storage.ErrKeyNotFound
	}

	delete(m.data, key)

	return nil
}

// Exists reports whether a value is stored under key.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.data[key]

	return ok, nil
}

// List returns the stored keys that start with prefix.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	return keys, nil
}

// Close is a no-op for the memory backend.
func (m *Memory) Close() error {
	return nil
}
