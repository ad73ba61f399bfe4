package backends

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/socdl/socdl/pkg/storage"
)

// backendsUnderTest builds one initialized instance of each backend that
// needs no external service.
func backendsUnderTest(t *testing.T) map[string]storage.Backend {
	t.Helper()

	fs := NewFileSystem()
	if err := fs.Init(map[string]string{"path": t.TempDir()}); err != nil {
		t.Fatalf("init filesystem backend: %v", err)
	}

	mem := NewMemory()
	if err := mem.Init(nil); err != nil {
		t.Fatalf("init memory backend: %v", err)
	}

	return map[string]storage.Backend{
		"filesystem": fs,
		"memory":     mem,
	}
}

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			defer backend.Close()

			if err := backend.Save(ctx, "index/main", strings.NewReader("payload")); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			exists, err := backend.Exists(ctx, "index/main")
			if err != nil {
				t.Fatalf("Exists() error = %v", err)
			}
			if !exists {
				t.Error("Exists() = false after Save")
			}

			r, err := backend.Load(ctx, "index/main")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			data, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				t.Fatalf("read loaded value: %v", err)
			}
			if string(data) != "payload" {
				t.Errorf("loaded %q, want %q", data, "payload")
			}

			if err := backend.Delete(ctx, "index/main"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}

			exists, err = backend.Exists(ctx, "index/main")
			if err != nil {
				t.Fatalf("Exists() after delete error = %v", err)
			}
			if exists {
				t.Error("Exists() = true after Delete")
			}
		})
	}
}

func TestBackendOverwrite(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			defer backend.Close()

			for _, value := range []string{"first", "second"} {
				if err := backend.Save(ctx, "key", strings.NewReader(value)); err != nil {
					t.Fatalf("Save(%q) error = %v", value, err)
				}
			}

			r, err := backend.Load(ctx, "key")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			data, _ := io.ReadAll(r)
			r.Close()

			if string(data) != "second" {
				t.Errorf("loaded %q, want the overwritten value", data)
			}
		})
	}
}

func TestBackendNotFound(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			defer backend.Close()

			if _, err := backend.Load(ctx, "absent"); !errors.Is(err, storage.ErrKeyNotFound) {
				t.Errorf("Load(absent) error = %v, want ErrKeyNotFound", err)
			}

			if err := backend.Delete(ctx, "absent"); !errors.Is(err, storage.ErrKeyNotFound) {
				t.Errorf("Delete(absent) error = %v, want ErrKeyNotFound", err)
			}

			exists, err := backend.Exists(ctx, "absent")
			if err != nil {
				t.Fatalf("Exists(absent) error = %v", err)
			}
			if exists {
				t.Error("Exists(absent) = true")
			}
		})
	}
}

func TestBackendList(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			defer backend.Close()

			for _, key := range []string{"cache/a", "cache/b", "archive/c"} {
				if err := backend.Save(ctx, key, strings.NewReader(key)); err != nil {
					t.Fatalf("Save(%q) error = %v", key, err)
				}
			}

			keys, err := backend.List(ctx, "cache/")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}

			sort.Strings(keys)

			want := []string{"cache/a", "cache/b"}
			if len(keys) != len(want) {
				t.Fatalf("List() = %v, want %v", keys, want)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Errorf("List()[%d] = %q, want %q", i, keys[i], want[i])
				}
			}
		})
	}
}

func TestFileSystemRejectsTraversal(t *testing.T) {
	fs := NewFileSystem()
	if err := fs.Init(map[string]string{"path": t.TempDir()}); err != nil {
		t.Fatalf("init filesystem backend: %v", err)
	}
	defer fs.Close()

	ctx := context.Background()

	if err := fs.Save(ctx, "../escape", strings.NewReader("x")); err == nil {
		t.Error("Save(../escape) succeeded, want error")
	}

	if _, err := fs.Load(ctx, "../../etc/passwd"); err == nil {
		t.Error("Load(../../etc/passwd) succeeded, want error")
	}
}

func TestOpenRegistry(t *testing.T) {
	backend, err := storage.Open("memory", nil)
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	backend.Close()

	if _, err := storage.Open("carrier-pigeon", nil); !errors.Is(err, storage.ErrUnknownBackend) {
		t.Errorf("Open(carrier-pigeon) error = %v, want ErrUnknownBackend", err)
	}

	registered := storage.Types()
	sort.Strings(registered)

	for _, want := range []string{"filesystem", "gcs", "memory", "redis", "s3"} {
		found := false
		for _, name := range registered {
			if name == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Types() = %v, missing %q", registered, want)
		}
	}
}

func TestBackendNotReady(t *testing.T) {
	ctx := context.Background()

	uninitialized := map[string]storage.Backend{
		"redis": NewRedis(),
		"s3":    NewS3(),
		"gcs":   NewGCS(),
	}

	for name, backend := range uninitialized {
		t.Run(name, func(t *testing.T) {
			if err := backend.Save(ctx, "k", strings.NewReader("v")); !errors.Is(err, storage.ErrBackendNotReady) {
				t.Errorf("Save() on uninitialized backend error = %v, want ErrBackendNotReady", err)
			}
		})
	}
}
