// Package cache maintains the persistent index mapping normalized source
// URLs to already-downloaded artifacts, so that repeat submissions of the
// same URL are served without re-downloading.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/socdl/socdl/internal/platform"
	"github.com/socdl/socdl/pkg/storage"
)

// indexKey is the storage key under which the full index table is persisted.
const indexKey = "index/cache.json"

// Entry records one completed acquisition. Entries are never mutated in
// place; a re-download overwrites the hash key with a fresh entry.
type Entry struct {
	URL       string       `json:"url"`
	Filename  string       `json:"filename"`
	Platform  platform.Tag `json:"platform"`
	TaskID    string       `json:"task_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// Index is the process-wide acquisition cache. All read-modify-write
// sequences on the table and its persisted copy run under a single mutex so
// two tasks completing simultaneously cannot lose each other's updates.
type Index struct {
	mu      sync.Mutex
	entries map[string]Entry
	store   storage.Backend
	dir     string
}

// Normalize canonicalizes a source URL for keying: surrounding whitespace
// and trailing slashes are insignificant.
func Normalize(url string) string {
	return strings.TrimRight(strings.TrimSpace(url), "/")
}

// Key returns the index key for a source URL: the hex SHA-256 of its
// normalized form.
func Key(url string) string {
	sum := sha256.Sum256([]byte(Normalize(url)))
	return hex.EncodeToString(sum[:])
}

// Load reads the persisted index from store and drops entries whose files
// no longer exist under dir. A missing or unreadable table yields an empty
// index rather than an error: the cache fails open, never closed.
func Load(ctx context.Context, store storage.Backend, dir string) *Index {
	idx := &Index{
		entries: make(map[string]Entry),
		store:   store,
		dir:     dir,
	}

	r, err := store.Load(ctx, indexKey)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			log.Printf("Warning: cache index unreadable, starting empty: %v", err)
		}
		return idx
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		log.Printf("Warning: cache index unreadable, starting empty: %v", err)
		return idx
	}

	var table map[string]Entry
	if err := json.Unmarshal(data, &table); err != nil {
		log.Printf("Warning: cache index corrupted, starting empty: %v", err)
		return idx
	}

	for key, entry := range table {
		if !idx.fileExists(entry.Filename) {
			continue
		}
		idx.entries[key] = entry
	}

	return idx
}

// Lookup returns the entry for url if one exists and its file is still on
// disk. A stale entry (file removed since it was recorded) is dropped from
// the index on the spot and reported as a miss, forcing a re-download.
func (i *Index) Lookup(ctx context.Context, url string) (Entry, bool) {
	key := Key(url)

	i.mu.Lock()
	defer i.mu.Unlock()

	entry, ok := i.entries[key]
	if !ok {
		return Entry{}, false
	}

	if !i.fileExists(entry.Filename) {
		delete(i.entries, key)
		i.persist(ctx)
		return Entry{}, false
	}

	return entry, true
}

// Put records an entry for url, overwriting any existing one, and persists
// the full table. A persistence failure is logged, not returned: the
// in-memory table stays authoritative and the next successful write
// reconciles.
func (i *Index) Put(ctx context.Context, url string, entry Entry) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.entries[Key(url)] = entry
	i.persist(ctx)
}

// List returns every entry keyed by URL hash.
func (i *Index) List() map[string]Entry {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make(map[string]Entry, len(i.entries))
	for key, entry := range i.entries {
		out[key] = entry
	}

	return out
}

// Evict removes the entry stored under the given URL hash, if any, and
// reports whether one was present. The underlying file is left alone.
func (i *Index) Evict(ctx context.Context, key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.entries[key]; !ok {
		return false
	}

	delete(i.entries, key)
	i.persist(ctx)

	return true
}

// Clear drops every entry and returns how many were removed. Files are
// never deleted here; artifact lifecycle belongs to the file server.
func (i *Index) Clear(ctx context.Context) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	n := len(i.entries)
	i.entries = make(map[string]Entry)
	i.persist(ctx)

	return n
}

// Len returns the number of entries currently indexed.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return len(i.entries)
}

// persist writes the full table through to storage. Caller holds the mutex.
func (i *Index) persist(ctx context.Context) {
	data, err := json.MarshalIndent(i.entries, "", "  ")
	if err != nil {
		log.Printf("Warning: failed to encode cache index: %v", err)
		return
	}

	if err := i.store.Save(ctx, indexKey, strings.NewReader(string(data))); err != nil {
		log.Printf("Warning: failed to persist cache index: %v", err)
	}
}

func (i *Index) fileExists(filename string) bool {
	if filename == "" {
		return false
	}

	_, err := os.Stat(filepath.Join(i.dir, filename))

	return err == nil
}

// String describes the index for logs.
func (i *Index) String() string {
	return fmt.Sprintf("cache.Index(%d entries)", i.Len())
}
