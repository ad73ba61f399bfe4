package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/socdl/socdl/pkg/errors"
	"github.com/socdl/socdl/pkg/events"
	"github.com/socdl/socdl/pkg/storage"
)

// fileCacheMaxAge is the public max-age for served artifacts. Completed
// downloads are immutable, so intermediary caches may hold them.
const fileCacheMaxAge = 3600

// validName rejects path traversal and hidden names in the flat artifact
// directory.
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return false
	}

	return true
}

func (s *Server) artifactPath(name string) (string, bool) {
	if !validName(name) {
		return "", false
	}

	return filepath.Join(s.dir, name), true
}

func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	path, ok := s.artifactPath(name)
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	// Entity tag from size and mtime: enough to detect a re-download
	// replacing the artifact.
	etag := fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", fileCacheMaxAge))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Type", "application/octet-stream")

	s.emitter.Emit(events.Event{Type: events.EventFileServed, Data: map[string]any{"filename": name}})

	// ServeContent handles byte ranges, If-Range, and conditional headers
	// against the ETag set above, streaming in chunks.
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	path, ok := s.artifactPath(name)
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	if err := os.Remove(path); err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	// The cache index is deliberately left alone: its entry goes stale and
	// drops on the next lookup.
	s.emitter.Emit(events.Event{Type: events.EventFileDeleted, Data: map[string]any{"filename": name}})

	writeJSON(w, http.StatusOK, map[string]string{"message": "file deleted"})
}

// fileInfo describes one artifact in a listing.
type fileInfo struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

func (s *Server) listArtifacts() ([]fileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	files := make([]fileInfo, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !validName(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, fileInfo{
			Filename: entry.Name(),
			Size:     info.Size(),
			Created:  info.ModTime().UTC(),
		})
	}

	return files, nil
}

func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	files, err := s.listArtifacts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot read artifact directory")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleClearFiles(w http.ResponseWriter, _ *http.Request) {
	files, err := s.listArtifacts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot read artifact directory")
		return
	}

	count := 0
	for _, f := range files {
		if err := os.Remove(filepath.Join(s.dir, f.Filename)); err == nil {
			count++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("%d files deleted", count)})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if !validName(name) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	data, err := s.thumbs.Render(name)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeFileNotFound {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", fileCacheMaxAge))
	_, _ = w.Write(data)
}

// handleArchive copies an artifact into the configured storage backend
// under the archive/ prefix, so completed downloads can move off the local
// disk.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	path, ok := s.artifactPath(name)
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer func() { _ = f.Close() }()

	key := "archive/" + name
	if err := s.store.Save(r.Context(), key, f); err != nil {
		if errors.Is(err, storage.ErrBackendNotReady) {
			writeError(w, http.StatusServiceUnavailable, "storage backend unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("archive failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "artifact archived",
		"key":     key,
	})
}
