// Package server exposes the acquisition pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/socdl/socdl/internal/cache"
	"github.com/socdl/socdl/internal/downloader"
	"github.com/socdl/socdl/internal/fetch"
	"github.com/socdl/socdl/internal/tracker"
	"github.com/socdl/socdl/pkg/errors"
	"github.com/socdl/socdl/pkg/events"
	"github.com/socdl/socdl/pkg/middleware"
	"github.com/socdl/socdl/pkg/storage"
)

// Service identity reported by the status endpoint.
const (
	ServiceName = "socdl"
	Version     = "1.0.0"
)

// Prober extracts media metadata without downloading. Satisfied by
// fetch.YTDLP; replaceable in tests.
type Prober interface {
	Probe(ctx context.Context, url string) (*fetch.MediaInfo, error)
	Version(ctx context.Context) string
}

// Thumbnailer renders artifact previews.
type Thumbnailer interface {
	Render(filename string) ([]byte, error)
}

// Server wires the HTTP surface to the pipeline components. All state is
// explicit; nothing here is package-global.
type Server struct {
	dl      *downloader.Downloader
	tracker *tracker.Tracker
	index   *cache.Index
	store   storage.Backend
	prober  Prober
	thumbs  Thumbnailer
	emitter *events.Emitter
	dir     string
}

// Options configures a Server.
type Options struct {
	Downloader *downloader.Downloader
	Tracker    *tracker.Tracker
	Index      *cache.Index
	Store      storage.Backend
	Prober     Prober
	Thumbs     Thumbnailer
	Emitter    *events.Emitter

	// Dir is the artifact directory served by the file endpoints.
	Dir string
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Emitter == nil {
		opts.Emitter = events.NewEmitter()
	}

	return &Server{
		dl:      opts.Downloader,
		tracker: opts.Tracker,
		index:   opts.Index,
		store:   opts.Store,
		prober:  opts.Prober,
		thumbs:  opts.Thumbs,
		emitter: opts.Emitter,
		dir:     opts.Dir,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /download", s.handleDownload)
	mux.HandleFunc("GET /progress/{task_id}", s.handleProgress)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /info", s.handleInfo)

	mux.HandleFunc("GET /file/{filename}", s.handleServeFile)
	mux.HandleFunc("DELETE /file/{filename}", s.handleDeleteFile)
	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("DELETE /files", s.handleClearFiles)
	mux.HandleFunc("GET /thumbnail/{filename}", s.handleThumbnail)
	mux.HandleFunc("POST /archive/{filename}", s.handleArchive)

	mux.HandleFunc("GET /cache", s.handleListCache)
	mux.HandleFunc("DELETE /cache", s.handleClearCache)
	mux.HandleFunc("DELETE /cache/{hash}", s.handleEvictCache)

	chain := middleware.NewChain()
	chain.Use(middleware.Logging())
	chain.Use(middleware.Recover())
	chain.Use(middleware.CORS())

	return chain.Then(mux)
}

// downloadRequest is the submission payload.
type downloadRequest struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
}

// downloadResponse answers a submission.
type downloadResponse struct {
	TaskID  string `json:"task_id"`
	Cached  bool   `json:"cached"`
	Message string `json:"message"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.dl.Submit(r.Context(), req.URL, req.Format, req.Quality)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	msg := "download started"
	if res.Cached {
		msg = "already downloaded"
	}

	writeJSON(w, http.StatusOK, downloadResponse{
		TaskID:  res.TaskID,
		Cached:  res.Cached,
		Message: msg,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tracker.Get(r.PathValue("task_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// statusResponse is the health report.
type statusResponse struct {
	Status             string   `json:"status"`
	Service            string   `json:"service"`
	Version            string   `json:"version"`
	SupportedPlatforms []string `json:"supported_platforms"`
	YTDLPVersion       string   `json:"yt_dlp_version"`
	ActiveTasks        int      `json:"active_tasks"`
	CacheEntries       int      `json:"cache_entries"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pipeline := s.dl.Describe()

	writeJSON(w, http.StatusOK, statusResponse{
		Status:             "online",
		Service:            ServiceName,
		Version:            Version,
		SupportedPlatforms: pipeline.Platforms,
		YTDLPVersion:       s.prober.Version(r.Context()),
		ActiveTasks:        pipeline.ActiveTasks,
		CacheEntries:       pipeline.CacheEntries,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	info, err := s.prober.Probe(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListCache(w http.ResponseWriter, _ *http.Request) {
	entries := s.index.List()

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	n := s.index.Clear(r.Context())
	s.emitter.Emit(events.Event{Type: events.EventCacheCleared, Data: map[string]any{"removed": n}})

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "cache cleared",
		"removed": n,
	})
}

func (s *Server) handleEvictCache(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !s.index.Evict(r.Context(), hash) {
		writeError(w, http.StatusNotFound, "cache entry not found")
		return
	}

	s.emitter.Emit(events.Event{Type: events.EventCacheEvicted, Data: map[string]any{"hash": hash}})
	writeJSON(w, http.StatusOK, map[string]any{"message": "cache entry removed"})
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: encode response: %v", err)
	}
}

// writeError reports a failure in the {"detail": ...} shape.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// statusFor maps pipeline errors to HTTP statuses.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeInvalidURL:
		return http.StatusBadRequest
	case errors.CodeTaskNotFound, errors.CodeFileNotFound:
		return http.StatusNotFound
	case errors.CodeInsufficientSpace:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
