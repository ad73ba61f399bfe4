package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/socdl/socdl/internal/cache"
	"github.com/socdl/socdl/internal/downloader"
	"github.com/socdl/socdl/internal/fetch"
	"github.com/socdl/socdl/internal/strategy"
	"github.com/socdl/socdl/internal/tracker"
	"github.com/socdl/socdl/pkg/storage/backends"
)

// stubFetcher always succeeds on the first attempt, writing an artifact.
type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, _ string, _ strategy.Strategy, dir, taskID string, progress fetch.ProgressFunc) error {
	if progress != nil {
		progress(fetch.ProgressEvent{Status: fetch.StatusFinished, Downloaded: 5, Total: 5})
	}

	return os.WriteFile(filepath.Join(dir, taskID+"_clip.mp4"), []byte("video"), 0o644)
}

// stubProber returns canned metadata.
type stubProber struct {
	fail bool
}

func (p stubProber) Probe(_ context.Context, url string) (*fetch.MediaInfo, error) {
	if p.fail {
		return nil, fmt.Errorf("probe refused")
	}

	return &fetch.MediaInfo{ID: "abc", URL: url, Title: "Clip", Platform: "youtube", IsVideo: true}, nil
}

func (stubProber) Version(context.Context) string { return "2025.08.01" }

// stubThumbs serves fixed preview bytes.
type stubThumbs struct {
	dir string
}

func (s stubThumbs) Render(filename string) ([]byte, error) {
	if _, err := os.Stat(filepath.Join(s.dir, filename)); err != nil {
		return nil, fmt.Errorf("artifact not found")
	}

	return []byte("jpeg-bytes"), nil
}

type testEnv struct {
	srv   *httptest.Server
	index *cache.Index
	tr    *tracker.Tracker
	dir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := backends.NewMemory()
	if err := store.Init(nil); err != nil {
		t.Fatalf("init memory backend: %v", err)
	}

	dir := t.TempDir()
	tr := tracker.New()
	idx := cache.Load(context.Background(), store, dir)

	dl := downloader.New(downloader.Options{
		Dir:       dir,
		Tracker:   tr,
		Index:     idx,
		Extractor: stubFetcher{},
		Direct:    stubFetcher{},
	})

	s := New(Options{
		Downloader: dl,
		Tracker:    tr,
		Index:      idx,
		Store:      store,
		Prober:     stubProber{},
		Thumbs:     stubThumbs{dir: dir},
		Dir:        dir,
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, index: idx, tr: tr, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}

	data := new(bytes.Buffer)
	_, _ = data.ReadFrom(resp.Body)
	_ = resp.Body.Close()

	return resp, data.Bytes()
}

func (e *testEnv) waitCompleted(t *testing.T, taskID string) tracker.Task {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := e.tr.Get(taskID)
		if ok && task.Status.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("task %s never finished", taskID)

	return tracker.Task{}
}

func TestDownloadAndProgressFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/download", map[string]string{
		"url": "https://youtu.be/abc", "format": "best", "quality": "720",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /download status = %d, body %s", resp.StatusCode, body)
	}

	var submitted struct {
		TaskID  string `json:"task_id"`
		Cached  bool   `json:"cached"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &submitted); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if submitted.Cached {
		t.Error("first download reported cached")
	}
	if submitted.Message == "" {
		t.Error("response carries no message")
	}

	env.waitCompleted(t, submitted.TaskID)

	resp, body = env.do(t, http.MethodGet, "/progress/"+submitted.TaskID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /progress status = %d", resp.StatusCode)
	}

	var task tracker.Task
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Status != tracker.StatusCompleted || task.Progress != 100 {
		t.Errorf("task = %+v, want completed at 100", task)
	}

	// Resubmission must short-circuit on the cache.
	resp, body = env.do(t, http.MethodPost, "/download", map[string]string{
		"url": "https://youtu.be/abc/", "format": "best", "quality": "720",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second POST /download status = %d", resp.StatusCode)
	}

	var again struct {
		TaskID string `json:"task_id"`
		Cached bool   `json:"cached"`
	}
	_ = json.Unmarshal(body, &again)
	if !again.Cached || again.TaskID != submitted.TaskID {
		t.Errorf("second submit = %+v, want cached with original id %s", again, submitted.TaskID)
	}
}

func TestProgressUnknownTask(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/progress/nonesuch", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDownloadRejectsBadBody(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/download", strings.NewReader("{broken"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp2, _ := env.do(t, http.MethodPost, "/download", map[string]string{"url": ""})
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("blank url status = %d, want 400", resp2.StatusCode)
	}
}

func TestServeFileWithCacheHeaders(t *testing.T) {
	env := newTestEnv(t)

	content := []byte("artifact-bytes-for-serving")
	if err := os.WriteFile(filepath.Join(env.dir, "ab12_clip.mp4"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	resp, body := env.do(t, http.MethodGet, "/file/ab12_clip.mp4", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !bytes.Equal(body, content) {
		t.Error("served bytes differ from artifact")
	}
	if resp.Header.Get("ETag") == "" {
		t.Error("no ETag header")
	}
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "public") || !strings.Contains(cc, "max-age=") {
		t.Errorf("Cache-Control = %q", cc)
	}
	if ar := resp.Header.Get("Accept-Ranges"); ar != "bytes" {
		t.Errorf("Accept-Ranges = %q, want bytes", ar)
	}
}

func TestServeFileByteRange(t *testing.T) {
	env := newTestEnv(t)

	if err := os.WriteFile(filepath.Join(env.dir, "ab12_clip.mp4"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/file/ab12_clip.mp4", nil)
	req.Header.Set("Range", "bytes=2-5")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	if buf.String() != "2345" {
		t.Errorf("range body = %q, want 2345", buf.String())
	}
}

func TestServeFileMissingAndTraversal(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/file/nope.mp4", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/file/..%2Fsecret", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("traversal status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteFileLeavesCacheEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Complete a download so a cache entry exists.
	resp, body := env.do(t, http.MethodPost, "/download", map[string]string{
		"url": "https://youtu.be/abc", "format": "best", "quality": "720",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /download status = %d", resp.StatusCode)
	}

	var submitted struct {
		TaskID string `json:"task_id"`
	}
	_ = json.Unmarshal(body, &submitted)
	task := env.waitCompleted(t, submitted.TaskID)

	resp, _ = env.do(t, http.MethodDelete, "/file/"+task.Filename, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE /file status = %d", resp.StatusCode)
	}

	// The index must still hold the (now stale) entry.
	if len(env.index.List()) != 1 {
		t.Error("DELETE /file touched the cache index")
	}

	// The next lookup drops it lazily and a resubmission re-downloads.
	if _, ok := env.index.Lookup(ctx, "https://youtu.be/abc"); ok {
		t.Error("stale entry survived a lookup")
	}

	resp, body = env.do(t, http.MethodPost, "/download", map[string]string{
		"url": "https://youtu.be/abc", "format": "best", "quality": "720",
	})
	var again struct {
		TaskID string `json:"task_id"`
		Cached bool   `json:"cached"`
	}
	_ = json.Unmarshal(body, &again)
	if again.Cached {
		t.Error("resubmission after file deletion reported cached")
	}
	if again.TaskID == submitted.TaskID {
		t.Error("resubmission reused the old task id")
	}
	env.waitCompleted(t, again.TaskID)
}

func TestDeleteFileMissing(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodDelete, "/file/none.mp4", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListAndClearFiles(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"aa11_one.mp4", "bb22_two.mp3"} {
		if err := os.WriteFile(filepath.Join(env.dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Hidden entries stay out of listings.
	if err := os.MkdirAll(filepath.Join(env.dir, ".thumbs"), 0o750); err != nil {
		t.Fatal(err)
	}

	resp, body := env.do(t, http.MethodGet, "/files", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /files status = %d", resp.StatusCode)
	}

	var listing struct {
		Files []struct {
			Filename string `json:"filename"`
			Size     int64  `json:"size"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Files) != 2 {
		t.Fatalf("listed %d files, want 2: %s", len(listing.Files), body)
	}

	resp, _ = env.do(t, http.MethodDelete, "/files", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE /files status = %d", resp.StatusCode)
	}

	_, body = env.do(t, http.MethodGet, "/files", nil)
	_ = json.Unmarshal(body, &listing)
	if len(listing.Files) != 0 {
		t.Errorf("files remain after clear: %s", body)
	}
}

func TestCacheEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(env.dir, "cc33_v.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	env.index.Put(ctx, "https://example.com/v", cache.Entry{Filename: "cc33_v.mp4", TaskID: "cc33"})

	resp, body := env.do(t, http.MethodGet, "/cache", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /cache status = %d", resp.StatusCode)
	}

	var cacheList struct {
		Count   int                    `json:"count"`
		Entries map[string]cache.Entry `json:"entries"`
	}
	if err := json.Unmarshal(body, &cacheList); err != nil {
		t.Fatalf("decode cache listing: %v", err)
	}
	if cacheList.Count != 1 {
		t.Fatalf("cache count = %d, want 1", cacheList.Count)
	}

	var hash string
	for h := range cacheList.Entries {
		hash = h
	}

	resp, _ = env.do(t, http.MethodDelete, "/cache/"+hash, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE /cache/{hash} status = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodDelete, "/cache/"+hash, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second evict status = %d, want 404", resp.StatusCode)
	}

	// Eviction never deletes files.
	if _, err := os.Stat(filepath.Join(env.dir, "cc33_v.mp4")); err != nil {
		t.Errorf("artifact removed by cache eviction: %v", err)
	}

	env.index.Put(ctx, "https://example.com/v", cache.Entry{Filename: "cc33_v.mp4", TaskID: "cc33"})
	resp, _ = env.do(t, http.MethodDelete, "/cache", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE /cache status = %d", resp.StatusCode)
	}
	if env.index.Len() != 0 {
		t.Error("cache not cleared")
	}
	if _, err := os.Stat(filepath.Join(env.dir, "cc33_v.mp4")); err != nil {
		t.Errorf("artifact removed by cache clear: %v", err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var status struct {
		Status             string   `json:"status"`
		Service            string   `json:"service"`
		SupportedPlatforms []string `json:"supported_platforms"`
		YTDLPVersion       string   `json:"yt_dlp_version"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}

	if status.Status != "online" {
		t.Errorf("status = %q, want online", status.Status)
	}
	if len(status.SupportedPlatforms) == 0 {
		t.Error("no supported platforms listed")
	}
	if status.YTDLPVersion != "2025.08.01" {
		t.Errorf("yt_dlp_version = %q", status.YTDLPVersion)
	}
}

func TestInfoEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/info", map[string]string{"url": "https://youtu.be/abc"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var info fetch.MediaInfo
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Title != "Clip" || info.Platform != "youtube" {
		t.Errorf("info = %+v", info)
	}

	resp, _ = env.do(t, http.MethodPost, "/info", map[string]string{"url": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank url status = %d, want 400", resp.StatusCode)
	}
}

func TestThumbnailEndpoint(t *testing.T) {
	env := newTestEnv(t)

	if err := os.WriteFile(filepath.Join(env.dir, "dd44_pic.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, body := env.do(t, http.MethodGet, "/thumbnail/dd44_pic.png", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", ct)
	}
	if !bytes.Equal(body, []byte("jpeg-bytes")) {
		t.Error("unexpected preview bytes")
	}
}

func TestArchiveEndpoint(t *testing.T) {
	env := newTestEnv(t)

	if err := os.WriteFile(filepath.Join(env.dir, "ee55_clip.mp4"), []byte("archive-me"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, body := env.do(t, http.MethodPost, "/archive/ee55_clip.mp4", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var archived struct {
		Key string `json:"key"`
	}
	_ = json.Unmarshal(body, &archived)
	if archived.Key != "archive/ee55_clip.mp4" {
		t.Errorf("key = %q", archived.Key)
	}

	resp, _ = env.do(t, http.MethodPost, "/archive/none.mp4", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing artifact status = %d, want 404", resp.StatusCode)
	}
}
