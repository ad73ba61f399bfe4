// Package downloader orchestrates acquisitions: it consults the cache,
// builds the per-platform strategy ladder, and runs it against the fetch
// tools in a background goroutine while progress flows to the tracker.
package downloader

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/socdl/socdl/internal/cache"
	"github.com/socdl/socdl/internal/diskspace"
	"github.com/socdl/socdl/internal/fetch"
	"github.com/socdl/socdl/internal/platform"
	"github.com/socdl/socdl/internal/strategy"
	"github.com/socdl/socdl/internal/tracker"
	"github.com/socdl/socdl/pkg/errors"
	"github.com/socdl/socdl/pkg/events"
)

// Downloader runs the URL-to-file pipeline. Construct with New; the zero
// value is not usable.
type Downloader struct {
	dir     string
	minFree uint64

	tracker *tracker.Tracker
	index   *cache.Index
	emitter *events.Emitter

	// extractor handles platform media; direct handles the raw byte
	// fallback on the generic ladder.
	extractor fetch.Fetcher
	direct    fetch.Fetcher
}

// Options configures a Downloader.
type Options struct {
	// Dir is the flat artifact directory. Required.
	Dir string

	// MinFreeBytes refuses new submissions when the artifact filesystem
	// has less available space. Zero disables the check.
	MinFreeBytes uint64

	Tracker *tracker.Tracker
	Index   *cache.Index
	Emitter *events.Emitter

	// Extractor and Direct default to the yt-dlp client and the HTTP/FTP
	// fetcher. Overridable for tests.
	Extractor fetch.Fetcher
	Direct    fetch.Fetcher
}

// New creates a Downloader.
func New(opts Options) *Downloader {
	if opts.Extractor == nil {
		opts.Extractor = fetch.NewYTDLP()
	}
	if opts.Direct == nil {
		opts.Direct = fetch.NewDirect()
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NewEmitter()
	}

	return &Downloader{
		dir:       opts.Dir,
		minFree:   opts.MinFreeBytes,
		tracker:   opts.Tracker,
		index:     opts.Index,
		emitter:   opts.Emitter,
		extractor: opts.Extractor,
		direct:    opts.Direct,
	}
}

// Result is the synchronous answer to a submission.
type Result struct {
	TaskID   string `json:"task_id"`
	Cached   bool   `json:"cached"`
	Filename string `json:"filename,omitempty"`
}

// Submit starts an acquisition for url. On a cache hit whose file still
// exists it returns synchronously with Cached set and the owning task id; on
// a miss it registers a pending task, schedules the background run, and
// returns immediately. Submit never blocks on network I/O.
func (d *Downloader) Submit(ctx context.Context, url, format, quality string) (Result, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Result{}, errors.New(errors.CodeInvalidURL, "url is required")
	}

	if entry, ok := d.index.Lookup(ctx, url); ok {
		d.emitter.Emit(events.Event{
			Type:   events.EventCacheHit,
			TaskID: entry.TaskID,
			URL:    url,
			Data:   map[string]any{"filename": entry.Filename},
		})

		return Result{TaskID: entry.TaskID, Cached: true, Filename: entry.Filename}, nil
	}

	d.emitter.Emit(events.Event{Type: events.EventCacheMiss, URL: url})

	if err := diskspace.Check(d.dir, d.minFree); err != nil {
		return Result{}, err
	}

	taskID := newTaskID()
	d.tracker.Register(taskID, url)
	d.emitter.Emit(events.Event{Type: events.EventTaskSubmitted, TaskID: taskID, URL: url})

	go d.run(taskID, url, format, quality)

	return Result{TaskID: taskID, Cached: false}, nil
}

// newTaskID returns the 8-character task identifier used as artifact prefix.
func newTaskID() string {
	return uuid.NewString()[:8]
}

// run executes the strategy ladder for one task. It owns all mutations of
// the task's tracker entry. Once scheduled a task runs to completion or
// exhaustion; there is no cancellation path.
func (d *Downloader) run(taskID, url, format, quality string) {
	ctx := context.Background()

	tag := platform.Classify(url)
	ladder := strategy.Build(tag, strategy.ParseFormat(format), quality)

	d.tracker.SetDownloading(taskID)
	d.emitter.Emit(events.Event{
		Type:   events.EventTaskStarted,
		TaskID: taskID,
		URL:    url,
		Data:   map[string]any{"platform": string(tag), "strategies": len(ladder)},
	})

	progress := func(e fetch.ProgressEvent) {
		switch e.Status {
		case fetch.StatusFinished:
			d.tracker.SetProcessing(taskID, "")
		default:
			d.tracker.UpdateProgress(taskID, e.Percent(), e.Speed, e.ETA)
		}
	}

	var lastFailure string

	for _, strat := range ladder {
		d.emitter.Emit(events.Event{
			Type:   events.EventStrategyAttempt,
			TaskID: taskID,
			URL:    url,
			Data:   map[string]any{"strategy": strat.Name},
		})

		fetcher := d.extractor
		if strat.Direct {
			fetcher = d.direct
		}

		err := fetcher.Fetch(ctx, url, strat, d.dir, taskID, progress)
		if err == nil {
			filename, found := findOutput(d.dir, taskID)
			if found {
				d.finish(ctx, taskID, url, tag, strat.Name, filename)
				return
			}

			// The tool reported success but produced nothing we can
			// serve. Treat as a failed attempt and keep climbing.
			err = errors.WrapStrategy(errors.ErrOutputMissing, strat.Name, url)
		}

		lastFailure = err.Error()
		d.tracker.RecordFailure(taskID, lastFailure)
		d.emitter.Emit(events.Event{
			Type:   events.EventStrategyFailed,
			TaskID: taskID,
			URL:    url,
			Data:   map[string]any{"strategy": strat.Name, "error": lastFailure},
		})
		log.Printf("task %s: strategy %s failed: %v", taskID, strat.Name, err)
	}

	if lastFailure == "" {
		lastFailure = errors.ErrAllStrategiesFailed.Error()
	}

	d.tracker.Fail(taskID, lastFailure)
	d.emitter.Emit(events.Event{
		Type:   events.EventTaskFailed,
		TaskID: taskID,
		URL:    url,
		Data:   map[string]any{"error": lastFailure},
	})
}

// finish records the cache entry and marks the task complete. Completion
// only ever happens here, after the artifact was confirmed on disk.
func (d *Downloader) finish(ctx context.Context, taskID, url string, tag platform.Tag, strategyName, filename string) {
	d.index.Put(ctx, url, cache.Entry{
		URL:       url,
		Filename:  filename,
		Platform:  tag,
		TaskID:    taskID,
		CreatedAt: time.Now().UTC(),
	})

	d.tracker.Complete(taskID, filename)
	d.emitter.Emit(events.Event{
		Type:   events.EventStrategySucceeded,
		TaskID: taskID,
		URL:    url,
		Data:   map[string]any{"strategy": strategyName},
	})
	d.emitter.Emit(events.Event{
		Type:   events.EventTaskCompleted,
		TaskID: taskID,
		URL:    url,
		Data:   map[string]any{"filename": filename},
	})
}

// findOutput locates the artifact a fetch produced by its task-id prefix,
// skipping in-flight partial files.
func findOutput(dir, taskID string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	prefix := taskID + "_"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}

		return name, true
	}

	return "", false
}

// Status summarizes the pipeline for the health endpoint.
type Status struct {
	ActiveTasks  int      `json:"active_tasks"`
	CacheEntries int      `json:"cache_entries"`
	Platforms    []string `json:"supported_platforms"`
}

// Describe reports current pipeline state.
func (d *Downloader) Describe() Status {
	tags := platform.Known()
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = string(t)
	}

	return Status{
		ActiveTasks:  d.tracker.Len(),
		CacheEntries: d.index.Len(),
		Platforms:    names,
	}
}

// String describes the downloader for logs.
func (d *Downloader) String() string {
	return fmt.Sprintf("downloader(dir=%s)", d.dir)
}
