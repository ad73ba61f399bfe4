// Package tracker maintains live progress snapshots for in-flight and
// completed download tasks.
package tracker

import (
	"sync"
	"time"
)

// Status enumerates the lifecycle states of a download task.
type Status string

const (
	// StatusPending means the task is registered but not yet running.
	StatusPending Status = "pending"

	// StatusDownloading means bytes are being transferred.
	StatusDownloading Status = "downloading"

	// StatusProcessing means the transfer finished but post-processing
	// (remuxing, audio conversion) may still be running.
	StatusProcessing Status = "processing"

	// StatusCompleted means the artifact exists on disk and is servable.
	StatusCompleted Status = "completed"

	// StatusError means every strategy failed; Error holds the last cause.
	StatusError Status = "error"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Task is a snapshot of one acquisition attempt. Progress runs 0-100 and is
// non-decreasing until the controlled processing(95) to completed(100) step.
// Speed and ETA are opaque display strings with last-known-value semantics.
type Task struct {
	ID        string    `json:"task_id"`
	URL       string    `json:"url"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	Speed     string    `json:"speed,omitempty"`
	ETA       string    `json:"eta,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// failures collects every per-strategy failure reason in ladder order.
	// Only the last one is surfaced through Error; the full list is kept
	// for diagnostics.
	failures []string
}

// Failures returns a copy of the per-strategy failure reasons recorded so
// far, in the order the ladder produced them.
func (t *Task) Failures() []string {
	out := make([]string, len(t.failures))
	copy(out, t.failures)

	return out
}

// Tracker is a process-scoped store of task snapshots. Each task id is only
// ever written by the one goroutine running that task; reads return copies
// so pollers never block or observe torn state.
//
// Tasks are never pruned. The service assumes periodic restarts; TTL-based
// cleanup is a deliberate non-feature for now.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		tasks: make(map[string]*Task),
	}
}

// Register creates a pending task for the given id and URL.
func (tr *Tracker) Register(id, url string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.tasks[id] = &Task{
		ID:        id,
		URL:       url,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Get returns a copy of the task for the given id, or false if unknown.
func (tr *Tracker) Get(id string) (Task, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	t, ok := tr.tasks[id]
	if !ok {
		return Task{}, false
	}

	snapshot := *t
	snapshot.failures = t.Failures()

	return snapshot, true
}

// Len returns the number of tracked tasks.
func (tr *Tracker) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	return len(tr.tasks)
}

// SetDownloading marks the task as actively transferring.
func (tr *Tracker) SetDownloading(id string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if t, ok := tr.tasks[id]; ok {
		t.Status = StatusDownloading
	}
}

// UpdateProgress records a transfer progress report. Percent regressions are
// clamped so a fallback strategy restarting the transfer never makes the
// reported progress move backwards.
func (tr *Tracker) UpdateProgress(id string, percent float64, speed, eta string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	t, ok := tr.tasks[id]
	if !ok || t.Status.Terminal() {
		return
	}

	t.Status = StatusDownloading
	if percent > t.Progress {
		t.Progress = percent
	}

	if speed != "" {
		t.Speed = speed
	}

	if eta != "" {
		t.ETA = eta
	}
}

// SetProcessing pins progress to 95 and marks the task as post-processing.
// Full completion is reserved for Complete, which requires the artifact to
// exist on disk.
func (tr *Tracker) SetProcessing(id, filename string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	t, ok := tr.tasks[id]
	if !ok || t.Status.Terminal() {
		return
	}

	t.Status = StatusProcessing
	if t.Progress < 95 {
		t.Progress = 95
	}

	if filename != "" {
		t.Filename = filename
	}
}

// RecordFailure appends a per-strategy failure reason for the task.
func (tr *Tracker) RecordFailure(id, reason string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if t, ok := tr.tasks[id]; ok {
		t.failures = append(t.failures, reason)
	}
}

// Complete marks the task terminal-successful with the final filename.
func (tr *Tracker) Complete(id, filename string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	t, ok := tr.tasks[id]
	if !ok {
		return
	}

	t.Status = StatusCompleted
	t.Progress = 100
	t.Filename = filename
	t.Error = ""
}

// Fail marks the task terminal-failed with the given message.
func (tr *Tracker) Fail(id, message string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	t, ok := tr.tasks[id]
	if !ok {
		return
	}

	t.Status = StatusError
	t.Error = message
}
