package tracker

import (
	"sync"
	"testing"
)

func TestRegisterAndGet(t *testing.T) {
	tr := New()
	tr.Register("abc123", "https://youtu.be/x")

	task, ok := tr.Get("abc123")
	if !ok {
		t.Fatal("expected task to exist")
	}

	if task.Status != StatusPending {
		t.Errorf("Status = %q, want pending", task.Status)
	}

	if task.Progress != 0 {
		t.Errorf("Progress = %v, want 0", task.Progress)
	}

	if _, ok := tr.Get("missing"); ok {
		t.Error("expected unknown id to report not found")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	tr := New()
	tr.Register("t1", "u")

	snap, _ := tr.Get("t1")
	snap.Progress = 50
	snap.Status = StatusError

	fresh, _ := tr.Get("t1")
	if fresh.Progress != 0 || fresh.Status != StatusPending {
		t.Error("mutating a snapshot leaked into tracker state")
	}
}

func TestProgressMonotonic(t *testing.T) {
	tr := New()
	tr.Register("t1", "u")

	tr.UpdateProgress("t1", 40, "1.2MB/s", "00:30")
	tr.UpdateProgress("t1", 70, "1.0MB/s", "00:10")
	// A fallback strategy restarting the transfer reports low percents again.
	tr.UpdateProgress("t1", 5, "800KB/s", "01:00")

	task, _ := tr.Get("t1")
	if task.Progress != 70 {
		t.Errorf("Progress = %v, want clamped at 70", task.Progress)
	}

	// Speed/ETA keep last-known values even when percent is clamped.
	if task.Speed != "800KB/s" || task.ETA != "01:00" {
		t.Errorf("Speed/ETA = %q/%q, want latest values", task.Speed, task.ETA)
	}
}

func TestProcessingPinsAt95(t *testing.T) {
	tr := New()
	tr.Register("t1", "u")

	tr.UpdateProgress("t1", 88, "", "")
	tr.SetProcessing("t1", "t1_video.mp4")

	task, _ := tr.Get("t1")
	if task.Status != StatusProcessing {
		t.Errorf("Status = %q, want processing", task.Status)
	}

	if task.Progress != 95 {
		t.Errorf("Progress = %v, want 95", task.Progress)
	}

	if task.Filename != "t1_video.mp4" {
		t.Errorf("Filename = %q", task.Filename)
	}

	// Late transfer events must not demote a processing task below 95.
	tr.UpdateProgress("t1", 10, "", "")
	task, _ = tr.Get("t1")
	if task.Progress < 95 {
		t.Errorf("Progress regressed to %v after processing", task.Progress)
	}
}

func TestCompleteAndFailAreTerminal(t *testing.T) {
	tr := New()
	tr.Register("ok", "u")
	tr.Register("bad", "u")

	tr.Complete("ok", "ok_video.mp4")
	task, _ := tr.Get("ok")
	if task.Status != StatusCompleted || task.Progress != 100 {
		t.Errorf("completed task = %+v", task)
	}

	tr.UpdateProgress("ok", 10, "", "")
	task, _ = tr.Get("ok")
	if task.Progress != 100 || task.Status != StatusCompleted {
		t.Error("terminal task mutated by late progress event")
	}

	tr.Fail("bad", "HTTP 403")
	task, _ = tr.Get("bad")
	if task.Status != StatusError || task.Error != "HTTP 403" {
		t.Errorf("failed task = %+v", task)
	}
}

func TestFailureListRetained(t *testing.T) {
	tr := New()
	tr.Register("t1", "u")

	tr.RecordFailure("t1", "strategy default: HTTP 403")
	tr.RecordFailure("t1", "strategy cookies-chrome: no cookies")
	tr.Fail("t1", "strategy cookies-chrome: no cookies")

	task, _ := tr.Get("t1")
	failures := task.Failures()
	if len(failures) != 2 {
		t.Fatalf("Failures() = %v, want 2 entries", failures)
	}

	if task.Error != failures[len(failures)-1] {
		t.Error("surfaced error should be the last recorded failure")
	}
}

func TestConcurrentReadersDoNotRace(t *testing.T) {
	tr := New()
	tr.Register("t1", "u")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				tr.Get("t1")
			}
		}()
	}

	for i := 0; i < 200; i++ {
		tr.UpdateProgress("t1", float64(i)/2, "1MB/s", "00:05")
	}

	wg.Wait()

	task, _ := tr.Get("t1")
	if task.Progress == 0 {
		t.Error("expected progress to advance")
	}
}
