// Package sched provides the two scheduled-task shapes the core runs on: a
// fixed-period task (the tracker's prediction tick) and a frame-synchronized
// loop (the camera's per-frame update). Both guarantee that Stop is safe to
// call at any time — including from inside the task's own callback — and that
// no callback begins after Stop returns.
package sched

import (
	"sync"
	"time"
)

// IntervalTask runs a callback at a fixed period on its own goroutine.
// Zero value is ready to use. Start/Stop may be called repeatedly.
type IntervalTask struct {
	mu      sync.Mutex
	stopped bool
	ticker  *time.Ticker
	gen     uint64
}

// Start begins invoking fn every interval. If the task is already running it
// is stopped first. fn runs on the task goroutine; invocations never overlap.
func (t *IntervalTask) Start(interval time.Duration, fn func(now time.Time)) {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.stopped = false
	if t.ticker != nil {
		t.ticker.Stop()
	}
	ticker := time.NewTicker(interval)
	t.ticker = ticker
	t.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for now := range ticker.C {
			// The stopped/generation check happens immediately before each
			// invocation, so Stop (or a restart) synchronously prevents any
			// further callback from beginning.
			t.mu.Lock()
			if t.stopped || t.gen != gen {
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()

			fn(now)
		}
	}()
}

// Stop prevents any further callbacks. Idempotent; safe from within the
// task's own callback (the in-flight invocation completes, no new one
// begins).
func (t *IntervalTask) Stop() {
	t.mu.Lock()
	t.stopped = true
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
	t.mu.Unlock()
}

// Running reports whether the task is currently started.
func (t *IntervalTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && t.ticker != nil
}

// FrameLoop drives a per-frame callback. It can run self-timed at a fixed
// frame rate, or be driven externally by the host's render loop through
// Step — both paths invoke the same callback, so tests and host-driven
// embedders get identical behavior.
type FrameLoop struct {
	mu   sync.Mutex
	fn   func(now time.Time)
	task IntervalTask
}

// Bind sets the per-frame callback. Must be called before Start or Step.
func (l *FrameLoop) Bind(fn func(now time.Time)) {
	l.mu.Lock()
	l.fn = fn
	l.mu.Unlock()
}

// Start runs the loop self-timed at the given frame rate.
func (l *FrameLoop) Start(fps int) {
	if fps <= 0 {
		fps = 60
	}
	l.task.Start(time.Second/time.Duration(fps), l.Step)
}

// Step invokes one frame at the given instant. No-op if no callback is bound.
func (l *FrameLoop) Step(now time.Time) {
	l.mu.Lock()
	fn := l.fn
	l.mu.Unlock()
	if fn != nil {
		fn(now)
	}
}

// Stop halts a self-timed loop. Safe from within the frame callback and
// idempotent; externally-driven Step calls after Stop still work, since the
// host owns that cadence.
func (l *FrameLoop) Stop() {
	l.task.Stop()
}
