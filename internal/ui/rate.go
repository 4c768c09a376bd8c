package ui

import (
	"sync"
	"time"
)

// sampleEvery is the minimum spacing between rate samples.
const sampleEvery = 500 * time.Millisecond

// RateStats is a snapshot of record throughput.
type RateStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// BuildTracker accumulates build progress for the TUI. Safe for concurrent
// use.
type BuildTracker struct {
	mu sync.RWMutex

	stage    Stage
	records  int64
	skipped  int64
	root     string
	started  time.Time
	errors   int
	warnings int

	lastRecords int64
	lastSample  time.Time
	rate        RateStats
	samples     int
	spark       *Sparkline
}

// NewBuildTracker starts tracking now.
func NewBuildTracker() *BuildTracker {
	now := time.Now()
	return &BuildTracker{
		started:    now,
		lastSample: now,
		spark:      NewSparkline(60),
	}
}

// Update applies a progress event.
func (t *BuildTracker) Update(event ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateAt(event, time.Now())
}

func (t *BuildTracker) updateAt(event ProgressEvent, now time.Time) {
	t.stage = event.Stage
	t.records = event.Records
	t.skipped = event.Skipped
	if event.CurrentRoot != "" {
		t.root = event.CurrentRoot
	}

	elapsed := now.Sub(t.lastSample)
	if elapsed < sampleEvery {
		return
	}
	if delta := event.Records - t.lastRecords; delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		t.rate.Current = speed
		t.samples++
		if t.samples == 1 {
			t.rate.Avg = speed
		} else {
			t.rate.Avg = 0.2*speed + 0.8*t.rate.Avg
		}
		t.rate.Peak = max(t.rate.Peak, speed)
		t.spark.Add(speed)
	}
	t.lastRecords = event.Records
	t.lastSample = now
}

// AddError counts an error or warning.
func (t *BuildTracker) AddError(event ErrorEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if event.IsWarn {
		t.warnings++
	} else {
		t.errors++
	}
}

// BuildStats is a snapshot of a BuildTracker.
type BuildStats struct {
	Stage    Stage
	Records  int64
	Skipped  int64
	Root     string
	Elapsed  time.Duration
	Errors   int
	Warnings int
	Rate     RateStats
}

// Stats returns a snapshot.
func (t *BuildTracker) Stats() BuildStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return BuildStats{
		Stage:    t.stage,
		Records:  t.records,
		Skipped:  t.skipped,
		Root:     t.root,
		Elapsed:  time.Since(t.started),
		Errors:   t.errors,
		Warnings: t.warnings,
		Rate:     t.rate,
	}
}

// RenderSparkline draws recent throughput.
func (t *BuildTracker) RenderSparkline(width int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.spark.Render(width)
}
