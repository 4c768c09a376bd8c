// Package async runs index builds in the background and tracks their
// progress for polling callers.
package async

import (
	"sync"
	"time"
)

// Status is the overall state of a build.
type Status string

const (
	// StatusBuilding indicates a build is running.
	StatusBuilding Status = "building"
	// StatusDone indicates the build finished and was adopted.
	StatusDone Status = "done"
	// StatusFailed indicates the build failed.
	StatusFailed Status = "failed"
)

// Stage is the step a running build is in.
type Stage string

const (
	StageCrawling   Stage = "crawling"
	StageCommitting Stage = "committing"
	StageVerifying  Stage = "verifying"
	StageSwapping   Stage = "swapping"
)

// ProgressSnapshot is an immutable copy of build progress.
type ProgressSnapshot struct {
	Status         string `json:"status"`
	Stage          string `json:"stage"`
	GenerationID   string `json:"generation_id,omitempty"`
	CurrentRoot    string `json:"current_root,omitempty"`
	Records        int64  `json:"records"`
	Skipped        int64  `json:"skipped"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Progress is thread-safe build progress.
type Progress struct {
	mu sync.RWMutex

	status       Status
	stage        Stage
	generationID string
	currentRoot  string
	records      int64
	skipped      int64
	startTime    time.Time
	finishTime   time.Time
	errorMessage string
}

// NewProgress returns progress for a build that starts now.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusBuilding,
		stage:     StageCrawling,
		startTime: time.Now(),
	}
}

// SetStage moves the build to stage.
func (p *Progress) SetStage(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
}

// SetGeneration records the generation being built.
func (p *Progress) SetGeneration(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generationID = id
}

// UpdateCrawl records crawl counters.
func (p *Progress) UpdateCrawl(root string, records, skipped int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentRoot = root
	p.records = records
	p.skipped = skipped
}

// SetError marks the build failed.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusFailed
	p.errorMessage = message
	p.finishTime = time.Now()
}

// SetDone marks the build finished.
func (p *Progress) SetDone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusDone
	p.finishTime = time.Now()
}

// IsBuilding reports whether the build is still running.
func (p *Progress) IsBuilding() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == StatusBuilding
}

// Snapshot returns a copy of the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	end := p.finishTime
	if end.IsZero() {
		end = time.Now()
	}
	return ProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		GenerationID:   p.generationID,
		CurrentRoot:    p.currentRoot,
		Records:        p.records,
		Skipped:        p.skipped,
		ElapsedSeconds: int(end.Sub(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
