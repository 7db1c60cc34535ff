package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// ProgressSnapshot mirrors the most recent ffmpeg progress interval of
// a processing task. Zero values mean the field was absent (or N/A) in
// that interval.
type ProgressSnapshot struct {
	Frame      uint64  `json:"frame"`
	FPS        float64 `json:"fps"`
	TotalSize  uint64  `json:"totalSize"`
	OutTimeSec float64 `json:"outTimeSeconds"`
	DupFrames  uint64  `json:"dupFrames"`
	DropFrames uint64  `json:"dropFrames"`
	Speed      float64 `json:"speed"`
	Done       bool    `json:"done"`
}

// Task is a single transcode job. The identity fields are set once at
// submission and never change; everything the worker mutates afterwards
// lives behind mu, because API goroutines marshal tasks while they are
// still processing.
type Task struct {
	ID         string
	InputMedia string
	OutputArgs string // Raw output options, parsed by the runner
	OutputExt  string
	CreatedAt  time.Time

	mu          sync.Mutex
	status      Status
	inputPath   string // Path to local temp input file
	outputPath  string
	downloadURL string
	errMsg      string
	startedAt   time.Time
	completedAt time.Time
	ffmpegLog   string // Stderr from ffmpeg
	progress    *ProgressSnapshot
	cancelFunc  context.CancelFunc
}

// Status returns the task's current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetInputPath records where the staged input file lives.
func (t *Task) SetInputPath(path string) {
	t.mu.Lock()
	t.inputPath = path
	t.mu.Unlock()
}

// InputPath returns the staged input file path.
func (t *Task) InputPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputPath
}

// SetOutputPath records (or clears) the task's output file path.
func (t *Task) SetOutputPath(path string) {
	t.mu.Lock()
	t.outputPath = path
	t.mu.Unlock()
}

// OutputPath returns the task's output file path, if any.
func (t *Task) OutputPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outputPath
}

// SetDownloadURL records the public URL for the task's output file.
func (t *Task) SetDownloadURL(url string) {
	t.mu.Lock()
	t.downloadURL = url
	t.mu.Unlock()
}

// ErrorMessage returns the failure description, empty on success.
func (t *Task) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

// FFmpegLog returns the captured ffmpeg stderr output.
func (t *Task) FFmpegLog() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ffmpegLog
}

// UpdateProgress records the latest interval. Called by the runner
// while the task is processing.
func (t *Task) UpdateProgress(p ProgressSnapshot) {
	t.mu.Lock()
	t.progress = &p
	t.mu.Unlock()
}

// Progress returns the most recent snapshot, or nil if none has
// arrived yet.
func (t *Task) Progress() *ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// beginProcessing stores the cancellation handle and moves the task to
// processing. It reports false if the task was canceled while queued,
// in which case the state is left untouched.
func (t *Task) beginProcessing(cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelFunc = cancel
	if t.status == StatusCanceled {
		return false
	}
	t.status = StatusProcessing
	t.startedAt = time.Now()
	return true
}

// complete records the terminal state, failure message, and captured
// ffmpeg log in one step.
func (t *Task) complete(status Status, errMsg, logOutput string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ffmpegLog = logOutput
	t.status = status
	t.errMsg = errMsg
	t.completedAt = time.Now()
}

// requestCancel cancels the task, returning the state it was in when
// the request arrived. A queued task is marked canceled directly; a
// processing task has its context canceled and reaches its terminal
// state through the worker.
func (t *Task) requestCancel() (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return t.status, fmt.Errorf("cannot cancel task in state: %s", t.status)
	case StatusQueued:
		t.status = StatusCanceled
		t.errMsg = "Canceled by user while in queue"
		return StatusQueued, nil
	default:
		if t.cancelFunc == nil {
			return t.status, fmt.Errorf("task %s is processing but has no cancellation handle", t.ID)
		}
		t.cancelFunc()
		return StatusProcessing, nil
	}
}

// expiredOutput reports the output path of a completed task whose
// local file has outlived its configured lifetime.
func (t *Task) expiredOutput(lifetime time.Duration) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusCompleted && t.outputPath != "" && time.Since(t.completedAt) > lifetime {
		return t.outputPath, true
	}
	return "", false
}

// taskView is the wire form of a task. Marshaling goes through a copy
// taken under the task's lock so API responses never observe a
// half-written update from the worker.
type taskView struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	OutputPath  string            `json:"outputPath,omitempty"`
	DownloadURL string            `json:"downloadUrl,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   time.Time         `json:"startedAt,omitempty"`
	CompletedAt time.Time         `json:"completedAt,omitempty"`
	FFmpegLog   string            `json:"ffmpegLog,omitempty"`
	Progress    *ProgressSnapshot `json:"progress,omitempty"`
}

func (t *Task) MarshalJSON() ([]byte, error) {
	t.mu.Lock()
	view := taskView{
		ID:          t.ID,
		Status:      t.status,
		OutputPath:  t.outputPath,
		DownloadURL: t.downloadURL,
		Error:       t.errMsg,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.startedAt,
		CompletedAt: t.completedAt,
		FFmpegLog:   t.ffmpegLog,
		Progress:    t.progress,
	}
	t.mu.Unlock()
	return json.Marshal(view)
}
