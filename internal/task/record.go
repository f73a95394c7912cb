package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is the persisted identity and state of one transcription job.
type Record struct {
	ID            string  `json:"task_id"`
	SourceRef     string  `json:"url"`
	ModelSelector string  `json:"model_name"`
	Options       Options `json:"options"`

	Status       Status  `json:"status"`
	Progress     float64 `json:"progress"`
	Stage        string  `json:"current_stage"`
	ErrorMessage string  `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	MediaArtifactRef  string `json:"audio_file_path,omitempty"`
	ResultArtifactRef string `json:"result_file_path,omitempty"`

	Title         string  `json:"title,omitempty"`
	MediaDuration float64 `json:"duration,omitempty"`
	ResultBytes   int64   `json:"file_size,omitempty"`
	ResultURL     string  `json:"result_url,omitempty"`
	Language      string  `json:"language,omitempty"`
}

// NewID generates a task identifier: task_20250123_143022_1a2b3c4d.
func NewID(now time.Time) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("task_%s_%s", now.Format("20060102_150405"), short)
}

// New creates a pending record with a fresh ID.
func New(sourceRef, modelSelector string, opts Options) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:            NewID(now),
		SourceRef:     strings.TrimSpace(sourceRef),
		ModelSelector: strings.TrimSpace(modelSelector),
		Options:       opts.Clone(),
		Status:        StatusPending,
		Stage:         "queued",
		Title:         opts.Get(OptTitle),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Options = r.Options.Clone()
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Transition moves the record to status and maintains the lifecycle
// timestamps. It rejects edges the state machine does not allow.
func (r *Record) Transition(to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	if r.StartedAt == nil {
		t := now
		r.StartedAt = &t
	}
	if to.IsTerminal() {
		t := now
		r.CompletedAt = &t
	}
	return nil
}

// SetProgress raises progress to percent. Lower values are ignored so
// progress never moves backwards within a run.
func (r *Record) SetProgress(percent float64) bool {
	if percent > 100 {
		percent = 100
	}
	if percent <= r.Progress {
		return false
	}
	r.Progress = percent
	return true
}

// ProcessingTime is the wall time between the first claim and the terminal
// transition. Zero when the task has not finished.
func (r *Record) ProcessingTime() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// DisplayName is the title when known, otherwise the source reference.
func (r *Record) DisplayName() string {
	if r.Title != "" {
		return r.Title
	}
	return r.SourceRef
}

// Filter narrows TaskStore.List results.
type Filter struct {
	Statuses []Status
	Search   string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
	// Ascending orders by creation time oldest first; default is newest first.
	Ascending bool
}

// Media describes a fetched media artifact.
type Media struct {
	Ref      string
	Title    string
	Duration float64
}

// Transcript describes a produced transcription result.
type Transcript struct {
	Ref      string
	Bytes    int64
	Duration float64
	Language string
	URL      string
}

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult is the engine output written to the result artifact.
type TranscriptionResult struct {
	TaskID      string
	Title       string
	SourceRef   string
	Model       string
	Text        string
	Language    string
	Duration    float64
	Segments    []Segment
	WordCount   int
	ProcessedAt time.Time
	Simulated   bool
}
