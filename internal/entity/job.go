package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []JobStatus{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible without a retry.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type JobType string

const (
	JobTypeTextNotes    JobType = "text_notes"
	JobTypeFileNotes    JobType = "file_notes"
	JobTypeVideoNotes   JobType = "video_notes"
	JobTypeYouTubeNotes JobType = "youtube_notes"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeTextNotes, JobTypeFileNotes, JobTypeVideoNotes, JobTypeYouTubeNotes:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Tier is a subscription plan as reported by the billing side.
type Tier string

const (
	TierFree    Tier = "free"
	TierStudent Tier = "student"
	TierPro     Tier = "pro"
)

func (t Tier) Valid() bool {
	return t == TierFree || t == TierStudent || t == TierPro
}

type Job struct {
	ID                       uuid.UUID       `json:"id"`
	UserID                   string          `json:"user_id"`
	Type                     JobType         `json:"job_type"`
	Priority                 Priority        `json:"priority"`
	Status                   JobStatus       `json:"status"`
	Input                    json.RawMessage `json:"input_data"`
	Output                   json.RawMessage `json:"output_data,omitempty"`
	Error                    *string         `json:"error_message,omitempty"`
	Progress                 int             `json:"progress"`
	RetryCount               int             `json:"retry_count"`
	MaxRetries               int             `json:"max_retries"`
	EstimatedDurationSeconds int             `json:"estimated_duration_seconds"`
	ActualDurationSeconds    *int            `json:"actual_duration_seconds,omitempty"`
	WorkerID                 *string         `json:"worker_id,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	StartedAt                *time.Time      `json:"started_at,omitempty"`
	CompletedAt              *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// CanRetry reports whether the retry transition is currently legal.
func (j *Job) CanRetry() bool {
	return j.Status == StatusFailed && j.RetryCount < j.MaxRetries
}

// ErrorText returns the recorded failure message or "".
func (j *Job) ErrorText() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// NewJob is the enqueue request understood by every store backend.
type NewJob struct {
	ID                       uuid.UUID
	UserID                   string
	Type                     JobType
	Priority                 Priority
	Input                    json.RawMessage
	MaxRetries               int
	EstimatedDurationSeconds int
}

// Outcome is what a worker reports back for a claimed job.
type Outcome struct {
	Success bool
	Output  json.RawMessage
	Error   string
}

type ListFilter struct {
	UserID string
	Status JobStatus
	Page   int
	Limit  int
}

// Normalize applies paging defaults: page is 1-based, limit in [1,100].
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return f
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type Stats struct {
	CountsByStatus           map[JobStatus]int64 `json:"counts_by_status"`
	AvgDurationSeconds       float64             `json:"avg_duration_seconds"`
	QueuedEstimatedSeconds   int64               `json:"-"`
	EstimatedWaitTimeSeconds float64             `json:"estimated_wait_time_seconds"`
}

// NewStats returns Stats with a zero count for every status.
func NewStats() *Stats {
	counts := make(map[JobStatus]int64, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}
	return &Stats{CountsByStatus: counts}
}
