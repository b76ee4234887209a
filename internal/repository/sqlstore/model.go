package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"note-queue-service/internal/entity"
)

// jobRow is the gorm mapping of the jobs table. Seq is the insertion order
// tie-break for jobs created in the same instant.
type jobRow struct {
	Seq                      uint64     `gorm:"column:seq;primaryKey;autoIncrement"`
	ID                       string     `gorm:"column:id;size:36;uniqueIndex;not null"`
	UserID                   string     `gorm:"column:user_id;size:128;index;not null"`
	JobType                  string     `gorm:"column:job_type;size:32;not null"`
	Priority                 string     `gorm:"column:priority;size:16;not null"`
	PriorityRank             int        `gorm:"column:priority_rank;not null;index:idx_jobs_claim,priority:2"`
	Status                   string     `gorm:"column:status;size:16;not null;index:idx_jobs_claim,priority:1"`
	InputData                []byte     `gorm:"column:input_data"`
	OutputData               []byte     `gorm:"column:output_data"`
	ErrorMessage             *string    `gorm:"column:error_message;type:text"`
	Progress                 int        `gorm:"column:progress;not null;default:0"`
	RetryCount               int        `gorm:"column:retry_count;not null;default:0"`
	MaxRetries               int        `gorm:"column:max_retries;not null;default:0"`
	EstimatedDurationSeconds int        `gorm:"column:estimated_duration_seconds;not null;default:0"`
	ActualDurationSeconds    *int       `gorm:"column:actual_duration_seconds"`
	WorkerID                 *string    `gorm:"column:worker_id;size:128"`
	CreatedAt                time.Time  `gorm:"column:created_at;not null;index:idx_jobs_claim,priority:3"`
	StartedAt                *time.Time `gorm:"column:started_at"`
	CompletedAt              *time.Time `gorm:"column:completed_at"`
	UpdatedAt                time.Time  `gorm:"column:updated_at;not null"`
}

func (jobRow) TableName() string { return "jobs" }

func (r *jobRow) toEntity() (*entity.Job, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", r.ID, err)
	}
	j := &entity.Job{
		ID:                       id,
		UserID:                   r.UserID,
		Type:                     entity.JobType(r.JobType),
		Priority:                 entity.Priority(r.Priority),
		Status:                   entity.JobStatus(r.Status),
		Input:                    json.RawMessage(r.InputData),
		Error:                    r.ErrorMessage,
		Progress:                 r.Progress,
		RetryCount:               r.RetryCount,
		MaxRetries:               r.MaxRetries,
		EstimatedDurationSeconds: r.EstimatedDurationSeconds,
		ActualDurationSeconds:    r.ActualDurationSeconds,
		WorkerID:                 r.WorkerID,
		CreatedAt:                r.CreatedAt.UTC(),
		StartedAt:                utcPtr(r.StartedAt),
		CompletedAt:              utcPtr(r.CompletedAt),
		UpdatedAt:                r.UpdatedAt.UTC(),
	}
	if len(r.OutputData) > 0 {
		j.Output = json.RawMessage(r.OutputData)
	}
	return j, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
