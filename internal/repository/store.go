// Package repository defines the Job Store contract. Implementations live in
// the postgresql and sqlstore subpackages; repotest holds the conformance suite
// every implementation must pass.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"note-queue-service/internal/entity"
)

// JobStore is the single source of truth for jobs. Every method is atomic
// with respect to concurrent callers, including callers in other processes.
type JobStore interface {
	// Enqueue inserts a queued job and returns the stored record.
	Enqueue(ctx context.Context, nj entity.NewJob) (*entity.Job, error)
	// ClaimNext moves the first job in claim order to processing for workerID.
	// It returns (nil, nil) when nothing is queued, and entity.ErrConflict when
	// it kept losing races to other claimers.
	ClaimNext(ctx context.Context, workerID string) (*entity.Job, error)
	// UpdateProgress raises progress for a job held by workerID. Lower values
	// are ignored.
	UpdateProgress(ctx context.Context, id uuid.UUID, workerID string, progress int) (*entity.Job, error)
	Complete(ctx context.Context, id uuid.UUID, workerID string, out entity.Outcome) (*entity.Job, error)
	Cancel(ctx context.Context, id uuid.UUID, userID string) (*entity.Job, error)
	Retry(ctx context.Context, id uuid.UUID, userID string) (*entity.Job, error)

	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	List(ctx context.Context, f entity.ListFilter) ([]entity.Job, int64, error)
	// Stats aggregates over one user's jobs, or all jobs when userID is "".
	Stats(ctx context.Context, userID string) (*entity.Stats, error)
	// Position is the 1-based rank of a queued job in claim order.
	Position(ctx context.Context, id uuid.UUID) (int, error)
	// ReapStale fails processing jobs started before cutoff.
	ReapStale(ctx context.Context, cutoff time.Time, limit int) ([]entity.Job, error)
}

// MaxClaimAttempts bounds how many lost races ClaimNext absorbs before
// reporting entity.ErrConflict.
const MaxClaimAttempts = 8

// StaleMessage is recorded on jobs failed by ReapStale.
const StaleMessage = "worker lease expired"
