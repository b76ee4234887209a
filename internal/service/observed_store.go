package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/feed"
	"note-queue-service/internal/repository"
)

// ObservedStore publishes a feed event after every successful mutation of the
// wrapped store. Publishing failures are logged and never fail the mutation;
// subscribers recover through their reconcile timers.
type ObservedStore struct {
	repository.JobStore
	pub feed.Publisher
	log zerolog.Logger
}

func NewObservedStore(inner repository.JobStore, pub feed.Publisher, log zerolog.Logger) *ObservedStore {
	if pub == nil {
		pub = feed.Nop
	}
	return &ObservedStore{JobStore: inner, pub: pub, log: log}
}

func (s *ObservedStore) emit(ctx context.Context, j *entity.Job, kind feed.Kind) {
	if j == nil {
		return
	}
	if err := s.pub.Publish(context.WithoutCancel(ctx), feed.FromJob(j, kind)); err != nil {
		s.log.Warn().Err(err).Str("job_id", j.ID.String()).Str("status", string(j.Status)).Msg("publish job event")
	}
}

func (s *ObservedStore) Enqueue(ctx context.Context, nj entity.NewJob) (*entity.Job, error) {
	j, err := s.JobStore.Enqueue(ctx, nj)
	if err == nil {
		s.emit(ctx, j, feed.KindStatus)
	}
	return j, err
}

func (s *ObservedStore) ClaimNext(ctx context.Context, workerID string) (*entity.Job, error) {
	j, err := s.JobStore.ClaimNext(ctx, workerID)
	if err == nil {
		s.emit(ctx, j, feed.KindStatus)
	}
	return j, err
}

func (s *ObservedStore) UpdateProgress(ctx context.Context, id uuid.UUID, workerID string, progress int) (*entity.Job, error) {
	j, err := s.JobStore.UpdateProgress(ctx, id, workerID, progress)
	if err == nil {
		s.emit(ctx, j, feed.KindProgress)
	}
	return j, err
}

func (s *ObservedStore) Complete(ctx context.Context, id uuid.UUID, workerID string, out entity.Outcome) (*entity.Job, error) {
	j, err := s.JobStore.Complete(ctx, id, workerID, out)
	if err == nil {
		s.emit(ctx, j, feed.KindStatus)
	}
	return j, err
}

func (s *ObservedStore) Cancel(ctx context.Context, id uuid.UUID, userID string) (*entity.Job, error) {
	j, err := s.JobStore.Cancel(ctx, id, userID)
	if err == nil {
		s.emit(ctx, j, feed.KindStatus)
	}
	return j, err
}

func (s *ObservedStore) Retry(ctx context.Context, id uuid.UUID, userID string) (*entity.Job, error) {
	j, err := s.JobStore.Retry(ctx, id, userID)
	if err == nil {
		s.emit(ctx, j, feed.KindStatus)
	}
	return j, err
}

func (s *ObservedStore) ReapStale(ctx context.Context, cutoff time.Time, limit int) ([]entity.Job, error) {
	jobs, err := s.JobStore.ReapStale(ctx, cutoff, limit)
	for i := range jobs {
		s.emit(ctx, &jobs[i], feed.KindStatus)
	}
	return jobs, err
}
