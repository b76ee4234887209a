// Package facade turns the asynchronous queue into a blocking call: enqueue a
// job, let a worker slot run the caller's function, and hand back its result.
//
// Requests are serialized through the bounded worker pool on purpose, so an
// expensive generation never runs outside the admission limit.
package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/feed"
	"note-queue-service/internal/service"
	"note-queue-service/internal/worker"
)

const DefaultReconcileInterval = 2 * time.Second

type Facade struct {
	jobs      *service.JobService
	inline    *worker.Registry
	autoRetry bool
	reconcile time.Duration
	log       zerolog.Logger
}

type Option func(*Facade)

// WithReconcileInterval sets how often the job is re-read in case a feed
// event was missed.
func WithReconcileInterval(d time.Duration) Option {
	return func(f *Facade) { f.reconcile = d }
}

// WithAutoRetry must match the processor setting: failed jobs that will be
// requeued are then not treated as final.
func WithAutoRetry(on bool) Option {
	return func(f *Facade) { f.autoRetry = on }
}

func New(jobs *service.JobService, inline *worker.Registry, log zerolog.Logger, opts ...Option) *Facade {
	f := &Facade{jobs: jobs, inline: inline, reconcile: DefaultReconcileInterval, log: log}
	for _, o := range opts {
		o(f)
	}
	return f
}

type Request struct {
	UserID string
	// Tier is looked up when empty.
	Tier  entity.Tier
	Input entity.Input
}

// QueueRequest enqueues req and blocks until the job reaches a final state.
// work runs inside a worker slot and its result is stored as the job output.
// A nil work runs the registered handler for the job type instead.
//
// When ctx ends first the job is cancelled if it is still queued, and ctx's
// error is returned. A failed job surfaces as *entity.HandlerError.
func QueueRequest[T any](ctx context.Context, f *Facade, req Request, work func(ctx context.Context, in entity.Input, progress worker.ProgressFunc) (T, error)) (T, error) {
	var zero T

	sub, err := f.jobs.Subscribe(req.UserID)
	if err != nil {
		return zero, err
	}
	defer sub.Close()

	id := uuid.New()
	if work != nil {
		f.inline.Bind(id, worker.HandlerFunc(func(ctx context.Context, _ *entity.Job, in entity.Input, progress worker.ProgressFunc) (any, error) {
			return work(ctx, in, progress)
		}))
		defer f.inline.Unbind(id)
	}

	if _, err := f.jobs.Enqueue(ctx, service.EnqueueRequest{
		JobID:  id,
		UserID: req.UserID,
		Tier:   req.Tier,
		Input:  req.Input,
	}); err != nil {
		return zero, err
	}

	ticker := time.NewTicker(f.reconcile)
	defer ticker.Stop()

	events := sub.C()
	for {
		select {
		case <-ctx.Done():
			f.abandon(id, req.UserID)
			return zero, ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Kind != feed.KindResync && (ev.JobID != id || !ev.Status.Terminal()) {
				continue
			}

		case <-ticker.C:
		}

		j, err := f.jobs.GetJob(ctx, id, req.UserID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return zero, err
		}
		if res, done, err := settle[T](j, f.autoRetry); done {
			return res, err
		}
	}
}

// settle decides whether j is final for the caller and extracts the result.
func settle[T any](j *entity.Job, autoRetry bool) (T, bool, error) {
	var zero T
	switch j.Status {
	case entity.StatusCompleted:
		var out T
		if len(j.Output) > 0 {
			if err := json.Unmarshal(j.Output, &out); err != nil {
				return zero, true, fmt.Errorf("decode job %s output: %w", j.ID, err)
			}
		}
		return out, true, nil
	case entity.StatusFailed:
		if autoRetry && j.CanRetry() {
			return zero, false, nil
		}
		return zero, true, &entity.HandlerError{
			JobID:     j.ID,
			Message:   j.ErrorText(),
			Exhausted: j.RetryCount >= j.MaxRetries,
		}
	case entity.StatusCancelled:
		return zero, true, fmt.Errorf("%w: job %s was cancelled", entity.ErrInvalidState, j.ID)
	}
	return zero, false, nil
}

// abandon cancels a job its caller stopped waiting for. A job that is already
// processing runs to completion.
func (f *Facade) abandon(id uuid.UUID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := f.jobs.Cancel(ctx, id, userID); err != nil {
		f.log.Debug().Err(err).Str("job_id", id.String()).Msg("abandoned job not cancelled")
		return
	}
	f.log.Info().Str("job_id", id.String()).Msg("abandoned job cancelled")
}
