package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"note-queue-service/internal/repository"
)

// Reaper fails jobs whose worker stopped reporting, so they re-enter the
// retry path instead of staying processing forever.
type Reaper struct {
	store      repository.JobStore
	staleAfter time.Duration
	interval   time.Duration
	batch      int
	autoRetry  bool
	now        func() time.Time
	log        zerolog.Logger
}

// NewReaper with autoRetry requeues reaped jobs that have retries left, the
// same way the processor treats handler failures.
func NewReaper(store repository.JobStore, staleAfter, interval time.Duration, autoRetry bool, log zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{
		store:      store,
		staleAfter: staleAfter,
		interval:   interval,
		batch:      100,
		autoRetry:  autoRetry,
		now:        time.Now,
		log:        log,
	}
}

func (r *Reaper) Run(ctx context.Context) {
	if r.staleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Msg("reap stale jobs")
			}
		}
	}
}

// Sweep reaps one batch and returns how many jobs were failed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	jobs, err := r.store.ReapStale(ctx, r.now().Add(-r.staleAfter), r.batch)
	for i := range jobs {
		j := &jobs[i]
		log := r.log.With().Str("job_id", j.ID.String()).Str("user_id", j.UserID).Logger()
		log.Warn().Msg("reaped stale job")
		if r.autoRetry {
			requeue(ctx, r.store, j, log)
		}
	}
	return len(jobs), err
}
