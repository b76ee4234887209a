package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/repository"
	"note-queue-service/internal/service"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Pool runs a fixed number of slots. Each slot claims a job from the store,
// processes it and claims again; the store is the only coordination between
// slots and between processes.
type Pool struct {
	store     repository.JobStore
	processor *Processor
	bell      service.Doorbell
	workers   int
	idleDelay time.Duration
	instance  string
	log       zerolog.Logger
}

func NewPool(store repository.JobStore, processor *Processor, bell service.Doorbell, workers int, idleDelay time.Duration, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if idleDelay <= 0 {
		idleDelay = 5 * time.Second
	}
	if bell == nil {
		bell = service.NewLocalDoorbell()
	}
	return &Pool{
		store:     store,
		processor: processor,
		bell:      bell,
		workers:   workers,
		idleDelay: idleDelay,
		instance:  ulid.Make().String(),
		log:       log,
	}
}

// Run blocks until ctx is done and every slot has finished its current job.
// Jobs in flight at shutdown run to completion.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Str("instance", p.instance).Msg("worker pool started")

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.slot(ctx, fmt.Sprintf("%s-%d", p.instance, n))
		}(i + 1)
	}
	wg.Wait()

	p.log.Info().Msg("worker pool stopped")
}

func (p *Pool) slot(ctx context.Context, workerID string) {
	log := p.log.With().Str("worker_id", workerID).Logger()
	var backoff time.Duration

	for ctx.Err() == nil {
		job, err := p.store.ClaimNext(ctx, workerID)
		switch {
		case errors.Is(err, entity.ErrConflict):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			backoff = nextBackoff(backoff)
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("claim failed")
			sleep(ctx, backoff)
			continue
		}
		backoff = 0

		if job == nil {
			if _, err := p.bell.Wait(ctx, p.idleDelay); err != nil {
				log.Debug().Err(err).Msg("doorbell wait")
				sleep(ctx, p.idleDelay)
			}
			continue
		}

		if err := p.processor.Process(context.WithoutCancel(ctx), job, workerID); err != nil {
			log.Error().Err(err).Str("job_id", job.ID.String()).Msg("process job")
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur <= 0 {
		return minBackoff
	}
	cur *= 2
	if cur > maxBackoff {
		return maxBackoff
	}
	return cur
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
