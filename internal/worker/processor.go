package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/repository"
)

type Processor struct {
	store     repository.JobStore
	handlers  *Registry
	autoRetry bool
	log       zerolog.Logger
}

func NewProcessor(store repository.JobStore, handlers *Registry, autoRetry bool, log zerolog.Logger) *Processor {
	return &Processor{store: store, handlers: handlers, autoRetry: autoRetry, log: log}
}

// Process runs a job already claimed by workerID and records the outcome.
// Handler failures end up on the job; only store errors are returned.
func (p *Processor) Process(ctx context.Context, job *entity.Job, workerID string) error {
	start := time.Now()
	log := p.log.With().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type)).
		Str("worker_id", workerID).
		Logger()

	log.Info().Str("priority", string(job.Priority)).Int("retry_count", job.RetryCount).Msg("job processing")

	out, procErr := p.run(ctx, job, workerID)

	outcome := entity.Outcome{Success: procErr == nil}
	if procErr == nil {
		raw, err := encodeOutput(out)
		if err != nil {
			procErr = err
			outcome = entity.Outcome{}
		} else {
			outcome.Output = raw
		}
	}
	if procErr != nil {
		outcome.Error = procErr.Error()
	}

	done, err := p.store.Complete(ctx, job.ID, workerID, outcome)
	if err != nil {
		log.Error().Err(err).Msg("record outcome")
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}

	durationMs := time.Since(start).Milliseconds()
	if procErr != nil {
		log.Warn().Str("status", string(done.Status)).Int64("duration_ms", durationMs).Str("error", outcome.Error).Msg("job failed")
		if p.autoRetry {
			requeue(ctx, p.store, done, log)
		}
		return nil
	}

	log.Info().Str("status", string(done.Status)).Int64("duration_ms", durationMs).Msg("job completed")
	return nil
}

func (p *Processor) run(ctx context.Context, job *entity.Job, workerID string) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	in, err := entity.DecodeInput(job.Type, job.Input)
	if err != nil {
		return nil, err
	}
	h, ok := p.handlers.Resolve(job)
	if !ok {
		return nil, fmt.Errorf("no handler for job type %q", job.Type)
	}

	progress := func(v int) {
		if _, err := p.store.UpdateProgress(ctx, job.ID, workerID, v); err != nil {
			p.log.Debug().Err(err).Str("job_id", job.ID.String()).Int("progress", v).Msg("progress update rejected")
		}
	}
	return h.Handle(ctx, job, in, progress)
}

// requeue applies the retry transition to a failed job as its owner, while
// retries are left.
func requeue(ctx context.Context, store repository.JobStore, failed *entity.Job, log zerolog.Logger) {
	if !failed.CanRetry() {
		return
	}
	j, err := store.Retry(ctx, failed.ID, failed.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("auto retry")
		return
	}
	log.Info().Int("retry_count", j.RetryCount).Int("max_retries", j.MaxRetries).Msg("job requeued")
}

func encodeOutput(out any) (json.RawMessage, error) {
	switch v := out.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("handler returned invalid json")
		}
		return v, nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	return b, nil
}
