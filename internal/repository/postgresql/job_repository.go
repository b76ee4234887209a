package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/priority"
	"note-queue-service/internal/repository"
)

const jobColumns = `id, user_id, job_type, priority, status, input_data, output_data, error_message,
progress, retry_count, max_retries, estimated_duration_seconds, actual_duration_seconds,
worker_id, created_at, started_at, completed_at, updated_at`

type JobRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

type Option func(*JobRepository)

func WithClock(now func() time.Time) Option {
	return func(r *JobRepository) { r.now = now }
}

func NewJobRepository(pool *pgxpool.Pool, opts ...Option) *JobRepository {
	r := &JobRepository{pool: pool, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *JobRepository) ts() time.Time { return r.now().UTC() }

func (r *JobRepository) Enqueue(ctx context.Context, nj entity.NewJob) (*entity.Job, error) {
	if nj.ID == uuid.Nil {
		nj.ID = uuid.New()
	}
	if len(nj.Input) == 0 {
		nj.Input = json.RawMessage(`{}`)
	}
	p := priority.Normalize(nj.Priority)

	q := `
INSERT INTO jobs (id, user_id, job_type, priority, priority_rank, status, input_data,
                  max_retries, estimated_duration_seconds, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'queued', $6, $7, $8, $9, $9)
RETURNING ` + jobColumns + `;`

	return scanJob(r.pool.QueryRow(ctx, q,
		nj.ID, nj.UserID, string(nj.Type), string(p), priority.Rank(p), []byte(nj.Input),
		nj.MaxRetries, nj.EstimatedDurationSeconds, r.ts(),
	))
}

// ClaimNext is one statement: the subselect locks the first queued row and
// skips rows other claimers hold, the outer UPDATE flips it to processing.
func (r *JobRepository) ClaimNext(ctx context.Context, workerID string) (*entity.Job, error) {
	q := `
UPDATE jobs
SET status = 'processing', worker_id = $1, started_at = $2, progress = 0, updated_at = $2
WHERE id = (
    SELECT id FROM jobs
    WHERE status = 'queued'
    ORDER BY ` + priority.ClaimOrder + `
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, workerID, r.ts()))
	if errors.Is(err, entity.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, workerID string, progress int) (*entity.Job, error) {
	q := `
UPDATE jobs
SET progress = GREATEST(progress, $3), updated_at = $4
WHERE id = $1 AND status = 'processing' AND worker_id = $2
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, id, workerID, entity.ClampProgress(progress), r.ts()))
	return r.orReject(ctx, id, j, err, entity.OpProgress, entity.Actor{WorkerID: workerID})
}

func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, workerID string, out entity.Outcome) (*entity.Job, error) {
	var (
		q    string
		args []any
		now  = r.ts()
	)
	if out.Success {
		output := out.Output
		if len(output) == 0 {
			output = json.RawMessage(`{}`)
		}
		q = `
UPDATE jobs
SET status = 'completed', output_data = $3, error_message = NULL, progress = 100,
    worker_id = NULL, completed_at = $4, updated_at = $4,
    actual_duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($4::timestamptz - started_at)))::int
WHERE id = $1 AND status = 'processing' AND worker_id = $2
RETURNING ` + jobColumns + `;`
		args = []any{id, workerID, []byte(output), now}
	} else {
		msg := out.Error
		if msg == "" {
			msg = "unknown error"
		}
		q = `
UPDATE jobs
SET status = 'failed', error_message = $3,
    worker_id = NULL, completed_at = $4, updated_at = $4,
    actual_duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($4::timestamptz - started_at)))::int
WHERE id = $1 AND status = 'processing' AND worker_id = $2
RETURNING ` + jobColumns + `;`
		args = []any{id, workerID, msg, now}
	}

	j, err := scanJob(r.pool.QueryRow(ctx, q, args...))
	return r.orReject(ctx, id, j, err, entity.OpComplete, entity.Actor{WorkerID: workerID})
}

func (r *JobRepository) Cancel(ctx context.Context, id uuid.UUID, userID string) (*entity.Job, error) {
	q := `
UPDATE jobs
SET status = 'cancelled', completed_at = $3, updated_at = $3
WHERE id = $1 AND user_id = $2 AND status = 'queued'
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, id, userID, r.ts()))
	return r.orReject(ctx, id, j, err, entity.OpCancel, entity.Actor{UserID: userID})
}

func (r *JobRepository) Retry(ctx context.Context, id uuid.UUID, userID string) (*entity.Job, error) {
	q := `
UPDATE jobs
SET status = 'queued', retry_count = retry_count + 1, worker_id = NULL, error_message = NULL,
    progress = 0, started_at = NULL, completed_at = NULL, actual_duration_seconds = NULL,
    updated_at = $3
WHERE id = $1 AND user_id = $2 AND status = 'failed' AND retry_count < max_retries
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, id, userID, r.ts()))
	return r.orReject(ctx, id, j, err, entity.OpRetry, entity.Actor{UserID: userID})
}

func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, q, id))
}

func (r *JobRepository) List(ctx context.Context, f entity.ListFilter) ([]entity.Job, int64, error) {
	f = f.Normalize()
	where := `WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)`

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs `+where+`;`, f.UserID, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	q := `SELECT ` + jobColumns + ` FROM jobs ` + where + `
ORDER BY created_at DESC, seq DESC
LIMIT $3 OFFSET $4;`
	rows, err := r.pool.Query(ctx, q, f.UserID, string(f.Status), f.Limit, f.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]entity.Job, 0, f.Limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

func (r *JobRepository) Stats(ctx context.Context, userID string) (*entity.Stats, error) {
	st := entity.NewStats()

	rows, err := r.pool.Query(ctx, `
SELECT status, COUNT(*) FROM jobs
WHERE ($1 = '' OR user_id = $1)
GROUP BY status;`, userID)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.CountsByStatus[entity.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx, `
SELECT
    COALESCE(AVG(actual_duration_seconds) FILTER (WHERE status = 'completed'), 0)::float8,
    COALESCE(SUM(estimated_duration_seconds) FILTER (WHERE status = 'queued'), 0)::bigint
FROM jobs
WHERE ($1 = '' OR user_id = $1);`, userID).Scan(&st.AvgDurationSeconds, &st.QueuedEstimatedSeconds)
	if err != nil {
		return nil, fmt.Errorf("aggregate durations: %w", err)
	}
	return st, nil
}

func (r *JobRepository) Position(ctx context.Context, id uuid.UUID) (int, error) {
	j, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if j.Status != entity.StatusQueued {
		return 0, fmt.Errorf("%w: position of %s job", entity.ErrInvalidState, j.Status)
	}

	var ahead int
	err = r.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM jobs q JOIN jobs me ON me.id = $1
WHERE q.status = 'queued'
  AND (q.priority_rank > me.priority_rank
       OR (q.priority_rank = me.priority_rank AND (q.created_at, q.seq) < (me.created_at, me.seq)));`, id).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("count ahead: %w", err)
	}
	return ahead + 1, nil
}

func (r *JobRepository) ReapStale(ctx context.Context, cutoff time.Time, limit int) ([]entity.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
UPDATE jobs
SET status = 'failed', error_message = $3, worker_id = NULL, completed_at = $4, updated_at = $4,
    actual_duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($4::timestamptz - started_at)))::int
WHERE id IN (
    SELECT id FROM jobs
    WHERE status = 'processing' AND started_at < $1
    ORDER BY started_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns + `;`

	rows, err := r.pool.Query(ctx, q, cutoff.UTC(), limit, repository.StaleMessage, r.ts())
	if err != nil {
		return nil, fmt.Errorf("reap stale: %w", err)
	}
	defer rows.Close()

	var reaped []entity.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return reaped, err
		}
		reaped = append(reaped, *j)
	}
	return reaped, rows.Err()
}

// orReject passes a successful RETURNING row through, or explains an update
// that matched nothing.
func (r *JobRepository) orReject(ctx context.Context, id uuid.UUID, j *entity.Job, err error, op entity.Op, a entity.Actor) (*entity.Job, error) {
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, entity.ErrNotFound) {
		return nil, err
	}
	cur, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, entity.Rejected(cur, op, a)
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job         entity.Job
		jobType     string
		prio        string
		status      string
		inputBytes  []byte
		outputBytes []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&jobType,
		&prio,
		&status,
		&inputBytes,
		&outputBytes, // NULL => nil
		&job.Error,   // NULL => nil
		&job.Progress,
		&job.RetryCount,
		&job.MaxRetries,
		&job.EstimatedDurationSeconds,
		&job.ActualDurationSeconds,
		&job.WorkerID,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, err
	}

	job.Type = entity.JobType(jobType)
	job.Priority = entity.Priority(prio)
	job.Status = entity.JobStatus(status)
	job.Input = json.RawMessage(inputBytes)
	if outputBytes != nil {
		job.Output = json.RawMessage(outputBytes)
	}
	return &job, nil
}
