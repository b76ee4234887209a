// Package sqlstore is a gorm-backed Job Store for SQLite and MySQL. Claims are
// a compare-and-swap on status: pick the first queued row, then
// UPDATE ... WHERE id = ? AND status = 'queued' and check RowsAffected.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/priority"
	"note-queue-service/internal/repository"
)

type JobStore struct {
	db  *gorm.DB
	now func() time.Time
}

type Option func(*JobStore)

// WithClock replaces time.Now, mostly for tests that need distinct createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *JobStore) { s.now = now }
}

func NewJobStore(db *gorm.DB, opts ...Option) *JobStore {
	s := &JobStore{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *JobStore) ts() time.Time { return s.now().UTC() }

func (s *JobStore) Enqueue(ctx context.Context, nj entity.NewJob) (*entity.Job, error) {
	if nj.ID == uuid.Nil {
		nj.ID = uuid.New()
	}
	if len(nj.Input) == 0 {
		nj.Input = []byte(`{}`)
	}
	p := priority.Normalize(nj.Priority)
	now := s.ts()

	row := jobRow{
		ID:                       nj.ID.String(),
		UserID:                   nj.UserID,
		JobType:                  string(nj.Type),
		Priority:                 string(p),
		PriorityRank:             priority.Rank(p),
		Status:                   string(entity.StatusQueued),
		InputData:                nj.Input,
		MaxRetries:               nj.MaxRetries,
		EstimatedDurationSeconds: nj.EstimatedDurationSeconds,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return row.toEntity()
}

func (s *JobStore) ClaimNext(ctx context.Context, workerID string) (*entity.Job, error) {
	db := s.db.WithContext(ctx)

	for attempt := 0; attempt < repository.MaxClaimAttempts; attempt++ {
		var cand jobRow
		err := db.Select("id").
			Where("status = ?", string(entity.StatusQueued)).
			Order(priority.ClaimOrder).
			Take(&cand).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select candidate: %w", err)
		}

		now := s.ts()
		res := db.Model(&jobRow{}).
			Where("id = ? AND status = ?", cand.ID, string(entity.StatusQueued)).
			Updates(map[string]any{
				"status":     string(entity.StatusProcessing),
				"worker_id":  workerID,
				"started_at": now,
				"progress":   0,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claim job %s: %w", cand.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			return s.getByString(ctx, cand.ID)
		}
		// another claimer won this row; the next candidate is a fresh select
	}
	return nil, entity.ErrConflict
}

func (s *JobStore) UpdateProgress(ctx context.Context, id uuid.UUID, workerID string, progress int) (*entity.Job, error) {
	p := entity.ClampProgress(progress)
	res := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND status = ? AND worker_id = ?", id.String(), string(entity.StatusProcessing), workerID).
		Updates(map[string]any{
			"progress":   gorm.Expr("CASE WHEN progress < ? THEN ? ELSE progress END", p, p),
			"updated_at": s.ts(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update progress: %w", res.Error)
	}
	return s.afterUpdate(ctx, id, res.RowsAffected, entity.OpProgress, entity.Actor{WorkerID: workerID})
}

func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, workerID string, out entity.Outcome) (*entity.Job, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := entity.Authorize(cur, entity.OpComplete, entity.Actor{WorkerID: workerID}); err != nil {
		return nil, err
	}

	now := s.ts()
	updates := map[string]any{
		"completed_at":            now,
		"updated_at":              now,
		"worker_id":               nil,
		"actual_duration_seconds": durationSeconds(cur.StartedAt, now),
	}
	if out.Success {
		output := out.Output
		if len(output) == 0 {
			output = []byte(`{}`)
		}
		updates["status"] = string(entity.StatusCompleted)
		updates["output_data"] = []byte(output)
		updates["error_message"] = nil
		updates["progress"] = 100
	} else {
		msg := out.Error
		if msg == "" {
			msg = "unknown error"
		}
		updates["status"] = string(entity.StatusFailed)
		updates["error_message"] = msg
	}

	res := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND status = ? AND worker_id = ?", id.String(), string(entity.StatusProcessing), workerID).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("complete job: %w", res.Error)
	}
	return s.afterUpdate(ctx, id, res.RowsAffected, entity.OpComplete, entity.Actor{WorkerID: workerID})
}

func (s *JobStore) Cancel(ctx context.Context, id uuid.UUID, userID string) (*entity.Job, error) {
	now := s.ts()
	res := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND user_id = ? AND status = ?", id.String(), userID, string(entity.StatusQueued)).
		Updates(map[string]any{
			"status":       string(entity.StatusCancelled),
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("cancel job: %w", res.Error)
	}
	return s.afterUpdate(ctx, id, res.RowsAffected, entity.OpCancel, entity.Actor{UserID: userID})
}

func (s *JobStore) Retry(ctx context.Context, id uuid.UUID, userID string) (*entity.Job, error) {
	res := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND user_id = ? AND status = ? AND retry_count < max_retries", id.String(), userID, string(entity.StatusFailed)).
		Updates(map[string]any{
			"status":                  string(entity.StatusQueued),
			"retry_count":             gorm.Expr("retry_count + 1"),
			"worker_id":               nil,
			"error_message":           nil,
			"progress":                0,
			"started_at":              nil,
			"completed_at":            nil,
			"actual_duration_seconds": nil,
			"updated_at":              s.ts(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("retry job: %w", res.Error)
	}
	return s.afterUpdate(ctx, id, res.RowsAffected, entity.OpRetry, entity.Actor{UserID: userID})
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.getByString(ctx, id.String())
}

func (s *JobStore) getByString(ctx context.Context, id string) (*entity.Job, error) {
	var row jobRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return row.toEntity()
}

func (s *JobStore) List(ctx context.Context, f entity.ListFilter) ([]entity.Job, int64, error) {
	f = f.Normalize()
	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&jobRow{})
		if f.UserID != "" {
			q = q.Where("user_id = ?", f.UserID)
		}
		if f.Status != "" {
			q = q.Where("status = ?", string(f.Status))
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	var rows []jobRow
	if err := filtered().Order("created_at DESC, seq DESC").Limit(f.Limit).Offset(f.Offset()).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]entity.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toEntity()
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, total, nil
}

func (s *JobStore) Stats(ctx context.Context, userID string) (*entity.Stats, error) {
	scoped := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&jobRow{})
		if userID != "" {
			q = q.Where("user_id = ?", userID)
		}
		return q
	}

	var counts []struct {
		Status string
		N      int64
	}
	if err := scoped().Select("status, COUNT(*) AS n").Group("status").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}

	st := entity.NewStats()
	for _, c := range counts {
		st.CountsByStatus[entity.JobStatus(c.Status)] = c.N
	}

	var agg struct {
		Avg float64
	}
	if err := scoped().
		Select("COALESCE(AVG(actual_duration_seconds), 0) AS avg").
		Where("status = ? AND actual_duration_seconds IS NOT NULL", string(entity.StatusCompleted)).
		Scan(&agg).Error; err != nil {
		return nil, fmt.Errorf("avg duration: %w", err)
	}
	st.AvgDurationSeconds = agg.Avg

	var queued struct {
		Total int64
	}
	if err := scoped().
		Select("COALESCE(SUM(estimated_duration_seconds), 0) AS total").
		Where("status = ?", string(entity.StatusQueued)).
		Scan(&queued).Error; err != nil {
		return nil, fmt.Errorf("queued estimate: %w", err)
	}
	st.QueuedEstimatedSeconds = queued.Total
	return st, nil
}

func (s *JobStore) Position(ctx context.Context, id uuid.UUID) (int, error) {
	var row jobRow
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, entity.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get job %s: %w", id, err)
	}
	if row.Status != string(entity.StatusQueued) {
		return 0, fmt.Errorf("%w: position of %s job", entity.ErrInvalidState, row.Status)
	}

	var ahead int64
	err = s.db.WithContext(ctx).Model(&jobRow{}).
		Where("status = ?", string(entity.StatusQueued)).
		Where("priority_rank > ? OR (priority_rank = ? AND (created_at < ? OR (created_at = ? AND seq < ?)))",
			row.PriorityRank, row.PriorityRank, row.CreatedAt, row.CreatedAt, row.Seq).
		Count(&ahead).Error
	if err != nil {
		return 0, fmt.Errorf("count ahead: %w", err)
	}
	return int(ahead) + 1, nil
}

func (s *JobStore) ReapStale(ctx context.Context, cutoff time.Time, limit int) ([]entity.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var stale []jobRow
	if err := s.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", string(entity.StatusProcessing), cutoff.UTC()).
		Order("started_at ASC").
		Limit(limit).
		Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("find stale jobs: %w", err)
	}

	reaped := make([]entity.Job, 0, len(stale))
	for _, r := range stale {
		if r.WorkerID == nil {
			continue
		}
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return reaped, err
		}
		j, err := s.Complete(ctx, id, *r.WorkerID, entity.Outcome{Error: repository.StaleMessage})
		if errors.Is(err, entity.ErrConflict) || errors.Is(err, entity.ErrInvalidState) {
			// finished or reclaimed in the meantime
			continue
		}
		if err != nil {
			return reaped, err
		}
		reaped = append(reaped, *j)
	}
	return reaped, nil
}

// afterUpdate reloads the row after a conditional update, or explains why the
// update matched nothing.
func (s *JobStore) afterUpdate(ctx context.Context, id uuid.UUID, affected int64, op entity.Op, a entity.Actor) (*entity.Job, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, entity.Rejected(cur, op, a)
	}
	return cur, nil
}

func durationSeconds(started *time.Time, end time.Time) *int {
	if started == nil {
		return nil
	}
	d := int(end.Sub(*started).Seconds())
	if d < 0 {
		d = 0
	}
	return &d
}
