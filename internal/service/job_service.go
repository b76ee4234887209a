package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/feed"
	"note-queue-service/internal/priority"
	"note-queue-service/internal/repository"
	"note-queue-service/internal/subscription"
)

// estimatedSeconds is the rough duration per job type used for wait estimates.
var estimatedSeconds = map[entity.JobType]int{
	entity.JobTypeTextNotes:    30,
	entity.JobTypeFileNotes:    60,
	entity.JobTypeVideoNotes:   180,
	entity.JobTypeYouTubeNotes: 120,
}

type JobService struct {
	store       repository.JobStore
	plans       subscription.Source
	bell        Doorbell
	feed        *feed.Broker
	workers     int
	maxRetries  int
	defaultTier entity.Tier
	log         zerolog.Logger
}

type Options struct {
	Workers     int
	MaxRetries  int
	DefaultTier entity.Tier
}

func NewJobService(store repository.JobStore, plans subscription.Source, bell Doorbell, broker *feed.Broker, opts Options, log zerolog.Logger) *JobService {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if !opts.DefaultTier.Valid() {
		opts.DefaultTier = entity.TierFree
	}
	return &JobService{
		store:       store,
		plans:       plans,
		bell:        bell,
		feed:        broker,
		workers:     opts.Workers,
		maxRetries:  opts.MaxRetries,
		defaultTier: opts.DefaultTier,
		log:         log,
	}
}

type EnqueueRequest struct {
	// JobID is generated when zero. Callers that must know the id before the
	// job becomes claimable set it themselves.
	JobID  uuid.UUID
	UserID string
	// Tier is looked up when empty.
	Tier entity.Tier
	// Priority overrides the tier mapping. Only internal callers set it.
	Priority   entity.Priority
	Input      entity.Input
	MaxRetries *int
}

type Enqueued struct {
	Job      *entity.Job `json:"job"`
	Position int         `json:"position"`
}

func (s *JobService) Enqueue(ctx context.Context, req EnqueueRequest) (*Enqueued, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user is required", entity.ErrInvalidInput)
	}
	jobType, raw, err := entity.EncodeInput(req.Input)
	if err != nil {
		return nil, err
	}

	p := req.Priority
	if p == "" {
		p = priority.ForTier(s.tierFor(ctx, req))
	}

	maxRetries := s.maxRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}

	j, err := s.store.Enqueue(ctx, entity.NewJob{
		ID:                       req.JobID,
		UserID:                   req.UserID,
		Type:                     jobType,
		Priority:                 priority.Normalize(p),
		Input:                    raw,
		MaxRetries:               maxRetries,
		EstimatedDurationSeconds: estimatedSeconds[jobType],
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	s.ring(ctx, j)

	pos, err := s.store.Position(ctx, j.ID)
	if err != nil || pos < 1 {
		// a fast worker may already hold it, which still puts it first
		pos = 1
	}

	s.log.Info().
		Str("job_id", j.ID.String()).
		Str("user_id", j.UserID).
		Str("job_type", string(j.Type)).
		Str("priority", string(j.Priority)).
		Int("position", pos).
		Msg("job enqueued")

	return &Enqueued{Job: j, Position: pos}, nil
}

func (s *JobService) tierFor(ctx context.Context, req EnqueueRequest) entity.Tier {
	if req.Tier.Valid() {
		return req.Tier
	}
	if s.plans == nil {
		return s.defaultTier
	}
	t, err := s.plans.PlanFor(ctx, req.UserID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", req.UserID).Msg("plan lookup failed, using default tier")
		return s.defaultTier
	}
	return t
}

func (s *JobService) ring(ctx context.Context, j *entity.Job) {
	if s.bell == nil {
		return
	}
	if err := s.bell.Ring(ctx, j.Priority); err != nil {
		s.log.Warn().Err(err).Str("job_id", j.ID.String()).Msg("ring doorbell")
	}
}

// GetJob returns the job if userID owns it. An empty userID skips the check.
func (s *JobService) GetJob(ctx context.Context, id uuid.UUID, userID string) (*entity.Job, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && j.UserID != userID {
		return nil, entity.ErrForbidden
	}
	return j, nil
}

type Page struct {
	Jobs  []entity.Job `json:"jobs"`
	Total int64        `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

func (s *JobService) ListJobs(ctx context.Context, f entity.ListFilter) (*Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", entity.ErrInvalidInput, f.Status)
	}
	f = f.Normalize()
	jobs, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []entity.Job{}
	}
	return &Page{Jobs: jobs, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

func (s *JobService) Cancel(ctx context.Context, id uuid.UUID, userID string) (*entity.Job, error) {
	j, err := s.store.Cancel(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("job_id", id.String()).Str("user_id", userID).Msg("job cancelled")
	return j, nil
}

func (s *JobService) Retry(ctx context.Context, id uuid.UUID, userID string) (*entity.Job, error) {
	j, err := s.store.Retry(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	s.ring(ctx, j)
	s.log.Info().Str("job_id", id.String()).Int("retry_count", j.RetryCount).Msg("job requeued")
	return j, nil
}

// Position is the 1-based queue rank of a queued job owned by userID.
func (s *JobService) Position(ctx context.Context, id uuid.UUID, userID string) (int, error) {
	if _, err := s.GetJob(ctx, id, userID); err != nil {
		return 0, err
	}
	return s.store.Position(ctx, id)
}

// Stats aggregates over userID's jobs, or all jobs for "". The wait estimate
// always reflects the whole queue, since every user waits behind it.
func (s *JobService) Stats(ctx context.Context, userID string) (*entity.Stats, error) {
	st, err := s.store.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	queued := st.QueuedEstimatedSeconds
	if userID != "" {
		global, err := s.store.Stats(ctx, "")
		if err != nil {
			return nil, err
		}
		queued = global.QueuedEstimatedSeconds
	}
	st.EstimatedWaitTimeSeconds = float64(queued) / float64(s.workers)
	return st, nil
}

// Subscribe opens userID's change feed. The caller must Close it.
func (s *JobService) Subscribe(userID string) (*feed.Subscription, error) {
	if s.feed == nil {
		return nil, errors.New("change feed is not configured")
	}
	return s.feed.Subscribe(userID), nil
}
