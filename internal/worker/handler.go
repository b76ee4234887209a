package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"note-queue-service/internal/entity"
)

// ProgressFunc reports handler progress in percent. Values are clamped and
// never move progress backwards.
type ProgressFunc func(progress int)

// Handler performs one claimed job. The returned value is JSON encoded into
// the job's outputData.
type Handler interface {
	Handle(ctx context.Context, job *entity.Job, in entity.Input, progress ProgressFunc) (any, error)
}

type HandlerFunc func(ctx context.Context, job *entity.Job, in entity.Input, progress ProgressFunc) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, job *entity.Job, in entity.Input, progress ProgressFunc) (any, error) {
	return f(ctx, job, in, progress)
}

// Registry maps job types to handlers. A handler bound to a single job id
// takes precedence over the type handler; the facade uses this to run its
// caller's work function in the worker slot.
type Registry struct {
	mu     sync.RWMutex
	byType map[entity.JobType]Handler
	inline map[uuid.UUID]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[entity.JobType]Handler),
		inline: make(map[uuid.UUID]Handler),
	}
}

func (r *Registry) Register(t entity.JobType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[t] = h
}

func (r *Registry) Bind(id uuid.UUID, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inline[id] = h
}

func (r *Registry) Unbind(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inline, id)
}

func (r *Registry) Resolve(job *entity.Job) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.inline[job.ID]; ok {
		return h, true
	}
	h, ok := r.byType[job.Type]
	return h, ok
}
