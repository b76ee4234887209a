package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/repository"
	"note-queue-service/internal/repository/sqlstore"
	"note-queue-service/internal/worker"
)

func newStore(t *testing.T) repository.JobStore {
	t.Helper()
	db, err := sqlstore.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return sqlstore.NewJobStore(db)
}

func enqueueText(t *testing.T, s repository.JobStore, user string, p entity.Priority, maxRetries int) *entity.Job {
	t.Helper()
	_, raw, err := entity.EncodeInput(entity.TextInput{Title: "t", Text: "hello"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	j, err := s.Enqueue(context.Background(), entity.NewJob{
		UserID:     user,
		Type:       entity.JobTypeTextNotes,
		Priority:   p,
		Input:      raw,
		MaxRetries: maxRetries,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return j
}

func claimAndProcess(t *testing.T, s repository.JobStore, p *worker.Processor) *entity.Job {
	t.Helper()
	ctx := context.Background()
	j, err := s.ClaimNext(ctx, "w1")
	if err != nil || j == nil {
		t.Fatalf("claim: %v %v", j, err)
	}
	if err := p.Process(ctx, j, "w1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return got
}

func TestProcessor_Success(t *testing.T) {
	s := newStore(t)
	reg := worker.NewRegistry()
	reg.Register(entity.JobTypeTextNotes, worker.HandlerFunc(func(ctx context.Context, job *entity.Job, in entity.Input, progress worker.ProgressFunc) (any, error) {
		progress(50)
		return map[string]string{"content": in.(entity.TextInput).Text}, nil
	}))
	p := worker.NewProcessor(s, reg, false, zerolog.Nop())

	enqueueText(t, s, "u1", entity.PriorityNormal, 0)
	got := claimAndProcess(t, s, p)

	if got.Status != entity.StatusCompleted || got.Progress != 100 {
		t.Fatalf("expected completed at 100%%, got %s %d", got.Status, got.Progress)
	}
	var out map[string]string
	if err := json.Unmarshal(got.Output, &out); err != nil || out["content"] != "hello" {
		t.Fatalf("unexpected output %s (%v)", got.Output, err)
	}
}

func TestProcessor_FailuresAreRecorded(t *testing.T) {
	tests := []struct {
		name    string
		handler worker.Handler
		wantErr string
	}{
		{
			name: "error",
			handler: worker.HandlerFunc(func(context.Context, *entity.Job, entity.Input, worker.ProgressFunc) (any, error) {
				return nil, errors.New("model timeout")
			}),
			wantErr: "model timeout",
		},
		{
			name: "panic",
			handler: worker.HandlerFunc(func(context.Context, *entity.Job, entity.Input, worker.ProgressFunc) (any, error) {
				panic("nil map")
			}),
			wantErr: "handler panic: nil map",
		},
		{
			name:    "no handler",
			handler: nil,
			wantErr: `no handler for job type "text_notes"`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			reg := worker.NewRegistry()
			if tc.handler != nil {
				reg.Register(entity.JobTypeTextNotes, tc.handler)
			}
			p := worker.NewProcessor(s, reg, false, zerolog.Nop())

			enqueueText(t, s, "u1", entity.PriorityNormal, 1)
			got := claimAndProcess(t, s, p)

			if got.Status != entity.StatusFailed || got.ErrorText() != tc.wantErr {
				t.Fatalf("expected failed with %q, got %s %q", tc.wantErr, got.Status, got.ErrorText())
			}
			if got.Output != nil {
				t.Fatalf("failed job must not carry output, got %s", got.Output)
			}
		})
	}
}

func TestProcessor_AutoRetryUntilExhausted(t *testing.T) {
	s := newStore(t)
	reg := worker.NewRegistry()
	reg.Register(entity.JobTypeTextNotes, worker.HandlerFunc(func(context.Context, *entity.Job, entity.Input, worker.ProgressFunc) (any, error) {
		return nil, errors.New("flaky")
	}))
	p := worker.NewProcessor(s, reg, true, zerolog.Nop())

	enqueueText(t, s, "u1", entity.PriorityNormal, 2)

	first := claimAndProcess(t, s, p)
	if first.Status != entity.StatusQueued || first.RetryCount != 1 {
		t.Fatalf("expected requeued after first failure, got %s rc=%d", first.Status, first.RetryCount)
	}
	second := claimAndProcess(t, s, p)
	if second.Status != entity.StatusQueued || second.RetryCount != 2 {
		t.Fatalf("expected requeued after second failure, got %s rc=%d", second.Status, second.RetryCount)
	}
	last := claimAndProcess(t, s, p)
	if last.Status != entity.StatusFailed || last.RetryCount != 2 || last.CanRetry() {
		t.Fatalf("expected exhausted failure, got %s rc=%d", last.Status, last.RetryCount)
	}
}

func TestRegistry_InlineOverridesType(t *testing.T) {
	reg := worker.NewRegistry()
	typed := worker.HandlerFunc(func(context.Context, *entity.Job, entity.Input, worker.ProgressFunc) (any, error) { return "typed", nil })
	inline := worker.HandlerFunc(func(context.Context, *entity.Job, entity.Input, worker.ProgressFunc) (any, error) { return "inline", nil })
	reg.Register(entity.JobTypeTextNotes, typed)

	job := &entity.Job{ID: uuid.New(), Type: entity.JobTypeTextNotes}
	reg.Bind(job.ID, inline)

	h, _ := reg.Resolve(job)
	if out, _ := h.Handle(context.Background(), job, nil, nil); out != "inline" {
		t.Fatalf("expected inline handler, got %v", out)
	}

	reg.Unbind(job.ID)
	h, _ = reg.Resolve(job)
	if out, _ := h.Handle(context.Background(), job, nil, nil); out != "typed" {
		t.Fatalf("expected typed handler after unbind, got %v", out)
	}

	if _, ok := reg.Resolve(&entity.Job{ID: uuid.New(), Type: entity.JobTypeVideoNotes}); ok {
		t.Fatalf("unexpected handler for unregistered type")
	}
}
