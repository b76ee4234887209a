// Package repotest is the behavioural contract of repository.JobStore. Each
// backend's tests call Run with a factory returning an empty store.
package repotest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/repository"
)

// Clock is a manually advanced time source shared by the suite and the store.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory returns an empty store reading time from now.
type Factory func(t *testing.T, now func() time.Time) repository.JobStore

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s repository.JobStore, c *Clock)
	}{
		{"ClaimExclusivity", testClaimExclusivity},
		{"PriorityOrdering", testPriorityOrdering},
		{"FIFOWithinTier", testFIFOWithinTier},
		{"ClaimEmpty", testClaimEmpty},
		{"CancelProcessingIsInvalid", testCancelProcessing},
		{"RetryCompletedIsInvalid", testRetryCompleted},
		{"CancelledIsUnclaimable", testCancelledUnclaimable},
		{"RetryBound", testRetryBound},
		{"ProgressMonotonic", testProgressMonotonic},
		{"ProgressRequiresClaimHolder", testProgressClaimHolder},
		{"CompleteSuccess", testCompleteSuccess},
		{"Ownership", testOwnership},
		{"NotFound", testNotFound},
		{"StatsAndPosition", testStatsAndPosition},
		{"ListPaging", testListPaging},
		{"ReapStale", testReapStale},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClock()
			tc.fn(t, newStore(t, c.Now), c)
		})
	}
}

func enqueue(t *testing.T, s repository.JobStore, user string, p entity.Priority, maxRetries int) *entity.Job {
	t.Helper()
	j, err := s.Enqueue(context.Background(), entity.NewJob{
		UserID:                   user,
		Type:                     entity.JobTypeTextNotes,
		Priority:                 p,
		Input:                    json.RawMessage(`{"title":"t","text":"hello"}`),
		MaxRetries:               maxRetries,
		EstimatedDurationSeconds: 30,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j.Status != entity.StatusQueued {
		t.Fatalf("expected queued, got %s", j.Status)
	}
	return j
}

func claim(t *testing.T, s repository.JobStore, worker string) *entity.Job {
	t.Helper()
	j, err := s.ClaimNext(context.Background(), worker)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if j == nil {
		t.Fatalf("claim: queue unexpectedly empty")
	}
	return j
}

func expectErr(t *testing.T, err error, want ...error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %v, got nil", want)
	}
	for _, w := range want {
		if !errors.Is(err, w) {
			t.Fatalf("expected %v, got %v", w, err)
		}
	}
}

func testClaimExclusivity(t *testing.T, s repository.JobStore, _ *Clock) {
	const jobs, claimers = 20, 8
	for i := 0; i < jobs; i++ {
		enqueue(t, s, "u1", entity.PriorityNormal, 0)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		claimed = map[uuid.UUID]string{}
		dupes   []uuid.UUID
	)
	for w := 0; w < claimers; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				j, err := s.ClaimNext(context.Background(), worker)
				if errors.Is(err, entity.ErrConflict) {
					continue
				}
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if j == nil {
					return
				}
				if j.WorkerID == nil || *j.WorkerID != worker {
					t.Errorf("job %s returned to %s but held by %v", j.ID, worker, j.WorkerID)
				}
				mu.Lock()
				if _, ok := claimed[j.ID]; ok {
					dupes = append(dupes, j.ID)
				}
				claimed[j.ID] = worker
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	if len(dupes) > 0 {
		t.Fatalf("jobs claimed more than once: %v", dupes)
	}
	if len(claimed) != jobs {
		t.Fatalf("expected %d claims, got %d", jobs, len(claimed))
	}
}

func testPriorityOrdering(t *testing.T, s repository.JobStore, _ *Clock) {
	// same instant: the clock is not advanced
	for _, p := range []entity.Priority{entity.PriorityLow, entity.PriorityUrgent, entity.PriorityNormal, entity.PriorityHigh} {
		enqueue(t, s, "u1", p, 0)
	}
	want := []entity.Priority{entity.PriorityUrgent, entity.PriorityHigh, entity.PriorityNormal, entity.PriorityLow}
	for i, p := range want {
		j := claim(t, s, "w1")
		if j.Priority != p {
			t.Fatalf("claim %d: got %s want %s", i, j.Priority, p)
		}
	}
}

func testFIFOWithinTier(t *testing.T, s repository.JobStore, c *Clock) {
	first := enqueue(t, s, "u1", entity.PriorityNormal, 0)
	c.Advance(time.Second)
	second := enqueue(t, s, "u2", entity.PriorityNormal, 0)

	if got := claim(t, s, "w1"); got.ID != first.ID {
		t.Fatalf("expected first job %s, got %s", first.ID, got.ID)
	}
	if got := claim(t, s, "w1"); got.ID != second.ID {
		t.Fatalf("expected second job %s, got %s", second.ID, got.ID)
	}
}

func testClaimEmpty(t *testing.T, s repository.JobStore, _ *Clock) {
	j, err := s.ClaimNext(context.Background(), "w1")
	if err != nil || j != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", j, err)
	}
}

func testCancelProcessing(t *testing.T, s repository.JobStore, _ *Clock) {
	j := enqueue(t, s, "u1", entity.PriorityNormal, 0)
	claim(t, s, "w1")
	_, err := s.Cancel(context.Background(), j.ID, "u1")
	expectErr(t, err, entity.ErrInvalidState)
}

func testRetryCompleted(t *testing.T, s repository.JobStore, _ *Clock) {
	j := enqueue(t, s, "u1", entity.PriorityNormal, 3)
	claim(t, s, "w1")
	if _, err := s.Complete(context.Background(), j.ID, "w1", entity.Outcome{Success: true, Output: json.RawMessage(`{"ok":true}`)}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := s.Retry(context.Background(), j.ID, "u1")
	expectErr(t, err, entity.ErrInvalidState)
}

func testCancelledUnclaimable(t *testing.T, s repository.JobStore, _ *Clock) {
	j := enqueue(t, s, "u1", entity.PriorityNormal, 0)
	got, err := s.Cancel(context.Background(), j.ID, "u1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != entity.StatusCancelled || got.CompletedAt == nil {
		t.Fatalf("expected cancelled with completedAt, got %s %v", got.Status, got.CompletedAt)
	}
	next, err := s.ClaimNext(context.Background(), "w1")
	if err != nil || next != nil {
		t.Fatalf("cancelled job must not be claimable, got (%v, %v)", next, err)
	}
	_, err = s.Cancel(context.Background(), j.ID, "u1")
	expectErr(t, err, entity.ErrInvalidState)
}

func testRetryBound(t *testing.T, s repository.JobStore, _ *Clock) {
	ctx := context.Background()
	j := enqueue(t, s, "u1", entity.PriorityNormal, 2)

	for attempt := 1; attempt <= 3; attempt++ {
		claim(t, s, "w1")
		failed, err := s.Complete(ctx, j.ID, "w1", entity.Outcome{Error: fmt.Sprintf("attempt %d", attempt)})
		if err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
		if failed.Status != entity.StatusFailed || failed.ErrorText() != fmt.Sprintf("attempt %d", attempt) {
			t.Fatalf("unexpected failed record %+v", failed)
		}
		if failed.WorkerID != nil {
			t.Fatalf("failed job still holds worker %s", *failed.WorkerID)
		}
		if attempt == 3 {
			break
		}
		retried, err := s.Retry(ctx, j.ID, "u1")
		if err != nil {
			t.Fatalf("retry %d: %v", attempt, err)
		}
		if retried.Status != entity.StatusQueued || retried.RetryCount != attempt || retried.Error != nil || retried.WorkerID != nil {
			t.Fatalf("unexpected retried record %+v", retried)
		}
	}

	final, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != entity.StatusFailed || final.RetryCount != 2 || final.CanRetry() {
		t.Fatalf("expected exhausted failed job with retryCount=2, got %s rc=%d", final.Status, final.RetryCount)
	}
	_, err = s.Retry(ctx, j.ID, "u1")
	expectErr(t, err, entity.ErrInvalidState, entity.ErrExhaustedRetries)
}

func testProgressMonotonic(t *testing.T, s repository.JobStore, _ *Clock) {
	ctx := context.Background()
	j := enqueue(t, s, "u1", entity.PriorityNormal, 0)
	claim(t, s, "w1")

	for _, p := range []int{25, 50, 75, 100} {
		if _, err := s.UpdateProgress(ctx, j.ID, "w1", p); err != nil {
			t.Fatalf("progress %d: %v", p, err)
		}
	}
	got, err := s.UpdateProgress(ctx, j.ID, "w1", 40)
	if err != nil {
		t.Fatalf("lower progress should be ignored, got %v", err)
	}
	if got.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", got.Progress)
	}
	got, err = s.UpdateProgress(ctx, j.ID, "w1", 400)
	if err != nil || got.Progress != 100 {
		t.Fatalf("expected clamp to 100, got %v %v", got, err)
	}
}

func testProgressClaimHolder(t *testing.T, s repository.JobStore, _ *Clock) {
	ctx := context.Background()
	j := enqueue(t, s, "u1", entity.PriorityNormal, 0)

	_, err := s.UpdateProgress(ctx, j.ID, "w1", 10)
	expectErr(t, err, entity.ErrInvalidState)

	claim(t, s, "w1")
	_, err = s.UpdateProgress(ctx, j.ID, "w2", 10)
	expectErr(t, err, entity.ErrConflict)

	_, err = s.Complete(ctx, j.ID, "w2", entity.Outcome{Success: true})
	expectErr(t, err, entity.ErrConflict)
}

func testCompleteSuccess(t *testing.T, s repository.JobStore, c *Clock) {
	ctx := context.Background()
	j := enqueue(t, s, "u1", entity.PriorityHigh, 0)
	claimed := claim(t, s, "w1")
	if claimed.StartedAt == nil || claimed.Status != entity.StatusProcessing {
		t.Fatalf("claim must set processing and startedAt, got %+v", claimed)
	}

	c.Advance(7 * time.Second)
	done, err := s.Complete(ctx, j.ID, "w1", entity.Outcome{Success: true, Output: json.RawMessage(`{"content":"notes"}`)})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != entity.StatusCompleted || len(done.Output) == 0 {
		t.Fatalf("expected completed with output, got %+v", done)
	}
	if done.CompletedAt == nil || done.CompletedAt.Before(*done.StartedAt) {
		t.Fatalf("completedAt %v must not precede startedAt %v", done.CompletedAt, done.StartedAt)
	}
	if done.ActualDurationSeconds == nil || *done.ActualDurationSeconds != 7 {
		t.Fatalf("expected actual duration 7s, got %v", done.ActualDurationSeconds)
	}
	if done.WorkerID != nil || done.Error != nil {
		t.Fatalf("completed job must clear worker and error, got %+v", done)
	}

	_, err = s.Complete(ctx, j.ID, "w1", entity.Outcome{Success: true})
	expectErr(t, err, entity.ErrInvalidState)
}

func testOwnership(t *testing.T, s repository.JobStore, _ *Clock) {
	ctx := context.Background()
	queued := enqueue(t, s, "owner", entity.PriorityNormal, 1)
	_, err := s.Cancel(ctx, queued.ID, "intruder")
	expectErr(t, err, entity.ErrForbidden)

	claim(t, s, "w1")
	if _, err := s.Complete(ctx, queued.ID, "w1", entity.Outcome{Error: "boom"}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	_, err = s.Retry(ctx, queued.ID, "intruder")
	expectErr(t, err, entity.ErrForbidden)

	got, err := s.Get(ctx, queued.ID)
	if err != nil || got.Status != entity.StatusFailed {
		t.Fatalf("forbidden calls must not change the job, got %v %v", got, err)
	}
}

func testNotFound(t *testing.T, s repository.JobStore, _ *Clock) {
	ctx := context.Background()
	id := uuid.New()
	_, err := s.Get(ctx, id)
	expectErr(t, err, entity.ErrNotFound)
	_, err = s.Cancel(ctx, id, "u1")
	expectErr(t, err, entity.ErrNotFound)
	_, err = s.Retry(ctx, id, "u1")
	expectErr(t, err, entity.ErrNotFound)
	_, err = s.UpdateProgress(ctx, id, "w1", 5)
	expectErr(t, err, entity.ErrNotFound)
	_, err = s.Complete(ctx, id, "w1", entity.Outcome{Success: true})
	expectErr(t, err, entity.ErrNotFound)
	_, err = s.Position(ctx, id)
	expectErr(t, err, entity.ErrNotFound)
}

func testStatsAndPosition(t *testing.T, s repository.JobStore, c *Clock) {
	ctx := context.Background()
	low := enqueue(t, s, "u1", entity.PriorityLow, 0)
	c.Advance(time.Second)
	normal := enqueue(t, s, "u2", entity.PriorityNormal, 0)
	c.Advance(time.Second)
	high := enqueue(t, s, "u1", entity.PriorityHigh, 0)

	for want, j := range map[int]*entity.Job{1: high, 2: normal, 3: low} {
		pos, err := s.Position(ctx, j.ID)
		if err != nil {
			t.Fatalf("position: %v", err)
		}
		if pos != want {
			t.Fatalf("job %s position %d want %d", j.Priority, pos, want)
		}
	}

	claim(t, s, "w1") // high
	c.Advance(4 * time.Second)
	if _, err := s.Complete(ctx, high.ID, "w1", entity.Outcome{Success: true}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := s.Position(ctx, high.ID)
	expectErr(t, err, entity.ErrInvalidState)

	all, err := s.Stats(ctx, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if all.CountsByStatus[entity.StatusQueued] != 2 || all.CountsByStatus[entity.StatusCompleted] != 1 {
		t.Fatalf("unexpected counts %v", all.CountsByStatus)
	}
	if _, ok := all.CountsByStatus[entity.StatusCancelled]; !ok {
		t.Fatalf("every status must be present in counts")
	}
	if all.AvgDurationSeconds != 4 {
		t.Fatalf("expected avg 4s, got %v", all.AvgDurationSeconds)
	}
	if all.QueuedEstimatedSeconds != 60 {
		t.Fatalf("expected 60 queued seconds, got %d", all.QueuedEstimatedSeconds)
	}

	mine, err := s.Stats(ctx, "u2")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if mine.CountsByStatus[entity.StatusQueued] != 1 || mine.CountsByStatus[entity.StatusCompleted] != 0 {
		t.Fatalf("unexpected per-user counts %v", mine.CountsByStatus)
	}
}

func testListPaging(t *testing.T, s repository.JobStore, c *Clock) {
	ctx := context.Background()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, enqueue(t, s, "u1", entity.PriorityNormal, 0).ID)
		c.Advance(time.Second)
	}
	enqueue(t, s, "u2", entity.PriorityNormal, 0)

	page, total, err := s.List(ctx, entity.ListFilter{UserID: "u1", Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(page), total)
	}
	if page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("expected newest first")
	}

	last, _, err := s.List(ctx, entity.ListFilter{UserID: "u1", Page: 3, Limit: 2})
	if err != nil || len(last) != 1 || last[0].ID != ids[0] {
		t.Fatalf("unexpected last page %v %v", last, err)
	}

	if _, err := s.Cancel(ctx, ids[0], "u1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cancelled, total, err := s.List(ctx, entity.ListFilter{UserID: "u1", Status: entity.StatusCancelled})
	if err != nil || total != 1 || len(cancelled) != 1 {
		t.Fatalf("status filter: %v %d %v", cancelled, total, err)
	}
}

func testReapStale(t *testing.T, s repository.JobStore, c *Clock) {
	ctx := context.Background()
	stale := enqueue(t, s, "u1", entity.PriorityHigh, 1)
	claim(t, s, "w-dead")
	c.Advance(10 * time.Minute)
	fresh := enqueue(t, s, "u1", entity.PriorityNormal, 1)
	claim(t, s, "w-alive")

	reaped, err := s.ReapStale(ctx, c.Now().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != stale.ID {
		t.Fatalf("expected only the stale job to be reaped, got %v", reaped)
	}
	if reaped[0].Status != entity.StatusFailed || reaped[0].ErrorText() != repository.StaleMessage {
		t.Fatalf("unexpected reaped record %+v", reaped[0])
	}
	if !reaped[0].CanRetry() {
		t.Fatalf("reaped job should remain retryable")
	}

	got, err := s.Get(ctx, fresh.ID)
	if err != nil || got.Status != entity.StatusProcessing {
		t.Fatalf("fresh job must stay processing, got %v %v", got, err)
	}
}
