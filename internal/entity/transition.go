package entity

import "fmt"

// Op names a Job Store mutation for rejection diagnosis.
type Op string

const (
	OpClaim    Op = "claim"
	OpProgress Op = "progress"
	OpComplete Op = "complete"
	OpCancel   Op = "cancel"
	OpRetry    Op = "retry"
)

var transitions = map[JobStatus][]JobStatus{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusQueued},
}

// opTarget is the status each op moves a job to. Complete may also end in
// failed; both leave processing the same way.
var opTarget = map[Op]JobStatus{
	OpClaim:    StatusProcessing,
	OpComplete: StatusCompleted,
	OpCancel:   StatusCancelled,
	OpRetry:    StatusQueued,
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Actor identifies who attempts a mutation. UserID is checked for cancel and
// retry, WorkerID for progress and complete.
type Actor struct {
	UserID   string
	WorkerID string
}

// Authorize explains why op by actor is rejected for the current job state.
// A nil result means the op would have been legal, so a store whose
// conditional update matched no row lost a race and reports ErrConflict.
func Authorize(j *Job, op Op, a Actor) error {
	switch op {
	case OpCancel, OpRetry:
		if j.UserID != a.UserID {
			return ErrForbidden
		}
	}

	if op == OpProgress {
		if j.Status != StatusProcessing {
			return fmt.Errorf("%w: %s from %s", ErrInvalidState, op, j.Status)
		}
	} else if !CanTransition(j.Status, opTarget[op]) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidState, op, j.Status)
	}

	switch op {
	case OpProgress, OpComplete:
		if j.WorkerID == nil || *j.WorkerID != a.WorkerID {
			return fmt.Errorf("%w: claimed by another worker", ErrConflict)
		}
	case OpRetry:
		if j.RetryCount >= j.MaxRetries {
			return fmt.Errorf("%w: %w (%d/%d)", ErrInvalidState, ErrExhaustedRetries, j.RetryCount, j.MaxRetries)
		}
	}
	return nil
}

// Rejected turns an unmatched conditional update into the caller-facing error.
func Rejected(j *Job, op Op, a Actor) error {
	if err := Authorize(j, op, a); err != nil {
		return err
	}
	return ErrConflict
}

// ClampProgress bounds p to [0,100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
