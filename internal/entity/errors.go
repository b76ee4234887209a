package entity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("job not found")
	ErrForbidden        = errors.New("job belongs to another user")
	ErrInvalidState     = errors.New("transition not allowed from current status")
	ErrConflict         = errors.New("job was modified concurrently")
	ErrHandlerFailure   = errors.New("job handler failed")
	ErrExhaustedRetries = errors.New("retries exhausted")
	ErrInvalidInput     = errors.New("invalid job input")
)

// HandlerError is returned to the original enqueuer when a job ends failed.
type HandlerError struct {
	JobID     uuid.UUID
	Message   string
	Exhausted bool
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

func (e *HandlerError) Is(target error) bool {
	if target == ErrHandlerFailure {
		return true
	}
	return target == ErrExhaustedRetries && e.Exhausted
}
