// Package feed carries job change notifications from the store to subscribers.
//
// Delivery is at-least-once. A subscriber that falls behind loses its pending
// events and receives a single KindResync event instead; it should then
// reconcile by listing its jobs.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"note-queue-service/internal/entity"
)

type Kind string

const (
	KindStatus   Kind = "status"
	KindProgress Kind = "progress"
	KindResync   Kind = "resync"
)

type Event struct {
	ID       ulid.ULID        `json:"id"`
	JobID    uuid.UUID        `json:"job_id"`
	UserID   string           `json:"user_id"`
	Status   entity.JobStatus `json:"status,omitempty"`
	Progress int              `json:"progress"`
	Kind     Kind             `json:"kind"`
	At       time.Time        `json:"at"`
}

// FromJob snapshots j as an event of the given kind.
func FromJob(j *entity.Job, kind Kind) Event {
	at := j.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Event{
		ID:       ulid.Make(),
		JobID:    j.ID,
		UserID:   j.UserID,
		Status:   j.Status,
		Progress: j.Progress,
		Kind:     kind,
		At:       at,
	}
}

func resync(userID string) Event {
	return Event{ID: ulid.Make(), UserID: userID, Kind: KindResync, At: time.Now().UTC()}
}

// Publisher hands an event to a transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Sink is the local end of a remote feed. ResyncAll tells every subscriber
// that events may have been missed, e.g. after the transport reconnected.
type Sink interface {
	Publisher
	ResyncAll()
}

type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop discards events. It is used when the database emits the feed itself.
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
