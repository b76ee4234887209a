package postgresql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/feed"
)

const NotifyChannel = "job_updates"

type notification struct {
	JobID    uuid.UUID        `json:"job_id"`
	UserID   string           `json:"user_id"`
	Status   entity.JobStatus `json:"status"`
	Progress int              `json:"progress"`
	Kind     feed.Kind        `json:"kind"`
	At       time.Time        `json:"at"`
}

// Listener turns jobs_notify trigger notifications into feed events. It holds
// one dedicated connection outside the pool, since LISTEN is per session.
type Listener struct {
	connCfg *pgx.ConnConfig
	sink    feed.Sink
	log     zerolog.Logger
}

func NewListener(pool *pgxpool.Pool, sink feed.Sink, log zerolog.Logger) *Listener {
	return &Listener{
		connCfg: pool.Config().ConnConfig.Copy(),
		sink:    sink,
		log:     log.With().Str("component", "pg_listener").Logger(),
	}
}

// Run listens until ctx is done, reconnecting on connection loss. Every
// successful LISTEN resyncs all subscribers, since notifications sent while
// the session was down are gone.
func (l *Listener) Run(ctx context.Context) error {
	backoff := 100 * time.Millisecond
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn().Err(err).Dur("retry_in", backoff).Msg("listener disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.ConnectConfig(ctx, l.connCfg)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	l.log.Info().Str("channel", NotifyChannel).Msg("listening")
	l.sink.ResyncAll()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		ev, err := decodeNotification(n.Payload)
		if err != nil {
			l.log.Warn().Err(err).Str("payload", n.Payload).Msg("bad notification")
			continue
		}
		if err := l.sink.Publish(ctx, ev); err != nil {
			l.log.Warn().Err(err).Str("job_id", ev.JobID.String()).Msg("forward notification")
		}
	}
}

func decodeNotification(payload string) (feed.Event, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return feed.Event{}, err
	}
	if n.Kind == "" {
		n.Kind = feed.KindStatus
	}
	return feed.Event{
		ID:       ulid.Make(),
		JobID:    n.JobID,
		UserID:   n.UserID,
		Status:   n.Status,
		Progress: n.Progress,
		Kind:     n.Kind,
		At:       n.At.UTC(),
	}, nil
}
