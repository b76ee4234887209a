package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/priority"
)

// Doorbell wakes idle worker slots when work may be available. It carries no
// job ids: a woken slot still claims through the store, so a lost or spurious
// ring only costs latency.
type Doorbell interface {
	Ring(ctx context.Context, p entity.Priority) error
	// Wait blocks until a ring, the timeout or ctx. It reports whether it was
	// woken by a ring.
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
}

// maxPendingRings bounds each lane so that rings with nobody waiting do not
// pile up forever.
const maxPendingRings = 1024

// redisDoorbell keeps one Redis list per priority lane.
// Ring:  LPUSH lane + LTRIM
// Wait:  BRPOP over all lanes, highest first
type redisDoorbell struct {
	rdb   redis.UniversalClient
	lanes map[entity.Priority]string
	order []string
}

func NewRedisDoorbell(rdb redis.UniversalClient, baseKey string) Doorbell {
	if baseKey == "" {
		baseKey = "jobs:doorbell"
	}
	d := &redisDoorbell{rdb: rdb, lanes: make(map[entity.Priority]string, len(priority.Lanes))}
	for _, p := range priority.Lanes {
		key := baseKey + ":" + string(p)
		d.lanes[p] = key
		d.order = append(d.order, key)
	}
	return d
}

func (d *redisDoorbell) laneFor(p entity.Priority) string {
	if key, ok := d.lanes[priority.Normalize(p)]; ok {
		return key
	}
	return d.lanes[entity.PriorityNormal]
}

func (d *redisDoorbell) Ring(ctx context.Context, p entity.Priority) error {
	key := d.laneFor(p)
	_, err := d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, time.Now().UnixNano())
		pipe.LTrim(ctx, key, 0, maxPendingRings-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ring %s: %w", key, err)
	}
	return nil
}

// Wait relies on BRPOP checking keys in order, which keeps lanes strictly
// prioritized.
func (d *redisDoorbell) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout < time.Second {
		timeout = time.Second
	}
	_, err := d.rdb.BRPop(ctx, timeout, d.order...).Result()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, redis.Nil) || ctx.Err() != nil {
		return false, nil
	}
	return false, err
}

// localDoorbell serves a single process: API with embedded workers, or tests.
type localDoorbell struct {
	ch chan struct{}
}

func NewLocalDoorbell() Doorbell {
	return &localDoorbell{ch: make(chan struct{}, maxPendingRings)}
}

func (d *localDoorbell) Ring(context.Context, entity.Priority) error {
	select {
	case d.ch <- struct{}{}:
	default:
	}
	return nil
}

func (d *localDoorbell) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-d.ch:
		return true, nil
	case <-t.C:
		return false, nil
	case <-ctx.Done():
		return false, nil
	}
}
