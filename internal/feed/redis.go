package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultRedisChannel = "jobs:events"

	resubscribeDelay = 200 * time.Millisecond
)

// RedisPublisher broadcasts events over Redis Pub/Sub so every API instance
// sees every transition.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
}

func NewRedisPublisher(rdb redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// RedisSubscriber forwards the Pub/Sub channel into a local sink, normally
// the Broker.
type RedisSubscriber struct {
	rdb     redis.UniversalClient
	channel string
	sink    Sink
	log     zerolog.Logger
}

func NewRedisSubscriber(rdb redis.UniversalClient, channel string, sink Sink, log zerolog.Logger) *RedisSubscriber {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSubscriber{rdb: rdb, channel: channel, sink: sink, log: log}
}

// Run blocks until ctx is done. The client resubscribes on its own after a
// dropped connection; every confirmation after the first one resyncs all
// subscribers, since messages published in between are lost.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	ps := s.rdb.Subscribe(ctx, s.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", s.channel, err)
	}
	s.log.Info().Str("channel", s.channel).Msg("feed subscriber started")

	go func() {
		<-ctx.Done()
		_ = ps.Close()
	}()

	for {
		msg, err := ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn().Err(err).Msg("feed subscriber disconnected")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(resubscribeDelay):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				s.log.Info().Str("channel", m.Channel).Msg("feed resubscribed")
				s.sink.ResyncAll()
			}
		case *redis.Message:
			var ev Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				s.log.Warn().Err(err).Msg("bad feed payload")
				continue
			}
			_ = s.sink.Publish(ctx, ev)
		}
	}
}
