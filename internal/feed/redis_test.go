package feed_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/feed"
)

// runRedisFeed starts a subscriber on a fresh channel against REDIS_TEST_ADDR
// and returns a publisher for the same channel.
func runRedisFeed(t *testing.T, b *feed.Broker) (*feed.RedisPublisher, *redis.Client) {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	channel := "test:feed:" + uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.NewRedisSubscriber(rdb, channel, b, zerolog.Nop()).Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("subscriber: %v", err)
		}
	})

	// wait until the subscription is live
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := rdb.PubSubNumSub(context.Background(), channel).Result()
		if err != nil {
			t.Fatalf("numsub: %v", err)
		}
		if n[channel] > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never joined %s", channel)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return feed.NewRedisPublisher(rdb, channel), rdb
}

func nextEvent(t *testing.T, sub *feed.Subscription, within time.Duration) feed.Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(within):
		t.Fatalf("no event within %s", within)
	}
	return feed.Event{}
}

func TestRedisFeed_RoundTrip(t *testing.T) {
	b := feed.NewBroker(zerolog.Nop(), 8)
	alice := b.Subscribe("alice")
	defer alice.Close()
	bob := b.Subscribe("bob")
	defer bob.Close()

	pub, _ := runRedisFeed(t, b)

	want := feed.FromJob(job("alice", entity.StatusCompleted), feed.KindStatus)
	if err := pub.Publish(context.Background(), want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := nextEvent(t, alice, 5*time.Second)
	if got.ID != want.ID || got.JobID != want.JobID || got.Status != entity.StatusCompleted || got.Kind != feed.KindStatus {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if len(bob.C()) != 0 {
		t.Fatalf("bob must not see alice's jobs")
	}
}

func TestRedisFeed_ResyncAfterReconnect(t *testing.T) {
	b := feed.NewBroker(zerolog.Nop(), 8)
	sub := b.Subscribe("alice")
	defer sub.Close()

	_, rdb := runRedisFeed(t, b)

	if err := rdb.ClientKillByFilter(context.Background(), "TYPE", "pubsub").Err(); err != nil {
		t.Fatalf("client kill: %v", err)
	}

	if ev := nextEvent(t, sub, 10*time.Second); ev.Kind != feed.KindResync || ev.UserID != "alice" {
		t.Fatalf("expected resync after reconnect, got %+v", ev)
	}
}
