package feed_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/feed"
)

func TestAMQPPublisher_ExportsToExchange(t *testing.T) {
	url := os.Getenv("AMQP_TEST_URL")
	if url == "" {
		t.Skip("AMQP_TEST_URL not set")
	}
	exchange := "test.jobs.events." + uuid.NewString()

	pub, err := feed.NewAMQPPublisher(url, exchange)
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer pub.Close()

	conn, err := amqp.Dial(url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	defer func() {
		_ = ch.ExchangeDelete(exchange, false, false)
		_ = ch.Close()
	}()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		t.Fatalf("bind: %v", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	want := feed.FromJob(job("alice", entity.StatusFailed), feed.KindStatus)
	if err := pub.Publish(context.Background(), want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case d := <-deliveries:
		if d.ContentType != "application/json" || d.MessageId != want.ID.String() {
			t.Fatalf("unexpected headers: type=%q id=%q", d.ContentType, d.MessageId)
		}
		var got feed.Event
		if err := json.Unmarshal(d.Body, &got); err != nil {
			t.Fatalf("body: %v", err)
		}
		if got.JobID != want.JobID || got.UserID != "alice" || got.Status != entity.StatusFailed {
			t.Fatalf("got %+v want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no delivery from %s", exchange)
	}
}
