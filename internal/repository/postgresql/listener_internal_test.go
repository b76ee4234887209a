package postgresql

import (
	"testing"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/feed"
)

func TestDecodeNotification(t *testing.T) {
	payload := `{"job_id":"33333333-3333-3333-3333-333333333333","user_id":"u1","status":"processing","progress":40,"kind":"progress","at":"2026-03-01T09:00:00.25+00:00"}`

	ev, err := decodeNotification(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.JobID.String() != "33333333-3333-3333-3333-333333333333" || ev.UserID != "u1" {
		t.Fatalf("unexpected ids %+v", ev)
	}
	if ev.Status != entity.StatusProcessing || ev.Progress != 40 || ev.Kind != feed.KindProgress {
		t.Fatalf("unexpected body %+v", ev)
	}
	if ev.At.Location().String() != "UTC" {
		t.Fatalf("expected UTC timestamp, got %v", ev.At)
	}
}

func TestDecodeNotification_DefaultsKind(t *testing.T) {
	ev, err := decodeNotification(`{"job_id":"33333333-3333-3333-3333-333333333333","user_id":"u1","status":"queued","progress":0,"at":"2026-03-01T09:00:00Z"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != feed.KindStatus {
		t.Fatalf("expected status kind, got %s", ev.Kind)
	}
}

func TestDecodeNotification_Garbage(t *testing.T) {
	if _, err := decodeNotification("not json"); err == nil {
		t.Fatalf("expected error")
	}
}
