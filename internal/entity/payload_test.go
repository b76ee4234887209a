package entity_test

import (
	"encoding/json"
	"errors"
	"testing"

	"note-queue-service/internal/entity"
)

func TestEncodeDecodeInput_KeyedByJobType(t *testing.T) {
	typ, raw, err := entity.EncodeInput(entity.YouTubeInput{Title: "Lecture", URL: "https://youtu.be/abc123"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if typ != entity.JobTypeYouTubeNotes {
		t.Fatalf("expected youtube_notes, got %s", typ)
	}

	in, err := entity.DecodeInput(typ, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	yt, ok := in.(entity.YouTubeInput)
	if !ok {
		t.Fatalf("expected YouTubeInput, got %T", in)
	}
	if yt.URL != "https://youtu.be/abc123" || yt.Title != "Lecture" {
		t.Fatalf("unexpected payload %#v", yt)
	}
}

func TestEncodeInput_Validation(t *testing.T) {
	cases := []entity.Input{
		entity.TextInput{Title: "empty"},
		entity.FileInput{FileName: "notes.txt"},
		entity.FileInput{FileURL: "ftp://example.com/a.txt"},
		entity.VideoInput{},
		entity.YouTubeInput{URL: "not a url"},
		nil,
	}
	for _, in := range cases {
		if _, _, err := entity.EncodeInput(in); !errors.Is(err, entity.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %#v, got %v", in, err)
		}
	}
}

func TestDecodeInput_UnknownType(t *testing.T) {
	_, err := entity.DecodeInput("audio_notes", json.RawMessage(`{}`))
	if !errors.Is(err, entity.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestVideoInput_TranscriptAloneIsEnough(t *testing.T) {
	if err := (entity.VideoInput{Transcript: "hello"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
