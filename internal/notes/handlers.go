package notes

import (
	"context"
	"fmt"
	"strings"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/worker"
)

// Handlers builds the job handlers for every note job type.
type Handlers struct {
	gen         Generator
	files       *FileFetcher
	transcripts *TranscriptClient
}

func NewHandlers(gen Generator, files *FileFetcher, transcripts *TranscriptClient) *Handlers {
	if files == nil {
		files = NewFileFetcher()
	}
	return &Handlers{gen: gen, files: files, transcripts: transcripts}
}

// Register installs a handler per job type.
func (h *Handlers) Register(reg *worker.Registry) {
	reg.Register(entity.JobTypeTextNotes, worker.HandlerFunc(h.text))
	reg.Register(entity.JobTypeFileNotes, worker.HandlerFunc(h.file))
	reg.Register(entity.JobTypeVideoNotes, worker.HandlerFunc(h.video))
	reg.Register(entity.JobTypeYouTubeNotes, worker.HandlerFunc(h.youtube))
}

// generate is the shared tail of every handler: 40% once the source text is
// ready, 90% once the model answered.
func (h *Handlers) generate(ctx context.Context, text, title string, progress worker.ProgressFunc) (any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text to generate notes from")
	}
	progress(40)
	out, err := h.gen.GenerateNotes(ctx, text, title)
	if err != nil {
		return nil, err
	}
	progress(90)
	return out, nil
}

func (h *Handlers) text(ctx context.Context, _ *entity.Job, in entity.Input, progress worker.ProgressFunc) (any, error) {
	v, ok := in.(entity.TextInput)
	if !ok {
		return nil, fmt.Errorf("unexpected input %T", in)
	}
	progress(10)
	return h.generate(ctx, v.Text, v.Title, progress)
}

func (h *Handlers) file(ctx context.Context, _ *entity.Job, in entity.Input, progress worker.ProgressFunc) (any, error) {
	v, ok := in.(entity.FileInput)
	if !ok {
		return nil, fmt.Errorf("unexpected input %T", in)
	}
	progress(10)

	text := v.Text
	if strings.TrimSpace(text) == "" {
		var err error
		if text, err = h.files.Fetch(ctx, v.FileURL, v.MimeType); err != nil {
			return nil, err
		}
	}
	title := v.Title
	if title == "" {
		title = v.FileName
	}
	return h.generate(ctx, text, title, progress)
}

func (h *Handlers) video(ctx context.Context, _ *entity.Job, in entity.Input, progress worker.ProgressFunc) (any, error) {
	v, ok := in.(entity.VideoInput)
	if !ok {
		return nil, fmt.Errorf("unexpected input %T", in)
	}
	progress(10)

	text := v.Transcript
	if strings.TrimSpace(text) == "" {
		var err error
		if text, err = h.transcripts.ForVideo(ctx, v.VideoURL); err != nil {
			return nil, err
		}
	}
	return h.generate(ctx, text, v.Title, progress)
}

func (h *Handlers) youtube(ctx context.Context, _ *entity.Job, in entity.Input, progress worker.ProgressFunc) (any, error) {
	v, ok := in.(entity.YouTubeInput)
	if !ok {
		return nil, fmt.Errorf("unexpected input %T", in)
	}
	id, err := VideoID(v.URL)
	if err != nil {
		return nil, err
	}
	progress(10)

	text := v.Transcript
	if strings.TrimSpace(text) == "" {
		if text, err = h.transcripts.ForYouTube(ctx, id); err != nil {
			return nil, err
		}
	}
	title := v.Title
	if title == "" {
		title = "YouTube " + id
	}
	return h.generate(ctx, text, title, progress)
}
