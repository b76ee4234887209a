package entity

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Input is the typed inputData of a job. Each job type has exactly one
// variant; the store only sees the encoded JSON.
type Input interface {
	JobType() JobType
	Validate() error
}

type TextInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (TextInput) JobType() JobType { return JobTypeTextNotes }

func (in TextInput) Validate() error {
	if strings.TrimSpace(in.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	return nil
}

type FileInput struct {
	Title    string `json:"title"`
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	// Text is the already extracted file content, when the uploader has it.
	Text string `json:"text,omitempty"`
}

func (FileInput) JobType() JobType { return JobTypeFileNotes }

func (in FileInput) Validate() error {
	if strings.TrimSpace(in.Text) == "" && strings.TrimSpace(in.FileURL) == "" {
		return fmt.Errorf("%w: file_url or text is required", ErrInvalidInput)
	}
	if in.FileURL != "" {
		if err := validateURL(in.FileURL); err != nil {
			return err
		}
	}
	return nil
}

type VideoInput struct {
	Title      string `json:"title"`
	VideoURL   string `json:"video_url"`
	Transcript string `json:"transcript,omitempty"`
}

func (VideoInput) JobType() JobType { return JobTypeVideoNotes }

func (in VideoInput) Validate() error {
	if strings.TrimSpace(in.Transcript) != "" {
		return nil
	}
	if strings.TrimSpace(in.VideoURL) == "" {
		return fmt.Errorf("%w: video_url or transcript is required", ErrInvalidInput)
	}
	return validateURL(in.VideoURL)
}

type YouTubeInput struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Transcript string `json:"transcript,omitempty"`
}

func (YouTubeInput) JobType() JobType { return JobTypeYouTubeNotes }

func (in YouTubeInput) Validate() error {
	if strings.TrimSpace(in.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	return validateURL(in.URL)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) url", ErrInvalidInput, raw)
	}
	return nil
}

// EncodeInput validates in and returns its job type and stored form.
func EncodeInput(in Input) (JobType, json.RawMessage, error) {
	if in == nil {
		return "", nil, fmt.Errorf("%w: input is required", ErrInvalidInput)
	}
	if err := in.Validate(); err != nil {
		return "", nil, err
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s input: %w", in.JobType(), err)
	}
	return in.JobType(), raw, nil
}

// DecodeInput selects the variant for t and decodes raw into it.
func DecodeInput(t JobType, raw json.RawMessage) (Input, error) {
	var in Input
	switch t {
	case JobTypeTextNotes:
		var v TextInput
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		in = v
	case JobTypeFileNotes:
		var v FileInput
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		in = v
	case JobTypeVideoNotes:
		var v VideoInput
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		in = v
	case JobTypeYouTubeNotes:
		var v YouTubeInput
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		in = v
	default:
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidInput, t)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

// NoteOutput is the outputData written by the note handlers.
type NoteOutput struct {
	Title   string          `json:"title"`
	Content string          `json:"content"`
	Summary string          `json:"summary"`
	Quiz    json.RawMessage `json:"quiz,omitempty"`
}
