package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxFileBytes caps downloaded documents.
const MaxFileBytes = 2 << 20

var errUnsupportedFile = errors.New("unsupported file type")

// FileFetcher downloads plain-text documents referenced by file_notes jobs.
type FileFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func NewFileFetcher() *FileFetcher {
	return &FileFetcher{Client: &http.Client{Timeout: 60 * time.Second}, MaxBytes: MaxFileBytes}
}

// textual reports whether a MIME type can be fed to the model as is.
func textual(mimeType string) bool {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch {
	case strings.HasPrefix(mt, "text/"):
		return true
	case mt == "application/json", mt == "application/markdown", mt == "application/x-markdown":
		return true
	}
	return false
}

func (f *FileFetcher) Fetch(ctx context.Context, rawURL, declaredType string) (string, error) {
	if declaredType != "" && !textual(declaredType) {
		return "", fmt.Errorf("%w: %s", errUnsupportedFile, declaredType)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !textual(ct) {
		return "", fmt.Errorf("%w: %s", errUnsupportedFile, ct)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = MaxFileBytes
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if int64(len(b)) > limit {
		return "", fmt.Errorf("file exceeds %d bytes", limit)
	}
	return string(b), nil
}

// TranscriptClient asks the transcription service for the text of a video.
//
//	GET {base}/transcript?url=...           -> {"transcript": "..."}
//	GET {base}/transcript?youtube_id=...    -> {"transcript": "..."}
type TranscriptClient struct {
	BaseURL string
	Client  *http.Client
}

func NewTranscriptClient(baseURL string) *TranscriptClient {
	return &TranscriptClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type transcriptResp struct {
	Transcript string `json:"transcript"`
	Error      string `json:"error,omitempty"`
}

func (c *TranscriptClient) ForVideo(ctx context.Context, videoURL string) (string, error) {
	return c.get(ctx, url.Values{"url": {videoURL}})
}

func (c *TranscriptClient) ForYouTube(ctx context.Context, videoID string) (string, error) {
	return c.get(ctx, url.Values{"youtube_id": {videoID}})
}

func (c *TranscriptClient) get(ctx context.Context, q url.Values) (string, error) {
	if c == nil || c.BaseURL == "" {
		return "", errors.New("transcript service is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/transcript?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcript: %w", err)
	}
	defer resp.Body.Close()

	var decoded transcriptResp
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("transcript: status %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || decoded.Error != "" {
		return "", fmt.Errorf("transcript: status %d: %s", resp.StatusCode, decoded.Error)
	}
	if strings.TrimSpace(decoded.Transcript) == "" {
		return "", errors.New("transcript: empty transcript")
	}
	return decoded.Transcript, nil
}
