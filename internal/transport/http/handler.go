package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/facade"
	"note-queue-service/internal/service"
)

const sseKeepAlive = 25 * time.Second

type Handler struct {
	jobSvc        *service.JobService
	facade        *facade.Facade
	facadeTimeout time.Duration
	log           zerolog.Logger
}

// NewHandler wires the job API. A nil facade disables POST /notes.
func NewHandler(jobSvc *service.JobService, f *facade.Facade, facadeTimeout time.Duration, log zerolog.Logger) *Handler {
	return &Handler{jobSvc: jobSvc, facade: f, facadeTimeout: facadeTimeout, log: log}
}

type createJobDTO struct {
	JobType    entity.JobType  `json:"job_type"`
	InputData  json.RawMessage `json:"input_data"`
	MaxRetries *int            `json:"max_retries,omitempty"`
}

func (d createJobDTO) input() (entity.Input, error) {
	if len(d.InputData) == 0 {
		return nil, fmt.Errorf("%w: input_data is required", entity.ErrInvalidInput)
	}
	return entity.DecodeInput(d.JobType, d.InputData)
}

type createJobResp struct {
	JobID    string `json:"job_id"`
	Position int    `json:"position"`
}

type updateJobDTO struct {
	Action string `json:"action"`
}

type positionResp struct {
	JobID    string `json:"job_id"`
	Position int    `json:"position"`
}

func (h *Handler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// CreateJob godoc
// @Summary Enqueue a note generation job
// @Description Stores the job as queued with the priority of the caller's plan and returns its queue position.
// @Tags jobs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createJobDTO true "job_type: text_notes | file_notes | video_notes | youtube_notes"
// @Success 201 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Failure 429 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	in, err := dto.input()
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	res, err := h.jobSvc.Enqueue(r.Context(), service.EnqueueRequest{
		UserID:     UserIDFromContext(r.Context()),
		Input:      in,
		MaxRetries: dto.MaxRetries,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createJobResp{JobID: res.Job.ID.String(), Position: res.Position})
}

// ListJobs godoc
// @Summary List the caller's jobs
// @Tags jobs
// @Produce json
// @Security BearerAuth
// @Param status query string false "queued | processing | completed | failed | cancelled"
// @Param page query int false "1-based page" default(1)
// @Param limit query int false "page size, max 100" default(20)
// @Success 200 {object} service.Page
// @Failure 400 {object} apiError
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := entity.ListFilter{
		UserID: UserIDFromContext(r.Context()),
		Status: entity.JobStatus(q.Get("status")),
	}
	var err error
	if v := q.Get("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid page")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	page, err := h.jobSvc.ListJobs(r.Context(), f)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetStats godoc
// @Summary Queue statistics
// @Description Counts and average duration over the caller's jobs, or all jobs with scope=all. The wait estimate always covers the whole queue.
// @Tags jobs
// @Produce json
// @Security BearerAuth
// @Param scope query string false "all"
// @Success 200 {object} entity.Stats
// @Router /jobs/stats [get]
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if r.URL.Query().Get("scope") == "all" {
		userID = ""
	}
	st, err := h.jobSvc.Stats(r.Context(), userID)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Security BearerAuth
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 403 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	j, err := h.jobSvc.GetJob(r.Context(), id, UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// GetPosition godoc
// @Summary Queue position of a queued job
// @Tags jobs
// @Produce json
// @Security BearerAuth
// @Param id path string true "job id (uuid)"
// @Success 200 {object} positionResp
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/position [get]
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	pos, err := h.jobSvc.Position(r.Context(), id, UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResp{JobID: id.String(), Position: pos})
}

// UpdateJob godoc
// @Summary Cancel or retry a job
// @Description cancel is allowed while queued, retry while failed with retries left.
// @Tags jobs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "job id (uuid)"
// @Param request body updateJobDTO true "action: cancel | retry"
// @Success 200 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 403 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id} [patch]
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	var dto updateJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	userID := UserIDFromContext(r.Context())
	var (
		j   *entity.Job
		err error
	)
	switch dto.Action {
	case "cancel":
		j, err = h.jobSvc.Cancel(r.Context(), id, userID)
	case "retry":
		j, err = h.jobSvc.Retry(r.Context(), id, userID)
	default:
		writeErr(w, http.StatusBadRequest, "action must be cancel or retry")
		return
	}
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// Events godoc
// @Summary Stream job updates
// @Description Server-sent events for the caller's jobs. A resync event means updates were dropped and jobs should be re-read.
// @Tags jobs
// @Produce text/event-stream
// @Security BearerAuth
// @Success 200 {object} feed.Event
// @Router /jobs/events [get]
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub, err := h.jobSvc.Subscribe(UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error().Err(err).Msg("encode feed event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Kind, data); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

// CreateNotes godoc
// @Summary Generate notes and wait for the result
// @Description Enqueues a job like POST /jobs and blocks until a worker finishes it.
// @Tags notes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createJobDTO true "same payload as POST /jobs"
// @Success 200 {object} entity.NoteOutput
// @Failure 400 {object} apiError
// @Failure 422 {object} apiError
// @Failure 504 {object} apiError
// @Router /notes [post]
func (h *Handler) CreateNotes(w http.ResponseWriter, r *http.Request) {
	if h.facade == nil {
		writeErr(w, http.StatusNotImplemented, "synchronous notes are disabled")
		return
	}
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	in, err := dto.input()
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	ctx := r.Context()
	if h.facadeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.facadeTimeout)
		defer cancel()
	}

	out, err := facade.QueueRequest[entity.NoteOutput](ctx, h.facade, facade.Request{
		UserID: UserIDFromContext(r.Context()),
		Input:  in,
	}, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeErr(w, http.StatusGatewayTimeout, "notes were not ready in time")
			return
		}
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
