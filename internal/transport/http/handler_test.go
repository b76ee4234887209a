package httptransport_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"note-queue-service/internal/entity"
	"note-queue-service/internal/facade"
	"note-queue-service/internal/feed"
	"note-queue-service/internal/repository/sqlstore"
	"note-queue-service/internal/service"
	"note-queue-service/internal/subscription"
	httptransport "note-queue-service/internal/transport/http"
	"note-queue-service/internal/worker"
)

const testSecret = "test-secret"

// ---- helpers ----

type testEnv struct {
	router http.Handler
	jobs   *service.JobService
	reg    *worker.Registry
}

type envOptions struct {
	rateLimit int
	workers   bool
	timeout   time.Duration
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	db, err := sqlstore.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log := zerolog.Nop()
	broker := feed.NewBroker(log, 16)
	store := service.NewObservedStore(sqlstore.NewJobStore(db), broker, log)
	bell := service.NewLocalDoorbell()
	plans := subscription.Static{Plans: map[string]entity.Tier{"pro-user": entity.TierPro}}
	jobs := service.NewJobService(store, plans, bell, broker, service.Options{Workers: 2, MaxRetries: 2}, log)
	reg := worker.NewRegistry()

	if opts.workers {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		pool := worker.NewPool(store, worker.NewProcessor(store, reg, false, log), bell, 1, 50*time.Millisecond, log)
		go func() {
			pool.Run(ctx)
			close(done)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	f := facade.New(jobs, reg, log, facade.WithReconcileInterval(100*time.Millisecond))
	h := httptransport.NewHandler(jobs, f, opts.timeout, log)
	router := httptransport.Routes(h, httptransport.RouteConfig{
		JWTSecret:       testSecret,
		CORSOrigins:     []string{"*"},
		RateLimitPerMin: opts.rateLimit,
		Log:             log,
	})
	return &testEnv{router: router, jobs: jobs, reg: reg}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func textJob(text string) map[string]any {
	return map[string]any{
		"job_type":   "text_notes",
		"input_data": map[string]any{"title": "Lecture", "text": text},
	}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

type createResp struct {
	JobID    string `json:"job_id"`
	Position int    `json:"position"`
}

// ---- tests ----

func TestHTTP_Health(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	rr := e.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rr.Code, rr.Body.String())
	}
}

func TestHTTP_RequiresToken(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	rr := e.do(t, http.MethodGet, "/jobs", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr = httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rr.Code)
	}
}

func TestHTTP_CreateJob_201_PositionAndPriority(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	rr := e.do(t, http.MethodPost, "/jobs", "free-user", textJob("first"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	first := decode[createResp](t, rr)
	if first.Position != 1 {
		t.Fatalf("expected position 1, got %d", first.Position)
	}

	// a pro job jumps ahead of the free one
	rr = e.do(t, http.MethodPost, "/jobs", "pro-user", textJob("second"))
	second := decode[createResp](t, rr)
	if second.Position != 1 {
		t.Fatalf("expected pro job at position 1, got %d", second.Position)
	}

	rr = e.do(t, http.MethodGet, "/jobs/"+first.JobID+"/position", "free-user", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("position: %d %s", rr.Code, rr.Body.String())
	}
	if pos := decode[createResp](t, rr); pos.Position != 2 {
		t.Fatalf("expected free job at position 2, got %d", pos.Position)
	}

	rr = e.do(t, http.MethodGet, "/jobs/"+second.JobID, "pro-user", nil)
	j := decode[entity.Job](t, rr)
	if j.Priority != entity.PriorityHigh || j.Status != entity.StatusQueued {
		t.Fatalf("unexpected job %+v", j)
	}
}

func TestHTTP_CreateJob_400(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	cases := []struct {
		name string
		body any
	}{
		{"unknown type", map[string]any{"job_type": "poem", "input_data": map[string]any{"text": "x"}}},
		{"missing input", map[string]any{"job_type": "text_notes"}},
		{"empty text", textJob("   ")},
		{"bad youtube url", map[string]any{"job_type": "youtube_notes", "input_data": map[string]any{"url": "not a url"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := e.do(t, http.MethodPost, "/jobs", "u1", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+token(t, "u1"))
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on invalid json, got %d", rr.Code)
	}
}

func TestHTTP_GetJob_Errors(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	created := decode[createResp](t, e.do(t, http.MethodPost, "/jobs", "owner", textJob("mine")))

	if rr := e.do(t, http.MethodGet, "/jobs/not-a-uuid", "owner", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/jobs/"+uuid.NewString(), "owner", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/jobs/"+created.JobID, "intruder", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestHTTP_UpdateJob_CancelThenConflict(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	created := decode[createResp](t, e.do(t, http.MethodPost, "/jobs", "u1", textJob("x")))
	path := "/jobs/" + created.JobID

	rr := e.do(t, http.MethodPatch, path, "u1", map[string]string{"action": "cancel"})
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rr.Code, rr.Body.String())
	}
	if j := decode[entity.Job](t, rr); j.Status != entity.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", j.Status)
	}

	if rr := e.do(t, http.MethodPatch, path, "u1", map[string]string{"action": "cancel"}); rr.Code != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodPatch, path, "u1", map[string]string{"action": "retry"}); rr.Code != http.StatusConflict {
		t.Fatalf("retry cancelled: expected 409, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodPatch, path, "u1", map[string]string{"action": "explode"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown action: expected 400, got %d", rr.Code)
	}
}

func TestHTTP_ListJobs_FilterAndPaging(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	for i := 0; i < 3; i++ {
		e.do(t, http.MethodPost, "/jobs", "u1", textJob(fmt.Sprintf("job %d", i)))
	}
	e.do(t, http.MethodPost, "/jobs", "u2", textJob("other"))

	rr := e.do(t, http.MethodGet, "/jobs?status=queued&page=1&limit=2", "u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rr.Code, rr.Body.String())
	}
	page := decode[service.Page](t, rr)
	if page.Total != 3 || len(page.Jobs) != 2 || page.Limit != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	for _, j := range page.Jobs {
		if j.UserID != "u1" {
			t.Fatalf("leaked job of %s", j.UserID)
		}
	}

	if rr := e.do(t, http.MethodGet, "/jobs?status=sleeping", "u1", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/jobs?page=abc", "u1", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page, got %d", rr.Code)
	}

	rr = e.do(t, http.MethodGet, "/jobs", "nobody", nil)
	if !strings.Contains(rr.Body.String(), `"jobs":[]`) {
		t.Fatalf("expected empty array, got %s", rr.Body.String())
	}
}

func TestHTTP_Stats(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	e.do(t, http.MethodPost, "/jobs", "u1", textJob("a"))
	e.do(t, http.MethodPost, "/jobs", "u2", textJob("b"))

	rr := e.do(t, http.MethodGet, "/jobs/stats", "u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats: %d %s", rr.Code, rr.Body.String())
	}
	st := decode[entity.Stats](t, rr)
	if st.CountsByStatus[entity.StatusQueued] != 1 {
		t.Fatalf("expected 1 queued for u1, got %v", st.CountsByStatus)
	}
	// two text jobs of 30s each over two workers
	if st.EstimatedWaitTimeSeconds != 30 {
		t.Fatalf("expected wait 30, got %v", st.EstimatedWaitTimeSeconds)
	}

	all := decode[entity.Stats](t, e.do(t, http.MethodGet, "/jobs/stats?scope=all", "u1", nil))
	if all.CountsByStatus[entity.StatusQueued] != 2 {
		t.Fatalf("expected 2 queued overall, got %v", all.CountsByStatus)
	}
}

func TestHTTP_RateLimit_429(t *testing.T) {
	e := newTestEnv(t, envOptions{rateLimit: 2})

	for i := 0; i < 2; i++ {
		if rr := e.do(t, http.MethodPost, "/jobs", "u1", textJob("x")); rr.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, rr.Code)
		}
	}
	rr := e.do(t, http.MethodPost, "/jobs", "u1", textJob("x"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// limits are per user and reads are not limited
	if rr := e.do(t, http.MethodPost, "/jobs", "u2", textJob("x")); rr.Code != http.StatusCreated {
		t.Fatalf("other user: expected 201, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/jobs", "u1", nil); rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
}

func TestHTTP_CreateNotes(t *testing.T) {
	e := newTestEnv(t, envOptions{workers: true, timeout: 5 * time.Second})
	e.reg.Register(entity.JobTypeTextNotes, worker.HandlerFunc(func(ctx context.Context, job *entity.Job, in entity.Input, progress worker.ProgressFunc) (any, error) {
		text := in.(entity.TextInput).Text
		if text == "fail" {
			return nil, errors.New("model unavailable")
		}
		return entity.NoteOutput{Title: "Lecture", Content: "# " + text, Summary: text}, nil
	}))

	rr := e.do(t, http.MethodPost, "/notes", "u1", textJob("photosynthesis"))
	if rr.Code != http.StatusOK {
		t.Fatalf("notes: %d %s", rr.Code, rr.Body.String())
	}
	if out := decode[entity.NoteOutput](t, rr); out.Content != "# photosynthesis" {
		t.Fatalf("unexpected notes %+v", out)
	}

	rr = e.do(t, http.MethodPost, "/notes", "u1", textJob("fail"))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "model unavailable") {
		t.Fatalf("expected handler message, got %s", rr.Body.String())
	}
}

func TestHTTP_CreateNotes_Timeout504(t *testing.T) {
	e := newTestEnv(t, envOptions{timeout: 150 * time.Millisecond}) // no workers

	rr := e.do(t, http.MethodPost, "/notes", "u1", textJob("slow"))
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", rr.Code, rr.Body.String())
	}

	page := decode[service.Page](t, e.do(t, http.MethodGet, "/jobs", "u1", nil))
	if len(page.Jobs) != 1 || page.Jobs[0].Status != entity.StatusCancelled {
		t.Fatalf("expected the abandoned job to be cancelled, got %+v", page.Jobs)
	}
}

func TestHTTP_Events_StreamsOwnJobs(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL + "/jobs/events?access_token=" + token(t, "u1"))
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	e.do(t, http.MethodPost, "/jobs", "u2", textJob("not for u1"))
	created := decode[createResp](t, e.do(t, http.MethodPost, "/jobs", "u1", textJob("for u1")))

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev feed.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.UserID != "u1" {
			t.Fatalf("received event of %s", ev.UserID)
		}
		if ev.JobID.String() != created.JobID || ev.Status != entity.StatusQueued {
			t.Fatalf("unexpected event %+v", ev)
		}
		return
	}
	t.Fatalf("stream ended without event: %v", sc.Err())
}
