package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/replydraft/internal/controller"
	"github.com/ChuLiYu/replydraft/internal/jobmanager"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

type fakeJobs struct {
	jobs      map[types.JobID]types.Job
	submitted []any
	filter    jobmanager.Filter
	submitErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[types.JobID]types.Job{}}
}

func (f *fakeJobs) Submit(kind types.JobKind, payload any) (types.JobID, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if v, ok := payload.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return "", err
		}
	}
	f.submitted = append(f.submitted, payload)
	id := types.JobID("job-1")
	f.jobs[id] = types.Job{ID: id, Kind: kind, State: types.StatePending}
	return id, nil
}

func (f *fakeJobs) GetStatus(id types.JobID) (types.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return types.Job{}, jobmanager.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobs) Cancel(id types.JobID) (types.Job, error) {
	job, err := f.GetStatus(id)
	if err != nil {
		return job, err
	}
	if !job.State.IsTerminal() {
		job.State = types.StateCancelled
		job.CancelRequested = true
		f.jobs[id] = job
	}
	return job, nil
}

func (f *fakeJobs) List(filter jobmanager.Filter) []types.Job {
	f.filter = filter
	var out []types.Job
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeJobs) Stats() map[string]any {
	return map[string]any{"workers": 4, "PENDING": len(f.jobs)}
}

func do(t *testing.T, h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, url, nil)
	} else {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Type
}

func TestSubmit(t *testing.T) {
	jobs := newFakeJobs()
	h := NewHandler(Deps{Jobs: jobs})

	rec := do(t, h, http.MethodPost, "/v1/jobs", `{"kind":"analyze","payload":{"user_id":"u1","messages":[{"body":"hi"}]}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/v1/jobs/job-1", rec.Header().Get("Location"))

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.JobID("job-1"), resp.JobID)

	require.Len(t, jobs.submitted, 1)
	req, ok := jobs.submitted[0].(types.AnalyzeRequest)
	require.True(t, ok)
	assert.Equal(t, "u1", req.UserID)
}

func TestSubmitRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"kind":`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"unknown kind", `{"kind":"translate","payload":{}}`, http.StatusBadRequest},
		{"missing payload", `{"kind":"generate"}`, http.StatusBadRequest},
		{"invalid payload", `{"kind":"generate","payload":{"message":{"body":"  "}}}`, http.StatusBadRequest},
		{"too many messages", `{"kind":"analyze","payload":{"messages":[` + strings.Repeat(`{"body":"x"},`, types.MaxAnalyzeMessages) + `{"body":"x"}]}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newFakeJobs()
			rec := do(t, NewHandler(Deps{Jobs: jobs}), http.MethodPost, "/v1/jobs", tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, string(types.KindValidation), errorType(t, rec))
			assert.Empty(t, jobs.submitted)
		})
	}
}

func TestSubmitDraft(t *testing.T) {
	jobs := newFakeJobs()
	h := NewHandler(Deps{Jobs: jobs})

	rec := do(t, h, http.MethodPost, "/v1/drafts", `{"user_id":"u1","message":{"sender":"a@b.c","subject":"Hi","body":"Lunch?"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, jobs.submitted, 1)
	assert.Equal(t, "Lunch?", jobs.submitted[0].(types.GenerationRequest).Message.Body)
	assert.Equal(t, types.KindGenerateResponse, jobs.jobs["job-1"].Kind)
}

func TestSubmitWhileStopped(t *testing.T) {
	jobs := newFakeJobs()
	jobs.submitErr = controller.ErrControllerStopped

	rec := do(t, NewHandler(Deps{Jobs: jobs}), http.MethodPost, "/v1/drafts", `{"message":{"body":"x"}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetAndCancel(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["done"] = types.Job{ID: "done", State: types.StateSucceeded, Result: json.RawMessage(`{"text":"ok"}`)}
	jobs.jobs["running"] = types.Job{ID: "running", State: types.StateRunning, Progress: "drafting reply"}
	h := NewHandler(Deps{Jobs: jobs})

	rec := do(t, h, http.MethodGet, "/v1/jobs/done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, types.StateSucceeded, job.State)
	assert.JSONEq(t, `{"text":"ok"}`, string(job.Result))

	rec = do(t, h, http.MethodDelete, "/v1/jobs/running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, types.StateCancelled, job.State)

	rec = do(t, h, http.MethodGet, "/v1/jobs/running", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, types.StateCancelled, job.State)

	rec = do(t, h, http.MethodGet, "/v1/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.KindNotFound), errorType(t, rec))

	rec = do(t, h, http.MethodDelete, "/v1/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestList(t *testing.T) {
	jobs := newFakeJobs()
	h := NewHandler(Deps{Jobs: jobs})

	rec := do(t, h, http.MethodGet, "/v1/jobs?user_id=u1&state=RUNNING&kind=generate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs":[]}`, rec.Body.String())
	assert.Equal(t, jobmanager.Filter{UserID: "u1", State: types.StateRunning, Kind: types.KindGenerateResponse}, jobs.filter)

	rec = do(t, h, http.MethodGet, "/v1/jobs?state=DONE", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("replydraft_jobs_submitted_total 1\n"))
	})
	h := NewHandler(Deps{Jobs: newFakeJobs(), Metrics: metrics})

	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "ok", stats["status"])
	assert.Equal(t, float64(4), stats["workers"])

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "replydraft_jobs_submitted_total")

	rec = do(t, NewHandler(Deps{Jobs: newFakeJobs()}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
