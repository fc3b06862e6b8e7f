// Package httpapi serves the job polling API over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ChuLiYu/replydraft/internal/controller"
	"github.com/ChuLiYu/replydraft/internal/jobmanager"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

const maxBodySize = 4 << 20 // 4MB

// Jobs is the job system behind the API. *controller.Controller
// implements it.
type Jobs interface {
	Submit(kind types.JobKind, payload any) (types.JobID, error)
	GetStatus(id types.JobID) (types.Job, error)
	Cancel(id types.JobID) (types.Job, error)
	List(filter jobmanager.Filter) []types.Job
	Stats() map[string]any
}

// Deps are the API's collaborators. Metrics is optional.
type Deps struct {
	Jobs    Jobs
	Metrics http.Handler
	Logger  *slog.Logger
}

// SubmitRequest is the body of POST /v1/jobs.
type SubmitRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// SubmitResponse carries the id to poll.
type SubmitResponse struct {
	JobID types.JobID `json:"job_id"`
}

// NewHandler builds the router:
//
//	POST   /v1/jobs       submit {kind, payload}
//	POST   /v1/drafts     submit a GenerateResponse job from a bare request
//	GET    /v1/jobs       list, filtered by user_id, state, kind
//	GET    /v1/jobs/{id}  poll
//	DELETE /v1/jobs/{id}  cancel
//	GET    /healthz       job and worker stats
//	GET    /metrics       when Deps.Metrics is set
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Post("/v1/jobs", handleSubmit(deps))
	r.Post("/v1/drafts", handleSubmitDraft(deps))
	r.Get("/v1/jobs", handleList(deps))
	r.Get("/v1/jobs/{id}", handleGet(deps))
	r.Delete("/v1/jobs/{id}", handleCancel(deps))
	r.Get("/healthz", handleHealth(deps))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	return r
}

func handleSubmit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if !readJSON(w, r, &req) {
			return
		}
		kind, err := types.ParseJobKind(req.Kind)
		if err != nil {
			writeError(w, err)
			return
		}
		payload, err := types.DecodePayload(kind, req.Payload)
		if err != nil {
			writeError(w, err)
			return
		}
		submit(w, deps, kind, payload)
	}
}

func handleSubmitDraft(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerationRequest
		if !readJSON(w, r, &req) {
			return
		}
		submit(w, deps, types.KindGenerateResponse, req)
	}
}

func submit(w http.ResponseWriter, deps Deps, kind types.JobKind, payload any) {
	id, err := deps.Jobs.Submit(kind, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	deps.Logger.Debug("job accepted", "job_id", id, "kind", kind)
	w.Header().Set("Location", "/v1/jobs/"+string(id))
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: id})
}

func handleGet(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.GetStatus(types.JobID(chi.URLParam(r, "id")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleCancel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.Cancel(types.JobID(chi.URLParam(r, "id")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleList(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := jobmanager.Filter{UserID: q.Get("user_id")}
		if v := q.Get("state"); v != "" {
			st, err := types.ParseJobState(v)
			if err != nil {
				writeError(w, err)
				return
			}
			filter.State = st
		}
		if v := q.Get("kind"); v != "" {
			kind, err := types.ParseJobKind(v)
			if err != nil {
				writeError(w, err)
				return
			}
			filter.Kind = kind
		}
		jobs := deps.Jobs.List(filter)
		if jobs == nil {
			jobs = []types.Job{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := deps.Jobs.Stats()
		stats["status"] = "ok"
		writeJSON(w, http.StatusOK, stats)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		httpError(w, http.StatusBadRequest, types.KindValidation, "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := types.ClassifyError(err)
	code := http.StatusInternalServerError
	switch {
	case kind == types.KindValidation:
		code = http.StatusBadRequest
	case kind == types.KindNotFound:
		code = http.StatusNotFound
	case errors.Is(err, controller.ErrControllerStopped):
		code = http.StatusServiceUnavailable
	}
	httpError(w, code, kind, "%v", err)
}

func httpError(w http.ResponseWriter, code int, kind types.ErrorKind, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    kind,
		},
	})
}
