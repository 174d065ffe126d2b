package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kernelq/internal/job"
	"kernelq/internal/store"
	logx "kernelq/pkg/logx"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context5s(r)
	defer cancel()

	checks := map[string]string{"redis": "ok", "postgres": "ok"}
	healthy := true
	if s.queue != nil {
		if err := s.queue.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}
	if s.pingDB != nil {
		if err := s.pingDB(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		}
	}
	code := http.StatusOK
	status := "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	jobs, err := s.jobs.ListRecent(r.Context(), limit)
	if err != nil {
		s.log.Warn("job listing failed", logx.Err(err))
		writeErr(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

type createJobRequest struct {
	Type              string          `json:"type"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	Priority          *int            `json:"priority,omitempty"`
	DelayMs           int64           `json:"delay_ms,omitempty"`
	ExecutionTimeSecs float64         `json:"execution_time_secs,omitempty"`
	MaxRetries        *int            `json:"max_retries,omitempty"`
}

// handleCreateJob writes the Job Store only; the promoter notices the new
// PENDING record on its next scan. No queue access from the API path.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request body: "+err.Error())
		return
	}

	typ := job.Type(strings.ToUpper(strings.TrimSpace(req.Type)))
	if typ == "" {
		writeErr(w, http.StatusBadRequest, "type is required")
		return
	}
	if !s.knownType(typ) {
		writeErr(w, http.StatusBadRequest, "unknown job type: "+string(typ))
		return
	}
	priority := 5
	if req.Priority != nil {
		priority = *req.Priority
	}
	maxRetries := 3
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	j, err := job.New(typ, req.Payload, priority, req.DelayMs, req.ExecutionTimeSecs, maxRetries)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.jobs.Create(r.Context(), j); err != nil {
		s.log.Warn("job create failed", logx.Err(err))
		writeErr(w, http.StatusInternalServerError, "create failed")
		return
	}
	s.log.Info("job submitted",
		logx.String("job_id", j.ID),
		logx.String("type", string(j.Type)),
		logx.Int("priority", j.Priority),
	)
	writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.Warn("job lookup failed", logx.String("job_id", id), logx.Err(err))
		writeErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := map[string]any{"job": j}
	if s.states != nil {
		pcb, err := s.states.FindByJob(r.Context(), id)
		switch {
		case err == nil:
			resp["execution_state"] = pcb
		case errors.Is(err, store.ErrNotFound):
			// Never attempted; no checkpoint exists yet.
		default:
			s.log.Warn("execution state lookup failed", logx.String("job_id", id), logx.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]any{}

	counts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		s.log.Warn("status counts failed", logx.Err(err))
		writeErr(w, http.StatusInternalServerError, "stats failed")
		return
	}
	resp["status_counts"] = counts

	if s.queue != nil {
		if depths, err := s.queue.Depths(ctx); err == nil {
			resp["lane_depths"] = depths
		}
		if n, err := s.queue.DelayedLen(ctx); err == nil {
			resp["delayed"] = n
		}
	}
	if s.sched != nil {
		resp["scheduler"] = s.sched.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func context5s(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 5*time.Second)
}
