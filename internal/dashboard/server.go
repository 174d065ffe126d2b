// Package dashboard serves the HTTP API: health, job submission and
// inspection, and scheduler statistics.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"kernelq/internal/job"
	"kernelq/internal/runtime/supervisor"
	logx "kernelq/pkg/logx"
)

// JobStore is the slice of the job store the API needs.
type JobStore interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	ListRecent(ctx context.Context, limit int) ([]job.Job, error)
	CountByStatus(ctx context.Context) (map[job.Status]int64, error)
}

// ExecStates looks up a job's execution checkpoint.
type ExecStates interface {
	FindByJob(ctx context.Context, jobID string) (*job.ExecutionState, error)
}

// QueueInfo exposes the queue's health and depth probes.
type QueueInfo interface {
	Ping(ctx context.Context) error
	Depths(ctx context.Context) (map[int]int64, error)
	DelayedLen(ctx context.Context) (int64, error)
}

// Snapshotter exposes the scheduler's goroutine diagnostics.
type Snapshotter interface {
	Snapshot() supervisor.SupervisorSnapshot
}

// Options carries the resolved server settings.
type Options struct {
	Addr               string
	CORSAllowedOrigins []string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:8080"
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 30 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	return o
}

// Server is the dashboard HTTP server.
type Server struct {
	opts   Options
	jobs   JobStore
	states ExecStates
	queue  QueueInfo
	sched  Snapshotter

	// PingDB checks the job store's backing connection for /healthz.
	pingDB func(ctx context.Context) error

	// knownType reports whether a handler is registered for the type.
	knownType func(t job.Type) bool

	log logx.Logger
	srv *http.Server
}

func NewServer(opts Options, jobs JobStore, states ExecStates, queue QueueInfo, sched Snapshotter,
	pingDB func(ctx context.Context) error, knownType func(t job.Type) bool, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if knownType == nil {
		knownType = func(job.Type) bool { return true }
	}
	return &Server{
		opts:      opts.withDefaults(),
		jobs:      jobs,
		states:    states,
		queue:     queue,
		sched:     sched,
		pingDB:    pingDB,
		knownType: knownType,
		log:       log,
	}
}

// Router builds the chi handler (exposed for httptest).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(s.opts.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// Start begins serving in the background.
func (s *Server) Start() error {
	if s.srv != nil {
		return errors.New("dashboard already started")
	}
	s.srv = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}
	go func() {
		s.log.Info("dashboard listening", logx.String("addr", s.opts.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("dashboard server failed", logx.Err(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.srv = nil
	return err
}
