// Package processor is the indexing service the dispatcher submits to. It
// queues indexing payloads, runs them through the pipeline on a bounded
// number of workers and reports task status.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/bull/confrag/internal/dispatch"
	"github.com/bull/confrag/internal/indexer"
	"github.com/bull/confrag/internal/model"
)

// ErrQueueFull is reported as 503 so submitters retry later.
var ErrQueueFull = errors.New("indexing queue is full")

// Indexer indexes a set of files; *indexer.Pipeline satisfies it.
type Indexer interface {
	IndexFiles(ctx context.Context, content *model.Content, files []model.SourceFile) (*indexer.IndexResult, error)
}

type queued struct {
	taskID  string
	payload dispatch.Payload
}

// Options configures a Server.
type Options struct {
	Workers   int
	QueueSize int
	// JobTimeout bounds one queued indexing job.
	JobTimeout time.Duration
	Logger     *slog.Logger
}

// Server serves the indexer endpoint and the single-file process endpoint.
type Server struct {
	router  *chi.Mux
	indexer Indexer
	jobs    *jobTable
	queue   chan queued
	opts    Options
	logger  *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(idx Indexer, opts Options) *Server {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		router:  chi.NewRouter(),
		indexer: idx,
		jobs:    newJobTable(),
		queue:   make(chan queued, opts.QueueSize),
		opts:    opts,
		logger:  opts.Logger,
		stopCh:  make(chan struct{}),
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(s.accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/index", s.handleSubmit)
		r.Get("/index/{taskID}", s.handleStatus)
		r.Post("/process", s.handleProcess)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) {
	s.logger.Info("indexing workers starting", "workers", s.opts.Workers, "queue", s.opts.QueueSize)
	for range s.opts.Workers {
		s.wg.Add(1)
		go s.worker(ctx)
	}
}

// Stop stops accepting queued work and waits for running jobs.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("indexing workers stopped")
}

func (s *Server) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case q := <-s.queue:
			s.run(ctx, q.taskID, q.payload)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) run(ctx context.Context, taskID string, payload dispatch.Payload) {
	s.jobs.set(taskID, JobProcessing, "")

	ctx, cancel := context.WithTimeout(ctx, s.opts.JobTimeout)
	defer cancel()

	content, files := indexer.FromFileRefs(payload.SessionID, payload.FileList)
	result, err := s.indexer.IndexFiles(ctx, content, files)
	switch {
	case err != nil:
		s.jobs.set(taskID, JobError, err.Error())
	case len(result.FailedFiles) > 0:
		s.jobs.set(taskID, JobError, failureMessage(result))
	default:
		s.jobs.set(taskID, JobCompleted, fmt.Sprintf("indexed %d files, %d chunks", result.SuccessfulFiles, result.TotalChunks))
	}
}

// enqueue registers a job and queues it without blocking.
func (s *Server) enqueue(payload dispatch.Payload) (string, error) {
	taskID := uuid.NewString()
	s.jobs.put(&job{TaskID: taskID, SessionID: payload.SessionID, Status: JobSubmitted})

	select {
	case s.queue <- queued{taskID: taskID, payload: payload}:
		return taskID, nil
	default:
		s.jobs.remove(taskID)
		return "", ErrQueueFull
	}
}

func failureMessage(result *indexer.IndexResult) string {
	parts := make([]string, len(result.FailedFiles))
	for i, f := range result.FailedFiles {
		parts[i] = f.FileID + ": " + f.Reason
	}
	return fmt.Sprintf("%d of %d files failed: %s", len(result.FailedFiles), result.TotalFiles, strings.Join(parts, "; "))
}

func (s *Server) accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
