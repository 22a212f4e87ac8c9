package extract

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/bull/confrag/internal/model"
)

// Job is one file to extract.
type Job struct {
	File model.SourceFile
	Data []byte
}

// Result holds the chunks for one job, or the error that stopped it.
type Result struct {
	File   model.SourceFile
	Chunks []model.ContentChunk
	Err    error
}

// Pool runs extraction on a bounded number of goroutines.
type Pool struct {
	registry *Registry
	workers  int
	logger   *slog.Logger
}

// NewPool creates a pool. workers <= 0 means one worker per CPU.
func NewPool(registry *Registry, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{registry: registry, workers: workers, logger: logger}
}

// ExtractAll extracts every job and returns results in job order. A failed
// file does not stop the others; the returned error is only set when ctx
// is cancelled.
func (p *Pool) ExtractAll(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunks, err := p.registry.Extract(gctx, job.File, job.Data)
			if err != nil {
				p.logger.Warn("extraction failed",
					"file_id", job.File.ID,
					"filename", job.File.Filename,
					"error", err)
			}
			results[i] = Result{File: job.File, Chunks: chunks, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
