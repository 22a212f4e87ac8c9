// Package service wires the pipeline components from configuration and
// exposes the operations the binaries and the MCP server call.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bull/confrag/internal/answer"
	"github.com/bull/confrag/internal/blob"
	"github.com/bull/confrag/internal/config"
	"github.com/bull/confrag/internal/dispatch"
	"github.com/bull/confrag/internal/embedding"
	"github.com/bull/confrag/internal/extract"
	"github.com/bull/confrag/internal/indexer"
	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
	"github.com/bull/confrag/internal/repository/firestore"
	"github.com/bull/confrag/internal/repository/memory"
	"github.com/bull/confrag/internal/repository/sqlite"
	"github.com/bull/confrag/internal/retry"
	"github.com/bull/confrag/internal/storage"
	"github.com/bull/confrag/internal/tracker"
	"github.com/bull/confrag/internal/vectorquery"
)

// ErrEmbeddingUnavailable is returned by operations that need embeddings
// when no OpenAI key is configured.
var ErrEmbeddingUnavailable = errors.New("embedding backend not configured (OPENAI_API_KEY)")

// Options replaces components that would otherwise be built from config.
type Options struct {
	Logger           *slog.Logger
	Repository       repository.Repository
	Index            storage.Index
	EmbeddingBackend embedding.Backend
	Generator        answer.Generator
	Submitter        dispatch.TaskSubmitter
	Checker          tracker.StatusChecker
	Blobs            *blob.Mux
}

// Service holds the wired components.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	repo       repository.Repository
	blobs      *blob.Mux
	registry   *extract.Registry
	pool       *extract.Pool
	embedder   *embedding.Embedder
	index      storage.Index
	querier    *vectorquery.Querier
	dispatcher *dispatch.Dispatcher
	tracker    *tracker.Tracker
	answerer   *answer.Answerer
	pipeline   *indexer.Pipeline
	validator  *model.FieldValidator
	resultLog  *tracker.ResultLog

	closers []func() error
}

// New builds a service. On error every component opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *Service, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Metadata == nil {
		cfg.Metadata = model.DefaultFieldSchema()
	}
	s := &Service{cfg: cfg, logger: logger, validator: model.NewFieldValidator(cfg.Metadata)}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if err := s.openRepository(ctx, opts.Repository); err != nil {
		return nil, err
	}
	if err := s.openIndex(ctx, opts.Index); err != nil {
		return nil, err
	}
	s.openBlobs(ctx, opts.Blobs)

	s.registry = extract.NewDefaultRegistry()
	s.pool = extract.NewPool(s.registry, cfg.ExtractWorkers, logger)

	backend := opts.EmbeddingBackend
	var openaiClient *embedding.Client
	if backend == nil && cfg.OpenAI.APIKey != "" {
		openaiClient, err = embedding.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		backend = openaiClient
	}
	if backend != nil {
		s.embedder = embedding.NewEmbedder(backend, embedding.Options{
			Model:          cfg.OpenAI.EmbeddingModel,
			Dimension:      cfg.OpenAI.Dimension,
			BatchSize:      cfg.OpenAI.BatchSize,
			MaxInputTokens: cfg.OpenAI.MaxInputTokens,
			Retry:          s.policy(cfg.Timeouts.Embedding),
			Logger:         logger,
		})
	}

	s.querier = vectorquery.NewQuerier(s.index, logger)
	s.pipeline = indexer.NewPipeline(s.repo, s.blobs, s.pool, s.chunkEmbedder(), s.index, logger)

	submitter := opts.Submitter
	if submitter == nil {
		submitter = s.newSubmitter()
	}
	s.dispatcher = dispatch.New(s.repo, submitter, dispatch.Options{
		Retry:          s.policy(cfg.Timeouts.Submit),
		SubmitInterval: cfg.Indexer.SubmitInterval,
		ClaimTTL:       cfg.Indexer.ClaimTTL,
		Concurrency:    cfg.Concurrency,
		Logger:         logger,
	})

	if cfg.Tracker.ResultLogPath != "" {
		s.resultLog, err = tracker.OpenResultLog(cfg.Tracker.ResultLogPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.resultLog.Close)
	}
	checker := opts.Checker
	if checker == nil {
		checker = s.newChecker()
	}
	s.tracker = tracker.New(s.repo, checker, tracker.Options{
		MaxChecks:   cfg.Tracker.MaxChecks,
		MaxPending:  cfg.Tracker.MaxPending,
		Retry:       s.policy(cfg.Timeouts.StatusCheck),
		ResultLog:   s.resultLog,
		Concurrency: cfg.Concurrency,
		Logger:      logger,
	})

	if s.embedder != nil {
		generator := opts.Generator
		if generator == nil && openaiClient != nil {
			generator = answer.NewGenerator(openaiClient.Client(), cfg.OpenAI.ChatModel, 0, logger)
		}
		if generator != nil {
			grounding, err := answer.NewGroundingScorer(cfg.RAG.Grounding, s.embedder)
			if err != nil {
				return nil, err
			}
			s.answerer = answer.New(s.embedder, s.querier, generator, grounding, answer.Options{
				TopK:                   cfg.RAG.TopK,
				MinScore:               cfg.RAG.MinScore,
				LowConfidenceThreshold: cfg.RAG.LowConfidenceThreshold,
				SnippetMaxChars:        cfg.RAG.SnippetMaxChars,
				Retry:                  s.policy(cfg.Timeouts.Generation),
				Logger:                 logger,
			})
		}
	}

	logger.Info("service ready",
		"repository", cfg.Repository.Backend,
		"vector_store", cfg.VectorStore.Type,
		"indexer_mode", cfg.Indexer.Mode,
		"embeddings", s.embedder != nil,
		"answers", s.answerer != nil)
	return s, nil
}

func (s *Service) openRepository(ctx context.Context, repo repository.Repository) error {
	if repo == nil {
		switch s.cfg.Repository.Backend {
		case "firestore":
			fs, err := firestore.New(ctx, s.cfg.Repository.ProjectID, s.cfg.Repository.DatabaseID)
			if err != nil {
				return err
			}
			repo = fs
		case "sqlite":
			db, err := sqlite.New(s.cfg.Repository.Path)
			if err != nil {
				return err
			}
			repo = db
		default:
			repo = memory.New()
		}
	}
	s.repo = repo
	s.closers = append(s.closers, repo.Close)
	return nil
}

func (s *Service) openIndex(ctx context.Context, index storage.Index) error {
	if index == nil {
		switch s.cfg.VectorStore.Type {
		case "qdrant":
			q, err := storage.NewQdrantStorage(ctx, s.cfg.VectorStore.Host, s.cfg.VectorStore.Port,
				s.cfg.VectorStore.Collection, s.cfg.OpenAI.Dimension)
			if err != nil {
				return err
			}
			if err := q.EnsureCollection(ctx); err != nil {
				q.Close()
				return err
			}
			index = q
		default:
			index = storage.NewMemoryStorage(s.cfg.OpenAI.Dimension)
		}
	}
	s.index = index
	s.closers = append(s.closers, index.Close)
	return nil
}

// openBlobs registers every backend that can be created. Missing cloud
// credentials only disable that scheme.
func (s *Service) openBlobs(ctx context.Context, mux *blob.Mux) {
	if mux != nil {
		s.blobs = mux
		return
	}
	s.blobs = blob.NewMux()

	httpReader := blob.NewHTTPReader(nil)
	s.blobs.Register("http", httpReader)
	s.blobs.Register("https", httpReader)

	if gcs, err := blob.NewGCSReader(ctx); err != nil {
		s.logger.Warn("gs:// storage unavailable", "error", err)
	} else {
		s.blobs.Register("gs", gcs)
		s.closers = append(s.closers, gcs.Close)
	}

	if gh, err := blob.NewGitHubReader(s.cfg.GitHubToken); err != nil {
		s.logger.Warn("github:// storage unavailable", "error", err)
	} else {
		s.blobs.Register("github", gh)
	}
}

func (s *Service) newSubmitter() dispatch.TaskSubmitter {
	if s.cfg.Indexer.Mode == "http" {
		return dispatch.NewHTTPSubmitter(s.cfg.Indexer.Endpoint, &http.Client{Timeout: s.cfg.Timeouts.Submit})
	}
	return dispatch.NewNoopSubmitter(s.logger)
}

func (s *Service) newChecker() tracker.StatusChecker {
	if s.cfg.Indexer.Mode == "http" {
		return tracker.NewHTTPChecker(s.cfg.Indexer.Endpoint, &http.Client{Timeout: s.cfg.Timeouts.StatusCheck})
	}
	return tracker.NoopChecker{}
}

func (s *Service) policy(callTimeout time.Duration) retry.Policy {
	return retry.Policy{
		MaxAttempts:     s.cfg.Retry.MaxAttempts,
		InitialInterval: s.cfg.Retry.InitialInterval,
		MaxInterval:     s.cfg.Retry.MaxInterval,
		CallTimeout:     callTimeout,
	}
}

func (s *Service) chunkEmbedder() indexer.ChunkEmbedder {
	if s.embedder == nil {
		return unavailableEmbedder{}
	}
	return s.embedder
}

type unavailableEmbedder struct{}

func (unavailableEmbedder) EmbedChunks(context.Context, []model.ContentChunk) ([]model.Embedding, error) {
	return nil, ErrEmbeddingUnavailable
}

// Close releases every opened component in reverse order.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Service) Config() *config.Config { return s.cfg }
func (s *Service) Logger() *slog.Logger { return s.logger }
func (s *Service) Repository() repository.Repository { return s.repo }
func (s *Service) Pipeline() *indexer.Pipeline { return s.pipeline }
func (s *Service) Tracker() *tracker.Tracker { return s.tracker }
