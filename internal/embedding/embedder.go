package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/retry"
)

const (
	// DefaultModel is the OpenAI model used for generating embeddings.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the vector dimension for text-embedding-3-small.
	DefaultDimension = 1536

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	// OpenAI supports up to 2048 texts per batch, but smaller batches reduce TPM pressure.
	DefaultBatchSize = 500

	// DefaultMaxInputTokens is the input limit of the OpenAI embedding models.
	DefaultMaxInputTokens = 8191

	// bytesPerToken approximates tokens for truncation without a tokenizer.
	bytesPerToken = 4
)

// ErrDimensionMismatch is wrapped by EmbeddingError when the model returns
// vectors of an unexpected length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// EmbeddingError reports texts that could not be embedded. Vectors for the
// texts that did succeed are kept in Partial, nil at failed positions.
type EmbeddingError struct {
	Model     string
	Failed    []int
	FailedIDs []string
	Partial   [][]float32
	Err       error
}

func (e *EmbeddingError) Error() string {
	if len(e.FailedIDs) > 0 {
		return fmt.Sprintf("embed with %s: %d texts failed (%s): %v",
			e.Model, len(e.Failed), strings.Join(e.FailedIDs, ", "), e.Err)
	}
	return fmt.Sprintf("embed with %s: %d texts failed: %v", e.Model, len(e.Failed), e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Options configures an Embedder. Zero values take the package defaults.
type Options struct {
	Model          string
	Dimension      int
	BatchSize      int
	MaxInputTokens int
	Retry          retry.Policy
	Logger         *slog.Logger
}

// Embedder generates embeddings in batches, truncating oversized input and
// retrying transient failures with exponential backoff.
type Embedder struct {
	backend   Backend
	model     string
	dimMu     sync.Mutex
	dimension int
	batchSize int
	maxBytes  int
	retry     retry.Policy
	logger    *slog.Logger
}

// NewEmbedder creates a new Embedder with the given backend.
func NewEmbedder(backend Backend, opts Options) *Embedder {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxInputTokens <= 0 {
		opts.MaxInputTokens = DefaultMaxInputTokens
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Embedder{
		backend:   backend,
		model:     opts.Model,
		dimension: opts.Dimension,
		batchSize: opts.BatchSize,
		maxBytes:  opts.MaxInputTokens * bytesPerToken,
		retry:     opts.Retry,
		logger:    opts.Logger,
	}
	if e.retry.OnRetry == nil {
		e.retry.OnRetry = func(err error, wait time.Duration) {
			e.logger.Warn("embedding call failed, retrying", "model", e.model, "wait", wait, "error", err)
		}
	}
	return e
}

// Model returns the embedding model id.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns one vector per text, in input order. On failure the
// returned error is an *EmbeddingError listing the failed positions.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var (
		failed   []int
		firstErr error
	)

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		batch := make([]string, end-i)
		for j, text := range texts[i:end] {
			batch[j] = Truncate(text, e.maxBytes)
		}

		embeddings, err := e.embedBatchWithRetry(ctx, batch)
		if err == nil {
			copy(vectors[i:end], embeddings)
			continue
		}

		e.logger.Warn("embedding batch failed", "model", e.model, "from", i, "to", end, "error", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		// Dimension mismatch and cancellation fail everything that is left.
		stop := errors.Is(err, ErrDimensionMismatch) || ctx.Err() != nil
		if stop {
			end = len(texts)
		}
		for j := i; j < end; j++ {
			failed = append(failed, j)
		}
		if stop {
			break
		}
	}

	if len(failed) > 0 {
		return nil, &EmbeddingError{Model: e.model, Failed: failed, Partial: vectors, Err: firstErr}
	}
	return vectors, nil
}

// EmbedChunks embeds chunk titles and text. Chunks without text are skipped,
// since they carry no retrievable content. On partial failure the successful
// embeddings are returned with an *EmbeddingError naming the failed chunk ids.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []model.ContentChunk) ([]model.Embedding, error) {
	var (
		texts []string
		ids   []string
	)
	for _, c := range chunks {
		text := ChunkText(c)
		if strings.TrimSpace(text) == "" {
			continue
		}
		texts = append(texts, text)
		ids = append(ids, c.ChunkID)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.Embed(ctx, texts)
	if err != nil {
		var embErr *EmbeddingError
		if !errors.As(err, &embErr) {
			return nil, err
		}
		vectors = embErr.Partial
		for _, idx := range embErr.Failed {
			embErr.FailedIDs = append(embErr.FailedIDs, ids[idx])
		}
		return e.toEmbeddings(ids, vectors), embErr
	}
	return e.toEmbeddings(ids, vectors), nil
}

func (e *Embedder) toEmbeddings(ids []string, vectors [][]float32) []model.Embedding {
	out := make([]model.Embedding, 0, len(ids))
	for i, v := range vectors {
		if v == nil {
			continue
		}
		out = append(out, model.Embedding{ChunkID: ids[i], ModelID: e.model, Vector: v})
	}
	return out
}

// embedBatchWithRetry generates embeddings for a single batch with retry logic.
// Retries with exponential backoff on timeouts, 408, 429 and 5xx.
// Other errors are treated as permanent and fail immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	_, err := e.retry.Do(ctx, func(ctx context.Context) error {
		result, err := e.backend.CreateEmbeddings(ctx, e.model, texts)
		if err != nil {
			return err
		}
		embeddings = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embeddings))
	}
	for _, v := range embeddings {
		if err := e.checkDimension(len(v)); err != nil {
			return nil, err
		}
	}
	return embeddings, nil
}

// checkDimension validates a vector length. Without a configured
// dimension the first vector seen fixes it.
func (e *Embedder) checkDimension(n int) error {
	e.dimMu.Lock()
	defer e.dimMu.Unlock()
	if e.dimension == 0 {
		e.dimension = n
	}
	if n != e.dimension {
		return fmt.Errorf("%w: model %s returned %d, expected %d", ErrDimensionMismatch, e.model, n, e.dimension)
	}
	return nil
}

// Dimension returns the expected vector length, or 0 if not yet known.
func (e *Embedder) Dimension() int {
	e.dimMu.Lock()
	defer e.dimMu.Unlock()
	return e.dimension
}

// ChunkText is the text embedded for a chunk: its title, then its body.
func ChunkText(c model.ContentChunk) string {
	switch {
	case c.Title == "":
		return c.Text
	case c.Text == "":
		return c.Title
	default:
		return c.Title + "\n" + c.Text
	}
}

// Truncate keeps the first maxBytes bytes of text, cut back to a UTF-8
// rune boundary. maxBytes <= 0 disables truncation.
func Truncate(text string, maxBytes int) string {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
