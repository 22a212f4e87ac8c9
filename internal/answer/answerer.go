// Package answer answers questions from retrieved conference passages and
// scores how relevant and grounded the answer is.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/retry"
	"github.com/bull/confrag/internal/vectorquery"
)

// ErrEmptyQuery is returned for a blank question.
var ErrEmptyQuery = errors.New("query text is empty")

// Stages reported by RagAnswerError.
const (
	StageEmbed    = "embed"
	StageRetrieve = "retrieve"
	StageGenerate = "generate"
)

// RagAnswerError is returned when a remote step of Ask failed after retries.
type RagAnswerError struct {
	Query     string
	ContentID string
	Stage     string
	Attempts  int
	Err       error
}

func (e *RagAnswerError) Error() string {
	scope := "all content"
	if e.ContentID != "" {
		scope = "content " + e.ContentID
	}
	return fmt.Sprintf("answer %s failed (%s, %d attempts): %v", scope, e.Stage, e.Attempts, e.Err)
}

func (e *RagAnswerError) Unwrap() error {
	return e.Err
}

// Querier retrieves ranked matches; *vectorquery.Querier satisfies it.
type Querier interface {
	Query(ctx context.Context, vector []float32, topK int, filters model.Filters, mode vectorquery.Mode) ([]model.Match, error)
}

// Options configures an Answerer.
type Options struct {
	TopK int
	// MinScore drops passages whose similarity is below it.
	MinScore float64
	// LowConfidenceThreshold flags answers whose relevance is below it.
	LowConfidenceThreshold float64
	SnippetMaxChars        int
	Retry                  retry.Policy
	Logger                 *slog.Logger
}

// Answerer runs embed, retrieve, generate and score for one question.
type Answerer struct {
	embedder  TextEmbedder
	querier   Querier
	generator Generator
	grounding GroundingScorer
	opts      Options
	logger    *slog.Logger
}

// New creates an answerer. A nil grounding scorer selects LexicalScorer.
func New(embedder TextEmbedder, querier Querier, generator Generator, grounding GroundingScorer, opts Options) *Answerer {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if grounding == nil {
		grounding = LexicalScorer{}
	}
	a := &Answerer{
		embedder:  embedder,
		querier:   querier,
		generator: generator,
		grounding: grounding,
		opts:      opts,
		logger:    opts.Logger,
	}
	if a.opts.Retry.OnRetry == nil {
		a.opts.Retry.OnRetry = func(err error, wait time.Duration) {
			a.logger.Warn("generation failed, retrying", "wait", wait, "error", err)
		}
	}
	return a
}

// Ask answers q. No passages above MinScore is not an error: the response
// is empty, scored zero and flagged low confidence, and the generator is
// not called.
func (a *Answerer) Ask(ctx context.Context, q model.RagQuery) (*model.RagResponse, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	filters := q.Filters
	if q.ContentID != "" {
		filters.ContentID = q.ContentID
	}
	fail := func(stage string, attempts int, err error) error {
		return &RagAnswerError{Query: text, ContentID: filters.ContentID, Stage: stage, Attempts: attempts, Err: err}
	}

	vectors, err := a.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fail(StageEmbed, 1, err)
	}

	matches, err := a.querier.Query(ctx, vectors[0], a.opts.TopK, filters, vectorquery.ModeChunk)
	if err != nil {
		return nil, fail(StageRetrieve, 1, err)
	}
	matches = aboveScore(matches, a.opts.MinScore)

	if len(matches) == 0 {
		a.logger.Info("no passages retrieved", "content_id", filters.ContentID)
		return &model.RagResponse{Passages: []model.Passage{}, LowConfidence: true}, nil
	}

	prompt := BuildPrompt(text, matches, a.opts.SnippetMaxChars)

	var answer string
	attempts, err := a.opts.Retry.Do(ctx, func(ctx context.Context) error {
		out, err := a.generator.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		answer = strings.TrimSpace(out)
		return nil
	})
	if err != nil {
		return nil, fail(StageGenerate, attempts, err)
	}

	relevance := Relevance(matches)
	grounding, err := a.grounding.Score(ctx, answer, matches)
	if err != nil {
		a.logger.Warn("grounding score failed", "error", err)
		grounding = 0
	}

	resp := &model.RagResponse{
		Answer:         answer,
		Passages:       Passages(matches),
		RelevanceScore: relevance,
		GroundingScore: clamp01(grounding),
		LowConfidence:  relevance < a.opts.LowConfidenceThreshold,
	}
	a.logger.Info("question answered",
		"content_id", filters.ContentID,
		"passages", len(resp.Passages),
		"relevance", resp.RelevanceScore,
		"grounding", resp.GroundingScore)
	return resp, nil
}

// Relevance is the mean similarity of the passages, clamped to [0, 1].
func Relevance(matches []model.Match) float64 {
	if len(matches) == 0 {
		return 0
	}
	var sum float64
	for _, m := range matches {
		sum += m.Score
	}
	return clamp01(sum / float64(len(matches)))
}

// Passages converts matches into response passages, keeping their order.
func Passages(matches []model.Match) []model.Passage {
	out := make([]model.Passage, len(matches))
	for i, m := range matches {
		out[i] = model.Passage{
			Source:     model.PassageSource(m.ContentID, m.ChunkID),
			ContentID:  m.ContentID,
			ChunkID:    m.ChunkID,
			Score:      m.Score,
			Title:      m.Title,
			SlideIndex: m.SlideIndex,
			PageIndex:  m.PageIndex,
		}
	}
	return out
}

func aboveScore(matches []model.Match, minScore float64) []model.Match {
	out := matches[:0:0]
	for _, m := range matches {
		if m.Score >= minScore {
			out = append(out, m)
		}
	}
	return out
}
