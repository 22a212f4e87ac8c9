package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/retry"
	"github.com/bull/confrag/internal/vectorquery"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		// Texts mentioning "vector" point one way, the rest another.
		if strings.Contains(strings.ToLower(text), "vector") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

type fakeQuerier struct {
	matches []model.Match
	filters model.Filters
	mode    vectorquery.Mode
}

func (f *fakeQuerier) Query(_ context.Context, _ []float32, topK int, filters model.Filters, mode vectorquery.Mode) ([]model.Match, error) {
	f.filters = filters
	f.mode = mode
	if len(f.matches) > topK {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	answer   string
	failures int
	err      error
	calls    int
	prompts  []Prompt
}

func (f *fakeGenerator) Generate(_ context.Context, prompt Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.calls <= f.failures {
		return "", f.err
	}
	return f.answer, nil
}

func testPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func slide(i int) *int { return &i }

func sampleMatches() []model.Match {
	return []model.Match{
		{ChunkID: "chunk-1", ContentID: "conf-2025-001", Score: 0.9, SlideIndex: slide(2), Title: "Vector search",
			Text: "Qdrant stores embeddings and filters by track before ranking."},
		{ChunkID: "chunk-2", ContentID: "conf-2025-001", Score: 0.7, SlideIndex: slide(3),
			Text: "Batching embeddings keeps the OpenAI rate limits under control."},
	}
}

func TestAsk_NoPassagesSkipsGeneration(t *testing.T) {
	gen := &fakeGenerator{answer: "should not be used"}
	a := New(&fakeEmbedder{}, &fakeQuerier{}, gen, nil, Options{Retry: testPolicy(2)})

	resp, err := a.Ask(context.Background(), model.RagQuery{Text: "What is covered?"})
	require.NoError(t, err)
	assert.Empty(t, resp.Answer)
	assert.Zero(t, resp.RelevanceScore)
	assert.Zero(t, resp.GroundingScore)
	assert.True(t, resp.LowConfidence)
	assert.NotNil(t, resp.Passages)
	assert.Empty(t, resp.Passages)
	assert.Zero(t, gen.calls)
}

func TestAsk_PassagesBelowMinScoreCountAsNone(t *testing.T) {
	gen := &fakeGenerator{answer: "x"}
	q := &fakeQuerier{matches: []model.Match{{ChunkID: "c", ContentID: "d", Score: 0.1, Text: "noise"}}}
	a := New(&fakeEmbedder{}, q, gen, nil, Options{MinScore: 0.3, Retry: testPolicy(2)})

	resp, err := a.Ask(context.Background(), model.RagQuery{Text: "anything"})
	require.NoError(t, err)
	assert.True(t, resp.LowConfidence)
	assert.Zero(t, gen.calls)
}

func TestAsk_AnswersWithScores(t *testing.T) {
	gen := &fakeGenerator{answer: "Qdrant filters embeddings by track before ranking [1]."}
	q := &fakeQuerier{matches: sampleMatches()}
	a := New(&fakeEmbedder{}, q, gen, nil, Options{TopK: 5, LowConfidenceThreshold: 0.5, Retry: testPolicy(2)})

	resp, err := a.Ask(context.Background(), model.RagQuery{
		Text:      "How does vector search filter?",
		ContentID: "conf-2025-001",
		Filters:   model.Filters{Tracks: []string{"ai"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "conf-2025-001", q.filters.ContentID)
	assert.Equal(t, []string{"ai"}, q.filters.Tracks)
	assert.Equal(t, vectorquery.ModeChunk, q.mode)

	assert.Equal(t, gen.answer, resp.Answer)
	require.Len(t, resp.Passages, 2)
	assert.Equal(t, "conf-2025-001/chunk-1", resp.Passages[0].Source)
	assert.Equal(t, 0.9, resp.Passages[0].Score)
	assert.Equal(t, 2, *resp.Passages[0].SlideIndex)
	assert.InDelta(t, 0.8, resp.RelevanceScore, 1e-9)
	assert.Equal(t, 1.0, resp.GroundingScore)
	assert.False(t, resp.LowConfidence)

	require.Len(t, gen.prompts, 1)
	user := gen.prompts[0].User()
	assert.Contains(t, user, "[1] conf-2025-001/chunk-1 (slide 3)")
	assert.Contains(t, user, "[2] conf-2025-001/chunk-2 (slide 4)")
	assert.Contains(t, user, "Question: How does vector search filter?")
}

func TestAsk_LowRelevanceIsFlagged(t *testing.T) {
	gen := &fakeGenerator{answer: "Maybe."}
	q := &fakeQuerier{matches: []model.Match{{ChunkID: "c", ContentID: "d", Score: 0.35, Text: "Maybe."}}}
	a := New(&fakeEmbedder{}, q, gen, nil, Options{MinScore: 0.3, LowConfidenceThreshold: 0.5, Retry: testPolicy(1)})

	resp, err := a.Ask(context.Background(), model.RagQuery{Text: "?"})
	require.NoError(t, err)
	assert.True(t, resp.LowConfidence)
	assert.Equal(t, 1, gen.calls)
}

func TestAsk_GenerationRetriedThenFails(t *testing.T) {
	gen := &fakeGenerator{failures: 10, err: &retry.HTTPStatusError{StatusCode: 429}}
	a := New(&fakeEmbedder{}, &fakeQuerier{matches: sampleMatches()}, gen, nil, Options{Retry: testPolicy(3)})

	_, err := a.Ask(context.Background(), model.RagQuery{Text: "q", ContentID: "conf-2025-001"})
	var ragErr *RagAnswerError
	require.ErrorAs(t, err, &ragErr)
	assert.Equal(t, StageGenerate, ragErr.Stage)
	assert.Equal(t, 3, ragErr.Attempts)
	assert.Equal(t, "conf-2025-001", ragErr.ContentID)
	assert.Equal(t, 3, gen.calls)
}

func TestAsk_GenerationRecovers(t *testing.T) {
	gen := &fakeGenerator{answer: "ok answer", failures: 1, err: retry.Transient(errors.New("reset"))}
	a := New(&fakeEmbedder{}, &fakeQuerier{matches: sampleMatches()}, gen, nil, Options{Retry: testPolicy(3)})

	resp, err := a.Ask(context.Background(), model.RagQuery{Text: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok answer", resp.Answer)
	assert.Equal(t, 2, gen.calls)
}

func TestAsk_EmbeddingFailure(t *testing.T) {
	a := New(&fakeEmbedder{err: errors.New("boom")}, &fakeQuerier{}, &fakeGenerator{}, nil, Options{Retry: testPolicy(1)})
	_, err := a.Ask(context.Background(), model.RagQuery{Text: "q"})
	var ragErr *RagAnswerError
	require.ErrorAs(t, err, &ragErr)
	assert.Equal(t, StageEmbed, ragErr.Stage)
}

func TestAsk_EmptyQuery(t *testing.T) {
	a := New(&fakeEmbedder{}, &fakeQuerier{}, &fakeGenerator{}, nil, Options{})
	_, err := a.Ask(context.Background(), model.RagQuery{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestLexicalScorer(t *testing.T) {
	passages := []model.Match{{Text: "The keynote covered retrieval pipelines and Qdrant."}}

	score, err := LexicalScorer{}.Score(context.Background(), "The keynote covered Qdrant [1].", passages)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	score, err = LexicalScorer{}.Score(context.Background(), "Kubernetes operators were covered.", passages)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, score, 1e-9)

	score, err = LexicalScorer{}.Score(context.Background(), "", passages)
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestSemanticScorer(t *testing.T) {
	s := NewSemanticScorer(&fakeEmbedder{})
	passages := []model.Match{{Text: "unrelated"}, {Text: "vector indexes"}}

	score, err := s.Score(context.Background(), "vector answer", passages)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)

	score, err = s.Score(context.Background(), "vector answer", passages[:1])
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestNewGroundingScorer(t *testing.T) {
	g, err := NewGroundingScorer("", nil)
	require.NoError(t, err)
	assert.IsType(t, LexicalScorer{}, g)

	g, err = NewGroundingScorer(GroundingSemantic, &fakeEmbedder{})
	require.NoError(t, err)
	assert.IsType(t, &SemanticScorer{}, g)

	_, err = NewGroundingScorer(GroundingSemantic, nil)
	assert.Error(t, err)
	_, err = NewGroundingScorer("citation", nil)
	assert.Error(t, err)
}

func TestBuildPrompt_TruncatesSnippets(t *testing.T) {
	matches := []model.Match{{ChunkID: "c1", ContentID: "d1", Text: strings.Repeat("a", 50)}}
	p := BuildPrompt("q", matches, 10)
	assert.Contains(t, p.User(), strings.Repeat("a", 10)+"...(truncated)")
	assert.NotContains(t, p.User(), strings.Repeat("a", 11))
}

func TestRelevance_Clamped(t *testing.T) {
	assert.Equal(t, 1.0, Relevance([]model.Match{{Score: 1.2}, {Score: 1.0}}))
	assert.Zero(t, Relevance(nil))
}
