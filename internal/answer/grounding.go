package answer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/vectorquery"
)

// Grounding strategies selectable from config.
const (
	GroundingLexical  = "lexical"
	GroundingSemantic = "semantic"
)

// GroundingScorer measures how much of an answer is attributable to the
// passages it was generated from. Scores are in [0, 1].
type GroundingScorer interface {
	Score(ctx context.Context, answer string, passages []model.Match) (float64, error)
}

// LexicalScorer scores the share of the answer's distinct content words
// that appear in at least one passage.
type LexicalScorer struct{}

func (LexicalScorer) Score(_ context.Context, answer string, passages []model.Match) (float64, error) {
	answerTokens := tokenSet(answer)
	if len(answerTokens) == 0 {
		return 0, nil
	}

	passageTokens := make(map[string]struct{})
	for _, p := range passages {
		for tok := range tokenSet(p.Text) {
			passageTokens[tok] = struct{}{}
		}
	}

	found := 0
	for tok := range answerTokens {
		if _, ok := passageTokens[tok]; ok {
			found++
		}
	}
	return float64(found) / float64(len(answerTokens)), nil
}

// TextEmbedder embeds texts; *embedding.Embedder satisfies it.
type TextEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SemanticScorer scores the best cosine similarity between the answer
// and any passage.
type SemanticScorer struct {
	embedder TextEmbedder
}

func NewSemanticScorer(embedder TextEmbedder) *SemanticScorer {
	return &SemanticScorer{embedder: embedder}
}

func (s *SemanticScorer) Score(ctx context.Context, answer string, passages []model.Match) (float64, error) {
	if strings.TrimSpace(answer) == "" || len(passages) == 0 {
		return 0, nil
	}

	texts := make([]string, 0, len(passages)+1)
	texts = append(texts, answer)
	for _, p := range passages {
		texts = append(texts, p.Text)
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed answer and passages: %w", err)
	}

	best := 0.0
	for _, v := range vectors[1:] {
		if sim := vectorquery.Cosine(vectors[0], v); sim > best {
			best = sim
		}
	}
	return clamp01(best), nil
}

// NewGroundingScorer returns the scorer for a strategy name. Empty selects
// lexical.
func NewGroundingScorer(strategy string, embedder TextEmbedder) (GroundingScorer, error) {
	switch strings.ToLower(strategy) {
	case "", GroundingLexical:
		return LexicalScorer{}, nil
	case GroundingSemantic:
		if embedder == nil {
			return nil, fmt.Errorf("semantic grounding requires an embedder")
		}
		return NewSemanticScorer(embedder), nil
	default:
		return nil, fmt.Errorf("unknown grounding strategy %q", strategy)
	}
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these",
		"those", "from", "into", "about", "than", "so", "such", "can", "will", "just", "should", "not", "no",
		"do", "does", "did", "has", "have", "had", "which", "what", "who", "how", "when", "where", "also",
		"they", "their", "there", "we", "you", "he", "she", "i", "our", "your",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

var citationPattern = regexp.MustCompile(`\[\d+\]`)

// tokenSet lowercases text, splits on anything that is not a letter or
// digit and drops stopwords, single characters and citation markers.
func tokenSet(text string) map[string]struct{} {
	text = citationPattern.ReplaceAllString(text, " ")
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
