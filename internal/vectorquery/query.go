// Package vectorquery ranks indexed chunks by similarity to a query vector.
package vectorquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/bull/confrag/internal/model"
)

// Mode selects chunk-level or content-level results.
type Mode int

const (
	// ModeChunk returns every matching chunk.
	ModeChunk Mode = iota
	// ModeContent returns only the best chunk of each content item.
	ModeContent
)

func (m Mode) String() string {
	switch m {
	case ModeChunk:
		return "chunk"
	case ModeContent:
		return "content"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "chunk" or "content". Empty means chunk.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "chunk":
		return ModeChunk, nil
	case "content":
		return ModeContent, nil
	default:
		return ModeChunk, fmt.Errorf("unknown query mode %q", s)
	}
}

// ErrEmptyVector is returned for a query without a vector.
var ErrEmptyVector = errors.New("query vector is empty")

// Index is a vector index that applies filters before ranking and returns
// at most limit matches.
type Index interface {
	Search(ctx context.Context, vector []float32, limit int, filters model.Filters) ([]model.Match, error)
}

const (
	contentOverfetch = 3
	maxFetch         = 10000
)

// Querier runs top-K queries against an Index.
type Querier struct {
	index  Index
	logger *slog.Logger
}

// NewQuerier creates a querier over index.
func NewQuerier(index Index, logger *slog.Logger) *Querier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Querier{index: index, logger: logger}
}

// Query returns at most topK matches sorted by descending score, ties broken
// by ascending chunk id. In ModeContent each content id appears once.
func (q *Querier) Query(ctx context.Context, vector []float32, topK int, filters model.Filters, mode Mode) ([]model.Match, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if topK <= 0 {
		return []model.Match{}, nil
	}

	limit := topK
	if mode == ModeContent {
		limit = topK * contentOverfetch
	}

	for {
		matches, err := q.index.Search(ctx, vector, limit, filters)
		if err != nil {
			return nil, fmt.Errorf("search index: %w", err)
		}
		SortMatches(matches)

		if mode == ModeChunk {
			return head(matches, topK), nil
		}

		best := BestPerContent(matches)
		// Fewer results than requested means the index is exhausted.
		if len(best) >= topK || len(matches) < limit || limit >= maxFetch {
			return head(best, topK), nil
		}
		q.logger.Debug("content dedup below topK, widening search",
			"top_k", topK, "limit", limit, "contents", len(best))
		limit = min(limit*2, maxFetch)
	}
}

// SortMatches orders matches by score descending, then chunk id ascending.
func SortMatches(matches []model.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
}

// BestPerContent keeps the first match of each content id. Input must
// already be sorted.
func BestPerContent(matches []model.Match) []model.Match {
	seen := make(map[string]bool, len(matches))
	out := make([]model.Match, 0, len(matches))
	for _, m := range matches {
		if seen[m.ContentID] {
			continue
		}
		seen[m.ContentID] = true
		out = append(out, m)
	}
	return out
}

func head(matches []model.Match, n int) []model.Match {
	if len(matches) > n {
		return matches[:n]
	}
	if matches == nil {
		return []model.Match{}
	}
	return matches
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
