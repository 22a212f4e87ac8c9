package vectorquery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/confrag/internal/model"
)

// fakeIndex returns its matches filtered by content id, best first, cut to limit.
type fakeIndex struct {
	matches []model.Match
	limits  []int
	err     error
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, limit int, filters model.Filters) ([]model.Match, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Match
	for _, m := range f.matches {
		if filters.ContentID != "" && m.ContentID != filters.ContentID {
			continue
		}
		out = append(out, m)
	}
	SortMatches(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestQuery_SortedWithTieBreak(t *testing.T) {
	index := &fakeIndex{matches: []model.Match{
		{ChunkID: "c", ContentID: "x", Score: 0.5},
		{ChunkID: "b", ContentID: "x", Score: 0.9},
		{ChunkID: "a", ContentID: "y", Score: 0.5},
		{ChunkID: "d", ContentID: "y", Score: 0.1},
	}}
	q := NewQuerier(index, nil)

	got, err := q.Query(context.Background(), []float32{1}, 3, model.Filters{}, ModeChunk)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ChunkID)
	assert.Equal(t, "a", got[1].ChunkID)
	assert.Equal(t, "c", got[2].ChunkID)
}

func TestQuery_ContentModeDedup(t *testing.T) {
	index := &fakeIndex{matches: []model.Match{
		{ChunkID: "1", ContentID: "talk-a", Score: 0.99},
		{ChunkID: "2", ContentID: "talk-a", Score: 0.98},
		{ChunkID: "3", ContentID: "talk-a", Score: 0.97},
		{ChunkID: "4", ContentID: "talk-a", Score: 0.96},
		{ChunkID: "5", ContentID: "talk-b", Score: 0.50},
	}}
	q := NewQuerier(index, nil)

	got, err := q.Query(context.Background(), []float32{1}, 2, model.Filters{}, ModeContent)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "talk-a", got[0].ContentID)
	assert.Equal(t, "1", got[0].ChunkID)
	assert.Equal(t, "talk-b", got[1].ContentID)
	assert.Equal(t, []int{6}, index.limits)
}

func TestQuery_ContentModeWidensSearch(t *testing.T) {
	var matches []model.Match
	for i := 0; i < 10; i++ {
		matches = append(matches, model.Match{ChunkID: string(rune('a' + i)), ContentID: "big", Score: 0.9})
	}
	matches = append(matches, model.Match{ChunkID: "z", ContentID: "small", Score: 0.1})
	index := &fakeIndex{matches: matches}
	q := NewQuerier(index, nil)

	got, err := q.Query(context.Background(), []float32{1}, 2, model.Filters{}, ModeContent)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "small", got[1].ContentID)
	assert.Equal(t, []int{6, 12}, index.limits)
}

func TestQuery_ChunkModeKeepsDuplicates(t *testing.T) {
	index := &fakeIndex{matches: []model.Match{
		{ChunkID: "1", ContentID: "talk-a", Score: 0.9},
		{ChunkID: "2", ContentID: "talk-a", Score: 0.8},
	}}
	got, err := NewQuerier(index, nil).Query(context.Background(), []float32{1}, 5, model.Filters{}, ModeChunk)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestQuery_Errors(t *testing.T) {
	q := NewQuerier(&fakeIndex{err: errors.New("down")}, nil)

	_, err := q.Query(context.Background(), nil, 5, model.Filters{}, ModeChunk)
	assert.ErrorIs(t, err, ErrEmptyVector)

	_, err = q.Query(context.Background(), []float32{1}, 5, model.Filters{}, ModeChunk)
	assert.ErrorContains(t, err, "down")

	got, err := q.Query(context.Background(), []float32{1}, 0, model.Filters{}, ModeChunk)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("content")
	require.NoError(t, err)
	assert.Equal(t, ModeContent, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeChunk, m)

	_, err = ParseMode("document")
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 1}))
}
