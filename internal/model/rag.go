package model

// Filters restricts retrieval to chunks whose content matches the given
// metadata. Empty fields do not filter.
type Filters struct {
	ContentID string   `json:"content_id,omitempty"`
	Tracks    []string `json:"tracks,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.ContentID == "" && len(f.Tracks) == 0 && len(f.Tags) == 0
}

// Match is one ranked result of a vector query.
type Match struct {
	ChunkID    string  `json:"chunk_id"`
	ContentID  string  `json:"content_id"`
	FileID     string  `json:"file_id"`
	Score      float64 `json:"score"`
	Ordinal    int     `json:"ordinal"`
	SlideIndex *int    `json:"slide_index,omitempty"`
	PageIndex  *int    `json:"page_index,omitempty"`
	Title      string  `json:"title,omitempty"`
	Text       string  `json:"text"`
}

// RagQuery is a question, optionally scoped to one content item.
type RagQuery struct {
	Text      string  `json:"query"`
	ContentID string  `json:"content_id,omitempty"`
	Filters   Filters `json:"filters,omitempty"`
}

// Passage identifies a retrieved chunk in a RagResponse.
type Passage struct {
	Source     string  `json:"source"`
	ContentID  string  `json:"content_id"`
	ChunkID    string  `json:"chunk_id"`
	Score      float64 `json:"score"`
	Title      string  `json:"title,omitempty"`
	SlideIndex *int    `json:"slide_index,omitempty"`
	PageIndex  *int    `json:"page_index,omitempty"`
}

// RagResponse is a generated answer with its supporting passages and scores.
type RagResponse struct {
	Answer         string    `json:"answer"`
	Passages       []Passage `json:"passages"`
	RelevanceScore float64   `json:"relevanceScore"`
	GroundingScore float64   `json:"groundingScore"`
	LowConfidence  bool      `json:"lowConfidence"`
}

// PassageSource formats the deep-link source tag of a chunk.
func PassageSource(contentID, chunkID string) string {
	return contentID + "/" + chunkID
}
