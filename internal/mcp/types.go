// Package mcp exposes the conference materials pipeline as MCP tools.
package mcp

import "github.com/bull/confrag/internal/model"

// AskQuestionInput defines the input parameters for the ask_question tool.
type AskQuestionInput struct {
	// Question is the natural-language question.
	Question string `json:"question" jsonschema:"The question to answer from the conference materials"`
	// ContentID scopes retrieval to one talk or workshop.
	ContentID string `json:"content_id,omitempty" jsonschema:"Restrict retrieval to this content item"`
	Tracks    []string `json:"tracks,omitempty" jsonschema:"Restrict retrieval to these tracks"`
	Tags      []string `json:"tags,omitempty" jsonschema:"Restrict retrieval to content carrying any of these tags"`
}

// AskQuestionOutput is the generated answer with its sources and scores.
type AskQuestionOutput struct {
	Answer         string          `json:"answer"`
	Passages       []model.Passage `json:"passages"`
	RelevanceScore float64         `json:"relevanceScore"`
	GroundingScore float64         `json:"groundingScore"`
	LowConfidence  bool            `json:"lowConfidence"`
	// Message explains an empty answer.
	Message string `json:"message,omitempty"`
}

// SearchMaterialsInput defines the input parameters for the search_materials tool.
type SearchMaterialsInput struct {
	Query string `json:"query" jsonschema:"The semantic search query"`
	// MaxResults is the maximum number of results to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"Maximum number of results (1-20, default 5)"`
	// MinScore is the minimum similarity threshold (0-1).
	MinScore  float64  `json:"min_score,omitempty" jsonschema:"Minimum similarity score (0-1)"`
	ContentID string   `json:"content_id,omitempty" jsonschema:"Restrict the search to this content item"`
	Tracks    []string `json:"tracks,omitempty" jsonschema:"Restrict the search to these tracks"`
	Tags      []string `json:"tags,omitempty" jsonschema:"Restrict the search to content carrying any of these tags"`
	// PerContent returns only the best chunk of each content item.
	PerContent bool `json:"per_content,omitempty" jsonschema:"Return one result per content item"`
}

// SearchMaterialsOutput contains the search results.
type SearchMaterialsOutput struct {
	Results []SearchResult `json:"results"`
	Message string         `json:"message,omitempty"`
}

// SearchResult is one matching chunk.
type SearchResult struct {
	Source     string  `json:"source"`
	ContentID  string  `json:"content_id"`
	ChunkID    string  `json:"chunk_id"`
	FileID     string  `json:"file_id"`
	Score      float64 `json:"score"`
	Title      string  `json:"title,omitempty"`
	SlideIndex *int    `json:"slide_index,omitempty"`
	PageIndex  *int    `json:"page_index,omitempty"`
	Snippet    string  `json:"snippet"`
}

// DispatchContentInput defines the input parameters for the dispatch_content tool.
type DispatchContentInput struct {
	ContentID string `json:"content_id" jsonschema:"The content item whose pending files are sent to the indexer"`
}

// DispatchContentOutput reports the submission.
type DispatchContentOutput struct {
	ContentID string `json:"content_id"`
	// Status is submitted, conflict or nothing_to_dispatch.
	Status       string `json:"status"`
	TaskID       string `json:"task_id,omitempty"`
	ActiveTaskID string `json:"active_task_id,omitempty"`
	Message      string `json:"message,omitempty"`
}

// CheckTaskInput defines the input parameters for the check_task tool.
type CheckTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"The indexing task to check"`
}

// CheckTaskOutput is the task state after the check.
type CheckTaskOutput struct {
	TaskID    string `json:"task_id"`
	Found     bool   `json:"found"`
	Status    string `json:"status,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Attempts  int    `json:"attempts"`
	Message   string `json:"message,omitempty"`
}
