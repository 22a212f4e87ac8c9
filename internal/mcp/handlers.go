package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/confrag/internal/dispatch"
	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
	"github.com/bull/confrag/internal/service"
	"github.com/bull/confrag/internal/tracker"
	"github.com/bull/confrag/internal/vectorquery"
)

const (
	defaultMaxResults = 5
	maxMaxResults     = 20
	snippetChars      = 300
)

// makeAskHandler creates the ask_question tool handler. An answer with no
// passages is a normal result carrying an explanatory message.
func makeAskHandler(backend Backend, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, AskQuestionInput,
) (*mcp.CallToolResult, AskQuestionOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskQuestionInput) (
		*mcp.CallToolResult, AskQuestionOutput, error,
	) {
		resp, err := backend.Ask(ctx, model.RagQuery{
			Text:      input.Question,
			ContentID: input.ContentID,
			Filters:   model.Filters{Tracks: input.Tracks, Tags: input.Tags},
		})
		if err != nil {
			logger.Warn("ask_question failed", "content_id", input.ContentID, "error", err)
			return nil, AskQuestionOutput{}, fmt.Errorf("failed to answer question: %w", err)
		}

		out := AskQuestionOutput{
			Answer:         resp.Answer,
			Passages:       resp.Passages,
			RelevanceScore: resp.RelevanceScore,
			GroundingScore: resp.GroundingScore,
			LowConfidence:  resp.LowConfidence,
		}
		if out.Passages == nil {
			out.Passages = []model.Passage{}
		}
		if len(out.Passages) == 0 {
			out.Message = "No relevant conference material found. Try a broader question or remove filters."
		}
		return nil, out, nil
	}
}

// makeSearchHandler creates the search_materials tool handler.
func makeSearchHandler(backend Backend) func(
	context.Context, *mcp.CallToolRequest, SearchMaterialsInput,
) (*mcp.CallToolResult, SearchMaterialsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchMaterialsInput) (
		*mcp.CallToolResult, SearchMaterialsOutput, error,
	) {
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = defaultMaxResults
		}
		maxResults = min(maxResults, maxMaxResults)

		mode := vectorquery.ModeChunk
		if input.PerContent {
			mode = vectorquery.ModeContent
		}
		matches, err := backend.Query(ctx, service.QueryRequest{
			Text: input.Query,
			TopK: maxResults,
			Filters: model.Filters{
				ContentID: input.ContentID,
				Tracks:    input.Tracks,
				Tags:      input.Tags,
			},
			Mode: mode,
		})
		if err != nil {
			return nil, SearchMaterialsOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]SearchResult, 0, len(matches))
		for _, m := range matches {
			if m.Score < input.MinScore {
				continue
			}
			results = append(results, SearchResult{
				Source:     model.PassageSource(m.ContentID, m.ChunkID),
				ContentID:  m.ContentID,
				ChunkID:    m.ChunkID,
				FileID:     m.FileID,
				Score:      m.Score,
				Title:      m.Title,
				SlideIndex: m.SlideIndex,
				PageIndex:  m.PageIndex,
				Snippet:    snippet(m.Text),
			})
		}

		if len(results) == 0 {
			return nil, SearchMaterialsOutput{
				Results: []SearchResult{},
				Message: "No matching materials found. Try broader search terms.",
			}, nil
		}
		return nil, SearchMaterialsOutput{Results: results}, nil
	}
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetChars {
		return text
	}
	return string(runes[:snippetChars]) + "..."
}

// makeDispatchHandler creates the dispatch_content tool handler. Conflicts
// and already indexed content are reported in the output, not as errors.
func makeDispatchHandler(backend Backend) func(
	context.Context, *mcp.CallToolRequest, DispatchContentInput,
) (*mcp.CallToolResult, DispatchContentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DispatchContentInput) (
		*mcp.CallToolResult, DispatchContentOutput, error,
	) {
		out := DispatchContentOutput{ContentID: input.ContentID}
		taskID, err := backend.Dispatch(ctx, input.ContentID)

		var conflict *dispatch.DispatchConflictError
		switch {
		case err == nil:
			out.Status = string(model.TaskSubmitted)
			out.TaskID = taskID
		case errors.As(err, &conflict):
			out.Status = "conflict"
			out.ActiveTaskID = conflict.ActiveTaskID
			out.Message = conflict.Error()
		case errors.Is(err, dispatch.ErrNothingToDispatch):
			out.Status = "nothing_to_dispatch"
			out.Message = "Every file of this content item is already indexed."
		default:
			return nil, DispatchContentOutput{}, fmt.Errorf("dispatch failed: %w", err)
		}
		return nil, out, nil
	}
}

// makeCheckHandler creates the check_task tool handler.
func makeCheckHandler(backend Backend) func(
	context.Context, *mcp.CallToolRequest, CheckTaskInput,
) (*mcp.CallToolResult, CheckTaskOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CheckTaskInput) (
		*mcp.CallToolResult, CheckTaskOutput, error,
	) {
		_, err := backend.Check(ctx, input.TaskID)
		var unknown *tracker.TaskStatusUnknownError
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, CheckTaskOutput{TaskID: input.TaskID, Found: false}, nil
		case err != nil && !errors.As(err, &unknown):
			return nil, CheckTaskOutput{}, fmt.Errorf("check failed: %w", err)
		}

		task, err := backend.Task(ctx, input.TaskID)
		if err != nil {
			return nil, CheckTaskOutput{}, fmt.Errorf("failed to load task: %w", err)
		}
		return nil, CheckTaskOutput{
			TaskID:    task.TaskID,
			Found:     true,
			Status:    string(task.Status),
			SessionID: task.SessionID,
			Attempts:  task.Attempts,
			Message:   task.Message,
		}, nil
	}
}
