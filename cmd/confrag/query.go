package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/service"
	"github.com/bull/confrag/internal/vectorquery"
)

var (
	queryTopK      int
	queryMode      string
	queryContentID string
	queryTracks    []string
	queryTags      []string
)

func filters() model.Filters {
	return model.Filters{ContentID: queryContentID, Tracks: queryTracks, Tags: queryTags}
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Similarity search over indexed chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: withService(func(ctx context.Context, svc *service.Service, args []string) error {
		mode, err := vectorquery.ParseMode(queryMode)
		if err != nil {
			return err
		}
		matches, err := svc.Query(ctx, service.QueryRequest{
			Text:    strings.Join(args, " "),
			TopK:    queryTopK,
			Filters: filters(),
			Mode:    mode,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(matches)
		}
		if len(matches) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for i, m := range matches {
			fmt.Printf("%d. %.3f %s\n", i+1, m.Score, model.PassageSource(m.ContentID, m.ChunkID))
			if m.Title != "" {
				fmt.Printf("   %s\n", m.Title)
			}
		}
		return nil
	}),
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed materials",
	Args:  cobra.MinimumNArgs(1),
	RunE: withService(func(ctx context.Context, svc *service.Service, args []string) error {
		resp, err := svc.Ask(ctx, model.RagQuery{
			Text:      strings.Join(args, " "),
			ContentID: queryContentID,
			Filters:   model.Filters{Tracks: queryTracks, Tags: queryTags},
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resp)
		}
		if resp.Answer == "" {
			fmt.Println("No relevant material found.")
			return nil
		}
		fmt.Println(resp.Answer)
		fmt.Println()
		for i, p := range resp.Passages {
			fmt.Printf("[%d] %s (%.3f)\n", i+1, p.Source, p.Score)
		}
		fmt.Printf("\nrelevance %.2f, grounding %.2f", resp.RelevanceScore, resp.GroundingScore)
		if resp.LowConfidence {
			fmt.Print(", low confidence")
		}
		fmt.Println()
		return nil
	}),
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the vector store",
	RunE: withService(func(ctx context.Context, svc *service.Service, _ []string) error {
		h := svc.Health(ctx)
		if jsonOutput {
			return printJSON(h)
		}
		fmt.Printf("status %s, vector store %s, points %d, embeddings %t\n", h.Status, h.VectorStore, h.Points, h.Embeddings)
		if h.Error != "" {
			return fmt.Errorf("vector store: %s", h.Error)
		}
		return nil
	}),
}

func init() {
	for _, cmd := range []*cobra.Command{queryCmd, askCmd} {
		cmd.Flags().StringVar(&queryContentID, "content", "", "restrict to one content item")
		cmd.Flags().StringSliceVar(&queryTracks, "track", nil, "restrict to these tracks")
		cmd.Flags().StringSliceVar(&queryTags, "tag", nil, "restrict to content with any of these tags")
	}
	queryCmd.Flags().IntVarP(&queryTopK, "top", "k", 0, "number of results (default: rag.top_k)")
	queryCmd.Flags().StringVar(&queryMode, "mode", "chunk", "chunk or content")
}
