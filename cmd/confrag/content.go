package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/confrag/internal/indexer"
	"github.com/bull/confrag/internal/service"
)

var importCmd = &cobra.Command{
	Use:   "import <manifest.yaml>",
	Short: "Import content items and their files from a manifest",
	Args:  cobra.ExactArgs(1),
	RunE: withService(func(ctx context.Context, svc *service.Service, args []string) error {
		m, err := service.LoadManifest(args[0])
		if err != nil {
			return err
		}
		ids, err := svc.ImportManifest(ctx, m)
		if jsonOutput {
			if perr := printJSON(map[string]any{"imported": ids}); perr != nil {
				return perr
			}
			return err
		}
		fmt.Printf("Imported %d/%d content items\n", len(ids), len(m.Contents))
		return err
	}),
}

var extractCmd = &cobra.Command{
	Use:   "extract <file-id>",
	Short: "Extract the chunks of one stored file without indexing it",
	Args:  cobra.ExactArgs(1),
	RunE: withService(func(ctx context.Context, svc *service.Service, args []string) error {
		chunks, err := svc.Extract(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(chunks)
		}
		for _, c := range chunks {
			loc := ""
			switch {
			case c.SlideIndex != nil:
				loc = fmt.Sprintf(" slide %d", *c.SlideIndex)
			case c.PageIndex != nil:
				loc = fmt.Sprintf(" page %d", *c.PageIndex)
			}
			fmt.Printf("[%d]%s %s\n%s\n\n", c.Ordinal, loc, c.Title, c.Text)
		}
		return nil
	}),
}

var (
	indexFiles   []string
	indexReplace bool
)

var indexCmd = &cobra.Command{
	Use:   "index <content-id>...",
	Short: "Index content items locally: read, extract, embed and upsert",
	Args:  cobra.MinimumNArgs(1),
	RunE: withService(func(ctx context.Context, svc *service.Service, args []string) error {
		var errs []error
		for _, id := range args {
			result, err := svc.Index(ctx, id, indexer.ContentOptions{FileIDs: indexFiles, Replace: indexReplace})
			if err != nil {
				errs = append(errs, err)
				fmt.Printf("%s: %v\n", id, err)
				continue
			}
			if jsonOutput {
				if err := printJSON(result); err != nil {
					return err
				}
				continue
			}
			fmt.Printf("%s: files %d/%d, chunks %d, %s\n", id,
				result.SuccessfulFiles, result.TotalFiles, result.TotalChunks, result.Duration.Round(time.Millisecond))
			for _, f := range result.FailedFiles {
				fmt.Printf("  - %s (%s): %s\n", f.FileID, f.Filename, f.Reason)
			}
		}
		return errors.Join(errs...)
	}),
}

func init() {
	indexCmd.Flags().StringSliceVar(&indexFiles, "file", nil, "index only these file ids")
	indexCmd.Flags().BoolVar(&indexReplace, "replace", false, "delete the content's existing points first")
}
