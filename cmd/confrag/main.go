// Package main provides the confrag CLI for importing, indexing and querying
// conference materials.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/confrag/internal/config"
	"github.com/bull/confrag/internal/service"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "confrag",
	Short: "Conference materials indexing and question answering",
	Long: `CLI for the conference materials pipeline.

Environment variables:
  OPENAI_API_KEY        OpenAI API key for embeddings and answers
  QDRANT_HOST           Qdrant hostname (default: localhost)
  QDRANT_PORT           Qdrant gRPC port (default: 6334)
  VECTOR_STORE          qdrant or memory (default: qdrant)
  REPOSITORY_BACKEND    memory or firestore (default: memory)
  FIRESTORE_PROJECT_ID  Firestore project when the backend is firestore
  INDEXER_MODE          noop or http (default: noop)
  INDEXER_API_ENDPOINT  Indexer endpoint in http mode
  RESULT_LOG_PATH       SQLite task result log (default: task_results.db)
  GITHUB_TOKEN          GitHub token for github:// files (optional)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "confrag.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(
		importCmd,
		extractCmd,
		indexCmd,
		dispatchCmd,
		checkCmd,
		reconcileCmd,
		watchCmd,
		queryCmd,
		askCmd,
		healthCmd,
	)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openService loads the config and builds the service. The caller closes it.
func openService(ctx context.Context) (*service.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	svc, err := service.New(ctx, cfg, service.Options{Logger: cfg.NewLogger()})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return svc, nil
}

// withService runs fn against a freshly built service.
func withService(fn func(ctx context.Context, svc *service.Service, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		return fn(ctx, svc, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
