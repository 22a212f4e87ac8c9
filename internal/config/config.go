// Package config loads runtime settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bull/confrag/internal/model"
)

// Config is the root application configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Retry       RetryConfig       `yaml:"retry"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Repository  RepositoryConfig  `yaml:"repository"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	RAG         RAGConfig         `yaml:"rag"`
	Server      ServerConfig      `yaml:"server"`
	GitHubToken string            `yaml:"-"`
	// Concurrency bounds parallel network-bound work (dispatches, checks, files).
	Concurrency int `yaml:"concurrency"`
	// ExtractWorkers bounds CPU-bound extraction; 0 means runtime.NumCPU().
	ExtractWorkers int                `yaml:"extract_workers"`
	Metadata       *model.FieldSchema `yaml:"metadata_schema,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OpenAIConfig configures the embedding and generation models.
type OpenAIConfig struct {
	APIKey         string `yaml:"-"`
	BaseURL        string `yaml:"base_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	Dimension      int    `yaml:"dimension"`
	BatchSize      int    `yaml:"batch_size"`
	MaxInputTokens int    `yaml:"max_input_tokens"`
	ChatModel      string `yaml:"chat_model"`
}

// RetryConfig is the backoff policy shared by remote calls.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// TimeoutConfig holds per-call timeouts.
type TimeoutConfig struct {
	Embedding   time.Duration `yaml:"embedding"`
	Generation  time.Duration `yaml:"generation"`
	Submit      time.Duration `yaml:"submit"`
	StatusCheck time.Duration `yaml:"status_check"`
}

// VectorStoreConfig selects the vector index.
type VectorStoreConfig struct {
	Type       string `yaml:"type"` // qdrant | memory
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

// RepositoryConfig selects the metadata store backend.
type RepositoryConfig struct {
	Backend string `yaml:"backend"` // sqlite | firestore | memory
	// Path is the sqlite database file.
	Path       string `yaml:"path"`
	ProjectID  string `yaml:"project_id"`
	DatabaseID string `yaml:"database_id"`
}

// IndexerConfig configures task submission.
type IndexerConfig struct {
	Mode     string `yaml:"mode"` // http | noop
	Endpoint string `yaml:"endpoint"`
	// SubmitInterval is the minimum gap between consecutive submissions.
	SubmitInterval time.Duration `yaml:"submit_interval"`
	ClaimTTL       time.Duration `yaml:"claim_ttl"`
}

// TrackerConfig configures status tracking.
type TrackerConfig struct {
	MaxChecks int `yaml:"max_checks"`
	// MaxPending bounds how long a task may be reported in progress.
	MaxPending    time.Duration `yaml:"max_pending"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ResultLogPath string        `yaml:"result_log_path"`
}

// RAGConfig configures retrieval and scoring.
type RAGConfig struct {
	TopK                   int     `yaml:"top_k"`
	MinScore               float64 `yaml:"min_score"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
	Grounding              string  `yaml:"grounding"` // lexical | semantic
	SnippetMaxChars        int     `yaml:"snippet_max_chars"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-small",
			Dimension:      1536,
			BatchSize:      500,
			MaxInputTokens: 8000,
			ChatModel:      "gpt-4o",
		},
		Retry: RetryConfig{
			MaxAttempts:     4,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Embedding:   30 * time.Second,
			Generation:  60 * time.Second,
			Submit:      15 * time.Second,
			StatusCheck: 10 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Type:       "qdrant",
			Host:       "localhost",
			Port:       6334,
			Collection: "conference_chunks",
		},
		Repository: RepositoryConfig{Backend: "sqlite", Path: "confrag.db"},
		Indexer: IndexerConfig{
			Mode:           "noop",
			SubmitInterval: time.Second,
			ClaimTTL:       5 * time.Minute,
		},
		Tracker: TrackerConfig{
			MaxChecks:     10,
			MaxPending:    6 * time.Hour,
			PollInterval:  30 * time.Second,
			ResultLogPath: "task_results.db",
		},
		RAG: RAGConfig{
			TopK:                   5,
			MinScore:               0.3,
			LowConfidenceThreshold: 0.5,
			Grounding:              "lexical",
			SnippetMaxChars:        2000,
		},
		Server:      ServerConfig{Port: "8080"},
		Concurrency: 4,
	}
}

// Load reads the YAML file at path, applies defaults for unset values, and
// then environment overrides. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.OpenAI.EmbeddingModel == "" {
		cfg.OpenAI.EmbeddingModel = def.OpenAI.EmbeddingModel
	}
	if cfg.OpenAI.BatchSize <= 0 {
		cfg.OpenAI.BatchSize = def.OpenAI.BatchSize
	}
	if cfg.OpenAI.MaxInputTokens <= 0 {
		cfg.OpenAI.MaxInputTokens = def.OpenAI.MaxInputTokens
	}
	if cfg.OpenAI.ChatModel == "" {
		cfg.OpenAI.ChatModel = def.OpenAI.ChatModel
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = def.Retry.InitialInterval
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = def.Retry.MaxInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Tracker.MaxChecks <= 0 {
		cfg.Tracker.MaxChecks = def.Tracker.MaxChecks
	}
	if cfg.Tracker.MaxPending <= 0 {
		cfg.Tracker.MaxPending = def.Tracker.MaxPending
	}
	if cfg.Tracker.PollInterval <= 0 {
		cfg.Tracker.PollInterval = def.Tracker.PollInterval
	}
	if cfg.Repository.Backend == "" {
		cfg.Repository.Backend = def.Repository.Backend
	}
	if cfg.Repository.Path == "" {
		cfg.Repository.Path = def.Repository.Path
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = def.RAG.TopK
	}
	if cfg.Metadata == nil {
		cfg.Metadata = model.DefaultFieldSchema()
	}
}

func applyEnv(cfg *Config) {
	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.VectorStore.Type = getEnv("VECTOR_STORE", cfg.VectorStore.Type)
	cfg.VectorStore.Host = getEnv("QDRANT_HOST", cfg.VectorStore.Host)
	cfg.VectorStore.Port = getEnvInt("QDRANT_PORT", cfg.VectorStore.Port)
	cfg.Repository.Backend = getEnv("REPOSITORY_BACKEND", cfg.Repository.Backend)
	cfg.Repository.Path = getEnv("REPOSITORY_PATH", cfg.Repository.Path)
	cfg.Repository.ProjectID = getEnv("FIRESTORE_PROJECT_ID", cfg.Repository.ProjectID)
	cfg.Repository.DatabaseID = getEnv("FIRESTORE_DATABASE_ID", cfg.Repository.DatabaseID)
	cfg.Indexer.Endpoint = getEnv("INDEXER_API_ENDPOINT", cfg.Indexer.Endpoint)
	cfg.Indexer.Mode = getEnv("INDEXER_MODE", cfg.Indexer.Mode)
	cfg.Tracker.ResultLogPath = getEnv("RESULT_LOG_PATH", cfg.Tracker.ResultLogPath)
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.GitHubToken = getEnv("GITHUB_TOKEN", cfg.GitHubToken)
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Indexer.Mode {
	case "noop":
	case "http":
		if c.Indexer.Endpoint == "" {
			return errors.New("indexer endpoint is required in http mode (INDEXER_API_ENDPOINT)")
		}
	default:
		return fmt.Errorf("invalid indexer mode %q", c.Indexer.Mode)
	}
	switch c.Repository.Backend {
	case "memory":
	case "sqlite":
		if c.Repository.Path == "" {
			return errors.New("sqlite repository path is required (REPOSITORY_PATH)")
		}
	case "firestore":
		if c.Repository.ProjectID == "" {
			return errors.New("firestore project id is required (FIRESTORE_PROJECT_ID)")
		}
	default:
		return fmt.Errorf("invalid repository backend %q", c.Repository.Backend)
	}
	switch c.VectorStore.Type {
	case "qdrant", "memory":
	default:
		return fmt.Errorf("invalid vector store %q", c.VectorStore.Type)
	}
	switch c.RAG.Grounding {
	case "lexical", "semantic":
	default:
		return fmt.Errorf("invalid grounding strategy %q", c.RAG.Grounding)
	}
	if c.RAG.MinScore < 0 || c.RAG.MinScore > 1 {
		return fmt.Errorf("rag.min_score must be within [0,1], got %v", c.RAG.MinScore)
	}
	if err := model.ValidateSchema(c.Metadata); err != nil {
		return fmt.Errorf("metadata schema: %w", err)
	}
	return nil
}

// NewLogger builds the process logger from the log settings.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
