package answer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
)

// DefaultMaxContextTokens bounds the prompt sent to the chat model.
const DefaultMaxContextTokens = 16000

// Generator produces an answer for a grounded prompt.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// OpenAIGenerator answers with an OpenAI chat model.
type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates a generator. Empty model selects gpt-4o; maxTokens
// <= 0 selects DefaultMaxContextTokens.
func NewGenerator(client *openai.Client, model string, maxTokens int, logger *slog.Logger) *OpenAIGenerator {
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIGenerator{client: client, model: model, maxTokens: maxTokens, logger: logger}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	user := g.fit(prompt)

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(user),
		},
		Model:       g.model,
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// fit renders the user turn within the token limit, estimated at 4 bytes
// per token. Lower-ranked passages give way first.
func (g *OpenAIGenerator) fit(prompt Prompt) string {
	full := prompt.User()
	maxBytes := g.maxTokens * 4
	if len(full) <= maxBytes {
		return full
	}
	fitted, dropped := prompt.Fit(maxBytes)
	user := fitted.User()
	g.logger.Warn("prompt over context limit, trimming passages",
		"from_bytes", len(full), "to_bytes", len(user), "dropped_passages", dropped, "max_tokens", g.maxTokens)
	return user
}
