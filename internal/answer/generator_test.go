package answer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/confrag/internal/model"
)

func largeMatches(n, size int) []model.Match {
	matches := make([]model.Match, n)
	for i := range matches {
		matches[i] = model.Match{
			ChunkID:   "chunk-" + string(rune('a'+i)),
			ContentID: "conf-2025-001",
			Score:     0.9 - float64(i)*0.1,
			Text:      strings.Repeat(string(rune('a'+i)), size),
		}
	}
	return matches
}

func TestPrompt_FitKeepsQuestion(t *testing.T) {
	const question = "Which runtime schedules goroutines?"
	p := BuildPrompt(question, largeMatches(2, 42*1024), 0)
	require.Greater(t, len(p.User()), 64000)

	fitted, dropped := p.Fit(64000)
	user := fitted.User()

	assert.True(t, strings.HasSuffix(user, "Question: "+question+"\n"))
	assert.LessOrEqual(t, len(user), 64000)
	assert.Zero(t, dropped)
	require.Len(t, fitted.Passages, 2)
	assert.Equal(t, p.Passages[0], fitted.Passages[0], "top passage stays whole")
	assert.True(t, strings.HasSuffix(fitted.Passages[1], "...(truncated)"))
}

func TestPrompt_FitDropsLowestRanked(t *testing.T) {
	p := BuildPrompt("q?", largeMatches(3, 1000), 0)

	fitted, dropped := p.Fit(len(p.Passages[0]) + 40)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, []string{p.Passages[0]}, fitted.Passages)
	assert.True(t, strings.HasSuffix(fitted.User(), "Question: q?\n"))

	unlimited, dropped := p.Fit(0)
	assert.Zero(t, dropped)
	assert.Equal(t, p, unlimited)
}

type chatServer struct {
	mu       sync.Mutex
	messages []string
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	_ = json.Unmarshal(body, &req)
	s.mu.Lock()
	for _, m := range req.Messages {
		if m.Role == "user" {
			s.messages = append(s.messages, m.Content)
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o",` +
		`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"The Go runtime [1]."}}]}`))
}

func TestOpenAIGenerator_OversizedPromptKeepsQuestion(t *testing.T) {
	chat := &chatServer{}
	srv := httptest.NewServer(chat)
	defer srv.Close()

	client := openai.NewClient(option.WithAPIKey("test"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	gen := NewGenerator(&client, "", DefaultMaxContextTokens, slog.New(slog.NewTextHandler(io.Discard, nil)))

	const question = "Which runtime schedules goroutines?"
	answer, err := gen.Generate(context.Background(), BuildPrompt(question, largeMatches(2, 42*1024), 0))
	require.NoError(t, err)
	assert.Equal(t, "The Go runtime [1].", answer)

	chat.mu.Lock()
	defer chat.mu.Unlock()
	require.Len(t, chat.messages, 1)
	user := chat.messages[0]
	assert.True(t, strings.HasSuffix(user, "Question: "+question+"\n"))
	assert.LessOrEqual(t, len(user), DefaultMaxContextTokens*4)
}
