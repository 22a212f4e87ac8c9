package answer

import (
	"fmt"
	"strings"

	"github.com/bull/confrag/internal/embedding"
	"github.com/bull/confrag/internal/model"
)

const systemPrompt = `You answer questions about conference sessions using only the numbered passages provided.
If the passages do not contain the answer, say that the materials do not cover it.
Cite the passages you use with their numbers, like [1] or [2].`

const (
	passagesHeader  = "Passages:\n\n"
	questionLabel   = "Question: "
	truncatedMarker = "...(truncated)"
	// minPassageBytes is the smallest cut passage worth sending.
	minPassageBytes = 64
)

// Prompt is a system instruction plus the user turn: ranked passages
// followed by the question.
type Prompt struct {
	System   string
	Passages []string
	Question string
}

// BuildPrompt lays out the question and the retrieved passages. Each
// passage is tagged "[n] content_id/chunk_id"; nothing but passage text is
// included as context.
func BuildPrompt(question string, matches []model.Match, snippetMaxChars int) Prompt {
	p := Prompt{System: systemPrompt, Question: strings.TrimSpace(question)}
	for i, m := range matches {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[%d] %s", i+1, model.PassageSource(m.ContentID, m.ChunkID))
		if loc := location(m); loc != "" {
			sb.WriteString(" (" + loc + ")")
		}
		sb.WriteString("\n")

		text := strings.TrimSpace(m.Text)
		if snippetMaxChars > 0 && len(text) > snippetMaxChars {
			text = embedding.Truncate(text, snippetMaxChars) + truncatedMarker
		}
		sb.WriteString(text)
		p.Passages = append(p.Passages, sb.String())
	}
	return p
}

// User renders the user turn.
func (p Prompt) User() string {
	var sb strings.Builder
	sb.WriteString(passagesHeader)
	for _, passage := range p.Passages {
		sb.WriteString(passage)
		sb.WriteString("\n\n")
	}
	sb.WriteString(questionLabel)
	sb.WriteString(p.Question)
	sb.WriteString("\n")
	return sb.String()
}

// Fit returns a copy of p whose user turn fits in maxBytes. Passages are
// kept in rank order; the first one that does not fit is cut and the rest
// are dropped. The question is never shortened. dropped counts passages
// removed entirely. maxBytes <= 0 means no limit.
func (p Prompt) Fit(maxBytes int) (fitted Prompt, dropped int) {
	if maxBytes <= 0 {
		return p, 0
	}
	fitted = Prompt{System: p.System, Question: p.Question}
	budget := maxBytes - len(passagesHeader) - len(questionLabel) - len(p.Question) - 1
	for _, passage := range p.Passages {
		need := len(passage) + 2
		if need <= budget {
			fitted.Passages = append(fitted.Passages, passage)
			budget -= need
			continue
		}
		if room := budget - 2 - len(truncatedMarker); room >= minPassageBytes {
			fitted.Passages = append(fitted.Passages, embedding.Truncate(passage, room)+truncatedMarker)
		}
		break
	}
	return fitted, len(p.Passages) - len(fitted.Passages)
}

func location(m model.Match) string {
	switch {
	case m.SlideIndex != nil:
		return fmt.Sprintf("slide %d", *m.SlideIndex+1)
	case m.PageIndex != nil:
		return fmt.Sprintf("page %d", *m.PageIndex+1)
	default:
		return ""
	}
}
