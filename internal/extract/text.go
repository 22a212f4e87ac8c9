package extract

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/bull/confrag/internal/model"
)

// Text extracts plain text files. Form feeds separate pages.
type Text struct{}

// NewText creates a plain text extractor.
func NewText() *Text {
	return &Text{}
}

func (t *Text) MIMETypes() []string      { return []string{"text/plain"} }
func (t *Text) FileType() model.FileType { return model.FileTypeText }

func (t *Text) Extract(_ context.Context, data []byte) ([]Section, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("text is not valid UTF-8")
	}
	pages := splitPages(string(data))
	sections := make([]Section, len(pages))
	for i, p := range pages {
		sections[i] = Section{Text: strings.TrimSpace(p)}
	}
	return sections, nil
}
