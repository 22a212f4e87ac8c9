// Package extract converts uploaded files into ordered, position-aware text chunks.
package extract

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/bull/confrag/internal/model"
)

// Section is one slide or page of a source file, in document order.
type Section struct {
	Title string
	Text  string
}

// Extractor turns the bytes of one file format into sections.
// Implementations are CPU-bound and must not perform network I/O.
type Extractor interface {
	MIMETypes() []string
	FileType() model.FileType
	Extract(ctx context.Context, data []byte) ([]Section, error)
}

// UnsupportedFormatError is returned for MIME types no extractor handles.
type UnsupportedFormatError struct {
	MIMEType string
	FileID   string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format %q (file %s)", e.MIMEType, e.FileID)
}

// ExtractionError is returned when a file cannot be read or parsed.
type ExtractionError struct {
	FileID   string
	Filename string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract file %s (%s): %v", e.FileID, e.Filename, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// extensionTypes resolves generic MIME types by file extension.
var extensionTypes = map[string]string{
	".pptx":     mimePPTX,
	".docx":     mimeDOCX,
	".pdf":      mimePDF,
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
}

// Registry selects an extractor by MIME type.
type Registry struct {
	byType map[string]Extractor
}

// NewRegistry creates a registry with the given extractors. Later
// registrations win for a shared MIME type.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byType: make(map[string]Extractor)}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

// NewDefaultRegistry registers every built-in extractor.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewPPTX(),
		NewDOCX(),
		NewPDF(),
		NewMarkdown(),
		NewText(),
	)
}

// Register adds an extractor for all of its MIME types.
func (r *Registry) Register(e Extractor) {
	for _, t := range e.MIMETypes() {
		r.byType[t] = e
	}
}

// Supports reports whether a file with this MIME type and name can be extracted.
func (r *Registry) Supports(mimeType, filename string) bool {
	_, ok := r.lookup(mimeType, filename)
	return ok
}

func (r *Registry) lookup(mimeType, filename string) (Extractor, bool) {
	mt := normalizeMIME(mimeType)
	if mt == "" || mt == "application/octet-stream" {
		mt = extensionTypes[strings.ToLower(filepath.Ext(filename))]
	}
	e, ok := r.byType[mt]
	return e, ok
}

// Extract converts file data into chunks. Chunks are returned in document
// order with ordinals 0..n-1; empty slides and pages are kept as empty chunks.
func (r *Registry) Extract(ctx context.Context, file model.SourceFile, data []byte) ([]model.ContentChunk, error) {
	e, ok := r.lookup(file.MIMEType, file.Filename)
	if !ok {
		return nil, &UnsupportedFormatError{MIMEType: file.MIMEType, FileID: file.ID}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sections, err := e.Extract(ctx, data)
	if err != nil {
		return nil, &ExtractionError{FileID: file.ID, Filename: file.Filename, Err: err}
	}

	fileType := e.FileType()
	chunks := make([]model.ContentChunk, len(sections))
	for i, s := range sections {
		chunk := model.ContentChunk{
			ChunkID:   model.ChunkID(file.ContentID, file.ID, i),
			ContentID: file.ContentID,
			FileID:    file.ID,
			Ordinal:   i,
			Title:     s.Title,
			Text:      s.Text,
			FileType:  fileType,
		}
		if fileType == model.FileTypePPTX {
			chunk.SlideIndex = model.IntPtr(i)
		} else {
			chunk.PageIndex = model.IntPtr(i)
		}
		chunks[i] = chunk
	}
	return chunks, nil
}

func normalizeMIME(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mt
}

// splitPages splits text on form feeds. A trailing form feed does not
// start a new page.
func splitPages(text string) []string {
	text = strings.TrimSuffix(text, "\f")
	return strings.Split(text, "\f")
}
