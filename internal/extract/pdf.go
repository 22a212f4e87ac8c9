package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bull/confrag/internal/model"
)

const mimePDF = "application/pdf"

// ErrPDFToolNotFound is returned when pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH; install poppler (brew install poppler / apt install poppler-utils)")

// CommandRunner runs a local command with data on stdin and returns stdout.
type CommandRunner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// PDF extracts one section per page using pdftotext.
type PDF struct {
	runner CommandRunner
}

// NewPDF creates a PDF extractor that shells out to pdftotext.
func NewPDF() *PDF {
	return &PDF{runner: execRunner{}}
}

// NewPDFWithRunner creates a PDF extractor with a custom command runner.
func NewPDFWithRunner(runner CommandRunner) *PDF {
	return &PDF{runner: runner}
}

func (p *PDF) MIMETypes() []string      { return []string{mimePDF} }
func (p *PDF) FileType() model.FileType { return model.FileTypePDF }

func (p *PDF) Extract(ctx context.Context, data []byte) ([]Section, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return nil, errors.New("missing %PDF header")
	}
	out, err := p.runner.Run(ctx, data, "pdftotext", "-layout", "-enc", "UTF-8", "-", "-")
	if err != nil {
		return nil, err
	}
	pages := splitPages(string(out))
	sections := make([]Section, len(pages))
	for i, page := range pages {
		sections[i] = Section{Text: strings.TrimSpace(page)}
	}
	return sections, nil
}
