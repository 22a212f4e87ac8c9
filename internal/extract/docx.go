package extract

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/bull/confrag/internal/model"
)

// DOCX extracts Word documents. Explicit page breaks separate pages.
type DOCX struct{}

// NewDOCX creates a Word extractor.
func NewDOCX() *DOCX {
	return &DOCX{}
}

func (d *DOCX) MIMETypes() []string      { return []string{mimeDOCX} }
func (d *DOCX) FileType() model.FileType { return model.FileTypeDOCX }

func (d *DOCX) Extract(_ context.Context, data []byte) ([]Section, error) {
	reader, err := openZip(data)
	if err != nil {
		return nil, err
	}
	content, found, err := readZipFile(reader, "word/document.xml")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("word/document.xml is missing")
	}
	pages, err := parseDocumentPages(content)
	if err != nil {
		return nil, err
	}
	sections := make([]Section, len(pages))
	for i, p := range pages {
		sections[i] = Section{Text: p}
	}
	return sections, nil
}

// parseDocumentPages returns the text of each page; paragraphs are newline-joined.
func parseDocumentPages(content []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))

	var (
		pages  []string
		paras  []string
		para   strings.Builder
		inText bool
	)
	flushPara := func() {
		if text := strings.TrimSpace(para.String()); text != "" {
			paras = append(paras, text)
		}
		para.Reset()
	}
	flushPage := func() {
		flushPara()
		pages = append(pages, strings.Join(paras, "\n"))
		paras = nil
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br":
				if attrValue(el, "type") == "page" {
					flushPage()
				} else {
					para.WriteString("\n")
				}
			}
		case xml.CharData:
			if inText {
				para.Write(el)
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				flushPara()
			}
		}
	}
	flushPage()
	return pages, nil
}

func attrValue(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
