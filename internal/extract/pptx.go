package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bull/confrag/internal/model"
)

var slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// PPTX extracts one section per slide from PowerPoint decks.
type PPTX struct{}

// NewPPTX creates a PowerPoint extractor.
func NewPPTX() *PPTX {
	return &PPTX{}
}

func (p *PPTX) MIMETypes() []string      { return []string{mimePPTX} }
func (p *PPTX) FileType() model.FileType { return model.FileTypePPTX }

// Extract reads slides in presentation order. Speaker notes are not included.
func (p *PPTX) Extract(ctx context.Context, data []byte) ([]Section, error) {
	reader, err := openZip(data)
	if err != nil {
		return nil, err
	}

	parts, err := slideOrder(reader)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, errors.New("package contains no slides")
	}

	sections := make([]Section, 0, len(parts))
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, found, err := readZipFile(reader, part)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("slide part %s is missing", part)
		}
		section, err := parseSlide(content)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", part, err)
		}
		sections = append(sections, section)
	}
	return sections, nil
}

type presentationXML struct {
	SlideIDs []struct {
		RelID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
}

type relationshipsXML struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// slideOrder returns slide part names in presentation order. Packages
// without a usable slide list fall back to numeric slide file order.
func slideOrder(reader *zip.Reader) ([]string, error) {
	presentation, found, err := readZipFile(reader, "ppt/presentation.xml")
	if err != nil {
		return nil, err
	}
	rels, relsFound, err := readZipFile(reader, "ppt/_rels/presentation.xml.rels")
	if err != nil {
		return nil, err
	}
	if found && relsFound {
		var pres presentationXML
		var rel relationshipsXML
		if xml.Unmarshal(presentation, &pres) == nil && xml.Unmarshal(rels, &rel) == nil {
			targets := make(map[string]string, len(rel.Relationships))
			for _, r := range rel.Relationships {
				targets[r.ID] = r.Target
			}
			var parts []string
			for _, id := range pres.SlideIDs {
				target, ok := targets[id.RelID]
				if !ok {
					parts = nil
					break
				}
				parts = append(parts, resolvePart("ppt", target))
			}
			if len(parts) > 0 {
				return parts, nil
			}
		}
	}

	type numbered struct {
		n    int
		name string
	}
	var slides []numbered
	for _, f := range reader.File {
		m := slidePartRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, numbered{n: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	parts := make([]string, len(slides))
	for i, s := range slides {
		parts[i] = s.name
	}
	return parts, nil
}

// resolvePart resolves a relationship target relative to its source folder.
func resolvePart(base, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Clean(path.Join(base, target))
}

type shapeText struct {
	title bool
	paras []string
}

// parseSlide collects text runs per shape. Shapes with a title or
// centered-title placeholder become the slide title.
func parseSlide(content []byte) (Section, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))

	var (
		shapes []*shapeText
		titles []string
		body   []string
		para   strings.Builder
		inText bool
	)
	flushPara := func() {
		text := strings.TrimSpace(para.String())
		para.Reset()
		if text == "" {
			return
		}
		if len(shapes) > 0 {
			top := shapes[len(shapes)-1]
			top.paras = append(top.paras, text)
			return
		}
		body = append(body, text)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Section{}, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "sp":
				shapes = append(shapes, &shapeText{})
			case "ph":
				if len(shapes) > 0 {
					for _, a := range el.Attr {
						if a.Name.Local == "type" && (a.Value == "title" || a.Value == "ctrTitle") {
							shapes[len(shapes)-1].title = true
						}
					}
				}
			case "t":
				inText = true
			case "br":
				para.WriteString("\n")
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
			case "sp":
				flushPara()
				if len(shapes) == 0 {
					continue
				}
				top := shapes[len(shapes)-1]
				shapes = shapes[:len(shapes)-1]
				if top.title {
					titles = append(titles, top.paras...)
				} else {
					body = append(body, top.paras...)
				}
			}
		}
	}

	return Section{
		Title: strings.Join(titles, " "),
		Text:  strings.Join(body, "\n"),
	}, nil
}
