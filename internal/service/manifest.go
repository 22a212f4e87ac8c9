package service

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is a YAML list of content items to import.
//
//	contents:
//	  - id: conf-2025-001
//	    title: Scaling Go services
//	    metadata:
//	      track: backend
//	      tags: [go, performance]
//	    files:
//	      - filename: slides.pptx
//	        uri: gs://conference-materials/2025/001/slides.pptx
type Manifest struct {
	Contents []ImportRequest `yaml:"contents"`
}

// LoadManifest parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	seen := make(map[string]bool, len(m.Contents))
	for i, c := range m.Contents {
		if c.ID == "" {
			return nil, fmt.Errorf("manifest entry %d has no id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate content id %q in manifest", c.ID)
		}
		seen[c.ID] = true
	}
	return &m, nil
}

// ImportManifest imports every entry and stops at the first failure.
func (s *Service) ImportManifest(ctx context.Context, m *Manifest) ([]string, error) {
	ids := make([]string, 0, len(m.Contents))
	for _, req := range m.Contents {
		if _, err := s.ImportContent(ctx, req); err != nil {
			return ids, err
		}
		ids = append(ids, req.ID)
	}
	return ids, nil
}
