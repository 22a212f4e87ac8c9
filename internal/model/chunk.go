package model

import (
	"fmt"

	"github.com/google/uuid"
)

// chunkNamespace seeds the name-based UUIDs used as chunk ids.
var chunkNamespace = uuid.MustParse("6f1c7c3e-2f5a-4d8e-9a51-0c7b9e4d2a10")

// FileType identifies the extractor family that produced a chunk.
type FileType string

const (
	FileTypePPTX     FileType = "pptx"
	FileTypeDOCX     FileType = "docx"
	FileTypePDF      FileType = "pdf"
	FileTypeMarkdown FileType = "markdown"
	FileTypeText     FileType = "text"
)

// ContentChunk is a unit of extracted text tied to its slide or page.
type ContentChunk struct {
	ChunkID    string   `json:"chunk_id"`
	ContentID  string   `json:"content_id"`
	FileID     string   `json:"file_id"`
	Ordinal    int      `json:"ordinal"`
	SlideIndex *int     `json:"slide_index,omitempty"`
	PageIndex  *int     `json:"page_index,omitempty"`
	Title      string   `json:"slide_title,omitempty"`
	Text       string   `json:"text"`
	FileType   FileType `json:"file_type"`
}

// ChunkID derives the chunk id from its owner and position. The result is a
// UUID so it can be used directly as a vector point id.
func ChunkID(contentID, fileID string, ordinal int) string {
	name := fmt.Sprintf("%s/%s/%d", contentID, fileID, ordinal)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// Embedding is the vector for one chunk (or query) under one model.
type Embedding struct {
	ChunkID string    `json:"chunk_id"`
	ModelID string    `json:"model_id"`
	Vector  []float32 `json:"vector"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
