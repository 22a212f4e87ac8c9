package indexer

import (
	"github.com/bull/confrag/internal/model"
)

// FromFileRefs rebuilds the content and files an indexing payload
// describes. Only the metadata used for index filtering is recovered.
func FromFileRefs(sessionID string, refs []model.FileRef) (*model.Content, []model.SourceFile) {
	content := &model.Content{ID: sessionID, Metadata: model.Metadata{}}
	files := make([]model.SourceFile, len(refs))

	for i, ref := range refs {
		files[i] = model.SourceFile{
			ID:         ref.FileID,
			ContentID:  sessionID,
			Filename:   ref.Filename,
			MIMEType:   ref.MIMEType,
			StorageURI: ref.URL,
		}
		content.FileIDs = append(content.FileIDs, ref.FileID)

		if content.Title == "" {
			content.Title, _ = ref.Metadata["title"].(string)
		}
		if _, ok := content.Metadata[model.FieldTrack]; !ok {
			if track, ok := ref.Metadata[model.FieldTrack].(string); ok && track != "" {
				content.Metadata[model.FieldTrack] = model.SelectValue(track)
			}
		}
		if _, ok := content.Metadata[model.FieldTags]; !ok {
			if tags := stringList(ref.Metadata[model.FieldTags]); len(tags) > 0 {
				content.Metadata[model.FieldTags] = model.MultiSelectValue(tags...)
			}
		}
	}
	return content, files
}

// stringList accepts the shapes a JSON-decoded tag list can take.
func stringList(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	default:
		return nil
	}
}
