package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_JSONKeepsValueTypes(t *testing.T) {
	day := time.Date(2025, 10, 2, 9, 30, 0, 0, time.UTC)
	in := Metadata{
		FieldTrack:   SelectValue("ai"),
		FieldTags:    MultiSelectValue("rag", "search"),
		"duration":   NumberValue(45),
		"scheduled":  DateValue(day),
		FieldSpeaker: TextValue("R. Pike"),
		"empty":      {Type: FieldTypeText},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	var out Metadata
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, []string{"rag", "search"}, out[FieldTags].Value)
	assert.Equal(t, 45.0, out["duration"].Value)
	assert.True(t, day.Equal(out["scheduled"].Value.(time.Time)))
	assert.Equal(t, "ai", out.Text(FieldTrack))
	assert.Equal(t, "R. Pike", out.Text(FieldSpeaker))
	assert.Nil(t, out["empty"].Value)
}
