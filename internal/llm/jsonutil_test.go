package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]any
	}{
		{
			name:  "bare object",
			input: `{"approved": true}`,
			want:  map[string]any{"approved": true},
		},
		{
			name:  "fenced with language",
			input: "Here you go:\n```json\n{\"issues\": []}\n```\nDone.",
			want:  map[string]any{"issues": []any{}},
		},
		{
			name:  "fenced without language",
			input: "```\n{\"a\": 1}\n```",
			want:  map[string]any{"a": float64(1)},
		},
		{
			name:  "surrounded by prose",
			input: "Verdict follows {\"a\": \"b\"} thanks",
			want:  map[string]any{"a": "b"},
		},
		{
			name:  "line comments and trailing commas",
			input: "{\n  \"a\": 1, // first\n  \"b\": [1, 2,],\n}",
			want:  map[string]any{"a": float64(1), "b": []any{float64(1), float64(2)}},
		},
		{
			name:  "slashes inside strings are kept",
			input: `{"url": "https://example.com/x"}`,
			want:  map[string]any{"url": "https://example.com/x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := ExtractJSON(tt.input)
			require.NotEmpty(t, raw)
			var got map[string]any
			require.NoError(t, json.Unmarshal([]byte(raw), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSON_NoObject(t *testing.T) {
	assert.Empty(t, ExtractJSON("I cannot review this document."))
	assert.Empty(t, ExtractJSONArray("nothing here"))
}

func TestExtractJSONArray(t *testing.T) {
	raw := ExtractJSONArray("```json\n[{\"title\": \"Collect\"},]\n```")
	var got []map[string]string
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, []map[string]string{{"title": "Collect"}}, got)
}

func TestStripLineComment(t *testing.T) {
	assert.Equal(t, `"a": 1,`, stripLineComment(`"a": 1, // note`))
	assert.Equal(t, `"a": "x // y"`, stripLineComment(`"a": "x // y"`))
	assert.Equal(t, `"a": "q\"//"`, stripLineComment(`"a": "q\"//"`))
}
