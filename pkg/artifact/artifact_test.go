package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmbeddedJSON(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{
			name: "plain string untouched",
			in:   "hello world",
			want: "hello world",
		},
		{
			name: "numeric string untouched",
			in:   "42",
			want: "42",
		},
		{
			name: "embedded object parsed",
			in:   `{"a":1}`,
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "embedded array parsed",
			in:   `[{"title":"Web Sources","url":"https://x"}]`,
			want: []any{map[string]any{"title": "Web Sources", "url": "https://x"}},
		},
		{
			name: "nested embedded json",
			in: map[string]any{
				"content": []any{
					map[string]any{
						"text": map[string]any{
							"content": `[{"title":"Web Sources","url":"https://x"}]`,
						},
					},
				},
			},
			want: map[string]any{
				"content": []any{
					map[string]any{
						"text": map[string]any{
							"content": []any{
								map[string]any{"title": "Web Sources", "url": "https://x"},
							},
						},
					},
				},
			},
		},
		{
			name: "invalid json stays string",
			in:   "{not json",
			want: "{not json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseEmbeddedJSON(tt.in))
		})
	}
}

func TestParseEmbeddedJSONIsIdempotent(t *testing.T) {
	in := map[string]any{
		"result": `{"items":[{"id":"1"}]}`,
	}
	once := ParseEmbeddedJSON(in)
	twice := ParseEmbeddedJSON(once)
	assert.Equal(t, once, twice)
}

func toolResult() map[string]any {
	return map[string]any{
		"content": []any{
			map[string]any{
				"text": map[string]any{
					"content": `[{"title":"Web Sources","url":"https://x","type":"source"},{"title":"Guide","url":"https://y","type":"guide"}]`,
				},
			},
		},
	}
}

func TestExtract(t *testing.T) {
	extracted, warnings, err := Extract(toolResult(), SaveRequest{
		ToolCallID:   "call-1",
		BaseSelector: "content[0].text.content",
		PropSelectors: map[string]string{
			"title": "title",
			"url":   "url",
		},
		ArtifactType: "Source",
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, extracted, 2)

	assert.Equal(t, "Web Sources", extracted[0].Summary["title"])
	assert.Equal(t, "https://x", extracted[0].Summary["url"])
	assert.Equal(t, "Source", extracted[0].Type)
	assert.NotEmpty(t, extracted[0].ArtifactID)
	assert.NotEqual(t, extracted[0].ArtifactID, extracted[1].ArtifactID)
	assert.Equal(t, "Guide", extracted[1].Full["title"])
}

func TestExtractSingleObjectNormalizedToItemList(t *testing.T) {
	result := map[string]any{"profile": map[string]any{"name": "Ada", "plan": "pro"}}

	extracted, _, err := Extract(result, SaveRequest{
		BaseSelector:  "profile",
		PropSelectors: map[string]string{"name": "name"},
		ArtifactType:  "Profile",
	})
	require.NoError(t, err)
	require.Len(t, extracted, 1)
	assert.Equal(t, "Ada", extracted[0].Summary["name"])
}

func TestExtractPropSelectorFallback(t *testing.T) {
	result := map[string]any{
		"items": []any{
			map[string]any{"title": "Doc", "url": "https://x"},
		},
	}

	extracted, warnings, err := Extract(result, SaveRequest{
		BaseSelector: "items",
		PropSelectors: map[string]string{
			"title": "metadata.title", // misses; falls back to item.title
		},
	})
	require.NoError(t, err)
	require.Len(t, extracted, 1)
	assert.Equal(t, "Doc", extracted[0].Summary["title"])
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "direct property access")
}

func TestExtractEmptySelectionDiagnostics(t *testing.T) {
	result := map[string]any{
		"result": map[string]any{
			"data": map[string]any{
				"items": []any{map[string]any{"id": "1"}},
			},
		},
	}

	_, _, err := Extract(result, SaveRequest{BaseSelector: "items"})
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "DETECTED ISSUES")
	assert.Contains(t, msg, "AVAILABLE TOP-LEVEL KEYS")
	assert.Contains(t, msg, "result.data.items")
}

func TestExtractDiagnosticsResolveFilteredSelectorKey(t *testing.T) {
	result := map[string]any{
		"items": []any{map[string]any{"id": "1"}},
		"meta": map[string]any{
			"inner": map[string]any{
				"documents": []any{map[string]any{"type": "api"}},
			},
		},
	}

	_, _, err := Extract(result, SaveRequest{BaseSelector: "result.documents[?type=='api']"})
	require.Error(t, err)
	msg := err.Error()
	// The trailing path key is "documents", not the filter literal.
	assert.Contains(t, msg, `The key "documents" exists at:`)
	assert.Contains(t, msg, "meta.inner.documents")
	assert.NotContains(t, msg, `The key "api"`)
}

func TestExtractDiagnosticsReportMissingKey(t *testing.T) {
	result := map[string]any{
		"items": []any{map[string]any{"id": "1"}},
	}

	_, _, err := Extract(result, SaveRequest{BaseSelector: "documents[0]"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `The key "documents" does not exist anywhere in the result.`)
}

func TestLastIdentifierStripsBracketExpressions(t *testing.T) {
	tests := []struct {
		selector string
		want     string
	}{
		{"result.documents[?type=='api']", "documents"},
		{"content[0].text.content", "content"},
		{"items[]", "items"},
		{"results[?score > `0.5`].title", "title"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lastIdentifier(tt.selector), tt.selector)
	}
}

func TestExtractInvalidSelectorDiagnostics(t *testing.T) {
	_, _, err := Extract(map[string]any{"a": 1}, SaveRequest{BaseSelector: "a["})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DETECTED ISSUES")
}

func TestStructureHints(t *testing.T) {
	hints := StructureHints(toolResult())

	assert.Contains(t, hints, "STRUCTURE HINTS")
	assert.Contains(t, hints, "content[0].text.content")
	assert.Contains(t, hints, "Example selectors")
	assert.Contains(t, hints, "Do not invent keys")
}

func TestStructureHintsEmptyForScalar(t *testing.T) {
	assert.Empty(t, StructureHints("plain text result"))
}
