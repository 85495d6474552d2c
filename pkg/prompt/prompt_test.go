package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weavely/weave/pkg/storage"
)

func TestRender(t *testing.T) {
	vars := map[string]any{
		"company": "Acme",
		"user": map[string]any{
			"name": "Ada",
			"plan": "pro",
		},
		"count": 3,
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "simple variable",
			template: "Welcome to {{company}} support.",
			want:     "Welcome to Acme support.",
		},
		{
			name:     "dotted path",
			template: "User {{user.name}} is on {{user.plan}}.",
			want:     "User Ada is on pro.",
		},
		{
			name:     "unresolved variable dropped",
			template: "Hello {{missing}}!",
			want:     "Hello !",
		},
		{
			name:     "unresolved nested path dropped",
			template: "{{user.email}}",
			want:     "",
		},
		{
			name:     "non-string value",
			template: "count={{count}}",
			want:     "count=3",
		},
		{
			name:     "whitespace inside braces",
			template: "{{ company }}",
			want:     "Acme",
		},
		{
			name:     "no placeholders",
			template: "plain text",
			want:     "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, vars))
		})
	}
}

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already valid", "search_web", "search_web"},
		{"dots replaced", "acme.search", "acme_search"},
		{"spaces replaced", "my tool", "my_tool"},
		{"unicode replaced", "höchst", "h_chst"},
		{"empty falls back", "", "tool"},
		{"hyphens kept", "transfer_to_qa-agent", "transfer_to_qa-agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeToolName(tt.in))
		})
	}

	long := strings.Repeat("a", 150)
	assert.Len(t, SanitizeToolName(long), 100)
}

func TestPhase1SystemIncludesThinkingBlockOnlyWithDataComponents(t *testing.T) {
	base := Phase1Inputs{
		AgentName:   "QA",
		AgentPrompt: "Answer questions about {{company}}.",
		Variables:   map[string]any{"company": "Acme"},
		Tools: []ToolInfo{
			{Name: "search_web", Description: "Searches the web."},
			{Name: "transfer_to_router", Description: "Transfers back to the router."},
		},
	}

	plain := Phase1System(base)
	assert.Contains(t, plain, "Answer questions about Acme.")
	assert.Contains(t, plain, "`search_web`")
	assert.NotContains(t, plain, "thinking_complete")

	base.DataComponents = []*storage.DataComponent{{Name: "FAQList", Description: "List of answers"}}
	withDC := Phase1System(base)
	assert.Contains(t, withDC, "thinking_complete")
	assert.Contains(t, withDC, "FAQList")
}

func TestPhase1SystemArtifactManifest(t *testing.T) {
	out := Phase1System(Phase1Inputs{
		AgentName: "QA",
		ArtifactComponents: []*storage.ArtifactComponent{
			{Name: "Source", Description: "A cited source document"},
		},
	})
	assert.Contains(t, out, "save_tool_result")
	assert.Contains(t, out, "Source: A cited source document")
}

func TestPhase2System(t *testing.T) {
	out := Phase2System(Phase2Inputs{
		AgentName: "QA",
		DataComponents: []*storage.DataComponent{
			{
				Name:        "Text",
				Description: "Markdown text",
				Props: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{"type": "string"},
					},
				},
			},
		},
		ArtifactComponents: []*storage.ArtifactComponent{
			{Name: "Source", FullProps: map[string]any{"type": "object"}},
		},
		Artifacts: []ArtifactRef{
			{ArtifactID: "art-1", TaskID: "task-1", Name: "Web Sources", Type: "Source"},
		},
	})

	assert.Contains(t, out, "dataComponents")
	assert.Contains(t, out, "### Text")
	assert.Contains(t, out, "ArtifactCreate_Source")
	assert.Contains(t, out, `artifact_id="art-1" task_id="task-1"`)
}

func TestPhase2SystemWithoutArtifacts(t *testing.T) {
	out := Phase2System(Phase2Inputs{AgentName: "QA"})
	assert.Contains(t, out, "No artifacts have been saved")
}
