// Copyright 2025 Weavely, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weavely/weave/pkg/storage"
)

// ToolInfo is one entry of the phase-1 tool manifest.
type ToolInfo struct {
	Name        string
	Description string
}

// ArtifactRef is a referencable artifact listed in the phase-2 prompt.
type ArtifactRef struct {
	ArtifactID  string
	TaskID      string
	Name        string
	Description string
	Type        string
}

// Phase1Inputs collects everything the phase-1 system prompt is built from.
type Phase1Inputs struct {
	GraphPrompt      string
	AgentPrompt      string
	AgentName        string
	AgentDescription string

	// Variables is the resolved context used for {{var}} expansion of the
	// graph and agent prompts.
	Variables map[string]any

	Tools              []ToolInfo
	DataComponents     []*storage.DataComponent
	ArtifactComponents []*storage.ArtifactComponent
}

// Phase1System assembles the phase-1 (interaction) system prompt.
func Phase1System(in Phase1Inputs) string {
	var sb strings.Builder

	sb.WriteString("You are ")
	sb.WriteString(in.AgentName)
	if in.AgentDescription != "" {
		sb.WriteString(", ")
		sb.WriteString(in.AgentDescription)
	}
	sb.WriteString(".\n")

	if in.GraphPrompt != "" {
		sb.WriteString("\n")
		sb.WriteString(Render(in.GraphPrompt, in.Variables))
		sb.WriteString("\n")
	}
	if in.AgentPrompt != "" {
		sb.WriteString("\n")
		sb.WriteString(Render(in.AgentPrompt, in.Variables))
		sb.WriteString("\n")
	}

	if len(in.Tools) > 0 {
		sb.WriteString("\n## Available tools\n\n")
		for _, t := range in.Tools {
			sb.WriteString("- `")
			sb.WriteString(SanitizeToolName(t.Name))
			sb.WriteString("`")
			if t.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(t.Description)
			}
			sb.WriteString("\n")
		}
	}

	if len(in.ArtifactComponents) > 0 {
		sb.WriteString("\n## Saving artifacts\n\n")
		sb.WriteString("When a tool returns data worth keeping, call `save_tool_result` with the tool call id, ")
		sb.WriteString("a JMESPath base selector for the items, and per-property selectors. ")
		sb.WriteString("Every tool result includes structure hints listing valid selector paths; use them verbatim.\n\n")
		sb.WriteString("Artifact types you can create:\n")
		for _, ac := range in.ArtifactComponents {
			sb.WriteString("- ")
			sb.WriteString(ac.Name)
			if ac.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(ac.Description)
			}
			sb.WriteString("\n")
		}
	}

	if len(in.DataComponents) > 0 {
		sb.WriteString("\n## Thinking preparation\n\n")
		sb.WriteString("Your final answer will be composed of structured data components in a second step. ")
		sb.WriteString("In this step, do NOT write the final answer. Use your tools to gather everything the ")
		sb.WriteString("components below will need, save relevant tool results as artifacts, and when all ")
		sb.WriteString("required information is collected call `thinking_complete`.\n\n")
		sb.WriteString("Components to prepare for:\n")
		for _, dc := range in.DataComponents {
			sb.WriteString("- ")
			sb.WriteString(dc.Name)
			if dc.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(dc.Description)
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// Phase2Inputs collects everything the phase-2 system prompt is built from.
type Phase2Inputs struct {
	AgentPrompt string
	AgentName   string
	Variables   map[string]any

	DataComponents     []*storage.DataComponent
	ArtifactComponents []*storage.ArtifactComponent

	// Artifacts are the artifacts saved in this conversation that the
	// response may reference.
	Artifacts []ArtifactRef
}

// Phase2System assembles the phase-2 (structured generation) system prompt.
// Phase 2 has no tools: the model renders the gathered information into the
// component schema.
func Phase2System(in Phase2Inputs) string {
	var sb strings.Builder

	sb.WriteString("You are ")
	sb.WriteString(in.AgentName)
	sb.WriteString(". Compose the final response for the user as structured data components. ")
	sb.WriteString("All information gathering is complete; do not ask for more input.\n")

	if in.AgentPrompt != "" {
		sb.WriteString("\n")
		sb.WriteString(Render(in.AgentPrompt, in.Variables))
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Data components\n\n")
	sb.WriteString("Respond with a JSON object containing a `dataComponents` array. Each element is one of:\n\n")
	for _, dc := range in.DataComponents {
		sb.WriteString("### ")
		sb.WriteString(dc.Name)
		sb.WriteString("\n")
		if dc.Description != "" {
			sb.WriteString(dc.Description)
			sb.WriteString("\n")
		}
		writeSchema(&sb, dc.Props)
	}

	if len(in.ArtifactComponents) > 0 {
		sb.WriteString("\n## Creating artifacts\n\n")
		sb.WriteString("To emit a new artifact inline, use a component named `ArtifactCreate_<Type>`:\n\n")
		for _, ac := range in.ArtifactComponents {
			sb.WriteString("### ArtifactCreate_")
			sb.WriteString(ac.Name)
			sb.WriteString("\n")
			writeSchema(&sb, ac.FullProps)
		}
	}

	sb.WriteString("\n## Referencing artifacts\n\n")
	sb.WriteString("To cite an already-saved artifact, emit an `Artifact` component with the ")
	sb.WriteString("artifact's `artifact_id` and `task_id` exactly as listed below. Never invent ids.\n")
	if len(in.Artifacts) > 0 {
		sb.WriteString("\nAvailable artifacts:\n")
		for _, a := range in.Artifacts {
			sb.WriteString(fmt.Sprintf("- artifact_id=%q task_id=%q", a.ArtifactID, a.TaskID))
			if a.Type != "" {
				sb.WriteString(" type=" + a.Type)
			}
			if a.Name != "" {
				sb.WriteString(" name=" + a.Name)
			}
			if a.Description != "" {
				sb.WriteString(": " + a.Description)
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("\nNo artifacts have been saved in this conversation.\n")
	}

	return sb.String()
}

func writeSchema(sb *strings.Builder, schema map[string]any) {
	if len(schema) == 0 {
		return
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return
	}
	sb.WriteString("```json\n")
	sb.Write(data)
	sb.WriteString("\n```\n")
}
