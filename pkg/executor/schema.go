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

package executor

import (
	"github.com/weavely/weave/pkg/storage"
)

// ArtifactCreatePrefix names the inline artifact-creation components of the
// structured response.
const ArtifactCreatePrefix = "ArtifactCreate_"

// ArtifactReferenceName is the universal citation component.
const ArtifactReferenceName = "Artifact"

// ResponseSchema builds the phase-2 output schema: a dataComponents array
// whose elements are one of the agent's data components, an inline artifact
// creation per artifact component, or the universal artifact reference.
// Schema-validating the union is what keeps citations honest: the model can
// only reference ids, never invent citation prose.
func ResponseSchema(dataComponents []*storage.DataComponent, artifactComponents []*storage.ArtifactComponent) map[string]any {
	variants := make([]any, 0, len(dataComponents)+len(artifactComponents)+1)

	for _, dc := range dataComponents {
		props := dc.Props
		if len(props) == 0 {
			props = map[string]any{"type": "object"}
		}
		variants = append(variants, componentVariant(dc.Name, props, []any{"name", "props"}))
	}

	for _, ac := range artifactComponents {
		variants = append(variants, componentVariant(
			ArtifactCreatePrefix+ac.Name,
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":            map[string]any{"type": "string"},
					"tool_call_id":  map[string]any{"type": "string"},
					"type":          map[string]any{"type": "string"},
					"base_selector": map[string]any{"type": "string"},
					"summary_props": map[string]any{"type": "object"},
					"full_props":    map[string]any{"type": "object"},
				},
				"required": []any{"tool_call_id", "base_selector"},
			},
			[]any{"name", "props"},
		))
	}

	variants = append(variants, componentVariant(
		ArtifactReferenceName,
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"artifact_id": map[string]any{"type": "string"},
				"task_id":     map[string]any{"type": "string"},
			},
			"required":             []any{"artifact_id", "task_id"},
			"additionalProperties": false,
		},
		[]any{"name", "props"},
	))

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dataComponents": map[string]any{
				"type":  "array",
				"items": map[string]any{"oneOf": variants},
			},
		},
		"required": []any{"dataComponents"},
	}
}

func componentVariant(name string, props map[string]any, required []any) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":    map[string]any{"type": "string"},
			"name":  map[string]any{"const": name},
			"props": props,
		},
		"required": required,
	}
}
