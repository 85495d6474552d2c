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

// Package artifacttool provides the builtin artifact tools of a turn:
// save_tool_result, which projects a recorded tool result into persisted
// artifacts, and get_reference_artifact, which retrieves a saved artifact's
// full content.
//
// Both tools report failures as structured results rather than errors, so
// the model can read the diagnostics and correct its selectors in the next
// step.
package artifacttool

import (
	"context"

	"github.com/weavely/weave/pkg/artifact"
	"github.com/weavely/weave/pkg/graphsession"
	"github.com/weavely/weave/pkg/ledger"
	"github.com/weavely/weave/pkg/storage"
	"github.com/weavely/weave/pkg/tool"
)

const (
	// SaveToolResultName is the save tool's name.
	SaveToolResultName = "save_tool_result"

	// GetReferenceArtifactName is the retrieval tool's name.
	GetReferenceArtifactName = "get_reference_artifact"

	errToolResultNotFound = "Tool result not found"
)

// Options bind the artifact tools to one turn.
type Options struct {
	AgentID         string
	TaskID          string
	ContextID       string
	StreamRequestID string

	Ledger *ledger.Ledger
	Store  storage.Store
	Events *graphsession.Log
}

// ============================================================================
// save_tool_result
// ============================================================================

// NewSaveToolResult creates the save_tool_result builtin.
func NewSaveToolResult(opts Options) tool.Tool {
	return &saveTool{opts: opts}
}

type saveTool struct {
	opts Options
}

func (t *saveTool) Name() string {
	return SaveToolResultName
}

func (t *saveTool) Description() string {
	return "Saves items from a previous tool result as artifacts. Provide the tool call id, a JMESPath baseSelector addressing the items, and propSelectors mapping artifact properties to selectors relative to each item."
}

func (t *saveTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"toolCallId": map[string]any{
				"type":        "string",
				"description": "Id of the tool call whose result to save from",
			},
			"baseSelector": map[string]any{
				"type":        "string",
				"description": "JMESPath selector addressing the item or item array to save",
			},
			"propSelectors": map[string]any{
				"type":                 "object",
				"description":          "Artifact property name to JMESPath selector, relative to each selected item",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"artifactType": map[string]any{
				"type":        "string",
				"description": "Artifact component type to save as",
			},
		},
		"required": []string{"toolCallId", "baseSelector"},
	}
}

func (t *saveTool) Kind() tool.Kind {
	return tool.KindBuiltin
}

// Call never returns a Go error: failures come back as {"saved": false,
// "error": ...} so the reasoning loop can show them to the model.
func (t *saveTool) Call(ctx context.Context, args map[string]any) (any, error) {
	toolCallID, _ := args["toolCallId"].(string)
	baseSelector, _ := args["baseSelector"].(string)
	artifactType, _ := args["artifactType"].(string)

	propSelectors := make(map[string]string)
	if raw, ok := args["propSelectors"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				propSelectors[k] = s
			}
		}
	}

	entry, ok := t.opts.Ledger.Get(t.opts.StreamRequestID, toolCallID)
	if !ok {
		return failure(errToolResultNotFound), nil
	}

	extracted, warnings, err := artifact.Extract(entry.Result, artifact.SaveRequest{
		ToolCallID:    toolCallID,
		BaseSelector:  baseSelector,
		PropSelectors: propSelectors,
		ArtifactType:  artifactType,
	})
	if err != nil {
		return failure(err.Error()), nil
	}

	records := make([]*storage.LedgerArtifact, 0, len(extracted))
	summaries := make([]map[string]any, 0, len(extracted))
	for _, e := range extracted {
		records = append(records, &storage.LedgerArtifact{
			ArtifactID:        e.ArtifactID,
			TaskID:            t.opts.TaskID,
			ContextID:         t.opts.ContextID,
			ToolCallID:        toolCallID,
			Type:              e.Type,
			Summary:           e.Summary,
			Full:              e.Full,
			PendingGeneration: true,
		})
		summaries = append(summaries, map[string]any{
			"artifactId": e.ArtifactID,
			"taskId":     t.opts.TaskID,
			"type":       e.Type,
			"summary":    e.Summary,
		})
	}

	if err := t.opts.Store.AddLedgerArtifacts(ctx, records); err != nil {
		return failure("failed to persist artifacts: " + err.Error()), nil
	}

	for _, r := range records {
		t.opts.Events.Append(t.opts.StreamRequestID, graphsession.EventArtifactSaved, t.opts.AgentID, map[string]any{
			"artifactId":        r.ArtifactID,
			"taskId":            r.TaskID,
			"artifactType":      r.Type,
			"toolCallId":        toolCallID,
			"pendingGeneration": true,
		})
	}

	result := map[string]any{
		"saved":     true,
		"artifacts": summaries,
	}
	if len(warnings) > 0 {
		result["warnings"] = warnings
	}
	return result, nil
}

func failure(msg string) map[string]any {
	return map[string]any{
		"saved": false,
		"error": msg,
	}
}

var _ tool.Tool = (*saveTool)(nil)

// ============================================================================
// get_reference_artifact
// ============================================================================

// NewGetReferenceArtifact creates the get_reference_artifact builtin.
func NewGetReferenceArtifact(opts Options) tool.Tool {
	return &getTool{opts: opts}
}

type getTool struct {
	opts Options
}

func (t *getTool) Name() string {
	return GetReferenceArtifactName
}

func (t *getTool) Description() string {
	return "Retrieves the full content of a previously saved artifact by artifact id and task id."
}

func (t *getTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"artifactId": map[string]any{"type": "string"},
			"taskId":     map[string]any{"type": "string"},
		},
		"required": []string{"artifactId", "taskId"},
	}
}

func (t *getTool) Kind() tool.Kind {
	return tool.KindBuiltin
}

func (t *getTool) Call(ctx context.Context, args map[string]any) (any, error) {
	artifactID, _ := args["artifactId"].(string)
	taskID, _ := args["taskId"].(string)

	found, err := t.opts.Store.GetLedgerArtifacts(ctx, storage.ArtifactQuery{
		ArtifactID: artifactID,
		TaskID:     taskID,
	})
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	if len(found) == 0 {
		return map[string]any{"error": "artifact not found: " + artifactID}, nil
	}

	a := found[0]
	return map[string]any{
		"artifactId":  a.ArtifactID,
		"taskId":      a.TaskID,
		"name":        a.Name,
		"description": a.Description,
		"type":        a.Type,
		"full":        a.Full,
	}, nil
}

var _ tool.Tool = (*getTool)(nil)
