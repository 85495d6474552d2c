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

// Package transfertool exposes a graph's transfer relations as tools. A
// transfer hands the whole conversation to the target agent; calling one
// ends the current agent's turn immediately.
package transfertool

import (
	"context"

	"github.com/weavely/weave/pkg/prompt"
	"github.com/weavely/weave/pkg/tool"
)

// Prefix is the naming convention for transfer tools.
const Prefix = "transfer_to_"

// New creates a transfer tool for the target agent.
func New(targetAgentID, targetName, targetDescription string) tool.Tool {
	return &transferTool{
		targetAgentID: targetAgentID,
		name:          prompt.SanitizeToolName(Prefix + targetAgentID),
		description:   buildDescription(targetName, targetDescription),
	}
}

func buildDescription(name, description string) string {
	desc := "Transfers the conversation to " + name + "."
	if description != "" {
		desc += " " + description
	}
	desc += " Use when the request is better handled by that agent; do not answer yourself after transferring."
	return desc
}

type transferTool struct {
	targetAgentID string
	name          string
	description   string
}

func (t *transferTool) Name() string {
	return t.name
}

func (t *transferTool) Description() string {
	return t.description
}

func (t *transferTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Why the conversation is being transferred",
			},
		},
	}
}

func (t *transferTool) Kind() tool.Kind {
	return tool.KindTransfer
}

// Target returns the agent this tool transfers to.
func (t *transferTool) Target() string {
	return t.targetAgentID
}

func (t *transferTool) Call(ctx context.Context, args map[string]any) (any, error) {
	reason, _ := args["reason"].(string)
	return map[string]any{
		"type":   "transfer",
		"target": t.targetAgentID,
		"reason": reason,
	}, nil
}

var _ tool.Tool = (*transferTool)(nil)
