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

// Package tool defines the callable tool abstraction and the per-turn
// registry that binds an agent's tools for one execution.
//
// Four kinds of tools exist: MCP server tools, builtins (artifact and
// control tools), transfer tools, and delegation tools. The registry wraps
// all of them uniformly with tracing, metrics, session recording, and
// activity events, so the agent's reasoning loop treats every callable the
// same way.
package tool

import (
	"context"
)

// Kind discriminates the four tool variants.
type Kind string

const (
	KindMCP      Kind = "mcp"
	KindBuiltin  Kind = "builtin"
	KindTransfer Kind = "transfer"
	KindDelegate Kind = "delegate"
)

// Definition is a tool's wire description handed to model providers.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a model-requested invocation.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult is the outcome of executing a tool call.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`

	// Result is the raw tool output. For failed calls it may carry a
	// structured failure payload instead of being empty.
	Result any `json:"result,omitempty"`

	// Error is the failure message when the call failed. Tool failures are
	// recoverable: they are returned to the model, not raised.
	Error string `json:"error,omitempty"`

	// Hints is selector guidance appended for the model when the agent can
	// save artifacts from this result.
	Hints string `json:"hints,omitempty"`
}

// IsError reports whether the call failed.
func (r ToolResult) IsError() bool {
	return r.Error != ""
}

// Tool is a callable bound into an agent's turn.
type Tool interface {
	// Name returns the sanitized tool name exposed to the model.
	Name() string

	// Description returns the human-readable purpose shown in prompts.
	Description() string

	// Schema returns the JSON schema of the tool's arguments.
	Schema() map[string]any

	// Kind returns the tool variant.
	Kind() Kind

	// Call executes the tool.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// DefinitionOf builds the provider-facing definition for a tool.
func DefinitionOf(t Tool) Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}
