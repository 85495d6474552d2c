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

package tool

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/weavely/weave/pkg/artifact"
	"github.com/weavely/weave/pkg/graphsession"
	"github.com/weavely/weave/pkg/ledger"
	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/observability"
)

// RegistryOptions configures a per-turn registry.
type RegistryOptions struct {
	AgentID         string
	TaskID          string
	StreamRequestID string

	Ledger *ledger.Ledger
	Events *graphsession.Log

	// AppendHints adds structure hints to MCP tool results so the model
	// can write selectors for save_tool_result. Enabled when the agent has
	// artifact components.
	AppendHints bool
}

// Registry binds the tools available to one agent turn and executes them
// behind a uniform wrapper: tracing, metrics, ledger recording, and
// tool_execution events.
type Registry struct {
	opts   RegistryOptions
	tools  map[string]Tool
	order  []string
	tracer trace.Tracer
	logger *slog.Logger
}

// NewRegistry creates an empty registry for one turn.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Ledger == nil {
		opts.Ledger = ledger.Default()
	}
	if opts.Events == nil {
		opts.Events = graphsession.Default()
	}
	return &Registry{
		opts:   opts,
		tools:  make(map[string]Tool),
		tracer: observability.GetTracer("weave.tool"),
		logger: logger.GetLogger(),
	}
}

// Register adds a tool. Registering a name twice replaces the earlier tool.
func (r *Registry) Register(t Tool) {
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns provider-facing definitions in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, DefinitionOf(r.tools[name]))
	}
	return defs
}

// Execute runs one tool call. Failures are returned inside the ToolResult,
// never as a Go error: the model decides how to proceed.
func (r *Registry) Execute(ctx context.Context, call ToolCall) ToolResult {
	t, ok := r.tools[call.Name]
	if !ok {
		r.logger.Warn("model requested unknown tool", "tool", call.Name, "agent_id", r.opts.AgentID)
		return ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Error:      "unknown tool: " + call.Name,
		}
	}

	ctx, span := r.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.kind", string(t.Kind())),
			attribute.String("agent.id", r.opts.AgentID),
		))
	defer span.End()

	start := time.Now()
	result, err := t.Call(ctx, call.Args)
	duration := time.Since(start)

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordToolExecution(ctx, call.Name, duration, err)
	}
	if err != nil {
		span.RecordError(err)
	}

	kind := t.Kind()

	// MCP results and delegate replies are citable through save_tool_result,
	// so both land in the session ledger.
	if kind == KindMCP || kind == KindDelegate {
		recorded := result
		if err != nil {
			recorded = map[string]any{"error": err.Error()}
		}
		r.opts.Ledger.Record(r.opts.StreamRequestID, call.ID, call.Name, call.Args, recorded)
	}

	// Relation and control tools emit their own typed events (transfer,
	// delegation_sent/returned, artifact_saved); tool_execution covers MCP
	// tools only.
	if kind == KindMCP {
		eventData := map[string]any{
			"toolName":   call.Name,
			"toolCallId": call.ID,
			"taskId":     r.opts.TaskID,
			"durationMs": duration.Milliseconds(),
		}
		if err != nil {
			eventData["error"] = err.Error()
		}
		r.opts.Events.Append(r.opts.StreamRequestID, graphsession.EventToolExecution, r.opts.AgentID, eventData)
	}

	res := ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Result:     result,
	}
	if err != nil {
		res.Error = err.Error()
	}
	if r.opts.AppendHints && t.Kind() == KindMCP && err == nil {
		res.Hints = artifact.StructureHints(result)
	}
	return res
}
