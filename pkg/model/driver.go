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

package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/observability"
	"github.com/weavely/weave/pkg/tool"
)

const (
	// DefaultMaxSteps caps the reasoning loop when the caller does not
	// provide a stop condition budget.
	DefaultMaxSteps = 12

	// DefaultStreamTimeout bounds a single streaming model call.
	DefaultStreamTimeout = 270 * time.Second

	// DefaultGenerateTimeout bounds a single non-streaming model call.
	DefaultGenerateTimeout = 90 * time.Second

	// MaxDurationCap is the hard ceiling on a whole driver run, regardless
	// of what the model config asks for.
	MaxDurationCap = 10 * time.Minute
)

// StopCondition decides, after a step that executed tool calls, whether the
// loop should stop instead of calling the model again.
type StopCondition func(steps []Step) bool

// StepCountIs stops after n completed steps.
func StepCountIs(n int) StopCondition {
	return func(steps []Step) bool {
		return len(steps) >= n
	}
}

// HasToolCall stops when the latest step called the named tool.
func HasToolCall(name string) StopCondition {
	return func(steps []Step) bool {
		if len(steps) == 0 {
			return false
		}
		for _, tc := range steps[len(steps)-1].ToolCalls {
			if tc.Name == name {
				return true
			}
		}
		return false
	}
}

// Step records one model call and the tool executions it triggered.
type Step struct {
	Text         string
	ToolCalls    []tool.ToolCall
	ToolResults  []tool.ToolResult
	FinishReason FinishReason
}

// TextRequest describes a multi-step text generation run.
type TextRequest struct {
	System   string
	Messages []*a2a.Message

	// Registry executes the model's tool calls. May be nil when no tools
	// are bound.
	Registry *tool.Registry

	ToolChoice ToolChoice

	// MaxSteps caps the loop; zero means DefaultMaxSteps.
	MaxSteps int

	// StopWhen conditions are checked after each step that ran tools.
	StopWhen []StopCondition

	// StepTimeout bounds each individual model call; zero picks the
	// streaming or non-streaming default.
	StepTimeout time.Duration

	// MaxDuration bounds the whole run; zero or anything above
	// MaxDurationCap clamps to the cap.
	MaxDuration time.Duration

	Config *GenerateConfig

	// OnDelta receives text deltas during streaming runs.
	OnDelta func(text string)
}

// TextResult is the outcome of a driver run.
type TextResult struct {
	// Text is the final text: the last step that produced any.
	Text string

	// Steps in execution order.
	Steps []Step

	// Messages is the full transcript including tool call threading,
	// suitable for a follow-up call.
	Messages []*a2a.Message

	Usage        Usage
	FinishReason FinishReason
}

// ObjectRequest describes a single-shot structured generation call.
type ObjectRequest struct {
	System   string
	Messages []*a2a.Message

	// Schema constrains and validates the output.
	Schema     map[string]any
	SchemaName string

	// Timeout bounds the call; zero picks the default.
	Timeout time.Duration

	// OnDelta receives raw JSON text deltas during streaming runs.
	OnDelta func(text string)
}

// Driver runs multi-step generation loops against one LLM.
type Driver struct {
	llm    LLM
	logger *slog.Logger
}

// NewDriver creates a driver for the given provider.
func NewDriver(llm LLM) *Driver {
	return &Driver{
		llm:    llm,
		logger: logger.GetLogger(),
	}
}

// Name returns the underlying model identifier.
func (d *Driver) Name() string {
	return d.llm.Name()
}

// GenerateText runs the tool loop without streaming.
func (d *Driver) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	return d.run(ctx, req, false)
}

// StreamText runs the tool loop, forwarding text deltas through req.OnDelta.
func (d *Driver) StreamText(ctx context.Context, req TextRequest) (*TextResult, error) {
	return d.run(ctx, req, true)
}

func (d *Driver) run(ctx context.Context, req TextRequest, stream bool) (*TextResult, error) {
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	stepTimeout := req.StepTimeout
	if stepTimeout <= 0 {
		if stream {
			stepTimeout = DefaultStreamTimeout
		} else {
			stepTimeout = DefaultGenerateTimeout
		}
	}
	maxDuration := req.MaxDuration
	if maxDuration <= 0 || maxDuration > MaxDurationCap {
		maxDuration = MaxDurationCap
	}

	ctx, cancel := context.WithTimeout(ctx, maxDuration)
	defer cancel()

	messages := make([]*a2a.Message, len(req.Messages))
	copy(messages, req.Messages)

	var defs []tool.Definition
	if req.Registry != nil && req.ToolChoice != ToolChoiceNone {
		defs = req.Registry.Definitions()
	}

	result := &TextResult{FinishReason: FinishReasonStop}

	for stepNum := 0; stepNum < maxSteps; stepNum++ {
		final, err := d.call(ctx, &Request{
			Messages:          messages,
			Tools:             defs,
			ToolChoice:        req.ToolChoice,
			Config:            req.Config,
			SystemInstruction: req.System,
		}, stream, stepTimeout, req.OnDelta)
		if err != nil {
			return nil, err
		}

		result.Usage.Add(final.Usage)

		step := Step{
			Text:         final.TextContent(),
			ToolCalls:    final.ToolCalls,
			FinishReason: final.FinishReason,
		}
		if step.Text != "" {
			result.Text = step.Text
		}

		messages = append(messages, assistantMessage(step.Text, final.ToolCalls))

		if !final.HasToolCalls() {
			result.Steps = append(result.Steps, step)
			result.Messages = messages
			result.FinishReason = final.FinishReason
			return result, nil
		}

		resultParts := make([]a2a.Part, 0, len(final.ToolCalls))
		for _, call := range final.ToolCalls {
			res := req.Registry.Execute(ctx, call)
			step.ToolResults = append(step.ToolResults, res)
			resultParts = append(resultParts, a2a.DataPart(map[string]any{
				"type":         "tool_result",
				"tool_call_id": res.ToolCallID,
				"tool_name":    res.ToolName,
				"content":      toolResultContent(res),
			}))
		}
		messages = append(messages, &a2a.Message{
			Role:  a2a.MessageRoleUser,
			Parts: resultParts,
		})

		result.Steps = append(result.Steps, step)

		stopped := false
		for _, cond := range req.StopWhen {
			if cond(result.Steps) {
				stopped = true
				break
			}
		}
		if stopped {
			result.Messages = messages
			result.FinishReason = FinishReasonToolCalls
			return result, nil
		}
	}

	d.logger.Warn("model step budget exhausted",
		"model", d.llm.Name(),
		"max_steps", maxSteps,
	)
	result.Messages = messages
	result.FinishReason = FinishReasonLength
	return result, nil
}

// call performs one model call, bounded by timeout, and returns the final
// (non-partial) response.
func (d *Driver) call(ctx context.Context, req *Request, stream bool, timeout time.Duration, onDelta func(string)) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var final *Response
	var callErr error

	for resp, err := range d.llm.GenerateContent(callCtx, req, stream) {
		if err != nil {
			callErr = err
			break
		}
		if resp.Partial {
			if onDelta != nil {
				if text := resp.TextContent(); text != "" {
					onDelta(text)
				}
			}
			continue
		}
		final = resp
	}

	if m := observability.GetGlobalMetrics(); m != nil {
		var inputTokens, outputTokens int
		if final != nil && final.Usage != nil {
			inputTokens = final.Usage.PromptTokens
			outputTokens = final.Usage.CompletionTokens
		}
		m.RecordModelCall(ctx, d.llm.Name(), time.Since(start), inputTokens, outputTokens, callErr)
	}

	if callErr != nil {
		return nil, fmt.Errorf("model call failed: %w", callErr)
	}
	if final == nil {
		return nil, fmt.Errorf("model %s returned no response", d.llm.Name())
	}
	return final, nil
}

// GenerateObject performs a single structured generation call and validates
// the result against the schema.
func (d *Driver) GenerateObject(ctx context.Context, req ObjectRequest) (map[string]any, error) {
	return d.object(ctx, req, false)
}

// StreamObject streams a structured generation call, forwarding raw JSON
// deltas through req.OnDelta, then validates the aggregated result.
func (d *Driver) StreamObject(ctx context.Context, req ObjectRequest) (map[string]any, error) {
	return d.object(ctx, req, true)
}

func (d *Driver) object(ctx context.Context, req ObjectRequest, stream bool) (map[string]any, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}

	schemaName := req.SchemaName
	if schemaName == "" {
		schemaName = "response"
	}

	final, err := d.call(ctx, &Request{
		Messages:          req.Messages,
		ToolChoice:        ToolChoiceNone,
		SystemInstruction: req.System,
		Config: &GenerateConfig{
			ResponseSchema:     req.Schema,
			ResponseSchemaName: schemaName,
		},
	}, stream, timeout, req.OnDelta)
	if err != nil {
		return nil, err
	}

	return ParseObject(final.TextContent(), req.Schema)
}

// ParseObject parses model output as a JSON object, repairing truncated or
// malformed JSON, and validates it against the schema when one is given.
func ParseObject(text string, schema map[string]any) (map[string]any, error) {
	cleaned := stripCodeFences(text)
	if cleaned == "" {
		return nil, fmt.Errorf("model returned empty structured output")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return nil, fmt.Errorf("structured output is not valid JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
			return nil, fmt.Errorf("structured output is not valid JSON after repair: %w", err)
		}
	}

	if schema != nil {
		if err := validateAgainstSchema(obj, schema); err != nil {
			return nil, err
		}
	}

	return obj, nil
}

func validateAgainstSchema(obj map[string]any, schema map[string]any) error {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshaling response schema: %w", err)
	}
	compiled, err := jsonschema.CompileString("response.json", string(schemaJSON))
	if err != nil {
		return fmt.Errorf("compiling response schema: %w", err)
	}

	// Round-trip so numbers and nested types match what the validator
	// expects from decoded JSON.
	objJSON, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshaling structured output: %w", err)
	}
	var v any
	if err := json.Unmarshal(objJSON, &v); err != nil {
		return fmt.Errorf("decoding structured output: %w", err)
	}

	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("structured output failed schema validation: %w", err)
	}
	return nil
}

func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// assistantMessage builds the transcript message for one model step: text
// first, then a tool_use data part per call.
func assistantMessage(text string, calls []tool.ToolCall) *a2a.Message {
	var parts []a2a.Part
	if text != "" {
		parts = append(parts, a2a.TextPart(text))
	}
	for _, tc := range calls {
		parts = append(parts, a2a.DataPart(map[string]any{
			"type":      "tool_use",
			"id":        tc.ID,
			"name":      tc.Name,
			"arguments": tc.Args,
		}))
	}
	return &a2a.Message{
		Role:  a2a.MessageRoleAgent,
		Parts: parts,
	}
}

// toolResultContent serializes a tool result for the conversation. Structure
// hints ride along after the payload so the model can write selectors.
func toolResultContent(res tool.ToolResult) string {
	var payload any = res.Result
	if res.Error != "" {
		payload = map[string]any{"error": res.Error}
	}
	content, err := json.Marshal(payload)
	if err != nil {
		content = []byte(fmt.Sprintf("%v", payload))
	}
	out := string(content)
	if out == "null" {
		out = "(no output)"
	}
	if res.Hints != "" {
		out += "\n\n" + res.Hints
	}
	return out
}
