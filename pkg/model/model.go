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

// Package model defines the provider-neutral LLM interface and the driver
// that runs multi-step text and structured-object generation on top of it.
//
// Providers implement LLM with a single GenerateContent method:
//   - stream=false yields exactly one complete Response (Partial=false)
//   - stream=true yields partial Responses (Partial=true) for real-time
//     forwarding, then the aggregated Response (Partial=false)
package model

import (
	"context"
	"iter"
	"strings"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/tool"
)

// LLM is the interface language-model providers implement.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// Provider returns the provider type.
	Provider() Provider

	// GenerateContent produces responses for the given request.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// Close releases any resources held by the provider.
	Close() error
}

// Provider identifies the LLM provider. Providers differ in how tool results
// are threaded back into the conversation.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderUnknown   Provider = "unknown"
)

// ToolChoice controls whether the model may, must, or must not call tools.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide.
	ToolChoiceAuto ToolChoice = "auto"

	// ToolChoiceRequired forces the model to call some tool.
	ToolChoiceRequired ToolChoice = "required"

	// ToolChoiceNone withholds tools entirely.
	ToolChoiceNone ToolChoice = "none"
)

// Request contains the input for one LLM call.
type Request struct {
	// Messages is the conversation so far.
	Messages []*a2a.Message

	// Tools available for the model to call.
	Tools []tool.Definition

	// ToolChoice policy for this call. Empty means auto.
	ToolChoice ToolChoice

	// Config contains generation configuration.
	Config *GenerateConfig

	// SystemInstruction is prepended to the conversation.
	SystemInstruction string
}

// GenerateConfig contains configuration for generation.
type GenerateConfig struct {
	// Temperature controls randomness.
	Temperature *float64

	// MaxTokens limits the response length.
	MaxTokens *int

	// TopP controls nucleus sampling.
	TopP *float64

	// StopSequences terminates generation.
	StopSequences []string

	// ResponseSchema constrains output to a JSON schema (structured output).
	ResponseSchema map[string]any

	// ResponseSchemaName identifies the schema for providers that require
	// one (OpenAI's json_schema format). Default: "response".
	ResponseSchemaName string
}

// Clone creates a deep copy of the config. Call paths that mutate the config
// per step must clone first to avoid shared state.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}

	clone := *c

	if c.Temperature != nil {
		temp := *c.Temperature
		clone.Temperature = &temp
	}
	if c.MaxTokens != nil {
		maxTok := *c.MaxTokens
		clone.MaxTokens = &maxTok
	}
	if c.TopP != nil {
		topP := *c.TopP
		clone.TopP = &topP
	}
	if c.StopSequences != nil {
		clone.StopSequences = make([]string, len(c.StopSequences))
		copy(clone.StopSequences, c.StopSequences)
	}
	if c.ResponseSchema != nil {
		clone.ResponseSchema = deepCopyMap(c.ResponseSchema)
	}

	return &clone
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			result[k] = deepCopyMap(val)
		case []any:
			result[k] = deepCopySlice(val)
		default:
			result[k] = v
		}
	}
	return result
}

func deepCopySlice(s []any) []any {
	if s == nil {
		return nil
	}
	result := make([]any, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case map[string]any:
			result[i] = deepCopyMap(val)
		case []any:
			result[i] = deepCopySlice(val)
		default:
			result[i] = v
		}
	}
	return result
}

// Response contains the result of an LLM call.
type Response struct {
	// Content is the generated content.
	Content *Content

	// Partial marks streaming chunks. The final aggregated response has
	// Partial=false.
	Partial bool

	// TurnComplete indicates whether the model has finished its turn.
	TurnComplete bool

	// ToolCalls requested by the model.
	ToolCalls []tool.ToolCall

	// Usage statistics.
	Usage *Usage

	// FinishReason indicates why generation stopped.
	FinishReason FinishReason
}

// Content is the message content of a response.
type Content struct {
	Parts []a2a.Part
	Role  a2a.MessageRole
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates usage across calls.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonError     FinishReason = "error"
)

// TextContent extracts the concatenated text of a response.
func (r *Response) TextContent() string {
	if r == nil || r.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range r.Content.Parts {
		if part.Kind == a2a.PartKindText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// HasToolCalls reports whether the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}
