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
	"iter"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/tool"
)

// StreamingAggregator accumulates partial streaming responses and produces
// the final aggregated response.
//
// Providers feed it deltas as they parse their wire format:
//
//	agg := NewStreamingAggregator()
//	for resp, err := range agg.ProcessTextDelta(chunk) { yield(resp, err) }
//	...
//	if final := agg.Close(); final != nil { yield(final, nil) }
type StreamingAggregator struct {
	text         string
	toolCalls    []tool.ToolCall
	usage        *Usage
	finishReason FinishReason
	role         a2a.MessageRole
}

// NewStreamingAggregator creates a new streaming aggregator.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{
		role:         a2a.MessageRoleAgent,
		finishReason: FinishReasonStop,
	}
}

// ProcessTextDelta accumulates a text delta and yields a partial response.
func (s *StreamingAggregator) ProcessTextDelta(text string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if text == "" {
			return
		}
		s.text += text
		yield(&Response{
			Content: &Content{
				Parts: []a2a.Part{a2a.TextPart(text)},
				Role:  s.role,
			},
			Partial: true,
		}, nil)
	}
}

// ProcessToolCall records a complete tool call and yields a partial response
// carrying it.
func (s *StreamingAggregator) ProcessToolCall(tc tool.ToolCall) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		s.toolCalls = append(s.toolCalls, tc)
		yield(&Response{
			Content: &Content{
				Parts: []a2a.Part{a2a.DataPart(map[string]any{
					"type":      "tool_use",
					"id":        tc.ID,
					"name":      tc.Name,
					"arguments": tc.Args,
				})},
				Role: s.role,
			},
			Partial:   true,
			ToolCalls: []tool.ToolCall{tc},
		}, nil)
	}
}

// SetUsage sets the usage statistics, typically from the final stream event.
func (s *StreamingAggregator) SetUsage(usage *Usage) {
	s.usage = usage
}

// SetFinishReason sets the finish reason.
func (s *StreamingAggregator) SetFinishReason(reason FinishReason) {
	s.finishReason = reason
}

// Close produces the final aggregated response (Partial=false) and resets
// the aggregator. Returns nil when nothing was accumulated.
func (s *StreamingAggregator) Close() *Response {
	if s.text == "" && len(s.toolCalls) == 0 {
		return nil
	}

	var parts []a2a.Part
	if s.text != "" {
		parts = append(parts, a2a.TextPart(s.text))
	}

	resp := &Response{
		Content: &Content{
			Parts: parts,
			Role:  s.role,
		},
		Partial:      false,
		TurnComplete: true,
		ToolCalls:    s.toolCalls,
		Usage:        s.usage,
		FinishReason: s.finishReason,
	}

	s.text = ""
	s.toolCalls = nil
	s.usage = nil
	s.finishReason = FinishReasonStop

	return resp
}
