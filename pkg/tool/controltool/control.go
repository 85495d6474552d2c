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

// Package controltool provides the loop-control tools of the reasoning
// phase. These do no work themselves: the reasoning loop watches for their
// invocation to decide when to stop.
package controltool

import (
	"context"

	"github.com/weavely/weave/pkg/tool"
)

// ThinkingCompleteName is the tool the model calls to signal that
// information gathering is done and structured generation can begin.
const ThinkingCompleteName = "thinking_complete"

// ThinkingComplete creates the phase-transition tool. It is only bound
// when the agent has data components, since only then does a second phase
// exist.
func ThinkingComplete() tool.Tool {
	return &thinkingCompleteTool{}
}

type thinkingCompleteTool struct{}

func (t *thinkingCompleteTool) Name() string {
	return ThinkingCompleteName
}

func (t *thinkingCompleteTool) Description() string {
	return "Signals that all information needed for the final structured response has been gathered. Call this exactly once, after your research is complete."
}

func (t *thinkingCompleteTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *thinkingCompleteTool) Kind() tool.Kind {
	return tool.KindBuiltin
}

func (t *thinkingCompleteTool) Call(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{
		"status":  "complete",
		"message": "Preparation complete. Composing the structured response.",
	}, nil
}

var _ tool.Tool = (*thinkingCompleteTool)(nil)
