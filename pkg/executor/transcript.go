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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weavely/weave/pkg/model"
)

// transcript renders the phase-1 reasoning flow for the phase-2 prompt: what
// the model thought, which tools it called, and what came back, including
// the structure hints that teach it valid selectors. Phase 2 runs without
// tools, so this text is its only window into the gathered data.
func transcript(steps []model.Step) string {
	var sb strings.Builder
	sb.WriteString("Reasoning and tool activity from the preparation phase:\n")

	for i, step := range steps {
		fmt.Fprintf(&sb, "\n### Step %d\n", i+1)
		if step.Text != "" {
			sb.WriteString(step.Text)
			sb.WriteString("\n")
		}
		for _, call := range step.ToolCalls {
			args, err := json.Marshal(call.Args)
			if err != nil {
				args = []byte("{}")
			}
			fmt.Fprintf(&sb, "\nCalled `%s` (id %s) with %s\n", call.Name, call.ID, args)
		}
		for _, res := range step.ToolResults {
			if res.Error != "" {
				fmt.Fprintf(&sb, "Result of %s: error: %s\n", res.ToolCallID, res.Error)
				continue
			}
			payload, err := json.Marshal(res.Result)
			if err != nil {
				payload = []byte(fmt.Sprintf("%v", res.Result))
			}
			fmt.Fprintf(&sb, "Result of %s: %s\n", res.ToolCallID, payload)
			if res.Hints != "" {
				sb.WriteString(res.Hints)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}
