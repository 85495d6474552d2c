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

// Package artifact extracts structured artifacts from raw tool results:
// embedded-JSON normalization, JMESPath selection with diagnostic errors,
// structure hints for the model, and post-turn metadata generation.
package artifact

import (
	"encoding/json"
	"strings"
)

// ParseEmbeddedJSON walks a tool result and replaces every string that
// itself contains a JSON object or array with its parsed value, recursively,
// so selectors can address data that tools double-encoded. Already-parsed
// input passes through unchanged, making the operation idempotent.
func ParseEmbeddedJSON(v any) any {
	switch val := v.(type) {
	case string:
		parsed, ok := tryParseJSON(val)
		if !ok {
			return val
		}
		// Recurse: the embedded document may itself embed JSON strings.
		return ParseEmbeddedJSON(parsed)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ParseEmbeddedJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ParseEmbeddedJSON(item)
		}
		return out
	default:
		return v
	}
}

// tryParseJSON parses strings that look like JSON containers. Scalars
// ("42", "true") stay strings so tool text output is not mangled.
func tryParseJSON(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return nil, false
	}
	first := trimmed[0]
	if first != '{' && first != '[' {
		return nil, false
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}
