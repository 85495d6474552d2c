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

package artifact

import (
	"fmt"
	"sort"
	"strings"
)

const (
	maxTerminalPaths = 40
	maxArrayPaths    = 12
	maxWalkDepth     = 6
)

// StructureHints describes the shape of a parsed tool result so the model
// can write valid JMESPath selectors for save_tool_result. The hints list
// terminal value paths, array paths, and worked selector examples derived
// from the actual data.
func StructureHints(result any) string {
	parsed := ParseEmbeddedJSON(result)

	var terminals []string
	var arrays []arrayInfo
	walk(parsed, "", 0, &terminals, &arrays)

	if len(terminals) == 0 && len(arrays) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("STRUCTURE HINTS for save_tool_result selectors:\n")

	if len(arrays) > 0 {
		sb.WriteString("\nArray paths (candidates for baseSelector):\n")
		for i, a := range arrays {
			if i >= maxArrayPaths {
				break
			}
			sb.WriteString(fmt.Sprintf("- %s (%d items)\n", a.path, a.length))
		}
	}

	if len(terminals) > 0 {
		sb.WriteString("\nTerminal value paths:\n")
		for i, p := range terminals {
			if i >= maxTerminalPaths {
				break
			}
			sb.WriteString("- " + p + "\n")
		}
	}

	if len(arrays) > 0 {
		example := arrays[0]
		sb.WriteString("\nExample selectors:\n")
		sb.WriteString(fmt.Sprintf("- baseSelector: %s\n", example.path))
		if len(example.itemKeys) > 0 {
			key := example.itemKeys[0]
			sb.WriteString(fmt.Sprintf("- filtered: %s[?%s=='VALUE'] | [0]\n", strings.TrimSuffix(example.path, "[]"), key))
			sb.WriteString(fmt.Sprintf("- propSelector (relative to item): %s\n", key))
		}
	}

	sb.WriteString("\nUse only paths listed above. Do not invent keys, do not use recursive descent, and do not wrap property names in quotes or brackets.\n")
	return sb.String()
}

type arrayInfo struct {
	path     string
	length   int
	itemKeys []string
}

func walk(v any, path string, depth int, terminals *[]string, arrays *[]arrayInfo) {
	if depth > maxWalkDepth {
		return
	}

	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(val[k], joinPath(path, k), depth+1, terminals, arrays)
		}
	case []any:
		info := arrayInfo{path: path, length: len(val)}
		if len(val) > 0 {
			if item, ok := val[0].(map[string]any); ok {
				for k := range item {
					info.itemKeys = append(info.itemKeys, k)
				}
				sort.Strings(info.itemKeys)
			}
			// Sample the first element for nested structure.
			walk(val[0], path+"[0]", depth+1, terminals, arrays)
		}
		if path != "" {
			*arrays = append(*arrays, info)
		}
	default:
		if path != "" {
			*terminals = append(*terminals, path)
		}
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
