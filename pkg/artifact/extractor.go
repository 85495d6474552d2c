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
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmespath/go-jmespath"
)

// SaveRequest is the input of an artifact extraction.
type SaveRequest struct {
	ToolCallID    string
	BaseSelector  string
	PropSelectors map[string]string
	ArtifactType  string
}

// Extracted is one artifact produced from a tool result item.
type Extracted struct {
	ArtifactID string
	Type       string

	// Summary holds the props selected via PropSelectors.
	Summary map[string]any

	// Full holds the complete item the summary was derived from.
	Full map[string]any
}

// Extract applies the base selector to a (previously recorded) tool result
// and projects each selected item through the prop selectors.
//
// The result is normalized with ParseEmbeddedJSON first, so selectors reach
// into JSON that tools returned as strings. A base selector that matches
// nothing yields a diagnostic error describing the actual result shape; a
// prop selector that matches nothing falls back to direct property access
// and emits a warning instead of failing.
func Extract(result any, req SaveRequest) ([]Extracted, []string, error) {
	data := ParseEmbeddedJSON(result)

	selected, err := jmespath.Search(req.BaseSelector, data)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid base selector %q: %v\n\n%s",
			req.BaseSelector, err, selectorDiagnostics(req.BaseSelector, data))
	}
	if isEmptySelection(selected) {
		return nil, nil, fmt.Errorf("base selector %q matched no data\n\n%s",
			req.BaseSelector, selectorDiagnostics(req.BaseSelector, data))
	}

	items := normalizeItems(selected)

	var warnings []string
	extracted := make([]Extracted, 0, len(items))
	for i, item := range items {
		summary := make(map[string]any, len(req.PropSelectors))
		for prop, selector := range req.PropSelectors {
			value, selErr := searchRelative(selector, item)
			if selErr != nil || value == nil {
				// Selector missed; fall back to the item's own property.
				fallback := directProperty(item, prop)
				if fallback != nil {
					summary[prop] = fallback
					warnings = append(warnings, fmt.Sprintf(
						"item %d: selector %q for prop %q matched nothing; used direct property access", i, selector, prop))
				} else {
					warnings = append(warnings, fmt.Sprintf(
						"item %d: selector %q for prop %q matched nothing and no direct property exists", i, selector, prop))
				}
				continue
			}
			summary[prop] = value
		}

		extracted = append(extracted, Extracted{
			ArtifactID: uuid.NewString(),
			Type:       req.ArtifactType,
			Summary:    summary,
			Full:       fullOf(item),
		})
	}

	return extracted, warnings, nil
}

func searchRelative(selector string, item any) (any, error) {
	if selector == "" {
		return nil, nil
	}
	return jmespath.Search(selector, item)
}

func directProperty(item any, prop string) any {
	m, ok := item.(map[string]any)
	if !ok {
		return nil
	}
	return m[prop]
}

func fullOf(item any) map[string]any {
	if m, ok := item.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": item}
}

func isEmptySelection(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	case string:
		return val == ""
	}
	return false
}

// normalizeItems turns the selection into an item slice: arrays are taken
// as-is, anything else becomes a single-item slice.
func normalizeItems(selected any) []any {
	if arr, ok := selected.([]any); ok {
		return arr
	}
	return []any{selected}
}

// ============================================================================
// DIAGNOSTICS
// ============================================================================

var selectorIdentRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

// selectorDiagnostics explains why a selector failed against the given
// data: what went wrong, which keys actually exist at the top level, and
// where the selector's trailing key appears deeper in the structure.
func selectorDiagnostics(selector string, data any) string {
	var sb strings.Builder
	sb.WriteString("DETECTED ISSUES:\n")
	sb.WriteString(fmt.Sprintf("- The selector %q did not match the result structure.\n", selector))

	switch v := data.(type) {
	case map[string]any:
		keys := sortedKeys(v)
		sb.WriteString("\nAVAILABLE TOP-LEVEL KEYS:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("- %s (%s)\n", k, typeName(v[k])))
		}
	case []any:
		sb.WriteString(fmt.Sprintf("\nAVAILABLE TOP-LEVEL KEYS:\n- (the result is an array of %d items; start the selector with [] or [0])\n", len(v)))
	default:
		sb.WriteString(fmt.Sprintf("\nAVAILABLE TOP-LEVEL KEYS:\n- (the result is a %s, not an object)\n", typeName(v)))
	}

	if key := lastIdentifier(selector); key != "" {
		locations := findKeyPaths(data, key, "", 0, nil)
		if len(locations) > 0 {
			sb.WriteString(fmt.Sprintf("\nThe key %q exists at:\n", key))
			for i, loc := range locations {
				if i >= 5 {
					break
				}
				sb.WriteString("- " + loc + "\n")
			}
		} else {
			sb.WriteString(fmt.Sprintf("\nThe key %q does not exist anywhere in the result.\n", key))
		}
	}

	return sb.String()
}

var selectorBracketRe = regexp.MustCompile(`\[[^\]]*\]`)

// lastIdentifier returns the selector's trailing path key. Filter, index,
// and projection expressions are stripped first, so a selector like
// `result.documents[?type=='api']` yields "documents", not the filter
// literal.
func lastIdentifier(selector string) string {
	base := selectorBracketRe.ReplaceAllString(selector, "")
	idents := selectorIdentRe.FindAllString(base, -1)
	if len(idents) == 0 {
		return ""
	}
	return idents[len(idents)-1]
}

func findKeyPaths(v any, key, path string, depth int, acc []string) []string {
	if depth > maxWalkDepth {
		return acc
	}
	switch val := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(val) {
			childPath := joinPath(path, k)
			if k == key {
				acc = append(acc, childPath)
			}
			acc = findKeyPaths(val[k], key, childPath, depth+1, acc)
		}
	case []any:
		if len(val) > 0 {
			acc = findKeyPaths(val[0], key, path+"[0]", depth+1, acc)
		}
	}
	return acc
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func typeName(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, int:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
