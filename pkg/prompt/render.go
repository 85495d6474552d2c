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

// Package prompt assembles the system prompts for both phases of an agent
// turn and renders {{variable}} templates against resolved context.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/weavely/weave/pkg/logger"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\-]+)\s*\}\}`)

// Render expands {{path.to.value}} placeholders from the variable map.
// Rendering is non-strict: unresolved placeholders are dropped (replaced
// with the empty string) and logged at debug level, never failing the turn.
func Render(template string, vars map[string]any) string {
	if template == "" || !strings.Contains(template, "{{") {
		return template
	}

	log := logger.GetLogger()
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := lookup(vars, path)
		if !ok {
			log.Debug("dropping unresolved template variable", "variable", path)
			return ""
		}
		return stringify(value)
	})
}

func lookup(vars map[string]any, path string) (any, bool) {
	if vars == nil {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current any = vars
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
