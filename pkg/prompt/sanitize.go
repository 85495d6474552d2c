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

package prompt

import "regexp"

// Provider APIs accept tool names matching ^[A-Za-z0-9_-]{1,100}$.
var invalidToolNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeToolName rewrites a tool name so every provider accepts it:
// disallowed characters become underscores and the result is clamped to 100
// characters. Empty input yields "tool".
func SanitizeToolName(name string) string {
	sanitized := invalidToolNameChars.ReplaceAllString(name, "_")
	if sanitized == "" {
		return "tool"
	}
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	return sanitized
}
