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

package stream

import (
	"context"
	"fmt"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/storage"
)

// Formatter applies the parser's resolution logic once to a fully
// materialized response when no client is streaming. All artifacts for the
// conversation are fetched in a single pass up front.
type Formatter struct {
	store storage.Store
}

func NewFormatter(store storage.Store) *Formatter {
	return &Formatter{store: store}
}

// FormatText resolves inline artifact references in a complete text
// response and returns the ordered parts list.
func (f *Formatter) FormatText(ctx context.Context, contextID, text string) ([]a2a.Part, error) {
	p, err := f.parser(ctx, contextID)
	if err != nil {
		return nil, err
	}
	p.WriteText(text)
	return p.Finalize(), nil
}

// FormatComponents normalizes a complete structured response's component
// list, resolving artifact-reference components against the ledger.
func (f *Formatter) FormatComponents(ctx context.Context, contextID string, components []map[string]any) ([]a2a.Part, error) {
	p, err := f.parser(ctx, contextID)
	if err != nil {
		return nil, err
	}
	p.WriteComponents(components)
	return p.Finalize(), nil
}

func (f *Formatter) parser(ctx context.Context, contextID string) (*Parser, error) {
	artifacts, err := f.store.GetConversationScopedArtifacts(ctx, contextID)
	if err != nil {
		return nil, fmt.Errorf("loading artifacts for context %s: %w", contextID, err)
	}
	return NewParser(MapResolver(artifacts), nil), nil
}
