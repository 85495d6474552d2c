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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/storage"
)

// GenerateFunc produces a schema-constrained object from a prompt. The
// executor wires the structured-output model driver into this.
type GenerateFunc func(ctx context.Context, system, prompt string, schema map[string]any) (map[string]any, error)

var metadataSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name":        map[string]any{"type": "string", "description": "Short display name for the artifact"},
		"description": map[string]any{"type": "string", "description": "One-sentence description of the artifact contents"},
	},
	"required": []any{"name", "description"},
}

// Finalizer fills in names and descriptions for artifacts saved during a
// turn with pendingGeneration set. Generation runs after the turn's answer
// is produced so it never delays the user-visible response.
type Finalizer struct {
	store    storage.Store
	generate GenerateFunc
	logger   *slog.Logger

	// Concurrency caps parallel metadata generations.
	Concurrency int
}

// NewFinalizer creates a finalizer over the store and generator.
func NewFinalizer(store storage.Store, generate GenerateFunc) *Finalizer {
	return &Finalizer{
		store:       store,
		generate:    generate,
		logger:      logger.GetLogger(),
		Concurrency: 4,
	}
}

// Run generates metadata for every pending artifact of the task. Failures
// are logged per artifact; the artifact keeps its placeholder name.
func (f *Finalizer) Run(ctx context.Context, taskID string) error {
	artifacts, err := f.store.GetLedgerArtifacts(ctx, storage.ArtifactQuery{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("failed to load artifacts for task %s: %w", taskID, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.Concurrency)

	for _, a := range artifacts {
		if !a.PendingGeneration {
			continue
		}
		g.Go(func() error {
			if err := f.finalizeOne(ctx, a); err != nil {
				f.logger.Warn("artifact metadata generation failed",
					"artifact_id", a.ArtifactID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (f *Finalizer) finalizeOne(ctx context.Context, a *storage.LedgerArtifact) error {
	summaryJSON, err := json.Marshal(a.Summary)
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf("Generate a name and description for this %s artifact:\n%s", a.Type, summaryJSON)
	result, err := f.generate(ctx,
		"You name saved artifacts. Respond with concise, specific metadata.",
		prompt, metadataSchema)
	if err != nil {
		return err
	}

	if name, ok := result["name"].(string); ok && name != "" {
		a.Name = name
	}
	if desc, ok := result["description"].(string); ok && desc != "" {
		a.Description = desc
	}
	a.PendingGeneration = false

	return f.store.UpdateLedgerArtifact(ctx, a)
}
