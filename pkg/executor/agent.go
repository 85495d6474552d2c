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
	"github.com/weavely/weave/pkg/storage"
)

// Related is a collaborator agent reachable through a relation.
type Related struct {
	ID          string
	Name        string
	Description string
}

// Agent is the fully hydrated runtime view of one agent: its stored config
// plus everything the turn needs that lives in other tables. The task
// handler assembles it; the executor only reads it.
type Agent struct {
	Config *storage.Agent
	Graph  *storage.Graph

	ToolServers        []*storage.ToolServer
	DataComponents     []*storage.DataComponent
	ArtifactComponents []*storage.ArtifactComponent

	// Transfers and Delegates are internal relation targets; ExternalDelegates
	// are reachable only over A2A.
	Transfers         []Related
	Delegates         []Related
	ExternalDelegates []Related
}

// MaxSteps returns the agent's step cap, zero meaning the driver default.
func (a *Agent) MaxSteps() int {
	if a.Config.StopWhen != nil && a.Config.StopWhen.StepCountIs != nil {
		return *a.Config.StopWhen.StepCountIs
	}
	return 0
}

// BaseModel returns the phase-1 model config.
func (a *Agent) BaseModel() *storage.ModelConfig {
	if a.Config.Models == nil {
		return nil
	}
	return a.Config.Models.Base
}

// StructuredModel returns the phase-2 model config, falling back to base.
func (a *Agent) StructuredModel() *storage.ModelConfig {
	if a.Config.Models == nil {
		return nil
	}
	if a.Config.Models.StructuredOutput != nil {
		return a.Config.Models.StructuredOutput
	}
	return a.Config.Models.Base
}

// SummarizerModel returns the artifact-metadata model, falling back to base.
func (a *Agent) SummarizerModel() *storage.ModelConfig {
	if a.Config.Models == nil {
		return nil
	}
	if a.Config.Models.Summarizer != nil {
		return a.Config.Models.Summarizer
	}
	return a.Config.Models.Base
}

// HasDataComponents reports whether a structured phase 2 exists for this
// agent.
func (a *Agent) HasDataComponents() bool {
	return len(a.DataComponents) > 0
}
