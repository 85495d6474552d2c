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

// Package storage defines the persistence boundary of the execution core:
// agent and graph configuration, conversation messages, tasks, and the
// artifact ledger. The core only depends on the Store interface; the
// in-memory implementation in this package backs tests and single-process
// deployments.
package storage

import (
	"context"
	"errors"
)

// Sentinel errors. Lookups wrap these with the missing id, so callers can
// branch with errors.Is while surfacing a precise message.
var (
	ErrAgentNotFound      = errors.New("Agent not found")
	ErrGraphNotFound      = errors.New("graph not found")
	ErrTaskNotFound       = errors.New("task not found")
	ErrContextNotFound    = errors.New("context config not found")
	ErrExternalNotFound   = errors.New("external agent not found")
	ErrCredentialNotFound = errors.New("credential reference not found")
)

// Store is the persistence interface used by the execution core.
type Store interface {
	// --- graph & agent configuration ---

	GetAgentByID(ctx context.Context, graphID, agentID string) (*Agent, error)
	GetGraphByID(ctx context.Context, graphID string) (*Graph, error)
	GetRelatedAgentsForGraph(ctx context.Context, graphID, agentID string) ([]AgentRelation, error)
	GetToolsForAgent(ctx context.Context, graphID, agentID string) ([]*ToolServer, error)
	GetDataComponentsForAgent(ctx context.Context, graphID, agentID string) ([]*DataComponent, error)
	GetArtifactComponentsForAgent(ctx context.Context, graphID, agentID string) ([]*ArtifactComponent, error)
	GetContextConfigByID(ctx context.Context, id string) (*ContextConfig, error)
	GetCredentialReference(ctx context.Context, id string) (*CredentialReference, error)
	GetExternalAgent(ctx context.Context, id string) (*ExternalAgent, error)
	GetFullGraphDefinition(ctx context.Context, graphID string) (*FullGraphDefinition, error)
	GraphHasArtifactComponents(ctx context.Context, graphID string) (bool, error)

	// --- artifact ledger ---

	GetLedgerArtifacts(ctx context.Context, q ArtifactQuery) ([]*LedgerArtifact, error)
	AddLedgerArtifacts(ctx context.Context, artifacts []*LedgerArtifact) error
	UpdateLedgerArtifact(ctx context.Context, artifact *LedgerArtifact) error
	GetConversationScopedArtifacts(ctx context.Context, contextID string) ([]*LedgerArtifact, error)

	// --- tasks & conversations ---

	ListTaskIDsByContextID(ctx context.Context, contextID string) ([]string, error)
	GetTask(ctx context.Context, taskID string) (*TaskRecord, error)
	UpsertTask(ctx context.Context, task *TaskRecord) error
	CreateMessage(ctx context.Context, msg *ConversationMessage) error
	SaveA2AMessageResponse(ctx context.Context, msg *ConversationMessage) error
	GetFormattedConversationHistory(ctx context.Context, q HistoryQuery) ([]*ConversationMessage, error)
}
