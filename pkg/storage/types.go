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

package storage

import (
	"time"

	"github.com/weavely/weave/pkg/a2a"
)

// ============================================================================
// AGENT & GRAPH CONFIGURATION
// ============================================================================

// Agent is the stored configuration of a single agent in a graph.
type Agent struct {
	ID          string       `json:"id" yaml:"id"`
	GraphID     string       `json:"graphId" yaml:"graphId"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Prompt      string       `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Models      *AgentModels `json:"models,omitempty" yaml:"models,omitempty"`
	StopWhen    *StopWhen    `json:"stopWhen,omitempty" yaml:"stopWhen,omitempty"`

	// ConversationHistory controls what prior conversation the agent sees.
	ConversationHistory *ConversationHistoryConfig `json:"conversationHistoryConfig,omitempty" yaml:"conversationHistoryConfig,omitempty"`

	// ContextConfigID links the agent's graph to its context definition.
	ContextConfigID string `json:"contextConfigId,omitempty" yaml:"contextConfigId,omitempty"`
}

// AgentModels selects the models used for the agent's phases. Base is
// required; StructuredOutput falls back to Base, Summarizer falls back to
// Base, when unset.
type AgentModels struct {
	Base             *ModelConfig `json:"base,omitempty" yaml:"base,omitempty"`
	StructuredOutput *ModelConfig `json:"structuredOutput,omitempty" yaml:"structuredOutput,omitempty"`
	Summarizer       *ModelConfig `json:"summarizer,omitempty" yaml:"summarizer,omitempty"`
}

// ModelConfig names a provider model plus provider-specific options.
type ModelConfig struct {
	Model           string         `json:"model" yaml:"model"`
	Provider        string         `json:"provider,omitempty" yaml:"provider,omitempty"`
	ProviderOptions map[string]any `json:"providerOptions,omitempty" yaml:"providerOptions,omitempty"`
}

// StopWhen bounds the agent's generation loop.
type StopWhen struct {
	// StepCountIs caps the number of model steps in a single turn.
	StepCountIs *int `json:"stepCountIs,omitempty" yaml:"stepCountIs,omitempty"`
}

// HistoryMode selects how much conversation history an agent receives.
type HistoryMode string

const (
	HistoryModeNone   HistoryMode = "none"
	HistoryModeFull   HistoryMode = "full"
	HistoryModeScoped HistoryMode = "scoped"
)

// ConversationHistoryConfig controls history inclusion per agent.
type ConversationHistoryConfig struct {
	Mode      HistoryMode `json:"mode" yaml:"mode"`
	Limit     int         `json:"limit,omitempty" yaml:"limit,omitempty"`
	MaxTokens int         `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
}

// Graph is a stored agent graph.
type Graph struct {
	ID             string       `json:"id" yaml:"id"`
	Name           string       `json:"name" yaml:"name"`
	Description    string       `json:"description,omitempty" yaml:"description,omitempty"`
	DefaultAgentID string       `json:"defaultAgentId" yaml:"defaultAgentId"`
	Prompt         string       `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Models         *AgentModels `json:"models,omitempty" yaml:"models,omitempty"`

	ContextConfigID string `json:"contextConfigId,omitempty" yaml:"contextConfigId,omitempty"`
}

// RelationType distinguishes transfer from delegation edges.
type RelationType string

const (
	RelationTransfer RelationType = "transfer"
	RelationDelegate RelationType = "delegate"
)

// AgentRelation is a directed edge from one agent to a collaborator. For
// internal targets TargetAgentID is set; for external delegation targets
// ExternalAgentID is set.
type AgentRelation struct {
	Type            RelationType `json:"type" yaml:"type"`
	SourceAgentID   string       `json:"sourceAgentId" yaml:"sourceAgentId"`
	TargetAgentID   string       `json:"targetAgentId,omitempty" yaml:"targetAgentId,omitempty"`
	ExternalAgentID string       `json:"externalAgentId,omitempty" yaml:"externalAgentId,omitempty"`
}

// ExternalAgent is an agent reachable only over A2A HTTP.
type ExternalAgent struct {
	ID                    string `json:"id" yaml:"id"`
	Name                  string `json:"name" yaml:"name"`
	Description           string `json:"description,omitempty" yaml:"description,omitempty"`
	BaseURL               string `json:"baseUrl" yaml:"baseUrl"`
	CredentialReferenceID string `json:"credentialReferenceId,omitempty" yaml:"credentialReferenceId,omitempty"`
}

// ============================================================================
// TOOLS & COMPONENTS
// ============================================================================

// ToolServer describes an MCP server an agent may call.
type ToolServer struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Transport is "streamable_http" or "stdio".
	Transport string   `json:"transport,omitempty" yaml:"transport,omitempty"`
	ServerURL string   `json:"serverUrl,omitempty" yaml:"serverUrl,omitempty"`
	Command   string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string `json:"args,omitempty" yaml:"args,omitempty"`

	// ActiveTools restricts the exposed tool names; empty means all.
	ActiveTools []string `json:"activeTools,omitempty" yaml:"activeTools,omitempty"`

	Headers               map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	CredentialReferenceID string            `json:"credentialReferenceId,omitempty" yaml:"credentialReferenceId,omitempty"`
}

// DataComponent is a structured output shape the agent may emit.
type DataComponent struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Props       map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
}

// ArtifactComponent is an artifact shape the agent may create from tool
// results. SummaryProps describe the lightweight view, FullProps the
// complete record.
type ArtifactComponent struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	SummaryProps map[string]any `json:"summaryProps,omitempty" yaml:"summaryProps,omitempty"`
	FullProps    map[string]any `json:"fullProps,omitempty" yaml:"fullProps,omitempty"`
}

// ============================================================================
// CONTEXT & CREDENTIALS
// ============================================================================

// ContextConfig defines per-conversation template variables and the schema
// of headers a caller must provide.
type ContextConfig struct {
	ID               string         `json:"id" yaml:"id"`
	GraphID          string         `json:"graphId,omitempty" yaml:"graphId,omitempty"`
	ContextVariables map[string]any `json:"contextVariables,omitempty" yaml:"contextVariables,omitempty"`
	HeadersSchema    map[string]any `json:"headersSchema,omitempty" yaml:"headersSchema,omitempty"`
}

// CredentialReference points into a credential store.
type CredentialReference struct {
	ID                string            `json:"id" yaml:"id"`
	Type              string            `json:"type" yaml:"type"`
	CredentialStoreID string            `json:"credentialStoreId" yaml:"credentialStoreId"`
	RetrievalParams   map[string]string `json:"retrievalParams,omitempty" yaml:"retrievalParams,omitempty"`
}

// ============================================================================
// CONVERSATION & PERSISTENCE
// ============================================================================

// Visibility controls whether a message surfaces to the end user.
type Visibility string

const (
	VisibilityExternal Visibility = "external"
	VisibilityInternal Visibility = "internal"
)

// MessageType classifies stored messages.
type MessageType string

const (
	MessageTypeChat        MessageType = "user"
	MessageTypeA2ARequest  MessageType = "a2a-request"
	MessageTypeA2AResponse MessageType = "a2a-response"
)

// ConversationMessage is a persisted message in a conversation.
type ConversationMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Role           a2a.MessageRole `json:"role"`
	Parts          []a2a.Part      `json:"parts"`
	Visibility     Visibility      `json:"visibility"`
	MessageType    MessageType     `json:"messageType"`
	FromAgentID    string          `json:"fromAgentId,omitempty"`
	ToAgentID      string          `json:"toAgentId,omitempty"`
	TaskID         string          `json:"taskId,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// LedgerArtifact is a persisted artifact extracted from a tool result.
type LedgerArtifact struct {
	ArtifactID  string         `json:"artifactId"`
	TaskID      string         `json:"taskId"`
	ContextID   string         `json:"contextId"`
	ToolCallID  string         `json:"toolCallId,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type,omitempty"`
	Summary     map[string]any `json:"summary,omitempty"`
	Full        map[string]any `json:"full,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// PendingGeneration marks artifacts whose name and description still
	// need to be generated by the summarizer model.
	PendingGeneration bool      `json:"pendingGeneration,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// TaskRecord is a persisted task.
type TaskRecord struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	State     a2a.TaskState  `json:"state"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ArtifactQuery selects ledger artifacts.
type ArtifactQuery struct {
	ContextID  string
	TaskID     string
	ArtifactID string
}

// HistoryQuery selects conversation history for prompt assembly.
type HistoryQuery struct {
	ConversationID string
	Limit          int

	// IncludeInternal also returns internal-visibility messages (A2A
	// traffic); user-facing history excludes them.
	IncludeInternal bool

	// AgentID and TaskID narrow the query to messages involving one agent
	// or one task. Set together for scoped history; a message matches when
	// it satisfies either filter. Empty values match everything.
	AgentID string
	TaskID  string
}

// FullGraphDefinition bundles everything needed to run a graph turn.
type FullGraphDefinition struct {
	Graph              Graph
	Agents             map[string]*Agent
	Relations          []AgentRelation
	ExternalAgents     map[string]*ExternalAgent
	Tools              map[string][]*ToolServer
	DataComponents     map[string][]*DataComponent
	ArtifactComponents map[string][]*ArtifactComponent
}
