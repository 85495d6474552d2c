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
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu sync.RWMutex

	graphs             map[string]*Graph
	agents             map[string]*Agent // key: graphID/agentID
	relations          map[string][]AgentRelation
	externalAgents     map[string]*ExternalAgent
	tools              map[string][]*ToolServer
	dataComponents     map[string][]*DataComponent
	artifactComponents map[string][]*ArtifactComponent
	contextConfigs     map[string]*ContextConfig
	credentials        map[string]*CredentialReference

	artifacts map[string]*LedgerArtifact // key: taskID/artifactID
	tasks     map[string]*TaskRecord
	messages  []*ConversationMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		graphs:             make(map[string]*Graph),
		agents:             make(map[string]*Agent),
		relations:          make(map[string][]AgentRelation),
		externalAgents:     make(map[string]*ExternalAgent),
		tools:              make(map[string][]*ToolServer),
		dataComponents:     make(map[string][]*DataComponent),
		artifactComponents: make(map[string][]*ArtifactComponent),
		contextConfigs:     make(map[string]*ContextConfig),
		credentials:        make(map[string]*CredentialReference),
		artifacts:          make(map[string]*LedgerArtifact),
		tasks:              make(map[string]*TaskRecord),
	}
}

func agentKey(graphID, agentID string) string {
	return graphID + "/" + agentID
}

// ============================================================================
// SEEDING
// Setup helpers used by configuration loading and tests.
// ============================================================================

// AddGraph registers a graph.
func (s *MemoryStore) AddGraph(g *Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[g.ID] = g
}

// AddAgent registers an agent within its graph.
func (s *MemoryStore) AddAgent(a *Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentKey(a.GraphID, a.ID)] = a
}

// AddRelation registers a transfer or delegation edge.
func (s *MemoryStore) AddRelation(graphID string, r AgentRelation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations[graphID] = append(s.relations[graphID], r)
}

// AddExternalAgent registers an external agent.
func (s *MemoryStore) AddExternalAgent(e *ExternalAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.externalAgents[e.ID] = e
}

// AddToolServer attaches an MCP server to an agent.
func (s *MemoryStore) AddToolServer(graphID, agentID string, ts *ToolServer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := agentKey(graphID, agentID)
	s.tools[key] = append(s.tools[key], ts)
}

// AddDataComponent attaches a data component to an agent.
func (s *MemoryStore) AddDataComponent(graphID, agentID string, dc *DataComponent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := agentKey(graphID, agentID)
	s.dataComponents[key] = append(s.dataComponents[key], dc)
}

// AddArtifactComponent attaches an artifact component to an agent.
func (s *MemoryStore) AddArtifactComponent(graphID, agentID string, ac *ArtifactComponent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := agentKey(graphID, agentID)
	s.artifactComponents[key] = append(s.artifactComponents[key], ac)
}

// AddContextConfig registers a context config.
func (s *MemoryStore) AddContextConfig(cc *ContextConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextConfigs[cc.ID] = cc
}

// AddCredentialReference registers a credential reference.
func (s *MemoryStore) AddCredentialReference(cr *CredentialReference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[cr.ID] = cr
}

// ============================================================================
// STORE IMPLEMENTATION
// ============================================================================

func (s *MemoryStore) GetAgentByID(ctx context.Context, graphID, agentID string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentKey(graphID, agentID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return a, nil
}

func (s *MemoryStore) GetGraphByID(ctx context.Context, graphID string) (*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[graphID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}
	return g, nil
}

func (s *MemoryStore) GetRelatedAgentsForGraph(ctx context.Context, graphID, agentID string) ([]AgentRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AgentRelation
	for _, r := range s.relations[graphID] {
		if r.SourceAgentID == agentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetToolsForAgent(ctx context.Context, graphID, agentID string) ([]*ToolServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tools[agentKey(graphID, agentID)], nil
}

func (s *MemoryStore) GetDataComponentsForAgent(ctx context.Context, graphID, agentID string) ([]*DataComponent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataComponents[agentKey(graphID, agentID)], nil
}

func (s *MemoryStore) GetArtifactComponentsForAgent(ctx context.Context, graphID, agentID string) ([]*ArtifactComponent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifactComponents[agentKey(graphID, agentID)], nil
}

func (s *MemoryStore) GetContextConfigByID(ctx context.Context, id string) (*ContextConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cc, ok := s.contextConfigs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContextNotFound, id)
	}
	return cc, nil
}

func (s *MemoryStore) GetCredentialReference(ctx context.Context, id string) (*CredentialReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cr, ok := s.credentials[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}
	return cr, nil
}

func (s *MemoryStore) GetExternalAgent(ctx context.Context, id string) (*ExternalAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.externalAgents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExternalNotFound, id)
	}
	return e, nil
}

func (s *MemoryStore) GetFullGraphDefinition(ctx context.Context, graphID string) (*FullGraphDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}

	def := &FullGraphDefinition{
		Graph:              *g,
		Agents:             make(map[string]*Agent),
		Relations:          append([]AgentRelation(nil), s.relations[graphID]...),
		ExternalAgents:     make(map[string]*ExternalAgent),
		Tools:              make(map[string][]*ToolServer),
		DataComponents:     make(map[string][]*DataComponent),
		ArtifactComponents: make(map[string][]*ArtifactComponent),
	}
	for key, a := range s.agents {
		if a.GraphID == graphID {
			def.Agents[a.ID] = a
			def.Tools[a.ID] = s.tools[key]
			def.DataComponents[a.ID] = s.dataComponents[key]
			def.ArtifactComponents[a.ID] = s.artifactComponents[key]
		}
	}
	for _, r := range def.Relations {
		if r.ExternalAgentID != "" {
			if e, ok := s.externalAgents[r.ExternalAgentID]; ok {
				def.ExternalAgents[e.ID] = e
			}
		}
	}
	return def, nil
}

func (s *MemoryStore) GraphHasArtifactComponents(ctx context.Context, graphID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, a := range s.agents {
		if a.GraphID == graphID && len(s.artifactComponents[key]) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) GetLedgerArtifacts(ctx context.Context, q ArtifactQuery) ([]*LedgerArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*LedgerArtifact
	for _, a := range s.artifacts {
		if q.ArtifactID != "" && a.ArtifactID != q.ArtifactID {
			continue
		}
		if q.TaskID != "" && a.TaskID != q.TaskID {
			continue
		}
		if q.ContextID != "" && a.ContextID != q.ContextID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AddLedgerArtifacts(ctx context.Context, artifacts []*LedgerArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range artifacts {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
		s.artifacts[a.TaskID+"/"+a.ArtifactID] = a
	}
	return nil
}

func (s *MemoryStore) UpdateLedgerArtifact(ctx context.Context, artifact *LedgerArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifact.TaskID+"/"+artifact.ArtifactID] = artifact
	return nil
}

func (s *MemoryStore) GetConversationScopedArtifacts(ctx context.Context, contextID string) ([]*LedgerArtifact, error) {
	return s.GetLedgerArtifacts(ctx, ArtifactQuery{ContextID: contextID})
}

func (s *MemoryStore) ListTaskIDsByContextID(ctx context.Context, contextID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, t := range s.tasks {
		if t.ContextID == contextID {
			ids = append(ids, t.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t, nil
}

func (s *MemoryStore) UpsertTask(ctx context.Context, task *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *MemoryStore) SaveA2AMessageResponse(ctx context.Context, msg *ConversationMessage) error {
	if msg.MessageType == "" {
		msg.MessageType = MessageTypeA2AResponse
	}
	return s.CreateMessage(ctx, msg)
}

func (s *MemoryStore) GetFormattedConversationHistory(ctx context.Context, q HistoryQuery) ([]*ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ConversationMessage
	for _, m := range s.messages {
		if m.ConversationID != q.ConversationID {
			continue
		}
		if !q.IncludeInternal && m.Visibility == VisibilityInternal {
			continue
		}
		if !matchesScope(m, q.AgentID, q.TaskID) {
			continue
		}
		out = append(out, m)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func matchesScope(m *ConversationMessage, agentID, taskID string) bool {
	if agentID == "" && taskID == "" {
		return true
	}
	if agentID != "" && (m.FromAgentID == agentID || m.ToAgentID == agentID) {
		return true
	}
	if taskID != "" && m.TaskID == taskID {
		return true
	}
	return false
}

// Messages returns all stored messages; used by tests.
func (s *MemoryStore) Messages() []*ConversationMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ConversationMessage(nil), s.messages...)
}

var _ Store = (*MemoryStore)(nil)
