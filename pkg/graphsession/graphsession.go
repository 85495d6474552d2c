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

// Package graphsession keeps an append-only activity log per stream
// request. Every significant action during a graph turn (tool executions,
// reasoning steps, transfers, delegations, artifact saves) is appended as a
// typed event, giving downstream consumers a coherent trace of the whole
// request even when it spans multiple agents.
package graphsession

import (
	"sync"
	"time"
)

// EventType enumerates the recorded activity kinds.
type EventType string

const (
	EventToolExecution      EventType = "tool_execution"
	EventAgentReasoning     EventType = "agent_reasoning"
	EventAgentGenerate      EventType = "agent_generate"
	EventTransfer           EventType = "transfer"
	EventDelegationSent     EventType = "delegation_sent"
	EventDelegationReturned EventType = "delegation_returned"
	EventArtifactSaved      EventType = "artifact_saved"
)

// Event is one entry in a stream request's activity log.
type Event struct {
	Type      EventType
	AgentID   string
	Timestamp time.Time
	Data      map[string]any
}

// Log is the process-wide registry of per-request event logs.
type Log struct {
	mu       sync.RWMutex
	sessions map[string][]Event
}

var (
	defaultLog  *Log
	defaultOnce sync.Once
)

// Default returns the process-wide log.
func Default() *Log {
	defaultOnce.Do(func() {
		defaultLog = New()
	})
	return defaultLog
}

// New creates an empty log registry.
func New() *Log {
	return &Log{sessions: make(map[string][]Event)}
}

// Append adds an event to the stream request's log. Appending to a request
// that has no log yet starts one; the log is strictly append-only.
func (l *Log) Append(streamRequestID string, eventType EventType, agentID string, data map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[streamRequestID] = append(l.sessions[streamRequestID], Event{
		Type:      eventType,
		AgentID:   agentID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Events returns a copy of the request's log in append order.
func (l *Log) Events(streamRequestID string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.sessions[streamRequestID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// EventsOfType returns the request's events of one type, in append order.
func (l *Log) EventsOfType(streamRequestID string, eventType EventType) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, e := range l.sessions[streamRequestID] {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// PendingArtifacts returns the artifact ids saved during the request that
// still await name/description generation.
func (l *Log) PendingArtifacts(streamRequestID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var ids []string
	for _, e := range l.sessions[streamRequestID] {
		if e.Type != EventArtifactSaved {
			continue
		}
		pending, _ := e.Data["pendingGeneration"].(bool)
		if !pending {
			continue
		}
		if id, ok := e.Data["artifactId"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// End discards the request's log.
func (l *Log) End(streamRequestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, streamRequestID)
}
