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

// Package ledger records raw tool results per stream request so that later
// steps of a turn (artifact extraction, delegation bookkeeping) can look
// them up by tool call id.
//
// The ledger is process-wide: agents, delegate handlers, and the response
// formatter all resolve the same instance. Sessions are keyed by stream
// request id and expire after a TTL so abandoned requests cannot leak
// memory.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/weavely/weave/pkg/logger"
)

const (
	// DefaultTTL is how long an idle session survives before the sweeper
	// removes it.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is how often expired sessions are collected.
	DefaultSweepInterval = 60 * time.Second
)

// Entry is one recorded tool execution.
type Entry struct {
	ToolCallID string
	ToolName   string
	Args       map[string]any
	Result     any
	Timestamp  time.Time
}

type session struct {
	id         string
	entries    map[string]*Entry
	order      []string
	lastAccess time.Time
}

// Ledger holds tool results for all live stream requests.
type Ledger struct {
	mu       sync.RWMutex
	sessions map[string]*session
	ttl      time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

var (
	defaultLedger *Ledger
	defaultOnce   sync.Once
)

// Default returns the process-wide ledger, creating it on first use.
func Default() *Ledger {
	defaultOnce.Do(func() {
		defaultLedger = New(DefaultTTL, DefaultSweepInterval)
	})
	return defaultLedger
}

// New creates a ledger with its sweeper running. Callers other than tests
// normally use Default.
func New(ttl, sweepInterval time.Duration) *Ledger {
	l := &Ledger{
		sessions: make(map[string]*session),
		ttl:      ttl,
		logger:   logger.GetLogger(),
		stop:     make(chan struct{}),
	}
	go l.sweep(sweepInterval)
	return l
}

// Create registers a session for the given stream request id. Creating a
// session that already exists resets it.
func (l *Ledger) Create(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[sessionID] = &session{
		id:         sessionID,
		entries:    make(map[string]*Entry),
		lastAccess: time.Now(),
	}
}

// Ensure registers the session if it does not exist yet. Existing entries
// are preserved.
func (l *Ledger) Ensure(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.sessions[sessionID]; ok {
		s.lastAccess = time.Now()
		return
	}
	l.sessions[sessionID] = &session{
		id:         sessionID,
		entries:    make(map[string]*Entry),
		lastAccess: time.Now(),
	}
}

// Record stores a tool result in the session. Writes to unknown sessions
// are logged and dropped rather than failing the tool call.
func (l *Ledger) Record(sessionID, toolCallID, toolName string, args map[string]any, result any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[sessionID]
	if !ok {
		l.logger.Warn("tool result recorded against unknown session",
			"session_id", sessionID, "tool_call_id", toolCallID, "tool", toolName)
		return
	}

	if _, exists := s.entries[toolCallID]; !exists {
		s.order = append(s.order, toolCallID)
	}
	s.entries[toolCallID] = &Entry{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Args:       args,
		Result:     result,
		Timestamp:  time.Now(),
	}
	s.lastAccess = time.Now()
}

// Get returns the entry for a tool call id within a session.
func (l *Ledger) Get(sessionID, toolCallID string) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[sessionID]
	if !ok {
		return nil, false
	}
	s.lastAccess = time.Now()
	e, ok := s.entries[toolCallID]
	return e, ok
}

// Session returns all entries of a session in recording order.
func (l *Ledger) Session(sessionID string) ([]*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[sessionID]
	if !ok {
		return nil, false
	}
	s.lastAccess = time.Now()

	entries := make([]*Entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.entries[id])
	}
	return entries, true
}

// End removes a session and its entries.
func (l *Ledger) End(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}

// Close stops the sweeper. Entries remain readable until expiry.
func (l *Ledger) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Ledger) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.expire(time.Now())
		}
	}
}

func (l *Ledger) expire(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, s := range l.sessions {
		if now.Sub(s.lastAccess) > l.ttl {
			l.logger.Debug("expiring idle tool session", "session_id", id, "entries", len(s.entries))
			delete(l.sessions, id)
		}
	}
}
