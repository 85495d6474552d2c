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

// Package history loads and trims conversation history for prompt
// assembly, honoring each agent's conversationHistoryConfig.
package history

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/storage"
)

const (
	// DefaultLimit caps the message count when the config leaves it unset.
	DefaultLimit = 50

	// DefaultMaxTokens caps the token budget when the config leaves it
	// unset. Roughly a quarter of a small context window, leaving room
	// for prompts and tool manifests.
	DefaultMaxTokens = 8000

	encodingName = "cl100k_base"
)

// Counter counts tokens using tiktoken, falling back to a bytes/4 estimate
// when the encoding cannot be loaded (for example, offline).
type Counter struct {
	enc *tiktoken.Tiktoken
}

func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		logger.GetLogger().Warn("Token encoding unavailable, using byte estimate", "error", err)
		return &Counter{}
	}
	return &Counter{enc: enc}
}

func (c *Counter) Count(text string) int {
	if c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Service fetches conversation history from storage and trims it to the
// agent's configured mode, message limit, and token budget.
type Service struct {
	store   storage.Store
	counter *Counter
}

func NewService(store storage.Store) *Service {
	return &Service{store: store, counter: NewCounter()}
}

// Scope identifies the turn loading history. AgentID and TaskID narrow
// scoped-mode queries to the executing agent's own traffic; other modes use
// only the conversation.
type Scope struct {
	ConversationID string
	AgentID        string
	TaskID         string
}

// Load returns the prior conversation as messages ready to prepend to the
// model request, oldest first. Mode none returns nothing; full includes
// internal agent-to-agent traffic; scoped returns user-visible messages
// that involve the scope's agent or task.
func (s *Service) Load(ctx context.Context, scope Scope, cfg *storage.ConversationHistoryConfig) ([]*a2a.Message, error) {
	if cfg == nil || cfg.Mode == storage.HistoryModeNone || scope.ConversationID == "" {
		return nil, nil
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := storage.HistoryQuery{
		ConversationID:  scope.ConversationID,
		Limit:           limit,
		IncludeInternal: cfg.Mode == storage.HistoryModeFull,
	}
	if cfg.Mode == storage.HistoryModeScoped {
		query.AgentID = scope.AgentID
		query.TaskID = scope.TaskID
	}

	records, err := s.store.GetFormattedConversationHistory(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading history for conversation %s: %w", scope.ConversationID, err)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	records = s.trimToBudget(records, maxTokens)

	messages := make([]*a2a.Message, 0, len(records))
	for _, rec := range records {
		messages = append(messages, &a2a.Message{
			MessageID: rec.ID,
			ContextID: rec.ConversationID,
			TaskID:    rec.TaskID,
			Role:      rec.Role,
			Parts:     rec.Parts,
		})
	}
	return messages, nil
}

// trimToBudget drops the oldest messages until the remainder fits the
// token budget. The most recent message is always kept, even oversized.
func (s *Service) trimToBudget(records []*storage.ConversationMessage, maxTokens int) []*storage.ConversationMessage {
	total := 0
	cut := len(records)
	for i := len(records) - 1; i >= 0; i-- {
		total += s.messageTokens(records[i])
		if total > maxTokens && i < len(records)-1 {
			break
		}
		cut = i
	}
	if cut > 0 {
		logger.GetLogger().Debug("Trimmed conversation history to token budget",
			"dropped", cut,
			"kept", len(records)-cut,
			"max_tokens", maxTokens)
	}
	return records[cut:]
}

func (s *Service) messageTokens(rec *storage.ConversationMessage) int {
	total := 0
	for _, p := range rec.Parts {
		switch p.Kind {
		case a2a.PartKindText:
			total += s.counter.Count(p.Text)
		case a2a.PartKindData:
			// Data parts are small reference records; charge a flat cost.
			total += 50
		}
	}
	return total
}
