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

// Package contextresolver resolves a graph's context configuration into the
// template variables available to prompt rendering.
package contextresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/storage"
)

// Request describes one resolution.
type Request struct {
	ContextConfigID string
	ConversationID  string

	// Headers are the caller-supplied request headers, validated against
	// the context config's header schema when one is defined.
	Headers map[string]string
}

// Resolver produces the template variable map for a conversation.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (map[string]any, error)
}

// CachingResolver resolves against the store and caches per conversation,
// so repeated turns of the same conversation do not re-resolve. When header
// validation fails but a cached resolution exists, the cache is served and
// the failure logged.
type CachingResolver struct {
	store  storage.Store
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]map[string]any
}

// New creates a caching resolver over the store.
func New(store storage.Store) *CachingResolver {
	return &CachingResolver{
		store:  store,
		logger: logger.GetLogger(),
		cache:  make(map[string]map[string]any),
	}
}

// Resolve returns the variable map for the request. Without a context
// config id the map is empty but non-nil so rendering can proceed.
func (r *CachingResolver) Resolve(ctx context.Context, req Request) (map[string]any, error) {
	if req.ContextConfigID == "" {
		return map[string]any{}, nil
	}

	cfg, err := r.store.GetContextConfigByID(ctx, req.ContextConfigID)
	if err != nil {
		return nil, err
	}

	if err := r.validateHeaders(cfg, req.Headers); err != nil {
		if cached := r.cached(req.ConversationID); cached != nil {
			r.logger.Warn("header validation failed, serving cached context",
				"conversation_id", req.ConversationID, "error", err)
			return cached, nil
		}
		return nil, err
	}

	vars := make(map[string]any, len(cfg.ContextVariables)+1)
	for k, v := range cfg.ContextVariables {
		vars[k] = v
	}
	if len(req.Headers) > 0 {
		headers := make(map[string]any, len(req.Headers))
		for k, v := range req.Headers {
			headers[strings.ToLower(k)] = v
		}
		vars["headers"] = headers
	}

	r.mu.Lock()
	r.cache[req.ConversationID] = vars
	r.mu.Unlock()

	return vars, nil
}

func (r *CachingResolver) cached(conversationID string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[conversationID]
}

func (r *CachingResolver) validateHeaders(cfg *storage.ContextConfig, headers map[string]string) error {
	if len(cfg.HeadersSchema) == 0 {
		return nil
	}

	schemaJSON, err := json.Marshal(cfg.HeadersSchema)
	if err != nil {
		return fmt.Errorf("invalid headers schema: %w", err)
	}
	schema, err := jsonschema.CompileString("headers.json", string(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid headers schema: %w", err)
	}

	doc := make(map[string]any, len(headers))
	for k, v := range headers {
		doc[strings.ToLower(k)] = v
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("request headers failed validation: %w", err)
	}
	return nil
}

var _ Resolver = (*CachingResolver)(nil)
